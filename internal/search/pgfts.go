package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a
// fallback. Notes live outside Postgres, so the fallback covers
// documents and cells only.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across documents and datacells
// using plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultDocument {
		docWhere := "d.fts @@ " + tsQuery
		if q.FilterCorpusID != "" {
			docWhere += fmt.Sprintf(" AND d.corpus_id = $%d", argN)
			args = append(args, q.FilterCorpusID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'document'::text AS type, d.id, d.title,
				ts_headline('english', coalesce(d.file_name, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				d.id AS document_id, d.corpus_id,
				ts_rank(d.fts, %s) AS rank
			FROM documents d
			WHERE %s`, tsQuery, tsQuery, docWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultCell {
		cellWhere := "dc.fts @@ " + tsQuery
		if q.FilterCorpusID != "" {
			cellWhere += fmt.Sprintf(" AND col.corpus_id = $%d", argN)
			args = append(args, q.FilterCorpusID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'cell'::text AS type, dc.id, col.name AS title,
				ts_headline('english', dc.value::text, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				dc.document_id, col.corpus_id,
				ts_rank(dc.fts, %s) AS rank
			FROM datacells dc
			JOIN columns col ON col.id = dc.column_id
			WHERE %s`, tsQuery, tsQuery, cellWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, document_id, corpus_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.DocumentID, &r.CorpusID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all indexable rows for full reindexing. Notes
// are not included; they are indexed when saved.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DocumentRecord, []CellRecord, error) {
	docRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, file_name, corpus_id
		FROM documents
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load documents: %w", err)
	}
	defer docRows.Close()

	documents := make([]DocumentRecord, 0)
	for docRows.Next() {
		var d DocumentRecord
		if err := docRows.Scan(&d.ID, &d.Title, &d.FileName, &d.CorpusID); err != nil {
			return nil, nil, fmt.Errorf("scan document: %w", err)
		}
		documents = append(documents, d)
	}
	if err := docRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate documents: %w", err)
	}

	cellRows, err := p.db.QueryContext(ctx, `
		SELECT dc.id, col.name, dc.value::text, dc.document_id, col.corpus_id
		FROM datacells dc
		JOIN columns col ON col.id = dc.column_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load cells: %w", err)
	}
	defer cellRows.Close()

	cells := make([]CellRecord, 0)
	for cellRows.Next() {
		var c CellRecord
		if err := cellRows.Scan(&c.ID, &c.ColumnName, &c.ValueText, &c.DocumentID, &c.CorpusID); err != nil {
			return nil, nil, fmt.Errorf("scan cell: %w", err)
		}
		cells = append(cells, c)
	}
	if err := cellRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate cells: %w", err)
	}

	return documents, cells, nil
}
