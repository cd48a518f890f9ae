package export

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetCorpus(ctx context.Context, id string) (CorpusInfo, error)
	ListColumns(ctx context.Context, corpusID string) ([]ColumnInfo, error)
	ListDocuments(ctx context.Context, corpusID string) ([]DocumentInfo, error)
	ListCells(ctx context.Context, corpusID string) ([]CellInfo, error)
}

// Grid is the assembled export table: columns in display order, one
// row per document, values aligned with the column slice.
type Grid struct {
	CorpusName  string
	GeneratedAt time.Time
	Columns     []ColumnInfo
	Rows        []GridRow
}

// GridRow is one document's row of display values
type GridRow struct {
	DocumentID string
	Title      string
	Values     []string
}

// Service provides corpus grid export functionality
type Service struct {
	store DataStore
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	grid, err := s.buildGrid(ctx, req.CorpusID)
	if err != nil {
		return nil, err
	}

	switch req.Format {
	case FormatCSV:
		return exportCSV(grid)
	case FormatPDF:
		html, err := RenderGridHTML(grid)
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		return exportPDF(html, grid.CorpusName, len(grid.Columns))
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}

// buildGrid loads the corpus, its columns, documents, and cells and
// assembles them into rows of display values.
func (s *Service) buildGrid(ctx context.Context, corpusID string) (Grid, error) {
	corpus, err := s.store.GetCorpus(ctx, corpusID)
	if err != nil {
		return Grid{}, fmt.Errorf("get corpus: %w", err)
	}

	columns, err := s.store.ListColumns(ctx, corpusID)
	if err != nil {
		return Grid{}, fmt.Errorf("list columns: %w", err)
	}
	sort.SliceStable(columns, func(i, j int) bool {
		return columns[i].DisplayOrder < columns[j].DisplayOrder
	})

	documents, err := s.store.ListDocuments(ctx, corpusID)
	if err != nil {
		return Grid{}, fmt.Errorf("list documents: %w", err)
	}

	cells, err := s.store.ListCells(ctx, corpusID)
	if err != nil {
		return Grid{}, fmt.Errorf("list cells: %w", err)
	}

	type cellKey struct {
		documentID string
		columnID   string
	}
	byKey := make(map[cellKey]CellInfo, len(cells))
	for _, c := range cells {
		byKey[cellKey{c.DocumentID, c.ColumnID}] = c
	}

	rows := make([]GridRow, 0, len(documents))
	for _, doc := range documents {
		row := GridRow{
			DocumentID: doc.ID,
			Title:      doc.Title,
			Values:     make([]string, 0, len(columns)),
		}
		for _, col := range columns {
			cell, ok := byKey[cellKey{doc.ID, col.ID}]
			if !ok {
				row.Values = append(row.Values, "")
				continue
			}
			row.Values = append(row.Values, DisplayValue(col.DataType, cell.Value))
		}
		rows = append(rows, row)
	}

	return Grid{
		CorpusName:  corpus.Name,
		GeneratedAt: time.Now(),
		Columns:     columns,
		Rows:        rows,
	}, nil
}
