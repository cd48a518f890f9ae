package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"corpusgrid/internal/fieldtype"
	"corpusgrid/internal/session"
	"corpusgrid/internal/util"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) InsertUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, user.ID, user.DisplayName, user.Email, user.Role)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// EnsureUserByName returns the user with the given display name, creating a
// viewer account with a derived local email when no such user exists yet.
func (s *PostgresStore) EnsureUserByName(ctx context.Context, name string) (User, error) {
	const findUser = `
		SELECT id, display_name, email, role, created_at, updated_at
		FROM users
		WHERE display_name=$1
	`
	var user User
	err := s.db.QueryRowContext(ctx, findUser, name).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.CreatedAt, &user.UpdatedAt)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	const insertUser = `
		INSERT INTO users (id, display_name, email, role)
		VALUES ($1, $2, CONCAT(LOWER(REPLACE($2, ' ', '.')), '@local.corpusgrid.dev'), $3)
		RETURNING id, display_name, email, role, created_at, updated_at
	`
	err = s.db.QueryRowContext(ctx, insertUser, util.NewID(""), name, "viewer").
		Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, role, created_at, updated_at
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, role, created_at, updated_at
		FROM users
		WHERE LOWER(email)=LOWER($1)
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, email, role, created_at, updated_at
		FROM users
		ORDER BY display_name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var item User
		if err := rows.Scan(&item.ID, &item.DisplayName, &item.Email, &item.Role, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListCorpora(ctx context.Context) ([]Corpus, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, owner_id, created_at, updated_at
		FROM corpora
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list corpora: %w", err)
	}
	defer rows.Close()
	return scanCorpora(rows)
}

func (s *PostgresStore) ListCorporaForUser(ctx context.Context, userID string) ([]Corpus, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.description, c.owner_id, c.created_at, c.updated_at
		FROM corpora c
		LEFT JOIN permissions p ON p.corpus_id = c.id AND p.user_id = $1
		WHERE c.owner_id = $1 OR p.user_id IS NOT NULL
		ORDER BY c.name ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list corpora for user: %w", err)
	}
	defer rows.Close()
	return scanCorpora(rows)
}

func scanCorpora(rows *sql.Rows) ([]Corpus, error) {
	items := make([]Corpus, 0)
	for rows.Next() {
		var item Corpus
		if err := rows.Scan(&item.ID, &item.Name, &item.Description, &item.OwnerID, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan corpus: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate corpora: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetCorpus(ctx context.Context, corpusID string) (Corpus, error) {
	var item Corpus
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, owner_id, created_at, updated_at
		FROM corpora
		WHERE id=$1
	`, corpusID).Scan(&item.ID, &item.Name, &item.Description, &item.OwnerID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Corpus{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertCorpus(ctx context.Context, item Corpus) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO corpora (id, name, description, owner_id)
		VALUES ($1, $2, $3, $4)
	`, item.ID, item.Name, item.Description, item.OwnerID)
	if err != nil {
		return fmt.Errorf("insert corpus: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateCorpus(ctx context.Context, corpusID, name, description string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE corpora SET name=$2, description=$3, updated_at=NOW() WHERE id=$1
	`, corpusID, name, description)
	if err != nil {
		return fmt.Errorf("update corpus: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteCorpus(ctx context.Context, corpusID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM corpora WHERE id=$1`, corpusID)
	if err != nil {
		return fmt.Errorf("delete corpus: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, corpusID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, corpus_id, title, file_key, file_name, file_size, mime_type, created_by, created_at, updated_at
		FROM documents
		WHERE corpus_id=$1
		ORDER BY created_at ASC
	`, corpusID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		var item Document
		if err := rows.Scan(&item.ID, &item.CorpusID, &item.Title, &item.FileKey, &item.FileName, &item.FileSize, &item.MimeType, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var item Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, corpus_id, title, file_key, file_name, file_size, mime_type, created_by, created_at, updated_at
		FROM documents
		WHERE id=$1
	`, documentID).Scan(&item.ID, &item.CorpusID, &item.Title, &item.FileKey, &item.FileName, &item.FileSize, &item.MimeType, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Document{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertDocument(ctx context.Context, item Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, corpus_id, title, created_by)
		VALUES ($1, $2, $3, $4)
	`, item.ID, item.CorpusID, item.Title, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateDocumentTitle(ctx context.Context, documentID, title string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET title=$2, updated_at=NOW() WHERE id=$1
	`, documentID, title)
	if err != nil {
		return fmt.Errorf("update document title: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetDocumentFile(ctx context.Context, documentID, fileKey, fileName string, fileSize int64, mimeType string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET file_key=$2, file_name=$3, file_size=$4, mime_type=$5, updated_at=NOW() WHERE id=$1
	`, documentID, fileKey, fileName, fileSize, mimeType)
	if err != nil {
		return fmt.Errorf("set document file: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, documentID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListColumns(ctx context.Context, corpusID string) ([]Column, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, corpus_id, name, data_type, help_text, validation, default_value, display_order, manual_entry, created_at, updated_at
		FROM columns
		WHERE corpus_id=$1
		ORDER BY display_order ASC, created_at ASC
	`, corpusID)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer rows.Close()

	items := make([]Column, 0)
	for rows.Next() {
		item, err := scanColumn(rows.Scan)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetColumn(ctx context.Context, columnID string) (Column, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, corpus_id, name, data_type, help_text, validation, default_value, display_order, manual_entry, created_at, updated_at
		FROM columns
		WHERE id=$1
	`, columnID)
	return scanColumn(row.Scan)
}

func scanColumn(scan func(dest ...any) error) (Column, error) {
	var (
		item          Column
		dataType      string
		validationRaw []byte
		defaultRaw    []byte
	)
	err := scan(&item.ID, &item.CorpusID, &item.Name, &dataType, &item.HelpText, &validationRaw, &defaultRaw, &item.DisplayOrder, &item.ManualEntry, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Column{}, err
	}
	item.DataType = fieldtype.DataType(dataType)
	if len(validationRaw) > 0 {
		if err := json.Unmarshal(validationRaw, &item.Validation); err != nil {
			return Column{}, fmt.Errorf("decode validation config: %w", err)
		}
	}
	if len(defaultRaw) > 0 {
		if err := json.Unmarshal(defaultRaw, &item.DefaultValue); err != nil {
			return Column{}, fmt.Errorf("decode default value: %w", err)
		}
	}
	return item, nil
}

func (s *PostgresStore) CountColumns(ctx context.Context, corpusID string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM columns WHERE corpus_id=$1`, corpusID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count columns: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ColumnNameExists(ctx context.Context, corpusID, name, excludeID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM columns WHERE corpus_id=$1 AND LOWER(name)=LOWER($2) AND id<>$3)
	`, corpusID, name, excludeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check column name: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) InsertColumn(ctx context.Context, item Column) error {
	validationJSON, err := json.Marshal(item.Validation)
	if err != nil {
		return fmt.Errorf("encode validation config: %w", err)
	}
	defaultParam, err := marshalNullableJSON(item.DefaultValue)
	if err != nil {
		return fmt.Errorf("encode default value: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO columns (id, corpus_id, name, data_type, help_text, validation, default_value, display_order, manual_entry)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8, $9)
	`, item.ID, item.CorpusID, item.Name, string(item.DataType), item.HelpText, string(validationJSON), defaultParam, item.DisplayOrder, item.ManualEntry)
	if err != nil {
		return fmt.Errorf("insert column: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateColumn(ctx context.Context, item Column) error {
	validationJSON, err := json.Marshal(item.Validation)
	if err != nil {
		return fmt.Errorf("encode validation config: %w", err)
	}
	defaultParam, err := marshalNullableJSON(item.DefaultValue)
	if err != nil {
		return fmt.Errorf("encode default value: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE columns
		SET name=$2, data_type=$3, help_text=$4, validation=$5::jsonb, default_value=$6::jsonb, display_order=$7, manual_entry=$8, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Name, string(item.DataType), item.HelpText, string(validationJSON), defaultParam, item.DisplayOrder, item.ManualEntry)
	if err != nil {
		return fmt.Errorf("update column: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteColumn(ctx context.Context, columnID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM columns WHERE id=$1`, columnID)
	if err != nil {
		return fmt.Errorf("delete column: %w", err)
	}
	return nil
}

// ReorderColumns renumbers display_order to the dense position of each
// id in orderedIDs. The whole renumbering happens in one transaction so
// a partial reorder is never visible.
func (s *PostgresStore) ReorderColumns(ctx context.Context, corpusID string, orderedIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reorder tx: %w", err)
	}

	for position, columnID := range orderedIDs {
		res, err := tx.ExecContext(ctx, `
			UPDATE columns SET display_order=$1, updated_at=NOW() WHERE id=$2 AND corpus_id=$3
		`, position, columnID, corpusID)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("reorder column %s: %w", columnID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("reorder column %s: %w", columnID, err)
		}
		if affected != 1 {
			_ = tx.Rollback()
			return fmt.Errorf("reorder column %s: not in corpus %s", columnID, corpusID)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reorder tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListCells(ctx context.Context, documentID string) ([]CellWithColumn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT dc.id, dc.document_id, dc.column_id, dc.value, dc.annotation, dc.created_by, dc.created_at, dc.updated_at,
		       col.id, col.corpus_id, col.name, col.data_type, col.help_text, col.validation, col.default_value, col.display_order, col.manual_entry, col.created_at, col.updated_at,
		       COALESCE(u.display_name, '')
		FROM datacells dc
		JOIN columns col ON col.id = dc.column_id
		LEFT JOIN users u ON u.id = dc.created_by
		WHERE dc.document_id=$1
		ORDER BY col.display_order ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list cells: %w", err)
	}
	defer rows.Close()
	return scanCellRows(rows)
}

func (s *PostgresStore) ListCorpusCells(ctx context.Context, corpusID string) ([]CellWithColumn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT dc.id, dc.document_id, dc.column_id, dc.value, dc.annotation, dc.created_by, dc.created_at, dc.updated_at,
		       col.id, col.corpus_id, col.name, col.data_type, col.help_text, col.validation, col.default_value, col.display_order, col.manual_entry, col.created_at, col.updated_at,
		       COALESCE(u.display_name, '')
		FROM datacells dc
		JOIN columns col ON col.id = dc.column_id
		JOIN documents d ON d.id = dc.document_id
		LEFT JOIN users u ON u.id = dc.created_by
		WHERE d.corpus_id=$1
		ORDER BY d.created_at ASC, col.display_order ASC
	`, corpusID)
	if err != nil {
		return nil, fmt.Errorf("list corpus cells: %w", err)
	}
	defer rows.Close()
	return scanCellRows(rows)
}

func scanCellRows(rows *sql.Rows) ([]CellWithColumn, error) {
	items := make([]CellWithColumn, 0)
	for rows.Next() {
		var (
			item          CellWithColumn
			valueRaw      []byte
			dataType      string
			validationRaw []byte
			defaultRaw    []byte
		)
		err := rows.Scan(
			&item.ID, &item.DocumentID, &item.ColumnID, &valueRaw, &item.Annotation, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt,
			&item.Column.ID, &item.Column.CorpusID, &item.Column.Name, &dataType, &item.Column.HelpText, &validationRaw, &defaultRaw, &item.Column.DisplayOrder, &item.Column.ManualEntry, &item.Column.CreatedAt, &item.Column.UpdatedAt,
			&item.CreatorName,
		)
		if err != nil {
			return nil, fmt.Errorf("scan cell: %w", err)
		}
		if len(valueRaw) > 0 {
			if err := json.Unmarshal(valueRaw, &item.Value); err != nil {
				return nil, fmt.Errorf("decode cell value: %w", err)
			}
		}
		item.Column.DataType = fieldtype.DataType(dataType)
		if len(validationRaw) > 0 {
			if err := json.Unmarshal(validationRaw, &item.Column.Validation); err != nil {
				return nil, fmt.Errorf("decode validation config: %w", err)
			}
		}
		if len(defaultRaw) > 0 {
			if err := json.Unmarshal(defaultRaw, &item.Column.DefaultValue); err != nil {
				return nil, fmt.Errorf("decode default value: %w", err)
			}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cells: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetCell(ctx context.Context, documentID, columnID string) (Datacell, error) {
	var (
		item     Datacell
		valueRaw []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, column_id, value, annotation, created_by, created_at, updated_at
		FROM datacells
		WHERE document_id=$1 AND column_id=$2
	`, documentID, columnID).Scan(&item.ID, &item.DocumentID, &item.ColumnID, &valueRaw, &item.Annotation, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Datacell{}, err
	}
	if len(valueRaw) > 0 {
		if err := json.Unmarshal(valueRaw, &item.Value); err != nil {
			return Datacell{}, fmt.Errorf("decode cell value: %w", err)
		}
	}
	return item, nil
}

// UpsertCell writes the cell for (document, column), creating it on
// first write. When the incoming value and annotation equal the stored
// ones the row is left untouched, so repeated submits of an unchanged
// value do not move updated_at.
func (s *PostgresStore) UpsertCell(ctx context.Context, item Datacell) (Datacell, error) {
	valueJSON, err := json.Marshal(item.Value)
	if err != nil {
		return Datacell{}, fmt.Errorf("encode cell value: %w", err)
	}

	var (
		saved    Datacell
		valueRaw []byte
	)
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO datacells (id, document_id, column_id, value, annotation, created_by)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6)
		ON CONFLICT (document_id, column_id) DO UPDATE
		SET value=EXCLUDED.value, annotation=EXCLUDED.annotation, updated_at=NOW()
		WHERE datacells.value IS DISTINCT FROM EXCLUDED.value OR datacells.annotation IS DISTINCT FROM EXCLUDED.annotation
		RETURNING id, document_id, column_id, value, annotation, created_by, created_at, updated_at
	`, item.ID, item.DocumentID, item.ColumnID, string(valueJSON), item.Annotation, item.CreatedBy).Scan(
		&saved.ID, &saved.DocumentID, &saved.ColumnID, &valueRaw, &saved.Annotation, &saved.CreatedBy, &saved.CreatedAt, &saved.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		// unchanged value, the guarded update matched nothing
		return s.GetCell(ctx, item.DocumentID, item.ColumnID)
	}
	if err != nil {
		return Datacell{}, fmt.Errorf("upsert cell: %w", err)
	}
	if len(valueRaw) > 0 {
		if err := json.Unmarshal(valueRaw, &saved.Value); err != nil {
			return Datacell{}, fmt.Errorf("decode cell value: %w", err)
		}
	}
	return saved, nil
}

func (s *PostgresStore) DeleteCell(ctx context.Context, documentID, columnID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM datacells WHERE document_id=$1 AND column_id=$2`, documentID, columnID)
	if err != nil {
		return fmt.Errorf("delete cell: %w", err)
	}
	return nil
}

// ListCellIDsForColumn returns the ids of all cells under a column,
// used to clear the search index before the column cascade-deletes them.
func (s *PostgresStore) ListCellIDsForColumn(ctx context.Context, columnID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM datacells WHERE column_id=$1`, columnID)
	if err != nil {
		return nil, fmt.Errorf("list cell ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan cell id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) ListNotes(ctx context.Context, corpusID string) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT n.id, n.corpus_id, COALESCE(n.document_id, ''), n.title, n.created_by, n.created_at, n.updated_at, u.display_name
		FROM notes n
		JOIN users u ON u.id = n.created_by
		WHERE n.corpus_id=$1
		ORDER BY n.updated_at DESC
	`, corpusID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	items := make([]Note, 0)
	for rows.Next() {
		var item Note
		if err := rows.Scan(&item.ID, &item.CorpusID, &item.DocumentID, &item.Title, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt, &item.CreatorName); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notes: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetNote(ctx context.Context, noteID string) (Note, error) {
	var item Note
	err := s.db.QueryRowContext(ctx, `
		SELECT n.id, n.corpus_id, COALESCE(n.document_id, ''), n.title, n.created_by, n.created_at, n.updated_at, u.display_name
		FROM notes n
		JOIN users u ON u.id = n.created_by
		WHERE n.id=$1
	`, noteID).Scan(&item.ID, &item.CorpusID, &item.DocumentID, &item.Title, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt, &item.CreatorName)
	if err != nil {
		return Note{}, fmt.Errorf("get note: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) InsertNote(ctx context.Context, item Note) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notes (id, corpus_id, document_id, title, created_by)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)
	`, item.ID, item.CorpusID, item.DocumentID, item.Title, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateNoteTitle(ctx context.Context, noteID, title string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notes SET title=$2, updated_at=NOW() WHERE id=$1
	`, noteID, title)
	if err != nil {
		return fmt.Errorf("update note title: %w", err)
	}
	return nil
}

// TouchNote bumps updated_at after a body commit so listings sort by
// last activity.
func (s *PostgresStore) TouchNote(ctx context.Context, noteID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE notes SET updated_at=NOW() WHERE id=$1`, noteID)
	if err != nil {
		return fmt.Errorf("touch note: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteNote(ctx context.Context, noteID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id=$1`, noteID)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListPermissions(ctx context.Context, corpusID string) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.corpus_id, p.user_id, p.role, p.granted_by, p.granted_at, u.email, u.display_name
		FROM permissions p
		JOIN users u ON u.id = p.user_id
		WHERE p.corpus_id=$1
		ORDER BY u.display_name ASC
	`, corpusID)
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	defer rows.Close()

	items := make([]Permission, 0)
	for rows.Next() {
		var item Permission
		if err := rows.Scan(&item.ID, &item.CorpusID, &item.UserID, &item.Role, &item.GrantedBy, &item.GrantedAt, &item.UserEmail, &item.UserName); err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate permissions: %w", err)
	}
	return items, nil
}

// GetCorpusRole returns the granted role for a user in a corpus, or ""
// when no grant exists.
func (s *PostgresStore) GetCorpusRole(ctx context.Context, corpusID, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT role FROM permissions WHERE corpus_id=$1 AND user_id=$2
	`, corpusID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read corpus role: %w", err)
	}
	return role, nil
}

func (s *PostgresStore) UpsertPermission(ctx context.Context, item Permission) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permissions (id, corpus_id, user_id, role, granted_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (corpus_id, user_id) DO UPDATE SET role=EXCLUDED.role, granted_by=EXCLUDED.granted_by, granted_at=NOW()
	`, item.ID, item.CorpusID, item.UserID, item.Role, item.GrantedBy)
	if err != nil {
		return fmt.Errorf("upsert permission: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeletePermission(ctx context.Context, corpusID, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM permissions WHERE corpus_id=$1 AND user_id=$2`, corpusID, userID)
	if err != nil {
		return fmt.Errorf("delete permission: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertAPIKey(ctx context.Context, item APIKey) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, user_id, name, secret_hash)
		VALUES ($1, $2, $3, $4)
	`, item.ID, item.UserID, item.Name, item.SecretHash)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAPIKey(ctx context.Context, keyID string) (APIKey, error) {
	var item APIKey
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, secret_hash, created_at, last_used_at
		FROM api_keys
		WHERE id=$1
	`, keyID).Scan(&item.ID, &item.UserID, &item.Name, &item.SecretHash, &item.CreatedAt, &item.LastUsedAt)
	if err != nil {
		return APIKey{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, userID string) ([]APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, secret_hash, created_at, last_used_at
		FROM api_keys
		WHERE user_id=$1
		ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	items := make([]APIKey, 0)
	for rows.Next() {
		var item APIKey
		if err := rows.Scan(&item.ID, &item.UserID, &item.Name, &item.SecretHash, &item.CreatedAt, &item.LastUsedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate api keys: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DeleteAPIKey(ctx context.Context, keyID, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id=$1 AND user_id=$2`, keyID, userID)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) TouchAPIKey(ctx context.Context, keyID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at=NOW() WHERE id=$1`, keyID)
	if err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM refresh_sessions
		WHERE token_hash=$1 AND revoked_at IS NULL AND expires_at > NOW()
	`, tokenHash).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", session.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup refresh session: %w", err)
	}
	return userID, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func marshalNullableJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}
