package store

import (
	"context"
	"errors"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"corpusgrid/internal/fieldtype"
)

// TestGridSchemaRoundTrip exercises the column and cell tables end to
// end: config round-trip, upsert idempotence, dense reorder, and the
// cascade from column deletion to cells.
func TestGridSchemaRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := Open(ctx, getTestDatabaseURL(t), 5)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := ApplyMigrations(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	s := NewPostgresStore(db)

	if err := s.InsertUser(ctx, User{ID: "user_1", DisplayName: "Avery", Email: "avery@example.com", Role: "member"}); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	if err := s.InsertCorpus(ctx, Corpus{ID: "cor_1", Name: "Letters", OwnerID: "user_1"}); err != nil {
		t.Fatalf("insert corpus: %v", err)
	}
	if err := s.InsertDocument(ctx, Document{ID: "doc_1", CorpusID: "cor_1", Title: "First letter", CreatedBy: "user_1"}); err != nil {
		t.Fatalf("insert document: %v", err)
	}

	maxLen := 80
	col := Column{
		ID:       "col_1",
		CorpusID: "cor_1",
		Name:     "Priority",
		DataType: fieldtype.TypeChoice,
		HelpText: "triage priority",
		Validation: fieldtype.Config{
			Required:  true,
			MaxLength: &maxLen,
			Choices:   []string{"High", "Medium", "Low"},
		},
		DefaultValue: "Medium",
		DisplayOrder: 0,
		ManualEntry:  true,
	}
	if err := s.InsertColumn(ctx, col); err != nil {
		t.Fatalf("insert column: %v", err)
	}
	fetched, err := s.GetColumn(ctx, "col_1")
	if err != nil {
		t.Fatalf("get column: %v", err)
	}
	if !reflect.DeepEqual(fetched.Validation, col.Validation) {
		t.Fatalf("validation config round trip: got %+v, want %+v", fetched.Validation, col.Validation)
	}
	if fetched.DefaultValue != "Medium" {
		t.Fatalf("default value round trip: got %v", fetched.DefaultValue)
	}
	if fetched.DataType != fieldtype.TypeChoice || !fetched.ManualEntry {
		t.Fatalf("column fields round trip: %+v", fetched)
	}

	if err := s.InsertColumn(ctx, Column{ID: "col_2", CorpusID: "cor_1", Name: "Pages", DataType: fieldtype.TypeInteger, DisplayOrder: 1, ManualEntry: true}); err != nil {
		t.Fatalf("insert column 2: %v", err)
	}
	if err := s.InsertColumn(ctx, Column{ID: "col_3", CorpusID: "cor_1", Name: "Archived", DataType: fieldtype.TypeBoolean, DisplayOrder: 2, ManualEntry: true}); err != nil {
		t.Fatalf("insert column 3: %v", err)
	}

	first, err := s.UpsertCell(ctx, Datacell{ID: "cell_1", DocumentID: "doc_1", ColumnID: "col_1", Value: "High", CreatedBy: "user_1"})
	if err != nil {
		t.Fatalf("upsert cell: %v", err)
	}
	if first.Value != "High" {
		t.Fatalf("stored value = %v, want High", first.Value)
	}

	// same value again: row untouched, updated_at does not move
	second, err := s.UpsertCell(ctx, Datacell{ID: "cell_ignored", DocumentID: "doc_1", ColumnID: "col_1", Value: "High", CreatedBy: "user_1"})
	if err != nil {
		t.Fatalf("upsert unchanged cell: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("cell id changed on unchanged upsert: %s -> %s", first.ID, second.ID)
	}
	if !second.UpdatedAt.Equal(first.UpdatedAt) {
		t.Fatalf("updated_at moved on unchanged upsert: %v -> %v", first.UpdatedAt, second.UpdatedAt)
	}

	// changed value rewrites in place under the same id
	third, err := s.UpsertCell(ctx, Datacell{ID: "cell_other", DocumentID: "doc_1", ColumnID: "col_1", Value: "Low", CreatedBy: "user_1"})
	if err != nil {
		t.Fatalf("upsert changed cell: %v", err)
	}
	if third.ID != first.ID || third.Value != "Low" {
		t.Fatalf("changed upsert: got id=%s value=%v", third.ID, third.Value)
	}

	if _, err := s.UpsertCell(ctx, Datacell{ID: "cell_2", DocumentID: "doc_1", ColumnID: "col_2", Value: float64(12), CreatedBy: "user_1"}); err != nil {
		t.Fatalf("upsert second cell: %v", err)
	}

	// reorder renumbers display_order densely in list order
	if err := s.ReorderColumns(ctx, "cor_1", []string{"col_2", "col_1", "col_3"}); err != nil {
		t.Fatalf("reorder columns: %v", err)
	}
	ordered, err := s.ListColumns(ctx, "cor_1")
	if err != nil {
		t.Fatalf("list columns: %v", err)
	}
	wantOrder := []string{"col_2", "col_1", "col_3"}
	for i, c := range ordered {
		if c.ID != wantOrder[i] || c.DisplayOrder != i {
			t.Fatalf("position %d: got id=%s order=%d, want id=%s order=%d", i, c.ID, c.DisplayOrder, wantOrder[i], i)
		}
	}

	// reorder with a foreign column rolls back entirely
	if err := s.ReorderColumns(ctx, "cor_1", []string{"col_3", "col_x", "col_1"}); err == nil {
		t.Fatal("reorder with unknown column succeeded, want error")
	}
	ordered, err = s.ListColumns(ctx, "cor_1")
	if err != nil {
		t.Fatalf("list columns after failed reorder: %v", err)
	}
	for i, c := range ordered {
		if c.ID != wantOrder[i] {
			t.Fatalf("failed reorder leaked: position %d is %s, want %s", i, c.ID, wantOrder[i])
		}
	}

	// deleting a column cascades to its cells
	if err := s.DeleteColumn(ctx, "col_1"); err != nil {
		t.Fatalf("delete column: %v", err)
	}
	cells, err := s.ListCells(ctx, "doc_1")
	if err != nil {
		t.Fatalf("list cells: %v", err)
	}
	if len(cells) != 1 || cells[0].ColumnID != "col_2" {
		t.Fatalf("cascade failed, remaining cells: %+v", cells)
	}

	// permission upsert replaces the role in place
	if err := s.InsertUser(ctx, User{ID: "user_2", DisplayName: "Brook", Email: "brook@example.com", Role: "member"}); err != nil {
		t.Fatalf("insert second user: %v", err)
	}
	if err := s.UpsertPermission(ctx, Permission{ID: "perm_1", CorpusID: "cor_1", UserID: "user_2", Role: "viewer", GrantedBy: "user_1"}); err != nil {
		t.Fatalf("grant viewer: %v", err)
	}
	if err := s.UpsertPermission(ctx, Permission{ID: "perm_dup", CorpusID: "cor_1", UserID: "user_2", Role: "maintainer", GrantedBy: "user_1"}); err != nil {
		t.Fatalf("regrant maintainer: %v", err)
	}
	role, err := s.GetCorpusRole(ctx, "cor_1", "user_2")
	if err != nil {
		t.Fatalf("get corpus role: %v", err)
	}
	if role != "maintainer" {
		t.Fatalf("role = %q, want maintainer", role)
	}
}

// TestDatacellUniquePairEnforced verifies the database rejects a second
// row for the same (document, column) pair when the upsert path is
// bypassed.
func TestDatacellUniquePairEnforced(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := Open(ctx, getTestDatabaseURL(t), 5)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := ApplyMigrations(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	seed := []string{
		`INSERT INTO users (id, display_name, email) VALUES ('user_1', 'Avery', 'avery@example.com')`,
		`INSERT INTO corpora (id, name, owner_id) VALUES ('cor_1', 'Letters', 'user_1')`,
		`INSERT INTO documents (id, corpus_id, title, created_by) VALUES ('doc_1', 'cor_1', 'First', 'user_1')`,
		`INSERT INTO columns (id, corpus_id, name, data_type) VALUES ('col_1', 'cor_1', 'Priority', 'STRING')`,
		`INSERT INTO datacells (id, document_id, column_id, value, created_by) VALUES ('cell_1', 'doc_1', 'col_1', '"High"'::jsonb, 'user_1')`,
	}
	for _, stmt := range seed {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("seed %q: %v", stmt, err)
		}
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO datacells (id, document_id, column_id, value, created_by)
		VALUES ('cell_2', 'doc_1', 'col_1', '"Low"'::jsonb, 'user_1')
	`)
	if err == nil {
		t.Fatal("duplicate (document, column) insert succeeded, want unique violation")
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		t.Fatalf("expected PostgreSQL error, got: %v", err)
	}
	if pgErr.SQLState() != "23505" {
		t.Fatalf("expected SQLSTATE 23505 (unique_violation), got: %s", pgErr.SQLState())
	}
}

// getTestDatabaseURL returns the database URL for integration tests,
// preferring GRID_TEST_DATABASE_URL and falling back to the standard
// Postgres environment variables.
func getTestDatabaseURL(t *testing.T) string {
	t.Helper()

	if url := getenv("GRID_TEST_DATABASE_URL", ""); url != "" {
		return url
	}

	host := getenv("POSTGRES_HOST", "localhost")
	port := getenv("POSTGRES_PORT", "5432")
	user := getenv("POSTGRES_USER", "grid")
	pass := getenv("POSTGRES_PASSWORD", "grid")
	dbname := getenv("POSTGRES_DB", "corpusgrid_test")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + dbname + "?sslmode=disable"
}

func getenv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
