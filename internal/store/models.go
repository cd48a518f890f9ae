package store

import (
	"time"

	"corpusgrid/internal/fieldtype"
)

type User struct {
	ID          string
	DisplayName string
	Email       string
	Role        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Corpus struct {
	ID          string
	Name        string
	Description string
	OwnerID     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Document struct {
	ID        string
	CorpusID  string
	Title     string
	FileKey   string
	FileName  string
	FileSize  int64
	MimeType  string
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Column is a user-defined metadata field scoped to one corpus. Name is
// unique within the corpus and DisplayOrder is kept dense 0..N-1 by
// the reorder operation.
type Column struct {
	ID           string
	CorpusID     string
	Name         string
	DataType     fieldtype.DataType
	HelpText     string
	Validation   fieldtype.Config
	DefaultValue any
	DisplayOrder int
	ManualEntry  bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Datacell stores the value of one column for one document. At most one
// row exists per (document, column) pair; deleting the column cascades.
type Datacell struct {
	ID         string
	DocumentID string
	ColumnID   string
	Value      any
	Annotation string
	CreatedBy  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CellWithColumn is the joined row the grid fetch returns: the stored
// value together with its column definition and creator display name.
type CellWithColumn struct {
	Datacell
	Column      Column
	CreatorName string
}

// Note is the metadata row for a note; the body lives in a per-note
// git repository keyed by the note id.
type Note struct {
	ID         string
	CorpusID   string
	DocumentID string
	Title      string
	CreatedBy  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	// Joined field for API responses
	CreatorName string
}

type Permission struct {
	ID        string
	CorpusID  string
	UserID    string
	Role      string
	GrantedBy string
	GrantedAt time.Time
	// Joined fields for API responses
	UserEmail string
	UserName  string
}

type APIKey struct {
	ID         string
	UserID     string
	Name       string
	SecretHash string
	CreatedAt  time.Time
	LastUsedAt *time.Time
}
