// Package export renders a corpus grid to CSV and PDF.
package export

import (
	"errors"
	"time"

	"corpusgrid/internal/fieldtype"
)

// Format represents the export output format
type Format string

const (
	FormatCSV Format = "csv"
	FormatPDF Format = "pdf"
)

// Request contains parameters for an export operation
type Request struct {
	CorpusID string
	Format   Format
}

// CorpusInfo holds corpus metadata
type CorpusInfo struct {
	ID   string
	Name string
}

// ColumnInfo holds the column metadata the grid needs
type ColumnInfo struct {
	ID           string
	Name         string
	DataType     fieldtype.DataType
	DisplayOrder int
}

// DocumentInfo holds document metadata for one grid row
type DocumentInfo struct {
	ID        string
	Title     string
	CreatedAt time.Time
}

// CellInfo holds one stored cell value
type CellInfo struct {
	DocumentID string
	ColumnID   string
	Value      any
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
