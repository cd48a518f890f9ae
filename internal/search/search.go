package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultDocument ResultType = "document"
	ResultCell     ResultType = "cell"
	ResultNote     ResultType = "note"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	DocumentID string     `json:"documentId"`
	CorpusID   string     `json:"corpusId"`
}

// Query describes a search request. Callers scope it to a corpus the
// user may read before it reaches a backend.
type Query struct {
	Text           string
	FilterType     ResultType // empty = all types
	FilterCorpusID string
	Limit          int
	Offset         int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexDocument(doc DocumentRecord) error
	IndexCell(c CellRecord) error
	IndexNote(n NoteRecord) error
	DeleteDocument(id string) error
	DeleteCell(id string) error
	DeleteCells(ids []string) error
	DeleteNote(id string) error
}

// DocumentRecord is the data we index for a document.
type DocumentRecord struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	FileName string `json:"fileName"`
	CorpusID string `json:"corpusId"`
}

// CellRecord is the data we index for one metadata value.
type CellRecord struct {
	ID         string `json:"id"`
	ColumnName string `json:"columnName"`
	ValueText  string `json:"valueText"`
	DocumentID string `json:"documentId"`
	CorpusID   string `json:"corpusId"`
}

// NoteRecord is the data we index for a note. Body is the head revision
// of the note's git-backed content.
type NoteRecord struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	DocumentID string `json:"documentId"`
	CorpusID   string `json:"corpusId"`
}
