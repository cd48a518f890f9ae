package search

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxDocuments = "corpusgrid_documents"
	idxCells     = "corpusgrid_cells"
	idxNotes     = "corpusgrid_notes"
)

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes.
// The client starts unhealthy if the initial connection fails and the
// background monitor brings it back once the server is reachable.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		primaryKey string
		filterable []string
		searchable []string
	}{
		{
			uid:        idxDocuments,
			primaryKey: "id",
			filterable: []string{"corpusId"},
			searchable: []string{"title", "fileName"},
		},
		{
			uid:        idxCells,
			primaryKey: "id",
			filterable: []string{"corpusId", "documentId"},
			searchable: []string{"columnName", "valueText"},
		},
		{
			uid:        idxNotes,
			primaryKey: "id",
			filterable: []string{"corpusId", "documentId"},
			searchable: []string{"title", "body"},
		},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: idx.primaryKey,
		}); err != nil {
			log.Printf("search: create index %s (may already exist): %v", idx.uid, err)
		}

		index := m.client.Index(idx.uid)
		filterableInterface := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterableInterface[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterableInterface); err != nil {
			log.Printf("search: update filterable attrs for %s: %v", idx.uid, err)
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			log.Printf("search: update searchable attrs for %s: %v", idx.uid, err)
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries all three indexes (or a filtered subset), merges the
// hits by ranking score, and caps the merged list at the query limit.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	var queries []*meili.SearchRequest
	targetIndexes := []struct {
		uid  string
		rtyp ResultType
	}{
		{idxDocuments, ResultDocument},
		{idxCells, ResultCell},
		{idxNotes, ResultNote},
	}

	for _, ti := range targetIndexes {
		if q.FilterType != "" && q.FilterType != ti.rtyp {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              ti.uid,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
			ShowRankingScore:      true,
		}

		if q.FilterCorpusID != "" {
			sr.Filter = []string{fmt.Sprintf("corpusId = %q", q.FilterCorpusID)}
		}
		queries = append(queries, sr)
	}

	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: queries,
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	// Each index answers separately; merge by ranking score so a strong
	// cell match beats a weak document match, and re-apply the limit
	// the per-index queries each used in full.
	type scoredResult struct {
		result Result
		score  float64
	}
	var scored []scoredResult
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			scored = append(scored, scoredResult{hitToResult(hit, rtyp), decodeScore(hit)})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})
	if len(scored) > int(limit) {
		scored = scored[:limit]
	}

	results := make([]Result, len(scored))
	for i, sc := range scored {
		results[i] = sc.result
	}
	return results, total, nil
}

func decodeScore(hit meili.Hit) float64 {
	raw, ok := hit["_rankingScore"]
	if !ok {
		return 0
	}
	var score float64
	if err := json.Unmarshal(raw, &score); err != nil {
		return 0
	}
	return score
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxDocuments:
		return ResultDocument
	case idxCells:
		return ResultCell
	case idxNotes:
		return ResultNote
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{Type: rtyp}
	r.ID = decodeString(hit, "id")
	r.DocumentID = decodeString(hit, "documentId")
	r.CorpusID = decodeString(hit, "corpusId")

	switch rtyp {
	case ResultDocument:
		r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "fileName"), decodeString(hit, "fileName"))
		r.DocumentID = r.ID // document's own ID
	case ResultCell:
		r.Title = firstNonBlank(decodeFormattedString(hit, "columnName"), decodeString(hit, "columnName"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "valueText"), decodeString(hit, "valueText"))
	case ResultNote:
		r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "body"), decodeString(hit, "body"))
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexDocument adds or updates a document in the search index.
func (m *Meili) IndexDocument(doc DocumentRecord) error {
	_, err := m.client.Index(idxDocuments).AddDocuments([]DocumentRecord{doc}, nil)
	return err
}

// IndexCell adds or updates a cell value in the search index.
func (m *Meili) IndexCell(c CellRecord) error {
	_, err := m.client.Index(idxCells).AddDocuments([]CellRecord{c}, nil)
	return err
}

// IndexNote adds or updates a note in the search index.
func (m *Meili) IndexNote(n NoteRecord) error {
	_, err := m.client.Index(idxNotes).AddDocuments([]NoteRecord{n}, nil)
	return err
}

// DeleteDocument removes a document from the search index.
func (m *Meili) DeleteDocument(id string) error {
	_, err := m.client.Index(idxDocuments).DeleteDocument(id, nil)
	return err
}

// DeleteCell removes a cell from the search index.
func (m *Meili) DeleteCell(id string) error {
	_, err := m.client.Index(idxCells).DeleteDocument(id, nil)
	return err
}

// DeleteNote removes a note from the search index.
func (m *Meili) DeleteNote(id string) error {
	_, err := m.client.Index(idxNotes).DeleteDocument(id, nil)
	return err
}

// DeleteCells removes a batch of cells in one call. Column and document
// deletion cascade to many cells at once, so this avoids a request per
// cell.
func (m *Meili) DeleteCells(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := m.client.Index(idxCells).DeleteDocuments(ids, nil)
	return err
}

// IndexDocuments bulk-indexes documents.
func (m *Meili) IndexDocuments(documents []DocumentRecord) error {
	if len(documents) == 0 {
		return nil
	}
	_, err := m.client.Index(idxDocuments).AddDocuments(documents, nil)
	return err
}

// IndexCells bulk-indexes cell values.
func (m *Meili) IndexCells(cells []CellRecord) error {
	if len(cells) == 0 {
		return nil
	}
	_, err := m.client.Index(idxCells).AddDocuments(cells, nil)
	return err
}
