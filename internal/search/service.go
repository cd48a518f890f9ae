package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Backend reports which engine a search issued right now would hit.
func (s *Service) Backend() string {
	if s.meili != nil && s.meili.Healthy() {
		return "meilisearch"
	}
	return "postgres"
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
// The fallback cannot see notes, so note results disappear while
// Meilisearch is down.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexDocument indexes a document (fire-and-forget to Meilisearch).
func (s *Service) IndexDocument(doc DocumentRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexDocument(doc); err != nil {
			log.Printf("search: index document %s: %v", doc.ID, err)
		}
	}()
}

// IndexCell indexes a datacell (fire-and-forget to Meilisearch).
func (s *Service) IndexCell(c CellRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexCell(c); err != nil {
			log.Printf("search: index cell %s: %v", c.ID, err)
		}
	}()
}

// IndexNote indexes a document note (fire-and-forget to Meilisearch).
func (s *Service) IndexNote(n NoteRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexNote(n); err != nil {
			log.Printf("search: index note %s: %v", n.ID, err)
		}
	}()
}

// DeleteDocument removes a document from the search index (fire-and-forget).
func (s *Service) DeleteDocument(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteDocument(id); err != nil {
			log.Printf("search: delete document %s: %v", id, err)
		}
	}()
}

// DeleteCell removes a datacell from the search index (fire-and-forget).
func (s *Service) DeleteCell(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteCell(id); err != nil {
			log.Printf("search: delete cell %s: %v", id, err)
		}
	}()
}

// DeleteCells removes a batch of datacells from the search index in a
// single call (fire-and-forget).
func (s *Service) DeleteCells(ids []string) {
	if s.meili == nil || !s.meili.Healthy() || len(ids) == 0 {
		return
	}
	go func() {
		if err := s.meili.DeleteCells(ids); err != nil {
			log.Printf("search: delete %d cells: %v", len(ids), err)
		}
	}()
}

// DeleteNote removes a note from the search index (fire-and-forget).
func (s *Service) DeleteNote(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteNote(id); err != nil {
			log.Printf("search: delete note %s: %v", id, err)
		}
	}()
}

// ReindexAll pushes the given records to Meilisearch in bulk.
// Called during Bootstrap if Meilisearch is healthy and indexes are empty.
func (s *Service) ReindexAll(documents []DocumentRecord, cells []CellRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}

	if len(documents) > 0 {
		if err := s.meili.IndexDocuments(documents); err != nil {
			log.Printf("search: reindex documents: %v", err)
		}
	}
	if len(cells) > 0 {
		if err := s.meili.IndexCells(cells); err != nil {
			log.Printf("search: reindex cells: %v", err)
		}
	}
}

// ReindexAllFromPG reindexes documents and cells from PostgreSQL into
// Meilisearch. Notes are re-indexed lazily as they are saved.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	documents, cells, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	s.ReindexAll(documents, cells)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
