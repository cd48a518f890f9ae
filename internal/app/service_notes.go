package app

import (
	"context"
	"strings"

	"corpusgrid/internal/rbac"
	"corpusgrid/internal/search"
	"corpusgrid/internal/store"
	"corpusgrid/internal/util"
)

type NoteInput struct {
	DocumentID string `json:"documentId"`
	Title      string `json:"title"`
	Body       string `json:"body"`
}

// NoteUpdateInput carries only what changes. Message becomes the commit
// message when a body is saved; blank falls back to a default.
type NoteUpdateInput struct {
	Title   *string `json:"title"`
	Body    *string `json:"body"`
	Message string  `json:"message"`
}

func (s *Service) ListNotes(ctx context.Context, session Session, corpusID string) ([]map[string]any, error) {
	if _, _, err := s.corpusAccess(ctx, session, corpusID, rbac.ActionRead); err != nil {
		return nil, err
	}
	noteRows, err := s.store.ListNotes(ctx, corpusID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(noteRows))
	for _, note := range noteRows {
		payload = append(payload, notePayload(note))
	}
	return payload, nil
}

func (s *Service) CreateNote(ctx context.Context, session Session, corpusID string, input NoteInput) (map[string]any, error) {
	if _, _, err := s.corpusAccess(ctx, session, corpusID, rbac.ActionEditNotes); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, validationError("Note title is required")
	}
	documentID := strings.TrimSpace(input.DocumentID)
	if documentID != "" {
		doc, err := s.store.GetDocument(ctx, documentID)
		if err != nil {
			return nil, err
		}
		if doc.CorpusID != corpusID {
			return nil, validationError("Document belongs to a different corpus")
		}
	}

	note := store.Note{
		ID:         util.NewID("note"),
		CorpusID:   corpusID,
		DocumentID: documentID,
		Title:      title,
		CreatedBy:  session.UserID,
	}
	if err := s.store.InsertNote(ctx, note); err != nil {
		return nil, err
	}
	if err := s.notes.EnsureNoteRepo(note.ID, input.Body, session.UserName); err != nil {
		return nil, err
	}
	created, err := s.store.GetNote(ctx, note.ID)
	if err != nil {
		return nil, err
	}

	s.search.IndexNote(search.NoteRecord{
		ID:         created.ID,
		Title:      created.Title,
		Body:       input.Body,
		DocumentID: created.DocumentID,
		CorpusID:   created.CorpusID,
	})

	payload := notePayload(created)
	payload["body"] = input.Body
	return okEnvelope("Note created", payload), nil
}

func (s *Service) GetNote(ctx context.Context, session Session, noteID string) (map[string]any, error) {
	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.corpusAccess(ctx, session, note.CorpusID, rbac.ActionRead); err != nil {
		return nil, err
	}
	body, head, err := s.notes.HeadBody(noteID)
	if err != nil {
		return nil, err
	}
	payload := notePayload(note)
	payload["body"] = body
	payload["revision"] = head
	return payload, nil
}

func (s *Service) UpdateNote(ctx context.Context, session Session, noteID string, input NoteUpdateInput) (map[string]any, error) {
	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.corpusAccess(ctx, session, note.CorpusID, rbac.ActionEditNotes); err != nil {
		return nil, err
	}
	if input.Title == nil && input.Body == nil {
		return nil, validationError("Nothing to save")
	}

	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return nil, validationError("Note title is required")
		}
		if err := s.store.UpdateNoteTitle(ctx, noteID, title); err != nil {
			return nil, err
		}
	}

	payload := map[string]any{}
	body := ""
	if input.Body != nil {
		revision, err := s.notes.SaveBody(noteID, *input.Body, session.UserName, strings.TrimSpace(input.Message))
		if err != nil {
			return nil, err
		}
		if err := s.store.TouchNote(ctx, noteID); err != nil {
			return nil, err
		}
		body = *input.Body
		payload["revision"] = revision
	} else {
		head, _, err := s.notes.HeadBody(noteID)
		if err != nil {
			return nil, err
		}
		body = head
	}

	updated, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		return nil, err
	}
	s.search.IndexNote(search.NoteRecord{
		ID:         updated.ID,
		Title:      updated.Title,
		Body:       body,
		DocumentID: updated.DocumentID,
		CorpusID:   updated.CorpusID,
	})

	for key, value := range notePayload(updated) {
		payload[key] = value
	}
	payload["body"] = body
	return okEnvelope("Note saved", payload), nil
}

func (s *Service) NoteHistory(ctx context.Context, session Session, noteID string, limit int) (map[string]any, error) {
	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.corpusAccess(ctx, session, note.CorpusID, rbac.ActionRead); err != nil {
		return nil, err
	}
	revisions, err := s.notes.History(noteID, limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"noteId":    note.ID,
		"revisions": revisions,
	}, nil
}

func (s *Service) NoteRevision(ctx context.Context, session Session, noteID, hash string) (map[string]any, error) {
	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.corpusAccess(ctx, session, note.CorpusID, rbac.ActionRead); err != nil {
		return nil, err
	}
	body, err := s.notes.BodyAtRevision(noteID, hash)
	if err != nil {
		return nil, notFoundError("Revision not found")
	}
	return map[string]any{
		"noteId": note.ID,
		"hash":   hash,
		"body":   body,
	}, nil
}

func (s *Service) DeleteNote(ctx context.Context, session Session, noteID string) (map[string]any, error) {
	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.corpusAccess(ctx, session, note.CorpusID, rbac.ActionEditNotes); err != nil {
		return nil, err
	}
	if err := s.store.DeleteNote(ctx, noteID); err != nil {
		return nil, err
	}
	_ = s.notes.RemoveNoteRepo(noteID)
	s.search.DeleteNote(noteID)
	return okEnvelope("Note deleted", nil), nil
}

func notePayload(n store.Note) map[string]any {
	payload := map[string]any{
		"id":        n.ID,
		"corpusId":  n.CorpusID,
		"title":     n.Title,
		"createdBy": n.CreatedBy,
		"createdAt": n.CreatedAt,
		"updatedAt": n.UpdatedAt,
	}
	if n.DocumentID != "" {
		payload["documentId"] = n.DocumentID
	}
	if n.CreatorName != "" {
		payload["creatorName"] = n.CreatorName
	}
	return payload
}
