package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"path"
	"strings"

	"corpusgrid/internal/export"
	"corpusgrid/internal/fieldtype"
	"corpusgrid/internal/objstore"
	"corpusgrid/internal/rbac"
	"corpusgrid/internal/search"
	"corpusgrid/internal/store"
	"corpusgrid/internal/util"
)

type CorpusInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type ColumnInput struct {
	Name         string           `json:"name"`
	DataType     string           `json:"dataType"`
	HelpText     string           `json:"helpText"`
	Config       fieldtype.Config `json:"config"`
	DefaultValue any              `json:"defaultValue"`
	ManualEntry  *bool            `json:"manualEntry"`
}

// ColumnUpdateInput carries only the fields the caller wants to change.
// DefaultValue is raw JSON so an explicit null (clear the default) can
// be told apart from an absent key.
type ColumnUpdateInput struct {
	Name         *string           `json:"name"`
	DataType     *string           `json:"dataType"`
	HelpText     *string           `json:"helpText"`
	Config       *fieldtype.Config `json:"config"`
	DefaultValue json.RawMessage   `json:"defaultValue"`
	ManualEntry  *bool             `json:"manualEntry"`
}

type ReorderInput struct {
	OrderedIDs []string `json:"orderedIds"`
}

type CellInput struct {
	Value      any     `json:"value"`
	Annotation *string `json:"annotation"`
}

func (s *Service) ListCorpora(ctx context.Context, session Session) ([]map[string]any, error) {
	var (
		corpora []store.Corpus
		err     error
	)
	if rbac.Normalize(session.Role) == rbac.RoleAdmin {
		corpora, err = s.store.ListCorpora(ctx)
	} else {
		corpora, err = s.store.ListCorporaForUser(ctx, session.UserID)
	}
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(corpora))
	for _, corpus := range corpora {
		payload = append(payload, corpusPayload(corpus))
	}
	return payload, nil
}

func (s *Service) GetCorpus(ctx context.Context, session Session, corpusID string) (map[string]any, error) {
	corpus, role, err := s.corpusAccess(ctx, session, corpusID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	payload := corpusPayload(corpus)
	payload["role"] = role
	return payload, nil
}

func (s *Service) CreateCorpus(ctx context.Context, session Session, input CorpusInput) (map[string]any, error) {
	if rbac.Normalize(session.Role) == rbac.RoleViewer {
		return nil, forbiddenError("Viewers cannot create corpora")
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, validationError("Corpus name is required")
	}

	corpus := store.Corpus{
		ID:          util.NewID("cor"),
		Name:        name,
		Description: strings.TrimSpace(input.Description),
		OwnerID:     session.UserID,
	}
	if err := s.store.InsertCorpus(ctx, corpus); err != nil {
		return nil, err
	}
	created, err := s.store.GetCorpus(ctx, corpus.ID)
	if err != nil {
		return nil, err
	}
	return okEnvelope("Corpus created", corpusPayload(created)), nil
}

func (s *Service) UpdateCorpus(ctx context.Context, session Session, corpusID string, input CorpusInput) (map[string]any, error) {
	if _, _, err := s.corpusAccess(ctx, session, corpusID, rbac.ActionManageCorpus); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, validationError("Corpus name is required")
	}
	if err := s.store.UpdateCorpus(ctx, corpusID, name, strings.TrimSpace(input.Description)); err != nil {
		return nil, err
	}
	updated, err := s.store.GetCorpus(ctx, corpusID)
	if err != nil {
		return nil, err
	}
	return okEnvelope("Corpus updated", corpusPayload(updated)), nil
}

// DeleteCorpus removes the corpus row, which cascades to documents,
// columns, cells, notes and permissions, then cleans the search index,
// object storage and note repositories that the cascade cannot reach.
func (s *Service) DeleteCorpus(ctx context.Context, session Session, corpusID string) (map[string]any, error) {
	if _, _, err := s.corpusAccess(ctx, session, corpusID, rbac.ActionManageCorpus); err != nil {
		return nil, err
	}
	documents, err := s.store.ListDocuments(ctx, corpusID)
	if err != nil {
		return nil, err
	}
	cells, err := s.store.ListCorpusCells(ctx, corpusID)
	if err != nil {
		return nil, err
	}
	noteRows, err := s.store.ListNotes(ctx, corpusID)
	if err != nil {
		return nil, err
	}

	if err := s.store.DeleteCorpus(ctx, corpusID); err != nil {
		return nil, err
	}

	cellIDs := make([]string, 0, len(cells))
	for _, cell := range cells {
		cellIDs = append(cellIDs, cell.ID)
	}
	s.search.DeleteCells(cellIDs)
	for _, doc := range documents {
		s.search.DeleteDocument(doc.ID)
		if doc.FileKey != "" && s.files != nil {
			_ = s.files.RemoveDocumentFile(ctx, doc.FileKey)
		}
	}
	for _, note := range noteRows {
		s.search.DeleteNote(note.ID)
		_ = s.notes.RemoveNoteRepo(note.ID)
	}
	return okEnvelope("Corpus deleted", nil), nil
}

func (s *Service) ListDocuments(ctx context.Context, session Session, corpusID string) ([]map[string]any, error) {
	if _, _, err := s.corpusAccess(ctx, session, corpusID, rbac.ActionRead); err != nil {
		return nil, err
	}
	documents, err := s.store.ListDocuments(ctx, corpusID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(documents))
	for _, doc := range documents {
		payload = append(payload, documentPayload(doc))
	}
	return payload, nil
}

// GetDocument returns the document together with its grid row: every
// stored cell joined with its column definition.
func (s *Service) GetDocument(ctx context.Context, session Session, documentID string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.corpusAccess(ctx, session, doc.CorpusID, rbac.ActionRead); err != nil {
		return nil, err
	}
	cells, err := s.store.ListCells(ctx, documentID)
	if err != nil {
		return nil, err
	}
	cellPayloads := make([]map[string]any, 0, len(cells))
	for _, cell := range cells {
		cellPayloads = append(cellPayloads, gridCellPayload(cell))
	}
	payload := documentPayload(doc)
	payload["cells"] = cellPayloads
	return payload, nil
}

func (s *Service) CreateDocument(ctx context.Context, session Session, corpusID, title string) (map[string]any, error) {
	if _, _, err := s.corpusAccess(ctx, session, corpusID, rbac.ActionManageDocuments); err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, validationError("Document title is required")
	}
	doc := store.Document{
		ID:        util.NewID("doc"),
		CorpusID:  corpusID,
		Title:     title,
		CreatedBy: session.UserID,
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return nil, err
	}
	created, err := s.store.GetDocument(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	s.search.IndexDocument(search.DocumentRecord{
		ID:       created.ID,
		Title:    created.Title,
		CorpusID: created.CorpusID,
	})
	return okEnvelope("Document created", documentPayload(created)), nil
}

func (s *Service) RenameDocument(ctx context.Context, session Session, documentID, title string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.corpusAccess(ctx, session, doc.CorpusID, rbac.ActionManageDocuments); err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, validationError("Document title is required")
	}
	if err := s.store.UpdateDocumentTitle(ctx, documentID, title); err != nil {
		return nil, err
	}
	updated, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	s.search.IndexDocument(search.DocumentRecord{
		ID:       updated.ID,
		Title:    updated.Title,
		FileName: updated.FileName,
		CorpusID: updated.CorpusID,
	})
	return okEnvelope("Document renamed", documentPayload(updated)), nil
}

func (s *Service) DeleteDocument(ctx context.Context, session Session, documentID string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.corpusAccess(ctx, session, doc.CorpusID, rbac.ActionManageDocuments); err != nil {
		return nil, err
	}
	cells, err := s.store.ListCells(ctx, documentID)
	if err != nil {
		return nil, err
	}
	noteRows, err := s.store.ListNotes(ctx, doc.CorpusID)
	if err != nil {
		return nil, err
	}

	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		return nil, err
	}

	s.search.DeleteDocument(documentID)
	cellIDs := make([]string, 0, len(cells))
	for _, cell := range cells {
		cellIDs = append(cellIDs, cell.ID)
	}
	s.search.DeleteCells(cellIDs)
	// Notes anchored to the document are cascade-deleted with it.
	for _, note := range noteRows {
		if note.DocumentID != documentID {
			continue
		}
		s.search.DeleteNote(note.ID)
		_ = s.notes.RemoveNoteRepo(note.ID)
	}
	if doc.FileKey != "" && s.files != nil {
		_ = s.files.RemoveDocumentFile(ctx, doc.FileKey)
	}
	return okEnvelope("Document deleted", nil), nil
}

func (s *Service) AttachFile(ctx context.Context, session Session, documentID, fileName string, size int64, contentType string, r io.Reader) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.corpusAccess(ctx, session, doc.CorpusID, rbac.ActionManageDocuments); err != nil {
		return nil, err
	}
	if s.files == nil {
		return nil, unavailableError("FILES_UNAVAILABLE", "File storage is not configured")
	}
	fileName = path.Base(strings.TrimSpace(fileName))
	if fileName == "" || fileName == "." || fileName == "/" {
		return nil, validationError("File name is required")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := objstore.DocumentKey(documentID, fileName)
	if err := s.files.PutDocumentFile(ctx, key, r, size, contentType); err != nil {
		return nil, err
	}
	if doc.FileKey != "" && doc.FileKey != key {
		_ = s.files.RemoveDocumentFile(ctx, doc.FileKey)
	}
	if err := s.store.SetDocumentFile(ctx, documentID, key, fileName, size, contentType); err != nil {
		return nil, err
	}
	updated, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	s.search.IndexDocument(search.DocumentRecord{
		ID:       updated.ID,
		Title:    updated.Title,
		FileName: updated.FileName,
		CorpusID: updated.CorpusID,
	})
	return okEnvelope("File uploaded", documentPayload(updated)), nil
}

// OpenFile hands back a stream of the document's stored file. The
// caller owns the ReadCloser.
func (s *Service) OpenFile(ctx context.Context, session Session, documentID string) (io.ReadCloser, store.Document, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, store.Document{}, err
	}
	if _, _, err := s.corpusAccess(ctx, session, doc.CorpusID, rbac.ActionRead); err != nil {
		return nil, store.Document{}, err
	}
	if s.files == nil {
		return nil, store.Document{}, unavailableError("FILES_UNAVAILABLE", "File storage is not configured")
	}
	if doc.FileKey == "" {
		return nil, store.Document{}, notFoundError("Document has no file")
	}
	rc, err := s.files.GetDocumentFile(ctx, doc.FileKey)
	if err != nil {
		return nil, store.Document{}, err
	}
	return rc, doc, nil
}

func (s *Service) ListColumns(ctx context.Context, session Session, corpusID string) ([]map[string]any, error) {
	if _, _, err := s.corpusAccess(ctx, session, corpusID, rbac.ActionRead); err != nil {
		return nil, err
	}
	columns, err := s.store.ListColumns(ctx, corpusID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(columns))
	for _, column := range columns {
		payload = append(payload, columnPayload(column))
	}
	return payload, nil
}

func (s *Service) CreateColumn(ctx context.Context, session Session, corpusID string, input ColumnInput) (map[string]any, error) {
	if _, _, err := s.corpusAccess(ctx, session, corpusID, rbac.ActionManageColumns); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, validationError("Field name is required")
	}
	dataType := fieldtype.DataType(strings.TrimSpace(input.DataType))
	if !dataType.Valid() {
		return nil, validationError("Unknown data type")
	}
	if err := fieldtype.ValidateConfig(dataType, input.Config); err != nil {
		return nil, validationError(err.Error())
	}
	exists, err := s.store.ColumnNameExists(ctx, corpusID, name, "")
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, conflictError("A field with this name already exists")
	}

	defaultValue := input.DefaultValue
	if defaultValue != nil {
		normalized, err := fieldtype.Validate(dataType, input.Config, defaultValue)
		if err != nil {
			return nil, validationError("Default value: " + err.Error())
		}
		defaultValue = normalized
	}

	// New columns go to the end of the grid.
	count, err := s.store.CountColumns(ctx, corpusID)
	if err != nil {
		return nil, err
	}

	manualEntry := true
	if input.ManualEntry != nil {
		manualEntry = *input.ManualEntry
	}

	column := store.Column{
		ID:           util.NewID("col"),
		CorpusID:     corpusID,
		Name:         name,
		DataType:     dataType,
		HelpText:     strings.TrimSpace(input.HelpText),
		Validation:   input.Config,
		DefaultValue: defaultValue,
		DisplayOrder: count,
		ManualEntry:  manualEntry,
	}
	if err := s.store.InsertColumn(ctx, column); err != nil {
		return nil, err
	}
	created, err := s.store.GetColumn(ctx, column.ID)
	if err != nil {
		return nil, err
	}
	return okEnvelope("Field created", columnPayload(created)), nil
}

func (s *Service) UpdateColumn(ctx context.Context, session Session, corpusID, columnID string, input ColumnUpdateInput) (map[string]any, error) {
	if _, _, err := s.corpusAccess(ctx, session, corpusID, rbac.ActionManageColumns); err != nil {
		return nil, err
	}
	column, err := s.store.GetColumn(ctx, columnID)
	if err != nil {
		return nil, err
	}
	if column.CorpusID != corpusID {
		return nil, notFoundError("Not found")
	}

	if input.DataType != nil && fieldtype.DataType(*input.DataType) != column.DataType {
		return nil, validationError("Data type cannot be changed after creation")
	}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, validationError("Field name is required")
		}
		exists, err := s.store.ColumnNameExists(ctx, corpusID, name, columnID)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, conflictError("A field with this name already exists")
		}
		column.Name = name
	}
	if input.HelpText != nil {
		column.HelpText = strings.TrimSpace(*input.HelpText)
	}
	if input.Config != nil {
		if err := fieldtype.ValidateConfig(column.DataType, *input.Config); err != nil {
			return nil, validationError(err.Error())
		}
		column.Validation = *input.Config
	}
	if len(input.DefaultValue) > 0 {
		var raw any
		if err := json.Unmarshal(input.DefaultValue, &raw); err != nil {
			return nil, validationError("Default value is not valid JSON")
		}
		if raw == nil {
			column.DefaultValue = nil
		} else {
			normalized, err := fieldtype.Validate(column.DataType, column.Validation, raw)
			if err != nil {
				return nil, validationError("Default value: " + err.Error())
			}
			column.DefaultValue = normalized
		}
	}
	if input.ManualEntry != nil {
		column.ManualEntry = *input.ManualEntry
	}

	if err := s.store.UpdateColumn(ctx, column); err != nil {
		return nil, err
	}
	updated, err := s.store.GetColumn(ctx, columnID)
	if err != nil {
		return nil, err
	}
	return okEnvelope("Field updated", columnPayload(updated)), nil
}

// DeleteColumn removes the field and every cell stored under it, then
// renumbers the surviving columns so display order stays dense.
func (s *Service) DeleteColumn(ctx context.Context, session Session, corpusID, columnID string) (map[string]any, error) {
	if _, _, err := s.corpusAccess(ctx, session, corpusID, rbac.ActionManageColumns); err != nil {
		return nil, err
	}
	column, err := s.store.GetColumn(ctx, columnID)
	if err != nil {
		return nil, err
	}
	if column.CorpusID != corpusID {
		return nil, notFoundError("Not found")
	}
	cellIDs, err := s.store.ListCellIDsForColumn(ctx, columnID)
	if err != nil {
		return nil, err
	}

	if err := s.store.DeleteColumn(ctx, columnID); err != nil {
		return nil, err
	}
	s.search.DeleteCells(cellIDs)

	remaining, err := s.store.ListColumns(ctx, corpusID)
	if err != nil {
		return nil, err
	}
	if len(remaining) > 0 {
		orderedIDs := make([]string, 0, len(remaining))
		for _, col := range remaining {
			orderedIDs = append(orderedIDs, col.ID)
		}
		if err := s.store.ReorderColumns(ctx, corpusID, orderedIDs); err != nil {
			return nil, err
		}
	}
	return okEnvelope("Field deleted", nil), nil
}

func (s *Service) ReorderColumns(ctx context.Context, session Session, corpusID string, input ReorderInput) (map[string]any, error) {
	if _, _, err := s.corpusAccess(ctx, session, corpusID, rbac.ActionManageColumns); err != nil {
		return nil, err
	}
	existing, err := s.store.ListColumns(ctx, corpusID)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(existing))
	for _, column := range existing {
		known[column.ID] = true
	}
	if len(input.OrderedIDs) != len(existing) {
		return nil, validationError("Ordering must include every field exactly once")
	}
	seen := make(map[string]bool, len(input.OrderedIDs))
	for _, id := range input.OrderedIDs {
		if !known[id] || seen[id] {
			return nil, validationError("Ordering must include every field exactly once")
		}
		seen[id] = true
	}

	if err := s.store.ReorderColumns(ctx, corpusID, input.OrderedIDs); err != nil {
		return nil, err
	}
	columns, err := s.store.ListColumns(ctx, corpusID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(columns))
	for _, column := range columns {
		payload = append(payload, columnPayload(column))
	}
	return okEnvelope("Field order updated", payload), nil
}

// CorpusCells returns every stored cell of the corpus for grid
// hydration; the client joins them with the column list.
func (s *Service) CorpusCells(ctx context.Context, session Session, corpusID string) ([]map[string]any, error) {
	if _, _, err := s.corpusAccess(ctx, session, corpusID, rbac.ActionRead); err != nil {
		return nil, err
	}
	cells, err := s.store.ListCorpusCells(ctx, corpusID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(cells))
	for _, cell := range cells {
		payload = append(payload, gridCellPayload(cell))
	}
	return payload, nil
}

func (s *Service) SetCell(ctx context.Context, session Session, documentID, columnID string, input CellInput) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.corpusAccess(ctx, session, doc.CorpusID, rbac.ActionEditCells); err != nil {
		return nil, err
	}
	column, err := s.store.GetColumn(ctx, columnID)
	if err != nil {
		return nil, err
	}
	if column.CorpusID != doc.CorpusID {
		return nil, notFoundError("Not found")
	}
	if !column.ManualEntry && !session.ViaAPIKey {
		return nil, forbiddenError("This field is written by automation and cannot be edited by hand")
	}

	normalized, err := fieldtype.Validate(column.DataType, column.Validation, input.Value)
	if err != nil {
		return nil, validationError(err.Error())
	}

	cell := store.Datacell{
		ID:         util.NewID("cel"),
		DocumentID: documentID,
		ColumnID:   columnID,
		Value:      normalized,
		CreatedBy:  session.UserID,
	}
	if input.Annotation != nil {
		cell.Annotation = strings.TrimSpace(*input.Annotation)
	} else {
		// Keep the stored annotation when the caller only sends a value.
		existing, err := s.store.GetCell(ctx, documentID, columnID)
		if err == nil {
			cell.Annotation = existing.Annotation
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	}

	saved, err := s.store.UpsertCell(ctx, cell)
	if err != nil {
		return nil, err
	}
	s.search.IndexCell(search.CellRecord{
		ID:         saved.ID,
		ColumnName: column.Name,
		ValueText:  export.DisplayValue(column.DataType, saved.Value),
		DocumentID: documentID,
		CorpusID:   doc.CorpusID,
	})
	return okEnvelope("Value saved", cellPayload(saved)), nil
}

func (s *Service) ClearCell(ctx context.Context, session Session, documentID, columnID string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.corpusAccess(ctx, session, doc.CorpusID, rbac.ActionEditCells); err != nil {
		return nil, err
	}
	column, err := s.store.GetColumn(ctx, columnID)
	if err != nil {
		return nil, err
	}
	if column.CorpusID != doc.CorpusID {
		return nil, notFoundError("Not found")
	}
	if !column.ManualEntry && !session.ViaAPIKey {
		return nil, forbiddenError("This field is written by automation and cannot be edited by hand")
	}
	if column.Validation.Required {
		return nil, validationError("This field is required and cannot be cleared")
	}

	existing, err := s.store.GetCell(ctx, documentID, columnID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return okEnvelope("Value cleared", nil), nil
		}
		return nil, err
	}
	if err := s.store.DeleteCell(ctx, documentID, columnID); err != nil {
		return nil, err
	}
	s.search.DeleteCell(existing.ID)
	return okEnvelope("Value cleared", nil), nil
}

// Search runs a corpus-scoped or global query. Global results are
// filtered to corpora the caller can read; the reported total then
// counts only what survived the filter.
func (s *Service) Search(ctx context.Context, session Session, q search.Query) (search.Response, error) {
	if q.FilterCorpusID != "" {
		if _, _, err := s.corpusAccess(ctx, session, q.FilterCorpusID, rbac.ActionRead); err != nil {
			return search.Response{}, err
		}
		return s.search.Search(q), nil
	}

	resp := s.search.Search(q)
	if rbac.Normalize(session.Role) == rbac.RoleAdmin {
		return resp, nil
	}
	corpora, err := s.store.ListCorporaForUser(ctx, session.UserID)
	if err != nil {
		return search.Response{}, err
	}
	readable := make(map[string]bool, len(corpora))
	for _, corpus := range corpora {
		readable[corpus.ID] = true
	}
	filtered := make([]search.Result, 0, len(resp.Results))
	for _, result := range resp.Results {
		if readable[result.CorpusID] {
			filtered = append(filtered, result)
		}
	}
	if len(filtered) != len(resp.Results) {
		resp.Total = len(filtered)
	}
	resp.Results = filtered
	return resp, nil
}

func (s *Service) ExportCorpus(ctx context.Context, session Session, corpusID string, format export.Format) (*export.Result, error) {
	if _, _, err := s.corpusAccess(ctx, session, corpusID, rbac.ActionExport); err != nil {
		return nil, err
	}
	if format != export.FormatCSV && format != export.FormatPDF {
		return nil, validationError("Unknown export format")
	}
	result, err := s.exporter.Export(ctx, export.Request{CorpusID: corpusID, Format: format})
	if err != nil {
		if errors.Is(err, export.ErrPDFDependencyMissing) {
			return nil, unavailableError("PDF_UNAVAILABLE", "PDF rendering is not available on this server")
		}
		return nil, err
	}
	return result, nil
}

// exportStore adapts the primary store to the export package's view of
// a corpus grid.
type exportStore struct {
	data dataStore
}

func (e exportStore) GetCorpus(ctx context.Context, id string) (export.CorpusInfo, error) {
	corpus, err := e.data.GetCorpus(ctx, id)
	if err != nil {
		return export.CorpusInfo{}, err
	}
	return export.CorpusInfo{ID: corpus.ID, Name: corpus.Name}, nil
}

func (e exportStore) ListColumns(ctx context.Context, corpusID string) ([]export.ColumnInfo, error) {
	columns, err := e.data.ListColumns(ctx, corpusID)
	if err != nil {
		return nil, err
	}
	out := make([]export.ColumnInfo, 0, len(columns))
	for _, column := range columns {
		out = append(out, export.ColumnInfo{
			ID:           column.ID,
			Name:         column.Name,
			DataType:     column.DataType,
			DisplayOrder: column.DisplayOrder,
		})
	}
	return out, nil
}

func (e exportStore) ListDocuments(ctx context.Context, corpusID string) ([]export.DocumentInfo, error) {
	documents, err := e.data.ListDocuments(ctx, corpusID)
	if err != nil {
		return nil, err
	}
	out := make([]export.DocumentInfo, 0, len(documents))
	for _, doc := range documents {
		out = append(out, export.DocumentInfo{ID: doc.ID, Title: doc.Title, CreatedAt: doc.CreatedAt})
	}
	return out, nil
}

func (e exportStore) ListCells(ctx context.Context, corpusID string) ([]export.CellInfo, error) {
	cells, err := e.data.ListCorpusCells(ctx, corpusID)
	if err != nil {
		return nil, err
	}
	out := make([]export.CellInfo, 0, len(cells))
	for _, cell := range cells {
		out = append(out, export.CellInfo{DocumentID: cell.DocumentID, ColumnID: cell.ColumnID, Value: cell.Value})
	}
	return out, nil
}

func corpusPayload(c store.Corpus) map[string]any {
	return map[string]any{
		"id":          c.ID,
		"name":        c.Name,
		"description": c.Description,
		"ownerId":     c.OwnerID,
		"createdAt":   c.CreatedAt,
		"updatedAt":   c.UpdatedAt,
	}
}

func documentPayload(d store.Document) map[string]any {
	payload := map[string]any{
		"id":        d.ID,
		"corpusId":  d.CorpusID,
		"title":     d.Title,
		"createdBy": d.CreatedBy,
		"createdAt": d.CreatedAt,
		"updatedAt": d.UpdatedAt,
	}
	if d.FileKey != "" {
		payload["file"] = map[string]any{
			"name":     d.FileName,
			"size":     d.FileSize,
			"mimeType": d.MimeType,
		}
	}
	return payload
}

func columnPayload(c store.Column) map[string]any {
	return map[string]any{
		"id":           c.ID,
		"corpusId":     c.CorpusID,
		"name":         c.Name,
		"dataType":     c.DataType,
		"helpText":     c.HelpText,
		"config":       c.Validation,
		"defaultValue": c.DefaultValue,
		"displayOrder": c.DisplayOrder,
		"manualEntry":  c.ManualEntry,
		"createdAt":    c.CreatedAt,
		"updatedAt":    c.UpdatedAt,
	}
}

func cellPayload(c store.Datacell) map[string]any {
	return map[string]any{
		"id":         c.ID,
		"documentId": c.DocumentID,
		"columnId":   c.ColumnID,
		"value":      c.Value,
		"annotation": c.Annotation,
		"createdBy":  c.CreatedBy,
		"updatedAt":  c.UpdatedAt,
	}
}

func gridCellPayload(c store.CellWithColumn) map[string]any {
	payload := cellPayload(c.Datacell)
	payload["columnName"] = c.Column.Name
	payload["dataType"] = c.Column.DataType
	payload["creatorName"] = c.CreatorName
	return payload
}
