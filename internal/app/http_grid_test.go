package app

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"corpusgrid/internal/fieldtype"
	"corpusgrid/internal/objstore"
	"corpusgrid/internal/store"
)

func TestCreateCorpusReturnsEnvelope(t *testing.T) {
	var inserted store.Corpus
	fs := &fakeStore{
		insertCorpusFn: func(_ context.Context, c store.Corpus) error {
			inserted = c
			return nil
		},
		getCorpusFn: func(context.Context, string) (store.Corpus, error) {
			return inserted, nil
		},
	}
	svc := newTestService(fs, &fakeNotes{})
	server := NewHTTPServer(svc, "*")

	body := bytes.NewBufferString(`{"name": "  Herbarium Labels  ", "description": " Scanned specimen labels "}`)
	req := authedRequest(t, http.MethodPost, "/api/corpora", body)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["ok"] != true || payload["message"] != "Corpus created" {
		t.Fatalf("expected a created envelope, got %v", payload)
	}
	obj, _ := payload["obj"].(map[string]any)
	if obj["name"] != "Herbarium Labels" || obj["description"] != "Scanned specimen labels" {
		t.Fatalf("expected trimmed fields on the corpus, got %v", obj)
	}
	if obj["ownerId"] != "user-1" {
		t.Fatalf("expected the caller as owner, got %v", obj)
	}
}

func TestCreateCorpusRequiresName(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeNotes{})
	server := NewHTTPServer(svc, "*")

	req := authedRequest(t, http.MethodPost, "/api/corpora", bytes.NewBufferString(`{"name": "   "}`))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["message"] != "Corpus name is required" {
		t.Fatalf("expected the name requirement, got %v", payload["message"])
	}
}

func TestViewerCannotCreateCorpus(t *testing.T) {
	fs := &fakeStore{
		getUserFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, DisplayName: "Avery", Role: "viewer"}, nil
		},
	}
	svc := newTestService(fs, &fakeNotes{})
	server := NewHTTPServer(svc, "*")

	req := authedRequest(t, http.MethodPost, "/api/corpora", bytes.NewBufferString(`{"name": "Mine"}`))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["message"] != "Viewers cannot create corpora" {
		t.Fatalf("expected the viewer restriction, got %v", payload["message"])
	}
}

func TestGetCorpusIncludesRole(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeNotes{})
	server := NewHTTPServer(svc, "*")

	req := authedRequest(t, http.MethodGet, "/api/corpora/cor-1", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["name"] != "Field Recordings" || payload["role"] != "admin" {
		t.Fatalf("expected the corpus with the caller's role, got %v", payload)
	}
}

func TestUnsharedCorpusAnswersNotFound(t *testing.T) {
	fs := &fakeStore{
		getUserFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, DisplayName: "Avery", Role: "viewer"}, nil
		},
		getCorpusFn: func(_ context.Context, corpusID string) (store.Corpus, error) {
			return store.Corpus{ID: corpusID, Name: "Private", OwnerID: "user-9"}, nil
		},
	}
	svc := newTestService(fs, &fakeNotes{})
	server := NewHTTPServer(svc, "*")

	req := authedRequest(t, http.MethodGet, "/api/corpora/cor-9", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["code"] != "NOT_FOUND" {
		t.Fatalf("expected code NOT_FOUND, got %v", payload["code"])
	}
}

func TestCreateDocumentIndexesTitle(t *testing.T) {
	var inserted store.Document
	fs := &fakeStore{
		insertDocumentFn: func(_ context.Context, d store.Document) error {
			inserted = d
			return nil
		},
		getDocumentFn: func(context.Context, string) (store.Document, error) {
			return inserted, nil
		},
	}
	svc := newTestService(fs, &fakeNotes{})
	fsearch := &fakeSearch{}
	svc.search = fsearch
	server := NewHTTPServer(svc, "*")

	body := bytes.NewBufferString(`{"title": "  Interview 004 - Night fishing  "}`)
	req := authedRequest(t, http.MethodPost, "/api/corpora/cor-1/documents", body)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["message"] != "Document created" {
		t.Fatalf("expected a created envelope, got %v", payload)
	}
	if inserted.Title != "Interview 004 - Night fishing" {
		t.Fatalf("expected the trimmed title, got %q", inserted.Title)
	}
	if len(fsearch.indexedDocs) != 1 || fsearch.indexedDocs[0].Title != "Interview 004 - Night fishing" {
		t.Fatalf("expected the document in the index, got %v", fsearch.indexedDocs)
	}
}

func TestCreateColumnAppendsToGridEnd(t *testing.T) {
	var inserted store.Column
	fs := &fakeStore{
		countColumnsFn: func(context.Context, string) (int, error) { return 4, nil },
		insertColumnFn: func(_ context.Context, c store.Column) error {
			inserted = c
			return nil
		},
		getColumnFn: func(context.Context, string) (store.Column, error) {
			return inserted, nil
		},
	}
	svc := newTestService(fs, &fakeNotes{})
	server := NewHTTPServer(svc, "*")

	body := bytes.NewBufferString(`{"name": "Verified by", "dataType": "STRING"}`)
	req := authedRequest(t, http.MethodPost, "/api/corpora/cor-1/columns", body)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["message"] != "Field created" {
		t.Fatalf("expected a created envelope, got %v", payload)
	}
	obj, _ := payload["obj"].(map[string]any)
	if obj["displayOrder"] != float64(4) {
		t.Fatalf("expected the new field at the end of the grid, got %v", obj["displayOrder"])
	}
	if obj["manualEntry"] != true {
		t.Fatalf("expected manual entry by default, got %v", obj)
	}
	if inserted.DataType != fieldtype.TypeString {
		t.Fatalf("expected a STRING column, got %v", inserted.DataType)
	}
}

func TestCreateColumnRejectsDuplicateName(t *testing.T) {
	fs := &fakeStore{
		columnNameExistsFn: func(context.Context, string, string, string) (bool, error) {
			return true, nil
		},
	}
	svc := newTestService(fs, &fakeNotes{})
	server := NewHTTPServer(svc, "*")

	body := bytes.NewBufferString(`{"name": "Speaker", "dataType": "STRING"}`)
	req := authedRequest(t, http.MethodPost, "/api/corpora/cor-1/columns", body)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["message"] != "A field with this name already exists" {
		t.Fatalf("expected the duplicate message, got %v", payload["message"])
	}
}

func TestCreateColumnRejectsUnknownDataType(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeNotes{})
	server := NewHTTPServer(svc, "*")

	body := bytes.NewBufferString(`{"name": "Mood", "dataType": "FANCY"}`)
	req := authedRequest(t, http.MethodPost, "/api/corpora/cor-1/columns", body)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["message"] != "Unknown data type" {
		t.Fatalf("expected the data type rejection, got %v", payload["message"])
	}
}

func TestCreateColumnValidatesDefaultValue(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeNotes{})
	server := NewHTTPServer(svc, "*")

	body := bytes.NewBufferString(`{"name": "Word count", "dataType": "INTEGER", "defaultValue": "abc"}`)
	req := authedRequest(t, http.MethodPost, "/api/corpora/cor-1/columns", body)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["message"] != "Default value: must be a number" {
		t.Fatalf("expected the default value rejection, got %v", payload["message"])
	}
}

func TestUpdateColumnCannotChangeDataType(t *testing.T) {
	fs := &fakeStore{
		getColumnFn: func(_ context.Context, columnID string) (store.Column, error) {
			return store.Column{ID: columnID, CorpusID: "cor-1", Name: "Speaker", DataType: fieldtype.TypeString, ManualEntry: true}, nil
		},
	}
	svc := newTestService(fs, &fakeNotes{})
	server := NewHTTPServer(svc, "*")

	body := bytes.NewBufferString(`{"dataType": "TEXT"}`)
	req := authedRequest(t, http.MethodPut, "/api/corpora/cor-1/columns/col-1", body)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["message"] != "Data type cannot be changed after creation" {
		t.Fatalf("expected the immutable type message, got %v", payload["message"])
	}
}

func TestReorderColumnsRejectsIncompleteList(t *testing.T) {
	fs := &fakeStore{
		listColumnsFn: func(context.Context, string) ([]store.Column, error) {
			return []store.Column{
				{ID: "col-1", CorpusID: "cor-1", Name: "Speaker"},
				{ID: "col-2", CorpusID: "cor-1", Name: "Language"},
				{ID: "col-3", CorpusID: "cor-1", Name: "Quality"},
			}, nil
		},
	}
	svc := newTestService(fs, &fakeNotes{})
	server := NewHTTPServer(svc, "*")

	body := bytes.NewBufferString(`{"orderedIds": ["col-1", "col-2"]}`)
	req := authedRequest(t, http.MethodPut, "/api/corpora/cor-1/columns/order", body)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["message"] != "Ordering must include every field exactly once" {
		t.Fatalf("expected the completeness message, got %v", payload["message"])
	}
}

func TestReorderColumnsPersistsNewOrder(t *testing.T) {
	var reordered []string
	fs := &fakeStore{
		listColumnsFn: func(context.Context, string) ([]store.Column, error) {
			return []store.Column{
				{ID: "col-1", CorpusID: "cor-1", Name: "Speaker"},
				{ID: "col-2", CorpusID: "cor-1", Name: "Language"},
				{ID: "col-3", CorpusID: "cor-1", Name: "Quality"},
			}, nil
		},
		reorderColumnsFn: func(_ context.Context, _ string, orderedIDs []string) error {
			reordered = orderedIDs
			return nil
		},
	}
	svc := newTestService(fs, &fakeNotes{})
	server := NewHTTPServer(svc, "*")

	body := bytes.NewBufferString(`{"orderedIds": ["col-3", "col-1", "col-2"]}`)
	req := authedRequest(t, http.MethodPut, "/api/corpora/cor-1/columns/order", body)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if len(reordered) != 3 || reordered[0] != "col-3" {
		t.Fatalf("expected the new ordering to be persisted, got %v", reordered)
	}
	payload := decodeResponse(t, rr)
	if payload["message"] != "Field order updated" {
		t.Fatalf("expected the reorder envelope, got %v", payload)
	}
	obj, _ := payload["obj"].([]any)
	if len(obj) != 3 {
		t.Fatalf("expected the full column list back, got %v", payload["obj"])
	}
}

func TestDeleteColumnRenumbersSurvivors(t *testing.T) {
	var reordered []string
	fs := &fakeStore{
		getColumnFn: func(_ context.Context, columnID string) (store.Column, error) {
			return store.Column{ID: columnID, CorpusID: "cor-1", Name: "Language"}, nil
		},
		listCellIDsForColumnFn: func(context.Context, string) ([]string, error) {
			return []string{"cel-1", "cel-2"}, nil
		},
		listColumnsFn: func(context.Context, string) ([]store.Column, error) {
			return []store.Column{
				{ID: "col-1", CorpusID: "cor-1", Name: "Speaker", DisplayOrder: 0},
				{ID: "col-3", CorpusID: "cor-1", Name: "Quality", DisplayOrder: 2},
			}, nil
		},
		reorderColumnsFn: func(_ context.Context, _ string, orderedIDs []string) error {
			reordered = orderedIDs
			return nil
		},
	}
	svc := newTestService(fs, &fakeNotes{})
	fsearch := &fakeSearch{}
	svc.search = fsearch
	server := NewHTTPServer(svc, "*")

	req := authedRequest(t, http.MethodDelete, "/api/corpora/cor-1/columns/col-2", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if len(reordered) != 2 || reordered[0] != "col-1" || reordered[1] != "col-3" {
		t.Fatalf("expected the survivors renumbered in order, got %v", reordered)
	}
	if len(fsearch.deletedCells) != 2 {
		t.Fatalf("expected the column's cells dropped from the index, got %v", fsearch.deletedCells)
	}
}

func TestSetCellValidatesValue(t *testing.T) {
	minRating := 1.0
	maxRating := 5.0
	fs := &fakeStore{
		getColumnFn: func(_ context.Context, columnID string) (store.Column, error) {
			return store.Column{
				ID:          columnID,
				CorpusID:    "cor-1",
				Name:        "Quality",
				DataType:    fieldtype.TypeInteger,
				Validation:  fieldtype.Config{Min: &minRating, Max: &maxRating},
				ManualEntry: true,
			}, nil
		},
	}
	svc := newTestService(fs, &fakeNotes{})
	server := NewHTTPServer(svc, "*")

	body := bytes.NewBufferString(`{"value": 9}`)
	req := authedRequest(t, http.MethodPut, "/api/documents/doc-1/cells/col-9", body)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["message"] != "must be at most 5" {
		t.Fatalf("expected the range message, got %v", payload["message"])
	}
}

func TestSetCellRejectsManualEditOfMachineColumn(t *testing.T) {
	fs := &fakeStore{
		getColumnFn: func(_ context.Context, columnID string) (store.Column, error) {
			return store.Column{ID: columnID, CorpusID: "cor-1", Name: "Word count", DataType: fieldtype.TypeInteger, ManualEntry: false}, nil
		},
	}
	svc := newTestService(fs, &fakeNotes{})
	server := NewHTTPServer(svc, "*")

	body := bytes.NewBufferString(`{"value": 250}`)
	req := authedRequest(t, http.MethodPut, "/api/documents/doc-1/cells/col-6", body)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["message"] != "This field is written by automation and cannot be edited by hand" {
		t.Fatalf("expected the automation message, got %v", payload["message"])
	}
}

func TestSetCellAllowsAutomationWriter(t *testing.T) {
	var upserted store.Datacell
	fs := &fakeStore{
		getCorpusFn: func(_ context.Context, corpusID string) (store.Corpus, error) {
			return store.Corpus{ID: corpusID, Name: "Field Recordings", OwnerID: "user-9"}, nil
		},
		getCorpusRoleFn: func(context.Context, string, string) (string, error) {
			return "contributor", nil
		},
		getColumnFn: func(_ context.Context, columnID string) (store.Column, error) {
			return store.Column{ID: columnID, CorpusID: "cor-1", Name: "Word count", DataType: fieldtype.TypeInteger, ManualEntry: false}, nil
		},
		upsertCellFn: func(_ context.Context, c store.Datacell) (store.Datacell, error) {
			upserted = c
			return c, nil
		},
	}
	svc := newTestService(fs, &fakeNotes{})

	sess := Session{UserID: "user-2", UserName: "Ingest Bot", Role: "contributor", ViaAPIKey: true}
	payload, err := svc.SetCell(context.Background(), sess, "doc-1", "col-6", CellInput{Value: float64(128)})
	if err != nil {
		t.Fatalf("SetCell() error = %v", err)
	}
	if payload["message"] != "Value saved" {
		t.Fatalf("expected the saved envelope, got %v", payload)
	}
	if upserted.Value != int64(128) {
		t.Fatalf("expected the normalized integer, got %#v", upserted.Value)
	}
	if upserted.CreatedBy != "user-2" {
		t.Fatalf("expected the key owner as author, got %q", upserted.CreatedBy)
	}
}

func TestSetCellPreservesAnnotationWhenOmitted(t *testing.T) {
	var upserted store.Datacell
	fs := &fakeStore{
		getColumnFn: func(_ context.Context, columnID string) (store.Column, error) {
			return store.Column{ID: columnID, CorpusID: "cor-1", Name: "Speaker", DataType: fieldtype.TypeString, ManualEntry: true}, nil
		},
		getCellFn: func(context.Context, string, string) (store.Datacell, error) {
			return store.Datacell{ID: "cel-1", DocumentID: "doc-1", ColumnID: "col-1", Value: "Amina", Annotation: "verified in field"}, nil
		},
		upsertCellFn: func(_ context.Context, c store.Datacell) (store.Datacell, error) {
			upserted = c
			return c, nil
		},
	}
	svc := newTestService(fs, &fakeNotes{})
	fsearch := &fakeSearch{}
	svc.search = fsearch
	server := NewHTTPServer(svc, "*")

	body := bytes.NewBufferString(`{"value": "Amina W."}`)
	req := authedRequest(t, http.MethodPut, "/api/documents/doc-1/cells/col-1", body)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if upserted.Annotation != "verified in field" {
		t.Fatalf("expected the stored annotation kept, got %q", upserted.Annotation)
	}
	if len(fsearch.indexedCells) != 1 || fsearch.indexedCells[0].ColumnName != "Speaker" {
		t.Fatalf("expected the cell indexed under its column name, got %v", fsearch.indexedCells)
	}
}

func TestClearCellRejectsRequiredColumn(t *testing.T) {
	fs := &fakeStore{
		getColumnFn: func(_ context.Context, columnID string) (store.Column, error) {
			return store.Column{
				ID:          columnID,
				CorpusID:    "cor-1",
				Name:        "Speaker",
				DataType:    fieldtype.TypeString,
				Validation:  fieldtype.Config{Required: true},
				ManualEntry: true,
			}, nil
		},
	}
	svc := newTestService(fs, &fakeNotes{})
	server := NewHTTPServer(svc, "*")

	req := authedRequest(t, http.MethodDelete, "/api/documents/doc-1/cells/col-1", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["message"] != "This field is required and cannot be cleared" {
		t.Fatalf("expected the required-field message, got %v", payload["message"])
	}
}

func TestClearCellMissingRowStillSucceeds(t *testing.T) {
	fs := &fakeStore{
		getColumnFn: func(_ context.Context, columnID string) (store.Column, error) {
			return store.Column{ID: columnID, CorpusID: "cor-1", Name: "Reviewed", DataType: fieldtype.TypeBoolean, ManualEntry: true}, nil
		},
		deleteCellFn: func(context.Context, string, string) error {
			t.Fatal("expected no delete for a missing cell")
			return nil
		},
	}
	svc := newTestService(fs, &fakeNotes{})
	server := NewHTTPServer(svc, "*")

	req := authedRequest(t, http.MethodDelete, "/api/documents/doc-1/cells/col-5", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["message"] != "Value cleared" {
		t.Fatalf("expected the cleared envelope, got %v", payload)
	}
}

func TestUploadFileStoresAndIndexes(t *testing.T) {
	stored := store.Document{ID: "doc-1", CorpusID: "cor-1", Title: "Interview 001 - Market day"}
	fs := &fakeStore{
		getDocumentFn: func(context.Context, string) (store.Document, error) {
			return stored, nil
		},
		setDocumentFileFn: func(_ context.Context, _ string, key, name string, size int64, mimeType string) error {
			stored.FileKey = key
			stored.FileName = name
			stored.FileSize = size
			stored.MimeType = mimeType
			return nil
		},
	}
	svc := newTestService(fs, &fakeNotes{})
	files := &fakeFiles{}
	svc.files = files
	fsearch := &fakeSearch{}
	svc.search = fsearch
	server := NewHTTPServer(svc, "*")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "interview.wav")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte("RIFFdata")); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/documents/doc-1/file", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+testToken(t))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	key := objstore.DocumentKey("doc-1", "interview.wav")
	if string(files.puts[key]) != "RIFFdata" {
		t.Fatalf("expected the file bytes under %q, got %v", key, files.puts)
	}
	payload := decodeResponse(t, rr)
	if payload["message"] != "File uploaded" {
		t.Fatalf("expected the upload envelope, got %v", payload)
	}
	obj, _ := payload["obj"].(map[string]any)
	file, _ := obj["file"].(map[string]any)
	if file["name"] != "interview.wav" {
		t.Fatalf("expected the file on the document payload, got %v", obj)
	}
	if len(fsearch.indexedDocs) != 1 || fsearch.indexedDocs[0].FileName != "interview.wav" {
		t.Fatalf("expected the file name in the index, got %v", fsearch.indexedDocs)
	}
}

func TestUploadFileWithoutStorageAnswersUnavailable(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeNotes{})
	server := NewHTTPServer(svc, "*")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "interview.wav")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte("RIFFdata")); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/documents/doc-1/file", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+testToken(t))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["code"] != "FILES_UNAVAILABLE" {
		t.Fatalf("expected code FILES_UNAVAILABLE, got %v", payload["code"])
	}
}

func TestDownloadFileStreamsStoredBytes(t *testing.T) {
	key := objstore.DocumentKey("doc-1", "interview.wav")
	fs := &fakeStore{
		getDocumentFn: func(_ context.Context, documentID string) (store.Document, error) {
			return store.Document{
				ID:       documentID,
				CorpusID: "cor-1",
				Title:    "Interview 001 - Market day",
				FileKey:  key,
				FileName: "interview.wav",
				FileSize: 8,
				MimeType: "audio/wav",
			}, nil
		},
	}
	svc := newTestService(fs, &fakeNotes{})
	svc.files = &fakeFiles{puts: map[string][]byte{key: []byte("RIFFdata")}}
	server := NewHTTPServer(svc, "*")

	req := authedRequest(t, http.MethodGet, "/api/documents/doc-1/file", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if rr.Body.String() != "RIFFdata" {
		t.Fatalf("expected the stored bytes, got %q", rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "audio/wav" {
		t.Fatalf("expected the stored mime type, got %q", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, `filename="interview.wav"`) {
		t.Fatalf("expected the file name in the disposition, got %q", cd)
	}
}

func TestExportCorpusAsCSV(t *testing.T) {
	fs := &fakeStore{
		listColumnsFn: func(context.Context, string) ([]store.Column, error) {
			return []store.Column{
				{ID: "col-sp", CorpusID: "cor-1", Name: "Speaker", DataType: fieldtype.TypeString, DisplayOrder: 0},
				{ID: "col-rev", CorpusID: "cor-1", Name: "Reviewed", DataType: fieldtype.TypeBoolean, DisplayOrder: 1},
			}, nil
		},
		listDocumentsFn: func(context.Context, string) ([]store.Document, error) {
			return []store.Document{
				{ID: "doc-1", CorpusID: "cor-1", Title: "Interview 001 - Market day"},
				{ID: "doc-2", CorpusID: "cor-1", Title: "Interview 002 - Harvest songs"},
			}, nil
		},
		listCorpusCellsFn: func(context.Context, string) ([]store.CellWithColumn, error) {
			return []store.CellWithColumn{
				{Datacell: store.Datacell{ID: "cel-1", DocumentID: "doc-1", ColumnID: "col-sp", Value: "Amina W."}},
				{Datacell: store.Datacell{ID: "cel-2", DocumentID: "doc-1", ColumnID: "col-rev", Value: true}},
				{Datacell: store.Datacell{ID: "cel-3", DocumentID: "doc-2", ColumnID: "col-sp", Value: "Daniel O."}},
			}, nil
		},
	}
	svc := newTestService(fs, &fakeNotes{})
	server := NewHTTPServer(svc, "*")

	body := bytes.NewBufferString(`{"format": "csv"}`)
	req := authedRequest(t, http.MethodPost, "/api/corpora/cor-1/export", body)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("expected text/csv, got %q", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, "Field-Recordings.csv") {
		t.Fatalf("expected the corpus name in the filename, got %q", cd)
	}
	lines := strings.Split(strings.TrimRight(rr.Body.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected a header and two rows, got %q", rr.Body.String())
	}
	if lines[0] != "Document,Speaker,Reviewed" {
		t.Fatalf("unexpected header row %q", lines[0])
	}
	if lines[1] != "Interview 001 - Market day,Amina W.,true" {
		t.Fatalf("unexpected first row %q", lines[1])
	}
	if lines[2] != "Interview 002 - Harvest songs,Daniel O.," {
		t.Fatalf("unexpected second row %q", lines[2])
	}
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeNotes{})
	server := NewHTTPServer(svc, "*")

	body := bytes.NewBufferString(`{"format": "xlsx"}`)
	req := authedRequest(t, http.MethodPost, "/api/corpora/cor-1/export", body)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["message"] != "Unknown export format" {
		t.Fatalf("expected the format rejection, got %v", payload["message"])
	}
}

func TestDeleteDocumentCleansDerivedState(t *testing.T) {
	var removedRepos []string
	fileKey := objstore.DocumentKey("doc-1", "interview.wav")
	fs := &fakeStore{
		getDocumentFn: func(_ context.Context, documentID string) (store.Document, error) {
			return store.Document{ID: documentID, CorpusID: "cor-1", Title: "Interview 001 - Market day", FileKey: fileKey}, nil
		},
		listCellsFn: func(context.Context, string) ([]store.CellWithColumn, error) {
			return []store.CellWithColumn{
				{Datacell: store.Datacell{ID: "cel-1", DocumentID: "doc-1"}},
				{Datacell: store.Datacell{ID: "cel-2", DocumentID: "doc-1"}},
			}, nil
		},
		listNotesFn: func(context.Context, string) ([]store.Note, error) {
			return []store.Note{
				{ID: "note-1", CorpusID: "cor-1", DocumentID: "doc-1", Title: "Transcription conventions"},
				{ID: "note-2", CorpusID: "cor-1", DocumentID: "doc-9", Title: "Glossary"},
			}, nil
		},
	}
	fn := &fakeNotes{
		removeNoteRepoFn: func(noteID string) error {
			removedRepos = append(removedRepos, noteID)
			return nil
		},
	}
	svc := newTestService(fs, fn)
	files := &fakeFiles{}
	svc.files = files
	fsearch := &fakeSearch{}
	svc.search = fsearch
	server := NewHTTPServer(svc, "*")

	req := authedRequest(t, http.MethodDelete, "/api/documents/doc-1", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if len(fsearch.deletedDocs) != 1 || fsearch.deletedDocs[0] != "doc-1" {
		t.Fatalf("expected the document dropped from the index, got %v", fsearch.deletedDocs)
	}
	if len(fsearch.deletedCells) != 2 {
		t.Fatalf("expected both cells dropped from the index, got %v", fsearch.deletedCells)
	}
	if len(fsearch.deletedNotes) != 1 || fsearch.deletedNotes[0] != "note-1" {
		t.Fatalf("expected only the anchored note dropped, got %v", fsearch.deletedNotes)
	}
	if len(removedRepos) != 1 || removedRepos[0] != "note-1" {
		t.Fatalf("expected only the anchored note repo removed, got %v", removedRepos)
	}
	if len(files.removed) != 1 || files.removed[0] != fileKey {
		t.Fatalf("expected the stored file removed, got %v", files.removed)
	}
}
