package app

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"corpusgrid/internal/export"
)

func (s *HTTPServer) handleCorpora(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 {
		if r.Method == http.MethodGet {
			payload, err := s.service.ListCorpora(r.Context(), session)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"corpora": payload})
			return
		}
		if r.Method == http.MethodPost {
			var input CorpusInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateCorpus(r.Context(), session, input)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	corpusID := parts[0]
	rest := parts[1:]

	if len(rest) == 0 {
		if r.Method == http.MethodGet {
			payload, err := s.service.GetCorpus(r.Context(), session, corpusID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}
		if r.Method == http.MethodPut {
			var input CorpusInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.UpdateCorpus(r.Context(), session, corpusID, input)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}
		if r.Method == http.MethodDelete {
			payload, err := s.service.DeleteCorpus(r.Context(), session, corpusID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	switch rest[0] {
	case "columns":
		s.handleCorpusColumns(w, r, session, corpusID, rest[1:])
	case "documents":
		s.handleCorpusDocuments(w, r, session, corpusID, rest[1:])
	case "cells":
		if len(rest) == 1 && r.Method == http.MethodGet {
			payload, err := s.service.CorpusCells(r.Context(), session, corpusID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"cells": payload})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	case "notes":
		s.handleCorpusNotes(w, r, session, corpusID, rest[1:])
	case "permissions":
		s.handleCorpusPermissions(w, r, session, corpusID, rest[1:])
	case "actions":
		if len(rest) == 1 && r.Method == http.MethodGet {
			payload, err := s.service.AllowedActions(r.Context(), session, corpusID, r.URL.Query().Get("target"))
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	case "export":
		if len(rest) == 1 && r.Method == http.MethodPost {
			var body struct {
				Format string `json:"format"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			result, err := s.service.ExportCorpus(r.Context(), session, corpusID, export.Format(body.Format))
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			w.Header().Set("Content-Type", result.MimeType)
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
			w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(result.Data)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleCorpusColumns(w http.ResponseWriter, r *http.Request, session Session, corpusID string, rest []string) {
	if len(rest) == 0 {
		if r.Method == http.MethodGet {
			payload, err := s.service.ListColumns(r.Context(), session, corpusID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"columns": payload})
			return
		}
		if r.Method == http.MethodPost {
			var input ColumnInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateColumn(r.Context(), session, corpusID, input)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(rest) == 1 && rest[0] == "order" {
		if r.Method == http.MethodPut {
			var input ReorderInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.ReorderColumns(r.Context(), session, corpusID, input)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(rest) == 1 {
		columnID := rest[0]
		if r.Method == http.MethodPut {
			var input ColumnUpdateInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.UpdateColumn(r.Context(), session, corpusID, columnID, input)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}
		if r.Method == http.MethodDelete {
			payload, err := s.service.DeleteColumn(r.Context(), session, corpusID, columnID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleCorpusDocuments(w http.ResponseWriter, r *http.Request, session Session, corpusID string, rest []string) {
	if len(rest) != 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if r.Method == http.MethodGet {
		payload, err := s.service.ListDocuments(r.Context(), session, corpusID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": payload})
		return
	}
	if r.Method == http.MethodPost {
		var body struct {
			Title string `json:"title"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CreateDocument(r.Context(), session, corpusID, body.Title)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, session Session, documentID string, parts []string) {
	if len(parts) == 0 {
		if r.Method == http.MethodGet {
			payload, err := s.service.GetDocument(r.Context(), session, documentID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}
		if r.Method == http.MethodPut {
			var body struct {
				Title string `json:"title"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.RenameDocument(r.Context(), session, documentID, body.Title)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}
		if r.Method == http.MethodDelete {
			payload, err := s.service.DeleteDocument(r.Context(), session, documentID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if parts[0] == "file" && len(parts) == 1 {
		if r.Method == http.MethodPost {
			if err := r.ParseMultipartForm(64 << 20); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", "Could not parse multipart form", nil)
				return
			}
			file, header, err := r.FormFile("file")
			if err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", "file field is required", nil)
				return
			}
			defer file.Close()
			payload, err := s.service.AttachFile(r.Context(), session, documentID, header.Filename, header.Size, header.Header.Get("Content-Type"), file)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}
		if r.Method == http.MethodGet {
			rc, doc, err := s.service.OpenFile(r.Context(), session, documentID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			defer rc.Close()
			w.Header().Set("Content-Type", doc.MimeType)
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.FileName))
			if doc.FileSize > 0 {
				w.Header().Set("Content-Length", strconv.FormatInt(doc.FileSize, 10))
			}
			w.WriteHeader(http.StatusOK)
			_, _ = io.Copy(w, rc)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if parts[0] == "cells" && len(parts) == 2 {
		columnID := parts[1]
		if r.Method == http.MethodPut {
			var input CellInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.SetCell(r.Context(), session, documentID, columnID, input)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}
		if r.Method == http.MethodDelete {
			payload, err := s.service.ClearCell(r.Context(), session, documentID, columnID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}
