// Package apiclient is the HTTP transport for the corpusgrid API. The
// grid components never talk to the network themselves; they consume
// this client (or a fake of it) through small interfaces. Mutations
// decode the uniform {ok, message, obj} envelope and callers branch on
// ok, never on transport success alone.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"corpusgrid/internal/fieldtype"
	"corpusgrid/internal/rbac"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New builds a client for the API at baseURL. token may be empty until
// Login or SetToken provides one.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// SetToken replaces the bearer token used on subsequent requests. Not
// safe to call concurrently with in-flight requests.
func (c *Client) SetToken(token string) { c.token = token }

type Session struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refreshToken"`
	UserName     string    `json:"userName"`
	UserID       string    `json:"userId"`
	Role         string    `json:"role"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type Corpus struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	OwnerID     string    `json:"ownerId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Document struct {
	ID        string    `json:"id"`
	CorpusID  string    `json:"corpusId"`
	Title     string    `json:"title"`
	File      *FileInfo `json:"file"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type FileInfo struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}

type Column struct {
	ID           string             `json:"id"`
	CorpusID     string             `json:"corpusId"`
	Name         string             `json:"name"`
	DataType     fieldtype.DataType `json:"dataType"`
	HelpText     string             `json:"helpText"`
	Config       fieldtype.Config   `json:"config"`
	DefaultValue any                `json:"defaultValue"`
	DisplayOrder int                `json:"displayOrder"`
	ManualEntry  bool               `json:"manualEntry"`
	CreatedAt    time.Time          `json:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt"`
}

// Cell is a stored value. ColumnName and DataType are filled on the
// corpus-wide listing, which joins each cell with its column; single
// cell answers leave them zero.
type Cell struct {
	ID         string             `json:"id"`
	DocumentID string             `json:"documentId"`
	ColumnID   string             `json:"columnId"`
	Value      any                `json:"value"`
	Annotation string             `json:"annotation"`
	ColumnName string             `json:"columnName"`
	DataType   fieldtype.DataType `json:"dataType"`
	CreatedBy  string             `json:"createdBy"`
	UpdatedAt  time.Time          `json:"updatedAt"`
}

// ColumnDraft is the create payload. DisplayOrder carries the position
// the caller expects (its local column count); the server assigns the
// authoritative order and always appends to the end of the grid.
type ColumnDraft struct {
	Name         string             `json:"name"`
	DataType     fieldtype.DataType `json:"dataType"`
	HelpText     string             `json:"helpText,omitempty"`
	Config       fieldtype.Config   `json:"config"`
	DefaultValue any                `json:"defaultValue,omitempty"`
	DisplayOrder int                `json:"displayOrder"`
	ManualEntry  *bool              `json:"manualEntry,omitempty"`
}

// ColumnUpdate carries only the fields to change. DefaultValue is raw
// JSON so an explicit null (clear the default) survives encoding.
type ColumnUpdate struct {
	Name         *string           `json:"name,omitempty"`
	HelpText     *string           `json:"helpText,omitempty"`
	Config       *fieldtype.Config `json:"config,omitempty"`
	DefaultValue json.RawMessage   `json:"defaultValue,omitempty"`
	ManualEntry  *bool             `json:"manualEntry,omitempty"`
}

// Empty reports whether the update would change nothing.
func (u ColumnUpdate) Empty() bool {
	return u.Name == nil && u.HelpText == nil && u.Config == nil &&
		len(u.DefaultValue) == 0 && u.ManualEntry == nil
}

type CellWrite struct {
	Value      any     `json:"value"`
	Annotation *string `json:"annotation,omitempty"`
}

// CapabilitySet is the action menu the server computed for the caller's
// role on one corpus, filtered to a single target kind.
type CapabilitySet struct {
	Role    string            `json:"role"`
	Actions []rbac.ActionSpec `json:"actions"`
}

type Export struct {
	Filename string
	MimeType string
	Data     []byte
}

// Login exchanges a display name for a session and keeps the access
// token for subsequent requests.
func (c *Client) Login(ctx context.Context, name string) (Session, error) {
	const path = "/api/session/login"
	resp, err := c.send(ctx, http.MethodPost, path, map[string]string{"name": name})
	if err != nil {
		return Session{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Session{}, rejectionFrom(resp, http.MethodPost, path)
	}
	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return Session{}, &TransportError{Method: http.MethodPost, Path: path, Err: fmt.Errorf("decode session: %w", err)}
	}
	c.token = session.Token
	return session, nil
}

func (c *Client) ListCorpora(ctx context.Context) ([]Corpus, error) {
	var payload struct {
		Corpora []Corpus `json:"corpora"`
	}
	if err := c.get(ctx, "/api/corpora", &payload); err != nil {
		return nil, err
	}
	return payload.Corpora, nil
}

func (c *Client) ListDocuments(ctx context.Context, corpusID string) ([]Document, error) {
	var payload struct {
		Documents []Document `json:"documents"`
	}
	path := fmt.Sprintf("/api/corpora/%s/documents", url.PathEscape(corpusID))
	if err := c.get(ctx, path, &payload); err != nil {
		return nil, err
	}
	return payload.Documents, nil
}

func (c *Client) ListColumns(ctx context.Context, corpusID string) ([]Column, error) {
	var payload struct {
		Columns []Column `json:"columns"`
	}
	path := fmt.Sprintf("/api/corpora/%s/columns", url.PathEscape(corpusID))
	if err := c.get(ctx, path, &payload); err != nil {
		return nil, err
	}
	return payload.Columns, nil
}

func (c *Client) CreateColumn(ctx context.Context, corpusID string, draft ColumnDraft) (Column, error) {
	var column Column
	path := fmt.Sprintf("/api/corpora/%s/columns", url.PathEscape(corpusID))
	if err := c.mutate(ctx, http.MethodPost, path, draft, &column); err != nil {
		return Column{}, err
	}
	return column, nil
}

func (c *Client) UpdateColumn(ctx context.Context, corpusID, columnID string, update ColumnUpdate) (Column, error) {
	var column Column
	path := fmt.Sprintf("/api/corpora/%s/columns/%s", url.PathEscape(corpusID), url.PathEscape(columnID))
	if err := c.mutate(ctx, http.MethodPut, path, update, &column); err != nil {
		return Column{}, err
	}
	return column, nil
}

func (c *Client) DeleteColumn(ctx context.Context, corpusID, columnID string) error {
	path := fmt.Sprintf("/api/corpora/%s/columns/%s", url.PathEscape(corpusID), url.PathEscape(columnID))
	return c.mutate(ctx, http.MethodDelete, path, nil, nil)
}

// ReorderColumns submits the complete new column order and returns the
// full renumbered list the server answered with.
func (c *Client) ReorderColumns(ctx context.Context, corpusID string, orderedIDs []string) ([]Column, error) {
	var columns []Column
	path := fmt.Sprintf("/api/corpora/%s/columns/order", url.PathEscape(corpusID))
	body := map[string]any{"orderedIds": orderedIDs}
	if err := c.mutate(ctx, http.MethodPut, path, body, &columns); err != nil {
		return nil, err
	}
	return columns, nil
}

func (c *Client) ListCells(ctx context.Context, corpusID string) ([]Cell, error) {
	var payload struct {
		Cells []Cell `json:"cells"`
	}
	path := fmt.Sprintf("/api/corpora/%s/cells", url.PathEscape(corpusID))
	if err := c.get(ctx, path, &payload); err != nil {
		return nil, err
	}
	return payload.Cells, nil
}

func (c *Client) SetCell(ctx context.Context, documentID, columnID string, write CellWrite) (Cell, error) {
	var cell Cell
	path := fmt.Sprintf("/api/documents/%s/cells/%s", url.PathEscape(documentID), url.PathEscape(columnID))
	if err := c.mutate(ctx, http.MethodPut, path, write, &cell); err != nil {
		return Cell{}, err
	}
	return cell, nil
}

func (c *Client) DeleteCell(ctx context.Context, documentID, columnID string) error {
	path := fmt.Sprintf("/api/documents/%s/cells/%s", url.PathEscape(documentID), url.PathEscape(columnID))
	return c.mutate(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) Capabilities(ctx context.Context, corpusID string, target rbac.Target) (CapabilitySet, error) {
	var set CapabilitySet
	path := fmt.Sprintf("/api/corpora/%s/actions?target=%s", url.PathEscape(corpusID), url.QueryEscape(string(target)))
	if err := c.get(ctx, path, &set); err != nil {
		return CapabilitySet{}, err
	}
	return set, nil
}

// ExportCorpus downloads the grid in the given format ("csv" or "pdf").
func (c *Client) ExportCorpus(ctx context.Context, corpusID, format string) (*Export, error) {
	path := fmt.Sprintf("/api/corpora/%s/export", url.PathEscape(corpusID))
	resp, err := c.send(ctx, http.MethodPost, path, map[string]string{"format": format})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, rejectionFrom(resp, http.MethodPost, path)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Method: http.MethodPost, Path: path, Err: fmt.Errorf("read export: %w", err)}
	}
	filename := ""
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		filename = params["filename"]
	}
	return &Export{Filename: filename, MimeType: resp.Header.Get("Content-Type"), Data: data}, nil
}

// envelope is both halves of the mutation contract: ok=true answers
// carry obj, ok=false answers carry code and message.
type envelope struct {
	OK      bool            `json:"ok"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Details any             `json:"details"`
	Obj     json.RawMessage `json:"obj"`
}

func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, &TransportError{Method: method, Path: path, Err: fmt.Errorf("encode body: %w", err)}
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &TransportError{Method: method, Path: path, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Method: method, Path: path, Err: err}
	}
	return resp, nil
}

// get decodes a plain (non-envelope) answer into out.
func (c *Client) get(ctx context.Context, path string, out any) error {
	resp, err := c.send(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return rejectionFrom(resp, http.MethodGet, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{Method: http.MethodGet, Path: path, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// mutate sends a mutation and decodes the envelope. The HTTP status is
// not consulted for success; ok is.
func (c *Client) mutate(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return &TransportError{Method: method, Path: path, Err: fmt.Errorf("decode envelope: %w", err)}
	}
	if !env.OK {
		return &RejectedError{Status: resp.StatusCode, Code: env.Code, Message: env.Message, Details: env.Details}
	}
	if out != nil && len(env.Obj) > 0 {
		if err := json.Unmarshal(env.Obj, out); err != nil {
			return &TransportError{Method: method, Path: path, Err: fmt.Errorf("decode obj: %w", err)}
		}
	}
	return nil
}

func rejectionFrom(resp *http.Response, method, path string) error {
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil || env.Message == "" {
		return &TransportError{Method: method, Path: path, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	return &RejectedError{Status: resp.StatusCode, Code: env.Code, Message: env.Message, Details: env.Details}
}
