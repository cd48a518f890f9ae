// Package registry keeps an ordered local cache of one corpus's columns
// and pushes column edits through the API. The cache changes only on a
// confirmed outcome: a failed mutation leaves it exactly as it was.
package registry

import (
	"context"
	"encoding/json"
	"reflect"
	"sort"
	"strings"
	"sync"

	"corpusgrid/internal/apiclient"
	"corpusgrid/internal/fieldtype"
	"corpusgrid/internal/notify"
)

// API is the slice of the transport the registry uses.
type API interface {
	ListColumns(ctx context.Context, corpusID string) ([]apiclient.Column, error)
	CreateColumn(ctx context.Context, corpusID string, draft apiclient.ColumnDraft) (apiclient.Column, error)
	UpdateColumn(ctx context.Context, corpusID, columnID string, update apiclient.ColumnUpdate) (apiclient.Column, error)
	DeleteColumn(ctx context.Context, corpusID, columnID string) error
	ReorderColumns(ctx context.Context, corpusID string, orderedIDs []string) ([]apiclient.Column, error)
}

// ValidationError is a local rejection; no request was made.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

type Direction int

const (
	MoveUp   Direction = -1
	MoveDown Direction = 1
)

// Draft is a new column before submission.
type Draft struct {
	Name         string
	DataType     fieldtype.DataType
	HelpText     string
	Config       fieldtype.Config
	DefaultValue any
	ManualEntry  *bool
}

// Change carries the fields an edit wants to touch; nil leaves the
// field alone. DefaultValue is raw JSON so an explicit null (clear the
// default) survives.
type Change struct {
	Name         *string
	HelpText     *string
	Config       *fieldtype.Config
	DefaultValue json.RawMessage
	ManualEntry  *bool
}

// Client is the column registry for one corpus. Mutating calls hold the
// cache lock for their full duration, so concurrent edits cannot
// interleave half-applied states.
type Client struct {
	api      API
	notifier notify.Notifier
	corpusID string

	mu            sync.Mutex
	columns       []apiclient.Column
	pendingDelete string
}

func New(api API, notifier notify.Notifier, corpusID string) *Client {
	if notifier == nil {
		notifier = notify.Discard
	}
	return &Client{api: api, notifier: notifier, corpusID: corpusID}
}

// Refresh fetches the column list and replaces the cache with it in
// ascending display order. On failure the cache keeps its last state.
func (c *Client) Refresh(ctx context.Context) ([]apiclient.Column, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	columns, err := c.api.ListColumns(ctx, c.corpusID)
	if err != nil {
		return nil, err
	}
	sortColumns(columns)
	c.columns = append([]apiclient.Column(nil), columns...)
	return columns, nil
}

// Columns returns a copy of the cached list in display order.
func (c *Client) Columns() []apiclient.Column {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]apiclient.Column(nil), c.columns...)
}

// Column finds a cached column by id.
func (c *Client) Column(id string) (apiclient.Column, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx := c.indexOf(id); idx >= 0 {
		return c.columns[idx], true
	}
	return apiclient.Column{}, false
}

// Create submits the draft with displayOrder set to the current column
// count; new columns always go to the end of the grid. A blank name is
// rejected before any request. On success the created column is
// appended and the list re-sorted.
func (c *Client) Create(ctx context.Context, draft Draft) (apiclient.Column, error) {
	name := strings.TrimSpace(draft.Name)
	if name == "" {
		return apiclient.Column{}, &ValidationError{Message: "Field name is required"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	wire := apiclient.ColumnDraft{
		Name:         name,
		DataType:     draft.DataType,
		HelpText:     draft.HelpText,
		Config:       draft.Config,
		DefaultValue: draft.DefaultValue,
		DisplayOrder: len(c.columns),
		ManualEntry:  draft.ManualEntry,
	}
	created, err := c.api.CreateColumn(ctx, c.corpusID, wire)
	if err != nil {
		c.notifier.Error(apiclient.UserMessage(err))
		return apiclient.Column{}, err
	}
	c.columns = append(c.columns, created)
	sortColumns(c.columns)
	return created, nil
}

// Update submits only the fields that actually differ from the cached
// column and replaces the cached entry in place on success.
func (c *Client) Update(ctx context.Context, columnID string, change Change) (apiclient.Column, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.indexOf(columnID)
	if idx < 0 {
		return apiclient.Column{}, &ValidationError{Message: "Unknown field"}
	}
	current := c.columns[idx]

	var update apiclient.ColumnUpdate
	if change.Name != nil {
		name := strings.TrimSpace(*change.Name)
		if name == "" {
			return apiclient.Column{}, &ValidationError{Message: "Field name is required"}
		}
		if name != current.Name {
			update.Name = &name
		}
	}
	if change.HelpText != nil && *change.HelpText != current.HelpText {
		update.HelpText = change.HelpText
	}
	if change.Config != nil && !reflect.DeepEqual(*change.Config, current.Config) {
		update.Config = change.Config
	}
	if len(change.DefaultValue) > 0 {
		update.DefaultValue = change.DefaultValue
	}
	if change.ManualEntry != nil && *change.ManualEntry != current.ManualEntry {
		update.ManualEntry = change.ManualEntry
	}
	if update.Empty() {
		return current, nil
	}

	updated, err := c.api.UpdateColumn(ctx, c.corpusID, columnID, update)
	if err != nil {
		c.notifier.Error(apiclient.UserMessage(err))
		return apiclient.Column{}, err
	}
	c.columns[idx] = updated
	return updated, nil
}

// RequestDelete marks columnID for deletion and returns the column for
// the confirmation prompt. Nothing is sent yet.
func (c *Client) RequestDelete(columnID string) (apiclient.Column, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.indexOf(columnID)
	if idx < 0 {
		return apiclient.Column{}, &ValidationError{Message: "Unknown field"}
	}
	c.pendingDelete = columnID
	return c.columns[idx], nil
}

// CancelDelete forgets the pending deletion.
func (c *Client) CancelDelete() {
	c.mu.Lock()
	c.pendingDelete = ""
	c.mu.Unlock()
}

// PendingDelete reports the column currently awaiting confirmation.
func (c *Client) PendingDelete() (apiclient.Column, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pendingDelete == "" {
		return apiclient.Column{}, false
	}
	if idx := c.indexOf(c.pendingDelete); idx >= 0 {
		return c.columns[idx], true
	}
	return apiclient.Column{}, false
}

// ConfirmDelete issues the deletion for the pending column. On success
// the column leaves the cache and the survivors are renumbered densely,
// matching what the server does to the stored order. On failure the
// request stays pending so the prompt can offer a retry.
func (c *Client) ConfirmDelete(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pendingDelete == "" {
		return &ValidationError{Message: "No deletion pending"}
	}
	id := c.pendingDelete
	if err := c.api.DeleteColumn(ctx, c.corpusID, id); err != nil {
		c.notifier.Error(apiclient.UserMessage(err))
		return err
	}
	c.pendingDelete = ""
	if idx := c.indexOf(id); idx >= 0 {
		c.columns = append(c.columns[:idx], c.columns[idx+1:]...)
		for i := range c.columns {
			c.columns[i].DisplayOrder = i
		}
	}
	return nil
}

// Move swaps columnID with its neighbor in the given direction,
// renumbers the whole list densely and persists the new order. If the
// server rejects the order the cache rolls back to the previous one.
// Moving past either end of the list is a no-op.
func (c *Client) Move(ctx context.Context, columnID string, dir Direction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.indexOf(columnID)
	if idx < 0 {
		return &ValidationError{Message: "Unknown field"}
	}
	neighbor := idx + int(dir)
	if neighbor < 0 || neighbor >= len(c.columns) {
		return nil
	}

	previous := append([]apiclient.Column(nil), c.columns...)
	c.columns[idx], c.columns[neighbor] = c.columns[neighbor], c.columns[idx]
	for i := range c.columns {
		c.columns[i].DisplayOrder = i
	}
	orderedIDs := make([]string, len(c.columns))
	for i, column := range c.columns {
		orderedIDs[i] = column.ID
	}

	confirmed, err := c.api.ReorderColumns(ctx, c.corpusID, orderedIDs)
	if err != nil {
		c.columns = previous
		c.notifier.Error(apiclient.UserMessage(err))
		return err
	}
	sortColumns(confirmed)
	c.columns = confirmed
	return nil
}

func (c *Client) indexOf(id string) int {
	for i, column := range c.columns {
		if column.ID == id {
			return i
		}
	}
	return -1
}

func sortColumns(columns []apiclient.Column) {
	sort.SliceStable(columns, func(i, j int) bool {
		return columns[i].DisplayOrder < columns[j].DisplayOrder
	})
}
