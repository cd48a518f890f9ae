// Package cellsync drives the editing lifecycle of grid cells. Every
// (document, column) pair gets an independent little state machine:
// idle until focused, editing while the value changes, saving while a
// request is in flight, error when one came back bad. Saves are
// debounced so rapid keystrokes collapse into one request, and every
// request carries a per-cell sequence number so a slow answer can never
// overwrite a newer one.
package cellsync

import (
	"context"
	"sync"
	"time"

	"corpusgrid/internal/apiclient"
	"corpusgrid/internal/fieldtype"
	"corpusgrid/internal/notify"
)

// Key identifies one editable cell.
type Key struct {
	DocumentID string
	ColumnID   string
}

type Status string

const (
	StatusIdle    Status = "idle"
	StatusEditing Status = "editing"
	StatusSaving  Status = "saving"
	StatusError   Status = "error"
)

const (
	DefaultDebounce = 300 * time.Millisecond
	DefaultTimeout  = 15 * time.Second
)

// State is a snapshot of one cell's editor.
type State struct {
	Status   Status
	Original any    // last server-confirmed value
	Pending  any    // value being typed or awaiting its ack
	Err      string // inline message for the editing and error states
	Seq      uint64 // sequence of the newest issued request
}

// Display returns the value the grid shows for this state: the pending
// value while editing or saving, the confirmed value otherwise. In the
// error state the confirmed value is back on screen.
func (s State) Display() any {
	switch s.Status {
	case StatusEditing, StatusSaving:
		return s.Pending
	default:
		return s.Original
	}
}

// API is the slice of the transport the synchronizer uses.
type API interface {
	SetCell(ctx context.Context, documentID, columnID string, write apiclient.CellWrite) (apiclient.Cell, error)
	DeleteCell(ctx context.Context, documentID, columnID string) error
}

// ColumnSource resolves column definitions for local validation; the
// column registry implements it.
type ColumnSource interface {
	Column(id string) (apiclient.Column, bool)
}

type Synchronizer struct {
	api      API
	columns  ColumnSource
	notifier notify.Notifier
	debounce time.Duration
	timeout  time.Duration

	mu          sync.Mutex
	cells       map[Key]*editor
	subscribers map[int]func(Key, State)
	nextSub     int
}

type editor struct {
	status        Status
	original      any
	pending       any
	errMsg        string
	seq           uint64
	debounceToken uint64
	timer         *time.Timer
}

func (e *editor) state() State {
	return State{Status: e.status, Original: e.original, Pending: e.pending, Err: e.errMsg, Seq: e.seq}
}

func (e *editor) stopTimer() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

func New(api API, columns ColumnSource, notifier notify.Notifier) *Synchronizer {
	if notifier == nil {
		notifier = notify.Discard
	}
	return &Synchronizer{
		api:         api,
		columns:     columns,
		notifier:    notifier,
		debounce:    DefaultDebounce,
		timeout:     DefaultTimeout,
		cells:       make(map[Key]*editor),
		subscribers: make(map[int]func(Key, State)),
	}
}

// SetDebounce adjusts how long a value must sit unchanged before the
// auto-commit fires. Call before use.
func (s *Synchronizer) SetDebounce(d time.Duration) { s.debounce = d }

// SetTimeout adjusts the per-request deadline. Call before use.
func (s *Synchronizer) SetTimeout(d time.Duration) { s.timeout = d }

// Subscribe registers fn for every state change of every cell.
// Callbacks run outside the lock with the snapshot the change produced.
// The returned function cancels the subscription.
func (s *Synchronizer) Subscribe(fn func(Key, State)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

// State returns the cell's current snapshot. Cells never touched are
// idle with no value.
func (s *Synchronizer) State(key Key) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.cells[key]; ok {
		return e.state()
	}
	return State{Status: StatusIdle}
}

// Hydrate seeds the confirmed value of a cell, typically from the
// corpus-wide cell listing. An edit in progress keeps its pending
// value; only the confirmed side is replaced.
func (s *Synchronizer) Hydrate(key Key, value any) {
	s.transition(key, func(e *editor) {
		e.original = value
	})
}

// Edit opens the editor, starting from the confirmed value. Reopening
// an errored cell starts over from the confirmed value; Retry is the
// way back to the failed one.
func (s *Synchronizer) Edit(key Key) State {
	return s.transition(key, func(e *editor) {
		switch e.status {
		case StatusIdle, StatusError:
			e.status = StatusEditing
			e.pending = e.original
			e.errMsg = ""
		case StatusSaving:
			e.status = StatusEditing
		}
	})
}

// Input records the current value of the editor and re-arms the
// debounce; the auto-commit fires once the value has been stable for
// the whole window. Typing on an idle or errored cell opens it.
func (s *Synchronizer) Input(key Key, value any) State {
	return s.transition(key, func(e *editor) {
		if e.status != StatusEditing {
			e.status = StatusEditing
		}
		e.pending = value
		e.errMsg = ""
		e.debounceToken++
		token := e.debounceToken
		e.stopTimer()
		e.timer = time.AfterFunc(s.debounce, func() { s.debounceFire(key, token) })
	})
}

// Cancel closes the editor without saving; nothing is sent. A save
// already in flight is not cancelled, it completes and settles the
// cell on its own.
func (s *Synchronizer) Cancel(key Key) State {
	return s.transition(key, func(e *editor) {
		e.stopTimer()
		switch e.status {
		case StatusEditing, StatusError:
			e.status = StatusIdle
			e.pending = nil
			e.errMsg = ""
		}
	})
}

// Retry reopens an errored cell with the failed value still pending so
// the user can resubmit or fix it.
func (s *Synchronizer) Retry(key Key) State {
	return s.transition(key, func(e *editor) {
		if e.status == StatusError {
			e.status = StatusEditing
			e.errMsg = ""
		}
	})
}

// Commit validates the pending value and, when it passes, issues the
// save. A validation failure keeps the editor open with an inline
// message and produces no request. Issued saves carry the cell's next
// sequence number; only the answer to the newest request is applied.
func (s *Synchronizer) Commit(key Key) State {
	s.mu.Lock()
	e := s.editorLocked(key)
	if e.status != StatusEditing && e.status != StatusSaving {
		state := e.state()
		s.mu.Unlock()
		return state
	}
	e.stopTimer()

	column, ok := s.columns.Column(key.ColumnID)
	if !ok {
		e.status = StatusEditing
		e.errMsg = "Unknown field"
		return s.fanoutLocked(key, e)
	}
	normalized, err := fieldtype.Validate(column.DataType, column.Config, e.pending)
	if err != nil {
		e.status = StatusEditing
		e.errMsg = err.Error()
		return s.fanoutLocked(key, e)
	}

	e.pending = normalized
	e.errMsg = ""
	e.status = StatusSaving
	e.seq++
	seq := e.seq
	go s.save(key, seq, normalized)
	return s.fanoutLocked(key, e)
}

// Clear removes the stored value through the same sequencing as a
// save. The server may still refuse, e.g. for a required field; that
// answer lands as an error state like any failed save.
func (s *Synchronizer) Clear(key Key) State {
	s.mu.Lock()
	e := s.editorLocked(key)
	e.stopTimer()
	e.status = StatusSaving
	e.pending = nil
	e.errMsg = ""
	e.seq++
	seq := e.seq
	go s.clear(key, seq)
	return s.fanoutLocked(key, e)
}

func (s *Synchronizer) save(key Key, seq uint64, value any) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	saved, err := s.api.SetCell(ctx, key.DocumentID, key.ColumnID, apiclient.CellWrite{Value: value})
	if err != nil {
		s.settleFailure(key, seq, err)
		return
	}
	s.settleSuccess(key, seq, saved.Value)
}

func (s *Synchronizer) clear(key Key, seq uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.api.DeleteCell(ctx, key.DocumentID, key.ColumnID); err != nil {
		s.settleFailure(key, seq, err)
		return
	}
	s.settleSuccess(key, seq, nil)
}

// settleSuccess applies the server's answer: the returned value is the
// authoritative one. If the user resumed editing while the request was
// in flight only the confirmed side updates and the editor stays open.
func (s *Synchronizer) settleSuccess(key Key, seq uint64, confirmed any) {
	s.mu.Lock()
	e, ok := s.cells[key]
	if !ok || seq != e.seq {
		// a newer request was issued after this one; its answer rules
		s.mu.Unlock()
		return
	}
	e.original = confirmed
	if e.status == StatusSaving {
		e.status = StatusIdle
		e.pending = nil
		e.errMsg = ""
	}
	s.fanoutLocked(key, e)
}

// settleFailure reverts the display to the confirmed value, keeps the
// rejected value pending for Retry and surfaces the failure.
func (s *Synchronizer) settleFailure(key Key, seq uint64, err error) {
	s.mu.Lock()
	e, ok := s.cells[key]
	if !ok || seq != e.seq {
		s.mu.Unlock()
		return
	}
	message := apiclient.UserMessage(err)
	if e.status == StatusSaving {
		e.status = StatusError
	}
	e.errMsg = message
	s.fanoutLocked(key, e)
	s.notifier.Error(message)
}

func (s *Synchronizer) debounceFire(key Key, token uint64) {
	s.mu.Lock()
	e, ok := s.cells[key]
	if !ok || e.debounceToken != token || e.status != StatusEditing {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.Commit(key)
}

func (s *Synchronizer) editorLocked(key Key) *editor {
	e, ok := s.cells[key]
	if !ok {
		e = &editor{status: StatusIdle}
		s.cells[key] = e
	}
	return e
}

// transition runs mutate under the lock and fans the resulting state
// out to subscribers.
func (s *Synchronizer) transition(key Key, mutate func(e *editor)) State {
	s.mu.Lock()
	e := s.editorLocked(key)
	mutate(e)
	return s.fanoutLocked(key, e)
}

// fanoutLocked snapshots the state, releases the lock and notifies
// subscribers. The caller must hold the lock.
func (s *Synchronizer) fanoutLocked(key Key, e *editor) State {
	state := e.state()
	subs := make([]func(Key, State), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(key, state)
	}
	return state
}
