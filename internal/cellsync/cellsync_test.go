package cellsync

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"corpusgrid/internal/apiclient"
	"corpusgrid/internal/fieldtype"
	"corpusgrid/internal/notify"
)

type fakeAPI struct {
	setFn    func(ctx context.Context, documentID, columnID string, write apiclient.CellWrite) (apiclient.Cell, error)
	deleteFn func(ctx context.Context, documentID, columnID string) error

	mu      sync.Mutex
	sets    []apiclient.CellWrite
	deletes []Key
}

func (f *fakeAPI) SetCell(ctx context.Context, documentID, columnID string, write apiclient.CellWrite) (apiclient.Cell, error) {
	f.mu.Lock()
	f.sets = append(f.sets, write)
	f.mu.Unlock()
	if f.setFn != nil {
		return f.setFn(ctx, documentID, columnID, write)
	}
	return apiclient.Cell{ID: "cel-1", DocumentID: documentID, ColumnID: columnID, Value: write.Value}, nil
}

func (f *fakeAPI) DeleteCell(ctx context.Context, documentID, columnID string) error {
	f.mu.Lock()
	f.deletes = append(f.deletes, Key{DocumentID: documentID, ColumnID: columnID})
	f.mu.Unlock()
	if f.deleteFn != nil {
		return f.deleteFn(ctx, documentID, columnID)
	}
	return nil
}

func (f *fakeAPI) setCalls() []apiclient.CellWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]apiclient.CellWrite(nil), f.sets...)
}

func (f *fakeAPI) deleteCalls() []Key {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Key(nil), f.deletes...)
}

type fakeColumns struct {
	byID map[string]apiclient.Column
}

func (f fakeColumns) Column(id string) (apiclient.Column, bool) {
	column, ok := f.byID[id]
	return column, ok
}

func testColumns() fakeColumns {
	five := 5.0
	return fakeColumns{byID: map[string]apiclient.Column{
		"col-1": {ID: "col-1", Name: "Speaker", DataType: fieldtype.TypeString, ManualEntry: true},
		"col-2": {ID: "col-2", Name: "Rating", DataType: fieldtype.TypeInteger, Config: fieldtype.Config{Max: &five}, ManualEntry: true},
	}}
}

func newTestSync(api *fakeAPI, notifier notify.Notifier) *Synchronizer {
	s := New(api, testColumns(), notifier)
	s.SetDebounce(20 * time.Millisecond)
	s.SetTimeout(2 * time.Second)
	return s
}

// waitFor subscribes first, then drains states until the wanted status
// shows up.
func waitFor(t *testing.T, s *Synchronizer, key Key, want Status) State {
	t.Helper()
	states := make(chan State, 32)
	cancel := s.Subscribe(func(k Key, st State) {
		if k == key {
			select {
			case states <- st:
			default:
			}
		}
	})
	defer cancel()

	if st := s.State(key); st.Status == want {
		return st
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case st := <-states:
			if st.Status == want {
				return st
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s, cell is %+v", want, s.State(key))
		}
	}
}

func TestEditSnapshotsConfirmedValue(t *testing.T) {
	s := newTestSync(&fakeAPI{}, nil)
	key := Key{DocumentID: "doc-1", ColumnID: "col-1"}
	s.Hydrate(key, "Amina W.")

	state := s.Edit(key)
	if state.Status != StatusEditing {
		t.Fatalf("expected editing, got %s", state.Status)
	}
	if state.Pending != "Amina W." || state.Original != "Amina W." {
		t.Fatalf("expected snapshot of confirmed value, got %+v", state)
	}
	if state.Display() != "Amina W." {
		t.Fatalf("unexpected display value %v", state.Display())
	}
}

func TestCommitValidationFailureStaysLocal(t *testing.T) {
	api := &fakeAPI{}
	s := newTestSync(api, nil)
	key := Key{DocumentID: "doc-1", ColumnID: "col-2"}
	s.Hydrate(key, int64(3))

	s.Input(key, 9)
	state := s.Commit(key)
	if state.Status != StatusEditing {
		t.Fatalf("expected to stay editing, got %s", state.Status)
	}
	if state.Err != "must be at most 5" {
		t.Fatalf("expected inline validation message, got %q", state.Err)
	}
	if calls := api.setCalls(); len(calls) != 0 {
		t.Fatalf("validation failure must not reach the network, got %d calls", len(calls))
	}
}

func TestCommitSettlesOnServerValue(t *testing.T) {
	api := &fakeAPI{
		setFn: func(ctx context.Context, documentID, columnID string, write apiclient.CellWrite) (apiclient.Cell, error) {
			// the server may normalize further; its answer is the one kept
			return apiclient.Cell{Value: "Daniel O."}, nil
		},
	}
	s := newTestSync(api, nil)
	key := Key{DocumentID: "doc-1", ColumnID: "col-1"}

	s.Input(key, "  Daniel O.")
	s.Commit(key)

	state := waitFor(t, s, key, StatusIdle)
	if state.Original != "Daniel O." {
		t.Fatalf("expected server-returned value kept, got %v", state.Original)
	}
	if state.Display() != "Daniel O." {
		t.Fatalf("unexpected display value %v", state.Display())
	}
	if calls := api.setCalls(); len(calls) != 1 {
		t.Fatalf("expected one save, got %d", len(calls))
	}
}

func TestDebounceCollapsesKeystrokes(t *testing.T) {
	api := &fakeAPI{}
	s := newTestSync(api, nil)
	key := Key{DocumentID: "doc-1", ColumnID: "col-1"}

	s.Input(key, "D")
	s.Input(key, "Dan")
	s.Input(key, "Daniel O.")

	state := waitFor(t, s, key, StatusIdle)
	calls := api.setCalls()
	if len(calls) != 1 {
		t.Fatalf("expected keystrokes collapsed into one save, got %d", len(calls))
	}
	if calls[0].Value != "Daniel O." {
		t.Fatalf("expected last stable value saved, got %v", calls[0].Value)
	}
	if state.Original != "Daniel O." {
		t.Fatalf("unexpected confirmed value %v", state.Original)
	}
}

func TestSaveFailureRevertsAndKeepsPendingForRetry(t *testing.T) {
	api := &fakeAPI{
		setFn: func(ctx context.Context, documentID, columnID string, write apiclient.CellWrite) (apiclient.Cell, error) {
			return apiclient.Cell{}, &apiclient.RejectedError{
				Status:  http.StatusForbidden,
				Code:    "FORBIDDEN",
				Message: "This field is written by automation and cannot be edited by hand",
			}
		},
	}
	recorder := &notify.Recorder{}
	s := newTestSync(api, recorder)
	key := Key{DocumentID: "doc-1", ColumnID: "col-1"}
	s.Hydrate(key, "machine-written")

	s.Input(key, "hand edit")
	s.Commit(key)

	state := waitFor(t, s, key, StatusError)
	if state.Display() != "machine-written" {
		t.Fatalf("failed save must put the confirmed value back on screen, got %v", state.Display())
	}
	if state.Pending != "hand edit" {
		t.Fatalf("failed value must stay pending for retry, got %v", state.Pending)
	}
	if state.Err != "This field is written by automation and cannot be edited by hand" {
		t.Fatalf("unexpected inline message %q", state.Err)
	}
	if msgs := recorder.Errors(); len(msgs) != 1 || msgs[0] != state.Err {
		t.Fatalf("expected failure notified once, got %v", msgs)
	}

	retried := s.Retry(key)
	if retried.Status != StatusEditing || retried.Pending != "hand edit" || retried.Err != "" {
		t.Fatalf("retry must reopen with the failed value, got %+v", retried)
	}
}

func TestCancelDiscardsWithoutNetwork(t *testing.T) {
	api := &fakeAPI{}
	s := newTestSync(api, nil)
	s.SetDebounce(time.Hour)
	key := Key{DocumentID: "doc-1", ColumnID: "col-1"}
	s.Hydrate(key, "Amina W.")

	s.Input(key, "half-typed")
	state := s.Cancel(key)

	if state.Status != StatusIdle {
		t.Fatalf("expected idle after cancel, got %s", state.Status)
	}
	if state.Display() != "Amina W." {
		t.Fatalf("expected confirmed value back, got %v", state.Display())
	}
	time.Sleep(50 * time.Millisecond)
	if calls := api.setCalls(); len(calls) != 0 {
		t.Fatalf("cancel must not save, got %d calls", len(calls))
	}
}

func TestStaleResponseIsDiscarded(t *testing.T) {
	firstStarted := make(chan struct{})
	releaseFirst := make(chan struct{})
	api := &fakeAPI{}
	api.setFn = func(ctx context.Context, documentID, columnID string, write apiclient.CellWrite) (apiclient.Cell, error) {
		if write.Value == "first" {
			close(firstStarted)
			<-releaseFirst
			return apiclient.Cell{Value: "first"}, nil
		}
		return apiclient.Cell{Value: "second"}, nil
	}
	s := newTestSync(api, nil)
	key := Key{DocumentID: "doc-1", ColumnID: "col-1"}

	s.Input(key, "first")
	s.Commit(key)
	<-firstStarted

	s.Input(key, "second")
	s.Commit(key)
	state := waitFor(t, s, key, StatusIdle)
	if state.Original != "second" {
		t.Fatalf("expected newest answer applied, got %v", state.Original)
	}

	close(releaseFirst)
	time.Sleep(100 * time.Millisecond)
	final := s.State(key)
	if final.Original != "second" {
		t.Fatalf("stale answer must not overwrite a newer one, got %v", final.Original)
	}
	if final.Status != StatusIdle || final.Seq != 2 {
		t.Fatalf("unexpected final state %+v", final)
	}
}

func TestSaveTimeoutBecomesError(t *testing.T) {
	api := &fakeAPI{
		setFn: func(ctx context.Context, documentID, columnID string, write apiclient.CellWrite) (apiclient.Cell, error) {
			<-ctx.Done()
			return apiclient.Cell{}, &apiclient.TransportError{Method: "PUT", Path: "/api/documents/doc-1/cells/col-1", Err: ctx.Err()}
		},
	}
	recorder := &notify.Recorder{}
	s := newTestSync(api, recorder)
	s.SetTimeout(30 * time.Millisecond)
	key := Key{DocumentID: "doc-1", ColumnID: "col-1"}
	s.Hydrate(key, "before")

	s.Input(key, "after")
	s.Commit(key)

	state := waitFor(t, s, key, StatusError)
	if state.Err != "Could not reach the server" {
		t.Fatalf("unexpected message %q", state.Err)
	}
	if state.Display() != "before" {
		t.Fatalf("expected confirmed value back after timeout, got %v", state.Display())
	}
	if msgs := recorder.Errors(); len(msgs) != 1 {
		t.Fatalf("expected timeout notified, got %v", msgs)
	}
}

func TestCancelDuringSaveLetsItComplete(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	api := &fakeAPI{
		setFn: func(ctx context.Context, documentID, columnID string, write apiclient.CellWrite) (apiclient.Cell, error) {
			close(started)
			<-release
			return apiclient.Cell{Value: write.Value}, nil
		},
	}
	recorder := &notify.Recorder{}
	s := newTestSync(api, recorder)
	key := Key{DocumentID: "doc-1", ColumnID: "col-1"}

	s.Input(key, "typed then closed")
	s.Commit(key)
	<-started

	if state := s.Cancel(key); state.Status != StatusSaving {
		t.Fatalf("closing the editor must not cancel the in-flight save, got %s", state.Status)
	}
	close(release)

	state := waitFor(t, s, key, StatusIdle)
	if state.Original != "typed then closed" {
		t.Fatalf("in-flight save must land, got %v", state.Original)
	}
	if msgs := recorder.Errors(); len(msgs) != 0 {
		t.Fatalf("silent completion expected, got %v", msgs)
	}
}

func TestClearRemovesStoredValue(t *testing.T) {
	api := &fakeAPI{}
	s := newTestSync(api, nil)
	key := Key{DocumentID: "doc-1", ColumnID: "col-1"}
	s.Hydrate(key, "Amina W.")

	s.Clear(key)

	state := waitFor(t, s, key, StatusIdle)
	if state.Original != nil {
		t.Fatalf("expected value cleared, got %v", state.Original)
	}
	if calls := api.deleteCalls(); len(calls) != 1 || calls[0] != key {
		t.Fatalf("expected one delete for the cell, got %v", calls)
	}
}

func TestClearRejectionKeepsValue(t *testing.T) {
	api := &fakeAPI{
		deleteFn: func(ctx context.Context, documentID, columnID string) error {
			return &apiclient.RejectedError{
				Status:  http.StatusUnprocessableEntity,
				Code:    "VALIDATION_ERROR",
				Message: "This field is required and cannot be cleared",
			}
		},
	}
	recorder := &notify.Recorder{}
	s := newTestSync(api, recorder)
	key := Key{DocumentID: "doc-1", ColumnID: "col-1"}
	s.Hydrate(key, "keep me")

	s.Clear(key)

	state := waitFor(t, s, key, StatusError)
	if state.Original != "keep me" || state.Display() != "keep me" {
		t.Fatalf("rejected clear must keep the value, got %+v", state)
	}
	if msgs := recorder.Errors(); len(msgs) != 1 || msgs[0] != "This field is required and cannot be cleared" {
		t.Fatalf("expected server message notified, got %v", msgs)
	}
}

func TestCellsFailIndependently(t *testing.T) {
	api := &fakeAPI{
		setFn: func(ctx context.Context, documentID, columnID string, write apiclient.CellWrite) (apiclient.Cell, error) {
			if columnID == "col-2" {
				return apiclient.Cell{}, &apiclient.RejectedError{Status: http.StatusUnprocessableEntity, Code: "VALIDATION_ERROR", Message: "must be at most 5"}
			}
			return apiclient.Cell{Value: write.Value}, nil
		},
	}
	s := newTestSync(api, nil)
	good := Key{DocumentID: "doc-1", ColumnID: "col-1"}
	bad := Key{DocumentID: "doc-1", ColumnID: "col-2"}

	s.Input(good, "Amina W.")
	s.Commit(good)
	s.Input(bad, 4) // passes local validation, rejected by the server
	s.Commit(bad)

	goodState := waitFor(t, s, good, StatusIdle)
	badState := waitFor(t, s, bad, StatusError)
	if goodState.Original != "Amina W." {
		t.Fatalf("healthy cell must settle normally, got %+v", goodState)
	}
	if badState.Err != "must be at most 5" {
		t.Fatalf("failing cell must carry its own error, got %+v", badState)
	}
}

func TestEditingWhileSaveInFlightKeepsTyping(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	api := &fakeAPI{
		setFn: func(ctx context.Context, documentID, columnID string, write apiclient.CellWrite) (apiclient.Cell, error) {
			close(started)
			<-release
			return apiclient.Cell{Value: write.Value}, nil
		},
	}
	s := newTestSync(api, nil)
	s.SetDebounce(time.Hour)
	key := Key{DocumentID: "doc-1", ColumnID: "col-1"}

	s.Input(key, "v1")
	s.Commit(key)
	<-started

	state := s.Input(key, "v2")
	if state.Status != StatusEditing || state.Pending != "v2" {
		t.Fatalf("typing during a save must keep the editor open, got %+v", state)
	}
	close(release)
	time.Sleep(50 * time.Millisecond)

	final := s.State(key)
	if final.Status != StatusEditing || final.Pending != "v2" {
		t.Fatalf("settled save must not close a resumed editor, got %+v", final)
	}
	if final.Original != "v1" {
		t.Fatalf("confirmed side must update from the save, got %v", final.Original)
	}
}
