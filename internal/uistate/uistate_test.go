package uistate

import (
	"sync"
	"testing"
)

func TestSelectCorpusDropsDocumentScope(t *testing.T) {
	store := NewStore()
	store.SelectCorpus("cor-1")
	store.SelectDocument("doc-1")
	store.BeginCellEdit(CellRef{DocumentID: "doc-1", ColumnID: "col-2"})
	store.RequestColumnDelete("col-3")

	store.SelectCorpus("cor-2")

	state := store.Snapshot()
	if state.CorpusID != "cor-2" {
		t.Fatalf("expected corpus cor-2, got %q", state.CorpusID)
	}
	if state.DocumentID != "" || state.EditingCell != (CellRef{}) || state.PendingColumnDelete != "" {
		t.Fatalf("corpus switch must drop document scope, got %+v", state)
	}
}

func TestSelectDocumentClosesCellEditor(t *testing.T) {
	store := NewStore()
	store.SelectCorpus("cor-1")
	store.SelectDocument("doc-1")
	store.BeginCellEdit(CellRef{DocumentID: "doc-1", ColumnID: "col-2"})

	store.SelectDocument("doc-2")

	state := store.Snapshot()
	if state.DocumentID != "doc-2" {
		t.Fatalf("expected document doc-2, got %q", state.DocumentID)
	}
	if state.EditingCell != (CellRef{}) {
		t.Fatalf("document switch must close the cell editor, got %+v", state.EditingCell)
	}
}

func TestColumnDeleteConfirmationFlow(t *testing.T) {
	store := NewStore()
	store.RequestColumnDelete("col-3")
	if got := store.Snapshot().PendingColumnDelete; got != "col-3" {
		t.Fatalf("expected pending delete col-3, got %q", got)
	}
	store.ResolveColumnDelete()
	if got := store.Snapshot().PendingColumnDelete; got != "" {
		t.Fatalf("expected pending delete cleared, got %q", got)
	}
}

func TestSubscribersSeeEachChange(t *testing.T) {
	store := NewStore()
	var seen []State
	cancel := store.Subscribe(func(state State) {
		seen = append(seen, state)
	})

	store.SelectCorpus("cor-1")
	store.OpenPanel(PanelColumns)

	if len(seen) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(seen))
	}
	if seen[0].CorpusID != "cor-1" || seen[1].Panel != PanelColumns {
		t.Fatalf("unexpected snapshots %+v", seen)
	}

	cancel()
	store.OpenPanel(PanelNotes)
	if len(seen) != 2 {
		t.Fatalf("cancelled subscriber still notified, got %d", len(seen))
	}
}

func TestConcurrentReadsAndWrites(t *testing.T) {
	store := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			store.SelectDocument("doc-1")
			store.BeginCellEdit(CellRef{DocumentID: "doc-1", ColumnID: "col-2"})
			store.EndCellEdit()
		}()
		go func() {
			defer wg.Done()
			_ = store.Snapshot()
		}()
	}
	wg.Wait()

	if got := store.Snapshot().EditingCell; got != (CellRef{}) {
		t.Fatalf("expected editor closed after all writers finished, got %+v", got)
	}
}
