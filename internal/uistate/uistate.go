// Package uistate keeps the grid client's screen state in one explicit
// store. The shell owns the store and passes it down; components read
// snapshots and subscribe to changes instead of sharing globals.
package uistate

import "sync"

type Panel string

const (
	PanelNone        Panel = ""
	PanelGrid        Panel = "grid"
	PanelColumns     Panel = "columns"
	PanelNotes       Panel = "notes"
	PanelPermissions Panel = "permissions"
)

// CellRef names one editable cell on screen. The zero value means no
// cell editor is open.
type CellRef struct {
	DocumentID string
	ColumnID   string
}

// State is one immutable snapshot of the screen.
type State struct {
	CorpusID            string
	DocumentID          string
	Panel               Panel
	PendingColumnDelete string
	EditingCell         CellRef
}

type Store struct {
	mu          sync.Mutex
	state       State
	subscribers map[int]func(State)
	nextID      int
}

func NewStore() *Store {
	return &Store{subscribers: make(map[int]func(State))}
}

func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers fn for every subsequent change. Callbacks run on
// the mutating goroutine, outside the store lock, with the snapshot the
// change produced. The returned function cancels the subscription.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subscribers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

// SelectCorpus switches the active corpus and drops everything scoped
// to the previous one: document selection, open cell editor, pending
// column delete.
func (s *Store) SelectCorpus(id string) {
	s.update(func(st *State) {
		st.CorpusID = id
		st.DocumentID = ""
		st.EditingCell = CellRef{}
		st.PendingColumnDelete = ""
	})
}

// SelectDocument switches the active document and closes any open cell
// editor reference.
func (s *Store) SelectDocument(id string) {
	s.update(func(st *State) {
		st.DocumentID = id
		st.EditingCell = CellRef{}
	})
}

func (s *Store) OpenPanel(p Panel) {
	s.update(func(st *State) { st.Panel = p })
}

// RequestColumnDelete records that the confirm dialog for columnID is
// open; ResolveColumnDelete clears it whether confirmed or cancelled.
func (s *Store) RequestColumnDelete(columnID string) {
	s.update(func(st *State) { st.PendingColumnDelete = columnID })
}

func (s *Store) ResolveColumnDelete() {
	s.update(func(st *State) { st.PendingColumnDelete = "" })
}

func (s *Store) BeginCellEdit(ref CellRef) {
	s.update(func(st *State) { st.EditingCell = ref })
}

func (s *Store) EndCellEdit() {
	s.update(func(st *State) { st.EditingCell = CellRef{} })
}

func (s *Store) update(mutate func(*State)) {
	s.mu.Lock()
	mutate(&s.state)
	snapshot := s.state
	subs := make([]func(State), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(snapshot)
	}
}
