package booking

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// entry pairs a workflow with its own mutex so transitions on one
// session never wait on another session's. gone marks entries removed
// from the map while a late caller still holds the pointer.
type entry struct {
	mu   sync.Mutex
	wf   *Workflow
	gone bool
}

// Store keeps in-flight workflows in process memory. Workflows are
// per-session, so a process-local map is the whole persistence story;
// terminal workflows are dropped. The store mutex guards only the map:
// transition closures, including Confirm's ledger I/O, run under the
// workflow's own lock.
type Store struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*entry
}

func NewStore() *Store {
	return &Store{entries: make(map[uuid.UUID]*entry)}
}

func (s *Store) Put(wf *Workflow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[wf.ID] = &entry{wf: wf}
}

func (s *Store) lookup(id uuid.UUID) (*entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, ErrWorkflowNotFound
	}
	return e, nil
}

func (s *Store) Get(id uuid.UUID) (*Workflow, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone {
		return nil, ErrWorkflowNotFound
	}
	cp := *e.wf
	return &cp, nil
}

// Update runs fn on the workflow under that workflow's lock, so each
// session's transitions are serialized even if it double-submits, while
// unrelated sessions proceed in parallel.
func (s *Store) Update(id uuid.UUID, fn func(wf *Workflow) error) (*Workflow, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone {
		return nil, ErrWorkflowNotFound
	}

	err = fn(e.wf)
	cp := *e.wf

	if e.wf.State.Terminal() {
		e.gone = true
		s.mu.Lock()
		delete(s.entries, id)
		s.mu.Unlock()
	}

	if err != nil {
		return &cp, err
	}
	return &cp, nil
}

// SweepStale abandons workflows idle longer than ttl and returns their
// ids. No ledger cleanup is needed: nothing is reserved before Confirm.
func (s *Store) SweepStale(ttl time.Duration, now time.Time) []uuid.UUID {
	s.mu.Lock()
	candidates := make(map[uuid.UUID]*entry, len(s.entries))
	for id, e := range s.entries {
		candidates[id] = e
	}
	s.mu.Unlock()

	var swept []uuid.UUID
	for id, e := range candidates {
		e.mu.Lock()
		if !e.gone && now.Sub(e.wf.LastActivity) >= ttl {
			e.wf.State = StateAbandoned
			e.gone = true
			swept = append(swept, id)

			s.mu.Lock()
			delete(s.entries, id)
			s.mu.Unlock()
		}
		e.mu.Unlock()
	}
	return swept
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
