// Package memstore is an in-memory repository.Store used by tests and the offline CLI.
//
// Every WithTx works on a copy of the committed state and swaps it in on success, so a
// failed transaction leaves nothing behind. A root transaction holds the store lock for its
// whole duration, which serializes writers the way row locks do in Postgres. Calling a root
// repository method from inside a root transaction callback deadlocks; use the tx view.
package memstore

import (
	"context"
	"sync"

	"github.com/rpattn/opscrm/internal/repository"
)

type shared struct {
	mu     sync.Mutex
	state  *state
	faults sync.Map
}

// Store implements repository.Store in memory.
type Store struct {
	shared *shared
	tx     *state
}

var _ repository.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{shared: &shared{state: newState()}}
}

// InjectFault makes every later call of op fail with err until ClearFault. Ops are named
// "<table>.<method>", for example "merge_logs.create" or "import_rows.save_outcome".
func (s *Store) InjectFault(op string, err error) {
	s.shared.faults.Store(op, err)
}

// ClearFault removes an injected fault.
func (s *Store) ClearFault(op string) {
	s.shared.faults.Delete(op)
}

func (s *Store) fault(op string) error {
	if v, ok := s.shared.faults.Load(op); ok {
		return v.(error)
	}
	return nil
}

func (s *Store) ImportRuns() repository.ImportRunRepository {
	return &importRunRepository{store: s}
}

func (s *Store) ImportRows() repository.ImportRowRepository {
	return &importRowRepository{store: s}
}

func (s *Store) Leads() repository.LeadRepository {
	return &leadRepository{store: s}
}

func (s *Store) MergeLogs() repository.MergeLogRepository {
	return &mergeLogRepository{store: s}
}

func (s *Store) Tasks() repository.TaskRepository {
	return &taskRepository{store: s}
}

func (s *Store) Touchpoints() repository.TouchpointRepository {
	return &touchpointRepository{store: s}
}

// WithTx runs fn on a private copy of the state and commits it when fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.tx != nil {
		working := s.tx.clone()
		if err := fn(&Store{shared: s.shared, tx: working}); err != nil {
			return err
		}
		*s.tx = *working
		return nil
	}

	s.shared.mu.Lock()
	defer s.shared.mu.Unlock()

	working := s.shared.state.clone()
	if err := fn(&Store{shared: s.shared, tx: working}); err != nil {
		return err
	}
	s.shared.state = working
	return nil
}

// read runs fn against the visible state.
func (s *Store) read(fn func(st *state) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}
	s.shared.mu.Lock()
	defer s.shared.mu.Unlock()
	return fn(s.shared.state)
}

// write applies fn under the store lock. fn must check everything before it mutates st.
func (s *Store) write(op string, fn func(st *state) error) error {
	if err := s.fault(op); err != nil {
		return err
	}
	return s.read(fn)
}
