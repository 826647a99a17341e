package clusterstate

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ChangedEvent is delivered to appliers after a new state became current.
type ChangedEvent struct {
	Source   string
	Previous *State
	Current  *State
}

// Applier reacts to committed state. It runs on the commit path, so it must
// not block and must not submit commands itself.
type Applier interface {
	ApplyClusterState(event ChangedEvent)
}

// ApplierFunc adapts a function to Applier.
type ApplierFunc func(event ChangedEvent)

func (f ApplierFunc) ApplyClusterState(event ChangedEvent) { f(event) }

// Service owns the current state of one node.
type Service struct {
	applyMu sync.Mutex
	state   atomic.Pointer[State]

	executorsMu sync.RWMutex
	executors   map[string]Executor

	appliersMu sync.RWMutex
	appliers   []Applier
}

func NewService() *Service {
	s := &Service{executors: make(map[string]Executor)}
	s.state.Store(Empty())
	return s
}

// Register binds a command kind to its executor.
func (s *Service) Register(kind string, ex Executor) {
	s.executorsMu.Lock()
	defer s.executorsMu.Unlock()
	s.executors[kind] = ex
}

func (s *Service) AddApplier(a Applier) {
	s.appliersMu.Lock()
	defer s.appliersMu.Unlock()
	s.appliers = append(s.appliers, a)
}

// State returns the current state. Safe for concurrent use.
func (s *Service) State() *State {
	return s.state.Load()
}

// Apply executes a committed command. Commit facilities call it in commit
// order; appliers see the new state before Apply returns.
func (s *Service) Apply(cmd Command) (Outcome, error) {
	s.executorsMu.RLock()
	ex, ok := s.executors[cmd.Kind]
	s.executorsMu.RUnlock()
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Kind)
	}

	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	current := s.state.Load()
	next, err := ex(current, cmd.Payload)
	if err != nil {
		slog.Warn("cluster state task failed", "task", cmd.Name, "error", err)
		return Outcome{Version: current.Version()}, fmt.Errorf("%s: %w", cmd.Name, err)
	}
	if next == nil || next == current {
		slog.Debug("cluster state unchanged", "task", cmd.Name, "version", current.Version())
		return Outcome{Version: current.Version()}, nil
	}

	next = next.withVersion(current.Version() + 1)
	s.state.Store(next)
	slog.Info("cluster state applied", "task", cmd.Name, "version", next.Version())

	s.appliersMu.RLock()
	appliers := append([]Applier(nil), s.appliers...)
	s.appliersMu.RUnlock()

	event := ChangedEvent{Source: cmd.Name, Previous: current, Current: next}
	for _, a := range appliers {
		a.ApplyClusterState(event)
	}
	return Outcome{Version: next.Version(), Changed: true}, nil
}
