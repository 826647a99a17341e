// Package weighting is the write path for attribute weights: it turns a weight
// assignment into a cluster state command and waits for it to be committed.
package weighting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"wrrouting/pkg/clusterstate"
	"wrrouting/pkg/metadata"
	"wrrouting/pkg/types"
)

const (
	KindPut    = "put_weighted_routing"
	KindDelete = "delete_weighted_routing"

	taskUpdate = "update_weighted_routing"
	taskDelete = "delete_weighted_routing"

	defaultCommitTimeout = 30 * time.Second
)

type iStateService interface {
	State() *clusterstate.State
	Register(kind string, ex clusterstate.Executor)
}

// Ack is returned once the command is committed. Changed is false when the
// committed weights were already equal to the proposal.
type Ack struct {
	Acknowledged bool
	Changed      bool
	Version      types.Version
}

type Service struct {
	state         iStateService
	committer     clusterstate.Committer
	registry      *metadata.Registry
	commitTimeout time.Duration
}

type Option func(*Service)

// WithCommitTimeout bounds how long Put and Clear wait for the commit facility.
func WithCommitTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.commitTimeout = d
		}
	}
}

// NewService registers the weighting executors with state. Every node must
// construct one, since every node applies the committed commands.
func NewService(state iStateService, committer clusterstate.Committer, registry *metadata.Registry, opts ...Option) *Service {
	s := &Service{
		state:         state,
		committer:     committer,
		registry:      registry,
		commitTimeout: defaultCommitTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	RegisterExecutors(state, registry)
	return s
}

// RegisterExecutors binds the weighting command kinds on a state service.
func RegisterExecutors(state iStateService, registry *metadata.Registry) {
	state.Register(KindPut, putExecutor(registry))
	state.Register(KindDelete, deleteExecutor)
}

// Put proposes w as the new cluster-wide assignment. Invalid weights are
// rejected before anything is proposed; commit errors are returned as is.
func (s *Service) Put(ctx context.Context, w metadata.Weights) (Ack, error) {
	if err := w.Validate(); err != nil {
		return Ack{}, err
	}
	payload, err := s.registry.Encode(metadata.NewWeightedRouting(w))
	if err != nil {
		return Ack{}, fmt.Errorf("encode weights: %w", err)
	}
	return s.commit(ctx, clusterstate.Command{Name: taskUpdate, Kind: KindPut, Payload: payload})
}

// Clear removes the weighted routing metadata; routing falls back to unweighted.
func (s *Service) Clear(ctx context.Context) (Ack, error) {
	return s.commit(ctx, clusterstate.Command{Name: taskDelete, Kind: KindDelete})
}

// Get returns the committed weights and the state version they belong to.
func (s *Service) Get() (metadata.Weights, types.Version, bool) {
	st := s.state.State()
	wr := st.WeightedRouting()
	if wr == nil {
		return metadata.Weights{}, st.Version(), false
	}
	return wr.Weights(), st.Version(), true
}

func (s *Service) commit(ctx context.Context, cmd clusterstate.Command) (Ack, error) {
	ctx, cancel := context.WithTimeout(ctx, s.commitTimeout)
	defer cancel()

	out, err := s.committer.Commit(ctx, cmd)
	if err != nil {
		slog.Warn("failed to commit weighted routing", "task", cmd.Name, "error", err)
		return Ack{}, err
	}
	slog.Info("weighted routing committed", "task", cmd.Name, "version", out.Version, "changed", out.Changed)
	return Ack{Acknowledged: true, Changed: out.Changed, Version: out.Version}, nil
}

func putExecutor(registry *metadata.Registry) clusterstate.Executor {
	return func(current *clusterstate.State, payload []byte) (*clusterstate.State, error) {
		c, err := registry.Decode(payload)
		if err != nil {
			return nil, err
		}
		proposed, ok := c.(*metadata.WeightedRouting)
		if !ok {
			return nil, fmt.Errorf("unexpected custom %q in %s", c.Type(), KindPut)
		}
		if err := proposed.Weights().Validate(); err != nil {
			return nil, err
		}

		existing := current.WeightedRouting()
		switch {
		case existing == nil:
			slog.Info("put weighted routing", "weights", proposed.String())
		case existing.Equal(proposed):
			slog.Info("weighted routing unchanged", "weights", existing.String())
			return current, nil
		default:
			slog.Info("replace weighted routing", "from", existing.String(), "to", proposed.String())
		}
		return current.WithCustom(proposed), nil
	}
}

func deleteExecutor(current *clusterstate.State, _ []byte) (*clusterstate.State, error) {
	return current.WithoutCustom(metadata.TypeWeightedRouting), nil
}
