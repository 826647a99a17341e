package weighting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wrrouting/pkg/clusterstate"
	"wrrouting/pkg/metadata"
	"wrrouting/pkg/types"
)

func newLocal(t *testing.T) (*Service, *clusterstate.Service) {
	t.Helper()
	state := clusterstate.NewService()
	committer := clusterstate.NewLocalCommitter(state, 8)
	committer.Start(context.Background())
	t.Cleanup(committer.Stop)
	return NewService(state, committer, metadata.DefaultRegistry()), state
}

func zone(values map[string]float64) metadata.Weights {
	return metadata.Weights{Attribute: "zone", Values: values}
}

type failingCommitter struct {
	err   error
	calls int
}

func (f *failingCommitter) Commit(context.Context, clusterstate.Command) (clusterstate.Outcome, error) {
	f.calls++
	return clusterstate.Outcome{}, f.err
}

type blockingCommitter struct{}

func (blockingCommitter) Commit(ctx context.Context, _ clusterstate.Command) (clusterstate.Outcome, error) {
	<-ctx.Done()
	return clusterstate.Outcome{}, ctx.Err()
}

func TestPut_FirstWriteCreatesMetadata(t *testing.T) {
	svc, state := newLocal(t)

	ack, err := svc.Put(context.Background(), zone(map[string]float64{"a": 1, "b": 2}))
	require.NoError(t, err)
	assert.Equal(t, Ack{Acknowledged: true, Changed: true, Version: 1}, ack)

	w, version, ok := svc.Get()
	require.True(t, ok)
	assert.Equal(t, types.Version(1), version)
	assert.True(t, w.Equal(zone(map[string]float64{"a": 1, "b": 2})))
	assert.Equal(t, types.Version(1), state.State().Version())
}

func TestPut_SameWeightsIsNoOp(t *testing.T) {
	svc, state := newLocal(t)
	w := zone(map[string]float64{"a": 1, "b": 1, "c": 0})

	_, err := svc.Put(context.Background(), w)
	require.NoError(t, err)
	before := state.State()

	ack, err := svc.Put(context.Background(), w.Clone())
	require.NoError(t, err)
	assert.True(t, ack.Acknowledged)
	assert.False(t, ack.Changed)
	assert.Equal(t, types.Version(1), ack.Version)
	assert.Same(t, before, state.State())
}

func TestPut_ReplacesWholesale(t *testing.T) {
	svc, _ := newLocal(t)

	_, err := svc.Put(context.Background(), zone(map[string]float64{"a": 1, "b": 1}))
	require.NoError(t, err)
	ack, err := svc.Put(context.Background(), zone(map[string]float64{"c": 3}))
	require.NoError(t, err)
	assert.Equal(t, types.Version(2), ack.Version)

	w, _, ok := svc.Get()
	require.True(t, ok)
	assert.Equal(t, map[string]float64{"c": 3}, w.Values)

	ack, err = svc.Put(context.Background(), metadata.Weights{Attribute: "rack", Values: map[string]float64{"r1": 1}})
	require.NoError(t, err)
	assert.True(t, ack.Changed)
	w, _, _ = svc.Get()
	assert.Equal(t, "rack", w.Attribute)
}

func TestPut_InvalidNeverProposed(t *testing.T) {
	fc := &failingCommitter{err: errors.New("unreachable")}
	svc := NewService(clusterstate.NewService(), fc, metadata.DefaultRegistry())

	_, err := svc.Put(context.Background(), zone(map[string]float64{"a": 0, "b": 0}))
	require.ErrorIs(t, err, metadata.ErrNoPositiveWeight)
	_, err = svc.Put(context.Background(), zone(nil))
	require.ErrorIs(t, err, metadata.ErrMalformedWeights)
	assert.Zero(t, fc.calls)
}

func TestPut_CommitFailurePropagated(t *testing.T) {
	rejected := errors.New("commit rejected")
	fc := &failingCommitter{err: rejected}
	svc := NewService(clusterstate.NewService(), fc, metadata.DefaultRegistry())

	_, err := svc.Put(context.Background(), zone(map[string]float64{"a": 1}))
	require.ErrorIs(t, err, rejected)
	assert.Equal(t, 1, fc.calls, "no retry")
}

func TestPut_CommitTimeout(t *testing.T) {
	svc := NewService(clusterstate.NewService(), blockingCommitter{}, metadata.DefaultRegistry(),
		WithCommitTimeout(20*time.Millisecond))

	_, err := svc.Put(context.Background(), zone(map[string]float64{"a": 1}))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClear(t *testing.T) {
	svc, _ := newLocal(t)

	ack, err := svc.Clear(context.Background())
	require.NoError(t, err)
	assert.False(t, ack.Changed)

	_, err = svc.Put(context.Background(), zone(map[string]float64{"a": 1}))
	require.NoError(t, err)
	ack, err = svc.Clear(context.Background())
	require.NoError(t, err)
	assert.True(t, ack.Changed)
	assert.Equal(t, types.Version(2), ack.Version)

	_, _, ok := svc.Get()
	assert.False(t, ok)
}

func TestPutExecutor_RejectsGarbage(t *testing.T) {
	state := clusterstate.NewService()
	RegisterExecutors(state, metadata.DefaultRegistry())

	_, err := state.Apply(clusterstate.Command{Name: taskUpdate, Kind: KindPut, Payload: []byte{0xff}})
	require.Error(t, err)
	assert.Equal(t, types.Version(0), state.State().Version())
}
