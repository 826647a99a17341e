package routingtable

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wrrouting/pkg/cluster"
	"wrrouting/pkg/sharding"
	"wrrouting/pkg/types"
)

func nodes(n int) []cluster.DiscoveryNode {
	out := make([]cluster.DiscoveryNode, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, cluster.DiscoveryNode{
			ID:         types.NodeID(fmt.Sprintf("n%d", i)),
			Attributes: map[string]string{"zone": fmt.Sprintf("z%d", i%3)},
		})
	}
	return out
}

func TestTable_PlacesCopiesOnDistinctNodes(t *testing.T) {
	table, err := New([]sharding.IndexMetadata{{Name: "logs", NumberOfShards: 4, NumberOfReplicas: 2}})
	require.NoError(t, err)
	table.UpdateNodes(nodes(5))

	for shard := 0; shard < 4; shard++ {
		copies := table.ShardCopies("logs", shard)
		require.Len(t, copies, 3)
		assert.True(t, copies[0].Primary)
		seen := map[types.NodeID]bool{}
		for _, c := range copies {
			assert.False(t, seen[c.Node.ID], "two copies of shard %d on %s", shard, c.Node.ID)
			seen[c.Node.ID] = true
			assert.Equal(t, StateStarted, c.State)
		}
	}
}

func TestTable_ReplicasCappedByNodeCount(t *testing.T) {
	table, err := New([]sharding.IndexMetadata{{Name: "logs", NumberOfShards: 1, NumberOfReplicas: 5}})
	require.NoError(t, err)
	table.UpdateNodes(nodes(2))

	assert.Len(t, table.ShardCopies("logs", 0), 2)
}

func TestTable_NoNodes(t *testing.T) {
	table, err := New([]sharding.IndexMetadata{{Name: "logs", NumberOfShards: 2}})
	require.NoError(t, err)

	assert.Empty(t, table.ShardCopies("logs", 0))
	idx, ok := table.Index("logs")
	require.True(t, ok)
	assert.Equal(t, 2, idx.RoutingNumShards)
}

func TestTable_ReturnsCopies(t *testing.T) {
	table, err := New([]sharding.IndexMetadata{{Name: "logs", NumberOfShards: 1, NumberOfReplicas: 1}})
	require.NoError(t, err)
	table.UpdateNodes(nodes(2))

	copies := table.ShardCopies("logs", 0)
	copies[0].Primary = false
	assert.True(t, table.ShardCopies("logs", 0)[0].Primary)
}

func TestNew_RejectsInvalid(t *testing.T) {
	_, err := New([]sharding.IndexMetadata{{Name: "a", NumberOfShards: 1}, {Name: "a", NumberOfShards: 2}})
	require.ErrorIs(t, err, sharding.ErrInvalidIndex)

	_, err = New([]sharding.IndexMetadata{{Name: "b"}})
	require.ErrorIs(t, err, sharding.ErrInvalidIndex)
}

func TestTable_Indices(t *testing.T) {
	table, err := New([]sharding.IndexMetadata{{Name: "b", NumberOfShards: 1}, {Name: "a", NumberOfShards: 1}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, table.Indices())
}
