// Package routingtable derives the shard copies of every index from the
// configured index definitions and the current node list.
package routingtable

import (
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"

	"wrrouting/pkg/cluster"
	"wrrouting/pkg/sharding"
)

// CopyState is the lifecycle state of a shard copy.
type CopyState string

const (
	StateStarted      CopyState = "STARTED"
	StateInitializing CopyState = "INITIALIZING"
)

// ShardCopy is one primary or replica copy of a shard on a node.
type ShardCopy struct {
	Index   string
	Shard   int
	Node    cluster.DiscoveryNode
	Primary bool
	State   CopyState
}

func (c ShardCopy) String() string {
	role := "r"
	if c.Primary {
		role = "p"
	}
	return fmt.Sprintf("[%s][%d][%s] on %s", c.Index, c.Shard, role, c.Node.ID)
}

type shardKey struct {
	index string
	shard int
}

type snapshot struct {
	indices map[string]sharding.IndexMetadata
	order   []string
	nodes   []cluster.DiscoveryNode
	copies  map[shardKey][]ShardCopy
}

// Table is safe for concurrent use; UpdateNodes swaps the whole table.
type Table struct {
	current atomic.Pointer[snapshot]
}

func New(indices []sharding.IndexMetadata) (*Table, error) {
	defs := make(map[string]sharding.IndexMetadata, len(indices))
	for _, idx := range indices {
		if err := idx.Validate(); err != nil {
			return nil, err
		}
		if _, dup := defs[idx.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate index [%s]", sharding.ErrInvalidIndex, idx.Name)
		}
		defs[idx.Name] = idx.Normalize()
	}

	t := &Table{}
	t.current.Store(build(defs, nil))
	return t, nil
}

// UpdateNodes recomputes copy placement for a new node list.
func (t *Table) UpdateNodes(nodes []cluster.DiscoveryNode) {
	cur := t.current.Load()
	next := build(cur.indices, nodes)
	t.current.Store(next)
	slog.Info("routing table rebuilt", "nodes", len(next.nodes), "indices", len(next.order))
}

func (t *Table) Index(name string) (sharding.IndexMetadata, bool) {
	idx, ok := t.current.Load().indices[name]
	return idx, ok
}

// Indices lists index names in lexical order.
func (t *Table) Indices() []string {
	return slices.Clone(t.current.Load().order)
}

func (t *Table) Nodes() []cluster.DiscoveryNode {
	return slices.Clone(t.current.Load().nodes)
}

// ShardCopies returns the copies of one shard, primary first. The slice is a copy.
func (t *Table) ShardCopies(index string, shard int) []ShardCopy {
	return slices.Clone(t.current.Load().copies[shardKey{index: index, shard: shard}])
}

func build(indices map[string]sharding.IndexMetadata, nodes []cluster.DiscoveryNode) *snapshot {
	sorted := slices.Clone(nodes)
	cluster.SortNodes(sorted)

	var order []string
	for name := range indices {
		order = append(order, name)
	}
	slices.Sort(order)

	s := &snapshot{
		indices: indices,
		order:   order,
		nodes:   sorted,
		copies:  make(map[shardKey][]ShardCopy),
	}
	for ordinal, name := range s.order {
		idx := indices[name]
		for shard := 0; shard < idx.NumberOfShards; shard++ {
			s.copies[shardKey{index: name, shard: shard}] = place(idx, shard, ordinal, sorted)
		}
	}
	return s
}

// place puts the primary on node (ordinal+shard) mod n and replicas on the
// following nodes. Replicas that would share a node with another copy stay
// unassigned.
func place(idx sharding.IndexMetadata, shard, ordinal int, nodes []cluster.DiscoveryNode) []ShardCopy {
	if len(nodes) == 0 {
		return nil
	}
	copies := min(1+idx.NumberOfReplicas, len(nodes))
	start := (ordinal + shard) % len(nodes)

	res := make([]ShardCopy, 0, copies)
	for i := 0; i < copies; i++ {
		res = append(res, ShardCopy{
			Index:   idx.Name,
			Shard:   shard,
			Node:    nodes[(start+i)%len(nodes)],
			Primary: i == 0,
			State:   StateStarted,
		})
	}
	return res
}
