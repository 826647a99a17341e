package routing

import (
	"cmp"
	"slices"

	"wrrouting/pkg/routingtable"
	"wrrouting/pkg/sharding"
	"wrrouting/pkg/types"
)

// ShardIterator is the ordered list of copies a request to one shard should
// try, best first.
type ShardIterator struct {
	Index  string
	Shard  int
	Copies []routingtable.ShardCopy

	pos int
}

func newIterator(index string, shard int, copies []routingtable.ShardCopy) ShardIterator {
	return ShardIterator{Index: index, Shard: shard, Copies: copies}
}

// Next returns the next copy to try.
func (it *ShardIterator) Next() (routingtable.ShardCopy, bool) {
	if it.pos >= len(it.Copies) {
		return routingtable.ShardCopy{}, false
	}
	c := it.Copies[it.pos]
	it.pos++
	return c, true
}

func (it *ShardIterator) Size() int {
	return len(it.Copies)
}

func (it *ShardIterator) Reset() {
	it.pos = 0
}

// NodeIDs lists the hosting nodes in iteration order.
func (it *ShardIterator) NodeIDs() []types.NodeID {
	ids := make([]types.NodeID, len(it.Copies))
	for i, c := range it.Copies {
		ids[i] = c.Node.ID
	}
	return ids
}

func sortIterators(its []ShardIterator) {
	slices.SortFunc(its, func(a, b ShardIterator) int {
		if c := cmp.Compare(a.Index, b.Index); c != 0 {
			return c
		}
		return cmp.Compare(a.Shard, b.Shard)
	})
}

// activeInitializing keeps started and initializing copies, started first.
func activeInitializing(copies []routingtable.ShardCopy) []routingtable.ShardCopy {
	started := make([]routingtable.ShardCopy, 0, len(copies))
	var initializing []routingtable.ShardCopy
	for _, c := range copies {
		switch c.State {
		case routingtable.StateStarted:
			started = append(started, c)
		case routingtable.StateInitializing:
			initializing = append(initializing, c)
		}
	}
	return append(started, initializing...)
}

// rotate returns a copy of copies starting at floorMod(seed, len).
func rotate(copies []routingtable.ShardCopy, seed int) []routingtable.ShardCopy {
	n := len(copies)
	out := make([]routingtable.ShardCopy, 0, n)
	if n == 0 {
		return out
	}
	start := seed % n
	if start < 0 {
		start += n
	}
	out = append(out, copies[start:]...)
	return append(out, copies[:start]...)
}

// preferenceSeed spreads one preference string over different copies for
// different shards of the same index.
func preferenceSeed(preference string, shard int) int {
	return int(31*sharding.Hash(preference) + int32(shard))
}

// partition splits copies into those matching keep and the rest, both in
// their original order.
func partition(copies []routingtable.ShardCopy, keep func(routingtable.ShardCopy) bool) (in, out []routingtable.ShardCopy) {
	for _, c := range copies {
		if keep(c) {
			in = append(in, c)
		} else {
			out = append(out, c)
		}
	}
	return in, out
}
