package routing

import (
	"slices"
	"sync"
	"time"

	"wrrouting/pkg/routingtable"
	"wrrouting/pkg/types"
)

// Ranker orders shard copies best first for adaptive replica selection.
type Ranker interface {
	Rank(copies []routingtable.ShardCopy) []routingtable.ShardCopy
}

const defaultEWMAAlpha = 0.3

type nodeStats struct {
	queue    float64
	response float64 // nanoseconds
	samples  int
}

// ResponseCollector keeps exponentially weighted averages of the queue size
// and response time reported for each node.
type ResponseCollector struct {
	alpha float64

	mu    sync.RWMutex
	stats map[types.NodeID]nodeStats
}

func NewResponseCollector() *ResponseCollector {
	return &ResponseCollector{alpha: defaultEWMAAlpha, stats: make(map[types.NodeID]nodeStats)}
}

// AddNodeStatistics records one response from node.
func (c *ResponseCollector) AddNodeStatistics(node types.NodeID, queueSize int, responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.stats[node]
	if !ok {
		c.stats[node] = nodeStats{queue: float64(queueSize), response: float64(responseTime), samples: 1}
		return
	}
	s.queue = c.alpha*float64(queueSize) + (1-c.alpha)*s.queue
	s.response = c.alpha*float64(responseTime) + (1-c.alpha)*s.response
	s.samples++
	c.stats[node] = s
}

// RemoveNode forgets a node that left the cluster.
func (c *ResponseCollector) RemoveNode(node types.NodeID) {
	c.mu.Lock()
	delete(c.stats, node)
	c.mu.Unlock()
}

// score is lower for better nodes. ok is false for nodes with no samples.
func (c *ResponseCollector) score(node types.NodeID) (float64, bool) {
	s, ok := c.stats[node]
	if !ok {
		return 0, false
	}
	return s.response * (1 + s.queue), true
}

// Rank orders copies by ascending score. Nodes without statistics go first so
// they get sampled; ties keep the input order.
func (c *ResponseCollector) Rank(copies []routingtable.ShardCopy) []routingtable.ShardCopy {
	c.mu.RLock()
	defer c.mu.RUnlock()

	type ranked struct {
		copy  routingtable.ShardCopy
		score float64
		known bool
	}
	rs := make([]ranked, len(copies))
	for i, cp := range copies {
		score, known := c.score(cp.Node.ID)
		rs[i] = ranked{copy: cp, score: score, known: known}
	}
	slices.SortStableFunc(rs, func(a, b ranked) int {
		switch {
		case a.known != b.known:
			if !a.known {
				return -1
			}
			return 1
		case a.score < b.score:
			return -1
		case a.score > b.score:
			return 1
		}
		return 0
	})

	out := make([]routingtable.ShardCopy, len(rs))
	for i, r := range rs {
		out[i] = r.copy
	}
	return out
}
