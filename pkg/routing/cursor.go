package routing

import (
	"cmp"
	"encoding/binary"
	"math"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/zhangyunhao116/skipmap"

	"wrrouting/pkg/routingtable"
	"wrrouting/pkg/types"
	"wrrouting/pkg/wrr"
)

type cursorKey struct {
	index   string
	shard   int
	version types.Version
}

func compareCursorKeys(a, b cursorKey) bool {
	if c := cmp.Compare(a.index, b.index); c != 0 {
		return c < 0
	}
	if a.shard != b.shard {
		return a.shard < b.shard
	}
	return a.version < b.version
}

// cursor is the weighted selection state of one shard under one metadata
// version. mu serializes every advance of the scheduler.
type cursor struct {
	mu          sync.Mutex
	fingerprint uint64
	sched       *wrr.Scheduler[routingtable.ShardCopy]
}

// cursorStore holds one cursor per (index, shard, version).
type cursorStore struct {
	m *skipmap.FuncMap[cursorKey, *cursor]
}

func newCursorStore() *cursorStore {
	return &cursorStore{m: skipmap.NewFunc[cursorKey, *cursor](compareCursorKeys)}
}

func (s *cursorStore) get(key cursorKey) *cursor {
	if c, ok := s.m.Load(key); ok {
		return c
	}
	c, _ := s.m.LoadOrStore(key, &cursor{})
	return c
}

// next advances the cursor and returns the picked copy. The scheduler is
// rebuilt when the candidate set differs from the one it was built for.
func (c *cursor) next(entities []wrr.Entity[routingtable.ShardCopy], fingerprint uint64) (routingtable.ShardCopy, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sched == nil || c.fingerprint != fingerprint {
		sched, err := wrr.New(entities)
		if err != nil {
			return routingtable.ShardCopy{}, err
		}
		c.sched, c.fingerprint = sched, fingerprint
	}
	e, ok := c.sched.Next()
	if !ok {
		return routingtable.ShardCopy{}, ErrNoWeightedCopies
	}
	return e.Target, nil
}

// dropStale removes cursors built for any version other than current.
func (s *cursorStore) dropStale(current types.Version) int {
	var stale []cursorKey
	s.m.Range(func(key cursorKey, _ *cursor) bool {
		if key.version != current {
			stale = append(stale, key)
		}
		return true
	})
	for _, key := range stale {
		s.m.Delete(key)
	}
	return len(stale)
}

func (s *cursorStore) delete(key cursorKey) {
	s.m.Delete(key)
}

func (s *cursorStore) len() int {
	return s.m.Len()
}

// fingerprint identifies a candidate list: node ids, states and weights in order.
func fingerprint(entities []wrr.Entity[routingtable.ShardCopy]) uint64 {
	d := xxhash.New()
	var buf [8]byte
	for _, e := range entities {
		_, _ = d.WriteString(string(e.Target.Node.ID))
		_, _ = d.Write([]byte{0})
		_, _ = d.WriteString(string(e.Target.State))
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(e.Weight))
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}
