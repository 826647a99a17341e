// Package routing decides which shard copies serve a request.
//
// Document operations hash to one shard (see package sharding). Read requests
// pick among the copies of each target shard by, in priority order, an
// explicit preference, weighted round robin over node attribute weights,
// awareness attributes, adaptive replica ranking or a random rotation.
//
// Everything a request needs is read from one immutable snapshot swapped on
// cluster state and settings changes. The only shared mutable state is the
// weighted cursor of each shard, guarded per cursor.
package routing

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/zhangyunhao116/fastrand"

	"wrrouting/pkg/cluster"
	"wrrouting/pkg/clusterstate"
	"wrrouting/pkg/metadata"
	"wrrouting/pkg/routingtable"
	"wrrouting/pkg/sharding"
	"wrrouting/pkg/types"
	"wrrouting/pkg/wrr"
)

// RoutingTable provides index definitions and the live copies of each shard.
type RoutingTable interface {
	Index(name string) (sharding.IndexMetadata, bool)
	ShardCopies(index string, shard int) []routingtable.ShardCopy
}

// Settings are the dynamic routing settings.
type Settings struct {
	AwarenessAttributes         []string
	IgnoreAwarenessAttributes   bool
	UseAdaptiveReplicaSelection bool
	WeightedRoutingEnabled      bool
}

func DefaultSettings() Settings {
	return Settings{
		IgnoreAwarenessAttributes:   true,
		UseAdaptiveReplicaSelection: true,
		WeightedRoutingEnabled:      true,
	}
}

func (s Settings) ignoreAwareness() bool {
	return len(s.AwarenessAttributes) == 0 || s.IgnoreAwarenessAttributes
}

type snapshot struct {
	settings Settings
	weights  *metadata.Weights // nil when no weights are committed
	version  types.Version
}

func (s *snapshot) weighted() bool {
	return s.settings.WeightedRoutingEnabled && s.weights != nil
}

// LocalWeight is the traffic weight the local node currently receives.
type LocalWeight struct {
	Weight         float64
	WeighAway      bool
	Decommissioned bool
}

type Option func(*Router)

// WithRanker enables adaptive replica selection through r.
func WithRanker(rk Ranker) Option {
	return func(r *Router) {
		r.ranker = rk
	}
}

type Router struct {
	table  RoutingTable
	local  cluster.DiscoveryNode
	ranker Ranker

	updateMu sync.Mutex
	snap     atomic.Pointer[snapshot]

	cursors *cursorStore
}

func New(table RoutingTable, local cluster.DiscoveryNode, settings Settings, opts ...Option) *Router {
	r := &Router{
		table:   table,
		local:   local,
		cursors: newCursorStore(),
	}
	for _, opt := range opts {
		opt(r)
	}
	settings.AwarenessAttributes = slices.Clone(settings.AwarenessAttributes)
	r.snap.Store(&snapshot{settings: settings})
	return r
}

func (r *Router) Settings() Settings {
	s := r.snap.Load().settings
	s.AwarenessAttributes = slices.Clone(s.AwarenessAttributes)
	return s
}

func (r *Router) SetAwarenessAttributes(attrs []string) {
	attrs = slices.Clone(attrs)
	r.update(func(s *snapshot) { s.settings.AwarenessAttributes = attrs })
}

func (r *Router) SetIgnoreAwarenessAttributes(ignore bool) {
	r.update(func(s *snapshot) { s.settings.IgnoreAwarenessAttributes = ignore })
}

func (r *Router) SetUseAdaptiveReplicaSelection(use bool) {
	r.update(func(s *snapshot) { s.settings.UseAdaptiveReplicaSelection = use })
}

func (r *Router) SetWeightedRoutingEnabled(enabled bool) {
	r.update(func(s *snapshot) { s.settings.WeightedRoutingEnabled = enabled })
}

func (r *Router) update(fn func(*snapshot)) {
	r.updateMu.Lock()
	defer r.updateMu.Unlock()

	next := *r.snap.Load()
	fn(&next)
	r.snap.Store(&next)
}

// ApplyClusterState picks up committed weights. Cursors of older versions
// are dropped and rebuilt lazily.
func (r *Router) ApplyClusterState(event clusterstate.ChangedEvent) {
	var weights *metadata.Weights
	if wr := event.Current.WeightedRouting(); wr != nil {
		w := wr.Weights()
		weights = &w
	}
	version := event.Current.Version()

	r.update(func(s *snapshot) {
		s.weights = weights
		s.version = version
	})
	dropped := r.cursors.dropStale(version)
	slog.Info("routing snapshot updated", "version", version, "weighted", weights != nil, "dropped_cursors", dropped)
}

// LocalWeight resolves the weight of the local node. Without weights for the
// node's attribute value the node gets full weight.
func (r *Router) LocalWeight() LocalWeight {
	full := LocalWeight{Weight: 1}

	w := r.snap.Load().weights
	if w == nil {
		return full
	}
	value, ok := r.local.Attribute(w.Attribute)
	if !ok {
		return full
	}
	weight, ok := w.Weight(value)
	if !ok {
		return full
	}
	return LocalWeight{Weight: weight, WeighAway: true, Decommissioned: weight == 0}
}

func (r *Router) index(name string) (sharding.IndexMetadata, error) {
	meta, ok := r.table.Index(name)
	if !ok {
		return sharding.IndexMetadata{}, fmt.Errorf("%w: [%s]", ErrIndexNotFound, name)
	}
	return meta, nil
}

// ShardID returns the shard that owns a document.
func (r *Router) ShardID(index, id, routing string) (int, error) {
	meta, err := r.index(index)
	if err != nil {
		return 0, err
	}
	return sharding.ShardID(meta, id, routing)
}

// IndexShards returns every copy of the document's shard, primary first.
// Writes go through it, so weights are not consulted.
func (r *Router) IndexShards(index, id, routing string) (ShardIterator, error) {
	shard, err := r.ShardID(index, id, routing)
	if err != nil {
		return ShardIterator{}, err
	}
	return newIterator(index, shard, r.table.ShardCopies(index, shard)), nil
}

// DocumentShards orders the copies of the document's shard for a read.
func (r *Router) DocumentShards(index, id, routing, preference string) (*ShardIterator, error) {
	shard, err := r.ShardID(index, id, routing)
	if err != nil {
		return nil, err
	}
	return r.preferenceIterator(r.snap.Load(), index, shard, preference)
}

// GetShards orders the copies of one shard for a read. A nil iterator means
// the preference excludes the shard.
func (r *Router) GetShards(index string, shard int, preference string) (*ShardIterator, error) {
	meta, err := r.index(index)
	if err != nil {
		return nil, err
	}
	if shard < 0 || shard >= meta.NumberOfShards {
		return nil, fmt.Errorf("%w: shard [%s][%d]", ErrIndexNotFound, index, shard)
	}
	return r.preferenceIterator(r.snap.Load(), index, shard, preference)
}

// SearchShards returns one iterator per target shard of the given indices,
// sorted by index and shard. routing restricts an index to the shards its
// routing values can reach.
func (r *Router) SearchShards(indices []string, routing map[string][]string, preference string) ([]ShardIterator, error) {
	snap := r.snap.Load()

	var out []ShardIterator
	seen := make(map[string]struct{}, len(indices))
	for _, index := range indices {
		if _, dup := seen[index]; dup {
			continue
		}
		seen[index] = struct{}{}

		meta, err := r.index(index)
		if err != nil {
			return nil, err
		}
		for _, shard := range targetShards(meta, routing[index]) {
			it, err := r.preferenceIterator(snap, index, shard, preference)
			if err != nil {
				return nil, err
			}
			if it != nil {
				out = append(out, *it)
			}
		}
	}
	sortIterators(out)
	return out, nil
}

func targetShards(meta sharding.IndexMetadata, routing []string) []int {
	if len(routing) == 0 {
		all := make([]int, meta.NumberOfShards)
		for i := range all {
			all[i] = i
		}
		return all
	}
	var shards []int
	for _, value := range routing {
		for _, shard := range sharding.TargetShards(meta, value) {
			if !slices.Contains(shards, shard) {
				shards = append(shards, shard)
			}
		}
	}
	slices.Sort(shards)
	return shards
}

func (r *Router) preferenceIterator(snap *snapshot, index string, shard int, preference string) (*ShardIterator, error) {
	active := activeInitializing(r.table.ShardCopies(index, shard))

	if preference == "" {
		return r.shardRoutings(snap, index, shard, active)
	}

	if preference[0] == '_' {
		if typ, _ := splitPreference(preference); typ == prefShards {
			found, rest, err := shardsPreference(preference, shard)
			if err != nil {
				return nil, err
			}
			if !found {
				return nil, nil
			}
			if rest == "" {
				return r.shardRoutings(snap, index, shard, active)
			}
			preference = rest
		}
	}

	if preference[0] == '_' {
		typ, args := splitPreference(preference)
		var copies []routingtable.ShardCopy
		switch typ {
		case prefPreferNodes:
			var ids []types.NodeID
			for _, id := range splitList(args) {
				ids = append(ids, types.NodeID(id))
			}
			copies = preferNodes(active, ids)
		case prefLocal:
			copies = preferNodes(active, []types.NodeID{r.local.ID})
		case prefOnlyLocal:
			copies, _ = partition(active, func(c routingtable.ShardCopy) bool { return c.Node.ID == r.local.ID })
		case prefOnlyNodes:
			var err error
			if copies, err = onlyNodes(active, splitList(args)); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: [%s]", ErrUnknownPreference, preference)
		}
		it := newIterator(index, shard, copies)
		return &it, nil
	}

	// custom string: stable choice per (preference, shard)
	seed := preferenceSeed(preference, shard)
	var copies []routingtable.ShardCopy
	if snap.settings.ignoreAwareness() {
		copies = rotate(active, seed)
	} else {
		copies = r.preferAttributes(snap.settings.AwarenessAttributes, active, seed)
	}
	it := newIterator(index, shard, copies)
	return &it, nil
}

func (r *Router) shardRoutings(snap *snapshot, index string, shard int, active []routingtable.ShardCopy) (*ShardIterator, error) {
	var copies []routingtable.ShardCopy
	switch {
	case snap.weighted():
		var err error
		if copies, err = r.weightedCopies(snap, index, shard, active); err != nil {
			return nil, err
		}
	case !snap.settings.ignoreAwareness():
		copies = r.preferAttributes(snap.settings.AwarenessAttributes, active, randomSeed(len(active)))
	case snap.settings.UseAdaptiveReplicaSelection && r.ranker != nil:
		// ранжирование стабильное: без статистики порядок задаёт ротация
		copies = r.ranker.Rank(rotate(active, randomSeed(len(active))))
	default:
		copies = rotate(active, randomSeed(len(active)))
	}
	it := newIterator(index, shard, copies)
	return &it, nil
}

func randomSeed(n int) int {
	if n == 0 {
		return 0
	}
	return fastrand.Intn(n)
}

// preferAttributes puts copies on nodes sharing all awareness attribute
// values with the local node first. Both groups are rotated by seed.
func (r *Router) preferAttributes(attrs []string, copies []routingtable.ShardCopy, seed int) []routingtable.ShardCopy {
	same, other := partition(copies, func(c routingtable.ShardCopy) bool {
		for _, attr := range attrs {
			local, ok := r.local.Attribute(attr)
			if !ok {
				return false
			}
			if v, ok := c.Node.Attribute(attr); !ok || v != local {
				return false
			}
		}
		return true
	})
	return append(rotate(same, seed), rotate(other, seed)...)
}

// weightedCopies puts the cursor's pick first, then the other copies with a
// positive weight. Zero-weight copies are left out.
func (r *Router) weightedCopies(snap *snapshot, index string, shard int, active []routingtable.ShardCopy) ([]routingtable.ShardCopy, error) {
	if len(active) == 0 {
		return nil, nil
	}

	entities := make([]wrr.Entity[routingtable.ShardCopy], len(active))
	positive := false
	for i, c := range active {
		w := nodeWeight(snap.weights, c.Node)
		entities[i] = wrr.Entity[routingtable.ShardCopy]{Weight: w, Target: c}
		if w > 0 {
			positive = true
		}
	}
	if !positive {
		return nil, fmt.Errorf("%w: [%s][%d] attribute [%s]", ErrNoWeightedCopies, index, shard, snap.weights.Attribute)
	}

	cur := r.cursor(cursorKey{index: index, shard: shard, version: snap.version})
	head, err := cur.next(entities, fingerprint(entities))
	if err != nil {
		return nil, fmt.Errorf("[%s][%d]: %w", index, shard, err)
	}

	start := slices.IndexFunc(active, func(c routingtable.ShardCopy) bool { return c.Node.ID == head.Node.ID })
	out := make([]routingtable.ShardCopy, 0, len(active))
	out = append(out, head)
	for k := 1; k < len(entities); k++ {
		if e := entities[(start+k)%len(entities)]; e.Weight > 0 {
			out = append(out, e.Target)
		}
	}
	slog.Debug("weighted shard pick", "index", index, "shard", shard, "node", head.Node.ID)
	return out, nil
}

// cursor returns the stored cursor for key. A request still holding an older
// snapshot gets a throwaway cursor, so nothing outlives dropStale.
func (r *Router) cursor(key cursorKey) *cursor {
	if key.version != r.snap.Load().version {
		return &cursor{}
	}
	c := r.cursors.get(key)
	if key.version != r.snap.Load().version {
		// snapshot swapped while storing: dropStale may have run before us
		r.cursors.delete(key)
	}
	return c
}

// nodeWeight is the weight of the node's attribute value. Nodes without the
// attribute and values missing from the map weigh 1.
func nodeWeight(w *metadata.Weights, node cluster.DiscoveryNode) float64 {
	value, ok := node.Attribute(w.Attribute)
	if !ok {
		return 1
	}
	weight, ok := w.Weight(value)
	if !ok {
		return 1
	}
	return weight
}
