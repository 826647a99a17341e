// Package sharding maps documents to shards.
//
// The mapping must be identical on every node and across releases: a document
// indexed by one node has to be found by any other, so nothing here may depend
// on process state, map order or the platform.
package sharding

import (
	"encoding/binary"
	"fmt"
	"sort"
	"unicode/utf16"

	"github.com/spaolacci/murmur3"
)

// IndexMetadata holds the part of an index definition that shard routing depends on.
type IndexMetadata struct {
	Name             string `yaml:"name" json:"name"`
	NumberOfShards   int    `yaml:"shards" json:"number_of_shards"`
	NumberOfReplicas int    `yaml:"replicas" json:"number_of_replicas"`

	// RoutingNumShards is the shard count documents are hashed against. It stays
	// at the original value when an index is shrunk, so documents keep their slot.
	RoutingNumShards int `yaml:"routing_num_shards" json:"routing_num_shards"`

	// RoutingPartitionSize spreads one routing value over several shards.
	RoutingPartitionSize int `yaml:"routing_partition_size" json:"routing_partition_size"`
}

// Normalize fills zero-valued routing fields with their defaults.
func (m IndexMetadata) Normalize() IndexMetadata {
	if m.RoutingNumShards == 0 {
		m.RoutingNumShards = m.NumberOfShards
	}
	if m.RoutingPartitionSize == 0 {
		m.RoutingPartitionSize = 1
	}
	return m
}

// Validate checks the index geometry after normalization.
func (m IndexMetadata) Validate() error {
	m = m.Normalize()
	switch {
	case m.Name == "":
		return fmt.Errorf("%w: empty index name", ErrInvalidIndex)
	case m.NumberOfShards <= 0:
		return fmt.Errorf("%w: index [%s] must have at least one shard", ErrInvalidIndex, m.Name)
	case m.NumberOfReplicas < 0:
		return fmt.Errorf("%w: index [%s] has negative replica count", ErrInvalidIndex, m.Name)
	case m.RoutingNumShards < m.NumberOfShards || m.RoutingNumShards%m.NumberOfShards != 0:
		return fmt.Errorf("%w: index [%s] routing_num_shards %d is not a multiple of shards %d",
			ErrInvalidIndex, m.Name, m.RoutingNumShards, m.NumberOfShards)
	case m.RoutingPartitionSize < 1 || m.RoutingPartitionSize > m.RoutingNumShards:
		return fmt.Errorf("%w: index [%s] routing_partition_size %d out of range [1, %d]",
			ErrInvalidIndex, m.Name, m.RoutingPartitionSize, m.RoutingNumShards)
	}
	return nil
}

// RoutingFactor is how many hash slots collapse into one physical shard.
func (m IndexMetadata) RoutingFactor() int {
	m = m.Normalize()
	return m.RoutingNumShards / m.NumberOfShards
}

// IsRoutingPartitioned reports whether a routing value maps to more than one shard.
func (m IndexMetadata) IsRoutingPartitioned() bool {
	return m.Normalize().RoutingPartitionSize != 1
}

// Hash returns the 32-bit Murmur3 hash (seed 0) of the UTF-16LE code units of s.
func Hash(s string) int32 {
	units := utf16.Encode([]rune(s))
	buf := make([]byte, 2*len(units))
	for i, u := range units {
		binary.LittleEndian.PutUint16(buf[2*i:], u)
	}
	return int32(murmur3.Sum32(buf))
}

// ShardID returns the shard that owns document id. An empty routing means the
// document id itself is the routing value, which partitioned indices forbid.
func ShardID(meta IndexMetadata, id, routing string) (int, error) {
	meta = meta.Normalize()

	effective := routing
	if routing == "" {
		if meta.IsRoutingPartitioned() {
			return 0, fmt.Errorf("%w: index [%s], id [%s]", ErrRoutingRequired, meta.Name, id)
		}
		effective = id
	}

	offset := 0
	if meta.IsRoutingPartitioned() {
		offset = floorMod(int64(Hash(id)), meta.RoutingPartitionSize)
	}
	return scaledShardID(meta, effective, offset), nil
}

// TargetShards lists every shard a routing value can land on, in ascending order.
func TargetShards(meta IndexMetadata, routing string) []int {
	meta = meta.Normalize()

	seen := make(map[int]struct{}, meta.RoutingPartitionSize)
	result := make([]int, 0, meta.RoutingPartitionSize)
	for offset := 0; offset < meta.RoutingPartitionSize; offset++ {
		id := scaledShardID(meta, routing, offset)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	sort.Ints(result)
	return result
}

func scaledShardID(meta IndexMetadata, routing string, partitionOffset int) int {
	// int32 overflow is part of the contract: other nodes wrap the same way.
	hash := Hash(routing) + int32(partitionOffset)
	return floorMod(int64(hash), meta.RoutingNumShards) / meta.RoutingFactor()
}

func floorMod(x int64, n int) int {
	m := x % int64(n)
	if m < 0 {
		m += int64(n)
	}
	return int(m)
}
