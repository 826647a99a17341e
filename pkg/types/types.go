package types

// NodeID identifies a node in the cluster.
type NodeID string

// ShardID identifies a shard inside an index.
type ShardID int

// Version is the monotonically increasing version of committed cluster metadata.
type Version uint64

// AttributeZone is the awareness attribute most deployments weigh on.
const AttributeZone = "zone"
