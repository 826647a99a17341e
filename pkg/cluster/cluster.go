// Package cluster describes the nodes of the cluster and where they sit in
// the topology (zone, rack, ...).
package cluster

import (
	"slices"
	"strings"

	"wrrouting/pkg/types"
)

// DiscoveryNode holds identity and attributes of a node.
type DiscoveryNode struct {
	ID         types.NodeID      `json:"id" yaml:"id"`
	Address    string            `json:"address" yaml:"address"`
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes"`
}

// Attribute returns the node's value for an awareness attribute.
func (n DiscoveryNode) Attribute(name string) (string, bool) {
	v, ok := n.Attributes[name]
	return v, ok
}

// Membership provides a view of cluster nodes.
type Membership interface {
	LocalNode() DiscoveryNode
	Nodes() ([]DiscoveryNode, error)
}

// SortNodes orders nodes by id, so every node derives the same placement.
func SortNodes(nodes []DiscoveryNode) {
	slices.SortFunc(nodes, func(a, b DiscoveryNode) int {
		return strings.Compare(string(a.ID), string(b.ID))
	})
}

// StaticMembership is a fixed node list, used when no coordination service is configured.
type StaticMembership struct {
	local DiscoveryNode
	nodes []DiscoveryNode
}

func NewStaticMembership(local DiscoveryNode, nodes []DiscoveryNode) *StaticMembership {
	all := slices.Clone(nodes)
	if !slices.ContainsFunc(all, func(n DiscoveryNode) bool { return n.ID == local.ID }) {
		all = append(all, local)
	}
	SortNodes(all)
	return &StaticMembership{local: local, nodes: all}
}

func (m *StaticMembership) LocalNode() DiscoveryNode {
	return m.local
}

func (m *StaticMembership) Nodes() ([]DiscoveryNode, error) {
	return slices.Clone(m.nodes), nil
}
