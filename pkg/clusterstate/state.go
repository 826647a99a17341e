// Package clusterstate holds the replicated cluster metadata and applies
// state transitions to it.
//
// A State is immutable. Transitions are Commands: a kind naming a registered
// Executor plus an opaque payload. Commands are executed one at a time in
// commit order on every node, so every node derives the same sequence of
// versions. Readers load the current *State without locking.
package clusterstate

import (
	"maps"
	"slices"

	"wrrouting/pkg/metadata"
	"wrrouting/pkg/types"
)

type State struct {
	version types.Version
	customs map[string]metadata.Custom
}

// Empty is the state before any command has been committed.
func Empty() *State {
	return &State{customs: map[string]metadata.Custom{}}
}

func (s *State) Version() types.Version {
	return s.version
}

// Custom returns the custom section with the given type tag, or nil.
func (s *State) Custom(typ string) metadata.Custom {
	return s.customs[typ]
}

// WeightedRouting returns the weighted routing metadata, or nil when no
// weights were ever committed.
func (s *State) WeightedRouting() *metadata.WeightedRouting {
	wr, _ := s.customs[metadata.TypeWeightedRouting].(*metadata.WeightedRouting)
	return wr
}

// CustomTypes lists the tags of all present custom sections.
func (s *State) CustomTypes() []string {
	var tags []string
	for t := range s.customs {
		tags = append(tags, t)
	}
	slices.Sort(tags)
	return tags
}

// WithCustom returns a copy of the state with c stored under its type tag.
func (s *State) WithCustom(c metadata.Custom) *State {
	next := s.clone()
	next.customs[c.Type()] = c
	return next
}

// WithoutCustom returns a copy without the given section. The state itself is
// returned when the section is absent.
func (s *State) WithoutCustom(typ string) *State {
	if _, ok := s.customs[typ]; !ok {
		return s
	}
	next := s.clone()
	delete(next.customs, typ)
	return next
}

func (s *State) clone() *State {
	return &State{version: s.version, customs: maps.Clone(s.customs)}
}

func (s *State) withVersion(v types.Version) *State {
	next := s.clone()
	next.version = v
	return next
}
