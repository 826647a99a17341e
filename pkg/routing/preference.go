package routing

import (
	"fmt"
	"path"
	"slices"
	"strconv"
	"strings"

	"wrrouting/pkg/cluster"
	"wrrouting/pkg/routingtable"
	"wrrouting/pkg/types"
)

// preference types
const (
	prefShards      = "_shards"
	prefPreferNodes = "_prefer_nodes"
	prefLocal       = "_local"
	prefOnlyLocal   = "_only_local"
	prefOnlyNodes   = "_only_nodes"
)

// splitPreference returns the type of a "_type:args" preference and its args.
func splitPreference(preference string) (typ, args string) {
	typ, args, _ = strings.Cut(preference, ":")
	return typ, args
}

// shardsPreference handles "_shards:1,2[|rest]". It reports whether the
// shard is selected and returns the remaining preference.
func shardsPreference(preference string, shard int) (bool, string, error) {
	_, args := splitPreference(preference)
	ids, rest, _ := strings.Cut(args, "|")

	found := false
	for _, raw := range strings.Split(ids, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, err := strconv.Atoi(raw)
		if err != nil {
			return false, "", fmt.Errorf("%w: bad shard id %q in [%s]", ErrUnknownPreference, raw, preference)
		}
		if id == shard {
			found = true
		}
	}
	return found, rest, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// preferNodes puts copies on the given nodes first.
func preferNodes(copies []routingtable.ShardCopy, ids []types.NodeID) []routingtable.ShardCopy {
	preferred, rest := partition(copies, func(c routingtable.ShardCopy) bool {
		return slices.Contains(ids, c.Node.ID)
	})
	return append(preferred, rest...)
}

// onlyNodes keeps copies on nodes matching any selector. A selector is a
// node id or an "attr:value" pair; both sides accept path.Match globs.
func onlyNodes(copies []routingtable.ShardCopy, selectors []string) ([]routingtable.ShardCopy, error) {
	for _, sel := range selectors {
		if _, err := path.Match(sel, ""); err != nil {
			return nil, fmt.Errorf("%w: bad node selector %q", ErrUnknownPreference, sel)
		}
	}
	matched, _ := partition(copies, func(c routingtable.ShardCopy) bool {
		return slices.ContainsFunc(selectors, func(sel string) bool {
			return matchNode(c.Node, sel)
		})
	})
	if len(matched) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoMatchingNodes, strings.Join(selectors, ","))
	}
	return matched, nil
}

func matchNode(node cluster.DiscoveryNode, selector string) bool {
	if ok, _ := path.Match(selector, string(node.ID)); ok {
		return true
	}
	if ok, _ := path.Match(selector, node.Address); ok && node.Address != "" {
		return true
	}
	attr, value, found := strings.Cut(selector, ":")
	if !found {
		return false
	}
	for name, v := range node.Attributes {
		nameOK, _ := path.Match(attr, name)
		valueOK, _ := path.Match(value, v)
		if nameOK && valueOK {
			return true
		}
	}
	return false
}
