package http

import (
	"wrrouting/pkg/metadata"
	"wrrouting/pkg/routing"
	"wrrouting/pkg/weighting"
)

type Status string

const (
	// StatusOK is used for health-check responses.
	StatusOK Status = "OK"

	// StatusError indicates an operation failed.
	StatusError Status = "error"
)

// Response is the envelope for health and error responses.
type Response struct {
	Status Status `json:"status,omitempty"`
	Value  string `json:"value,omitempty"`
	Error  string `json:"error,omitempty"`
}

func NewOKResponse() Response {
	return Response{Status: StatusOK}
}

func NewValueResponse(value string) Response {
	return Response{Status: StatusOK, Value: value}
}

func NewErrorResponse(err string) Response {
	return Response{Status: StatusError, Error: err}
}

// AckResponse answers weight writes.
type AckResponse struct {
	Acknowledged bool   `json:"acknowledged"`
	Changed      bool   `json:"changed"`
	Version      uint64 `json:"_version"`
}

func NewAckResponse(ack weighting.Ack) AckResponse {
	return AckResponse{Acknowledged: ack.Acknowledged, Changed: ack.Changed, Version: uint64(ack.Version)}
}

// LocalWeightResponse is the local read shape:
//
//	{"weight":"1","reason":{"weight_away":0,"decommission":0}}
type LocalWeightResponse struct {
	Weight string            `json:"weight"`
	Reason LocalWeightReason `json:"reason"`
}

type LocalWeightReason struct {
	WeightAway   int `json:"weight_away"`
	Decommission int `json:"decommission"`
}

func NewLocalWeightResponse(lw routing.LocalWeight) LocalWeightResponse {
	return LocalWeightResponse{
		Weight: metadata.FormatWeight(lw.Weight),
		Reason: LocalWeightReason{
			WeightAway:   boolToInt(lw.WeighAway),
			Decommission: boolToInt(lw.Decommissioned),
		},
	}
}

// AttributeWeightsResponse answers the per-attribute weights read. Values
// are nested so that no attribute value can collide with the other keys.
type AttributeWeightsResponse struct {
	Weights    map[string]string `json:"weights,omitempty"`
	NodeWeight string            `json:"node_weight,omitempty"`
	Version    uint64            `json:"_version"`
}

// ShardCopyResponse describes one copy in a _search_shards answer.
type ShardCopyResponse struct {
	Index   string `json:"index"`
	Shard   int    `json:"shard"`
	Node    string `json:"node"`
	Primary bool   `json:"primary"`
	State   string `json:"state"`
}

type SearchShardsResponse struct {
	Shards [][]ShardCopyResponse `json:"shards"`
}

func NewSearchShardsResponse(its []routing.ShardIterator) SearchShardsResponse {
	resp := SearchShardsResponse{Shards: make([][]ShardCopyResponse, 0, len(its))}
	for _, it := range its {
		group := make([]ShardCopyResponse, 0, it.Size())
		for _, c := range it.Copies {
			group = append(group, ShardCopyResponse{
				Index:   c.Index,
				Shard:   c.Shard,
				Node:    string(c.Node.ID),
				Primary: c.Primary,
				State:   string(c.State),
			})
		}
		resp.Shards = append(resp.Shards, group)
	}
	return resp
}

type ShardIDResponse struct {
	Index   string `json:"index"`
	ID      string `json:"id"`
	Routing string `json:"routing,omitempty"`
	Shard   int    `json:"shard"`
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
