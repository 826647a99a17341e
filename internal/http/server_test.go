//nolint:hugeParam // test only
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.etcd.io/etcd/raft/v3/raftpb"

	"wrrouting/pkg/cluster"
	"wrrouting/pkg/clusterstate"
	"wrrouting/pkg/metadata"
	"wrrouting/pkg/routing"
	"wrrouting/pkg/routingtable"
	"wrrouting/pkg/sharding"
	"wrrouting/pkg/weighting"
)

type testEnv struct {
	server *Server
	state  *clusterstate.Service
	local  *clusterstate.LocalCommitter
}

// newTestEnv собирает настоящий стек: state service, local committer, router
func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	nodes := []cluster.DiscoveryNode{
		{ID: "n1", Attributes: map[string]string{"zone": "a"}},
		{ID: "n2", Attributes: map[string]string{"zone": "b"}},
	}
	table, err := routingtable.New([]sharding.IndexMetadata{
		{Name: "logs", NumberOfShards: 2, NumberOfReplicas: 1},
		{Name: "tenants", NumberOfShards: 4, RoutingNumShards: 8, RoutingPartitionSize: 2},
	})
	if err != nil {
		t.Fatalf("routing table: %v", err)
	}
	table.UpdateNodes(nodes)

	state := clusterstate.NewService()
	committer := clusterstate.NewLocalCommitter(state, 16)
	committer.Start(context.Background())
	t.Cleanup(committer.Stop)

	weights := weighting.NewService(state, committer, metadata.DefaultRegistry())
	router := routing.New(table, nodes[0], routing.DefaultSettings())
	state.AddApplier(router)

	return &testEnv{
		server: NewServer(weights, router, "", opts...),
		state:  state,
		local:  committer,
	}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rr := httptest.NewRecorder()
	e.server.createRouter().ServeHTTP(rr, req)
	return rr
}

func decodeInto(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode response JSON: %v, body=%s", err, rr.Body.String())
	}
}

func TestHealthHandler(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/health", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp Response
	decodeInto(t, rr, &resp)
	if resp.Status != StatusOK {
		t.Fatalf("expected status %s, got %s", StatusOK, resp.Status)
	}

	rr = env.do(t, http.MethodPost, "/health", "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("method-not-allowed: expected 405, got %d", rr.Code)
	}
}

func TestPutGetDeleteWeightsFlow(t *testing.T) {
	env := newTestEnv(t)

	// PUT
	rr := env.do(t, http.MethodPut, "/_cluster/routing/awareness/weights", `{"zone":{"a":"1","b":2}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("put: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var ack AckResponse
	decodeInto(t, rr, &ack)
	if !ack.Acknowledged || !ack.Changed || ack.Version != 1 {
		t.Fatalf("put: unexpected ack %+v", ack)
	}

	// повторный PUT тех же весов через второй путь: no-op
	rr = env.do(t, http.MethodPut, "/_cluster/shard_routing/weights", `{"zone":{"b":2,"a":1}}`)
	decodeInto(t, rr, &ack)
	if !ack.Acknowledged || ack.Changed || ack.Version != 1 {
		t.Fatalf("put again: expected unchanged ack, got %+v", ack)
	}

	// GET cluster shape
	rr = env.do(t, http.MethodGet, "/_cluster/shard_routing/weights", "")
	var awareness metadata.AwarenessResponse
	decodeInto(t, rr, &awareness)
	if got := awareness.Awareness["zone"]; got["a"] != 1 || got["b"] != 2 {
		t.Fatalf("get: unexpected weights %v", awareness.Awareness)
	}

	// GET local shape: локальная нода n1 в zone a
	rr = env.do(t, http.MethodGet, "/_cluster/shard_routing/weights?local", "")
	var local LocalWeightResponse
	decodeInto(t, rr, &local)
	if local.Weight != "1" || local.Reason.WeightAway != 1 || local.Reason.Decommission != 0 {
		t.Fatalf("get local: unexpected %+v", local)
	}

	// DELETE
	rr = env.do(t, http.MethodDelete, "/_cluster/routing/awareness/weights", "")
	decodeInto(t, rr, &ack)
	if !ack.Changed || ack.Version != 2 {
		t.Fatalf("delete: unexpected ack %+v", ack)
	}

	rr = env.do(t, http.MethodGet, "/_cluster/shard_routing/weights?local=true", "")
	decodeInto(t, rr, &local)
	if local.Weight != "1" || local.Reason.WeightAway != 0 {
		t.Fatalf("get local after delete: expected fail-open default, got %+v", local)
	}

	rr = env.do(t, http.MethodGet, "/_cluster/shard_routing/weights", "")
	if strings.TrimSpace(rr.Body.String()) != "{}" {
		t.Fatalf("get after delete: expected empty object, got %s", rr.Body.String())
	}
}

func TestPutWeights_Rejected(t *testing.T) {
	env := newTestEnv(t)

	bodies := []string{
		`not json`,
		`{"zone":1}`,
		`{"zone":{"a":"x"}}`,
		`{"zone":{"a":0,"b":0}}`,
		`{"zone":{"a":1},"rack":{"r1":1}}`,
		`{"zone":{"a":-1,"b":1}}`,
	}
	for _, body := range bodies {
		rr := env.do(t, http.MethodPut, "/_cluster/routing/awareness/weights", body)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d body=%s", body, rr.Code, rr.Body.String())
		}
	}
	if v := env.state.State().Version(); v != 0 {
		t.Fatalf("rejected writes must not change state, version=%d", v)
	}
}

func TestGetAttributeWeights(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPut, "/_cluster/routing/awareness/weights", `{"zone":{"a":1.5,"b":0}}`)

	rr := env.do(t, http.MethodGet, "/_cluster/routing/awareness/zone/weights?local=true", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Header().Get("_version") != "1" {
		t.Fatalf("expected _version header 1, got %q", rr.Header().Get("_version"))
	}
	etag := rr.Header().Get("ETag")
	if etag == "" {
		t.Fatalf("expected ETag header")
	}
	var body AttributeWeightsResponse
	decodeInto(t, rr, &body)
	if body.Weights["a"] != "1.5" || body.Weights["b"] != "0" || body.NodeWeight != "1.5" || body.Version != 1 {
		t.Fatalf("unexpected body %+v", body)
	}

	req := httptest.NewRequest(http.MethodGet, "/_cluster/routing/awareness/zone/weights", nil)
	req.Header.Set("If-None-Match", etag)
	rr = httptest.NewRecorder()
	env.server.createRouter().ServeHTTP(rr, req)
	if rr.Code != http.StatusNotModified {
		t.Fatalf("expected 304 for matching ETag, got %d", rr.Code)
	}

	// новая переменная: json.Unmarshal дописывает в уже заполненную map
	rr = env.do(t, http.MethodGet, "/_cluster/routing/awareness/rack/weights", "")
	var other map[string]any
	decodeInto(t, rr, &other)
	if _, ok := other["weights"]; ok || rr.Header().Get("ETag") != "" {
		t.Fatalf("other attribute must not report zone weights: %v", other)
	}
	if other["_version"] != float64(1) {
		t.Fatalf("expected _version 1, got %v", other)
	}
}

func TestGetAttributeWeights_ReservedValueNames(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodPut, "/_cluster/routing/awareness/weights", `{"zone":{"_version":"3","node_weight":0,"a":1}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("put: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodGet, "/_cluster/routing/awareness/zone/weights?local", "")
	var body AttributeWeightsResponse
	decodeInto(t, rr, &body)
	if body.Version != 1 {
		t.Fatalf("attribute value must not overwrite the version: %+v", body)
	}
	if body.Weights["_version"] != "3" || body.Weights["node_weight"] != "0" {
		t.Fatalf("unexpected weights %+v", body.Weights)
	}
	if body.NodeWeight != "1" {
		t.Fatalf("expected local node weight 1, got %q", body.NodeWeight)
	}
}

func TestSearchShards(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPut, "/_cluster/routing/awareness/weights", `{"zone":{"a":1,"b":0}}`)

	rr := env.do(t, http.MethodGet, "/logs/_search_shards", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var resp SearchShardsResponse
	decodeInto(t, rr, &resp)
	if len(resp.Shards) != 2 {
		t.Fatalf("expected 2 shard groups, got %d", len(resp.Shards))
	}
	for _, group := range resp.Shards {
		if len(group) != 1 || group[0].Node != "n1" {
			t.Fatalf("zone b has weight 0, expected only n1: %+v", group)
		}
	}

	rr = env.do(t, http.MethodGet, "/logs/_search_shards?preference=_only_nodes:n2", "")
	decodeInto(t, rr, &resp)
	for _, group := range resp.Shards {
		if len(group) != 1 || group[0].Node != "n2" {
			t.Fatalf("preference must bypass weights: %+v", group)
		}
	}

	rr = env.do(t, http.MethodGet, "/tenants/_search_shards?routing=acme", "")
	decodeInto(t, rr, &resp)
	if len(resp.Shards) == 0 || len(resp.Shards) > 2 {
		t.Fatalf("partitioned routing reaches 1..2 shards, got %d", len(resp.Shards))
	}

	rr = env.do(t, http.MethodGet, "/missing/_search_shards", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	rr = env.do(t, http.MethodGet, "/logs/_search_shards?preference=_bogus", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestShardID(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/logs/_shard_id?id=doc-1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var resp ShardIDResponse
	decodeInto(t, rr, &resp)
	want, _ := sharding.ShardID(sharding.IndexMetadata{Name: "logs", NumberOfShards: 2}, "doc-1", "")
	if resp.Shard != want {
		t.Fatalf("expected shard %d, got %d", want, resp.Shard)
	}

	rr = env.do(t, http.MethodGet, "/tenants/_shard_id?id=doc-1", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("partitioned index without routing: expected 400, got %d", rr.Code)
	}

	rr = env.do(t, http.MethodGet, "/logs/_shard_id", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing id: expected 400, got %d", rr.Code)
	}
}

func TestCommitterStopped(t *testing.T) {
	env := newTestEnv(t)
	env.local.Stop()

	rr := env.do(t, http.MethodPut, "/_cluster/routing/awareness/weights", `{"zone":{"a":1}}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d body=%s", rr.Code, rr.Body.String())
	}
}

// fakeRaftNode записывает полученные сообщения
type fakeRaftNode struct {
	got []raftpb.Message
}

func (n *fakeRaftNode) LeaderID() uint64 { return 3 }
func (n *fakeRaftNode) Handle(_ context.Context, msg raftpb.Message) error {
	n.got = append(n.got, msg)
	return nil
}

func TestRaftEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodPost, "/api/internal/raft", "")
	if rr.Code == http.StatusOK {
		t.Fatalf("raft endpoint must not exist without a node")
	}

	node := &fakeRaftNode{}
	env = newTestEnv(t, WithRaftNode(node))
	msg := raftpb.Message{Type: raftpb.MsgApp, From: 1, To: 2, Term: 4}
	data, err := msg.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	rr = env.do(t, http.MethodPost, "/api/internal/raft", string(data))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if len(node.got) != 1 || node.got[0].Term != 4 || node.got[0].Type != raftpb.MsgApp {
		t.Fatalf("unexpected messages %+v", node.got)
	}

	rr = env.do(t, http.MethodGet, "/health", "")
	var resp Response
	decodeInto(t, rr, &resp)
	if resp.Value != "leader=3" {
		t.Fatalf("expected leader in health value, got %q", resp.Value)
	}

	rr = env.do(t, http.MethodPost, "/api/internal/raft", "\xff\xff")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("garbage body: expected 400, got %d", rr.Code)
	}
}
