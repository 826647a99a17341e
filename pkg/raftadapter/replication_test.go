//nolint:hugeParam // test only
package raftadapter

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.etcd.io/etcd/raft/v3/raftpb"

	"wrrouting/internal/config"
	"wrrouting/pkg/clusterstate"
	"wrrouting/pkg/metadata"
	"wrrouting/pkg/weighting"
)

// inprocTransport маршрутизирует raft сообщения между нодами в памяти
type inprocTransport struct {
	nodesMu sync.RWMutex
	nodes   map[uint64]*Node
}

func newInprocTransport() *inprocTransport {
	return &inprocTransport{nodes: make(map[uint64]*Node)}
}

func (t *inprocTransport) Send(msg raftpb.Message) error {
	t.nodesMu.RLock()
	target, ok := t.nodes[msg.To]
	t.nodesMu.RUnlock()
	if !ok {
		return nil
	}
	// не блокируем отправителя
	go func() {
		_ = target.Handle(context.Background(), msg)
	}()
	return nil
}

func (t *inprocTransport) AddPeer(uint64, string)    {}
func (t *inprocTransport) RemovePeer(uint64)         {}
func (t *inprocTransport) UpdatePeer(uint64, string) {}

// waitForLeader ждёт ровно одного лидера среди нод
func waitForLeader(t *testing.T, nodes []*Node, timeout time.Duration) *Node {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		var leaders []*Node
		for _, n := range nodes {
			if n.IsLeader() {
				leaders = append(leaders, n)
			}
		}
		if len(leaders) == 1 {
			return leaders[0]
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("leader not elected within %s", timeout)
	return nil
}

type replica struct {
	node    *Node
	state   *clusterstate.Service
	weights *weighting.Service
}

func startCluster(t *testing.T) []replica {
	t.Helper()
	cfg := func(id uint64) *config.RaftConfig {
		return &config.RaftConfig{
			ID:                        id,
			ElectionTick:              10,
			HeartbeatTick:             2,
			TickInterval:              20 * time.Millisecond,
			MaxSizePerMsg:             1024,
			MaxCommittedSizePerReady:  4096,
			MaxUncommittedEntriesSize: 8192,
			MaxInflightMsgs:           256,
			Peers: []config.RaftPeerConfig{
				{ID: 1, Address: "n1"},
				{ID: 2, Address: "n2"},
				{ID: 3, Address: "n3"},
			},
		}
	}

	transport := newInprocTransport()
	replicas := make([]replica, 3)
	for i := range replicas {
		svc := clusterstate.NewService()
		n, err := NewNode(cfg(uint64(i+1)), svc)
		if err != nil {
			t.Fatalf("failed to create node %d: %v", i+1, err)
		}
		n.transport = transport
		replicas[i] = replica{
			node:    n,
			state:   svc,
			weights: weighting.NewService(svc, n, metadata.DefaultRegistry(), weighting.WithCommitTimeout(3*time.Second)),
		}

		transport.nodesMu.Lock()
		transport.nodes[n.ID] = n
		transport.nodesMu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, r := range replicas {
		wg.Add(1)
		go func(node *Node) {
			defer wg.Done()
			_ = node.Run(ctx)
		}(r.node)
	}
	t.Cleanup(func() {
		cancel()
		for _, r := range replicas {
			_ = r.node.Stop()
		}
		wg.Wait()
	})
	return replicas
}

func TestReplication_WeightsReachAllNodes(t *testing.T) {
	replicas := startCluster(t)
	nodes := []*Node{replicas[0].node, replicas[1].node, replicas[2].node}
	leader := waitForLeader(t, nodes, 5*time.Second)
	t.Logf("leader elected: %d", leader.ID)

	var proposer, follower replica
	for _, r := range replicas {
		if r.node == leader {
			proposer = r
		} else {
			follower = r
		}
	}

	w := metadata.Weights{Attribute: "zone", Values: map[string]float64{"a": 1, "b": 2, "c": 0}}
	ack, err := proposer.weights.Put(context.Background(), w)
	if err != nil {
		t.Fatalf("leader Put failed: %v", err)
	}
	if !ack.Acknowledged || !ack.Changed || ack.Version != 1 {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		all := true
		for _, r := range replicas {
			got, version, ok := r.weights.Get()
			if !ok || version != 1 || !got.Equal(w) {
				all = false
				break
			}
		}
		if all {
			break
		}
		if time.Now().After(deadline) {
			for i, r := range replicas {
				got, version, ok := r.weights.Get()
				t.Logf("node %d: ok=%v version=%d weights=%s", i+1, ok, version, got)
			}
			t.Fatalf("replication did not reach all nodes in time")
		}
		time.Sleep(50 * time.Millisecond)
	}

	// повторная запись тех же весов с фолловера: no-op, версия не меняется
	ack, err = follower.weights.Put(context.Background(), w)
	if err != nil {
		t.Fatalf("follower Put failed: %v", err)
	}
	if !ack.Acknowledged || ack.Changed || ack.Version != 1 {
		t.Fatalf("expected unchanged ack at version 1, got %+v", ack)
	}
}

func TestReplication_ExecutorErrorReachesCaller(t *testing.T) {
	replicas := startCluster(t)
	leader := waitForLeader(t, []*Node{replicas[0].node, replicas[1].node, replicas[2].node}, 5*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := leader.Commit(ctx, clusterstate.Command{Name: "bogus", Kind: "no_such_kind"})
	if err == nil {
		t.Fatalf("expected unknown command error")
	}

	// raft-цикл продолжает работать после ошибки команды
	w := metadata.Weights{Attribute: "zone", Values: map[string]float64{"a": 1}}
	var proposer replica
	for _, r := range replicas {
		if r.node == leader {
			proposer = r
		}
	}
	if _, err := proposer.weights.Put(context.Background(), w); err != nil {
		t.Fatalf("Put after failed command: %v", err)
	}
}
