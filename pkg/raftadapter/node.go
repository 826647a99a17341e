package raftadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/etcd/raft/v3"
	"go.etcd.io/etcd/raft/v3/raftpb"

	"wrrouting/internal/config"
	"wrrouting/pkg/clusterstate"
)

// iStateMachine применяет закоммиченные команды, в том же порядке на каждой ноде
type iStateMachine interface {
	Apply(cmd clusterstate.Command) (clusterstate.Outcome, error)
}

type iTransport interface {
	Send(msg raftpb.Message) error
	AddPeer(id uint64, addr string)
	RemovePeer(id uint64)
	UpdatePeer(id uint64, addr string)
}

// Node replicates cluster state commands through etcd raft. Every node applies
// every committed command; the proposing node additionally wakes its caller
// once the entry is applied locally.
type Node struct {
	ID           uint64
	Peers        map[uint64]string
	underlying   raft.Node
	sm           iStateMachine
	jr           *raft.MemoryStorage
	conf         *raftpb.ConfState
	tickInterval time.Duration
	transport    iTransport

	ctx  context.Context
	stop context.CancelFunc

	proposalsMu sync.RWMutex
	proposals   map[uuid.UUID]chan proposeResult
}

var _ clusterstate.Committer = (*Node)(nil)

func NewNode(cfg *config.RaftConfig, sm iStateMachine) (*Node, error) {
	rc := toRaftConfig(cfg)
	storage := raft.NewMemoryStorage()
	rc.Storage = storage

	var (
		confState raftpb.ConfState
		peers     = make(map[uint64]string, len(cfg.Peers))
		raftPeers = make([]raft.Peer, 0, len(cfg.Peers))
	)
	for _, p := range cfg.Peers {
		if _, ok := peers[p.ID]; ok {
			return nil, fmt.Errorf("duplicate peer ID %d", p.ID)
		}
		peers[p.ID] = p.Address
		confState.Voters = append(confState.Voters, p.ID)
		raftPeers = append(raftPeers, raft.Peer{
			ID:      p.ID,
			Context: []byte(p.Address),
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Node{
		ID:           cfg.ID,
		Peers:        peers,
		conf:         &confState,
		underlying:   raft.StartNode(rc, raftPeers),
		sm:           sm,
		jr:           storage,
		tickInterval: tickInterval(cfg),
		transport:    NewTransport(peers),
		proposals:    make(map[uuid.UUID]chan proposeResult),
		ctx:          ctx,
		stop:         cancel,
	}, nil
}

func (n *Node) Run(ctx context.Context) error {
	ticker := time.NewTicker(n.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return n.ctx.Err()
		case <-ctx.Done():
			_ = n.Stop()
			return ctx.Err()
		case <-ticker.C:
			n.underlying.Tick()
		case rd := <-n.underlying.Ready():
			if err := n.handleReady(rd); err != nil {
				return err
			}
		}
	}
}

func (n *Node) handleReady(rd raft.Ready) error {
	if !raft.IsEmptyHardState(rd.HardState) {
		if err := n.jr.SetHardState(rd.HardState); err != nil {
			return fmt.Errorf("set hard state: %w", err)
		}
	}
	if err := n.jr.Append(rd.Entries); err != nil {
		return fmt.Errorf("append entries: %w", err)
	}

	n.sendMessages(rd.Messages)

	for _, entry := range rd.CommittedEntries {
		if err := n.applyEntry(entry); err != nil {
			slog.Error("critical: failed to apply entry", "index", entry.Index, "error", err)
			return fmt.Errorf("apply entry: %w", err)
		}

		if entry.Type == raftpb.EntryConfChange {
			var cc raftpb.ConfChange
			if err := cc.Unmarshal(entry.Data); err != nil {
				return fmt.Errorf("unmarshal conf change: %w", err)
			}
			n.conf = n.underlying.ApplyConfChange(cc)
			n.updateTransport(cc)
		}
	}

	n.underlying.Advance()
	return nil
}

func (n *Node) updateTransport(cc raftpb.ConfChange) {
	switch cc.Type {
	case raftpb.ConfChangeAddNode:
		// адрес нового пира приходит в Context
		peerAddr := string(cc.Context)
		n.Peers[cc.NodeID] = peerAddr
		n.transport.AddPeer(cc.NodeID, peerAddr)
		slog.Info("added peer", "id", cc.NodeID, "addr", peerAddr)

	case raftpb.ConfChangeRemoveNode:
		delete(n.Peers, cc.NodeID)
		n.transport.RemovePeer(cc.NodeID)
		slog.Info("removed peer", "id", cc.NodeID)

	case raftpb.ConfChangeUpdateNode:
		peerAddr := string(cc.Context)
		n.Peers[cc.NodeID] = peerAddr
		n.transport.UpdatePeer(cc.NodeID, peerAddr)
		slog.Info("updated peer", "id", cc.NodeID, "addr", peerAddr)
	}
}

func (n *Node) sendMessages(msgs []raftpb.Message) {
	for _, msg := range msgs {
		if msg.To == n.ID {
			continue
		}

		go func(m raftpb.Message) {
			if err := n.transport.Send(m); err != nil {
				n.underlying.ReportUnreachable(m.To)
				slog.Error("failed to send raft message",
					"from", m.From,
					"to", m.To,
					"type", m.Type,
					"error", err)
			}
		}(msg)
	}
}

// applyEntry применяет команду к state machine. Ошибка executor'а
// детерминирована и одинакова на всех нодах, поэтому она уходит только
// вызывающему, а не останавливает raft-цикл.
func (n *Node) applyEntry(entry raftpb.Entry) error {
	if entry.Type != raftpb.EntryNormal || len(entry.Data) == 0 {
		return nil
	}

	var cmd Cmd
	if err := json.Unmarshal(entry.Data, &cmd); err != nil {
		return fmt.Errorf("unmarshal command: %w", err)
	}

	outcome, err := n.sm.Apply(cmd.Command)
	n.notifyProposalResult(cmd.ID, proposeResult{Outcome: outcome, Err: err})
	return nil
}

func (n *Node) IsLeader() bool {
	return n.underlying.Status().Lead == n.ID
}

func (n *Node) LeaderID() uint64 {
	return n.underlying.Status().Lead
}

func (n *Node) LeaderAddr() string {
	return n.Peers[n.LeaderID()]
}

type proposeResult struct {
	Outcome clusterstate.Outcome
	Err     error
}

func (n *Node) notifyProposalResult(cmdID uuid.UUID, result proposeResult) {
	n.proposalsMu.RLock()
	resultChan, ok := n.proposals[cmdID]
	n.proposalsMu.RUnlock()

	if !ok {
		// - follower применяет чужую запись
		// - Commit уже завершился (timeout/cancel)
		slog.Debug("proposal result channel not found (ignored)", "cmd_id", cmdID, "is_leader", n.IsLeader())
		return
	}

	// не блокируем apply, если слушатель уже ушёл
	select {
	case resultChan <- result:
	default:
		slog.Debug("proposal result channel is full (ignored)", "cmd_id", cmdID)
	}
}

func validateCommand(cmd clusterstate.Command) error {
	if cmd.Kind == "" {
		return fmt.Errorf("invalid command %q: empty kind", cmd.Name)
	}
	return nil
}

// Commit proposes cmd and waits until this node has applied it. Follower
// proposals are forwarded to the leader by raft itself.
func (n *Node) Commit(ctx context.Context, c clusterstate.Command) (clusterstate.Outcome, error) {
	if err := validateCommand(c); err != nil {
		return clusterstate.Outcome{}, err
	}
	cmd := NewCmd(c)
	data, err := json.Marshal(cmd)
	if err != nil {
		return clusterstate.Outcome{}, fmt.Errorf("marshal command: %w", err)
	}

	resultChan := make(chan proposeResult, 1)

	n.proposalsMu.Lock()
	n.proposals[cmd.ID] = resultChan
	n.proposalsMu.Unlock()

	defer func() {
		n.proposalsMu.Lock()
		delete(n.proposals, cmd.ID)
		n.proposalsMu.Unlock()
	}()

	if err := n.underlying.Propose(ctx, data); err != nil {
		if errors.Is(err, raft.ErrStopped) {
			return clusterstate.Outcome{}, clusterstate.ErrCommitterStopped
		}
		return clusterstate.Outcome{}, fmt.Errorf("propose %s: %w", c.Name, err)
	}

	select {
	case result := <-resultChan:
		return result.Outcome, result.Err
	case <-ctx.Done():
		return clusterstate.Outcome{}, ctx.Err()
	case <-n.ctx.Done():
		return clusterstate.Outcome{}, clusterstate.ErrCommitterStopped
	}
}

// Handle обрабатывает входящие Raft-сообщения от других нод
func (n *Node) Handle(ctx context.Context, msg raftpb.Message) error {
	return n.underlying.Step(ctx, msg)
}

func (n *Node) Stop() error {
	select {
	case <-n.ctx.Done():
		return nil
	default:
	}
	slog.Info("stopping raft node", "id", n.ID)

	n.stop()
	n.underlying.Stop()

	slog.Info("raft node stopped", "id", n.ID)
	return nil
}
