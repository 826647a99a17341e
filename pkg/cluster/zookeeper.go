package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"

	"wrrouting/pkg/types"
)

const (
	nodesDir           = "nodes"
	watchRetryInterval = 2 * time.Second
	connectPoll        = 200 * time.Millisecond
)

// zkConn is the subset of *zk.Conn used here.
type zkConn interface {
	Exists(path string) (bool, *zk.Stat, error)
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	Get(path string) ([]byte, *zk.Stat, error)
	Children(path string) ([]string, *zk.Stat, error)
	ChildrenW(path string) ([]string, *zk.Stat, <-chan zk.Event, error)
	State() zk.State
	Close()
}

// ZKMembership keeps one ephemeral znode per live node under <root>/nodes.
// The znode payload is the JSON-encoded DiscoveryNode, so peers learn each
// other's awareness attributes together with liveness.
type ZKMembership struct {
	conn     zkConn
	rootPath string
	local    DiscoveryNode
}

// servers: ["zk1:2181", "zk2:2181"]
func NewZKMembership(servers []string, rootPath string, sessionTimeout time.Duration, local DiscoveryNode) (*ZKMembership, error) {
	conn, _, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, fmt.Errorf("zk connect: %w", err)
	}
	return newZKMembership(conn, rootPath, local), nil
}

func newZKMembership(conn zkConn, rootPath string, local DiscoveryNode) *ZKMembership {
	return &ZKMembership{
		conn:     conn,
		rootPath: rootPath,
		local:    local,
	}
}

func (m *ZKMembership) Close() error {
	m.conn.Close()
	return nil
}

func (m *ZKMembership) LocalNode() DiscoveryNode {
	return m.local
}

func (m *ZKMembership) nodesPath() string {
	return path.Join(m.rootPath, nodesDir)
}

func (m *ZKMembership) ensurePath(p string) error {
	cur := ""
	for _, part := range strings.Split(p, "/") {
		if part == "" {
			continue
		}
		cur = cur + "/" + part
		exists, _, err := m.conn.Exists(cur)
		if err != nil {
			return err
		}
		if !exists {
			_, err = m.conn.Create(cur, nil, 0, zk.WorldACL(zk.PermAll))
			if err != nil && !errors.Is(err, zk.ErrNodeExists) {
				return err
			}
		}
	}
	return nil
}

// RegisterSelf создаёт ephemeral-узел для текущей ноды
func (m *ZKMembership) RegisterSelf(timeout time.Duration) error {
	// ждём, пока клиент реально подключится к ZK
	if err := m.waitConnected(timeout); err != nil {
		return err
	}

	if err := m.ensurePath(m.nodesPath()); err != nil {
		return fmt.Errorf("ensure nodes path: %w", err)
	}

	payload, err := json.Marshal(m.local)
	if err != nil {
		return fmt.Errorf("marshal local node: %w", err)
	}

	nodePath := path.Join(m.nodesPath(), string(m.local.ID))
	_, err = m.conn.Create(nodePath, payload, zk.FlagEphemeral, zk.WorldACL(zk.PermAll))
	if err != nil && !errors.Is(err, zk.ErrNodeExists) {
		return fmt.Errorf("create ephemeral node: %w", err)
	}

	slog.Info("registered node in zookeeper", "path", nodePath, "attributes", m.local.Attributes)
	return nil
}

// Nodes читает список живых нод вместе с их атрибутами
func (m *ZKMembership) Nodes() ([]DiscoveryNode, error) {
	children, _, err := m.conn.Children(m.nodesPath())
	if err != nil {
		return nil, fmt.Errorf("zk children: %w", err)
	}
	return m.readNodes(children)
}

func (m *ZKMembership) readNodes(children []string) ([]DiscoveryNode, error) {
	nodes := make([]DiscoveryNode, 0, len(children))
	for _, child := range children {
		data, _, err := m.conn.Get(path.Join(m.nodesPath(), child))
		if errors.Is(err, zk.ErrNoNode) {
			// нода ушла между Children и Get
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("zk get %s: %w", child, err)
		}

		var n DiscoveryNode
		if err := json.Unmarshal(data, &n); err != nil {
			slog.Warn("skipping node with unreadable payload", "node", child, "error", err)
			continue
		}
		if n.ID == "" {
			n.ID = types.NodeID(child)
		}
		nodes = append(nodes, n)
	}
	SortNodes(nodes)
	return nodes, nil
}

// RunWatch следит за изменениями <root>/nodes и отдаёт актуальный список в onChange.
// Blocks until ctx is done.
func (m *ZKMembership) RunWatch(ctx context.Context, onChange func([]DiscoveryNode)) {
	for {
		children, _, ch, err := m.conn.ChildrenW(m.nodesPath())
		if err != nil {
			slog.Warn("zk ChildrenW failed", "error", err)
			select {
			case <-time.After(watchRetryInterval):
				continue
			case <-ctx.Done():
				return
			}
		}

		nodes, err := m.readNodes(children)
		if err != nil {
			slog.Warn("zk read nodes failed", "error", err)
		} else {
			onChange(nodes)
		}

		select {
		case ev := <-ch:
			slog.Debug("zk membership event", "type", ev.Type, "path", ev.Path)
			// просто продолжаем цикл и перечитываем список нод
		case <-ctx.Done():
			slog.Info("zk watch stopped")
			return
		}
	}
}

func (m *ZKMembership) waitConnected(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		st := m.conn.State()
		if st == zk.StateConnected || st == zk.StateHasSession {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("zk: not connected after %s, state=%v", timeout, st)
		}
		time.Sleep(connectPoll)
	}
}
