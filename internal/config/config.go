package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"wrrouting/pkg/sharding"
)

// Config - корневая структура конфигурации ноды
type Config struct {
	Logger    LoggerConfig             `yaml:"logger"`
	Node      NodeConfig               `yaml:"node"`
	Server    ServerConfig             `yaml:"http-server"`
	Routing   RoutingConfig            `yaml:"routing"`
	Cluster   ClusterConfig            `yaml:"cluster"`
	Raft      RaftConfig               `yaml:"raft"`
	Zookeeper ZookeeperConfig          `yaml:"zookeeper"`
	Indices   []sharding.IndexMetadata `yaml:"indices"`
}

type LoggerConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// NodeConfig describes the local node.
type NodeConfig struct {
	ID         string            `yaml:"id"`
	Address    string            `yaml:"address"`
	Attributes map[string]string `yaml:"attributes"`
}

type ServerConfig struct {
	Port              int           `yaml:"port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	// CommitTimeout bounds how long a weights write waits for its commit.
	CommitTimeout time.Duration `yaml:"commit_timeout"`
}

type RoutingConfig struct {
	AwarenessAttributes         []string `yaml:"awareness_attributes"`
	IgnoreAwarenessAttributes   bool     `yaml:"ignore_awareness_attributes"`
	UseAdaptiveReplicaSelection bool     `yaml:"use_adaptive_replica_selection"`
	WeightedRoutingEnabled      bool     `yaml:"weighted_routing_enabled"`
}

// Cluster modes
const (
	ModeLocal = "local"
	ModeRaft  = "raft"
)

type ClusterConfig struct {
	Mode        string       `yaml:"mode"`
	StaticNodes []NodeConfig `yaml:"static_nodes"`
}

// RaftConfig - параметры etcd raft
type RaftConfig struct {
	ID                        uint64           `yaml:"id"`
	ElectionTick              int              `yaml:"election_tick"`
	HeartbeatTick             int              `yaml:"heartbeat_tick"`
	TickInterval              time.Duration    `yaml:"tick_interval"`
	MaxSizePerMsg             uint64           `yaml:"max_size_per_msg"`
	MaxCommittedSizePerReady  uint64           `yaml:"max_committed_size_per_ready"`
	MaxUncommittedEntriesSize uint64           `yaml:"max_uncommitted_entries_size"`
	MaxInflightMsgs           int              `yaml:"max_inflight_msgs"`
	CheckQuorum               bool             `yaml:"check_quorum"`
	PreVote                   bool             `yaml:"pre_vote"`
	Peers                     []RaftPeerConfig `yaml:"peers"`
}

type RaftPeerConfig struct {
	ID      uint64 `yaml:"id"`
	Address string `yaml:"address"`
}

type ZookeeperConfig struct {
	Servers        []string      `yaml:"servers"`
	Root           string        `yaml:"root"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
}

// Default returns a baseline single-node development config.
func Default() Config {
	return Config{
		Logger: LoggerConfig{
			Level: "DEBUG",
			JSON:  false,
		},
		Node: NodeConfig{
			ID:      "node-1",
			Address: "http://127.0.0.1:8080",
		},
		Server: ServerConfig{
			Port:              8080,
			ReadHeaderTimeout: 5 * time.Second,
			CommitTimeout:     10 * time.Second,
		},
		Routing: RoutingConfig{
			IgnoreAwarenessAttributes:   true,
			UseAdaptiveReplicaSelection: true,
			WeightedRoutingEnabled:      true,
		},
		Cluster: ClusterConfig{Mode: ModeLocal},
		Raft: RaftConfig{
			ID:                        1,
			ElectionTick:              10,
			HeartbeatTick:             1,
			TickInterval:              100 * time.Millisecond,
			MaxSizePerMsg:             1024 * 1024,
			MaxCommittedSizePerReady:  4 * 1024 * 1024,
			MaxUncommittedEntriesSize: 1 << 30,
			MaxInflightMsgs:           256,
			CheckQuorum:               true,
			PreVote:                   true,
		},
		Zookeeper: ZookeeperConfig{
			Root:           "/wrrouting",
			SessionTimeout: 5 * time.Second,
		},
		Indices: []sharding.IndexMetadata{
			{Name: "default", NumberOfShards: 3, NumberOfReplicas: 1},
		},
	}
}

// Load читает YAML поверх Default(). Если файла нет, возвращается Default().
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Info("config file not found, using default config", "path", path)
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

var ErrInvalidConfig = errors.New("invalid config")

func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	switch strings.ToUpper(c.Logger.Level) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		add("logger.level %q", c.Logger.Level)
	}
	if c.Node.ID == "" {
		add("node.id is empty")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("http-server.port %d out of range", c.Server.Port)
	}
	if c.Server.CommitTimeout <= 0 {
		add("http-server.commit_timeout must be positive")
	}

	switch c.Cluster.Mode {
	case ModeLocal:
	case ModeRaft:
		if err := c.Raft.validate(); err != nil {
			errs = append(errs, err)
		}
	default:
		add("cluster.mode %q, want %s or %s", c.Cluster.Mode, ModeLocal, ModeRaft)
	}

	seen := make(map[string]struct{}, len(c.Indices))
	for _, idx := range c.Indices {
		if err := idx.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrInvalidConfig, err))
			continue
		}
		if _, dup := seen[idx.Name]; dup {
			add("duplicate index %q", idx.Name)
		}
		seen[idx.Name] = struct{}{}
	}
	return errors.Join(errs...)
}

func (r RaftConfig) validate() error {
	if r.ElectionTick <= r.HeartbeatTick {
		return fmt.Errorf("%w: raft.election_tick must exceed heartbeat_tick", ErrInvalidConfig)
	}
	self := false
	ids := make(map[uint64]struct{}, len(r.Peers))
	for _, p := range r.Peers {
		if p.ID == 0 || p.Address == "" {
			return fmt.Errorf("%w: raft peer needs id and address", ErrInvalidConfig)
		}
		if _, dup := ids[p.ID]; dup {
			return fmt.Errorf("%w: duplicate raft peer %d", ErrInvalidConfig, p.ID)
		}
		ids[p.ID] = struct{}{}
		if p.ID == r.ID {
			self = true
		}
	}
	if !self {
		return fmt.Errorf("%w: raft.id %d is not among peers", ErrInvalidConfig, r.ID)
	}
	return nil
}
