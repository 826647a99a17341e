package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileGivesDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	data := `
logger:
  level: info
  json: true
node:
  id: node-2
  address: http://10.0.0.2:8080
  attributes:
    zone: us-east-1b
http-server:
  port: 9200
  commit_timeout: 3s
routing:
  awareness_attributes: [zone]
  weighted_routing_enabled: true
cluster:
  mode: raft
raft:
  id: 2
  election_tick: 10
  heartbeat_tick: 1
  peers:
    - {id: 1, address: "http://10.0.0.1:8080"}
    - {id: 2, address: "http://10.0.0.2:8080"}
indices:
  - name: logs
    shards: 2
    replicas: 1
    routing_num_shards: 8
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "node-2", cfg.Node.ID)
	assert.Equal(t, "us-east-1b", cfg.Node.Attributes["zone"])
	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Server.CommitTimeout)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadHeaderTimeout)
	assert.Equal(t, []string{"zone"}, cfg.Routing.AwarenessAttributes)
	assert.Equal(t, ModeRaft, cfg.Cluster.Mode)
	assert.Len(t, cfg.Raft.Peers, 2)
	require.Len(t, cfg.Indices, 1)
	assert.Equal(t, 8, cfg.Indices[0].RoutingNumShards)
	assert.Equal(t, 4, cfg.Indices[0].RoutingFactor())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad level", func(c *Config) { c.Logger.Level = "TRACE" }},
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"no node id", func(c *Config) { c.Node.ID = "" }},
		{"no commit timeout", func(c *Config) { c.Server.CommitTimeout = 0 }},
		{"bad mode", func(c *Config) { c.Cluster.Mode = "paxos" }},
		{"raft without self", func(c *Config) {
			c.Cluster.Mode = ModeRaft
			c.Raft.Peers = []RaftPeerConfig{{ID: 7, Address: "http://x"}}
		}},
		{"raft duplicate peer", func(c *Config) {
			c.Cluster.Mode = ModeRaft
			c.Raft.Peers = []RaftPeerConfig{{ID: 1, Address: "http://a"}, {ID: 1, Address: "http://b"}}
		}},
		{"bad index geometry", func(c *Config) { c.Indices[0].RoutingNumShards = 4 }},
		{"duplicate index", func(c *Config) { c.Indices = append(c.Indices, c.Indices[0]) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}
