package raftadapter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.etcd.io/etcd/raft/v3/raftpb"
)

const (
	// Endpoint is the HTTP path peers post raft messages to.
	Endpoint = "/api/internal/raft"
	// ContentType of a marshalled raftpb.Message.
	ContentType = "application/x-protobuf"

	transportTimeout = 3 * time.Second
	maxRetries       = 3
	retryDelay       = 100 * time.Millisecond
)

// Transport delivers raft messages to peers over HTTP.
type Transport struct {
	peersMu    sync.RWMutex
	peers      map[uint64]string
	httpClient *http.Client
}

func NewTransport(peers map[uint64]string) *Transport {
	return &Transport{
		peers: maps.Clone(peers),
		httpClient: &http.Client{
			Timeout: transportTimeout,
		},
	}
}

func (t *Transport) AddPeer(nodeID uint64, addr string) {
	t.peersMu.Lock()
	defer t.peersMu.Unlock()
	t.peers[nodeID] = addr
}

func (t *Transport) RemovePeer(nodeID uint64) {
	t.peersMu.Lock()
	defer t.peersMu.Unlock()
	delete(t.peers, nodeID)
}

func (t *Transport) UpdatePeer(nodeID uint64, addr string) {
	t.peersMu.Lock()
	defer t.peersMu.Unlock()
	t.peers[nodeID] = addr
}

func (t *Transport) Send(msg raftpb.Message) error {
	t.peersMu.RLock()
	targetAddr, ok := t.peers[msg.To]
	t.peersMu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown peer node: %d", msg.To)
	}

	url := strings.TrimSuffix(targetAddr, "/") + Endpoint

	body, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	// повторяем только сетевые ошибки и 5xx
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		retry, err := t.sendHTTP(url, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			break
		}
		slog.Warn("failed to send raft message, retrying",
			"attempt", attempt+1,
			"to", msg.To,
			"type", msg.Type,
			"error", err)
		time.Sleep(retryDelay * time.Duration(attempt+1))
	}

	return fmt.Errorf("send to %d: %w", msg.To, lastErr)
}

func (t *Transport) sendHTTP(url string, body []byte) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), transportTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", ContentType)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return true, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode >= http.StatusInternalServerError,
			fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(bodyBytes))
	}
	return true, nil
}
