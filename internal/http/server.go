package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.etcd.io/etcd/raft/v3/raftpb"

	"wrrouting/pkg/clusterstate"
	"wrrouting/pkg/metadata"
	"wrrouting/pkg/routing"
	"wrrouting/pkg/sharding"
	"wrrouting/pkg/types"
	"wrrouting/pkg/weighting"
)

const (
	contentTypeJSON        = "application/json"
	defaultHTTPPort        = "8080"
	defaultShutdownTimeout = time.Second * 5
	defaultReadHeader      = time.Second
	maxBodyBytes           = 1 << 20
)

type iWeightsService interface {
	Put(ctx context.Context, w metadata.Weights) (weighting.Ack, error)
	Clear(ctx context.Context) (weighting.Ack, error)
	Get() (metadata.Weights, types.Version, bool)
}

type iRouter interface {
	LocalWeight() routing.LocalWeight
	ShardID(index, id, routingKey string) (int, error)
	SearchShards(indices []string, routingKeys map[string][]string, preference string) ([]routing.ShardIterator, error)
}

type iRaftNode interface {
	LeaderID() uint64
	Handle(ctx context.Context, message raftpb.Message) error
}

// Server exposes the weights API, routing introspection and, in raft mode,
// the peer message endpoint.
type Server struct {
	weights    iWeightsService
	router     iRouter
	node       iRaftNode
	httpServer *http.Server
	URL        string
	addr       string

	readHeaderTimeout time.Duration
}

type Option func(*Server)

// WithRaftNode mounts the raft peer endpoint.
func WithRaftNode(node iRaftNode) Option {
	return func(s *Server) {
		s.node = node
	}
}

func WithReadHeaderTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.readHeaderTimeout = d
		}
	}
}

// NewServer creates a new server instance
func NewServer(weights iWeightsService, router iRouter, port string, opts ...Option) *Server {
	if port == "" {
		port = defaultHTTPPort
	}
	s := &Server{
		weights:           weights,
		router:            router,
		URL:               "http://localhost:" + port,
		addr:              ":" + port,
		readHeaderTimeout: defaultReadHeader,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start starts listening in the background.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.createRouter(),
		ReadHeaderTimeout: s.readHeaderTimeout,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("HTTP server started", "addr", s.URL)
	return nil
}

// Stop stops the server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// createRouter builds chi router
func (s *Server) createRouter() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)

	r.Route("/_cluster", func(r chi.Router) {
		r.Put("/routing/awareness/weights", s.handlePutWeights)
		r.Delete("/routing/awareness/weights", s.handleDeleteWeights)
		r.Get("/routing/awareness/{attribute}/weights", s.handleGetAttributeWeights)

		r.Put("/shard_routing/weights", s.handlePutWeights)
		r.Get("/shard_routing/weights", s.handleGetWeights)
	})

	r.Get("/{index}/_search_shards", s.handleSearchShards)
	r.Get("/{index}/_shard_id", s.handleShardID)

	// Raft endpoint только если есть node
	if s.node != nil {
		r.Post("/api/internal/raft", s.handleRaft)
	}

	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Error encoding response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Warn("request failed", "status", status, "error", err)
	}
	s.writeJSON(w, status, NewErrorResponse(err.Error()))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, metadata.ErrMalformedWeights),
		errors.Is(err, metadata.ErrInvalidWeight),
		errors.Is(err, metadata.ErrNoPositiveWeight),
		errors.Is(err, sharding.ErrRoutingRequired),
		errors.Is(err, routing.ErrUnknownPreference):
		return http.StatusBadRequest
	case errors.Is(err, routing.ErrIndexNotFound):
		return http.StatusNotFound
	case errors.Is(err, routing.ErrNoWeightedCopies),
		errors.Is(err, routing.ErrNoMatchingNodes),
		errors.Is(err, clusterstate.ErrCommitterStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.node == nil {
		s.writeJSON(w, http.StatusOK, NewOKResponse())
		return
	}
	s.writeJSON(w, http.StatusOK, NewValueResponse("leader="+strconv.FormatUint(s.node.LeaderID(), 10)))
}

func (s *Server) handlePutWeights(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Failed to read body"))
		return
	}

	weights, err := metadata.ParseWeights(body)
	if err != nil {
		s.writeError(w, err)
		return
	}

	ack, err := s.weights.Put(r.Context(), weights)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewAckResponse(ack))
}

func (s *Server) handleDeleteWeights(w http.ResponseWriter, r *http.Request) {
	ack, err := s.weights.Clear(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewAckResponse(ack))
}

func (s *Server) handleGetWeights(w http.ResponseWriter, r *http.Request) {
	local, err := boolParam(r, "local")
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	if local {
		s.writeJSON(w, http.StatusOK, NewLocalWeightResponse(s.router.LocalWeight()))
		return
	}

	weights, _, ok := s.weights.Get()
	if !ok {
		s.writeJSON(w, http.StatusOK, metadata.AwarenessResponse{})
		return
	}
	s.writeJSON(w, http.StatusOK, metadata.NewAwarenessResponse(weights))
}

// handleGetAttributeWeights answers with the weights of one attribute as
// strings under "weights", the state version and, with local=true, the local
// node weight.
func (s *Server) handleGetAttributeWeights(w http.ResponseWriter, r *http.Request) {
	attribute := chi.URLParam(r, "attribute")
	local, err := boolParam(r, "local")
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}

	weights, version, ok := s.weights.Get()
	body := AttributeWeightsResponse{Version: uint64(version)}
	w.Header().Set("_version", strconv.FormatUint(uint64(version), 10))

	if ok && weights.Attribute == attribute {
		digest, err := metadata.Digest(weights)
		if err != nil {
			s.writeError(w, err)
			return
		}
		etag := metadata.ETag(digest)
		w.Header().Set("ETag", etag)
		if r.Header.Get("If-None-Match") == etag && !local {
			w.WriteHeader(http.StatusNotModified)
			return
		}

		body.Weights = metadata.WeightsAsStrings(weights)
		if local {
			body.NodeWeight = metadata.FormatWeight(s.router.LocalWeight().Weight)
		}
	}
	s.writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleSearchShards(w http.ResponseWriter, r *http.Request) {
	indices := splitCSV(chi.URLParam(r, "index"))
	preference := r.URL.Query().Get("preference")

	var routingKeys map[string][]string
	if values := splitCSV(r.URL.Query().Get("routing")); len(values) > 0 {
		routingKeys = make(map[string][]string, len(indices))
		for _, index := range indices {
			routingKeys[index] = values
		}
	}

	its, err := s.router.SearchShards(indices, routingKeys, preference)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewSearchShardsResponse(its))
}

func (s *Server) handleShardID(w http.ResponseWriter, r *http.Request) {
	index := chi.URLParam(r, "index")
	id := r.URL.Query().Get("id")
	routingKey := r.URL.Query().Get("routing")
	if id == "" && routingKey == "" {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Missing id"))
		return
	}

	shard, err := s.router.ShardID(index, id, routingKey)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ShardIDResponse{Index: index, ID: id, Routing: routingKey, Shard: shard})
}

func (s *Server) handleRaft(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes*64))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	var msg raftpb.Message
	if err := msg.Unmarshal(data); err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	if err := s.node.Handle(r.Context(), msg); err != nil {
		s.writeJSON(w, http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}

	s.writeJSON(w, http.StatusOK, NewOKResponse())
}

func boolParam(r *http.Request, name string) (bool, error) {
	raw, ok := r.URL.Query()[name]
	if !ok {
		return false, nil
	}
	// ?local без значения означает true
	if len(raw) == 0 || raw[0] == "" {
		return true, nil
	}
	v, err := strconv.ParseBool(raw[0])
	if err != nil {
		return false, fmt.Errorf("invalid %s=%q", name, raw[0])
	}
	return v, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
