package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"syscall"

	"golang.org/x/sync/errgroup"

	"wrrouting/internal/config"
	httpapi "wrrouting/internal/http"
	"wrrouting/pkg/cluster"
	"wrrouting/pkg/clusterstate"
	"wrrouting/pkg/metadata"
	"wrrouting/pkg/raftadapter"
	"wrrouting/pkg/routing"
	"wrrouting/pkg/routingtable"
	"wrrouting/pkg/types"
	"wrrouting/pkg/weighting"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the node config")
	flag.Parse()

	cfg, err := initConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	initLogger(&cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		slog.Error("node stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("node stopped")
}

func localNode(cfg config.NodeConfig) cluster.DiscoveryNode {
	return cluster.DiscoveryNode{ID: types.NodeID(cfg.ID), Address: cfg.Address, Attributes: cfg.Attributes}
}

func run(ctx context.Context, cfg config.Config) error {
	g, ctx := errgroup.WithContext(ctx)
	local := localNode(cfg.Node)

	// --- membership ---
	var (
		membership cluster.Membership
		zkm        *cluster.ZKMembership
	)
	if len(cfg.Zookeeper.Servers) > 0 {
		var err error
		zkm, err = cluster.NewZKMembership(cfg.Zookeeper.Servers, cfg.Zookeeper.Root, cfg.Zookeeper.SessionTimeout, local)
		if err != nil {
			return fmt.Errorf("connect to zookeeper: %w", err)
		}
		defer zkm.Close()
		if err := zkm.RegisterSelf(cfg.Zookeeper.SessionTimeout); err != nil {
			return fmt.Errorf("register in zookeeper: %w", err)
		}
		membership = zkm
	} else {
		static := make([]cluster.DiscoveryNode, 0, len(cfg.Cluster.StaticNodes))
		for _, n := range cfg.Cluster.StaticNodes {
			static = append(static, localNode(n))
		}
		membership = cluster.NewStaticMembership(local, static)
	}

	// --- routing table ---
	table, err := routingtable.New(cfg.Indices)
	if err != nil {
		return err
	}
	nodes, err := membership.Nodes()
	if err != nil {
		return fmt.Errorf("list nodes: %w", err)
	}
	table.UpdateNodes(nodes)

	// --- cluster state + commit facility ---
	state := clusterstate.NewService()
	var (
		committer  clusterstate.Committer
		serverOpts = []httpapi.Option{httpapi.WithReadHeaderTimeout(cfg.Server.ReadHeaderTimeout)}
	)
	switch cfg.Cluster.Mode {
	case config.ModeRaft:
		node, err := raftadapter.NewNode(&cfg.Raft, state)
		if err != nil {
			return fmt.Errorf("start raft node: %w", err)
		}
		g.Go(func() error {
			if err := node.Run(ctx); err != nil && ctx.Err() == nil {
				return fmt.Errorf("raft node: %w", err)
			}
			return nil
		})
		committer = node
		serverOpts = append(serverOpts, httpapi.WithRaftNode(node))
	default:
		lc := clusterstate.NewLocalCommitter(state, 0)
		lc.Start(ctx)
		defer lc.Stop()
		committer = lc
	}

	weights := weighting.NewService(state, committer, metadata.DefaultRegistry(),
		weighting.WithCommitTimeout(cfg.Server.CommitTimeout))

	// --- routing ---
	collector := routing.NewResponseCollector()
	router := routing.New(table, local, routing.Settings{
		AwarenessAttributes:         cfg.Routing.AwarenessAttributes,
		IgnoreAwarenessAttributes:   cfg.Routing.IgnoreAwarenessAttributes,
		UseAdaptiveReplicaSelection: cfg.Routing.UseAdaptiveReplicaSelection,
		WeightedRoutingEnabled:      cfg.Routing.WeightedRoutingEnabled,
	}, routing.WithRanker(collector))
	state.AddApplier(router)

	if zkm != nil {
		g.Go(func() error {
			zkm.RunWatch(ctx, func(current []cluster.DiscoveryNode) {
				for _, n := range table.Nodes() {
					gone := !slices.ContainsFunc(current, func(c cluster.DiscoveryNode) bool { return c.ID == n.ID })
					if gone {
						collector.RemoveNode(n.ID)
					}
				}
				table.UpdateNodes(current)
			})
			return nil
		})
	}

	// --- HTTP ---
	server := httpapi.NewServer(weights, router, strconv.Itoa(cfg.Server.Port), serverOpts...)
	if err := server.Start(); err != nil {
		return err
	}
	g.Go(func() error {
		<-ctx.Done()
		return server.Stop()
	})

	slog.Info("node started", "mode", cfg.Cluster.Mode, "nodes", len(nodes), "indices", table.Indices())
	return g.Wait()
}
