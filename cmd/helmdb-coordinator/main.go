package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	etcdraft "go.etcd.io/etcd/raft/v3"

	"helmdb/internal/config"
	"helmdb/internal/consensus"
	"helmdb/internal/coordinator"
	"helmdb/internal/observability/metrics"
	"helmdb/internal/observation"
	obsgrpc "helmdb/internal/observation/grpc"
	"helmdb/internal/raftstate"
	"helmdb/internal/replication"
)

func main() {
	configPath := flag.String("config", "coordinator.yaml", "path to coordinator config")
	flag.Parse()

	cfg, err := config.LoadCoordinatorConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	table, err := cfg.ContractTableConfig()
	if err != nil {
		log.Fatalf("table config: %v", err)
	}
	failover, err := cfg.FailoverTimeoutDuration()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	store, err := raftstate.Open(cfg.DataDir)
	if err != nil {
		log.Fatalf("open state store: %v", err)
	}
	defer store.Close()

	if err := store.SaveConfig(table); err != nil {
		log.Fatalf("persist config: %v", err)
	}
	state, err := store.LoadState()
	if err != nil {
		log.Fatalf("load state: %v", err)
	}
	state.Config = table
	if len(state.Contracts) == 0 && len(table.Shards) > 0 {
		state = coordinator.Bootstrap(table)
		seed := coordinator.Diff{AddContracts: state.Contracts}
		if err := store.ApplyCommand(replication.FromDiff(seed, nil)); err != nil {
			log.Fatalf("seed contracts: %v", err)
		}
		log.Printf("bootstrapped %d contracts from table config", len(state.Contracts))
	}

	raftStorage, err := consensus.NewStorage(cfg.DataDir)
	if err != nil {
		log.Fatalf("open raft storage: %v", err)
	}
	var peers []etcdraft.Peer
	if hs, _, _ := raftStorage.InitialState(); etcdraft.IsEmptyHardState(hs) {
		ids := cfg.Raft.Peers
		if len(ids) == 0 {
			ids = []uint64{cfg.NodeID}
		}
		for _, id := range ids {
			peers = append(peers, etcdraft.Peer{ID: id})
		}
	}
	node := consensus.NewNode(&consensus.Config{
		ID:      cfg.NodeID,
		Peers:   peers,
		Storage: raftStorage,
	})

	acks := observation.NewAckMap()
	conns := observation.NewConnectionsMap()
	pump := coordinator.NewPump(state, acks, conns, replication.NewLogProposer(node), coordinator.PumpOptions{
		LogPrefix:       cfg.LogPrefix,
		FailoverTimeout: failover,
		IsLeader:        node.IsLeader,
	})
	applier := replication.NewApplier(pump, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	commitC := make(chan *consensus.Commit, 16)
	errorC := make(chan error, 1)
	node.Start(commitC, errorC)
	go func() {
		for {
			select {
			case commit, ok := <-commitC:
				if !ok {
					return
				}
				if commit.ConfChange != nil {
					continue
				}
				if err := applier.Apply(commit.Data); err != nil {
					log.Printf("apply committed entry %d: %v", commit.Index, err)
				}
			case err := <-errorC:
				log.Printf("consensus error: %v", err)
			case <-ctx.Done():
				return
			}
		}
	}()

	obsServer := obsgrpc.New(obsgrpc.Config{Address: cfg.GRPC.Address}, acks, conns)
	if err := obsServer.Start(ctx); err != nil {
		log.Fatalf("start observation server: %v", err)
	}
	log.Printf("observation server listening on %s", cfg.GRPC.Address)

	if cfg.Metrics.Address != "" {
		collector := metrics.NewCoordinatorCollector(nil, "")
		if err := metrics.StartServer(ctx, cfg.Metrics.Address); err != nil {
			log.Fatalf("start metrics server: %v", err)
		}
		go func() {
			ticker := time.NewTicker(5 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					collector.Observe(pump.Diagnostics())
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		if err := pump.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("pump stopped: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	cancel()
	obsServer.Stop()
	node.Stop()
	log.Println("coordinator stopped")
}
