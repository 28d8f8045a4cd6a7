// Copyright 2025 Certen Protocol
//
// popnode is one committee member's process: it loads its identity and
// epoch committee, wires the mempool/engine/state/rewards/network stack
// around a consensus.Replica, and drives that Replica's external timer
// and inbound-message loops until told to shut down. Structure follows
// the teacher's main.go — flag parsing, config.Load, staged component
// construction, background goroutines, an HTTP server, SIGINT/SIGTERM
// triggering a bounded graceful shutdown — without its emoji-laden log
// lines or its Accumulate/Ethereum/Firestore wiring, none of which this
// module has any use for.

package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/certen/pop-consensus/pkg/pop/config"
	"github.com/certen/pop-consensus/pkg/pop/consensus"
	"github.com/certen/pop-consensus/pkg/pop/engine"
	"github.com/certen/pop-consensus/pkg/pop/mempool"
	"github.com/certen/pop-consensus/pkg/pop/metrics"
	"github.com/certen/pop-consensus/pkg/pop/network"
	"github.com/certen/pop-consensus/pkg/pop/rewards"
	"github.com/certen/pop-consensus/pkg/pop/state"
	"github.com/certen/pop-consensus/pkg/pop/types"
)

func main() {
	var (
		flagListenAddr = flag.String("listen-addr", "", "override POP_LISTEN_ADDR")
		flagEpochFile  = flag.String("epoch-file", "", "override POP_EPOCH_FILE")
		flagNodeKey    = flag.String("node-key-path", "", "override POP_NODE_KEY_PATH")
		flagPeers      = flag.String("peers", "", "comma-separated hexpubkey=host:port committee endpoints")
		flagHelp       = flag.Bool("help", false, "print usage and exit")
	)
	flag.Parse()
	if *flagHelp {
		flag.Usage()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[popnode] load config: %v", err)
	}
	if *flagListenAddr != "" {
		cfg.ListenAddr = *flagListenAddr
	}
	if *flagEpochFile != "" {
		cfg.EpochFile = *flagEpochFile
	}
	if *flagNodeKey != "" {
		cfg.NodeKeyPath = *flagNodeKey
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[popnode] invalid config: %v", err)
	}

	if err := run(cfg, *flagPeers); err != nil {
		log.Fatalf("[popnode] %v", err)
	}
}

// run wires every component and blocks until a shutdown signal arrives.
func run(cfg *config.Config, peersFlag string) error {
	logger := log.New(log.Writer(), "[popnode] ", log.LstdFlags)

	epoch, err := config.LoadEpoch(cfg.EpochFile)
	if err != nil {
		return fmt.Errorf("load epoch: %w", err)
	}
	committee, err := epoch.CommitteeKeys()
	if err != nil {
		return fmt.Errorf("decode committee: %w", err)
	}

	sig, err := loadOrGenerateSigner(cfg.NodeKeyPath)
	if err != nil {
		return fmt.Errorf("load signing key: %w", err)
	}
	self := sig.PublicKey()
	if idx := consensus.Config{Committee: committee}.IndexOf(self); idx < 0 {
		return fmt.Errorf("self %x is not a member of epoch %d's committee", self, epoch.Epoch)
	}
	logger.Printf("identity %x (address %s), committee size %d", self, nodeAddress(self), len(committee))

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	ledgerDB, err := dbm.NewGoLevelDB("pop-ledger", cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open ledger db: %w", err)
	}
	rewardsDB, err := dbm.NewGoLevelDB("pop-rewards", cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open rewards db: %w", err)
	}
	store := state.New(ledgerDB, uint64(cfg.RetainDepth))
	rewardsStore := state.New(rewardsDB, uint64(cfg.RetainDepth))

	verifier := engine.NewStructuralDifficulty()
	verifyBudget := engine.Budget{
		MaxDuration: time.Duration(cfg.VerifyBudgetMS) * time.Millisecond,
		MaxMemory:   cfg.VerifyBudgetBytes,
	}

	mp, err := mempool.New(verifier, mempool.Config{
		MaxUnverified: 10_000,
		MaxVerified:   10_000,
		VerifyBudget:  verifyBudget,
		MinDifficulty: uint32(cfg.MinDifficulty),
		Quota: mempool.QuotaConfig{
			RatePerSecond: float64(cfg.RateLimitPerSec),
			Burst:         cfg.RateLimitBurst,
		},
		Logger: log.New(log.Writer(), "[popnode/mempool] ", log.LstdFlags),
	})
	if err != nil {
		return fmt.Errorf("construct mempool: %w", err)
	}

	reg := prometheus.NewRegistry()
	collectors, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	conservedDomains := config.DomainSet(epoch.ConservedDomains)
	authorizedDomains := config.DomainSet(epoch.AuthorizedDomains)

	rewardsCfg := rewards.Config{
		Alpha:                   cfg.RewardAlpha,
		Beta:                    cfg.RewardBeta,
		SlashEquivocation:       uint64(cfg.SlashEquivocation),
		SlashInvalidProposal:    uint64(cfg.SlashInvalidProposal),
		SlashConservationFailed: uint64(cfg.SlashConservationFailed),
		SilenceStreak:           cfg.SilenceStreak,
		ConservedDomains:        conservedDomains,
		AuthorizedDomains:       authorizedDomains,
		Logger:                  log.New(log.Writer(), "[popnode/rewards] ", log.LstdFlags),
	}
	writeExtractor := engine.DefaultWriteExtractor{}
	tracker := rewards.New(rewardsCfg, verifier, verifyBudget, writeExtractor, rewardsStore)
	chain := newChainStore(ledgerDB)
	events := newChainStoreSink(metrics.NewSink(tracker, collectors), chain)

	peers := network.NewPeerSet()
	peers.Add(network.Peer{ID: self, Endpoint: "http://" + cfg.ListenAddr})
	for _, pair := range parsePeers(peersFlag) {
		peers.Add(pair.peer())
	}

	transport := network.NewHTTPTransport(self, peers, log.New(log.Writer(), "[popnode/transport] ", log.LstdFlags))
	gossip := network.New(transport, network.Config{
		TTL:    time.Duration(cfg.GossipTTLS) * time.Second,
		Fanout: cfg.GossipFanout,
		Logger: log.New(log.Writer(), "[popnode/gossip] ", log.LstdFlags),
	})
	broadcaster := network.NewPopBroadcaster(gossip, log.New(log.Writer(), "[popnode/broadcaster] ", log.LstdFlags))

	replicaCfg := consensus.Config{
		Committee:         committee,
		MaxProofsPerBlock: cfg.MaxProofsPerBlock,
		MaxBlockBytes:     cfg.MaxBlockBytes,
		ClockSkew:         cfg.ClockSkew,
		VerifyBudget:      verifyBudget,
		TimeoutBase:       time.Duration(cfg.TimeoutBaseMS) * time.Millisecond,
		TimeoutMin:        time.Duration(cfg.TimeoutMinMS) * time.Millisecond,
		TimeoutMax:        time.Duration(cfg.TimeoutMaxMS) * time.Millisecond,
		EWMAWindow:        cfg.EWMAWindow,
		ConservedDomains:  conservedDomains,
		AuthorizedDomains: authorizedDomains,
		Logger:            log.New(log.Writer(), "[popnode/consensus] ", log.LstdFlags),
	}
	replica, err := consensus.New(replicaCfg, consensus.Deps{
		Self:     self,
		Signer:   sig,
		Store:    store,
		Mempool:  mp,
		Verifier: verifier,
		Out:      broadcaster,
		Events:   events,
	})
	if err != nil {
		return fmt.Errorf("construct replica: %w", err)
	}

	listener := network.NewListener(gossip, replica, log.New(log.Writer(), "[popnode/listener] ", log.LstdFlags))
	if err := listener.Start(); err != nil {
		return fmt.Errorf("start listener: %w", err)
	}
	defer listener.Stop()

	syncer := network.NewStateSync(network.SyncConfig{
		Quorum: replicaCfg.Quorum(),
		Logger: log.New(log.Writer(), "[popnode/statesync] ", log.LstdFlags),
	}, store, verifier, verifyBudget, writeExtractor, committee)

	mux := http.NewServeMux()
	mux.Handle("/pop/transport/", transport.Handler())
	mux.HandleFunc(syncPath, syncHandlerFor(chain))
	mux.HandleFunc(submitProofPath, submitProofHandlerFor(mp))
	mux.HandleFunc(receiptPath, receiptHandlerFor(store, self, sig))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		st := replica.Status()
		if st.Kind == consensus.Fatal {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		fmt.Fprintf(w, "%s\n", st)
	})
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go driveTimeouts(ctx, replica)
	go driveProposals(ctx, replica)
	go driveSync(ctx, replica, syncer, transport, peers, self)
	go driveVerification(ctx, mp)

	go func() {
		logger.Printf("listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("http server error: %v", err)
		}
	}()

	logger.Printf("replica ready at height %d", replica.Height())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Printf("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http shutdown error: %v", err)
	}
	logger.Printf("stopped")
	return nil
}

// driveTimeouts is the external timer driver HandleTimeout's doc comment
// calls for: wait CurrentTimeout, call HandleTimeout, repeat with
// whatever new deadline it returns.
func driveTimeouts(ctx context.Context, replica *consensus.Replica) {
	timer := time.NewTimer(replica.CurrentTimeout())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			next := replica.HandleTimeout()
			timer.Reset(next)
		}
	}
}

// driveProposals polls for this replica becoming leader of an idle round
// and calls Propose once it is. Polling (rather than an event wakeup) is
// adequate here: a missed window just means the external timer fires a
// view change, which is itself this leader's liveness bound.
func driveProposals(ctx context.Context, replica *consensus.Replica) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if replica.IsLeader() {
				if err := replica.Propose(); err != nil && err != consensus.ErrNotLeader {
					continue
				}
			}
		}
	}
}

// driveVerification is the worker pool spec.md §4.1 calls for dispatching
// logical verification off the admission path: it periodically promotes
// every currently unverified proof so Propose always has a populated
// verified tier to select a batch from. A single poller suffices here
// (StructuralDifficulty.Verify is cheap and VerifyPending already loops
// the whole unverified tier per call); a higher-throughput deployment
// would shard this across goroutines keyed by proof ID.
func driveVerification(ctx context.Context, mp *mempool.Mempool) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mp.VerifyPending()
		}
	}
}

// driveSync runs state sync every 5 seconds, asking the active peers for
// the heights from this replica's current height to 64 beyond it. It does
// not first check whether this replica is behind, and Sync's error is
// discarded.
func driveSync(ctx context.Context, replica *consensus.Replica, syncer *network.StateSync, transport network.Transport, peers *network.PeerSet, self types.PublicKey) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var syncPeers []network.SyncPeer
			for _, p := range peers.Active() {
				if p.ID == self {
					continue
				}
				syncPeers = append(syncPeers, newHTTPSyncPeer(p.ID, p.Endpoint))
			}
			if len(syncPeers) == 0 {
				continue
			}
			from := replica.Height()
			_ = syncer.Sync(ctx, syncPeers, from, from+64)
		}
	}
}

type peerEntry struct {
	id       types.PublicKey
	endpoint string
}

func (p peerEntry) peer() network.Peer {
	return network.Peer{ID: p.id, Endpoint: p.endpoint}
}

// parsePeers decodes "hexpubkey=host:port,hexpubkey=host:port" pairs.
// Malformed entries are skipped with a log line rather than aborting
// startup, since a single bad peer string shouldn't stop this node from
// reaching quorum with the rest.
func parsePeers(raw string) []peerEntry {
	var out []peerEntry
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			log.Printf("[popnode] skipping malformed -peers entry %q", part)
			continue
		}
		b, err := hex.DecodeString(kv[0])
		if err != nil {
			log.Printf("[popnode] skipping -peers entry with bad hex key %q: %v", part, err)
			continue
		}
		pk, err := types.PublicKeyFromBytes(b)
		if err != nil {
			log.Printf("[popnode] skipping -peers entry with bad key %q: %v", part, err)
			continue
		}
		endpoint := kv[1]
		if !strings.Contains(endpoint, "://") {
			endpoint = "http://" + endpoint
		}
		out = append(out, peerEntry{id: pk, endpoint: endpoint})
	}
	return out
}
