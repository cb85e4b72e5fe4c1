// Command near-ledger drives one reconciliation run for a single NEAR
// account: it loads (or initialises) the on-disk History document, then
// runs the Reconciler's phases against a live JSON-RPC endpoint, saving
// after every change so the run can be interrupted and resumed.
//
// Wiring follows account-balance-processor/go/main.go: flags select an
// optional YAML config file, a production zap logger is built up front,
// and a background goroutine serves /health on a separate port while the
// reconciliation itself runs on the main goroutine.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/petersalomonsen/near-ledger-reconciler/internal/config"
	"github.com/petersalomonsen/near-ledger-reconciler/internal/control"
	"github.com/petersalomonsen/near-ledger-reconciler/internal/hints"
	"github.com/petersalomonsen/near-ledger-reconciler/internal/ledger"
	"github.com/petersalomonsen/near-ledger-reconciler/internal/metadata"
	"github.com/petersalomonsen/near-ledger-reconciler/internal/reconcile"
	"github.com/petersalomonsen/near-ledger-reconciler/internal/rpcclient"
	"github.com/petersalomonsen/near-ledger-reconciler/internal/search"
	"github.com/petersalomonsen/near-ledger-reconciler/internal/snapshot"
	"github.com/petersalomonsen/near-ledger-reconciler/internal/staking"
	"github.com/petersalomonsen/near-ledger-reconciler/internal/transfer"
)

const (
	snapshotCacheSize = 8192
	metadataCacheSize = 1024
	maxMissingRetries = 5
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic("failed to initialize zap logger: " + err.Error())
	}
	defer logger.Sync()

	configPath := flag.String("config", "", "path to a near-ledger.yaml config file")
	verify := flag.Bool("verify", false, "run gap verification against the existing history and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	logger = logger.With(zap.String("account", cfg.Account), zap.String("run_id", uuid.NewString()))

	if *verify {
		runVerify(logger, cfg)
		return
	}

	run(logger, cfg)
}

func runVerify(logger *zap.Logger, cfg *config.Config) {
	h, err := ledger.Load(cfg.HistoryPath)
	if err != nil {
		logger.Fatal("failed to load history for verification", zap.Error(err))
	}
	reports := reconcile.Verify(reconcile.FlattenRecords(h))
	if len(reports) == 0 {
		logger.Info("history is fully connected, no gaps found")
		return
	}
	for _, r := range reports {
		logger.Warn("gap detected",
			zap.String("token_id", r.TokenID),
			zap.Uint64("from_block", r.FromBlock),
			zap.Uint64("to_block", r.ToBlock),
			zap.String("diff", r.Diff.String()))
	}
	os.Exit(1)
}

func run(logger *zap.Logger, cfg *config.Config) {
	stop := &control.Flag{}
	stopListening := stop.ListenForSignals(syscall.SIGINT, syscall.SIGTERM)
	defer stopListening()

	httpClient := &http.Client{Timeout: cfg.RPC.Timeout}
	rpc := rpcclient.New(cfg.RPC.Endpoint, httpClient, logger)

	reader := snapshot.NewReader(rpc, logger, stop, snapshotCacheSize)
	engine := search.New(reader, logger, stop, maxMissingRetries)
	metaCache := metadata.New(logger, rpc, metadataCacheSize)
	extractor := transfer.NewExtractor(rpc, logger)
	attributor := transfer.NewAttributor(rpc, logger)
	observer := staking.New(rpc, logger, stop, cfg.Staking.EpochLength)

	hintSrcs := buildHintSources(cfg, logger)

	now := time.Now()
	h, err := reconcile.LoadOrInit(cfg.HistoryPath, cfg.Account, now)
	if err != nil {
		logger.Fatal("failed to load or initialise history", zap.Error(err))
	}

	filter := snapshot.Filter{Native: true, DiscoverFT: true, DiscoverIntents: true, StakingPools: h.StakingPools}
	r := reconcile.New(cfg.Account, reader, engine, rpc, extractor, attributor, observer, hintSrcs, logger, stop, func() time.Time { return time.Now() }, filter)
	r.Metrics = reconcile.NewMetrics(now)
	r.LogFetcher = rpc

	save := func(h *ledger.History) error {
		h.UpdatedAt = time.Now()
		reconcile.UpdateSummary(h)
		return ledger.Save(cfg.HistoryPath, h)
	}

	go serveHealth(cfg.HealthPort, r.Metrics, logger)

	logger.Info("starting gap-fill pass")
	if err := r.GapFill(h, save); err != nil {
		logger.Error("gap-fill pass ended early", zap.Error(err))
	}

	logger.Info("starting enrichment pass")
	if err := r.Enrich(h, save); err != nil {
		logger.Error("enrichment pass ended early", zap.Error(err))
	}

	logger.Info("starting staking pass")
	if err := r.StakingPass(h, save); err != nil {
		logger.Error("staking pass ended early", zap.Error(err))
	}

	if cfg.TargetCount > 0 {
		logger.Info("starting discovery pass", zap.Int("target_count", cfg.TargetCount))
		tip, err := rpc.LatestBlockHeight()
		if err != nil {
			logger.Error("could not determine chain tip, skipping discovery", zap.Error(err))
		} else if err := r.Discover(h, cfg.TargetCount, tip, save); err != nil {
			logger.Error("discovery pass ended early", zap.Error(err))
		}
	}

	reconcile.UpdateSummary(h)
	h.UpdatedAt = time.Now()
	if err := ledger.Save(cfg.HistoryPath, h); err != nil {
		logger.Fatal("failed to save final history", zap.Error(err))
	}

	writeTokenRecords(cfg, h, metaCache, logger)
	logger.Info("reconciliation run complete", zap.Int("transactions", len(h.Transactions)))
}

func buildHintSources(cfg *config.Config, logger *zap.Logger) []hints.Source {
	if cfg.Hints.GRPCAddress == "" {
		return []hints.Source{&hints.NullSource{}}
	}
	conn, err := grpc.NewClient(cfg.Hints.GRPCAddress, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		logger.Warn("failed to dial hint source, continuing without it",
			zap.String("address", cfg.Hints.GRPCAddress), zap.Error(err))
		return []hints.Source{&hints.NullSource{}}
	}
	return []hints.Source{hints.NewGRPCSource(conn, logger, cfg.Hints.Timeout)}
}

func writeTokenRecords(cfg *config.Config, h *ledger.History, metaCache *metadata.Cache, logger *zap.Logger) {
	records := reconcile.FlattenRecords(h)
	if len(records) == 0 {
		return
	}
	path := cfg.HistoryPath + ".records.jsonl"
	f, err := os.Create(path)
	if err != nil {
		logger.Warn("failed to write token records", zap.Error(err))
		return
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, rec := range records {
		info := metaCache.Resolve(rec.TokenID)
		enc.Encode(annotatedRecord{TokenChangeRecord: rec, Symbol: info.Symbol, Decimals: info.Decimals})
	}
}

type annotatedRecord struct {
	ledger.TokenChangeRecord
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

func serveHealth(port string, metrics *reconcile.Metrics, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  "healthy",
			"metrics": metrics.GetMetrics(),
		})
	})
	addr := fmt.Sprintf(":%s", port)
	logger.Info("starting health check server", zap.String("address", addr))
	srv := &http.Server{Addr: addr, Handler: mux}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("health server stopped", zap.Error(err))
	}
}
