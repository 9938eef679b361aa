package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"sui-sniper/internal/discovery"
	"sui-sniper/internal/domain"
	"sui-sniper/internal/engine"
	"sui-sniper/internal/ledger"
	"sui-sniper/internal/notify"
	"sui-sniper/internal/observability"
	"sui-sniper/internal/poller"
	"sui-sniper/internal/risk"
	"sui-sniper/internal/storage"
	"sui-sniper/internal/storage/clickhouse"
	"sui-sniper/internal/storage/memory"
	"sui-sniper/internal/storage/migrations"
	pgstore "sui-sniper/internal/storage/postgres"
	"sui-sniper/internal/swap"
)

// DEX aliases accepted by --dex.
var dexAliases = map[string]domain.DEX{
	"cetus":    domain.DEXCetus,
	"turbos":   domain.DEXTurbos,
	"bluemove": domain.DEXBlueMove,
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	// Optional .env for local runs; flags still win.
	_ = godotenv.Load()

	rpcEndpoint := flag.String("rpc-endpoint", envOr("SUI_RPC_ENDPOINT", ""), "Sui full node JSON-RPC endpoint")
	wsEndpoint := flag.String("ws-endpoint", envOr("SUI_WS_ENDPOINT", ""), "Sui WebSocket endpoint for the live subscription source (optional)")
	postgresDSN := flag.String("postgres-dsn", envOr("POSTGRES_DSN", ""), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", envOr("CLICKHOUSE_DSN", ""), "ClickHouse DSN for tick history (empty to disable)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	dex := flag.String("dex", "cetus,turbos,bluemove", "Comma-separated DEX aliases to monitor")
	paper := flag.Bool("paper", true, "Paper trading: simulate fills instead of submitting transactions")

	buyAmount := flag.Uint64("buy-amount", 1_000_000_000, "SUI spent per snipe, in MIST")
	pollInterval := flag.Duration("poll-interval", 2*time.Second, "Base poll interval per event tracker")
	maxBackoff := flag.Duration("max-backoff", 60*time.Second, "Cap on poll error backoff")
	maxConcurrentPolls := flag.Int("max-concurrent-polls", 5, "Poll cycles in flight across all trackers")
	haltOnMaxErrors := flag.Bool("halt-on-max-errors", false, "Stop a tracker after the consecutive-error limit instead of backing off forever")
	monitorInterval := flag.Duration("monitor-interval", 5*time.Second, "Sweep cadence over open positions")
	trailingStop := flag.Float64("trailing-stop", 30, "Trailing stop distance, percent below peak variation")
	profitThreshold := flag.Float64("profit-threshold", 100, "Take-profit variation percent")
	scamThreshold := flag.Float64("scam-threshold", 70, "Risk score that triggers an emergency exit")
	emergencyTimeout := flag.Duration("emergency-timeout", 15*time.Second, "Bound on an emergency sell attempt")

	oracleURL := flag.String("oracle-url", envOr("RISK_ORACLE_URL", ""), "Risk scoring service base URL (empty = static score 0)")
	oracleKey := flag.String("oracle-api-key", envOr("RISK_ORACLE_API_KEY", ""), "Risk scoring service API key")
	rateLimit := flag.Float64("rpc-rate-limit", 10, "Max RPC requests per second (0 to disable)")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address (empty to disable)")

	flag.Parse()

	logger := log.New(os.Stdout, "[sniper] ", log.LstdFlags|log.Lshortfile)

	if *rpcEndpoint == "" {
		logger.Fatal("--rpc-endpoint is required")
	}
	if !*paper {
		logger.Fatal("live execution is not wired; run with --paper")
	}
	if !*useMemory && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	dexes := resolveDEXes(*dex)
	if len(dexes) == 0 {
		logger.Fatal("no known DEX aliases in --dex")
	}
	logger.Printf("Monitoring DEXes: %v", dexes)

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			logger.Printf("Starting metrics server on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Printf("Metrics server error: %v", err)
			}
		}()

		go func() {
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for range ticker.C {
				observability.DefaultMetrics.UptimeSeconds.Inc()
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan error, 1)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err := run(ctx, logger, runConfig{
		rpcEndpoint:        *rpcEndpoint,
		wsEndpoint:         *wsEndpoint,
		postgresDSN:        *postgresDSN,
		clickhouseDSN:      *clickhouseDSN,
		useMemory:          *useMemory,
		dexes:              dexes,
		buyAmount:          *buyAmount,
		pollInterval:       *pollInterval,
		maxBackoff:         *maxBackoff,
		maxConcurrentPolls: *maxConcurrentPolls,
		haltOnMaxErrors:    *haltOnMaxErrors,
		monitorInterval:    *monitorInterval,
		trailingStop:       *trailingStop,
		profitThreshold:    *profitThreshold,
		scamThreshold:      *scamThreshold,
		emergencyTimeout:   *emergencyTimeout,
		oracleURL:          *oracleURL,
		oracleKey:          *oracleKey,
		rateLimit:          *rateLimit,
	})

	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Error: %v", err)
	}
	logger.Println("Shutdown complete")
}

func resolveDEXes(list string) []domain.DEX {
	var result []domain.DEX
	seen := make(map[domain.DEX]bool)
	for _, alias := range strings.Split(list, ",") {
		alias = strings.TrimSpace(strings.ToLower(alias))
		dex, ok := dexAliases[alias]
		if !ok || seen[dex] {
			continue
		}
		seen[dex] = true
		result = append(result, dex)
	}
	return result
}

type runConfig struct {
	rpcEndpoint        string
	wsEndpoint         string
	postgresDSN        string
	clickhouseDSN      string
	useMemory          bool
	dexes              []domain.DEX
	buyAmount          uint64
	pollInterval       time.Duration
	maxBackoff         time.Duration
	maxConcurrentPolls int
	haltOnMaxErrors    bool
	monitorInterval    time.Duration
	trailingStop       float64
	profitThreshold    float64
	scamThreshold      float64
	emergencyTimeout   time.Duration
	oracleURL          string
	oracleKey          string
	rateLimit          float64
}

func run(ctx context.Context, logger *log.Logger, cfg runConfig) error {
	var clientOpts []ledger.ClientOption
	if cfg.rateLimit > 0 {
		clientOpts = append(clientOpts, ledger.WithRateLimit(cfg.rateLimit, int(cfg.rateLimit)))
	}
	rpc := ledger.NewHTTPClient(cfg.rpcEndpoint, clientOpts...)

	// Stores: memory or postgres.
	var cursorStore storage.CursorStore = memory.NewCursorStore()
	var tradeStore storage.TradeStore = memory.NewTradeStore()

	if !cfg.useMemory {
		pool, err := pgstore.NewPool(ctx, cfg.postgresDSN)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()

		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return fmt.Errorf("apply postgres migrations: %w", err)
		}

		cursorStore = pgstore.NewCursorStore(pool)
		tradeStore = pgstore.NewTradeStore(pool)
	}

	// Optional tick history.
	var tickStore storage.TickStore
	if cfg.clickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.clickhouseDSN)
		if err != nil {
			return fmt.Errorf("apply clickhouse migrations: %w", err)
		}
		defer conn.Close()
		tickStore = clickhouse.NewTickStore(conn)
	}

	// Risk oracle.
	var oracle risk.Oracle = &risk.Static{Value: 0}
	if cfg.oracleURL != "" {
		var oracleOpts []risk.HTTPOption
		if cfg.oracleKey != "" {
			oracleOpts = append(oracleOpts, risk.WithAPIKey(cfg.oracleKey))
		}
		oracle = risk.NewHTTPOracle(cfg.oracleURL, oracleOpts...)
	}

	// Paper execution for every monitored DEX.
	registry := swap.NewRegistry()
	for _, dex := range cfg.dexes {
		exec := swap.NewPaperExecutor()
		exec.DefaultTokensPerBuy = 1_000_000
		exec.DefaultQuote = cfg.buyAmount
		registry.Register(dex, exec)
	}

	eng, err := engine.New(engine.Options{
		Ledger:                      rpc,
		Trades:                      tradeStore,
		Ticks:                       tickStore,
		Oracle:                      oracle,
		Swaps:                       registry,
		Notifier:                    notify.NewLogSink(logger),
		Logger:                      logger,
		BuyAmount:                   cfg.buyAmount,
		MonitorInterval:             cfg.monitorInterval,
		TrailingStopDistancePercent: cfg.trailingStop,
		ProfitThresholdPercent:      cfg.profitThreshold,
		HighScamThreshold:           cfg.scamThreshold,
		EmergencyExitTimeout:        cfg.emergencyTimeout,
	})
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	svc, err := discovery.NewService(discovery.Options{
		Handler: eng,
		Logger:  logger,
		DEXes:   cfg.dexes,
	})
	if err != nil {
		return fmt.Errorf("create discovery service: %w", err)
	}

	p, err := poller.New(poller.Options{
		Client:            rpc,
		CursorStore:       cursorStore,
		Logger:            logger,
		BasePollInterval:  cfg.pollInterval,
		MaxBackoff:        cfg.maxBackoff,
		MaxConcurrentJobs: cfg.maxConcurrentPolls,
		HaltOnMaxErrors:   cfg.haltOnMaxErrors,
	})
	if err != nil {
		return fmt.Errorf("create poller: %w", err)
	}

	errCh := make(chan error, 3)

	go func() { errCh <- eng.Run(ctx) }()
	go func() { errCh <- p.Start(ctx, svc.Trackers()) }()

	if cfg.wsEndpoint != "" {
		ws, err := ledger.NewWSClient(ctx, cfg.wsEndpoint, nil)
		if err != nil {
			return fmt.Errorf("create websocket client: %w", err)
		}
		defer ws.Close()

		logger.Println("Live event subscription enabled")
		go func() { errCh <- svc.RunLive(ctx, ws) }()
	}

	logger.Println("Sniper running")
	return <-errCh
}
