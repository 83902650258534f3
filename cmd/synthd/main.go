package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/database/manager"
	"github.com/luxfi/log"
	metric "github.com/luxfi/metric"
	"github.com/nats-io/nats.go"

	"github.com/luxfi/synth/pkg/api"
	"github.com/luxfi/synth/pkg/bus"
	"github.com/luxfi/synth/pkg/feed"
	"github.com/luxfi/synth/pkg/metrics"
	"github.com/luxfi/synth/pkg/store"
	"github.com/luxfi/synth/pkg/synth"
)

const (
	defaultDataDir     = ".synthd"
	defaultRPCPort     = 8080
	defaultWSPort      = 8081
	defaultMetricsPort = 9090
)

type Config struct {
	// Paths
	DataDir  string
	LogLevel string

	// Network
	RPCPort     int
	WSPort      int
	MetricsPort int
	NatsURL     string

	// Market
	StableAsset      string
	ExposureAsset    string
	StableDecimals   uint
	ExposureDecimals uint
	PriceDecimals    uint
	InitialPrice     string

	// Products
	LongSymbol        string
	ShortSymbol       string
	LeverageBps       uint64
	SlippageBps       uint64
	SpreadBps         uint64
	InterestRateBps   uint64
	MaxUtilizationBps uint64
	Owner             string

	// Schedules
	RebalanceEvery  time.Duration
	CheckpointEvery time.Duration

	// Features
	EnableMetrics bool
}

// nodeMetrics tracks daemon loop counters
type nodeMetrics struct {
	RebalancesRun    metric.Counter
	CheckpointsSaved metric.Counter
	PriceUpdates     metric.Counter
}

func newNodeMetrics() *nodeMetrics {
	return &nodeMetrics{
		RebalancesRun:    metric.NewCounter("synthd_rebalances_run"),
		CheckpointsSaved: metric.NewCounter("synthd_checkpoints_saved"),
		PriceUpdates:     metric.NewCounter("synthd_price_updates"),
	}
}

// priceUpdate is the NATS payload that moves the oracle.
type priceUpdate struct {
	Asset string `json:"asset"`
	Price string `json:"price"`
	At    int64  `json:"at"`
}

type SynthNode struct {
	config *Config
	db     database.Database
	store  *store.Store
	logger log.Logger

	market        synth.Market
	oracle        *synth.SimplePriceOracle
	venue         *synth.OracleQuotedVenue
	stableVault   *synth.LendingVault
	exposureVault *synth.LendingVault
	positions     []*synth.LeveragedPosition

	rpc     *api.JSONRPCServer
	hub     *feed.Hub
	pub     *bus.Publisher
	nc      *nats.Conn
	sub     *nats.Subscription
	promReg *metrics.SynthMetrics
	loops   *nodeMetrics

	// Runtime stats
	rebalancesRun    uint64
	checkpointsSaved uint64
	priceUpdates     uint64

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSynthNode(config *Config) (*SynthNode, error) {
	level, _ := log.ToLevel(config.LogLevel)
	logger := log.NewTestLogger(level)
	logger.Info("Initializing synthd node")

	dataPath := filepath.Join(os.Getenv("HOME"), config.DataDir)
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	// BadgerDB is the default, with an in-memory fallback
	dbManager := manager.NewManager(dataPath, nil)

	dbConfig := manager.DefaultBadgerDBConfig("badgerdb")
	dbConfig.Namespace = "synthd"

	db, err := dbManager.New(dbConfig)
	if err != nil {
		logger.Warn("Failed to open BadgerDB", "error", err)
		memConfig := manager.DefaultMemoryConfig()
		db, err = dbManager.New(memConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
		logger.Info("Using in-memory database")
	} else {
		logger.Info("BadgerDB initialized", "path", filepath.Join(dataPath, "badgerdb"))
	}

	st := store.New(db, logger)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("checkpoint store migration: %w", err)
	}

	initialPrice, ok := new(big.Int).SetString(config.InitialPrice, 10)
	if !ok || initialPrice.Sign() <= 0 {
		db.Close()
		return nil, fmt.Errorf("invalid initial price %q", config.InitialPrice)
	}

	market := synth.Market{
		StableAsset:      config.StableAsset,
		ExposureAsset:    config.ExposureAsset,
		StableDecimals:   uint8(config.StableDecimals),
		ExposureDecimals: uint8(config.ExposureDecimals),
	}

	oracle := synth.NewSimplePriceOracle(initialPrice, uint8(config.PriceDecimals), time.Now())
	venue, err := synth.NewOracleQuotedVenue(market, oracle)
	if err != nil {
		db.Close()
		return nil, err
	}
	venue.SetSpread(config.SpreadBps)

	hub := feed.NewHub(feed.Config{Logger: logger})

	var promReg *metrics.SynthMetrics
	if config.EnableMetrics {
		promReg, err = metrics.NewSynthMetrics("synth")
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	var nc *nats.Conn
	var pub *bus.Publisher
	if config.NatsURL != "" {
		nc, err = nats.Connect(config.NatsURL)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("nats connect: %w", err)
		}
		pub = bus.NewPublisher(nc, bus.Config{Logger: logger})
		logger.Info("NATS connected", "url", config.NatsURL)
	}

	sinks := []synth.EventSink{hub}
	if pub != nil {
		sinks = append(sinks, pub)
	}
	if promReg != nil {
		sinks = append(sinks, promReg)
	}
	sink := synth.MultiSink(sinks...)

	stableVault, err := synth.NewLendingVault(synth.VaultConfig{
		Asset:                 config.StableAsset,
		Owner:                 config.Owner,
		InterestRateAnnualBps: config.InterestRateBps,
		MaxUtilizationBps:     config.MaxUtilizationBps,
		Logger:                logger,
		Sink:                  sink,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	exposureVault, err := synth.NewLendingVault(synth.VaultConfig{
		Asset:                 config.ExposureAsset,
		Owner:                 config.Owner,
		InterestRateAnnualBps: config.InterestRateBps,
		MaxUtilizationBps:     config.MaxUtilizationBps,
		Logger:                logger,
		Sink:                  sink,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	long, err := synth.NewLeveragedPosition(synth.PositionConfig{
		Symbol:               config.LongSymbol,
		Direction:            synth.Long,
		Market:               market,
		Owner:                config.Owner,
		LeverageRatioBps:     config.LeverageBps,
		SlippageToleranceBps: config.SlippageBps,
		Vault:                stableVault,
		Oracle:               oracle,
		Venue:                venue,
		Logger:               logger,
		Sink:                 sink,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	short, err := synth.NewLeveragedPosition(synth.PositionConfig{
		Symbol:               config.ShortSymbol,
		Direction:            synth.Short,
		Market:               market,
		Owner:                config.Owner,
		LeverageRatioBps:     config.LeverageBps,
		SlippageToleranceBps: config.SlippageBps,
		Vault:                exposureVault,
		Oracle:               oracle,
		Venue:                venue,
		Logger:               logger,
		Sink:                 sink,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	if err := stableVault.AuthorizeBorrower(config.Owner, config.LongSymbol); err != nil {
		db.Close()
		return nil, err
	}
	if err := exposureVault.AuthorizeBorrower(config.Owner, config.ShortSymbol); err != nil {
		db.Close()
		return nil, err
	}

	rpc := api.NewJSONRPCServer(logger)
	rpc.RegisterVault(stableVault)
	rpc.RegisterVault(exposureVault)
	rpc.RegisterPosition(long)
	rpc.RegisterPosition(short)

	ctx, cancel := context.WithCancel(context.Background())

	return &SynthNode{
		config:        config,
		db:            db,
		store:         st,
		logger:        logger,
		market:        market,
		oracle:        oracle,
		venue:         venue,
		stableVault:   stableVault,
		exposureVault: exposureVault,
		positions:     []*synth.LeveragedPosition{long, short},
		rpc:           rpc,
		hub:           hub,
		pub:           pub,
		nc:            nc,
		promReg:       promReg,
		loops:         newNodeMetrics(),
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

func (n *SynthNode) Start() error {
	n.logger.Info("Starting synthd node",
		"market", fmt.Sprintf("%s/%s", n.market.ExposureAsset, n.market.StableAsset),
		"long", n.config.LongSymbol,
		"short", n.config.ShortSymbol,
		"leverageBps", n.config.LeverageBps,
		"rpcPort", n.config.RPCPort,
		"wsPort", n.config.WSPort)

	if err := n.loadState(); err != nil {
		n.logger.Warn("Failed to load state", "error", err)
	}

	if n.pub != nil {
		n.pub.Start()
	}

	if n.nc != nil {
		sub, err := n.nc.Subscribe("synth.prices", n.handlePriceUpdate)
		if err != nil {
			return fmt.Errorf("price subscription: %w", err)
		}
		n.sub = sub
	}

	n.wg.Add(1)
	go n.runRebalancer()

	n.wg.Add(1)
	go n.runCheckpoints()

	n.wg.Add(1)
	go n.runGauges()

	n.wg.Add(1)
	go n.runJSONRPCServer()

	n.wg.Add(1)
	go n.runWSServer()

	if n.promReg != nil {
		n.wg.Add(1)
		go n.runMetricsServer()
		go n.promReg.CollectSystemMetrics(n.ctx)
	}

	n.wg.Add(1)
	go n.printStats()

	n.logger.Info("synthd node started successfully")
	return nil
}

// loadState reads the newest checkpoints for continuity logging. Checkpoints
// are an audit trail, not a restorable ledger: account balances never leave
// the engines, so every boot starts with fresh books.
func (n *SynthNode) loadState() error {
	for _, p := range n.positions {
		cp, err := n.store.LatestPosition(p.Symbol())
		if err != nil {
			if err == database.ErrNotFound {
				continue
			}
			return err
		}
		n.logger.Info("Previous checkpoint found",
			"symbol", cp.Symbol,
			"at", cp.At,
			"nav", cp.NavPerShare,
			"supply", cp.TotalSupply)
	}
	for _, v := range []*synth.LendingVault{n.stableVault, n.exposureVault} {
		cp, err := n.store.LatestVault(v.Asset())
		if err != nil {
			if err == database.ErrNotFound {
				continue
			}
			return err
		}
		n.logger.Info("Previous checkpoint found",
			"asset", cp.Asset,
			"at", cp.At,
			"held", cp.Held,
			"totalAssets", cp.TotalAssets)
	}
	return nil
}

func (n *SynthNode) handlePriceUpdate(m *nats.Msg) {
	var upd priceUpdate
	if err := json.Unmarshal(m.Data, &upd); err != nil {
		n.logger.Warn("Bad price update", "error", err)
		return
	}
	if upd.Asset != n.market.ExposureAsset {
		return
	}
	price, ok := new(big.Int).SetString(upd.Price, 10)
	if !ok || price.Sign() <= 0 {
		n.logger.Warn("Bad price update", "price", upd.Price)
		return
	}
	at := time.Now()
	if upd.At > 0 {
		at = time.Unix(upd.At, 0)
	}
	n.oracle.SetPrice(price, at)
	atomic.AddUint64(&n.priceUpdates, 1)
	n.loops.PriceUpdates.Inc()
	n.logger.Debug("Oracle price updated", "asset", upd.Asset, "price", price)
}

func (n *SynthNode) runRebalancer() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.config.RebalanceEvery)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			for _, p := range n.positions {
				if !p.NeedsRebalance() {
					continue
				}
				if err := p.Rebalance(); err != nil {
					n.logger.Warn("Rebalance failed", "symbol", p.Symbol(), "error", err)
					continue
				}
				atomic.AddUint64(&n.rebalancesRun, 1)
				n.loops.RebalancesRun.Inc()
				n.broadcastNav(p)
			}
		}
	}
}

func (n *SynthNode) runCheckpoints() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.config.CheckpointEvery)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.saveCheckpoints()
		}
	}
}

func (n *SynthNode) saveCheckpoints() {
	now := time.Now()
	for _, p := range n.positions {
		if err := n.store.SavePosition(store.CapturePosition(p, now)); err != nil {
			n.logger.Error("Checkpoint save failed", "symbol", p.Symbol(), "error", err)
			continue
		}
		atomic.AddUint64(&n.checkpointsSaved, 1)
		n.loops.CheckpointsSaved.Inc()
	}
	for _, v := range []*synth.LendingVault{n.stableVault, n.exposureVault} {
		if err := n.store.SaveVault(store.CaptureVault(v, now)); err != nil {
			n.logger.Error("Checkpoint save failed", "asset", v.Asset(), "error", err)
			continue
		}
		atomic.AddUint64(&n.checkpointsSaved, 1)
		n.loops.CheckpointsSaved.Inc()
	}
}

func (n *SynthNode) runGauges() {
	defer n.wg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			if n.promReg != nil {
				n.promReg.ObserveVault(n.stableVault)
				n.promReg.ObserveVault(n.exposureVault)
				for _, p := range n.positions {
					n.promReg.ObservePosition(p)
				}
			}
			for _, p := range n.positions {
				n.broadcastNav(p)
			}
		}
	}
}

// broadcastNav pushes the live NAV to websocket subscribers. Stale or broken
// oracle reads skip the tick rather than publishing garbage.
func (n *SynthNode) broadcastNav(p *synth.LeveragedPosition) {
	nav, err := p.CurrentNav()
	if err != nil {
		n.logger.Debug("NAV tick skipped", "symbol", p.Symbol(), "error", err)
		return
	}
	price, _, _, err := n.oracle.LatestPrice()
	if err != nil {
		return
	}
	n.hub.BroadcastNav(p.Symbol(), nav, n.market.StableDecimals, price,
		uint8(n.config.PriceDecimals), time.Now())
}

func (n *SynthNode) runJSONRPCServer() {
	defer n.wg.Done()

	mux := http.NewServeMux()
	mux.Handle("/rpc", n.rpc)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":      "healthy",
			"rebalances":  atomic.LoadUint64(&n.rebalancesRun),
			"checkpoints": atomic.LoadUint64(&n.checkpointsSaved),
			"wsClients":   n.hub.ClientCount(),
		})
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", n.config.RPCPort),
		Handler: mux,
	}

	go func() {
		<-n.ctx.Done()
		httpServer.Shutdown(context.Background())
	}()

	n.logger.Info("JSON-RPC server started", "port", n.config.RPCPort, "endpoint", "/rpc")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		n.logger.Error("JSON-RPC server error", "error", err)
	}
}

func (n *SynthNode) runWSServer() {
	defer n.wg.Done()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", n.hub.HandleConnection)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", n.config.WSPort),
		Handler: mux,
	}

	go func() {
		<-n.ctx.Done()
		httpServer.Shutdown(context.Background())
	}()

	n.logger.Info("WebSocket feed started", "port", n.config.WSPort, "endpoint", "/ws")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		n.logger.Error("WebSocket server error", "error", err)
	}
}

func (n *SynthNode) runMetricsServer() {
	defer n.wg.Done()

	mux := http.NewServeMux()
	mux.Handle("/metrics", n.promReg.Handler())

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", n.config.MetricsPort),
		Handler: mux,
	}

	go func() {
		<-n.ctx.Done()
		httpServer.Shutdown(context.Background())
	}()

	n.logger.Info("Prometheus metrics server started", "port", n.config.MetricsPort)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		n.logger.Error("Metrics server error", "error", err)
	}
}

func (n *SynthNode) printStats() {
	defer n.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	startTime := time.Now()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			elapsed := time.Since(startTime).Seconds()

			fields := []interface{}{
				"uptime", fmt.Sprintf("%.0fs", elapsed),
				"rebalances", atomic.LoadUint64(&n.rebalancesRun),
				"checkpoints", atomic.LoadUint64(&n.checkpointsSaved),
				"priceUpdates", atomic.LoadUint64(&n.priceUpdates),
				"wsClients", n.hub.ClientCount(),
			}
			if n.pub != nil {
				fields = append(fields, "busDropped", n.pub.Dropped())
			}
			n.logger.Info("synthd status", fields...)

			for _, p := range n.positions {
				n.logger.Info("Position book",
					"symbol", p.Symbol(),
					"nav", p.NavPerShare(),
					"supply", p.TotalSupply(),
					"exposure", p.TotalExposure())
			}
			for _, v := range []*synth.LendingVault{n.stableVault, n.exposureVault} {
				n.logger.Info("Vault book",
					"asset", v.Asset(),
					"held", v.AvailableLiquidity(),
					"borrowed", v.TotalBorrowed(),
					"totalAssets", v.TotalAssets(),
					"utilizationBps", v.UtilizationRate())
			}
		}
	}
}

func (n *SynthNode) Shutdown() {
	n.logger.Info("Shutting down synthd node...")

	n.cancel()
	n.wg.Wait()

	// final audit checkpoint
	n.saveCheckpoints()

	if n.sub != nil {
		n.sub.Unsubscribe()
	}
	if n.pub != nil {
		n.pub.Stop()
	}
	if n.nc != nil {
		n.nc.Close()
	}
	n.hub.Shutdown()

	if err := n.store.Close(); err != nil {
		n.logger.Error("Store close failed", "error", err)
	}

	n.logger.Info("synthd node shutdown complete")
}

func main() {
	config := &Config{}

	flag.StringVar(&config.DataDir, "data-dir", defaultDataDir, "Data directory (relative to $HOME)")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	flag.IntVar(&config.RPCPort, "rpc-port", defaultRPCPort, "JSON-RPC port")
	flag.IntVar(&config.WSPort, "ws-port", defaultWSPort, "WebSocket feed port")
	flag.IntVar(&config.MetricsPort, "metrics-port", defaultMetricsPort, "Prometheus metrics port")
	flag.StringVar(&config.NatsURL, "nats-url", "", "NATS server URL (empty disables the event bus)")

	flag.StringVar(&config.StableAsset, "stable", "USDC", "Stable asset symbol")
	flag.StringVar(&config.ExposureAsset, "exposure", "WETH", "Exposure asset symbol")
	flag.UintVar(&config.StableDecimals, "stable-decimals", 6, "Stable asset decimals")
	flag.UintVar(&config.ExposureDecimals, "exposure-decimals", 8, "Exposure asset decimals")
	flag.UintVar(&config.PriceDecimals, "price-decimals", 8, "Oracle price decimals")
	flag.StringVar(&config.InitialPrice, "price", "200000000000", "Initial oracle price in base units")

	flag.StringVar(&config.LongSymbol, "long-symbol", "ETH2L", "Long product symbol")
	flag.StringVar(&config.ShortSymbol, "short-symbol", "ETH2S", "Short product symbol")
	flag.Uint64Var(&config.LeverageBps, "leverage-bps", 20_000, "Leverage ratio in basis points")
	flag.Uint64Var(&config.SlippageBps, "slippage-bps", 100, "Slippage tolerance in basis points")
	flag.Uint64Var(&config.SpreadBps, "spread-bps", 0, "Venue execution spread in basis points")
	flag.Uint64Var(&config.InterestRateBps, "interest-bps", 500, "Vault annual interest rate in basis points")
	flag.Uint64Var(&config.MaxUtilizationBps, "max-utilization-bps", 0, "Vault utilization cap in basis points (0 uses the default)")
	flag.StringVar(&config.Owner, "owner", "owner", "Administrative account")

	flag.DurationVar(&config.RebalanceEvery, "rebalance-every", time.Minute, "Rebalance check interval")
	flag.DurationVar(&config.CheckpointEvery, "checkpoint-every", 5*time.Minute, "Checkpoint save interval")

	flag.BoolVar(&config.EnableMetrics, "enable-metrics", true, "Enable Prometheus metrics")

	flag.Parse()

	rootLogger := log.Root()
	rootLogger.Info(`
╔══════════════════════════════════════════╗
║        SYNTHD - Synthetic Exposure       ║
║                                          ║
║     Leveraged Long/Short Token Ledger    ║
║      Lending Vaults + NAV Rebalancer     ║
╚══════════════════════════════════════════╝`)

	rootLogger.Info("System information",
		"platform", fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		"cpus", runtime.NumCPU(),
		"dataDir", filepath.Join(os.Getenv("HOME"), config.DataDir))

	node, err := NewSynthNode(config)
	if err != nil {
		rootLogger.Crit("Failed to create node", "error", err)
		os.Exit(1)
	}

	if err := node.Start(); err != nil {
		rootLogger.Crit("Failed to start node", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	rootLogger.Info("Received shutdown signal", "signal", sig)

	node.Shutdown()
}
