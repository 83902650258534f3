package metrics

import (
	"context"
	"math/big"
	"net/http"
	"runtime"
	"time"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luxfi/synth/pkg/synth"
)

// SynthMetrics exposes ledger operation counters and book-state gauges on a
// Prometheus registry.
type SynthMetrics struct {
	namespace string
	registry  *prometheus.Registry
	gatherer  prometheus.Gatherer
	logger    log.Logger

	// Operation metrics
	depositsTotal    prometheus.CounterVec
	withdrawalsTotal prometheus.CounterVec
	borrowsTotal     prometheus.CounterVec
	repaysTotal      prometheus.CounterVec
	mintsTotal       prometheus.CounterVec
	redeemsTotal     prometheus.CounterVec
	rebalancesTotal  prometheus.CounterVec
	repayShortfalls  prometheus.CounterVec
	shortfallUnits   prometheus.CounterVec
	pausesTotal      prometheus.Counter
	opLatency        prometheus.Histogram

	// Book-state gauges
	navPerShare     prometheus.GaugeVec
	utilizationBps  prometheus.GaugeVec
	accountedAssets prometheus.GaugeVec
	heldBalance     prometheus.GaugeVec
	bookDivergence  prometheus.GaugeVec

	// System metrics
	memoryUsage prometheus.Gauge
	goroutines  prometheus.Gauge
}

// NewSynthMetrics creates metrics on a fresh registry
func NewSynthMetrics(namespace string) (*SynthMetrics, error) {
	logger := log.Root().New("module", "metrics")

	registry := prometheus.NewRegistry()

	m := &SynthMetrics{
		namespace: namespace,
		registry:  registry,
		gatherer:  registry,
		logger:    logger,

		depositsTotal: *prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vault_deposits_total",
			Help:      "Total LP deposits accepted",
		}, []string{"asset"}),

		withdrawalsTotal: *prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vault_withdrawals_total",
			Help:      "Total LP withdrawals paid out",
		}, []string{"asset"}),

		borrowsTotal: *prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vault_borrows_total",
			Help:      "Total borrows drawn by positions",
		}, []string{"asset"}),

		repaysTotal: *prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vault_repays_total",
			Help:      "Total repayments received",
		}, []string{"asset"}),

		mintsTotal: *prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "position_mints_total",
			Help:      "Total position token mints",
		}, []string{"symbol"}),

		redeemsTotal: *prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "position_redeems_total",
			Help:      "Total position token redemptions",
		}, []string{"symbol"}),

		rebalancesTotal: *prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "position_rebalances_total",
			Help:      "Total NAV rebalances committed",
		}, []string{"symbol"}),

		repayShortfalls: *prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repay_shortfalls_total",
			Help:      "Repayments that cleared more principal than was paid in",
		}, []string{"asset"}),

		shortfallUnits: *prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repay_shortfall_base_units_total",
			Help:      "Cumulative shortfall absorbed by LPs, in base units",
		}, []string{"asset"}),

		pausesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pauses_total",
			Help:      "Total pause state changes",
		}),

		opLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_latency_nanoseconds",
			Help:      "Ledger operation latency in nanoseconds",
			Buckets:   []float64{100, 250, 500, 1000, 2500, 5000, 10000, 25000, 50000, 100000},
		}),

		navPerShare: *prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nav_per_share",
			Help:      "Committed NAV per share in stable base units",
		}, []string{"symbol"}),

		utilizationBps: *prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vault_utilization_bps",
			Help:      "Vault utilization in basis points",
		}, []string{"asset"}),

		accountedAssets: *prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vault_accounted_assets",
			Help:      "Vault total assets as accounted, in base units",
		}, []string{"asset"}),

		heldBalance: *prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vault_held_balance",
			Help:      "Vault balance actually held, in base units",
		}, []string{"asset"}),

		bookDivergence: *prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vault_book_divergence",
			Help:      "Accounted assets minus held balance minus outstanding principal: paper value with no token backing",
		}, []string{"asset"}),

		memoryUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_usage_bytes",
			Help:      "Current memory usage in bytes",
		}),

		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutines_count",
			Help:      "Current number of goroutines",
		}),
	}

	registry.MustRegister(
		m.depositsTotal,
		m.withdrawalsTotal,
		m.borrowsTotal,
		m.repaysTotal,
		m.mintsTotal,
		m.redeemsTotal,
		m.rebalancesTotal,
		m.repayShortfalls,
		m.shortfallUnits,
		m.pausesTotal,
		m.opLatency,
		m.navPerShare,
		m.utilizationBps,
		m.accountedAssets,
		m.heldBalance,
		m.bookDivergence,
		m.memoryUsage,
		m.goroutines,
	)

	return m, nil
}

// Publish implements synth.EventSink: each committed event bumps its
// operation counter. Gauges are refreshed separately by ObserveVault and
// ObservePosition.
func (m *SynthMetrics) Publish(ev synth.Event) {
	switch e := ev.(type) {
	case synth.VaultDepositEvent:
		m.depositsTotal.WithLabelValues(e.Asset).Inc()
	case synth.VaultWithdrawEvent:
		m.withdrawalsTotal.WithLabelValues(e.Asset).Inc()
	case synth.VaultBorrowEvent:
		m.borrowsTotal.WithLabelValues(e.Asset).Inc()
	case synth.VaultRepayEvent:
		m.repaysTotal.WithLabelValues(e.Asset).Inc()
		if e.Shortfall != nil && e.Shortfall.Sign() > 0 {
			m.repayShortfalls.WithLabelValues(e.Asset).Inc()
			m.shortfallUnits.WithLabelValues(e.Asset).Add(bigFloat(e.Shortfall))
		}
	case synth.MintEvent:
		m.mintsTotal.WithLabelValues(e.Symbol).Inc()
		m.navPerShare.WithLabelValues(e.Symbol).Set(bigFloat(e.Nav))
	case synth.RedeemEvent:
		// shortfalls are counted off the vault's repay event
		m.redeemsTotal.WithLabelValues(e.Symbol).Inc()
		m.navPerShare.WithLabelValues(e.Symbol).Set(bigFloat(e.Nav))
	case synth.RebalanceEvent:
		m.rebalancesTotal.WithLabelValues(e.Symbol).Inc()
		m.navPerShare.WithLabelValues(e.Symbol).Set(bigFloat(e.NewNav))
	case synth.PauseEvent:
		m.pausesTotal.Inc()
	}
}

// ObserveVault refreshes the book-state gauges for one vault. The divergence
// gauge grows as interest accrues without any matching token inflow.
func (m *SynthMetrics) ObserveVault(v *synth.LendingVault) {
	asset := v.Asset()
	total := v.TotalAssets()
	held := v.AvailableLiquidity()
	borrowed := v.TotalBorrowed()

	divergence := new(big.Int).Sub(total, held)
	divergence.Sub(divergence, borrowed)

	m.utilizationBps.WithLabelValues(asset).Set(float64(v.UtilizationRate()))
	m.accountedAssets.WithLabelValues(asset).Set(bigFloat(total))
	m.heldBalance.WithLabelValues(asset).Set(bigFloat(held))
	m.bookDivergence.WithLabelValues(asset).Set(bigFloat(divergence))
}

// ObservePosition refreshes the NAV gauge for one position.
func (m *SynthMetrics) ObservePosition(p *synth.LeveragedPosition) {
	m.navPerShare.WithLabelValues(p.Symbol()).Set(bigFloat(p.NavPerShare()))
}

// RecordOpLatency records one ledger operation's latency
func (m *SynthMetrics) RecordOpLatency(nanoseconds float64) {
	m.opLatency.Observe(nanoseconds)
}

// Registry returns the underlying registry for custom collectors.
func (m *SynthMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the promhttp handler for this registry.
func (m *SynthMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// StartServer starts Prometheus metrics server
func (m *SynthMetrics) StartServer(port string) error {
	m.logger.Info("Starting Prometheus metrics server", "port", port)

	http.Handle("/metrics", m.Handler())

	go func() {
		if err := http.ListenAndServe(":"+port, nil); err != nil {
			m.logger.Error("Metrics server failed", "error", err)
		}
	}()

	m.logger.Info("Prometheus metrics available",
		"endpoint", "http://localhost:"+port+"/metrics")

	return nil
}

// CollectSystemMetrics collects system-level metrics
func (m *SynthMetrics) CollectSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var memStats runtime.MemStats
			runtime.ReadMemStats(&memStats)
			m.memoryUsage.Set(float64(memStats.Alloc))
			m.goroutines.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// bigFloat renders a big.Int as float64 for gauge values. Precision loss
// above 2^53 is acceptable for monitoring.
func bigFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
