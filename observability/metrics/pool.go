package metrics

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type PoolMetrics struct {
	epochsClosed      *prometheus.CounterVec
	trancheAssets     *prometheus.GaugeVec
	redemptionAmount  *prometheus.CounterVec
	partialFills      *prometheus.CounterVec
	creditDefaults    *prometheus.CounterVec
	profitDistributed *prometheus.CounterVec
	lossAbsorbed      *prometheus.CounterVec
	feeReserve        prometheus.Gauge
	redemptionReserve prometheus.Gauge
}

var (
	poolOnce     sync.Once
	poolRegistry *PoolMetrics
)

func Pool() *PoolMetrics {
	poolOnce.Do(func() {
		poolRegistry = &PoolMetrics{
			epochsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "pool_epochs_closed_total",
				Help: "Count of epoch close transitions by pool.",
			}, []string{"pool"}),
			trancheAssets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "pool_tranche_assets",
				Help: "Current tranche asset totals by pool and tranche.",
			}, []string{"pool", "tranche"}),
			redemptionAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "pool_redemption_amount_total",
				Help: "Cumulative redemption amount processed by pool and tranche.",
			}, []string{"pool", "tranche"}),
			partialFills: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "pool_redemption_partial_fills_total",
				Help: "Count of epoch redemption settlements that were only partially filled.",
			}, []string{"pool", "tranche"}),
			creditDefaults: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "pool_credit_defaults_total",
				Help: "Count of credit defaults written off by pool.",
			}, []string{"pool"}),
			profitDistributed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "pool_profit_distributed_total",
				Help: "Cumulative profit distributed through the tranche waterfall by pool.",
			}, []string{"pool"}),
			lossAbsorbed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "pool_loss_absorbed_total",
				Help: "Cumulative loss absorbed by pool and layer (cover, junior, senior).",
			}, []string{"pool", "layer"}),
			feeReserve: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "pool_fee_reserve",
				Help: "Cash currently reserved for accrued fees.",
			}),
			redemptionReserve: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "pool_redemption_reserve",
				Help: "Cash currently reserved for processed redemptions.",
			}),
		}
		prometheus.MustRegister(
			poolRegistry.epochsClosed,
			poolRegistry.trancheAssets,
			poolRegistry.redemptionAmount,
			poolRegistry.partialFills,
			poolRegistry.creditDefaults,
			poolRegistry.profitDistributed,
			poolRegistry.lossAbsorbed,
			poolRegistry.feeReserve,
			poolRegistry.redemptionReserve,
		)
	})
	return poolRegistry
}

func (m *PoolMetrics) ObserveEpochClosed(pool string) {
	if m == nil {
		return
	}
	m.epochsClosed.WithLabelValues(pool).Inc()
}

func (m *PoolMetrics) SetTrancheAssets(pool string, tranche int, amount float64) {
	if m == nil {
		return
	}
	m.trancheAssets.WithLabelValues(pool, fmt.Sprintf("%d", tranche)).Set(amount)
}

func (m *PoolMetrics) ObserveRedemptionAmount(pool string, tranche int, amount float64) {
	if m == nil {
		return
	}
	m.redemptionAmount.WithLabelValues(pool, fmt.Sprintf("%d", tranche)).Add(amount)
}

func (m *PoolMetrics) ObservePartialFill(pool string, tranche int) {
	if m == nil {
		return
	}
	m.partialFills.WithLabelValues(pool, fmt.Sprintf("%d", tranche)).Inc()
}

func (m *PoolMetrics) ObserveCreditDefault(pool string) {
	if m == nil {
		return
	}
	m.creditDefaults.WithLabelValues(pool).Inc()
}

func (m *PoolMetrics) ObserveProfitDistributed(pool string, amount float64) {
	if m == nil {
		return
	}
	m.profitDistributed.WithLabelValues(pool).Add(amount)
}

func (m *PoolMetrics) ObserveLossAbsorbed(pool, layer string, amount float64) {
	if m == nil {
		return
	}
	if layer == "" {
		layer = "unknown"
	}
	m.lossAbsorbed.WithLabelValues(pool, layer).Add(amount)
}

func (m *PoolMetrics) SetFeeReserve(amount float64) {
	if m == nil {
		return
	}
	m.feeReserve.Set(amount)
}

func (m *PoolMetrics) SetRedemptionReserve(amount float64) {
	if m == nil {
		return
	}
	m.redemptionReserve.Set(amount)
}
