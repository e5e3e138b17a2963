// Package metrics exposes Prometheus instrumentation for the engine. All
// collectors are observational; nothing here feeds back into decisions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolverine-quant/trinity-engine/pkg/types"
)

// Collector bundles the engine's Prometheus metrics.
type Collector struct {
	CyclesProcessed     prometheus.Counter
	SignalsEmitted      prometheus.Counter
	Entries             prometheus.Counter
	Exits               *prometheus.CounterVec
	EntriesRejected     prometheus.Counter
	FallbackAttempts    prometheus.Counter
	CircuitBreakerTrips prometheus.Counter
	Rebalances          prometheus.Counter

	PortfolioValue  prometheus.Gauge
	Drawdown        prometheus.Gauge
	DailyLoss       prometheus.Gauge
	ExposurePct     prometheus.Gauge
	CashReservePct  prometheus.Gauge
	ActivePositions prometheus.Gauge
	AvgLeverage     prometheus.Gauge
}

// NewCollector creates and registers the engine metrics with the given
// registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		CyclesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trinity", Name: "cycles_processed_total",
			Help: "Number of completed decision cycles.",
		}),
		SignalsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trinity", Name: "signals_emitted_total",
			Help: "Number of directional signals produced by the indicator stage.",
		}),
		Entries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trinity", Name: "entries_total",
			Help: "Number of positions opened.",
		}),
		Exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trinity", Name: "exits_total",
			Help: "Number of positions closed, by exit reason.",
		}, []string{"reason"}),
		EntriesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trinity", Name: "entries_rejected_total",
			Help: "Number of entries abandoned after the full fallback chain.",
		}),
		FallbackAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trinity", Name: "fallback_attempts_total",
			Help: "Number of de-escalated entry retries after a risk rejection.",
		}),
		CircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trinity", Name: "circuit_breaker_trips_total",
			Help: "Number of cycles that forced a flatten-all.",
		}),
		Rebalances: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trinity", Name: "rebalances_total",
			Help: "Number of rebalance triggers.",
		}),
		PortfolioValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "trinity", Name: "portfolio_value",
			Help: "Current total portfolio value.",
		}),
		Drawdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "trinity", Name: "drawdown",
			Help: "Current drawdown from the peak portfolio value.",
		}),
		DailyLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "trinity", Name: "daily_loss",
			Help: "Loss since the daily baseline.",
		}),
		ExposurePct: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "trinity", Name: "exposure_pct",
			Help: "Gross exposure as a fraction of portfolio value.",
		}),
		CashReservePct: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "trinity", Name: "cash_reserve_pct",
			Help: "Cash reserve as a fraction of portfolio value.",
		}),
		ActivePositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "trinity", Name: "active_positions",
			Help: "Number of baskets with an open position.",
		}),
		AvgLeverage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "trinity", Name: "avg_active_leverage",
			Help: "Average leverage across active positions.",
		}),
	}

	reg.MustRegister(
		c.CyclesProcessed, c.SignalsEmitted, c.Entries, c.Exits,
		c.EntriesRejected, c.FallbackAttempts, c.CircuitBreakerTrips,
		c.Rebalances, c.PortfolioValue, c.Drawdown, c.DailyLoss,
		c.ExposurePct, c.CashReservePct, c.ActivePositions, c.AvgLeverage,
	)
	return c
}

// ObserveCycle records the derived metrics from one cycle report.
func (c *Collector) ObserveCycle(report *types.CycleReport) {
	c.CyclesProcessed.Inc()
	c.PortfolioValue.Set(report.PortfolioValue.InexactFloat64())
	c.Drawdown.Set(report.Drawdown)
	c.DailyLoss.Set(report.DailyLoss)
	c.ExposurePct.Set(report.ExposurePct)
	c.CashReservePct.Set(report.CashReservePct)
	c.ActivePositions.Set(float64(report.ActivePositions))
	c.AvgLeverage.Set(report.AvgActiveLeverage)
}
