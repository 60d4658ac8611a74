package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "algo_signals_total", Help: "Signals produced per symbol and side"},
		[]string{"symbol", "side"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "algo_orders_total", Help: "Orders submitted"},
		[]string{"symbol", "side"},
	)
	GuardSkipsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "algo_guard_skips_total", Help: "Signals suppressed by the duplicate-order guard"},
		[]string{"reason"},
	)
	PositionsClosedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "algo_positions_closed_total", Help: "Positions closed by reason"},
		[]string{"reason"},
	)
	SymbolSkipsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "algo_symbol_skips_total", Help: "Symbols skipped in a cycle by cause"},
		[]string{"cause"},
	)
	CycleAbortsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "algo_cycle_aborts_total", Help: "Cycles aborted on a fatal error"},
	)
	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "algo_open_positions", Help: "Currently open positions"},
	)
	CycleSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "algo_cycle_seconds", Help: "Evaluation cycle duration", Buckets: prometheus.DefBuckets},
	)
)

func init() {
	prometheus.MustRegister(
		SignalsTotal,
		OrdersTotal,
		GuardSkipsTotal,
		PositionsClosedTotal,
		SymbolSkipsTotal,
		CycleAbortsTotal,
		OpenPositions,
		CycleSeconds,
	)
}
