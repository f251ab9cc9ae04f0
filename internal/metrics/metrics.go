// Package metrics exposes Prometheus collectors for the coupling layer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ReconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lpjml_reconcile_total",
		Help: "Reconciliations that flushed at least one pending write",
	}, []string{"kind"})
	UnitsFlushedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lpjml_units_flushed_total",
		Help: "Dirty units whose pending writes were applied to the backing store",
	}, []string{"kind"})
	CellsWrittenTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lpjml_cells_written_total",
		Help: "Cell values written into the backing store during reconciliation",
	}, []string{"kind"})
	ConsistencyErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lpjml_consistency_errors_total",
		Help: "Reconciliations aborted on conflicting cross-level writes",
	})
	DirtyUnits = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lpjml_dirty_units",
		Help: "Units currently holding unreconciled writes",
	}, []string{"kind"})
	ExchangeDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lpjml_exchange_duration_ms",
		Help:    "Duration of coupler calls in milliseconds",
		Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 30000},
	}, []string{"op"})
	ExchangeFailTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lpjml_exchange_fail_total",
		Help: "Coupler calls that failed or timed out",
	}, []string{"op"})
	StepYear = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lpjml_step_year",
		Help: "Most recent simulation year exchanged with LPJmL",
	})
)

func init() {
	prometheus.MustRegister(ReconcileTotal)
	prometheus.MustRegister(UnitsFlushedTotal)
	prometheus.MustRegister(CellsWrittenTotal)
	prometheus.MustRegister(ConsistencyErrorsTotal)
	prometheus.MustRegister(DirtyUnits)
	prometheus.MustRegister(ExchangeDurationMs)
	prometheus.MustRegister(ExchangeFailTotal)
	prometheus.MustRegister(StepYear)
}

// Handler serves the registered collectors for scraping.
func Handler() http.Handler { return promhttp.Handler() }
