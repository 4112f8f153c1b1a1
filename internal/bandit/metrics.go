package bandit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors that mirror the per-round
// report record of §6 (see DESIGN.md for the grounding of this shape).
type Metrics struct {
	roundsTotal          prometheus.Counter
	batchTimeSeconds     prometheus.Histogram
	hypBatchTimeSeconds  prometheus.Histogram
	creationCostSeconds  prometheus.Histogram
	executionCostSeconds prometheus.Histogram
	memoryCostMB         prometheus.Gauge
	armStoreSize         prometheus.Gauge
	frozen               prometheus.Gauge
	newQueryFraction     prometheus.Gauge
}

// NewMetrics registers the advisor's collectors against registry.
func NewMetrics(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		roundsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "index_advisor",
			Name:      "rounds_total",
			Help:      "Total number of rounds completed.",
		}),
		batchTimeSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "index_advisor",
			Name:      "batch_time_seconds",
			Help:      "Wall-clock time spent executing one round's query batch.",
			Buckets:   prometheus.DefBuckets,
		}),
		hypBatchTimeSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "index_advisor",
			Name:      "hyp_batch_time_seconds",
			Help:      "Wall-clock time spent executing a hypothetical-index round's query batch.",
			Buckets:   prometheus.DefBuckets,
		}),
		creationCostSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "index_advisor",
			Name:      "creation_cost_seconds",
			Help:      "Cost reported by the port for building newly chosen indexes this round.",
			Buckets:   prometheus.DefBuckets,
		}),
		executionCostSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "index_advisor",
			Name:      "execution_cost_seconds",
			Help:      "Total cost of executing the round's query batch.",
			Buckets:   prometheus.DefBuckets,
		}),
		memoryCostMB: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "index_advisor",
			Name:      "memory_cost_megabytes",
			Help:      "Current physical design structure (PDS) size in MB.",
		}),
		armStoreSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "index_advisor",
			Name:      "arm_store_size",
			Help:      "Total number of distinct arms ever generated this run.",
		}),
		frozen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "index_advisor",
			Name:      "frozen",
			Help:      "1 if the round driver has frozen to a fixed super-arm, else 0.",
		}),
		newQueryFraction: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "index_advisor",
			Name:      "new_query_fraction",
			Help:      "Fraction of the last round's queries that were new (workload-shift signal).",
		}),
	}

	collectors := []prometheus.Collector{
		m.roundsTotal, m.batchTimeSeconds, m.hypBatchTimeSeconds,
		m.creationCostSeconds, m.executionCostSeconds, m.memoryCostMB,
		m.armStoreSize, m.frozen, m.newQueryFraction,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Observe records one completed round's report (§6 per-round report
// record) into the collectors above.
func (m *Metrics) Observe(report RoundReport, armStoreSize int) {
	m.roundsTotal.Inc()
	m.armStoreSize.Set(float64(armStoreSize))
	m.newQueryFraction.Set(report.NewFraction)
	if report.Frozen {
		m.frozen.Set(1)
	} else {
		m.frozen.Set(0)
	}
	for _, metric := range report.Metrics {
		switch metric.MeasureName {
		case MeasureBatchTime:
			m.batchTimeSeconds.Observe(metric.Value)
		case MeasureHypBatchTime:
			m.hypBatchTimeSeconds.Observe(metric.Value)
		case MeasureCreationCost:
			m.creationCostSeconds.Observe(metric.Value)
		case MeasureExecutionCost:
			m.executionCostSeconds.Observe(metric.Value)
		case MeasureMemoryCost:
			m.memoryCostMB.Set(metric.Value)
		}
	}
}
