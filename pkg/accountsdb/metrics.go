package accountsdb

import "github.com/prometheus/client_golang/prometheus"

// metricsSet holds every Prometheus collector the DB registers. Callers
// wanting to expose them wire registry into a promhttp.Handler themselves;
// this package only registers, it never listens on a port.
type metricsSet struct {
	storesTotal   prometheus.Counter
	loadsTotal    *prometheus.CounterVec // label: result (hit|miss|retry_exceeded)
	cleanDuration prometheus.Histogram
	shrinkDuration prometheus.Histogram
	purgeDuration prometheus.Histogram
	storageCount  prometheus.Gauge
	cacheHitRatio prometheus.Gauge
}

func newMetricsSet(reg prometheus.Registerer) *metricsSet {
	m := &metricsSet{
		storesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "accountsdb",
			Name:      "stores_total",
			Help:      "Total number of account store operations.",
		}),
		loadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accountsdb",
			Name:      "loads_total",
			Help:      "Total number of account load operations by result.",
		}, []string{"result"}),
		cleanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "accountsdb",
			Name:      "clean_duration_seconds",
			Help:      "Duration of Clean passes.",
			Buckets:   prometheus.DefBuckets,
		}),
		shrinkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "accountsdb",
			Name:      "shrink_duration_seconds",
			Help:      "Duration of Shrink passes.",
			Buckets:   prometheus.DefBuckets,
		}),
		purgeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "accountsdb",
			Name:      "purge_duration_seconds",
			Help:      "Duration of Purge operations.",
			Buckets:   prometheus.DefBuckets,
		}),
		storageCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "accountsdb",
			Name:      "storage_entries",
			Help:      "Current number of live storage entries across all slots.",
		}),
		cacheHitRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "accountsdb",
			Name:      "read_only_cache_hit_ratio",
			Help:      "Hit ratio of the read-only cache since the DB was opened.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.storesTotal, m.loadsTotal, m.cleanDuration, m.shrinkDuration, m.purgeDuration, m.storageCount, m.cacheHitRatio)
	}

	return m
}
