// Package metrics is the one place in this module that imports
// prometheus directly. pkg/llrb, pkg/robt and pkg/wral each define a
// small capability interface (Metrics, CacheMetrics, Metrics) describing
// only the handful of observations they want to report; Metrics here
// satisfies all three at once, so one instance can be handed to an
// llrb.Tree, a robt.Index and a wral.Wal alike without any of those
// packages knowing prometheus exists. Grounded on dreamsxin-wal's
// metrics.go and its promauto.With(reg).New* idiom.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the concrete instrumentation this module ships. Build one
// per storage engine instance and register it against whichever
// prometheus.Registerer the embedding application uses.
type Metrics struct {
	mutations *prometheus.CounterVec
	liveCount prometheus.Gauge
	cacheHits prometheus.Counter
	cacheMiss prometheus.Counter
	fsync     prometheus.Histogram
	rotations prometheus.Counter
}

// New builds and registers every metric against reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		mutations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rdms_llrb_mutations_total",
			Help: "rdms_llrb_mutations_total counts Tree mutations by operation.",
		}, []string{"op"}),
		liveCount: f.NewGauge(prometheus.GaugeOpts{
			Name: "rdms_llrb_live_entries",
			Help: "rdms_llrb_live_entries is the current number of live entries in the tree.",
		}),
		cacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "rdms_robt_block_cache_hits_total",
			Help: "rdms_robt_block_cache_hits_total counts block reads served from the in-memory block cache.",
		}),
		cacheMiss: f.NewCounter(prometheus.CounterOpts{
			Name: "rdms_robt_block_cache_misses_total",
			Help: "rdms_robt_block_cache_misses_total counts block reads that had to hit disk.",
		}),
		fsync: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "rdms_wral_fsync_seconds",
			Help:    "rdms_wral_fsync_seconds is the latency of each journal fsync call.",
			Buckets: prometheus.DefBuckets,
		}),
		rotations: f.NewCounter(prometheus.CounterOpts{
			Name: "rdms_wral_rotations_total",
			Help: "rdms_wral_rotations_total counts how many times a journal segment rotated.",
		}),
	}
}

// ObserveMutation satisfies llrb.Metrics.
func (m *Metrics) ObserveMutation(op string) { m.mutations.WithLabelValues(op).Inc() }

// SetLiveCount satisfies llrb.Metrics.
func (m *Metrics) SetLiveCount(n int) { m.liveCount.Set(float64(n)) }

// Hit satisfies robt.CacheMetrics.
func (m *Metrics) Hit() { m.cacheHits.Inc() }

// Miss satisfies robt.CacheMetrics.
func (m *Metrics) Miss() { m.cacheMiss.Inc() }

// ObserveFsync satisfies wral.Metrics.
func (m *Metrics) ObserveFsync(d time.Duration) { m.fsync.Observe(d.Seconds()) }

// IncRotation satisfies wral.Metrics.
func (m *Metrics) IncRotation() { m.rotations.Inc() }
