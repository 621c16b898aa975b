package wral

import "time"

// Metrics is the capability a Wal reports fsync latency and journal
// rotations to. Like llrb.Metrics and robt.CacheMetrics, it carries no
// dependency on any concrete instrumentation library; pkg/metrics.Metrics
// satisfies it.
type Metrics interface {
	ObserveFsync(d time.Duration)
	IncRotation()
}

// Option configures a Wal at Create/Load time.
type Option[S State] func(*Wal[S])

// WithMetrics wires m to observe this Wal's fsync latency and rotation
// count going forward.
func WithMetrics[S State](m Metrics) Option[S] {
	return func(w *Wal[S]) { w.metrics = m }
}
