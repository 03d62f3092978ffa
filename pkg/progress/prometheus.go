package progress

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors driven by transfer progress.
// Every method is safe to call on a nil receiver, matching dittofs's
// nil-metrics convention: constructing a Prometheus factory with a nil
// *Metrics disables collection with zero overhead.
type Metrics struct {
	blocksCompleted *prometheus.CounterVec
	bytesTotal      *prometheus.CounterVec
}

// NewMetrics creates and registers the transfer-engine Prometheus
// collectors against reg. Pass nil to disable metrics entirely; IsEnabled
// reports false afterwards and Prometheus(...) returns a no-op factory.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		blocksCompleted: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "kamaki_blocks_completed_total",
				Help: "Total blocks hashed, uploaded, or downloaded by the transfer engine.",
			},
			[]string{"direction", "object"},
		),
		bytesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "kamaki_transfer_bytes_total",
				Help: "Total bytes transferred by the transfer engine.",
			},
			[]string{"direction", "object"},
		),
	}
	return m
}

// IsEnabled reports whether m is a non-nil, usable metrics instance.
func (m *Metrics) IsEnabled() bool {
	return m != nil
}

// recordBlock increments the block counter. Safe to call on nil.
func (m *Metrics) recordBlock(direction, object string) {
	if m == nil {
		return
	}
	m.blocksCompleted.WithLabelValues(direction, object).Inc()
}

// recordBytes adds n to the byte counter. Safe to call on nil.
func (m *Metrics) recordBytes(direction, object string, n float64) {
	if m == nil {
		return
	}
	m.bytesTotal.WithLabelValues(direction, object).Add(n)
}

// Prometheus builds a Factory that increments m's counters once per
// tick. blockBytes is added to the byte counter on every tick — callers
// driving per-block progress pass the container's block size; a nil m
// produces a Ticker that still satisfies the interface but does nothing,
// so callers never need a nil check of their own.
func Prometheus(m *Metrics, direction, object string, blockBytes int64) Factory {
	return func(total int) Ticker {
		return &prometheusTicker{m: m, direction: direction, object: object, blockBytes: blockBytes}
	}
}

type prometheusTicker struct {
	m          *Metrics
	direction  string
	object     string
	blockBytes int64
}

// Tick implements Ticker.
func (t *prometheusTicker) Tick() {
	t.m.recordBlock(t.direction, t.object)
	t.m.recordBytes(t.direction, t.object, float64(t.blockBytes))
}
