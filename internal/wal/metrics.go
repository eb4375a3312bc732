package wal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics are process-wide counters registered once at package load, the
// same pattern the reference backend's escrow package uses for its
// Prometheus instrumentation.
var metrics = struct {
	Appends        prometheus.Counter
	Rotations      prometheus.Counter
	CorruptedReads *prometheus.CounterVec
}{
	Appends: promauto.NewCounter(prometheus.CounterOpts{
		Name: "wal_appends_total",
		Help: "Total number of events appended to the write-ahead log.",
	}),
	Rotations: promauto.NewCounter(prometheus.CounterOpts{
		Name: "wal_segment_rotations_total",
		Help: "Total number of segment rotations performed.",
	}),
	CorruptedReads: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wal_corrupted_entries_total",
		Help: "Entries skipped during read/verify due to CRC or integrity failure.",
	}, []string{"reason"}),
}
