// Package metrics exposes Prometheus instrumentation for dataset scans and
// exports. Metrics register themselves on the default registry at import
// time; serving them is left to the embedding process.
//
// # Basic Usage
//
//	metrics.RowsRead.WithLabelValues("buildings").Inc()
//
//	timer := metrics.NewTimer("export_batch")
//	writeBatch(batch)
//	metrics.ExportLatency.WithLabelValues("buildings", "avro").
//	    Observe(float64(timer.Stop().Nanoseconds()))
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RowsRead counts features returned by scans after filtering.
	// Labels: dataset.
	RowsRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tessera_rows_read_total",
			Help: "Features returned by scans after filtering",
		},
		[]string{"dataset"},
	)

	// RowsSkipped counts rows eliminated before materialization, split by
	// the filter stage that rejected them.
	// Labels: dataset, filter (spatial/attribute).
	RowsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tessera_rows_skipped_total",
			Help: "Rows eliminated by filters before materialization",
		},
		[]string{"dataset", "filter"},
	)

	// BatchesLoaded counts record batches pulled from dataset sources.
	// Labels: dataset.
	BatchesLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tessera_batches_loaded_total",
			Help: "Record batches pulled from dataset sources",
		},
		[]string{"dataset"},
	)

	// BatchLoadLatency tracks the time to pull and decode one batch from
	// its source, in nanoseconds.
	// Labels: dataset.
	BatchLoadLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "tessera_batch_load_latency_nanoseconds",
			Help: "Latency of pulling one batch from its source",
			Buckets: []float64{
				1e4, // 10μs - in-memory sources
				1e5, // 100μs - local files, small batches
				1e6, // 1ms - local files
				1e7, // 10ms - large batches, compressed files
				1e8, // 100ms - remote object storage
				1e9, // 1s - cold remote reads
				1e10, // 10s - pathological batches
			},
		},
		[]string{"dataset"},
	)

	// ExportedBatches counts batches handed to exports, split by whether
	// the columnar buffers were passed through or rebuilt row by row.
	// Labels: dataset, mode (zero_copy/rebuild).
	ExportedBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tessera_exported_batches_total",
			Help: "Batches handed to exports",
		},
		[]string{"dataset", "mode"},
	)

	// ExportedBytes counts bytes written by sinks.
	// Labels: dataset, sink (avro/geojson/ipc).
	ExportedBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tessera_exported_bytes_total",
			Help: "Bytes written by export sinks",
		},
		[]string{"dataset", "sink"},
	)

	// ExportLatency tracks per-batch export latency in nanoseconds.
	// Labels: dataset, sink.
	ExportLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "tessera_export_latency_nanoseconds",
			Help: "Latency of exporting one batch",
			Buckets: []float64{
				1e5, // 100μs
				1e6, // 1ms
				1e7, // 10ms
				1e8, // 100ms
				1e9, // 1s
			},
		},
		[]string{"dataset", "sink"},
	)
)

// Timer measures one operation. It captures the start time on creation and
// returns the elapsed time on Stop.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a timer and starts it immediately. The name is for
// identification in logs.
func NewTimer(name string) *Timer {
	return &Timer{start: time.Now(), name: name}
}

// Stop returns the elapsed duration since creation. It may be called more
// than once, each call returning the total elapsed time.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// Name returns the identifier the timer was created with.
func (t *Timer) Name() string {
	return t.name
}
