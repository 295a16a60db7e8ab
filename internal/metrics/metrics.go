// Package metrics exposes Prometheus instrumentation for the intake
// pipeline.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the pipeline's Prometheus collectors. All methods are
// safe for concurrent use.
type Metrics struct {
	downloadsTotal   *prometheus.CounterVec
	downloadBytes    prometheus.Counter
	downloadSeconds  prometheus.Histogram
	activeDownloads  prometheus.Gauge
	extractionsTotal *prometheus.CounterVec
	entrySizeBytes   prometheus.Histogram
	violationsTotal  prometheus.Counter
	filesInventoried prometheus.Counter
}

// New creates the collectors and registers them with reg. Passing a
// fresh prometheus.NewRegistry keeps tests isolated from each other.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		downloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_downloads_total",
				Help: "Finished downloads by result.",
			},
			[]string{"result"},
		),
		downloadBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "intake_download_bytes_total",
				Help: "Bytes written to disk by the downloader.",
			},
		),
		downloadSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "intake_download_duration_seconds",
				Help:    "Wall-clock duration of finished downloads.",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
			},
		),
		activeDownloads: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "intake_active_downloads",
				Help: "Downloads currently in flight.",
			},
		),
		extractionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_extractions_total",
				Help: "Finished extractions by result.",
			},
			[]string{"result"},
		),
		entrySizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name: "intake_archive_entry_size_bytes",
				Help: "Uncompressed sizes of extracted archive entries.",
				// 1 KiB up through ~1 GiB in decades.
				Buckets: prometheus.ExponentialBuckets(1024, 10, 7),
			},
		),
		violationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "intake_security_violations_total",
				Help: "Archive entries refused by security policy.",
			},
		),
		filesInventoried: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "intake_files_inventoried_total",
				Help: "Files processed by the inventory.",
			},
		),
	}

	reg.MustRegister(
		m.downloadsTotal,
		m.downloadBytes,
		m.downloadSeconds,
		m.activeDownloads,
		m.extractionsTotal,
		m.entrySizeBytes,
		m.violationsTotal,
		m.filesInventoried,
	)
	return m
}

// DownloadStarted marks a download in flight.
func (m *Metrics) DownloadStarted() {
	m.activeDownloads.Inc()
}

// DownloadFinished records the outcome of one download attempt, e.g.
// completed, failed, cancelled or requeued.
func (m *Metrics) DownloadFinished(result string, bytes int64, seconds float64) {
	m.activeDownloads.Dec()
	m.downloadsTotal.WithLabelValues(result).Inc()
	if bytes > 0 {
		m.downloadBytes.Add(float64(bytes))
	}
	m.downloadSeconds.Observe(seconds)
}

// ExtractionFinished records the outcome of one extraction attempt and
// the number of security violations it reported.
func (m *Metrics) ExtractionFinished(result string, violations int) {
	m.extractionsTotal.WithLabelValues(result).Inc()
	if violations > 0 {
		m.violationsTotal.Add(float64(violations))
	}
}

// ObserveEntrySize records the uncompressed size of one extracted entry.
func (m *Metrics) ObserveEntrySize(bytes int64) {
	m.entrySizeBytes.Observe(float64(bytes))
}

// FilesInventoried adds n processed files to the inventory counter.
func (m *Metrics) FilesInventoried(n int) {
	if n > 0 {
		m.filesInventoried.Add(float64(n))
	}
}
