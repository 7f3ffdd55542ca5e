package metrics

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "llmer"

	defaultReadHeaderTimeout = 10 * time.Second
)

type counterDesc struct {
	desc  *prometheus.Desc
	value func(Snapshot) int64
}

// counterSpecs lists the exported counters in registration order.
var counterSpecs = []struct {
	name  string
	help  string
	value func(Snapshot) int64
}{
	{"sessions_started_total", "Accepted connections.", func(s Snapshot) int64 { return s.SessionsStarted }},
	{"sessions_closed_total", "Sessions that ended cleanly.", func(s Snapshot) int64 { return s.SessionsClosed }},
	{"sessions_failed_total", "Sessions that ended with an error.", func(s Snapshot) int64 { return s.SessionsFailed }},
	{"connections_rejected_total", "Connections refused by the connection limit.", func(s Snapshot) int64 { return s.ConnectionsRejected }},
	{"frames_received_total", "Inbound frames decoded.", func(s Snapshot) int64 { return s.FramesReceived }},
	{"frames_sent_total", "Outbound frames written.", func(s Snapshot) int64 { return s.FramesSent }},
	{"protocol_errors_total", "Malformed or truncated inbound frames.", func(s Snapshot) int64 { return s.ProtocolErrors }},
	{"write_errors_total", "Failed outbound writes.", func(s Snapshot) int64 { return s.WriteErrors }},
	{"images_received_total", "Stored image uploads.", func(s Snapshot) int64 { return s.ImagesReceived }},
	{"cycles_completed_total", "Completed generation cycles.", func(s Snapshot) int64 { return s.CyclesCompleted }},
	{"backend_errors_total", "Backend submission or stream failures.", func(s Snapshot) int64 { return s.BackendErrors }},
	{"command_parse_errors_total", "Command sentences without a command name.", func(s Snapshot) int64 { return s.CommandParseErrs }},
	{"stats_write_success_total", "Persisted cycle records.", func(s Snapshot) int64 { return s.StatsWriteSuccess }},
	{"stats_write_failure_total", "Cycle records that failed to persist.", func(s Snapshot) int64 { return s.StatsWriteFailure }},
}

// PrometheusCollector exposes a Collector's counters to a Prometheus
// registry. Values are read from a fresh Snapshot on every scrape.
type PrometheusCollector struct {
	source    *Collector
	counters  []counterDesc
	sentences *prometheus.Desc
}

var _ prometheus.Collector = (*PrometheusCollector)(nil)

// NewPrometheusCollector wraps a Collector. The collector's dimensions
// become constant labels.
func NewPrometheusCollector(source *Collector) *PrometheusCollector {
	snap := source.Snapshot()
	constLabels := prometheus.Labels{
		"model":           snap.Model,
		"storage_backend": snap.StorageBackend,
	}

	counters := make([]counterDesc, len(counterSpecs))
	for i, spec := range counterSpecs {
		counters[i] = counterDesc{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "", spec.name), spec.help, nil, constLabels),
			value: spec.value,
		}
	}

	return &PrometheusCollector{
		source:   source,
		counters: counters,
		sentences: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "sentences_emitted_total"),
			"Emitted sentences by outbound type code.",
			[]string{"code"},
			constLabels,
		),
	}
}

// Describe implements prometheus.Collector.
func (p *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range p.counters {
		ch <- c.desc
	}
	ch <- p.sentences
}

// Collect implements prometheus.Collector.
func (p *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	snap := p.source.Snapshot()
	for _, c := range p.counters {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(c.value(snap)))
	}
	for code, n := range snap.SentencesByCode {
		ch <- prometheus.MustNewConstMetric(p.sentences, prometheus.CounterValue, float64(n), strconv.Itoa(int(code)))
	}
}

// Exporter serves Prometheus metrics over HTTP.
type Exporter struct {
	addr     string
	server   *http.Server
	registry *prometheus.Registry
	mu       sync.Mutex
	started  bool
}

// NewExporter creates an exporter for the collector plus Go runtime and
// process metrics.
func NewExporter(addr string, source *Collector) *Exporter {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewPrometheusCollector(source))
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Exporter{
		addr:     addr,
		registry: reg,
	}
}

// Handler returns the mux serving /metrics and /health.
func (e *Exporter) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Start serves until Shutdown. Returns http.ErrServerClosed after a
// graceful shutdown.
func (e *Exporter) Start() error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.server = &http.Server{
		Addr:              e.addr,
		Handler:           e.Handler(),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}
	e.started = true
	e.mu.Unlock()

	return e.server.ListenAndServe()
}

// Shutdown gracefully stops the exporter.
func (e *Exporter) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.server != nil && e.started {
		e.started = false
		return e.server.Shutdown(ctx)
	}
	return nil
}
