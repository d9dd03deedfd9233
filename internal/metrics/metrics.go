// ABOUTME: Prometheus collectors for queries, ingestion, and HTTP traffic.
// ABOUTME: Implements the query and ingest observer hooks and serves /metrics.

package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"github.com/2389/megatable/internal/logging"
)

// Collector owns a private registry so tests and multiple servers in one
// process never collide on registration.
type Collector struct {
	registry *prometheus.Registry

	queryLatency *prometheus.HistogramVec
	rowsServed   *prometheus.CounterVec
	searchShared prometheus.Counter
	chunks       *prometheus.CounterVec
	ingested     prometheus.Counter
	chunkLatency prometheus.Histogram
	requests     *prometheus.CounterVec
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		queryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "megatable_query_duration_seconds",
			Help:    "Query latency by mode and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode", "status"}),
		rowsServed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "megatable_rows_served_total",
			Help: "Rows returned by window queries, by origin.",
		}, []string{"source"}),
		searchShared: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "megatable_search_shared_total",
			Help: "Searches answered by joining an identical in-flight scan.",
		}),
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "megatable_ingest_chunks_total",
			Help: "Ingestion chunks by status.",
		}, []string{"status"}),
		ingested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "megatable_ingest_records_total",
			Help: "Records durably written by ingestion.",
		}),
		chunkLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "megatable_ingest_chunk_duration_seconds",
			Help:    "Time to commit one chunk, retries included.",
			Buckets: prometheus.DefBuckets,
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "megatable_http_requests_total",
			Help: "HTTP requests by API surface and status code.",
		}, []string{"surface", "code"}),
	}
	c.registry.MustRegister(
		c.queryLatency, c.rowsServed, c.searchShared,
		c.chunks, c.ingested, c.chunkLatency, c.requests,
		collectors.NewGoCollector(),
	)
	return c
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (c *Collector) OnWindow(d time.Duration, persisted, synthesized int, err error) {
	c.queryLatency.WithLabelValues("window", status(err)).Observe(d.Seconds())
	c.rowsServed.WithLabelValues("persisted").Add(float64(persisted))
	c.rowsServed.WithLabelValues("synthesized").Add(float64(synthesized))
}

func (c *Collector) OnSearch(d time.Duration, matches int, shared bool, err error) {
	c.queryLatency.WithLabelValues("search", status(err)).Observe(d.Seconds())
	if shared {
		c.searchShared.Inc()
	}
}

func (c *Collector) OnChunk(d time.Duration, records int, err error) {
	c.chunks.WithLabelValues(status(err)).Inc()
	c.chunkLatency.Observe(d.Seconds())
	if err == nil {
		c.ingested.Add(float64(records))
	}
}

// IngestSummary is a snapshot of the ingestion counters.
type IngestSummary struct {
	Chunks  int
	Failed  int
	Records int
}

func (c *Collector) IngestSummary() IngestSummary {
	return IngestSummary{
		Chunks:  int(counterValue(c.chunks.WithLabelValues("success"))),
		Failed:  int(counterValue(c.chunks.WithLabelValues("error"))),
		Records: int(counterValue(c.ingested)),
	}
}

func counterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack keeps websocket upgrades working behind the counter
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	r.code = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Middleware counts requests by surface and status code.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		c.requests.WithLabelValues(logging.SurfaceFromPath(r.URL.Path), strconv.Itoa(rec.code)).Inc()
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
