// ABOUTME: Tests for the Prometheus collector.
// ABOUTME: Checks observer hooks, request counting, and the exposition handler.

package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_Queries(t *testing.T) {
	c := New()

	c.OnWindow(2*time.Millisecond, 10, 20, nil)
	c.OnWindow(time.Millisecond, 0, 5, nil)
	c.OnSearch(time.Millisecond, 3, true, nil)
	c.OnSearch(time.Millisecond, 0, false, errors.New("locked"))

	if got := testutil.ToFloat64(c.rowsServed.WithLabelValues("persisted")); got != 10 {
		t.Errorf("persisted rows = %v, want 10", got)
	}
	if got := testutil.ToFloat64(c.rowsServed.WithLabelValues("synthesized")); got != 25 {
		t.Errorf("synthesized rows = %v, want 25", got)
	}
	if got := testutil.ToFloat64(c.searchShared); got != 1 {
		t.Errorf("shared searches = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(c.queryLatency); n != 3 {
		t.Errorf("latency series = %d, want 3 (window/success, search/success, search/error)", n)
	}
}

func TestCollector_Chunks(t *testing.T) {
	c := New()
	c.OnChunk(time.Millisecond, 1000, nil)
	c.OnChunk(time.Millisecond, 1000, nil)
	c.OnChunk(time.Millisecond, 500, errors.New("disk full"))

	if got := testutil.ToFloat64(c.ingested); got != 2000 {
		t.Errorf("ingested = %v, want 2000", got)
	}
	if got := testutil.ToFloat64(c.chunks.WithLabelValues("error")); got != 1 {
		t.Errorf("failed chunks = %v, want 1", got)
	}
	want := IngestSummary{Chunks: 2, Failed: 1, Records: 2000}
	if got := c.IngestSummary(); got != want {
		t.Errorf("IngestSummary() = %+v, want %+v", got, want)
	}
}

func TestCollector_MiddlewareAndHandler(t *testing.T) {
	c := New()
	h := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fail") != "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte("ok"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/records", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/records?fail=1", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/records", nil))

	if got := testutil.ToFloat64(c.requests.WithLabelValues("records", "200")); got != 2 {
		t.Errorf("records 200 = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.requests.WithLabelValues("records", "400")); got != 1 {
		t.Errorf("records 400 = %v, want 1", got)
	}

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "megatable_http_requests_total") {
		t.Error("exposition missing megatable_http_requests_total")
	}
}
