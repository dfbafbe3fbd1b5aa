package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.ConnectionOpened()
	c.ConnectionClosed()
	c.RequestHandled("connect", "ok")
	c.DialAttempt("direct", "ok")
	c.ProbeCompleted("direct", "success", time.Second)
	c.ProbeCycle("saved")
	c.RouteLookup("miss")
}

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()
	c.ConnectionOpened()
	c.ConnectionOpened()
	c.ConnectionClosed()
	c.RouteLookup("miss")
	c.RouteLookup("miss")
	c.RouteLookup("fresh")
	c.DialAttempt("tunnel", "connect_error")

	if got := testutil.ToFloat64(c.connectionsActive); got != 1 {
		t.Errorf("connections active = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.connectionsTotal); got != 2 {
		t.Errorf("connections total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.routeLookupsTotal.WithLabelValues("miss")); got != 2 {
		t.Errorf("route lookups miss = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.dialAttemptsTotal.WithLabelValues("tunnel", "connect_error")); got != 1 {
		t.Errorf("dial attempts = %v, want 1", got)
	}
}

func TestCollectorHandler(t *testing.T) {
	c := NewCollector()
	c.ProbeCycle("saved")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `adaptive_proxy_probe_cycles_total{outcome="saved"} 1`) {
		t.Errorf("metrics output missing probe cycle counter:\n%s", body)
	}
}
