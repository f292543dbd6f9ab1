package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripwise/relay/internal/config"
)

func newTestCollector() *Collector {
	return NewCollector(config.MetricsConfig{Namespace: "tripwise"}, nil)
}

func TestObserveHTTP(t *testing.T) {
	c := newTestCollector()

	c.ObserveHTTP("/chat", "POST", 200, 15*time.Millisecond)
	c.ObserveHTTP("/chat", "POST", 200, 20*time.Millisecond)
	c.ObserveHTTP("/api/prompt", "POST", 400, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("/chat", "POST", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("/api/prompt", "POST", "400")))
}

func TestObserveUpstream(t *testing.T) {
	c := newTestCollector()

	c.ObserveUpstream("gpt-4o", time.Second, "")
	c.ObserveUpstream("gpt-4o", 2*time.Second, "timeout")
	c.ObserveUpstream("gpt-4o", time.Second, "status")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.upstreamRequests.WithLabelValues("gpt-4o", OutcomeSuccess)))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.upstreamRequests.WithLabelValues("gpt-4o", OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.upstreamErrors.WithLabelValues("timeout")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.upstreamLatency))
}

func TestObserveParseFailure(t *testing.T) {
	c := newTestCollector()

	c.ObserveParseFailure("/api/travel", "invalid_json")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.parseFailures.WithLabelValues("/api/travel", "invalid_json")))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector

	assert.NotPanics(t, func() {
		c.ObserveHTTP("/chat", "POST", 200, time.Millisecond)
		c.ObserveUpstream("gpt-4o", time.Millisecond, "")
		c.ObserveParseFailure("/api/travel", "invalid_json")
	})
	assert.Nil(t, c.Registry())
}

func TestHandler_ExposesMetrics(t *testing.T) {
	c := newTestCollector()
	c.ObserveUpstream("gpt-4o", time.Second, "")

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "tripwise_upstream_requests_total")
}
