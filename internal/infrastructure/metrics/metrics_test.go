package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New("test")

	m.ObserveRequest("GET", "ok")
	m.ObserveRequest("GET", "ok")
	m.ObserveRequest("POST", "NOT_FOUND")
	m.ObserveRefresh(RefreshSucceeded)
	m.ObserveRefresh(RefreshCoalesced)
	m.ObserveReplay()
	m.ObserveTermination("INVALID_REFRESH_TOKEN")
	m.ObserveCacheLookup("tutors", true)
	m.ObserveCacheLookup("tutors", false)
	m.ObserveCacheLookup("tutors", false)
	m.ObserveRoundTrip("GET", 15*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("POST", "NOT_FOUND")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshTotal.WithLabelValues(RefreshSucceeded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.replaysTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.terminationsTotal.WithLabelValues("INVALID_REFRESH_TOKEN")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("tutors", "miss")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.requestDuration))
}

func TestMetrics_NilReceiverIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("GET", "ok")
		m.ObserveRefresh(RefreshFailed)
		m.ObserveReplay()
		m.ObserveTermination("x")
		m.ObserveCacheLookup("users", true)
		m.ObserveRoundTrip("GET", time.Second)
	})
}

func TestMetrics_Serve(t *testing.T) {
	m := New("adminctl")
	m.ObserveReplay()

	addr, err := m.Serve("127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = m.Shutdown(context.Background()) }()

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "adminctl_request_replays_total 1"))
}
