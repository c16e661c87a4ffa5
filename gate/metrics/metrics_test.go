package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordArrival("challenged")
	m.RecordArrival("challenged")
	m.RecordArrival("bypassed")
	m.RecordSubmission("pending")
	m.RecordResolution("success")
	m.RecordDeliveryFailure("notify")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Arrivals.WithLabelValues("challenged")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Arrivals.WithLabelValues("bypassed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Submissions.WithLabelValues("pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Resolutions.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeliveryFailures.WithLabelValues("notify")))
}

func TestMetrics_RecordSweep(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordSweep(time.Millisecond, 2, 0)
	m.RecordSweep(time.Millisecond, 0, 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Sweeps))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Swept.WithLabelValues("timeout")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Swept.WithLabelValues("evicted")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.SweepDuration))
}

func TestMetrics_SetSessions(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.SetSessions(map[string]int{"pending": 4, "success": 1})
	assert.Equal(t, 4.0, testutil.ToFloat64(m.Sessions.WithLabelValues("pending")))

	// Statuses missing from the next update disappear.
	m.SetSessions(map[string]int{"success": 2})
	assert.Equal(t, 1, testutil.CollectAndCount(m.Sessions))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Sessions.WithLabelValues("success")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordArrival("challenged")
		m.RecordSubmission("success")
		m.RecordResolution("failed")
		m.RecordSweep(time.Second, 1, 1)
		m.RecordDeliveryFailure("disconnect")
		m.SetSessions(map[string]int{"pending": 1})
	})
}

func TestHandlerFor(t *testing.T) {
	reg, m := NewRegistry()
	m.RecordArrival("bypassed")

	srv := httptest.NewServer(HandlerFor(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `verifygate_arrivals_total{result="bypassed"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
