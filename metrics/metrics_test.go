package metrics_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/metrics"
)

func TestCollector_RecordJobRun(t *testing.T) {
	c := metrics.New("")
	start := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)

	c.RecordJobRun(billing.RunReport{
		Job: billing.JobGenerateInvoices, Generated: 3, Skipped: 1,
		StartedAt: start, FinishedAt: start.Add(2 * time.Second),
	}, nil)
	c.RecordJobRun(billing.RunReport{Job: billing.JobGenerateInvoices, StartedAt: start, FinishedAt: start}, errors.New("boom"))
	c.RecordJobOverlap(billing.JobGenerateInvoices)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.JobRuns.WithLabelValues(billing.JobGenerateInvoices, metrics.StatusOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.JobRuns.WithLabelValues(billing.JobGenerateInvoices, metrics.StatusError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.JobRuns.WithLabelValues(billing.JobGenerateInvoices, metrics.StatusOverlap)))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.JobItems.WithLabelValues(billing.JobGenerateInvoices, "generated")))
	assert.Equal(t, float64(start.Add(2*time.Second).Unix()), testutil.ToFloat64(c.JobLastSuccess.WithLabelValues(billing.JobGenerateInvoices)))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *metrics.Collector
	assert.NotPanics(t, func() {
		c.RecordJobRun(billing.RunReport{Job: "x"}, nil)
		c.RecordJobOverlap("x")
		c.RecordSession("created")
		c.RecordWebhook("completed")
		c.RecordHTTPRequest("GET", "/", 200, time.Millisecond)
	})
}

func TestCollector_Handler(t *testing.T) {
	c := metrics.New("billing")
	c.RecordWebhook("completed")

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `billing_webhook_events_total{outcome="completed"} 1`)
}
