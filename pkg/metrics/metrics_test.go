package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.RecordRequest("POST", 201, 10*time.Millisecond)
	c.RecordRequest("POST", 201, 20*time.Millisecond)
	c.RecordRequest("GET", 404, time.Millisecond)
	c.RecordBatchCommand("PUT")
	c.RecordBatchCommand("PUT")
	c.RecordBatchCommand("DELETE")
	c.SessionOpened()
	c.SessionOpened()
	c.SessionClosed()
	c.RecordLazyRoundTrip()

	assert.Equal(t, float64(2), testutil.ToFloat64(c.requestsTotal.WithLabelValues("POST", "201")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.requestsTotal.WithLabelValues("GET", "404")))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.batchCommands.WithLabelValues("PUT")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.sessionsOpen))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.sessionsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.lazyRoundTrips))

	count, err := testutil.GatherAndCount(reg, "ravendb_client_request_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestNilCollectorsAreSafe(t *testing.T) {
	var c *Collectors
	assert.NotPanics(t, func() {
		c.RecordRequest("GET", 200, time.Second)
		c.RecordBatchCommand("PUT")
		c.SessionOpened()
		c.SessionClosed()
		c.RecordLazyRoundTrip()
	})
}

func TestUnregistered(t *testing.T) {
	c := New(nil)
	c.SessionOpened()
	assert.Equal(t, float64(1), testutil.ToFloat64(c.sessionsTotal))
}
