package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsAreIndependent(t *testing.T) {
	// Two collectors with the same namespace must not clash on registration
	a := NewCollector("worldping")
	b := NewCollector("worldping")

	a.RecordProbeMatched()
	a.RecordProbeMatched()
	b.RecordProbeUnmatched()

	assert.Equal(t, 2.0, testutil.ToFloat64(a.probesTotal.WithLabelValues("matched")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.probesTotal.WithLabelValues("matched")))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.probesTotal.WithLabelValues("unmatched")))
}

func TestRecordWorldLatency(t *testing.T) {
	c := NewCollector("worldping")

	c.RecordWorldLatency(42, 12.5)
	c.RecordWorldLatency(42, 10.0)
	c.SetBestLatency(10.0)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.recordsTotal))
	assert.Equal(t, 10.0, testutil.ToFloat64(c.worldLatency.WithLabelValues("42")))
	assert.Equal(t, 10.0, testutil.ToFloat64(c.bestLatency))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector("worldping")
	c.SetTargets(128)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "worldping_targets 128")
}
