package telemetry

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

	"github.com/kvlat/kvlat/internal/bench"
	"github.com/kvlat/kvlat/internal/latency"
)

func TestRecorder_CountsSamplesAndFailures(t *testing.T) {
	r := NewRecorder("test-recorder")

	for i := 0; i < 3; i++ {
		r.OnSample(bench.PhaseWrite, latency.Sample{Op: latency.OpWrite, Duration: time.Microsecond})
	}
	r.OnSample(bench.PhaseMixed, latency.Sample{Op: latency.OpRead, Duration: 2 * time.Microsecond})
	r.OnFailure(bench.PhaseRead, latency.OpRead, errors.New("boom"))

	assert.Equal(t, 3.0, testutil.ToFloat64(OpsTotal.WithLabelValues("test-recorder", "write", "write", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(OpsTotal.WithLabelValues("test-recorder", "mixed", "read", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(OpsTotal.WithLabelValues("test-recorder", "read", "read", "error")))
}

func TestMetricsHandler_ServesHistogram(t *testing.T) {
	SetBuildInfo("test", "abc123")
	NewRecorder("test-handler").OnSample(bench.PhaseRead, latency.Sample{Op: latency.OpRead, Duration: time.Millisecond})

	srv := httptest.NewServer(MetricsHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(raw)

	assert.Contains(t, body, `kvlat_op_duration_seconds_count{backend="test-handler",op="read",phase="read"} 1`)
	assert.Contains(t, body, `kvlat_build_info{git_sha="abc123",version="test"} 1`)
}
