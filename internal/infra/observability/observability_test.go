package observability_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/boddenberg/commission-tracker-go/internal/domain"
	"github.com/boddenberg/commission-tracker-go/internal/infra/observability"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_AllocatorSnapshot(t *testing.T) {
	m := observability.NewMetrics()

	diag := &domain.Diagnostics{ZeroVolumeSkipped: 3, InvalidRates: 1}
	m.RecordComputation(4, diag)
	m.RecordComputation(2, &domain.Diagnostics{ZeroVolumeSkipped: 1})
	m.IncrCacheHit("report")
	m.IncrCacheMiss("report")
	m.IncrCacheMiss("report")
	m.IncrCacheMiss("report")

	snap := m.GetAllocatorSnapshot()

	assert.Equal(t, int64(2), snap.Computations)
	assert.Equal(t, int64(6), snap.RecordsEmitted)
	assert.InDelta(t, 0.25, snap.CacheHitRate, 1e-9)
	assert.Equal(t, int64(4), snap.Anomalies["zero_volume"])
	assert.Equal(t, int64(1), snap.Anomalies["invalid_rate"])
	assert.Equal(t, int64(0), snap.Anomalies["orphan_assignment"])
}

func TestMetrics_NewMetricsTwice(t *testing.T) {
	// Private registries never collide.
	observability.NewMetrics()
	m := observability.NewMetrics()
	m.IncrExternalError("supabase")

	n, err := testutil.GatherAndCount(m.Registry, "commission_external_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMetrics_HTTPMiddleware(t *testing.T) {
	m := observability.NewMetrics()
	h := m.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	expected := `
# HELP commission_http_requests_total HTTP requests by status code.
# TYPE commission_http_requests_total counter
commission_http_requests_total{code="418"} 1
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry, strings.NewReader(expected), "commission_http_requests_total"))
}

func TestNewLogger_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commission.log")
	logger := observability.NewLogger("info", path)

	logger.Info("allocation finished")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "allocation finished")
}

func TestInitTracer_NoEndpoint(t *testing.T) {
	shutdown, err := observability.InitTracer(context.Background(), "", "commission-test")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
