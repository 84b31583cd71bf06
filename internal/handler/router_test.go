package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/boddenberg/commission-tracker-go/internal/commission"
	"github.com/boddenberg/commission-tracker-go/internal/domain"
	"github.com/boddenberg/commission-tracker-go/internal/handler"
	"github.com/boddenberg/commission-tracker-go/internal/infra/cache"
	"github.com/boddenberg/commission-tracker-go/internal/infra/observability"
	"github.com/boddenberg/commission-tracker-go/internal/infra/resilience"
	"github.com/boddenberg/commission-tracker-go/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- Fakes ---

type fakeSource struct {
	err error
}

func (f *fakeSource) ListTransactions(_ context.Context, _ domain.Period) ([]domain.Transaction, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []domain.Transaction{
		{ID: "t1", AccountID: "A1", PrimaryVolume: domain.ParseNumeric("1000"), NetPayout: domain.ParseNumeric("75")},
		{ID: "t2", AccountID: "A1", PrimaryVolume: domain.ParseNumeric("500"), NetPayout: domain.ParseNumeric("25")},
	}, nil
}

func (f *fakeSource) ListAssignments(_ context.Context) ([]domain.Assignment, error) {
	return []domain.Assignment{
		{ID: "as-1", LocationID: "loc-1", AgentName: "Jane Doe", Rate: domain.ParseNumeric("0.75"), IsActive: true},
		{ID: "as-2", LocationID: "loc-1", AgentName: "HouseParty", IsActive: true},
	}, nil
}

func (f *fakeSource) ListLocations(_ context.Context) ([]domain.Location, error) {
	return []domain.Location{{ID: "loc-1", AccountID: "A1", Name: "Main St"}}, nil
}

type fakeSink struct{ saved int }

func (f *fakeSink) SaveCommissionRun(_ context.Context, _ *domain.CommissionRun) error {
	f.saved++
	return nil
}

func newRouter(t *testing.T, src *fakeSource, opts handler.Options, svcOpts ...service.Option) http.Handler {
	t.Helper()
	allocator, err := commission.NewAllocator("HouseParty", zap.NewNop())
	require.NoError(t, err)
	c := cache.New[*domain.CommissionReport](time.Minute)
	t.Cleanup(func() { _ = c.Close() })

	metrics := observability.NewMetrics()
	svcOpts = append(svcOpts, service.WithClock(func() time.Time {
		return time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)
	}))
	svc := service.NewCommissionService(src, c, allocator, metrics, resilience.NewBulkhead(4), zap.NewNop(), svcOpts...)
	return handler.NewRouter(svc, metrics, zap.NewNop(), opts)
}

func do(router http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// --- Probes ---

func TestProbes(t *testing.T) {
	router := newRouter(t, &fakeSource{}, handler.Options{})

	for _, path := range []string{"/healthz", "/readyz", "/metrics", "/ping"} {
		rec := do(router, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

// --- Commission API ---

func TestGetCommissions(t *testing.T) {
	router := newRouter(t, &fakeSource{}, handler.Options{})

	rec := do(router, http.MethodGet, "/v1/commissions?from=2024-01-01&to=2024-02-01", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var report struct {
		Records []struct {
			AgentName       string `json:"agent_name"`
			BpsRate         int64  `json:"bps_rate"`
			ExplicitPayout  string `json:"explicit_payout"`
			RemainderPayout string `json:"remainder_payout"`
		} `json:"records"`
		Summaries []json.RawMessage `json:"summaries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Len(t, report.Records, 2)
	assert.Equal(t, "Jane Doe", report.Records[0].AgentName)
	assert.Equal(t, int64(75), report.Records[0].BpsRate)
	assert.Equal(t, "11.25", report.Records[0].ExplicitPayout)
	assert.Equal(t, "88.75", report.Records[1].RemainderPayout)
	assert.Equal(t, int64(592), report.Records[1].BpsRate)
	assert.Len(t, report.Summaries, 2)
}

func TestGetCommissions_ValidationErrors(t *testing.T) {
	router := newRouter(t, &fakeSource{}, handler.Options{})

	tests := []struct {
		target string
		field  string
	}{
		{"/v1/commissions?from=01-01-2024", "from"},
		{"/v1/commissions?from=2024-02-01&to=2024-01-01", "period"},
		{"/v1/commissions?refresh=maybe", "refresh"},
		{"/v1/dashboard?top=0", "top"},
		{"/v1/dashboard?top=51", "top"},
		{"/v1/dashboard?top=many", "top"},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := do(router, http.MethodGet, tt.target, "")
			require.Equal(t, http.StatusBadRequest, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.field, body["field"])
		})
	}
}

func TestGetCommissions_UpstreamError(t *testing.T) {
	src := &fakeSource{err: &domain.ErrExternalService{Service: "supabase/transactions", Err: errors.New("boom")}}
	router := newRouter(t, src, handler.Options{})

	rec := do(router, http.MethodGet, "/v1/commissions", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestAgentSummary(t *testing.T) {
	router := newRouter(t, &fakeSource{}, handler.Options{})

	rec := do(router, http.MethodGet, "/v1/commissions/agents/jane%20doe?from=2024-01-01", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary struct {
		AgentName       string `json:"agent_name"`
		TotalCommission string `json:"total_commission"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, "Jane Doe", summary.AgentName)
	assert.Equal(t, "11.25", summary.TotalCommission)

	rec = do(router, http.MethodGet, "/v1/commissions/agents/nobody", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(router, http.MethodGet, "/v1/commissions/agents", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDashboard(t *testing.T) {
	router := newRouter(t, &fakeSource{}, handler.Options{})

	rec := do(router, http.MethodGet, "/v1/dashboard?top=1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats struct {
		TotalVolume       string            `json:"total_volume"`
		TotalCommission   string            `json:"total_commission"`
		TopAgentsByVolume []json.RawMessage `json:"top_agents_by_volume"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, "1500", stats.TotalVolume)
	assert.Equal(t, "100", stats.TotalCommission)
	assert.Len(t, stats.TopAgentsByVolume, 1)
}

func TestCreateRun(t *testing.T) {
	sink := &fakeSink{}
	router := newRouter(t, &fakeSource{}, handler.Options{}, service.WithSink(sink))

	rec := do(router, http.MethodPost, "/v1/commission-runs", `{"from":"2024-01-01","to":"2024-02-01"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, sink.saved)

	var run struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.NotEmpty(t, run.ID)

	rec = do(router, http.MethodPost, "/v1/commission-runs", `{"to":"2024-02-01"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodPost, "/v1/commission-runs", `{"from":"2024-01-01","extra":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateRun_NoSink(t *testing.T) {
	router := newRouter(t, &fakeSource{}, handler.Options{})

	rec := do(router, http.MethodPost, "/v1/commission-runs", `{"from":"2024-01-01"}`)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestNormalizeRate(t *testing.T) {
	router := newRouter(t, &fakeSource{}, handler.Options{})

	rec := do(router, http.MethodGet, "/v1/rates/normalize?rate=0.75", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var preview domain.RatePreview
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &preview))
	assert.Equal(t, "decimal_bps", preview.Encoding)
	assert.Equal(t, int64(75), preview.DisplayBps)

	rec = do(router, http.MethodGet, "/v1/rates/normalize?rate=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAllocatorMetrics(t *testing.T) {
	router := newRouter(t, &fakeSource{}, handler.Options{})
	do(router, http.MethodGet, "/v1/commissions", "")

	rec := do(router, http.MethodGet, "/v1/metrics/allocator", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap domain.AllocatorMetrics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, int64(1), snap.Computations)
	assert.Equal(t, int64(2), snap.RecordsEmitted)
}

// --- Surface middleware ---

func TestRateLimit(t *testing.T) {
	router := newRouter(t, &fakeSource{}, handler.Options{RateLimitRPS: 0.001, RateLimitBurst: 2})

	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/v1/rates/normalize?rate=1", "").Code)
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/v1/rates/normalize?rate=1", "").Code)
	rec := do(router, http.MethodGet, "/v1/rates/normalize?rate=1", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Probes are not limited.
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/healthz", "").Code)
}

func TestCORSPreflight(t *testing.T) {
	router := newRouter(t, &fakeSource{}, handler.Options{CORSOrigins: []string{"https://dash.example"}})

	req := httptest.NewRequest(http.MethodOptions, "/v1/commissions", nil)
	req.Header.Set("Origin", "https://dash.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "https://dash.example", rec.Header().Get("Access-Control-Allow-Origin"))
}
