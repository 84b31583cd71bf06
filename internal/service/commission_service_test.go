package service_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/commission-tracker-go/internal/commission"
	"github.com/boddenberg/commission-tracker-go/internal/domain"
	"github.com/boddenberg/commission-tracker-go/internal/infra/cache"
	"github.com/boddenberg/commission-tracker-go/internal/infra/observability"
	"github.com/boddenberg/commission-tracker-go/internal/infra/resilience"
	"github.com/boddenberg/commission-tracker-go/internal/service"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- Mocks ---

type mockSource struct {
	transactions []domain.Transaction
	assignments  []domain.Assignment
	locations    []domain.Location
	txErr        error
	pingErr      error
	calls        atomic.Int32
	lastPeriod   domain.Period
}

func (m *mockSource) ListTransactions(_ context.Context, p domain.Period) ([]domain.Transaction, error) {
	m.calls.Add(1)
	m.lastPeriod = p
	return m.transactions, m.txErr
}

func (m *mockSource) ListAssignments(_ context.Context) ([]domain.Assignment, error) {
	return m.assignments, nil
}

func (m *mockSource) ListLocations(_ context.Context) ([]domain.Location, error) {
	return m.locations, nil
}

func (m *mockSource) Ping(_ context.Context) error { return m.pingErr }

type mockSink struct {
	runs []*domain.CommissionRun
	err  error
}

func (m *mockSink) SaveCommissionRun(_ context.Context, run *domain.CommissionRun) error {
	if m.err != nil {
		return m.err
	}
	m.runs = append(m.runs, run)
	return nil
}

// --- Fixtures ---

var (
	january  = domain.MonthPeriod(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	fixedNow = time.Date(2024, 1, 20, 12, 0, 0, 0, time.UTC)
)

func exampleSource() *mockSource {
	return &mockSource{
		transactions: []domain.Transaction{
			{ID: "t1", AccountID: "A1", PrimaryVolume: domain.ParseNumeric("1000"), NetPayout: domain.ParseNumeric("75")},
			{ID: "t2", AccountID: "A1", PrimaryVolume: domain.ParseNumeric("500"), NetPayout: domain.ParseNumeric("25")},
			{ID: "t3", AccountID: "B2-000777", PrimaryVolume: domain.ParseNumeric("4000"), NetPayout: domain.ParseNumeric("40")},
		},
		assignments: []domain.Assignment{
			{ID: "as-1", LocationID: "loc-1", AgentName: "Jane", Rate: domain.ParseNumeric("0.75"), IsActive: true},
			{ID: "as-2", LocationID: "loc-1", AgentName: "HouseParty", IsActive: true},
			{ID: "as-3", LocationID: "loc-2", AgentName: "Bob", Rate: domain.ParseNumeric("50"), IsActive: true},
		},
		locations: []domain.Location{
			{ID: "loc-1", AccountID: "A1", Name: "Main St"},
			{ID: "loc-2", AccountID: "000777", Name: "Harbor"},
		},
	}
}

func newService(t *testing.T, src *mockSource, opts ...service.Option) (*service.CommissionService, *observability.Metrics) {
	t.Helper()
	allocator, err := commission.NewAllocator("HouseParty", zap.NewNop())
	require.NoError(t, err)

	c := cache.New[*domain.CommissionReport](time.Minute)
	t.Cleanup(func() { _ = c.Close() })

	metrics := observability.NewMetrics()
	opts = append([]service.Option{service.WithClock(func() time.Time { return fixedNow })}, opts...)
	svc := service.NewCommissionService(src, c, allocator, metrics, resilience.NewBulkhead(2), zap.NewNop(), opts...)
	return svc, metrics
}

// --- Tests ---

func TestReport_ComputesAndCaches(t *testing.T) {
	src := exampleSource()
	svc, metrics := newService(t, src)

	report, err := svc.Report(context.Background(), january, false)
	require.NoError(t, err)

	require.Len(t, report.Records, 2)
	assert.Equal(t, "Jane", report.Records[0].AgentName)
	assert.True(t, report.Records[0].ExplicitPayout.Equal(decimal.RequireFromString("11.25")))
	assert.True(t, report.Records[1].RemainderPayout.Equal(decimal.RequireFromString("88.75")))
	assert.Equal(t, 1, report.Diagnostics.UnmatchedLocations)
	assert.Equal(t, fixedNow, report.GeneratedAt)
	assert.Equal(t, january, src.lastPeriod)

	again, err := svc.Report(context.Background(), january, false)
	require.NoError(t, err)
	assert.Same(t, report, again)
	assert.Equal(t, int32(1), src.calls.Load())

	_, err = svc.Report(context.Background(), january, true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())

	snap := metrics.GetAllocatorSnapshot()
	assert.Equal(t, int64(2), snap.Computations)
	assert.InDelta(t, 0.5, snap.CacheHitRate, 1e-9)
}

func TestReport_AccountRepair(t *testing.T) {
	svc, _ := newService(t, exampleSource(), service.WithAccountRepair(6))

	report, err := svc.Report(context.Background(), january, false)
	require.NoError(t, err)

	require.Len(t, report.Records, 3)
	assert.Equal(t, 1, report.Diagnostics.RepairedLocations)
	assert.Equal(t, 0, report.Diagnostics.UnmatchedLocations)

	var bob *domain.CommissionRecord
	for i := range report.Records {
		if report.Records[i].AgentName == "Bob" {
			bob = &report.Records[i]
		}
	}
	require.NotNil(t, bob)
	assert.Equal(t, "B2-000777", bob.AccountID)
	assert.True(t, bob.ExplicitPayout.Equal(decimal.NewFromInt(20)))
}

func TestReport_SourceError(t *testing.T) {
	src := exampleSource()
	src.txErr = &domain.ErrExternalService{Service: "supabase/transactions", Err: errors.New("down")}
	svc, _ := newService(t, src)

	_, err := svc.Report(context.Background(), january, false)

	var ext *domain.ErrExternalService
	require.ErrorAs(t, err, &ext)
}

func TestReport_InvalidPeriod(t *testing.T) {
	svc, _ := newService(t, exampleSource())

	_, err := svc.Report(context.Background(), domain.Period{From: january.To, To: january.From}, false)

	var validation *domain.ErrValidation
	require.ErrorAs(t, err, &validation)
}

func TestReport_CancelledContext(t *testing.T) {
	svc, _ := newService(t, exampleSource())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Report(ctx, january, false)
	require.ErrorIs(t, err, context.Canceled)
}

func TestAgentSummary(t *testing.T) {
	svc, _ := newService(t, exampleSource())

	summary, err := svc.AgentSummary(context.Background(), january, "  houseparty ")
	require.NoError(t, err)
	assert.Equal(t, "HouseParty", summary.AgentName)
	assert.True(t, summary.IsRemainder)
	assert.True(t, summary.TotalCommission.Equal(decimal.RequireFromString("88.75")))

	_, err = svc.AgentSummary(context.Background(), january, "Nobody")
	var notFound *domain.ErrNotFound
	require.ErrorAs(t, err, &notFound)
}

func TestAgentSummaries_SortedByCommission(t *testing.T) {
	svc, _ := newService(t, exampleSource())

	summaries, err := svc.AgentSummaries(context.Background(), january)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "HouseParty", summaries[0].AgentName)
	assert.Equal(t, "Jane", summaries[1].AgentName)
}

func TestDashboard(t *testing.T) {
	svc, _ := newService(t, exampleSource())

	stats, err := svc.Dashboard(context.Background(), january, 1)
	require.NoError(t, err)

	assert.True(t, stats.TotalVolume.Equal(decimal.NewFromInt(1500)))
	assert.True(t, stats.TotalCommission.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 1, stats.LocationCount)
	assert.Len(t, stats.TopAgentsByVolume, 1)
}

func TestCreateRun(t *testing.T) {
	src := exampleSource()
	sink := &mockSink{}
	svc, _ := newService(t, src, service.WithSink(sink))

	_, err := svc.Report(context.Background(), january, false)
	require.NoError(t, err)

	run, err := svc.CreateRun(context.Background(), january)
	require.NoError(t, err)

	require.Len(t, sink.runs, 1)
	assert.Equal(t, run, sink.runs[0])
	assert.Len(t, run.ID, 36)
	assert.Len(t, run.Records, 2)
	assert.Equal(t, fixedNow, run.CreatedAt)
	// A run always recomputes.
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestCreateRun_NoSink(t *testing.T) {
	svc, _ := newService(t, exampleSource())

	_, err := svc.CreateRun(context.Background(), january)

	var unavailable *domain.ErrUnavailable
	require.ErrorAs(t, err, &unavailable)
}

func TestCreateRun_SinkError(t *testing.T) {
	svc, _ := newService(t, exampleSource(), service.WithSink(&mockSink{err: errors.New("insert failed")}))

	_, err := svc.CreateRun(context.Background(), january)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert failed")
}

func TestPreviewRate(t *testing.T) {
	svc, _ := newService(t, exampleSource())

	preview, err := svc.PreviewRate("7500")
	require.NoError(t, err)
	assert.Equal(t, string(commission.EncodingScaledBps), preview.Encoding)
	assert.Equal(t, int64(75), preview.DisplayBps)
	assert.Equal(t, "0.0075", preview.Multiplier)

	for _, raw := range []string{"", "abc", "-1"} {
		_, err := svc.PreviewRate(raw)
		var validation *domain.ErrValidation
		assert.ErrorAs(t, err, &validation, "raw %q", raw)
	}
}

func TestHealth(t *testing.T) {
	src := exampleSource()
	svc, _ := newService(t, src)

	status := svc.Health(context.Background())
	assert.Equal(t, "healthy", status.Status)
	require.Len(t, status.Services, 2)
	assert.Equal(t, "datastore", status.Services[1].Name)

	src.pingErr = errors.New("connection refused")
	status = svc.Health(context.Background())
	assert.Equal(t, "degraded", status.Status)
	assert.Equal(t, "connection refused", status.Services[1].Error)
}
