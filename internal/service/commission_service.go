package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/commission-tracker-go/internal/accountmatch"
	"github.com/boddenberg/commission-tracker-go/internal/commission"
	"github.com/boddenberg/commission-tracker-go/internal/domain"
	"github.com/boddenberg/commission-tracker-go/internal/infra/observability"
	"github.com/boddenberg/commission-tracker-go/internal/infra/resilience"
	"github.com/boddenberg/commission-tracker-go/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("service/commission")

const reportCache = "report"

// CommissionService fetches allocation inputs, runs the allocator and serves
// the results to the dashboard.
type CommissionService struct {
	source    port.CommissionSource
	sink      port.CommissionSink
	cache     port.Cache[*domain.CommissionReport]
	allocator *commission.Allocator
	metrics   *observability.Metrics
	bulkhead  *resilience.Bulkhead
	logger    *zap.Logger

	repairAccounts bool
	repairMinLen   int
	now            func() time.Time
}

// Option customizes a CommissionService.
type Option func(*CommissionService)

// WithSink enables commission run persistence.
func WithSink(sink port.CommissionSink) Option {
	return func(s *CommissionService) { s.sink = sink }
}

// WithAccountRepair rewrites drifted location account ids before allocation.
func WithAccountRepair(minLen int) Option {
	return func(s *CommissionService) {
		s.repairAccounts = true
		s.repairMinLen = minLen
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *CommissionService) { s.now = now }
}

// NewCommissionService creates the service with all dependencies injected.
func NewCommissionService(
	source port.CommissionSource,
	cache port.Cache[*domain.CommissionReport],
	allocator *commission.Allocator,
	metrics *observability.Metrics,
	bulkhead *resilience.Bulkhead,
	logger *zap.Logger,
	opts ...Option,
) *CommissionService {
	s := &CommissionService{
		source:    source,
		cache:     cache,
		allocator: allocator,
		metrics:   metrics,
		bulkhead:  bulkhead,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the service clock, used to default the reporting period.
func (s *CommissionService) Now() time.Time {
	return s.now()
}

// Report returns the commission report of period, served from cache unless
// refresh is set.
func (s *CommissionService) Report(ctx context.Context, period domain.Period, refresh bool) (*domain.CommissionReport, error) {
	// Bail out early if the caller already cancelled.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := period.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "CommissionService.Report")
	defer span.End()
	span.SetAttributes(
		attribute.String("period", period.Key()),
		attribute.Bool("refresh", refresh),
	)

	cacheKey := fmt.Sprintf("report:%s", period.Key())
	if !refresh {
		if cached, ok := s.cache.Get(cacheKey); ok && cached != nil {
			s.metrics.IncrCacheHit(reportCache)
			return cached, nil
		}
		s.metrics.IncrCacheMiss(reportCache)
	}

	var report *domain.CommissionReport
	err := s.bulkhead.Do(ctx, func() error {
		r, err := s.compute(ctx, period)
		report = r
		return err
	})
	if err != nil {
		s.metrics.IncrComputationError()
		return nil, err
	}

	s.cache.Set(cacheKey, report)
	return report, nil
}

func (s *CommissionService) compute(ctx context.Context, period domain.Period) (*domain.CommissionReport, error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordDuration("compute", time.Since(start))
	}()

	// --- Step 1: Fetch the three inputs concurrently ---
	var (
		txns        []domain.Transaction
		assignments []domain.Assignment
		locations   []domain.Location
	)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		t, err := s.source.ListTransactions(gCtx, period)
		if err != nil {
			return s.fetchFailed("transactions", period, err)
		}
		txns = t
		return nil
	})

	g.Go(func() error {
		a, err := s.source.ListAssignments(gCtx)
		if err != nil {
			return s.fetchFailed("assignments", period, err)
		}
		assignments = a
		return nil
	})

	g.Go(func() error {
		l, err := s.source.ListLocations(gCtx)
		if err != nil {
			return s.fetchFailed("locations", period, err)
		}
		locations = l
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// --- Step 2: Optional account id repair ---
	var matches []accountmatch.Match
	if s.repairAccounts {
		locations, matches = s.repair(locations, txns)
	}

	// --- Step 3: Allocate ---
	res := s.allocator.Compute(txns, assignments, locations)
	for _, m := range matches {
		if m.Repaired() {
			res.Diagnostics.RepairedLocations++
		}
	}
	summaries := commission.GroupByAgent(res.Records)

	s.metrics.RecordComputation(len(res.Records), &res.Diagnostics)
	s.logger.Info("commission report computed",
		zap.String("period", period.Key()),
		zap.Int("transactions", len(txns)),
		zap.Int("assignments", len(assignments)),
		zap.Int("locations", len(locations)),
		zap.Int("records", len(res.Records)),
		zap.Int("warnings", len(res.Diagnostics.Warnings)),
		zap.Duration("duration", time.Since(start)),
	)

	return &domain.CommissionReport{
		Period:      period,
		Records:     res.Records,
		Summaries:   summaries,
		Diagnostics: res.Diagnostics,
		GeneratedAt: s.now().UTC(),
	}, nil
}

func (s *CommissionService) fetchFailed(what string, period domain.Period, err error) error {
	s.logger.Error("failed to fetch "+what,
		zap.String("period", period.Key()),
		zap.Error(err),
	)
	s.metrics.IncrExternalError(what)
	return fmt.Errorf("%s fetch: %w", what, err)
}

func (s *CommissionService) repair(locations []domain.Location, txns []domain.Transaction) ([]domain.Location, []accountmatch.Match) {
	ids := make([]string, 0, len(txns))
	for _, t := range txns {
		ids = append(ids, t.AccountID)
	}
	repaired, matches := accountmatch.Repair(locations, ids, s.repairMinLen)
	for _, m := range matches {
		switch {
		case m.Repaired():
			s.logger.Info("location account id repaired",
				zap.String("location_id", m.LocationID),
				zap.String("from", m.Original),
				zap.String("to", m.Resolved),
				zap.String("kind", string(m.Kind)),
			)
		case m.Kind == accountmatch.KindAmbiguous:
			s.logger.Warn("location account id ambiguous",
				zap.String("location_id", m.LocationID),
				zap.String("account_id", m.Original),
				zap.Strings("candidates", m.Candidates),
			)
		}
	}
	return repaired, matches
}

// AgentSummaries returns the per-agent rollups of period.
func (s *CommissionService) AgentSummaries(ctx context.Context, period domain.Period) ([]domain.AgentSummary, error) {
	report, err := s.Report(ctx, period, false)
	if err != nil {
		return nil, err
	}
	return report.Summaries, nil
}

// AgentSummary returns one agent's rollup. Names match case-insensitively.
func (s *CommissionService) AgentSummary(ctx context.Context, period domain.Period, agentName string) (*domain.AgentSummary, error) {
	name := strings.TrimSpace(agentName)
	if name == "" {
		return nil, &domain.ErrValidation{Field: "agentName", Message: "is required"}
	}
	report, err := s.Report(ctx, period, false)
	if err != nil {
		return nil, err
	}
	for i := range report.Summaries {
		if strings.EqualFold(report.Summaries[i].AgentName, name) {
			summary := report.Summaries[i]
			return &summary, nil
		}
	}
	return nil, &domain.ErrNotFound{Resource: "agent", ID: name}
}

// Dashboard returns the headline totals of period with the topN agents by volume.
func (s *CommissionService) Dashboard(ctx context.Context, period domain.Period, topN int) (*domain.DashboardStats, error) {
	report, err := s.Report(ctx, period, false)
	if err != nil {
		return nil, err
	}
	stats := commission.BuildDashboard(period, report.Records, report.Summaries, topN)
	return &stats, nil
}

// CreateRun recomputes period from fresh inputs and persists the result.
// The fresh report replaces any cached one.
func (s *CommissionService) CreateRun(ctx context.Context, period domain.Period) (*domain.CommissionRun, error) {
	if s.sink == nil {
		return nil, &domain.ErrUnavailable{Feature: "commission run persistence"}
	}

	ctx, span := tracer.Start(ctx, "CommissionService.CreateRun")
	defer span.End()

	report, err := s.Report(ctx, period, true)
	if err != nil {
		return nil, err
	}

	run := &domain.CommissionRun{
		ID:          uuid.NewString(),
		Period:      report.Period,
		Records:     report.Records,
		Diagnostics: report.Diagnostics,
		CreatedAt:   s.now().UTC(),
	}
	span.SetAttributes(attribute.String("run.id", run.ID))

	start := time.Now()
	err = s.sink.SaveCommissionRun(ctx, run)
	s.metrics.RecordDuration("save_run", time.Since(start))
	if err != nil {
		s.logger.Error("failed to save commission run",
			zap.String("run_id", run.ID),
			zap.String("period", period.Key()),
			zap.Error(err),
		)
		s.metrics.IncrExternalError("sink")
		return nil, fmt.Errorf("save run: %w", err)
	}

	s.logger.Info("commission run saved",
		zap.String("run_id", run.ID),
		zap.String("period", period.Key()),
		zap.Int("records", len(run.Records)),
	)
	return run, nil
}

// PreviewRate shows how a raw stored rate value is interpreted.
func (s *CommissionService) PreviewRate(raw string) (*domain.RatePreview, error) {
	n := domain.ParseNumeric(raw)
	if strings.TrimSpace(raw) == "" || n.Invalid() {
		return nil, &domain.ErrValidation{Field: "rate", Message: "must be a number"}
	}
	r, err := commission.NormalizeRate(n.Decimal())
	if err != nil {
		return nil, &domain.ErrValidation{Field: "rate", Message: err.Error()}
	}
	return &domain.RatePreview{
		Raw:        raw,
		Encoding:   string(r.Encoding),
		Bps:        r.Bps.String(),
		DisplayBps: r.DisplayBps,
		Multiplier: r.Multiplier.String(),
	}, nil
}

// Health pings every dependency that can report its own connectivity.
func (s *CommissionService) Health(ctx context.Context) domain.HealthStatus {
	now := s.now().UTC().Format(time.RFC3339)
	services := []domain.ServiceHealth{
		{Name: "commission-api", Status: "healthy", LastChecked: now},
	}

	check := func(name string, dep any) {
		hc, ok := dep.(port.HealthChecker)
		if !ok {
			return
		}
		start := time.Now()
		err := hc.Ping(ctx)
		h := domain.ServiceHealth{
			Name:        name,
			Status:      "healthy",
			LatencyMs:   time.Since(start).Milliseconds(),
			LastChecked: now,
		}
		if err != nil {
			h.Status = "degraded"
			h.Error = err.Error()
		}
		services = append(services, h)
	}
	check("datastore", s.source)
	check("cache", s.cache)

	overall := "healthy"
	for _, svc := range services {
		if svc.Status != "healthy" {
			overall = "degraded"
		}
	}
	return domain.HealthStatus{Status: overall, Services: services}
}
