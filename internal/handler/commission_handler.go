package handler

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/boddenberg/commission-tracker-go/internal/domain"
	"github.com/boddenberg/commission-tracker-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 16

func reportHandler(svc *service.CommissionService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/commissions")
		defer span.End()

		period, err := parsePeriodQuery(r, svc)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		refresh, err := parseRefresh(r)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.String("period", period.Key()))

		report, err := svc.Report(ctx, period, refresh)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func agentSummariesHandler(svc *service.CommissionService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/commissions/agents")
		defer span.End()

		period, err := parsePeriodQuery(r, svc)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		summaries, err := svc.AgentSummaries(ctx, period)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, summaries)
	}
}

func agentSummaryHandler(svc *service.CommissionService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/commissions/agents/{agentName}")
		defer span.End()

		agentName, err := url.PathUnescape(chi.URLParam(r, "agentName"))
		if err != nil {
			handleServiceError(w, &domain.ErrValidation{Field: "agentName", Message: "is not a valid path segment"}, logger)
			return
		}
		period, err := parsePeriodQuery(r, svc)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.String("agent.name", agentName))

		summary, err := svc.AgentSummary(ctx, period, agentName)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func dashboardHandler(svc *service.CommissionService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/dashboard")
		defer span.End()

		period, top, err := parseDashboardQuery(r, svc)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		stats, err := svc.Dashboard(ctx, period, top)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func createRunHandler(svc *service.CommissionService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/commission-runs")
		defer span.End()

		var req createRunRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := validate.Struct(req); err != nil {
			handleServiceError(w, validationError(err), logger)
			return
		}
		period, err := domain.ParsePeriod(req.From, req.To, svc.Now())
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		run, err := svc.CreateRun(ctx, period)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, run)
	}
}

func normalizeRateHandler(svc *service.CommissionService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		preview, err := svc.PreviewRate(r.URL.Query().Get("rate"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, preview)
	}
}
