package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/boddenberg/commission-tracker-go/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const defaultPageSize = 1000

// flexID accepts ids PostgREST serializes as numbers (bigint columns) or strings.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0, bytes.Equal(data, []byte("null")):
		*f = ""
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
	default:
		*f = flexID(data)
	}
	return nil
}

// --- Rows (PostgREST column names) ---

type transactionRow struct {
	ID              flexID         `json:"id"`
	AccountID       flexID         `json:"account_id"`
	Processor       string         `json:"processor"`
	TransactionDate string         `json:"transaction_date"`
	PrimaryVolume   domain.Numeric `json:"primary_volume"`
	SecondaryVolume domain.Numeric `json:"secondary_volume"`
	NetPayout       domain.Numeric `json:"net_payout"`
}

type assignmentRow struct {
	ID         flexID         `json:"id"`
	LocationID flexID         `json:"location_id"`
	AgentName  string         `json:"agent_name"`
	Rate       domain.Numeric `json:"rate"`
	IsActive   *bool          `json:"is_active"`
	UpdatedAt  string         `json:"updated_at"`
}

type locationRow struct {
	ID        flexID `json:"id"`
	AccountID flexID `json:"account_id"`
	Name      string `json:"name"`
}

type runRow struct {
	ID          string             `json:"id"`
	PeriodFrom  string             `json:"period_from"`
	PeriodTo    string             `json:"period_to"`
	RecordCount int                `json:"record_count"`
	Diagnostics domain.Diagnostics `json:"diagnostics"`
	CreatedAt   time.Time          `json:"created_at"`
}

type recordRow struct {
	RunID            string `json:"run_id"`
	LocationID       string `json:"location_id"`
	LocationName     string `json:"location_name"`
	AccountID        string `json:"account_id"`
	AgentName        string `json:"agent_name"`
	IsRemainder      bool   `json:"is_remainder"`
	BpsRate          int64  `json:"bps_rate"`
	LocationVolume   string `json:"location_volume"`
	NetPayoutPool    string `json:"net_payout_pool"`
	ExplicitPayout   string `json:"explicit_payout"`
	RemainderPayout  string `json:"remainder_payout"`
	TransactionCount int    `json:"transaction_count"`
}

// timestampLayouts covers what PostgREST emits for date, timestamp and
// timestamptz columns.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05",
	domain.DateLayout,
}

func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// --- CommissionSource ---

// ListTransactions fetches all transactions dated inside period, page by page.
func (c *Client) ListTransactions(ctx context.Context, period domain.Period) ([]domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListTransactions")
	defer span.End()
	span.SetAttributes(attribute.String("period", period.Key()))

	filter := fmt.Sprintf("transaction_date=gte.%s&transaction_date=lt.%s",
		period.From.Format(domain.DateLayout), period.To.Format(domain.DateLayout))

	rows, err := fetchRows[transactionRow](ctx, c, "transactions", "transactions?select=*&"+filter+"&order=id.asc")
	if err != nil {
		return nil, err
	}

	txns := make([]domain.Transaction, 0, len(rows))
	for _, r := range rows {
		txns = append(txns, domain.Transaction{
			ID:              string(r.ID),
			AccountID:       string(r.AccountID),
			Processor:       r.Processor,
			Date:            parseTimestamp(r.TransactionDate),
			PrimaryVolume:   r.PrimaryVolume,
			SecondaryVolume: r.SecondaryVolume,
			NetPayout:       r.NetPayout,
		})
	}
	span.SetAttributes(attribute.Int("rows", len(txns)))
	return txns, nil
}

// ListAssignments fetches every agent assignment. A null is_active counts as
// active, matching the column default.
func (c *Client) ListAssignments(ctx context.Context) ([]domain.Assignment, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListAssignments")
	defer span.End()

	rows, err := fetchRows[assignmentRow](ctx, c, "assignments", "location_agent_assignments?select=*&order=id.asc")
	if err != nil {
		return nil, err
	}

	out := make([]domain.Assignment, 0, len(rows))
	for _, r := range rows {
		active := r.IsActive == nil || *r.IsActive
		out = append(out, domain.Assignment{
			ID:         string(r.ID),
			LocationID: string(r.LocationID),
			AgentName:  r.AgentName,
			Rate:       r.Rate,
			IsActive:   active,
			UpdatedAt:  parseTimestamp(r.UpdatedAt),
		})
	}
	return out, nil
}

// ListLocations fetches every location.
func (c *Client) ListLocations(ctx context.Context) ([]domain.Location, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListLocations")
	defer span.End()

	rows, err := fetchRows[locationRow](ctx, c, "locations", "locations?select=id,account_id,name&order=id.asc")
	if err != nil {
		return nil, err
	}

	out := make([]domain.Location, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.Location{
			ID:        string(r.ID),
			AccountID: string(r.AccountID),
			Name:      r.Name,
		})
	}
	return out, nil
}

// fetchRows pages through path with limit/offset until a short page arrives.
func fetchRows[T any](ctx context.Context, c *Client, service, path string) ([]T, error) {
	var all []T
	for offset := 0; ; offset += c.pageSize {
		var page []T
		err := c.call(ctx, service, func() error {
			body, err := c.doRequest(ctx, http.MethodGet,
				fmt.Sprintf("%s&limit=%d&offset=%d", path, c.pageSize, offset), nil, "")
			if err != nil {
				return err
			}
			page = nil
			if len(body) == 0 {
				return nil
			}
			if err := json.Unmarshal(body, &page); err != nil {
				return fmt.Errorf("failed to decode %s: %w", service, err)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < c.pageSize {
			return all, nil
		}
	}
}

// --- CommissionSink ---

// SaveCommissionRun upserts the run header and its records. If the records
// cannot be written the header is deleted again.
func (c *Client) SaveCommissionRun(ctx context.Context, run *domain.CommissionRun) error {
	ctx, span := tracer.Start(ctx, "Supabase.SaveCommissionRun")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", run.ID),
		attribute.Int("run.records", len(run.Records)),
	)

	header := runRow{
		ID:          run.ID,
		PeriodFrom:  run.Period.From.Format(domain.DateLayout),
		PeriodTo:    run.Period.To.Format(domain.DateLayout),
		RecordCount: len(run.Records),
		Diagnostics: run.Diagnostics,
		CreatedAt:   run.CreatedAt,
	}
	err := c.call(ctx, "commission_runs", func() error {
		_, err := c.doRequest(ctx, http.MethodPost, "commission_runs?on_conflict=id", header,
			"return=minimal,resolution=merge-duplicates")
		return err
	})
	if err != nil {
		return err
	}

	if len(run.Records) == 0 {
		return nil
	}

	rows := make([]recordRow, 0, len(run.Records))
	for _, rec := range run.Records {
		rows = append(rows, recordRow{
			RunID:            run.ID,
			LocationID:       rec.LocationID,
			LocationName:     rec.LocationName,
			AccountID:        rec.AccountID,
			AgentName:        rec.AgentName,
			IsRemainder:      rec.IsRemainder,
			BpsRate:          rec.BpsRate,
			LocationVolume:   rec.LocationVolume.String(),
			NetPayoutPool:    rec.NetPayoutPool.String(),
			ExplicitPayout:   rec.ExplicitPayout.String(),
			RemainderPayout:  rec.RemainderPayout.String(),
			TransactionCount: rec.TransactionCount,
		})
	}
	err = c.call(ctx, "commission_records", func() error {
		_, err := c.doRequest(ctx, http.MethodPost,
			"commission_records?on_conflict=run_id,location_id,agent_name", rows,
			"return=minimal,resolution=merge-duplicates")
		return err
	})
	if err != nil {
		c.logger.Error("supabase: records insert failed, removing run header",
			zap.String("run_id", run.ID),
			zap.Error(err),
		)
		if _, delErr := c.doRequest(ctx, http.MethodDelete, "commission_runs?id=eq."+run.ID, nil, ""); delErr != nil {
			c.logger.Error("supabase: run header cleanup failed",
				zap.String("run_id", run.ID),
				zap.Error(delErr),
			)
		}
		return err
	}
	return nil
}
