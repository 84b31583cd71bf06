// Package postgres reads commission inputs from, and writes commission runs
// to, a Postgres database directly through gorm.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/boddenberg/commission-tracker-go/internal/domain"
	"github.com/boddenberg/commission-tracker-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

var tracer = otel.Tracer("postgres")

const insertBatchSize = 500

// Open connects to dsn. Only errors are logged by gorm itself.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Error),
	})
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	return db, nil
}

// Store implements port.CommissionSource and port.CommissionSink.
type Store struct {
	db     *gorm.DB
	cb     *gobreaker.CircuitBreaker
	cfg    resilience.Config
	logger *zap.Logger
}

// NewStore creates a Store.
func NewStore(db *gorm.DB, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Store {
	return &Store{db: db, cb: cb, cfg: cfg, logger: logger}
}

func (s *Store) call(ctx context.Context, op string, fn func(db *gorm.DB) error) error {
	err := resilience.Call(ctx, s.cb, s.cfg, func() error {
		return fn(s.db.WithContext(ctx))
	})
	if err == nil {
		return nil
	}
	var open *domain.ErrCircuitOpen
	if errors.As(err, &open) {
		return err
	}
	s.logger.Error("postgres: query failed", zap.String("op", op), zap.Error(err))
	return &domain.ErrExternalService{Service: "postgres/" + op, Err: err}
}

// ListTransactions returns the transactions dated inside period.
func (s *Store) ListTransactions(ctx context.Context, period domain.Period) ([]domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListTransactions")
	defer span.End()
	span.SetAttributes(attribute.String("period", period.Key()))

	var rows []transactionModel
	err := s.call(ctx, "transactions", func(db *gorm.DB) error {
		rows = nil
		return db.
			Where("transaction_date >= ? AND transaction_date < ?", period.From, period.To).
			Order("id").
			Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.Transaction, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// ListAssignments returns every agent assignment.
func (s *Store) ListAssignments(ctx context.Context) ([]domain.Assignment, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListAssignments")
	defer span.End()

	var rows []assignmentModel
	err := s.call(ctx, "assignments", func(db *gorm.DB) error {
		rows = nil
		return db.Order("id").Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.Assignment, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// ListLocations returns every location.
func (s *Store) ListLocations(ctx context.Context) ([]domain.Location, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListLocations")
	defer span.End()

	var rows []locationModel
	err := s.call(ctx, "locations", func(db *gorm.DB) error {
		rows = nil
		return db.Order("id").Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.Location, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// SaveCommissionRun writes the run and its records in one transaction.
// Saving the same run id again replaces its records.
func (s *Store) SaveCommissionRun(ctx context.Context, run *domain.CommissionRun) error {
	ctx, span := tracer.Start(ctx, "Postgres.SaveCommissionRun")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", run.ID),
		attribute.Int("run.records", len(run.Records)),
	)

	model, err := newRunModel(run)
	if err != nil {
		return fmt.Errorf("encoding run: %w", err)
	}
	records := model.Records
	model.Records = nil

	return s.call(ctx, "commission_runs", func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(model).Error; err != nil {
				return err
			}
			if err := tx.Where("run_id = ?", run.ID).Delete(&CommissionRecord{}).Error; err != nil {
				return err
			}
			if len(records) == 0 {
				return nil
			}
			return tx.CreateInBatches(records, insertBatchSize).Error
		})
	})
}

// Ping implements port.HealthChecker.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
