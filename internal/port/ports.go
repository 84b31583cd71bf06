// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"

	"github.com/boddenberg/commission-tracker-go/internal/domain"
)

// CommissionSource reads the raw inputs of an allocation.
// Implemented by the Supabase (PostgREST) and Postgres adapters.
type CommissionSource interface {
	// ListTransactions returns the processor transactions dated inside period.
	ListTransactions(ctx context.Context, period domain.Period) ([]domain.Transaction, error)
	ListAssignments(ctx context.Context) ([]domain.Assignment, error)
	ListLocations(ctx context.Context) ([]domain.Location, error)
}

// CommissionSink persists computed commission runs.
type CommissionSink interface {
	SaveCommissionRun(ctx context.Context, run *domain.CommissionRun) error
}

// HealthChecker is implemented by adapters that can report connectivity.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
