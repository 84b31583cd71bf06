package postgres

import (
	"encoding/json"
	"time"

	"github.com/boddenberg/commission-tracker-go/internal/domain"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Input tables are owned by the admin application; these models only read them.

type transactionModel struct {
	ID              string         `gorm:"column:id"`
	AccountID       *string        `gorm:"column:account_id"`
	Processor       *string        `gorm:"column:processor"`
	TransactionDate time.Time      `gorm:"column:transaction_date"`
	PrimaryVolume   domain.Numeric `gorm:"column:primary_volume"`
	SecondaryVolume domain.Numeric `gorm:"column:secondary_volume"`
	NetPayout       domain.Numeric `gorm:"column:net_payout"`
}

func (transactionModel) TableName() string { return "transactions" }

func (m transactionModel) toDomain() domain.Transaction {
	return domain.Transaction{
		ID:              m.ID,
		AccountID:       deref(m.AccountID),
		Processor:       deref(m.Processor),
		Date:            m.TransactionDate,
		PrimaryVolume:   m.PrimaryVolume,
		SecondaryVolume: m.SecondaryVolume,
		NetPayout:       m.NetPayout,
	}
}

type assignmentModel struct {
	ID         string         `gorm:"column:id"`
	LocationID string         `gorm:"column:location_id"`
	AgentName  *string        `gorm:"column:agent_name"`
	Rate       domain.Numeric `gorm:"column:rate"`
	IsActive   *bool          `gorm:"column:is_active"`
	UpdatedAt  *time.Time     `gorm:"column:updated_at"`
}

func (assignmentModel) TableName() string { return "location_agent_assignments" }

// toDomain treats a null is_active as active, matching the column default.
func (m assignmentModel) toDomain() domain.Assignment {
	a := domain.Assignment{
		ID:         m.ID,
		LocationID: m.LocationID,
		AgentName:  deref(m.AgentName),
		Rate:       m.Rate,
		IsActive:   m.IsActive == nil || *m.IsActive,
	}
	if m.UpdatedAt != nil {
		a.UpdatedAt = *m.UpdatedAt
	}
	return a
}

type locationModel struct {
	ID        string  `gorm:"column:id"`
	AccountID *string `gorm:"column:account_id"`
	Name      *string `gorm:"column:name"`
}

func (locationModel) TableName() string { return "locations" }

func (m locationModel) toDomain() domain.Location {
	return domain.Location{ID: m.ID, AccountID: deref(m.AccountID), Name: deref(m.Name)}
}

// CommissionRun is a persisted allocation snapshot.
type CommissionRun struct {
	ID          string    `gorm:"primaryKey;size:36"`
	PeriodFrom  time.Time `gorm:"type:date;not null;index:idx_commission_runs_period"`
	PeriodTo    time.Time `gorm:"type:date;not null;index:idx_commission_runs_period"`
	RecordCount int       `gorm:"not null;default:0"`
	Diagnostics string    `gorm:"type:jsonb"`
	CreatedAt   time.Time

	Records []CommissionRecord `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
}

// CommissionRecord is one agent's payout at one location within a run.
type CommissionRecord struct {
	ID               uint            `gorm:"primaryKey"`
	RunID            string          `gorm:"size:36;not null;uniqueIndex:idx_commission_records_key"`
	LocationID       string          `gorm:"not null;uniqueIndex:idx_commission_records_key"`
	LocationName     string          `gorm:"size:255"`
	AccountID        string          `gorm:"index"`
	AgentName        string          `gorm:"not null;uniqueIndex:idx_commission_records_key"`
	IsRemainder      bool            `gorm:"not null;default:false"`
	BpsRate          int64           `gorm:"not null;default:0"`
	LocationVolume   decimal.Decimal `gorm:"type:numeric(18,6);not null"`
	NetPayoutPool    decimal.Decimal `gorm:"type:numeric(18,6);not null"`
	ExplicitPayout   decimal.Decimal `gorm:"type:numeric(18,6);not null"`
	RemainderPayout  decimal.Decimal `gorm:"type:numeric(18,6);not null"`
	TransactionCount int             `gorm:"not null;default:0"`
}

// Migrate creates the output tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&CommissionRun{}, &CommissionRecord{})
}

func newRunModel(run *domain.CommissionRun) (*CommissionRun, error) {
	diag, err := json.Marshal(run.Diagnostics)
	if err != nil {
		return nil, err
	}
	m := &CommissionRun{
		ID:          run.ID,
		PeriodFrom:  run.Period.From,
		PeriodTo:    run.Period.To,
		RecordCount: len(run.Records),
		Diagnostics: string(diag),
		CreatedAt:   run.CreatedAt,
	}
	for _, rec := range run.Records {
		m.Records = append(m.Records, CommissionRecord{
			RunID:            run.ID,
			LocationID:       rec.LocationID,
			LocationName:     rec.LocationName,
			AccountID:        rec.AccountID,
			AgentName:        rec.AgentName,
			IsRemainder:      rec.IsRemainder,
			BpsRate:          rec.BpsRate,
			LocationVolume:   rec.LocationVolume,
			NetPayoutPool:    rec.NetPayoutPool,
			ExplicitPayout:   rec.ExplicitPayout,
			RemainderPayout:  rec.RemainderPayout,
			TransactionCount: rec.TransactionCount,
		})
	}
	return m, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
