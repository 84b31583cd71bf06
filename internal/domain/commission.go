package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Allocation inputs
// ============================================================

// Transaction is one processor-reported volume line for one account in one period.
type Transaction struct {
	ID              string    `json:"id"`
	AccountID       string    `json:"account_id"`
	Processor       string    `json:"processor,omitempty"`
	Date            time.Time `json:"transaction_date"`
	PrimaryVolume   Numeric   `json:"primary_volume"`   // bank card
	SecondaryVolume Numeric   `json:"secondary_volume"` // debit card
	NetPayout       Numeric   `json:"net_payout"`
}

// Assignment says an agent earns Rate on all volume at a location.
type Assignment struct {
	ID         string    `json:"id"`
	LocationID string    `json:"location_id"`
	AgentName  string    `json:"agent_name"`
	Rate       Numeric   `json:"rate"`
	IsActive   bool      `json:"is_active"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Location is a merchant site. AccountID correlates with Transaction.AccountID
// and may be empty or shared with other locations.
type Location struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	Name      string `json:"name"`
}

// ============================================================
// Allocation outputs
// ============================================================

// CommissionRecord is what one agent is owed at one location for the period.
type CommissionRecord struct {
	LocationID       string          `json:"location_id"`
	LocationName     string          `json:"location_name"`
	AccountID        string          `json:"account_id"`
	AgentName        string          `json:"agent_name"`
	IsRemainder      bool            `json:"is_remainder"`
	BpsRate          int64           `json:"bps_rate"` // display only
	LocationVolume   decimal.Decimal `json:"location_volume"`
	NetPayoutPool    decimal.Decimal `json:"net_payout_pool"`
	ExplicitPayout   decimal.Decimal `json:"explicit_payout"`
	RemainderPayout  decimal.Decimal `json:"remainder_payout"`
	TransactionCount int             `json:"transaction_count"`
}

// Payout returns the payout field that applies to this record's agent.
func (r CommissionRecord) Payout() decimal.Decimal {
	if r.IsRemainder {
		return r.RemainderPayout
	}
	return r.ExplicitPayout
}

// AgentSummary rolls up every record of one agent.
type AgentSummary struct {
	AgentName       string             `json:"agent_name"`
	IsRemainder     bool               `json:"is_remainder"`
	Locations       []CommissionRecord `json:"locations"`
	TotalVolume     decimal.Decimal    `json:"total_volume"`
	TotalCommission decimal.Decimal    `json:"total_commission"`
}

// AgentVolume is one row of the dashboard's top agents table.
type AgentVolume struct {
	AgentName     string          `json:"agent_name"`
	Volume        decimal.Decimal `json:"volume"`
	Commission    decimal.Decimal `json:"commission"`
	LocationCount int             `json:"location_count"`
}

// DashboardStats are the headline numbers for a period.
type DashboardStats struct {
	Period            Period          `json:"period"`
	TotalVolume       decimal.Decimal `json:"total_volume"`
	TotalCommission   decimal.Decimal `json:"total_commission"`
	LocationCount     int             `json:"location_count"`
	AgentCount        int             `json:"agent_count"`
	TopAgentsByVolume []AgentVolume   `json:"top_agents_by_volume"`
}

// CommissionReport is the full result for a period as served to the dashboard.
type CommissionReport struct {
	Period      Period             `json:"period"`
	Records     []CommissionRecord `json:"records"`
	Summaries   []AgentSummary     `json:"summaries"`
	Diagnostics Diagnostics        `json:"diagnostics"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// CommissionRun is a persisted snapshot of a report.
type CommissionRun struct {
	ID          string             `json:"id"`
	Period      Period             `json:"period"`
	Records     []CommissionRecord `json:"records"`
	Diagnostics Diagnostics        `json:"diagnostics"`
	CreatedAt   time.Time          `json:"created_at"`
}
