package commission

import (
	"fmt"
	"sort"
	"strings"

	"github.com/boddenberg/commission-tracker-go/internal/domain"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Allocator splits each location's volume between explicit-rate agents and
// the remainder party. It holds no mutable state and is safe for concurrent use.
type Allocator struct {
	remainderParty string
	logger         *zap.Logger
}

// Result is the output of one Compute call.
type Result struct {
	Records     []domain.CommissionRecord
	Diagnostics domain.Diagnostics
}

// NewAllocator returns an allocator paying leftovers to remainderParty.
func NewAllocator(remainderParty string, logger *zap.Logger) (*Allocator, error) {
	name := strings.TrimSpace(remainderParty)
	if name == "" {
		return nil, &domain.ErrInvalidArgument{Argument: "remainderParty", Reason: "must not be empty"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Allocator{remainderParty: name, logger: logger}, nil
}

// RemainderParty returns the configured catch-all agent name.
func (a *Allocator) RemainderParty() string {
	return a.remainderParty
}

// IsRemainder reports whether agentName is the remainder party.
func (a *Allocator) IsRemainder(agentName string) bool {
	return strings.EqualFold(strings.TrimSpace(agentName), a.remainderParty)
}

// Compute allocates one period. Inputs are read-only and may be in any order.
func (a *Allocator) Compute(txns []domain.Transaction, assignments []domain.Assignment, locations []domain.Location) *Result {
	res := &Result{Records: []domain.CommissionRecord{}}
	diag := &res.Diagnostics

	aggregates := AggregateByAccount(txns, diag)
	for _, w := range diag.Warnings {
		a.logWarning(w)
	}

	locByID := make(map[string]domain.Location, len(locations))
	for _, loc := range locations {
		locByID[loc.ID] = loc
	}

	byLocation := a.activeAssignmentsByLocation(assignments, locByID, diag)

	locationIDs := make([]string, 0, len(byLocation))
	for id := range byLocation {
		locationIDs = append(locationIDs, id)
	}
	sort.Strings(locationIDs)

	a.warnSharedAccounts(locations, byLocation)

	claimed := make(map[string]string)
	for _, locID := range locationIDs {
		loc := locByID[locID]
		account := NormalizeAccountID(loc.AccountID)

		agg, ok := aggregates[account]
		if account == "" || !ok {
			diag.UnmatchedLocations++
			a.logger.Debug("location has assignments but no volume",
				zap.String("location_id", locID),
				zap.String("account_id", account),
			)
			continue
		}
		if owner, taken := claimed[account]; taken {
			diag.SharedAccountSkipped++
			a.warn(diag, domain.Warning{
				Kind:    domain.WarnSharedAccountID,
				Ref:     locID,
				Message: fmt.Sprintf("account %s already attributed to location %s", account, owner),
			})
			continue
		}
		claimed[account] = locID

		res.Records = append(res.Records, a.allocateLocation(loc, agg, byLocation[locID], diag)...)
	}

	a.logger.Debug("allocation computed",
		zap.Int("transactions", diag.TransactionsSeen),
		zap.Int("accounts", len(aggregates)),
		zap.Int("locations", len(claimed)),
		zap.Int("records", len(res.Records)),
		zap.Int("warnings", len(diag.Warnings)+diag.WarningsDropped),
	)
	return res
}

// activeAssignmentsByLocation filters inactive and orphan rows and resolves
// duplicate (location, agent) pairs: the latest UpdatedAt wins, ties go to
// the row that comes last in the input.
func (a *Allocator) activeAssignmentsByLocation(assignments []domain.Assignment, locByID map[string]domain.Location, diag *domain.Diagnostics) map[string][]domain.Assignment {
	type slot struct {
		row   domain.Assignment
		index int
	}
	winners := make(map[string]map[string]slot)

	for i, asg := range assignments {
		ref := asg.ID
		if ref == "" {
			ref = fmt.Sprintf("assignment[%d]", i)
		}
		if !asg.IsActive {
			diag.InactiveAssignments++
			continue
		}
		if _, ok := locByID[asg.LocationID]; !ok {
			diag.OrphanAssignments++
			a.warn(diag, domain.Warning{
				Kind:    domain.WarnOrphanAssignment,
				Ref:     ref,
				Message: fmt.Sprintf("location %q does not exist", asg.LocationID),
			})
			continue
		}
		name := strings.TrimSpace(asg.AgentName)
		if name == "" {
			diag.OrphanAssignments++
			a.warn(diag, domain.Warning{
				Kind:    domain.WarnOrphanAssignment,
				Ref:     ref,
				Message: "assignment has no agent name",
			})
			continue
		}
		asg.AgentName = name

		agents := winners[asg.LocationID]
		if agents == nil {
			agents = make(map[string]slot)
			winners[asg.LocationID] = agents
		}
		key := strings.ToLower(name)
		prev, dup := agents[key]
		if !dup {
			agents[key] = slot{row: asg, index: i}
			continue
		}

		diag.DuplicateAssignments++
		loser := prev.row
		if asg.UpdatedAt.Before(prev.row.UpdatedAt) {
			loser = asg
		} else {
			agents[key] = slot{row: asg, index: i}
		}
		a.warn(diag, domain.Warning{
			Kind:    domain.WarnDuplicateAssignment,
			Ref:     loser.ID,
			Message: fmt.Sprintf("superseded active assignment for %s at location %s", name, asg.LocationID),
		})
	}

	out := make(map[string][]domain.Assignment, len(winners))
	for locID, agents := range winners {
		slots := make([]slot, 0, len(agents))
		for _, s := range agents {
			slots = append(slots, s)
		}
		sort.Slice(slots, func(i, j int) bool { return slots[i].index < slots[j].index })
		rows := make([]domain.Assignment, 0, len(slots))
		for _, s := range slots {
			rows = append(rows, s.row)
		}
		out[locID] = rows
	}
	return out
}

// warnSharedAccounts logs account ids claimed by more than one assigned
// location. Only the first of them is paid; see Compute.
func (a *Allocator) warnSharedAccounts(locations []domain.Location, byLocation map[string][]domain.Assignment) {
	seen := make(map[string][]string)
	for _, loc := range locations {
		account := NormalizeAccountID(loc.AccountID)
		if account == "" {
			continue
		}
		seen[account] = append(seen[account], loc.ID)
	}
	for account, ids := range seen {
		if len(ids) < 2 {
			continue
		}
		withAssignments := 0
		for _, id := range ids {
			if len(byLocation[id]) > 0 {
				withAssignments++
			}
		}
		if withAssignments < 2 {
			continue
		}
		a.logger.Warn("account id shared by several assigned locations",
			zap.String("account_id", account),
			zap.Strings("location_ids", ids),
		)
	}
}

func (a *Allocator) allocateLocation(loc domain.Location, agg AccountAggregate, rows []domain.Assignment, diag *domain.Diagnostics) []domain.CommissionRecord {
	explicit := make([]domain.Assignment, 0, len(rows))
	var remainder *domain.Assignment
	for i := range rows {
		if a.IsRemainder(rows[i].AgentName) {
			remainder = &rows[i]
			continue
		}
		explicit = append(explicit, rows[i])
	}
	sort.SliceStable(explicit, func(i, j int) bool { return explicit[i].AgentName < explicit[j].AgentName })

	base := domain.CommissionRecord{
		LocationID:       loc.ID,
		LocationName:     loc.Name,
		AccountID:        agg.AccountID,
		LocationVolume:   agg.TotalVolume,
		NetPayoutPool:    agg.NetPayoutPool,
		ExplicitPayout:   decimal.Zero,
		RemainderPayout:  decimal.Zero,
		TransactionCount: agg.TxCount,
	}

	records := make([]domain.CommissionRecord, 0, len(rows))
	paid := decimal.Zero
	for _, asg := range explicit {
		rate := a.rateFor(asg, diag)
		payout := agg.TotalVolume.Mul(rate.Multiplier)
		paid = paid.Add(payout)

		rec := base
		rec.AgentName = asg.AgentName
		rec.BpsRate = rate.DisplayBps
		rec.ExplicitPayout = payout
		records = append(records, rec)
	}

	if remainder != nil {
		left := decimal.Max(decimal.Zero, agg.NetPayoutPool.Sub(paid))

		rec := base
		rec.AgentName = remainder.AgentName
		rec.IsRemainder = true
		rec.RemainderPayout = left
		rec.BpsRate = DisplayBpsFor(left, agg.TotalVolume)
		records = append(records, rec)

		a.logger.Debug("remainder allocated",
			zap.String("location_id", loc.ID),
			zap.String("pool", agg.NetPayoutPool.String()),
			zap.String("explicit", paid.String()),
			zap.String("remainder", left.String()),
		)
	}
	return records
}

func (a *Allocator) rateFor(asg domain.Assignment, diag *domain.Diagnostics) Rate {
	if asg.Rate.Invalid() {
		diag.CoercedValues++
		a.warn(diag, domain.Warning{
			Kind:    domain.WarnInvalidNumeric,
			Ref:     asg.ID,
			Message: fmt.Sprintf("rate %q coerced to 0", asg.Rate.Raw()),
		})
	}
	rate, err := NormalizeRate(asg.Rate.Decimal())
	if err != nil {
		diag.InvalidRates++
		a.warn(diag, domain.Warning{
			Kind:    domain.WarnInvalidRate,
			Ref:     asg.ID,
			Message: fmt.Sprintf("rate %s for %s treated as 0: %v", asg.Rate.Decimal(), asg.AgentName, err),
		})
	}
	return rate
}

func (a *Allocator) warn(diag *domain.Diagnostics, w domain.Warning) {
	diag.Warn(w)
	a.logWarning(w)
}

func (a *Allocator) logWarning(w domain.Warning) {
	a.logger.Warn("allocation anomaly",
		zap.String("kind", string(w.Kind)),
		zap.String("ref", w.Ref),
		zap.String("message", w.Message),
	)
}
