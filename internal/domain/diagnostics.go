package domain

// WarningKind classifies a data-integrity anomaly found during allocation.
type WarningKind string

const (
	WarnMissingAccountID    WarningKind = "missing_account_id"
	WarnInvalidNumeric      WarningKind = "invalid_numeric"
	WarnInvalidRate         WarningKind = "invalid_rate"
	WarnOrphanAssignment    WarningKind = "orphan_assignment"
	WarnDuplicateAssignment WarningKind = "duplicate_assignment"
	WarnSharedAccountID     WarningKind = "shared_account_id"
)

// MaxWarnings bounds the warning list; the counters stay exact.
const MaxWarnings = 200

// Warning describes one skipped or coerced input row.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Ref     string      `json:"ref"`
	Message string      `json:"message"`
}

// Diagnostics reports what an allocation pass skipped or coerced.
type Diagnostics struct {
	TransactionsSeen      int `json:"transactions_seen"`
	ZeroVolumeSkipped     int `json:"zero_volume_skipped"`
	MissingAccountSkipped int `json:"missing_account_skipped"`
	NonPositiveAccounts   int `json:"non_positive_accounts"`
	CoercedValues         int `json:"coerced_values"`
	InvalidRates          int `json:"invalid_rates"`
	InactiveAssignments   int `json:"inactive_assignments"`
	OrphanAssignments     int `json:"orphan_assignments"`
	DuplicateAssignments  int `json:"duplicate_assignments"`
	SharedAccountSkipped  int `json:"shared_account_skipped"`
	UnmatchedLocations    int `json:"unmatched_locations"`
	RepairedLocations     int `json:"repaired_locations"`

	Warnings        []Warning `json:"warnings"`
	WarningsDropped int       `json:"warnings_dropped,omitempty"`
}

// Warn appends w unless the list is full.
func (d *Diagnostics) Warn(w Warning) {
	if len(d.Warnings) >= MaxWarnings {
		d.WarningsDropped++
		return
	}
	d.Warnings = append(d.Warnings, w)
}

// Counts returns the anomaly counters keyed by a stable label, for metrics.
func (d *Diagnostics) Counts() map[string]int {
	return map[string]int{
		"zero_volume":          d.ZeroVolumeSkipped,
		"missing_account":      d.MissingAccountSkipped,
		"non_positive_account": d.NonPositiveAccounts,
		"coerced_value":        d.CoercedValues,
		"invalid_rate":         d.InvalidRates,
		"inactive_assignment":  d.InactiveAssignments,
		"orphan_assignment":    d.OrphanAssignments,
		"duplicate_assignment": d.DuplicateAssignments,
		"shared_account":       d.SharedAccountSkipped,
		"unmatched_location":   d.UnmatchedLocations,
		"repaired_location":    d.RepairedLocations,
	}
}
