// Package accountmatch repairs location account ids that drifted from the ids
// the payment processor reports, e.g. a truncated or prefixed identifier.
//
// It is a data-repair tool kept apart from the allocator: allocation always
// uses exact account ids, and callers decide whether to run a repair first.
package accountmatch

import (
	"sort"
	"strings"

	"github.com/boddenberg/commission-tracker-go/internal/domain"
)

// DefaultMinLen is the shortest id either side may have for a containment match.
const DefaultMinLen = 6

// Kind describes how a location's account id was resolved.
type Kind string

const (
	KindExact     Kind = "exact"
	KindContains  Kind = "contains"  // transaction id contains the location id
	KindContained Kind = "contained" // transaction id is contained in the location id
	KindAmbiguous Kind = "ambiguous"
	KindNone      Kind = "none"
)

// Match is the outcome for one location.
type Match struct {
	LocationID string   `json:"location_id"`
	Original   string   `json:"original_account_id"`
	Resolved   string   `json:"resolved_account_id,omitempty"`
	Kind       Kind     `json:"kind"`
	Candidates []string `json:"candidates,omitempty"`
}

// Repaired reports whether the location's account id was rewritten.
func (m Match) Repaired() bool {
	return m.Kind == KindContains || m.Kind == KindContained
}

// Repair resolves each location's account id against the ids seen in
// transactions. Exact matches win. Otherwise a unique containment candidate,
// compared case-insensitively with both sides at least minLen characters,
// replaces the id on the returned copy. The input slice is not modified.
func Repair(locations []domain.Location, accountIDs []string, minLen int) ([]domain.Location, []Match) {
	if minLen <= 0 {
		minLen = DefaultMinLen
	}

	exact := make(map[string]struct{}, len(accountIDs))
	known := make([]string, 0, len(accountIDs))
	for _, id := range accountIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := exact[id]; dup {
			continue
		}
		exact[id] = struct{}{}
		known = append(known, id)
	}
	sort.Strings(known)

	out := make([]domain.Location, len(locations))
	matches := make([]Match, 0, len(locations))

	for i, loc := range locations {
		out[i] = loc
		original := strings.TrimSpace(loc.AccountID)
		m := Match{LocationID: loc.ID, Original: loc.AccountID}

		if _, ok := exact[original]; ok {
			m.Kind = KindExact
			m.Resolved = original
			matches = append(matches, m)
			continue
		}

		kind, candidates := containmentCandidates(original, known, minLen)
		switch len(candidates) {
		case 0:
			m.Kind = KindNone
		case 1:
			m.Kind = kind
			m.Resolved = candidates[0]
			out[i].AccountID = candidates[0]
		default:
			m.Kind = KindAmbiguous
			m.Candidates = candidates
		}
		matches = append(matches, m)
	}
	return out, matches
}

// containmentCandidates returns the ids related to target by containment. The
// kind is only meaningful when exactly one candidate is returned.
func containmentCandidates(target string, known []string, minLen int) (Kind, []string) {
	if len(target) < minLen {
		return KindNone, nil
	}
	lt := strings.ToLower(target)

	var (
		kind       Kind
		candidates []string
	)
	for _, id := range known {
		if len(id) < minLen {
			continue
		}
		li := strings.ToLower(id)
		switch {
		case li == lt:
			// Same id in another case.
			kind = KindContains
		case strings.Contains(li, lt):
			kind = KindContains
		case strings.Contains(lt, li):
			kind = KindContained
		default:
			continue
		}
		candidates = append(candidates, id)
	}
	return kind, candidates
}
