package commission

import (
	"fmt"
	"strings"

	"github.com/boddenberg/commission-tracker-go/internal/domain"

	"github.com/shopspring/decimal"
)

// AccountAggregate is the per-account total of a period's transactions.
type AccountAggregate struct {
	AccountID       string
	PrimaryVolume   decimal.Decimal
	SecondaryVolume decimal.Decimal
	TotalVolume     decimal.Decimal
	NetPayoutPool   decimal.Decimal
	TxCount         int
}

// NormalizeAccountID is the exact-match key for account identifiers.
func NormalizeAccountID(id string) string {
	return strings.TrimSpace(id)
}

// AggregateByAccount sums transactions per account id.
//
// Zero-volume transactions are dropped before grouping so they can never make
// an account appear. Transactions without an account id are dropped and
// reported. Accounts whose summed volume is not positive are removed. diag
// may be nil.
func AggregateByAccount(txns []domain.Transaction, diag *domain.Diagnostics) map[string]AccountAggregate {
	if diag == nil {
		diag = &domain.Diagnostics{}
	}
	out := make(map[string]AccountAggregate)

	for i, tx := range txns {
		diag.TransactionsSeen++
		ref := tx.ID
		if ref == "" {
			ref = fmt.Sprintf("transaction[%d]", i)
		}

		primary := coerce(tx.PrimaryVolume, ref, "primary_volume", diag)
		secondary := coerce(tx.SecondaryVolume, ref, "secondary_volume", diag)
		net := coerce(tx.NetPayout, ref, "net_payout", diag)

		if primary.Add(secondary).IsZero() {
			diag.ZeroVolumeSkipped++
			continue
		}

		key := NormalizeAccountID(tx.AccountID)
		if key == "" {
			diag.MissingAccountSkipped++
			diag.Warn(domain.Warning{
				Kind:    domain.WarnMissingAccountID,
				Ref:     ref,
				Message: "transaction has volume but no account id",
			})
			continue
		}

		agg := out[key]
		agg.AccountID = key
		agg.PrimaryVolume = agg.PrimaryVolume.Add(primary)
		agg.SecondaryVolume = agg.SecondaryVolume.Add(secondary)
		agg.NetPayoutPool = agg.NetPayoutPool.Add(net)
		agg.TxCount++
		out[key] = agg
	}

	for key, agg := range out {
		agg.TotalVolume = agg.PrimaryVolume.Add(agg.SecondaryVolume)
		if !agg.TotalVolume.IsPositive() {
			diag.NonPositiveAccounts++
			delete(out, key)
			continue
		}
		out[key] = agg
	}
	return out
}

func coerce(n domain.Numeric, ref, field string, diag *domain.Diagnostics) decimal.Decimal {
	if n.Invalid() {
		diag.CoercedValues++
		diag.Warn(domain.Warning{
			Kind:    domain.WarnInvalidNumeric,
			Ref:     ref,
			Message: fmt.Sprintf("%s %q coerced to 0", field, n.Raw()),
		})
	}
	return n.Decimal()
}
