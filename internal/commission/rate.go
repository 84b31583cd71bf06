// Package commission is the allocation engine: it turns a period's
// transactions, agent assignments and locations into what each party is owed.
//
// Everything here is pure and synchronous. Callers fetch the inputs and deal
// with caching and persistence.
package commission

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Encoding is the storage convention a raw rate was recognized as.
type Encoding string

const (
	// EncodingDecimalBps stores BPS divided by 100: 0.75 means 75 BPS.
	EncodingDecimalBps Encoding = "decimal_bps"
	// EncodingPlainBps stores BPS as-is: 75 means 75 BPS.
	EncodingPlainBps Encoding = "plain_bps"
	// EncodingScaledBps stores BPS times 100: 7500 means 75 BPS.
	EncodingScaledBps Encoding = "scaled_bps"
)

// ErrNegativeRate is returned for rates below zero.
var ErrNegativeRate = errors.New("commission: negative rate")

var (
	one         = decimal.NewFromInt(1)
	hundred     = decimal.NewFromInt(100)
	tenThousand = decimal.NewFromInt(10_000)
	million     = decimal.NewFromInt(1_000_000)
)

// Rate is a normalized commission rate.
type Rate struct {
	Encoding Encoding
	// Bps is the exact rate in basis points.
	Bps decimal.Decimal
	// DisplayBps is Bps rounded half away from zero.
	DisplayBps int64
	// Multiplier converts volume to money.
	Multiplier decimal.Decimal
}

// NormalizeRate interprets a stored rate under the three legacy encodings.
//
//	0 <= v <= 1     decimal BPS   bps = v*100   multiplier = v/100
//	1 <  v <= 100   plain BPS     bps = v       multiplier = v/10_000
//	     v >  100   scaled BPS    bps = v/100   multiplier = v/1_000_000
func NormalizeRate(raw decimal.Decimal) (Rate, error) {
	if raw.IsNegative() {
		return Rate{Bps: decimal.Zero, Multiplier: decimal.Zero}, ErrNegativeRate
	}

	var r Rate
	switch {
	case raw.LessThanOrEqual(one):
		r = Rate{Encoding: EncodingDecimalBps, Bps: raw.Mul(hundred), Multiplier: raw.Div(hundred)}
	case raw.LessThanOrEqual(hundred):
		r = Rate{Encoding: EncodingPlainBps, Bps: raw, Multiplier: raw.Div(tenThousand)}
	default:
		r = Rate{Encoding: EncodingScaledBps, Bps: raw.Div(hundred), Multiplier: raw.Div(million)}
	}
	r.DisplayBps = r.Bps.Round(0).IntPart()
	return r, nil
}

// DecimalForm returns the rate in the current storage convention (BPS/100).
// For rates up to 100 BPS, NormalizeRate(r.DecimalForm()) yields the same
// multiplier as r.
func (r Rate) DecimalForm() decimal.Decimal {
	return r.Bps.Div(hundred)
}

// DisplayBpsFor back-computes the effective BPS of a payout over a volume.
// It is zero when volume is not positive.
func DisplayBpsFor(payout, volume decimal.Decimal) int64 {
	if !volume.IsPositive() {
		return 0
	}
	return payout.Div(volume).Mul(tenThousand).Round(0).IntPart()
}
