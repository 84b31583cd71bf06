package domain

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Numeric is a monetary or rate value read from dirty upstream data.
//
// Processor exports and legacy rows carry numbers as JSON numbers, quoted
// strings with currency symbols and thousands separators, or garbage. Numeric
// accepts all of them: anything unparsable becomes zero and is flagged
// Invalid so the allocator can count the coercion. Null and empty input is
// zero but not flagged.
type Numeric struct {
	value   decimal.Decimal
	invalid bool
	raw     string
}

// NewNumeric wraps an already valid decimal.
func NewNumeric(d decimal.Decimal) Numeric {
	return Numeric{value: d}
}

// NumericFromFloat is a convenience for tests and fixtures.
func NumericFromFloat(f float64) Numeric {
	return Numeric{value: decimal.NewFromFloat(f)}
}

// ParseNumeric parses s leniently. It never fails; check Invalid.
func ParseNumeric(s string) Numeric {
	cleaned := strings.TrimSpace(s)
	if cleaned == "" {
		return Numeric{}
	}
	cleaned = strings.NewReplacer("$", "", ",", "", " ", "", "\u00a0", "").Replace(cleaned)
	negative := false
	if strings.HasPrefix(cleaned, "(") && strings.HasSuffix(cleaned, ")") {
		negative = true
		cleaned = strings.TrimSuffix(strings.TrimPrefix(cleaned, "("), ")")
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return Numeric{invalid: true, raw: s}
	}
	if negative {
		d = d.Neg()
	}
	return Numeric{value: d}
}

// Decimal returns the value, zero when invalid.
func (n Numeric) Decimal() decimal.Decimal {
	if n.invalid {
		return decimal.Zero
	}
	return n.value
}

// Invalid reports whether the source value was present but unparsable.
func (n Numeric) Invalid() bool { return n.invalid }

// Raw returns the rejected input of an invalid value.
func (n Numeric) Raw() string { return n.raw }

func (n Numeric) String() string {
	return n.Decimal().String()
}

// MarshalJSON writes the decimal as a string to keep precision.
func (n Numeric) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.Decimal().String())
}

// UnmarshalJSON accepts numbers, strings and null.
func (n *Numeric) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0, bytes.Equal(data, []byte("null")):
		*n = Numeric{}
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			*n = Numeric{invalid: true, raw: string(data)}
			return nil
		}
		*n = ParseNumeric(s)
	case bytes.Equal(data, []byte("true")), bytes.Equal(data, []byte("false")),
		data[0] == '{', data[0] == '[':
		*n = Numeric{invalid: true, raw: string(data)}
	default:
		*n = ParseNumeric(string(data))
	}
	return nil
}

// Scan implements sql.Scanner for the values pgx and lib/pq hand back for
// numeric, float and text columns.
func (n *Numeric) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*n = Numeric{}
	case int64:
		*n = Numeric{value: decimal.NewFromInt(v)}
	case float64:
		*n = Numeric{value: decimal.NewFromFloat(v)}
	case float32:
		*n = Numeric{value: decimal.NewFromFloat32(v)}
	case []byte:
		*n = ParseNumeric(string(v))
	case string:
		*n = ParseNumeric(v)
	default:
		*n = Numeric{invalid: true, raw: fmt.Sprintf("%v", v)}
	}
	return nil
}

// Value implements driver.Valuer. Invalid values are stored as zero.
func (n Numeric) Value() (driver.Value, error) {
	return n.Decimal().String(), nil
}
