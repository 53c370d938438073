package domain

import "github.com/shopspring/decimal"

// Percent is an equity percentage (0-100, fractional allowed). It is backed
// by a decimal so values that end up hashed or signed never pass through
// binary floating point.
type Percent struct {
	decimal.Decimal
}

func PercentFromDecimal(d decimal.Decimal) Percent { return Percent{d} }

func PercentFromString(s string) (Percent, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Percent{}, err
	}
	return Percent{d}, nil
}

// MustPercent panics on a malformed literal. Test and seed helper.
func MustPercent(s string) Percent {
	return Percent{decimal.RequireFromString(s)}
}

func PercentFromInt(n int64) Percent { return Percent{decimal.NewFromInt(n)} }

func (p Percent) Add(o Percent) Percent { return Percent{p.Decimal.Add(o.Decimal)} }

func (p Percent) Sub(o Percent) Percent { return Percent{p.Decimal.Sub(o.Decimal)} }

func (p Percent) GreaterThan(o Percent) bool { return p.Decimal.GreaterThan(o.Decimal) }

func (p Percent) Equal(o Percent) bool { return p.Decimal.Equal(o.Decimal) }

// MarshalJSON emits a bare JSON number. The default decimal encoding quotes
// the value, which would change the canonical terms serialization.
func (p Percent) MarshalJSON() ([]byte, error) {
	return []byte(p.Decimal.String()), nil
}

func (p *Percent) UnmarshalJSON(b []byte) error {
	return p.Decimal.UnmarshalJSON(b)
}
