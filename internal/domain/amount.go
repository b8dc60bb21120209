package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// LamportsPerSOL is the number of native units in one SOL.
const LamportsPerSOL int64 = 1_000_000_000

// lamportsScale is the decimal exponent between SOL and lamports.
const lamportsScale = 9

// Lamports is an amount expressed in the chain's smallest native unit. The
// matching core works exclusively in Lamports so that fill arithmetic is exact.
type Lamports int64

// LamportsFromDecimal converts a SOL-denominated decimal into Lamports,
// truncating anything below one lamport.
func LamportsFromDecimal(sol decimal.Decimal) Lamports {
	return Lamports(sol.Shift(lamportsScale).Truncate(0).IntPart())
}

// ParseLamports parses a SOL-denominated decimal string (as stored in NUMERIC
// columns) into Lamports.
func ParseLamports(s string) (Lamports, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("domain: parse amount %q: %w", s, err)
	}
	return LamportsFromDecimal(d), nil
}

// Decimal returns the SOL-denominated value.
func (l Lamports) Decimal() decimal.Decimal {
	return decimal.New(int64(l), -lamportsScale)
}

// SOL returns the float64 display value.
func (l Lamports) SOL() float64 {
	return l.Decimal().InexactFloat64()
}

func (l Lamports) String() string {
	return l.Decimal().String()
}

// MinLamports returns the smaller of a and b.
func MinLamports(a, b Lamports) Lamports {
	if a < b {
		return a
	}
	return b
}

// Points is a band half-width expressed in hundredths of a percent, so 1.5%
// is stored as 150. Orders only match inside the same Points bucket.
type Points int64

// pointsScale is the decimal exponent between percent and Points.
const pointsScale = 2

// PointsFromDecimal converts a percent value (e.g. 1.5) into Points, rounding
// to the nearest hundredth of a percent.
func PointsFromDecimal(pct decimal.Decimal) Points {
	return Points(pct.Shift(pointsScale).Round(0).IntPart())
}

// ParsePoints parses a percent string such as "1.5". Values with more than
// two decimal places are rejected rather than rounded, so two distinct stored
// widths never share a bucket.
func ParsePoints(s string) (Points, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("domain: parse points %q: %w", s, err)
	}
	if !d.Equal(d.Truncate(pointsScale)) {
		return 0, fmt.Errorf("domain: parse points %q: %w", s, ErrPointsPrecision)
	}
	return PointsFromDecimal(d), nil
}

// Decimal returns the percent value.
func (p Points) Decimal() decimal.Decimal {
	return decimal.New(int64(p), -pointsScale)
}

func (p Points) String() string {
	return p.Decimal().String()
}
