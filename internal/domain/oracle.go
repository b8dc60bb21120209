package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is an oracle price in its raw fixed-point form: the human price is
// Raw * 10^Expo.
type Quote struct {
	Raw         int64
	Expo        int32
	PublishTime time.Time
}

// Price returns the human-readable price.
func (q Quote) Price() decimal.Decimal {
	return decimal.New(q.Raw, q.Expo)
}

// ToRaw converts a human-readable price into this quote's raw unit, rounding
// to the nearest integer.
func (q Quote) ToRaw(human decimal.Decimal) int64 {
	return human.Shift(-q.Expo).Round(0).IntPart()
}

// PriceUpdate bundles a quote with the verifiable payload that posts the same
// price on-chain.
type PriceUpdate struct {
	FeedID  string
	Quote   Quote
	Payload []byte
}

// Band is the pair of bounds shared by both legs of a match.
type Band struct {
	Points   Points
	LowerRaw int64
	UpperRaw int64
	Lower    decimal.Decimal
	Upper    decimal.Decimal
}

// pointsDenominator converts Points (hundredths of a percent) to a fraction.
var pointsDenominator = decimal.NewFromInt(10_000)

// BandFor computes round(raw*(1-p)) and round(raw*(1+p)) from a single quote
// so that both legs of a match use identical bounds.
func BandFor(q Quote, p Points) Band {
	raw := decimal.NewFromInt(q.Raw)
	lowerRaw := raw.Mul(decimal.NewFromInt(10_000 - int64(p))).Div(pointsDenominator).Round(0).IntPart()
	upperRaw := raw.Mul(decimal.NewFromInt(10_000 + int64(p))).Div(pointsDenominator).Round(0).IntPart()
	return Band{
		Points:   p,
		LowerRaw: lowerRaw,
		UpperRaw: upperRaw,
		Lower:    decimal.New(lowerRaw, q.Expo),
		Upper:    decimal.New(upperRaw, q.Expo),
	}
}

// Oracle fetches fresh price updates that can be posted on-chain.
type Oracle interface {
	Latest(ctx context.Context) (PriceUpdate, error)
}

// QuoteSource returns the current price without a payload. Implementations
// may serve it from a short-lived cache.
type QuoteSource interface {
	Quote(ctx context.Context) (Quote, error)
}
