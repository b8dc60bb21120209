// Package matching pairs opposing Stay In and Breakout orders at equal points
// and commits each matched pair to on-chain positions.
package matching

import (
	"cmp"
	"slices"

	"github.com/alanyoungcy/rangebet/internal/domain"
)

// Bucket holds the matchable orders of one points level, each side sorted by
// ascending ID.
type Bucket struct {
	Points domain.Points
	Longs  []*domain.Order
	Shorts []*domain.Order
}

// GroupByPoints partitions matchable orders into buckets ordered by ascending
// points. Orders with nothing left to fill are dropped.
func GroupByPoints(orders []domain.Order) []*Bucket {
	byPoints := make(map[domain.Points]*Bucket)
	for i := range orders {
		o := &orders[i]
		if !o.Status.Matchable() || o.Remaining() <= 0 {
			continue
		}
		b, ok := byPoints[o.Points]
		if !ok {
			b = &Bucket{Points: o.Points}
			byPoints[o.Points] = b
		}
		switch o.Side {
		case domain.OrderSideLong:
			b.Longs = append(b.Longs, o)
		case domain.OrderSideShort:
			b.Shorts = append(b.Shorts, o)
		}
	}

	buckets := make([]*Bucket, 0, len(byPoints))
	for _, b := range byPoints {
		slices.SortFunc(b.Longs, byID)
		slices.SortFunc(b.Shorts, byID)
		buckets = append(buckets, b)
	}
	slices.SortFunc(buckets, func(a, c *Bucket) int { return cmp.Compare(a.Points, c.Points) })
	return buckets
}

func byID(a, b *domain.Order) int { return cmp.Compare(a.ID, b.ID) }

// Match is one viable pairing inside a bucket.
type Match struct {
	Points domain.Points
	Long   *domain.Order
	Short  *domain.Order
	Amount domain.Lamports
}

// Apply adds Amount to both orders' fills.
func (m Match) Apply() {
	m.Long.ApplyFill(m.Amount)
	m.Short.ApplyFill(m.Amount)
}

// Outcome tells Sweep what happened to a viable match.
type Outcome int

const (
	// Applied means the handler committed the pair and called Match.Apply.
	Applied Outcome = iota
	// Deferred leaves both orders untouched for the next cycle.
	Deferred
	// Abandon stops the bucket.
	Abandon
	// SkipLong drops the long order from the rest of the sweep.
	SkipLong
	// SkipShort drops the short order from the rest of the sweep.
	SkipShort
)

// Sweep walks the bucket with one pointer per side and hands every viable
// match to handle. It is a greedy single pass: earlier IDs are served first
// and a pairing below minTrade is skipped, not consumed.
func Sweep(b *Bucket, minTrade domain.Lamports, handle func(Match) Outcome) {
	li, si := 0, 0
	skipped := make(map[int64]bool)

	// next moves to the following short, wrapping to the next long. It
	// reports false once every combination has been tried.
	next := func() bool {
		switch {
		case si < len(b.Shorts)-1:
			si++
		case li < len(b.Longs)-1:
			li++
			si = 0
		default:
			return false
		}
		return true
	}

	for li < len(b.Longs) && si < len(b.Shorts) {
		long, short := b.Longs[li], b.Shorts[si]
		if long.Remaining() <= 0 {
			li++
			continue
		}
		if short.Remaining() <= 0 {
			si++
			continue
		}
		if skipped[short.ID] {
			if !next() {
				return
			}
			continue
		}

		amount := domain.MinLamports(long.Remaining(), short.Remaining())
		if amount < minTrade {
			if !next() {
				return
			}
			continue
		}

		switch handle(Match{Points: b.Points, Long: long, Short: short, Amount: amount}) {
		case Abandon:
			return
		case Deferred:
			if !next() {
				return
			}
			continue
		case SkipLong:
			// Shorts passed over for this long get another chance.
			li++
			si = 0
			continue
		case SkipShort:
			skipped[short.ID] = true
			if !next() {
				return
			}
			continue
		}

		longFilled := long.Status == domain.OrderStatusFilled
		shortFilled := short.Status == domain.OrderStatusFilled
		if longFilled {
			li++
		}
		if shortFilled {
			si++
		}
		if !longFilled && !shortFilled && !next() {
			return
		}
	}
}
