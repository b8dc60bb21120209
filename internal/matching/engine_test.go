package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/rangebet/internal/domain"
)

type pair struct {
	Long, Short int64
	Amount      domain.Lamports
}

// applyAll is a handler that applies every match and records it.
func applyAll(got *[]pair) func(Match) Outcome {
	return func(m Match) Outcome {
		*got = append(*got, pair{m.Long.ID, m.Short.ID, m.Amount})
		m.Apply()
		return Applied
	}
}

func TestGroupByPoints(t *testing.T) {
	filled := order(9, "u", domain.OrderSideLong, 150, "1")
	filled.Filled = filled.Amount
	cancelled := order(10, "u", domain.OrderSideShort, 150, "1")
	cancelled.Status = domain.OrderStatusCancelled

	buckets := GroupByPoints([]domain.Order{
		order(5, "u", domain.OrderSideLong, 200, "1"),
		order(3, "u", domain.OrderSideShort, 150, "1"),
		order(1, "u", domain.OrderSideShort, 150, "1"),
		order(4, "u", domain.OrderSideLong, 150, "1"),
		order(2, "u", domain.OrderSideLong, 150, "1"),
		filled,
		cancelled,
	})

	require.Len(t, buckets, 2)
	assert.Equal(t, domain.Points(150), buckets[0].Points)
	assert.Equal(t, domain.Points(200), buckets[1].Points)

	ids := func(os []*domain.Order) []int64 {
		var out []int64
		for _, o := range os {
			out = append(out, o.ID)
		}
		return out
	}
	assert.Equal(t, []int64{2, 4}, ids(buckets[0].Longs))
	assert.Equal(t, []int64{1, 3}, ids(buckets[0].Shorts))
	assert.Equal(t, []int64{5}, ids(buckets[1].Longs))
	assert.Empty(t, buckets[1].Shorts)
}

func TestSweepPartialFill(t *testing.T) {
	orders := []domain.Order{
		order(1, "a", domain.OrderSideLong, 150, "0.15"),
		order(2, "b", domain.OrderSideShort, 150, "0.10"),
	}
	b := GroupByPoints(orders)[0]

	var got []pair
	Sweep(b, sol("0.1"), applyAll(&got))

	require.Equal(t, []pair{{1, 2, sol("0.10")}}, got)
	assert.Equal(t, sol("0.10"), orders[0].Filled)
	assert.Equal(t, domain.OrderStatusPartiallyFilled, orders[0].Status)
	assert.Equal(t, sol("0.10"), orders[1].Filled)
	assert.Equal(t, domain.OrderStatusFilled, orders[1].Status)
}

func TestSweepSkipsDust(t *testing.T) {
	orders := []domain.Order{
		order(1, "a", domain.OrderSideLong, 150, "0.00000001"),
		order(2, "b", domain.OrderSideShort, 150, "1"),
		order(3, "c", domain.OrderSideShort, 150, "2"),
	}
	b := GroupByPoints(orders)[0]

	var got []pair
	Sweep(b, sol("0.2"), applyAll(&got))

	assert.Empty(t, got)
	assert.Zero(t, orders[0].Filled)
	assert.Zero(t, orders[1].Filled)
}

func TestSweepFairnessAndMinimum(t *testing.T) {
	orders := []domain.Order{
		order(1, "a", domain.OrderSideLong, 100, "0.5"),
		order(2, "b", domain.OrderSideShort, 100, "0.3"),
		order(3, "c", domain.OrderSideLong, 100, "0.5"),
		order(4, "d", domain.OrderSideShort, 100, "0.3"),
	}
	b := GroupByPoints(orders)[0]

	var got []pair
	Sweep(b, sol("0.2"), applyAll(&got))

	// Long 1 is served by both shorts before long 3 sees anything; the 0.1
	// left on short 4 is below the minimum and stays for a later cycle.
	assert.Equal(t, []pair{
		{1, 2, sol("0.3")},
		{1, 4, sol("0.2")},
	}, got)
	assert.Zero(t, orders[2].Filled)
	assert.Equal(t, sol("0.2"), orders[3].Filled)

	for _, p := range got {
		assert.GreaterOrEqual(t, p.Amount, sol("0.2"))
	}
	for _, o := range orders {
		assert.LessOrEqual(t, o.Filled, o.Amount)
	}
}

func TestSweepWrapsToNextLong(t *testing.T) {
	orders := []domain.Order{
		order(1, "a", domain.OrderSideLong, 100, "0.1"),
		order(2, "b", domain.OrderSideLong, 100, "1"),
		order(3, "c", domain.OrderSideShort, 100, "0.5"),
		order(4, "d", domain.OrderSideShort, 100, "0.5"),
	}
	b := GroupByPoints(orders)[0]

	var got []pair
	Sweep(b, sol("0.2"), applyAll(&got))

	assert.Equal(t, []pair{
		{2, 3, sol("0.5")},
		{2, 4, sol("0.5")},
	}, got)
	assert.Equal(t, domain.OrderStatusFilled, orders[1].Status)
}

func TestSweepDeferredMovesOn(t *testing.T) {
	orders := []domain.Order{
		order(1, "a", domain.OrderSideLong, 100, "1"),
		order(2, "b", domain.OrderSideShort, 100, "0.5"),
		order(3, "c", domain.OrderSideShort, 100, "0.5"),
	}
	b := GroupByPoints(orders)[0]

	var got []pair
	Sweep(b, sol("0.2"), func(m Match) Outcome {
		if m.Short.ID == 2 {
			return Deferred
		}
		return applyAll(&got)(m)
	})

	assert.Equal(t, []pair{{1, 3, sol("0.5")}}, got)
	assert.Zero(t, orders[1].Filled)
}

func TestSweepSkipLongRevisitsShorts(t *testing.T) {
	orders := []domain.Order{
		order(1, "a", domain.OrderSideLong, 100, "1"),
		order(2, "b", domain.OrderSideLong, 100, "1"),
		order(3, "c", domain.OrderSideShort, 100, "0.5"),
		order(4, "d", domain.OrderSideShort, 100, "0.5"),
	}
	b := GroupByPoints(orders)[0]

	var got []pair
	calls := 0
	Sweep(b, sol("0.2"), func(m Match) Outcome {
		if m.Long.ID == 1 {
			calls++
			return SkipLong
		}
		return applyAll(&got)(m)
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, []pair{
		{2, 3, sol("0.5")},
		{2, 4, sol("0.5")},
	}, got)
	assert.Zero(t, orders[0].Filled)
}

func TestSweepSkipShortStaysExcluded(t *testing.T) {
	orders := []domain.Order{
		order(1, "a", domain.OrderSideLong, 100, "1"),
		order(2, "b", domain.OrderSideLong, 100, "1"),
		order(3, "c", domain.OrderSideShort, 100, "0.5"),
		order(4, "d", domain.OrderSideShort, 100, "0.5"),
	}
	b := GroupByPoints(orders)[0]

	var got []pair
	calls := 0
	Sweep(b, sol("0.2"), func(m Match) Outcome {
		switch {
		case m.Short.ID == 3:
			calls++
			return SkipShort
		case m.Long.ID == 1:
			return Deferred
		}
		return applyAll(&got)(m)
	})

	assert.Equal(t, 1, calls, "a skipped short is not offered to later longs")
	assert.Equal(t, []pair{{2, 4, sol("0.5")}}, got)
	assert.Zero(t, orders[2].Filled)
}

func TestSweepAbandonStopsBucket(t *testing.T) {
	orders := []domain.Order{
		order(1, "a", domain.OrderSideLong, 100, "1"),
		order(2, "b", domain.OrderSideShort, 100, "0.5"),
		order(3, "c", domain.OrderSideShort, 100, "0.5"),
	}
	b := GroupByPoints(orders)[0]

	calls := 0
	Sweep(b, sol("0.2"), func(Match) Outcome {
		calls++
		return Abandon
	})
	assert.Equal(t, 1, calls)
}

func TestSweepConservation(t *testing.T) {
	orders := []domain.Order{
		order(1, "a", domain.OrderSideLong, 100, "0.7"),
		order(2, "b", domain.OrderSideLong, 100, "0.4"),
		order(3, "c", domain.OrderSideShort, 100, "0.3"),
		order(4, "d", domain.OrderSideShort, 100, "0.9"),
	}
	b := GroupByPoints(orders)[0]

	var longMatched, shortMatched domain.Lamports
	Sweep(b, sol("0.2"), func(m Match) Outcome {
		want := domain.MinLamports(m.Long.Remaining(), m.Short.Remaining())
		assert.Equal(t, want, m.Amount)
		beforeLong, beforeShort := m.Long.Filled, m.Short.Filled
		m.Apply()
		assert.Equal(t, m.Amount, m.Long.Filled-beforeLong)
		assert.Equal(t, m.Amount, m.Short.Filled-beforeShort)
		longMatched += m.Amount
		shortMatched += m.Amount
		return Applied
	})

	assert.Equal(t, longMatched, shortMatched)
	var longFilled, shortFilled domain.Lamports
	for _, o := range orders {
		if o.Side == domain.OrderSideLong {
			longFilled += o.Filled
		} else {
			shortFilled += o.Filled
		}
		assert.LessOrEqual(t, o.Filled, o.Amount)
	}
	assert.Equal(t, longFilled, shortFilled)
	assert.Equal(t, longMatched, longFilled)
}
