package whirlpool

import (
	"whirlpool-lp/pkg/types"
)

// Quoter turns pool state into a price and rebalance boundaries. Pure:
// the engine never learns how the band is derived.
type Quoter interface {
	Boundaries(pool *Whirlpool) types.Boundary
}

// BandQuoter derives the band as fixed percentages around the pool's
// current price.
type BandQuoter struct {
	LowerPct  float64 // e.g. 0.02 for 2% below
	UpperPct  float64
	DecimalsA uint8
	DecimalsB uint8
}

// Boundaries computes the current price from the pool's sqrt price and
// spreads the configured percentages around it.
func (q BandQuoter) Boundaries(pool *Whirlpool) types.Boundary {
	price := pool.Price(q.DecimalsA, q.DecimalsB)
	return types.Boundary{
		Price:         price,
		LowerBoundary: price * (1 - q.LowerPct),
		UpperBoundary: price * (1 + q.UpperPct),
	}
}
