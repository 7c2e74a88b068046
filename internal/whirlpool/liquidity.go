package whirlpool

import (
	"fmt"
	"math"
	"math/big"
)

// IncreaseQuote is the deposit estimate for adding liquidity to a range.
// TokenMaxA/B carry the slippage allowance the instruction enforces.
type IncreaseQuote struct {
	Liquidity *big.Int
	TokenEstA uint64
	TokenEstB uint64
	TokenMaxA uint64
	TokenMaxB uint64
}

// DecreaseQuote is the withdrawal estimate for removing liquidity.
// TokenMinA/B are the slippage floors.
type DecreaseQuote struct {
	Liquidity *big.Int
	TokenEstA uint64
	TokenEstB uint64
	TokenMinA uint64
	TokenMinB uint64
}

// IncreaseLiquidityQuote sizes a deposit from a fixed input amount of
// one of the pool tokens. inputIsA selects which token the input amount
// denominates; the other side's requirement follows from the current
// price and the range.
func IncreaseLiquidityQuote(pool *Whirlpool, tickLower, tickUpper int32, inputAmount uint64, inputIsA bool, slippage float64) (*IncreaseQuote, error) {
	if tickLower >= tickUpper {
		return nil, fmt.Errorf("invalid tick range [%d, %d)", tickLower, tickUpper)
	}

	sp := clamp(sqrtPriceX64ToFloat(pool.SqrtPrice), sqrtPriceAtTick(tickLower), sqrtPriceAtTick(tickUpper))
	sl := sqrtPriceAtTick(tickLower)
	su := sqrtPriceAtTick(tickUpper)

	var liquidity float64
	if inputIsA {
		if sp >= su {
			return nil, fmt.Errorf("price above range, token A deposit is zero")
		}
		liquidity = float64(inputAmount) * (sp * su) / (su - sp)
	} else {
		if sp <= sl {
			return nil, fmt.Errorf("price below range, token B deposit is zero")
		}
		liquidity = float64(inputAmount) / (sp - sl)
	}

	estA, estB := amountsForLiquidity(liquidity, sp, sl, su)
	return &IncreaseQuote{
		Liquidity: floatToBig(liquidity),
		TokenEstA: estA,
		TokenEstB: estB,
		TokenMaxA: withSlippage(estA, slippage, true),
		TokenMaxB: withSlippage(estB, slippage, true),
	}, nil
}

// DecreaseLiquidityQuote estimates the withdrawal for removing the
// given liquidity from a range at the pool's current price. The close
// flow recomputes this against fresh pool state after a slippage
// rejection.
func DecreaseLiquidityQuote(pool *Whirlpool, tickLower, tickUpper int32, liquidity *big.Int, slippage float64) (*DecreaseQuote, error) {
	if tickLower >= tickUpper {
		return nil, fmt.Errorf("invalid tick range [%d, %d)", tickLower, tickUpper)
	}

	sp := clamp(sqrtPriceX64ToFloat(pool.SqrtPrice), sqrtPriceAtTick(tickLower), sqrtPriceAtTick(tickUpper))
	sl := sqrtPriceAtTick(tickLower)
	su := sqrtPriceAtTick(tickUpper)

	liq, _ := new(big.Float).SetInt(liquidity).Float64()
	estA, estB := amountsForLiquidity(liq, sp, sl, su)
	return &DecreaseQuote{
		Liquidity: new(big.Int).Set(liquidity),
		TokenEstA: estA,
		TokenEstB: estB,
		TokenMinA: withSlippage(estA, slippage, false),
		TokenMinB: withSlippage(estB, slippage, false),
	}, nil
}

// amountsForLiquidity is the standard concentrated-liquidity split:
// token A covers [max(p, pl), pu), token B covers [pl, min(p, pu)).
func amountsForLiquidity(liquidity, sp, sl, su float64) (amountA, amountB uint64) {
	if sp < su {
		amountA = floorU64(liquidity * (su - sp) / (sp * su))
	}
	if sp > sl {
		amountB = floorU64(liquidity * (sp - sl))
	}
	return amountA, amountB
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func withSlippage(amount uint64, slippage float64, up bool) uint64 {
	if up {
		return floorU64(float64(amount) * (1 + slippage))
	}
	return floorU64(float64(amount) * (1 - slippage))
}

func floorU64(v float64) uint64 {
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	return uint64(math.Floor(v))
}

func floatToBig(v float64) *big.Int {
	f := new(big.Float).SetFloat64(math.Floor(v))
	out, _ := f.Int(nil)
	return out
}
