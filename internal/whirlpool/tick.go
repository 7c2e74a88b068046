package whirlpool

import (
	"fmt"
	"math"
	"math/big"
	"strconv"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Tick bounds and array geometry of the whirlpool program.
const (
	MinTick = -443636
	MaxTick = 443636

	// TicksPerArray is the fixed capacity of one tick-array account.
	TicksPerArray = 88
)

// PriceToTickIndex converts a UI price (token B per token A) to the
// nearest tick at or below it. The raw on-chain price is the UI price
// scaled by the token decimal difference.
func PriceToTickIndex(price float64, decimalsA, decimalsB uint8) int32 {
	raw := price * math.Pow(10, float64(decimalsB)-float64(decimalsA))
	tick := math.Floor(math.Log(raw) / math.Log(1.0001))
	if tick < MinTick {
		return MinTick
	}
	if tick > MaxTick {
		return MaxTick
	}
	return int32(tick)
}

// TickIndexToPrice is the inverse mapping, back to UI units.
func TickIndexToPrice(tick int32, decimalsA, decimalsB uint8) float64 {
	raw := math.Pow(1.0001, float64(tick))
	return raw * math.Pow(10, float64(decimalsA)-float64(decimalsB))
}

// InitializableTickIndex aligns a tick to the pool's tick spacing by
// truncating toward zero, so negative ticks round up. Liquidity may
// only reference ticks on spacing boundaries.
func InitializableTickIndex(tick int32, tickSpacing uint16) int32 {
	return tick - tick%int32(tickSpacing)
}

// StartTickIndex returns the first tick of the array containing tick.
func StartTickIndex(tick int32, tickSpacing uint16) int32 {
	ticksInArray := int32(tickSpacing) * TicksPerArray
	return int32(math.Floor(float64(tick)/float64(ticksInArray))) * ticksInArray
}

// TickArrayAddress derives the PDA of the tick-array account covering
// startTick.
func TickArrayAddress(pool solana.PublicKey, startTick int32) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{
		[]byte("tick_array"),
		pool.Bytes(),
		[]byte(strconv.Itoa(int(startTick))),
	}, ProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive tick array address: %w", err)
	}
	return addr, nil
}

// PositionAddress derives the position PDA for a position mint, along
// with its bump seed (the open_position instruction needs the bump).
func PositionAddress(positionMint solana.PublicKey) (solana.PublicKey, uint8, error) {
	addr, bump, err := solana.FindProgramAddress([][]byte{
		[]byte("position"),
		positionMint.Bytes(),
	}, ProgramID)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("derive position address: %w", err)
	}
	return addr, bump, nil
}

// sqrtPriceX64ToFloat converts the pool's fixed-point sqrt price to a
// float on the raw price scale.
func sqrtPriceX64ToFloat(sqrtPrice bin.Uint128) float64 {
	f := new(big.Float).SetInt(sqrtPrice.BigInt())
	q64 := new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 64))
	f.Quo(f, q64)
	out, _ := f.Float64()
	return out
}

// sqrtPriceAtTick returns sqrt(1.0001^tick) on the raw price scale.
func sqrtPriceAtTick(tick int32) float64 {
	return math.Pow(1.0001, float64(tick)/2)
}

// Price converts the pool's current sqrt price to a UI price.
func (w *Whirlpool) Price(decimalsA, decimalsB uint8) float64 {
	s := sqrtPriceX64ToFloat(w.SqrtPrice)
	return s * s * math.Pow(10, float64(decimalsA)-float64(decimalsB))
}
