// Package types holds the domain types shared across the rebalancer:
// price boundaries, wallet balances, token metadata, and the persisted
// position record. Kept dependency-light so every internal package can
// import it without cycles.
package types

import (
	"github.com/gagliardetto/solana-go"
)

// Well-known mints. The bot always sizes positions in USDC and treats
// native SOL specially (wrap/unwrap, minimum-balance floor).
var (
	SOLMint  = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	USDCMint = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
)

// TokenInfo describes one of the pool's two tokens.
type TokenInfo struct {
	Mint        solana.PublicKey
	ATA         solana.PublicKey // associated token account of the bot wallet
	Decimals    uint8
	CoingeckoID string // empty if unknown
}

// IsSOL reports whether the token is native SOL (wrapped mint).
func (t TokenInfo) IsSOL() bool {
	return t.Mint.Equals(SOLMint)
}

// Boundary is the quoted price band for a new position. Recomputed from
// pool state on every poll, never persisted.
type Boundary struct {
	Price         float64
	LowerBoundary float64
	UpperBoundary float64
}

// Contains reports whether p lies inside the band (inclusive).
func (b Boundary) Contains(p float64) bool {
	return p >= b.LowerBoundary && p <= b.UpperBoundary
}

// Balances holds raw (smallest-unit) wallet amounts of the pool tokens.
type Balances struct {
	TokenA uint64
	TokenB uint64
}

// PositionState is the single persisted record identifying the open
// position. Address serializes as its canonical base58 string.
type PositionState struct {
	Address        solana.PublicKey `json:"address"`
	OpenPrice      float64          `json:"openPrice"`
	TickLowerIndex int32            `json:"tickLowerIndex"`
	TickUpperIndex int32            `json:"tickUpperIndex"`
}
