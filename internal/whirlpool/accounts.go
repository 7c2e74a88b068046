// Package whirlpool implements the on-chain domain of the rebalancer:
// decoding of Whirlpool program accounts, tick and liquidity math,
// boundary quoting, and anchor-style instruction building for the
// position lifecycle.
package whirlpool

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// ProgramID is the Orca Whirlpool program.
var ProgramID = solana.MustPublicKeyFromBase58("whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc")

const accountDiscriminatorLen = 8

// RewardInfo is one of the pool's three reward slots. A slot is active
// when its mint is initialized (non-zero).
type RewardInfo struct {
	Mint                  solana.PublicKey
	Vault                 solana.PublicKey
	Authority             solana.PublicKey
	EmissionsPerSecondX64 bin.Uint128
	GrowthGlobalX64       bin.Uint128
}

// Initialized reports whether the reward slot is in use.
func (r RewardInfo) Initialized() bool {
	return !r.Mint.IsZero()
}

// Whirlpool mirrors the pool account layout (after the 8-byte anchor
// discriminator).
type Whirlpool struct {
	WhirlpoolsConfig           solana.PublicKey
	WhirlpoolBump              [1]uint8
	TickSpacing                uint16
	TickSpacingSeed            [2]uint8
	FeeRate                    uint16
	ProtocolFeeRate            uint16
	Liquidity                  bin.Uint128
	SqrtPrice                  bin.Uint128
	TickCurrentIndex           int32
	ProtocolFeeOwedA           uint64
	ProtocolFeeOwedB           uint64
	TokenMintA                 solana.PublicKey
	TokenVaultA                solana.PublicKey
	FeeGrowthGlobalA           bin.Uint128
	TokenMintB                 solana.PublicKey
	TokenVaultB                solana.PublicKey
	FeeGrowthGlobalB           bin.Uint128
	RewardLastUpdatedTimestamp uint64
	RewardInfos                [3]RewardInfo
}

// PositionRewardInfo is the per-position reward checkpoint.
type PositionRewardInfo struct {
	GrowthInsideCheckpoint bin.Uint128
	AmountOwed             uint64
}

// Position mirrors the position account layout.
type Position struct {
	Whirlpool            solana.PublicKey
	PositionMint         solana.PublicKey
	Liquidity            bin.Uint128
	TickLowerIndex       int32
	TickUpperIndex       int32
	FeeGrowthCheckpointA bin.Uint128
	FeeOwedA             uint64
	FeeGrowthCheckpointB bin.Uint128
	FeeOwedB             uint64
	RewardInfos          [3]PositionRewardInfo
}

// DecodeWhirlpool parses a raw pool account.
func DecodeWhirlpool(data []byte) (*Whirlpool, error) {
	if len(data) <= accountDiscriminatorLen {
		return nil, fmt.Errorf("whirlpool account too short: %d bytes", len(data))
	}
	var w Whirlpool
	if err := bin.NewBorshDecoder(data[accountDiscriminatorLen:]).Decode(&w); err != nil {
		return nil, fmt.Errorf("decode whirlpool account: %w", err)
	}
	return &w, nil
}

// DecodePosition parses a raw position account.
func DecodePosition(data []byte) (*Position, error) {
	if len(data) <= accountDiscriminatorLen {
		return nil, fmt.Errorf("position account too short: %d bytes", len(data))
	}
	var p Position
	if err := bin.NewBorshDecoder(data[accountDiscriminatorLen:]).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode position account: %w", err)
	}
	return &p, nil
}

// tokenAccountAmount reads the raw balance out of an SPL token account.
// Layout: mint (32) | owner (32) | amount (u64 LE) | ...
func tokenAccountAmount(data []byte) (uint64, error) {
	if len(data) < 72 {
		return 0, fmt.Errorf("token account too short: %d bytes", len(data))
	}
	var amount uint64
	for i := 0; i < 8; i++ {
		amount |= uint64(data[64+i]) << (8 * i)
	}
	return amount, nil
}
