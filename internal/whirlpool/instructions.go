package whirlpool

import (
	"crypto/sha256"
	"encoding/binary"
	"math/big"

	"github.com/gagliardetto/solana-go"
)

// Builder emits whirlpool program instructions for the position
// lifecycle. Instruction data is the anchor wire format: an 8-byte
// sighash discriminator followed by borsh-encoded arguments.
type Builder struct {
	pool solana.PublicKey
}

// NewBuilder creates a builder bound to one pool.
func NewBuilder(pool solana.PublicKey) *Builder {
	return &Builder{pool: pool}
}

func discriminator(name string) []byte {
	h := sha256.Sum256([]byte("global:" + name))
	return h[:8]
}

func appendU64(data []byte, v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return append(data, buf[:]...)
}

func appendI32(data []byte, v int32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	return append(data, buf[:]...)
}

// appendU128 encodes a non-negative big.Int as 16 little-endian bytes.
func appendU128(data []byte, v *big.Int) []byte {
	var buf [16]byte
	raw := v.Bytes() // big-endian
	for i, b := range raw {
		buf[len(raw)-1-i] = b
	}
	return append(data, buf[:]...)
}

// InitTickArray initializes the tick-array account covering startTick.
// Required before any position can reference ticks inside it.
func (b *Builder) InitTickArray(funder, tickArray solana.PublicKey, startTick int32) solana.Instruction {
	data := discriminator("initialize_tick_array")
	data = appendI32(data, startTick)

	return solana.NewInstruction(ProgramID, solana.AccountMetaSlice{
		solana.Meta(b.pool),
		solana.Meta(funder).WRITE().SIGNER(),
		solana.Meta(tickArray).WRITE(),
		solana.Meta(solana.SystemProgramID),
	}, data)
}

// OpenPositionParams feeds OpenPosition.
type OpenPositionParams struct {
	Funder               solana.PublicKey
	Owner                solana.PublicKey
	Position             solana.PublicKey
	PositionBump         uint8
	PositionMint         solana.PublicKey
	PositionTokenAccount solana.PublicKey
	TickLowerIndex       int32
	TickUpperIndex       int32
}

// OpenPosition mints the position NFT and creates the position account
// for the given tick range.
func (b *Builder) OpenPosition(p OpenPositionParams) solana.Instruction {
	data := discriminator("open_position")
	data = append(data, p.PositionBump)
	data = appendI32(data, p.TickLowerIndex)
	data = appendI32(data, p.TickUpperIndex)

	return solana.NewInstruction(ProgramID, solana.AccountMetaSlice{
		solana.Meta(p.Funder).WRITE().SIGNER(),
		solana.Meta(p.Owner),
		solana.Meta(p.Position).WRITE(),
		solana.Meta(p.PositionMint).WRITE().SIGNER(),
		solana.Meta(p.PositionTokenAccount).WRITE(),
		solana.Meta(b.pool),
		solana.Meta(solana.TokenProgramID),
		solana.Meta(solana.SystemProgramID),
		solana.Meta(solana.SysVarRentPubkey),
		solana.Meta(solana.SPLAssociatedTokenAccountProgramID),
	}, data)
}

// LiquidityParams feeds IncreaseLiquidity and DecreaseLiquidity; the
// token limits are maxima on deposit and minima on withdrawal.
type LiquidityParams struct {
	Liquidity            *big.Int
	TokenLimitA          uint64
	TokenLimitB          uint64
	PositionAuthority    solana.PublicKey
	Position             solana.PublicKey
	PositionTokenAccount solana.PublicKey
	TokenOwnerAccountA   solana.PublicKey
	TokenOwnerAccountB   solana.PublicKey
	TokenVaultA          solana.PublicKey
	TokenVaultB          solana.PublicKey
	TickArrayLower       solana.PublicKey
	TickArrayUpper       solana.PublicKey
}

func (b *Builder) liquidityInstruction(name string, p LiquidityParams) solana.Instruction {
	data := discriminator(name)
	data = appendU128(data, p.Liquidity)
	data = appendU64(data, p.TokenLimitA)
	data = appendU64(data, p.TokenLimitB)

	return solana.NewInstruction(ProgramID, solana.AccountMetaSlice{
		solana.Meta(b.pool).WRITE(),
		solana.Meta(solana.TokenProgramID),
		solana.Meta(p.PositionAuthority).SIGNER(),
		solana.Meta(p.Position).WRITE(),
		solana.Meta(p.PositionTokenAccount),
		solana.Meta(p.TokenOwnerAccountA).WRITE(),
		solana.Meta(p.TokenOwnerAccountB).WRITE(),
		solana.Meta(p.TokenVaultA).WRITE(),
		solana.Meta(p.TokenVaultB).WRITE(),
		solana.Meta(p.TickArrayLower).WRITE(),
		solana.Meta(p.TickArrayUpper).WRITE(),
	}, data)
}

// IncreaseLiquidity deposits up to TokenLimitA/B for the quoted
// liquidity amount.
func (b *Builder) IncreaseLiquidity(p LiquidityParams) solana.Instruction {
	return b.liquidityInstruction("increase_liquidity", p)
}

// DecreaseLiquidity withdraws the liquidity, rejecting the transaction
// if either side falls below TokenLimitA/B (slippage).
func (b *Builder) DecreaseLiquidity(p LiquidityParams) solana.Instruction {
	return b.liquidityInstruction("decrease_liquidity", p)
}

// UpdateFeesAndRewards refreshes the position's accrued fee and reward
// checkpoints; must precede collection in the same transaction.
func (b *Builder) UpdateFeesAndRewards(position, tickArrayLower, tickArrayUpper solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(ProgramID, solana.AccountMetaSlice{
		solana.Meta(b.pool).WRITE(),
		solana.Meta(position).WRITE(),
		solana.Meta(tickArrayLower),
		solana.Meta(tickArrayUpper),
	}, discriminator("update_fees_and_rewards"))
}

// CollectFeesParams feeds CollectFees.
type CollectFeesParams struct {
	PositionAuthority    solana.PublicKey
	Position             solana.PublicKey
	PositionTokenAccount solana.PublicKey
	TokenOwnerAccountA   solana.PublicKey
	TokenOwnerAccountB   solana.PublicKey
	TokenVaultA          solana.PublicKey
	TokenVaultB          solana.PublicKey
}

// CollectFees transfers accrued trading fees to the owner accounts.
func (b *Builder) CollectFees(p CollectFeesParams) solana.Instruction {
	return solana.NewInstruction(ProgramID, solana.AccountMetaSlice{
		solana.Meta(b.pool),
		solana.Meta(p.PositionAuthority).SIGNER(),
		solana.Meta(p.Position).WRITE(),
		solana.Meta(p.PositionTokenAccount),
		solana.Meta(p.TokenOwnerAccountA).WRITE(),
		solana.Meta(p.TokenVaultA).WRITE(),
		solana.Meta(p.TokenOwnerAccountB).WRITE(),
		solana.Meta(p.TokenVaultB).WRITE(),
		solana.Meta(solana.TokenProgramID),
	}, discriminator("collect_fees"))
}

// CollectRewardParams feeds CollectReward.
type CollectRewardParams struct {
	PositionAuthority    solana.PublicKey
	Position             solana.PublicKey
	PositionTokenAccount solana.PublicKey
	RewardOwnerAccount   solana.PublicKey
	RewardVault          solana.PublicKey
	RewardIndex          uint8
}

// CollectReward transfers one reward slot's accrued emissions.
func (b *Builder) CollectReward(p CollectRewardParams) solana.Instruction {
	data := discriminator("collect_reward")
	data = append(data, p.RewardIndex)

	return solana.NewInstruction(ProgramID, solana.AccountMetaSlice{
		solana.Meta(b.pool),
		solana.Meta(p.PositionAuthority).SIGNER(),
		solana.Meta(p.Position).WRITE(),
		solana.Meta(p.PositionTokenAccount),
		solana.Meta(p.RewardOwnerAccount).WRITE(),
		solana.Meta(p.RewardVault).WRITE(),
		solana.Meta(solana.TokenProgramID),
	}, data)
}

// ClosePosition burns the position NFT and reclaims the account rent.
// The position must hold zero liquidity.
func (b *Builder) ClosePosition(authority, receiver, position, positionMint, positionTokenAccount solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(ProgramID, solana.AccountMetaSlice{
		solana.Meta(authority).SIGNER(),
		solana.Meta(receiver).WRITE(),
		solana.Meta(position).WRITE(),
		solana.Meta(positionMint).WRITE(),
		solana.Meta(positionTokenAccount).WRITE(),
		solana.Meta(solana.TokenProgramID),
	}, discriminator("close_position"))
}
