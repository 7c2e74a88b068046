// Package position manages the lifecycle of the single liquidity
// position: funding and opening a new one around the current price, and
// unwinding it completely (fees, rewards, liquidity, account rent).
//
// Opens and closes are composite transactions. A close that is rejected
// for slippage rebuilds only its decrease-liquidity instruction against
// fresh pool state; the fee and reward collection instructions are kept
// verbatim so their amounts are collected exactly once.
package position

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"

	"whirlpool-lp/internal/chain"
	"whirlpool-lp/internal/swap"
	"whirlpool-lp/internal/whirlpool"
	"whirlpool-lp/pkg/types"
)

// tokenMinSubceeded is the whirlpool program's custom error for a
// withdrawal that fell below its slippage floor.
const tokenMinSubceeded = 6018

// ChainClient is the ledger surface the manager needs, satisfied by
// chain.Client.
type ChainClient interface {
	WalletKey() solana.PublicKey
	Lamports(ctx context.Context, key solana.PublicKey) (uint64, error)
	AccountData(ctx context.Context, key solana.PublicKey) ([]byte, error)
	SignAndSend(ctx context.Context, tx *solana.Transaction, extra ...solana.PrivateKey) (chain.Outcome, error)
	SendUntilLanded(ctx context.Context, tx *solana.Transaction, extra ...solana.PrivateKey) (*rpc.TransactionMeta, error)
}

// PoolSource reads pool and position accounts, satisfied by
// whirlpool.Service.
type PoolSource interface {
	Address() solana.PublicKey
	Fetch(ctx context.Context) (*whirlpool.Whirlpool, error)
	FetchPosition(ctx context.Context, address solana.PublicKey) (*whirlpool.Position, error)
	TickArrayExists(ctx context.Context, startTick int32) (solana.PublicKey, bool, error)
	TokenBalances(ctx context.Context, accountA, accountB solana.PublicKey) (uint64, uint64, error)
}

// Swapper executes token swaps, satisfied by swap.Executor.
type Swapper interface {
	Execute(ctx context.Context, p swap.Params) error
}

// Pricer resolves USD prices, satisfied by pricing.Client. Only
// consulted when neither pool token is USDC.
type Pricer interface {
	USDPrice(ctx context.Context, id string) (float64, error)
}

// Config carries the sizing parameters of the manager.
type Config struct {
	TokenA          types.TokenInfo
	TokenB          types.TokenInfo
	PositionSizeUSD float64
	// Slippage is the tolerance applied to deposit maxima and
	// withdrawal minima, e.g. 0.0025.
	Slippage float64
	// MinSOLBalance is the lamport floor kept out of deposits and
	// sweeps to pay fees and rent.
	MinSOLBalance uint64
}

// Manager opens and closes positions on one pool.
type Manager struct {
	chain   ChainClient
	pool    PoolSource
	swapper Swapper
	pricer  Pricer
	builder *whirlpool.Builder
	logger  *slog.Logger

	cfg Config
}

// NewManager creates a manager for the pool behind source.
func NewManager(chainClient ChainClient, source PoolSource, swapper Swapper, pricer Pricer, cfg Config, logger *slog.Logger) *Manager {
	return &Manager{
		chain:   chainClient,
		pool:    source,
		swapper: swapper,
		pricer:  pricer,
		builder: whirlpool.NewBuilder(source.Address()),
		logger:  logger.With("component", "position"),
		cfg:     cfg,
	}
}

// Open funds and opens a position spanning the quoted band. The deposit
// is sized as half the configured USD value per token, quoted against
// the pool, and any shortfall against the quote's maxima is bought with
// USDC before the open transaction is built. Returns the confirmed
// position's identifying record and the wallet's post-transaction pool
// token balances; the caller persists the record.
func (m *Manager) Open(ctx context.Context, pool *whirlpool.Whirlpool, bounds types.Boundary) (*types.PositionState, types.Balances, error) {
	tickLower, tickUpper := m.tickRange(pool, bounds)
	m.logger.Info("opening position",
		"price", bounds.Price,
		"lower_boundary", bounds.LowerBoundary,
		"upper_boundary", bounds.UpperBoundary,
		"tick_lower", tickLower,
		"tick_upper", tickUpper)

	if err := m.ensureTickArrays(ctx, tickLower, tickUpper, pool.TickSpacing); err != nil {
		return nil, types.Balances{}, err
	}

	targetA, targetB, err := m.depositTargets(ctx, bounds.Price)
	if err != nil {
		return nil, types.Balances{}, err
	}
	// Quote before funding: for an off-center band the deposit's real
	// token requirements are the quote's maxima, not the USD split.
	quote, err := m.depositQuote(pool, tickLower, tickUpper, targetA, targetB)
	if err != nil {
		return nil, types.Balances{}, err
	}
	if err := m.fundDeficits(ctx, quote.TokenMaxA, quote.TokenMaxB); err != nil {
		return nil, types.Balances{}, err
	}

	mintKey, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, types.Balances{}, fmt.Errorf("generate position mint: %w", err)
	}
	positionMint := mintKey.PublicKey()
	positionAddr, bump, err := whirlpool.PositionAddress(positionMint)
	if err != nil {
		return nil, types.Balances{}, err
	}

	instrs, err := m.openInstructions(ctx, pool, quote, openParams{
		positionAddr: positionAddr,
		positionBump: bump,
		positionMint: positionMint,
		tickLower:    tickLower,
		tickUpper:    tickUpper,
	})
	if err != nil {
		return nil, types.Balances{}, err
	}

	tx, err := m.buildTx(instrs)
	if err != nil {
		return nil, types.Balances{}, err
	}
	// Open is safe to resubmit verbatim after expiry: an expired attempt
	// provably did not land, and a landed attempt terminates the loop.
	meta, err := m.chain.SendUntilLanded(ctx, tx, mintKey)
	if err != nil {
		return nil, types.Balances{}, fmt.Errorf("open position: %w", err)
	}
	balances := m.postTokenBalances(meta)

	m.logger.Info("position opened",
		"position", positionAddr.String(),
		"open_price", bounds.Price,
		"token_a_balance", balances.TokenA,
		"token_b_balance", balances.TokenB)
	return &types.PositionState{
		Address:        positionAddr,
		OpenPrice:      bounds.Price,
		TickLowerIndex: tickLower,
		TickUpperIndex: tickUpper,
	}, balances, nil
}

// Close unwinds the position completely: update checkpoints, collect
// fees and rewards, withdraw all liquidity, burn the NFT and reclaim
// rent, all in one transaction.
func (m *Manager) Close(ctx context.Context, state *types.PositionState) error {
	for {
		done, err := m.closeAttempt(ctx, state)
		if err != nil {
			return err
		}
		if done {
			m.logger.Info("position closed", "position", state.Address.String())
			return nil
		}
		// Expired: every instruction is rebuilt from fresh on-chain
		// state before the next attempt.
		m.logger.Warn("close attempt expired, rebuilding", "position", state.Address.String())
	}
}

// closeAttempt builds and submits one close transaction. A slippage
// rejection replaces only the decrease-liquidity instruction with one
// quoted against fresh pool state and resubmits; everything else in the
// transaction is byte-identical across those resubmissions.
func (m *Manager) closeAttempt(ctx context.Context, state *types.PositionState) (bool, error) {
	// The withdrawal quote never trusts a cached position.
	pos, err := m.pool.FetchPosition(ctx, state.Address)
	if err != nil {
		return false, err
	}
	pool, err := m.pool.Fetch(ctx)
	if err != nil {
		return false, err
	}

	instrs, decreaseIdx, err := m.closeInstructions(ctx, state.Address, pos, pool)
	if err != nil {
		return false, err
	}

	for {
		tx, err := m.buildTx(instrs)
		if err != nil {
			return false, err
		}
		out, err := m.chain.SignAndSend(ctx, tx)
		if err != nil {
			return false, err
		}
		switch out.Status {
		case chain.StatusSuccess:
			return true, nil
		case chain.StatusExpired:
			return false, nil
		default:
			code, ok := out.CustomErrorCode()
			if !ok || code != tokenMinSubceeded || decreaseIdx < 0 {
				return false, fmt.Errorf("close position %s: %w", state.Address, out.Err())
			}
			m.logger.Warn("withdrawal slippage exceeded, requoting decrease",
				"position", state.Address.String(),
				"signature", out.Signature.String())
			fresh, err := m.pool.Fetch(ctx)
			if err != nil {
				return false, err
			}
			instrs[decreaseIdx], err = m.decreaseInstruction(fresh, state.Address, pos)
			if err != nil {
				return false, err
			}
		}
	}
}

// Sweep swaps all non-USDC wallet balances of the pool tokens back to
// USDC, keeping the lamport floor untouched.
func (m *Manager) Sweep(ctx context.Context) error {
	balA, balB, err := m.balances(ctx)
	if err != nil {
		return err
	}
	for _, side := range []struct {
		token types.TokenInfo
		bal   uint64
	}{
		{m.cfg.TokenA, balA},
		{m.cfg.TokenB, balB},
	} {
		if side.token.Mint.Equals(types.USDCMint) || side.bal == 0 {
			continue
		}
		m.logger.Info("sweeping surplus to usdc",
			"mint", side.token.Mint.String(),
			"amount", side.bal)
		if err := m.swapper.Execute(ctx, swap.Params{
			InputMint:  side.token.Mint,
			OutputMint: types.USDCMint,
			AmountRaw:  side.bal,
			Mode:       swap.ExactIn,
		}); err != nil {
			return err
		}
	}
	return nil
}

// tickRange converts the price band to initializable ticks. The range
// is widened by one spacing when rounding collapses it.
func (m *Manager) tickRange(pool *whirlpool.Whirlpool, bounds types.Boundary) (int32, int32) {
	decA, decB := m.cfg.TokenA.Decimals, m.cfg.TokenB.Decimals
	lower := whirlpool.InitializableTickIndex(whirlpool.PriceToTickIndex(bounds.LowerBoundary, decA, decB), pool.TickSpacing)
	upper := whirlpool.InitializableTickIndex(whirlpool.PriceToTickIndex(bounds.UpperBoundary, decA, decB), pool.TickSpacing)
	if upper <= lower {
		upper = lower + int32(pool.TickSpacing)
	}
	return lower, upper
}

// ensureTickArrays initializes any missing tick-array accounts in their
// own transactions, ahead of the open.
func (m *Manager) ensureTickArrays(ctx context.Context, tickLower, tickUpper int32, spacing uint16) error {
	starts := []int32{whirlpool.StartTickIndex(tickLower, spacing)}
	if s := whirlpool.StartTickIndex(tickUpper, spacing); s != starts[0] {
		starts = append(starts, s)
	}
	for _, start := range starts {
		addr, exists, err := m.pool.TickArrayExists(ctx, start)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		m.logger.Info("initializing tick array", "start_tick", start, "address", addr.String())
		tx, err := m.buildTx([]solana.Instruction{
			m.builder.InitTickArray(m.chain.WalletKey(), addr, start),
		})
		if err != nil {
			return err
		}
		if _, err := m.chain.SendUntilLanded(ctx, tx); err != nil {
			return fmt.Errorf("initialize tick array at %d: %w", start, err)
		}
	}
	return nil
}

// depositTargets sizes the deposit: half the configured USD value in
// each token, converted to base units at current prices. Decimal math
// keeps the USD split exact before the final floor to base units.
func (m *Manager) depositTargets(ctx context.Context, price float64) (uint64, uint64, error) {
	priceA, priceB, err := m.usdPrices(ctx, price)
	if err != nil {
		return 0, 0, err
	}
	half := decimal.NewFromFloat(m.cfg.PositionSizeUSD).Div(decimal.NewFromInt(2))
	targetA := half.Div(decimal.NewFromFloat(priceA)).Shift(int32(m.cfg.TokenA.Decimals)).Floor().BigInt().Uint64()
	targetB := half.Div(decimal.NewFromFloat(priceB)).Shift(int32(m.cfg.TokenB.Decimals)).Floor().BigInt().Uint64()
	return targetA, targetB, nil
}

// usdPrices resolves the USD price of both tokens. A USDC side anchors
// both directly from the pool price; otherwise the external price feed
// decides.
func (m *Manager) usdPrices(ctx context.Context, price float64) (float64, float64, error) {
	switch {
	case m.cfg.TokenB.Mint.Equals(types.USDCMint):
		if price <= 0 {
			return 0, 0, fmt.Errorf("non-positive pool price %v", price)
		}
		return price, 1, nil
	case m.cfg.TokenA.Mint.Equals(types.USDCMint):
		if price <= 0 {
			return 0, 0, fmt.Errorf("non-positive pool price %v", price)
		}
		return 1, 1 / price, nil
	default:
		if m.cfg.TokenA.CoingeckoID == "" || m.cfg.TokenB.CoingeckoID == "" {
			return 0, 0, fmt.Errorf("no usd reference for pool without usdc side")
		}
		priceA, err := m.pricer.USDPrice(ctx, m.cfg.TokenA.CoingeckoID)
		if err != nil {
			return 0, 0, err
		}
		priceB, err := m.pricer.USDPrice(ctx, m.cfg.TokenB.CoingeckoID)
		if err != nil {
			return 0, 0, err
		}
		return priceA, priceB, nil
	}
}

// fundDeficits buys any missing token amounts with USDC, exact-out so
// the quoted deposit maxima are met without overshooting.
func (m *Manager) fundDeficits(ctx context.Context, requiredA, requiredB uint64) error {
	balA, balB, err := m.balances(ctx)
	if err != nil {
		return err
	}
	for _, side := range []struct {
		token    types.TokenInfo
		bal      uint64
		required uint64
	}{
		{m.cfg.TokenA, balA, requiredA},
		{m.cfg.TokenB, balB, requiredB},
	} {
		if side.token.Mint.Equals(types.USDCMint) || side.bal >= side.required {
			continue
		}
		deficit := side.required - side.bal
		m.logger.Info("funding deposit deficit",
			"mint", side.token.Mint.String(),
			"deficit", deficit)
		if err := m.swapper.Execute(ctx, swap.Params{
			InputMint:  types.USDCMint,
			OutputMint: side.token.Mint,
			AmountRaw:  deficit,
			Mode:       swap.ExactOut,
		}); err != nil {
			return err
		}
	}
	return nil
}

// balances reads spendable wallet balances of both pool tokens. For a
// native SOL side the token account balance is topped up with lamports
// above the configured floor.
func (m *Manager) balances(ctx context.Context) (uint64, uint64, error) {
	balA, balB, err := m.pool.TokenBalances(ctx, m.cfg.TokenA.ATA, m.cfg.TokenB.ATA)
	if err != nil {
		return 0, 0, err
	}
	if m.cfg.TokenA.IsSOL() || m.cfg.TokenB.IsSOL() {
		lamports, err := m.chain.Lamports(ctx, m.chain.WalletKey())
		if err != nil {
			return 0, 0, err
		}
		spendable := uint64(0)
		if lamports > m.cfg.MinSOLBalance {
			spendable = lamports - m.cfg.MinSOLBalance
		}
		if m.cfg.TokenA.IsSOL() {
			balA += spendable
		} else {
			balB += spendable
		}
	}
	return balA, balB, nil
}

// depositQuote sizes the liquidity add from the USD deposit targets,
// preferring a token B denominated input and falling back to token A
// when the price sits below the range. The quote's maxima define what
// the wallet must hold before the open transaction.
func (m *Manager) depositQuote(pool *whirlpool.Whirlpool, tickLower, tickUpper int32, targetA, targetB uint64) (*whirlpool.IncreaseQuote, error) {
	if targetB > 0 {
		quote, err := whirlpool.IncreaseLiquidityQuote(pool, tickLower, tickUpper, targetB, false, m.cfg.Slippage)
		if err == nil {
			return quote, nil
		}
	}
	if targetA == 0 {
		return nil, fmt.Errorf("deposit size rounds to zero")
	}
	return whirlpool.IncreaseLiquidityQuote(pool, tickLower, tickUpper, targetA, true, m.cfg.Slippage)
}

// postTokenBalances extracts the wallet's pool token balances from a
// confirmed transaction's metadata.
func (m *Manager) postTokenBalances(meta *rpc.TransactionMeta) types.Balances {
	var balances types.Balances
	if meta == nil {
		return balances
	}
	wallet := m.chain.WalletKey()
	for _, tb := range meta.PostTokenBalances {
		if tb.Owner == nil || !tb.Owner.Equals(wallet) || tb.UiTokenAmount == nil {
			continue
		}
		amount, err := strconv.ParseUint(tb.UiTokenAmount.Amount, 10, 64)
		if err != nil {
			continue
		}
		switch {
		case tb.Mint.Equals(m.cfg.TokenA.Mint):
			balances.TokenA = amount
		case tb.Mint.Equals(m.cfg.TokenB.Mint):
			balances.TokenB = amount
		}
	}
	return balances
}

type openParams struct {
	positionAddr solana.PublicKey
	positionBump uint8
	positionMint solana.PublicKey
	tickLower    int32
	tickUpper    int32
}

// openInstructions assembles the composite open transaction: position
// creation, token account setup, native SOL wrapping, the liquidity
// deposit, and wrapped SOL cleanup.
func (m *Manager) openInstructions(ctx context.Context, pool *whirlpool.Whirlpool, quote *whirlpool.IncreaseQuote, p openParams) ([]solana.Instruction, error) {
	wallet := m.chain.WalletKey()
	posATA, _, err := solana.FindAssociatedTokenAddress(wallet, p.positionMint)
	if err != nil {
		return nil, fmt.Errorf("derive position token account: %w", err)
	}

	instrs := []solana.Instruction{
		m.builder.OpenPosition(whirlpool.OpenPositionParams{
			Funder:               wallet,
			Owner:                wallet,
			Position:             p.positionAddr,
			PositionBump:         p.positionBump,
			PositionMint:         p.positionMint,
			PositionTokenAccount: posATA,
			TickLowerIndex:       p.tickLower,
			TickUpperIndex:       p.tickUpper,
		}),
	}

	instrs, err = m.appendEnsureATA(ctx, instrs, m.cfg.TokenA)
	if err != nil {
		return nil, err
	}
	instrs, err = m.appendEnsureATA(ctx, instrs, m.cfg.TokenB)
	if err != nil {
		return nil, err
	}

	ataBalA, ataBalB, err := m.pool.TokenBalances(ctx, m.cfg.TokenA.ATA, m.cfg.TokenB.ATA)
	if err != nil {
		return nil, err
	}
	instrs = m.appendWrapSOL(instrs, m.cfg.TokenA, ataBalA, quote.TokenMaxA)
	instrs = m.appendWrapSOL(instrs, m.cfg.TokenB, ataBalB, quote.TokenMaxB)

	tickArrayLower, err := whirlpool.TickArrayAddress(m.pool.Address(), whirlpool.StartTickIndex(p.tickLower, pool.TickSpacing))
	if err != nil {
		return nil, err
	}
	tickArrayUpper, err := whirlpool.TickArrayAddress(m.pool.Address(), whirlpool.StartTickIndex(p.tickUpper, pool.TickSpacing))
	if err != nil {
		return nil, err
	}
	instrs = append(instrs, m.builder.IncreaseLiquidity(whirlpool.LiquidityParams{
		Liquidity:            quote.Liquidity,
		TokenLimitA:          quote.TokenMaxA,
		TokenLimitB:          quote.TokenMaxB,
		PositionAuthority:    wallet,
		Position:             p.positionAddr,
		PositionTokenAccount: posATA,
		TokenOwnerAccountA:   m.cfg.TokenA.ATA,
		TokenOwnerAccountB:   m.cfg.TokenB.ATA,
		TokenVaultA:          pool.TokenVaultA,
		TokenVaultB:          pool.TokenVaultB,
		TickArrayLower:       tickArrayLower,
		TickArrayUpper:       tickArrayUpper,
	}))

	return m.appendUnwrapSOL(instrs), nil
}

// closeInstructions assembles the full unwind transaction. Returns the
// index of the decrease-liquidity instruction (-1 when the position is
// empty) so a slippage rejection can rebuild just that one.
func (m *Manager) closeInstructions(ctx context.Context, positionAddr solana.PublicKey, pos *whirlpool.Position, pool *whirlpool.Whirlpool) ([]solana.Instruction, int, error) {
	wallet := m.chain.WalletKey()
	posATA, _, err := solana.FindAssociatedTokenAddress(wallet, pos.PositionMint)
	if err != nil {
		return nil, 0, fmt.Errorf("derive position token account: %w", err)
	}
	tickArrayLower, err := whirlpool.TickArrayAddress(m.pool.Address(), whirlpool.StartTickIndex(pos.TickLowerIndex, pool.TickSpacing))
	if err != nil {
		return nil, 0, err
	}
	tickArrayUpper, err := whirlpool.TickArrayAddress(m.pool.Address(), whirlpool.StartTickIndex(pos.TickUpperIndex, pool.TickSpacing))
	if err != nil {
		return nil, 0, err
	}

	var instrs []solana.Instruction
	instrs, err = m.appendEnsureATA(ctx, instrs, m.cfg.TokenA)
	if err != nil {
		return nil, 0, err
	}
	instrs, err = m.appendEnsureATA(ctx, instrs, m.cfg.TokenB)
	if err != nil {
		return nil, 0, err
	}

	hasLiquidity := pos.Liquidity.BigInt().Sign() > 0
	if hasLiquidity {
		instrs = append(instrs, m.builder.UpdateFeesAndRewards(positionAddr, tickArrayLower, tickArrayUpper))
	}

	instrs = append(instrs, m.builder.CollectFees(whirlpool.CollectFeesParams{
		PositionAuthority:    wallet,
		Position:             positionAddr,
		PositionTokenAccount: posATA,
		TokenOwnerAccountA:   m.cfg.TokenA.ATA,
		TokenOwnerAccountB:   m.cfg.TokenB.ATA,
		TokenVaultA:          pool.TokenVaultA,
		TokenVaultB:          pool.TokenVaultB,
	}))

	var rewardCleanup []solana.Instruction
	for i := range pool.RewardInfos {
		reward := pool.RewardInfos[i]
		if !reward.Initialized() {
			continue
		}
		rewardATA, _, err := solana.FindAssociatedTokenAddress(wallet, reward.Mint)
		if err != nil {
			return nil, 0, fmt.Errorf("derive reward token account: %w", err)
		}
		data, err := m.chain.AccountData(ctx, rewardATA)
		if err != nil {
			return nil, 0, err
		}
		if data == nil {
			instrs = append(instrs, associatedtokenaccount.NewCreateInstruction(wallet, wallet, reward.Mint).Build())
			// Only a native SOL account created for this transaction
			// gets closed again: closing unwraps the collected reward,
			// while a non-native account must keep its balance (the
			// token program rejects closing a funded account).
			if reward.Mint.Equals(types.SOLMint) {
				rewardCleanup = append(rewardCleanup, token.NewCloseAccountInstruction(rewardATA, wallet, wallet, nil).Build())
			}
		}
		instrs = append(instrs, m.builder.CollectReward(whirlpool.CollectRewardParams{
			PositionAuthority:    wallet,
			Position:             positionAddr,
			PositionTokenAccount: posATA,
			RewardOwnerAccount:   rewardATA,
			RewardVault:          reward.Vault,
			RewardIndex:          uint8(i),
		}))
	}

	decreaseIdx := -1
	if hasLiquidity {
		decrease, err := m.decreaseInstruction(pool, positionAddr, pos)
		if err != nil {
			return nil, 0, err
		}
		decreaseIdx = len(instrs)
		instrs = append(instrs, decrease)
	}

	instrs = append(instrs, m.builder.ClosePosition(wallet, wallet, positionAddr, pos.PositionMint, posATA))
	instrs = append(instrs, rewardCleanup...)
	return m.appendUnwrapSOL(instrs), decreaseIdx, nil
}

// decreaseInstruction quotes the full withdrawal against the given pool
// state and builds the matching instruction.
func (m *Manager) decreaseInstruction(pool *whirlpool.Whirlpool, positionAddr solana.PublicKey, pos *whirlpool.Position) (solana.Instruction, error) {
	quote, err := whirlpool.DecreaseLiquidityQuote(pool, pos.TickLowerIndex, pos.TickUpperIndex, pos.Liquidity.BigInt(), m.cfg.Slippage)
	if err != nil {
		return nil, err
	}
	wallet := m.chain.WalletKey()
	posATA, _, err := solana.FindAssociatedTokenAddress(wallet, pos.PositionMint)
	if err != nil {
		return nil, fmt.Errorf("derive position token account: %w", err)
	}
	tickArrayLower, err := whirlpool.TickArrayAddress(m.pool.Address(), whirlpool.StartTickIndex(pos.TickLowerIndex, pool.TickSpacing))
	if err != nil {
		return nil, err
	}
	tickArrayUpper, err := whirlpool.TickArrayAddress(m.pool.Address(), whirlpool.StartTickIndex(pos.TickUpperIndex, pool.TickSpacing))
	if err != nil {
		return nil, err
	}
	return m.builder.DecreaseLiquidity(whirlpool.LiquidityParams{
		Liquidity:            quote.Liquidity,
		TokenLimitA:          quote.TokenMinA,
		TokenLimitB:          quote.TokenMinB,
		PositionAuthority:    wallet,
		Position:             positionAddr,
		PositionTokenAccount: posATA,
		TokenOwnerAccountA:   m.cfg.TokenA.ATA,
		TokenOwnerAccountB:   m.cfg.TokenB.ATA,
		TokenVaultA:          pool.TokenVaultA,
		TokenVaultB:          pool.TokenVaultB,
		TickArrayLower:       tickArrayLower,
		TickArrayUpper:       tickArrayUpper,
	}), nil
}

// appendEnsureATA appends a create instruction when the token's
// associated account does not exist yet.
func (m *Manager) appendEnsureATA(ctx context.Context, instrs []solana.Instruction, t types.TokenInfo) ([]solana.Instruction, error) {
	data, err := m.chain.AccountData(ctx, t.ATA)
	if err != nil {
		return nil, err
	}
	if data != nil {
		return instrs, nil
	}
	wallet := m.chain.WalletKey()
	return append(instrs, associatedtokenaccount.NewCreateInstruction(wallet, wallet, t.Mint).Build()), nil
}

// appendWrapSOL tops up a native SOL token account to the required
// amount: transfer lamports in, then sync the wrapped balance.
func (m *Manager) appendWrapSOL(instrs []solana.Instruction, t types.TokenInfo, ataBalance, required uint64) []solana.Instruction {
	if !t.IsSOL() || ataBalance >= required {
		return instrs
	}
	wallet := m.chain.WalletKey()
	return append(instrs,
		system.NewTransferInstruction(required-ataBalance, wallet, t.ATA).Build(),
		token.NewSyncNativeInstruction(t.ATA).Build(),
	)
}

// appendUnwrapSOL closes the wrapped SOL account so leftover lamports
// return to the wallet.
func (m *Manager) appendUnwrapSOL(instrs []solana.Instruction) []solana.Instruction {
	wallet := m.chain.WalletKey()
	for _, t := range []types.TokenInfo{m.cfg.TokenA, m.cfg.TokenB} {
		if t.IsSOL() {
			instrs = append(instrs, token.NewCloseAccountInstruction(t.ATA, wallet, wallet, nil).Build())
		}
	}
	return instrs
}

func (m *Manager) buildTx(instrs []solana.Instruction) (*solana.Transaction, error) {
	tx, err := solana.NewTransaction(instrs, solana.Hash{}, solana.TransactionPayer(m.chain.WalletKey()))
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}
	return tx, nil
}
