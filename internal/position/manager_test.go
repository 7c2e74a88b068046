package position

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"testing"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"whirlpool-lp/internal/chain"
	"whirlpool-lp/internal/swap"
	"whirlpool-lp/internal/whirlpool"
	"whirlpool-lp/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, nil))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// fakeChain records submitted transactions and replays scripted
// outcomes, defaulting to success once the script runs out.
type fakeChain struct {
	wallet   solana.PrivateKey
	lamports uint64
	accounts map[solana.PublicKey][]byte
	script   []chain.Outcome
	sent     []*solana.Transaction
	meta     *rpc.TransactionMeta
}

func newFakeChain() *fakeChain {
	w := solana.NewWallet()
	return &fakeChain{
		wallet:   w.PrivateKey,
		accounts: map[solana.PublicKey][]byte{},
		meta:     &rpc.TransactionMeta{},
	}
}

func (f *fakeChain) WalletKey() solana.PublicKey { return f.wallet.PublicKey() }

func (f *fakeChain) Lamports(ctx context.Context, key solana.PublicKey) (uint64, error) {
	return f.lamports, nil
}

func (f *fakeChain) AccountData(ctx context.Context, key solana.PublicKey) ([]byte, error) {
	return f.accounts[key], nil
}

func (f *fakeChain) SignAndSend(ctx context.Context, tx *solana.Transaction, extra ...solana.PrivateKey) (chain.Outcome, error) {
	f.sent = append(f.sent, tx)
	if len(f.script) == 0 {
		return chain.Outcome{Status: chain.StatusSuccess, Meta: f.meta}, nil
	}
	out := f.script[0]
	f.script = f.script[1:]
	return out, nil
}

func (f *fakeChain) SendUntilLanded(ctx context.Context, tx *solana.Transaction, extra ...solana.PrivateKey) (*rpc.TransactionMeta, error) {
	for {
		out, err := f.SignAndSend(ctx, tx, extra...)
		if err != nil {
			return nil, err
		}
		switch out.Status {
		case chain.StatusSuccess:
			return out.Meta, nil
		case chain.StatusExpired:
			continue
		default:
			return nil, fmt.Errorf("transaction failed")
		}
	}
}

// fakePool serves scripted pool and position state. Successive Fetch
// calls walk the pools slice, sticking on the last entry.
type fakePool struct {
	address       solana.PublicKey
	pools         []*whirlpool.Whirlpool
	fetches       int
	position      *whirlpool.Position
	positionReads int
	tickArrays    bool
	balA, balB    uint64
}

func (f *fakePool) Address() solana.PublicKey { return f.address }

func (f *fakePool) Fetch(ctx context.Context) (*whirlpool.Whirlpool, error) {
	i := f.fetches
	if i >= len(f.pools) {
		i = len(f.pools) - 1
	}
	f.fetches++
	return f.pools[i], nil
}

func (f *fakePool) FetchPosition(ctx context.Context, address solana.PublicKey) (*whirlpool.Position, error) {
	f.positionReads++
	return f.position, nil
}

func (f *fakePool) TickArrayExists(ctx context.Context, startTick int32) (solana.PublicKey, bool, error) {
	addr, err := whirlpool.TickArrayAddress(f.address, startTick)
	return addr, f.tickArrays, err
}

func (f *fakePool) TokenBalances(ctx context.Context, accountA, accountB solana.PublicKey) (uint64, uint64, error) {
	return f.balA, f.balB, nil
}

type swapCall struct {
	params swap.Params
}

type fakeSwapper struct {
	calls []swapCall
}

func (f *fakeSwapper) Execute(ctx context.Context, p swap.Params) error {
	f.calls = append(f.calls, swapCall{params: p})
	return nil
}

// u128 builds the on-chain fixed-point value from 64-bit halves.
func u128(hi, lo uint64) bin.Uint128 {
	return bin.Uint128{Hi: hi, Lo: lo}
}

// poolState builds pool state at raw price hi^2 (sqrt price hi << 64)
// with equal token decimals so UI and raw prices coincide.
func poolState(sqrtHi uint64) *whirlpool.Whirlpool {
	return &whirlpool.Whirlpool{
		TickSpacing: 64,
		SqrtPrice:   u128(sqrtHi, 0),
		TokenVaultA: solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112"),
		TokenVaultB: solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"),
	}
}

func testTokens(wallet solana.PublicKey) (types.TokenInfo, types.TokenInfo) {
	mintA := solana.NewWallet().PublicKey()
	ataA, _, _ := solana.FindAssociatedTokenAddress(wallet, mintA)
	ataB, _, _ := solana.FindAssociatedTokenAddress(wallet, types.USDCMint)
	tokenA := types.TokenInfo{Mint: mintA, ATA: ataA, Decimals: 6}
	tokenB := types.TokenInfo{Mint: types.USDCMint, ATA: ataB, Decimals: 6}
	return tokenA, tokenB
}

func testManager(fc *fakeChain, fp *fakePool, fs *fakeSwapper) (*Manager, types.TokenInfo, types.TokenInfo) {
	tokenA, tokenB := testTokens(fc.WalletKey())
	// Token accounts exist so no create instructions are emitted.
	fc.accounts[tokenA.ATA] = []byte{1}
	fc.accounts[tokenB.ATA] = []byte{1}
	m := NewManager(fc, fp, fs, nil, Config{
		TokenA:          tokenA,
		TokenB:          tokenB,
		PositionSizeUSD: 100,
		Slippage:        0.0025,
	}, discardLogger())
	return m, tokenA, tokenB
}

func slippageOutcome(code float64) chain.Outcome {
	return chain.Outcome{
		Status: chain.StatusFailed,
		TxErr: map[string]interface{}{
			"InstructionError": []interface{}{float64(0), map[string]interface{}{"Custom": code}},
		},
	}
}

func testPosition() (*whirlpool.Position, *types.PositionState) {
	mint := solana.NewWallet().PublicKey()
	addr, _, _ := whirlpool.PositionAddress(mint)
	pos := &whirlpool.Position{
		PositionMint:   mint,
		Liquidity:      u128(0, 1<<40),
		TickLowerIndex: 39936,
		TickUpperIndex: 50176,
	}
	return pos, &types.PositionState{
		Address:        addr,
		OpenPrice:      100,
		TickLowerIndex: 39936,
		TickUpperIndex: 50176,
	}
}

func compiledData(tx *solana.Transaction) [][]byte {
	out := make([][]byte, len(tx.Message.Instructions))
	for i := range tx.Message.Instructions {
		out[i] = tx.Message.Instructions[i].Data
	}
	return out
}

func TestOpenFundsDeficitWithUSDC(t *testing.T) {
	t.Parallel()
	fc := newFakeChain()
	fp := &fakePool{
		address:    solana.NewWallet().PublicKey(),
		pools:      []*whirlpool.Whirlpool{poolState(10)}, // raw price 100
		tickArrays: true,
		balA:       0,
		balB:       1_000_000_000,
	}
	fs := &fakeSwapper{}
	m, tokenA, _ := testManager(fc, fp, fs)

	pool := poolState(10)
	state, _, err := m.Open(context.Background(), pool, types.Boundary{
		Price:         100,
		LowerBoundary: 98,
		UpperBoundary: 102,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// The wallet holds no token A; the deficit is the deposit quote's
	// token A maximum for half the USD size in token B.
	lower := whirlpool.InitializableTickIndex(whirlpool.PriceToTickIndex(98, 6, 6), 64)
	upper := whirlpool.InitializableTickIndex(whirlpool.PriceToTickIndex(102, 6, 6), 64)
	quote, err := whirlpool.IncreaseLiquidityQuote(pool, lower, upper, 50_000_000, false, 0.0025)
	if err != nil {
		t.Fatalf("IncreaseLiquidityQuote: %v", err)
	}
	if len(fs.calls) != 1 {
		t.Fatalf("swap calls = %d, want 1", len(fs.calls))
	}
	call := fs.calls[0].params
	if call.Mode != swap.ExactOut {
		t.Errorf("swap mode = %q, want ExactOut", call.Mode)
	}
	if !call.InputMint.Equals(types.USDCMint) || !call.OutputMint.Equals(tokenA.Mint) {
		t.Errorf("swap route %s -> %s, want USDC -> token A", call.InputMint, call.OutputMint)
	}
	if call.AmountRaw != quote.TokenMaxA {
		t.Errorf("deficit = %d, want quote maximum %d", call.AmountRaw, quote.TokenMaxA)
	}

	if len(fc.sent) != 1 {
		t.Fatalf("transactions sent = %d, want 1", len(fc.sent))
	}
	if state.OpenPrice != 100 {
		t.Errorf("OpenPrice = %v, want 100", state.OpenPrice)
	}
	if state.TickLowerIndex >= state.TickUpperIndex {
		t.Errorf("degenerate tick range %d..%d", state.TickLowerIndex, state.TickUpperIndex)
	}
	if state.TickLowerIndex%64 != 0 || state.TickUpperIndex%64 != 0 {
		t.Errorf("ticks %d..%d not on spacing boundaries", state.TickLowerIndex, state.TickUpperIndex)
	}
}

func TestOpenInitializesMissingTickArrays(t *testing.T) {
	t.Parallel()
	fc := newFakeChain()
	fp := &fakePool{
		address:    solana.NewWallet().PublicKey(),
		pools:      []*whirlpool.Whirlpool{poolState(10)},
		tickArrays: false,
		balA:       10_000_000,
		balB:       1_000_000_000,
	}
	m, _, _ := testManager(fc, fp, &fakeSwapper{})

	_, _, err := m.Open(context.Background(), poolState(10), types.Boundary{
		Price:         100,
		LowerBoundary: 98,
		UpperBoundary: 102,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	// A 2% band at this tick spacing sits inside one tick array: one
	// init transaction, then the open.
	if len(fc.sent) != 2 {
		t.Fatalf("transactions sent = %d, want 2 (init array, open)", len(fc.sent))
	}
	if len(fc.sent[0].Message.Instructions) != 1 {
		t.Errorf("init transaction has %d instructions, want 1", len(fc.sent[0].Message.Instructions))
	}
}

func TestOpenFundsQuotedMaximaForSkewedBand(t *testing.T) {
	t.Parallel()
	fc := newFakeChain()
	fp := &fakePool{
		address:    solana.NewWallet().PublicKey(),
		pools:      []*whirlpool.Whirlpool{poolState(10)},
		tickArrays: true,
		balA:       0,
		balB:       1_000_000_000,
	}
	fs := &fakeSwapper{}
	m, _, _ := testManager(fc, fp, fs)

	// A band reaching much further up than down holds mostly token A,
	// so the deposit needs several times the flat USD split of it.
	pool := poolState(10)
	_, _, err := m.Open(context.Background(), pool, types.Boundary{
		Price:         100,
		LowerBoundary: 99,
		UpperBoundary: 105,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	lower := whirlpool.InitializableTickIndex(whirlpool.PriceToTickIndex(99, 6, 6), 64)
	upper := whirlpool.InitializableTickIndex(whirlpool.PriceToTickIndex(105, 6, 6), 64)
	quote, err := whirlpool.IncreaseLiquidityQuote(pool, lower, upper, 50_000_000, false, 0.0025)
	if err != nil {
		t.Fatalf("IncreaseLiquidityQuote: %v", err)
	}
	if len(fs.calls) != 1 {
		t.Fatalf("swap calls = %d, want 1", len(fs.calls))
	}
	got := fs.calls[0].params.AmountRaw
	if got != quote.TokenMaxA {
		t.Errorf("funded amount = %d, want quote maximum %d", got, quote.TokenMaxA)
	}
	if got <= 1_000_000 {
		t.Errorf("funded amount = %d, want well above the flat split of 500000", got)
	}
}

func TestOpenReportsPostTransactionBalances(t *testing.T) {
	t.Parallel()
	fc := newFakeChain()
	fp := &fakePool{
		address:    solana.NewWallet().PublicKey(),
		pools:      []*whirlpool.Whirlpool{poolState(10)},
		tickArrays: true,
		balA:       10_000_000,
		balB:       1_000_000_000,
	}
	m, tokenA, tokenB := testManager(fc, fp, &fakeSwapper{})

	owner := fc.WalletKey()
	other := solana.NewWallet().PublicKey()
	fc.meta = &rpc.TransactionMeta{PostTokenBalances: []rpc.TokenBalance{
		{Mint: tokenA.Mint, Owner: &owner, UiTokenAmount: &rpc.UiTokenAmount{Amount: "400000"}},
		{Mint: tokenB.Mint, Owner: &owner, UiTokenAmount: &rpc.UiTokenAmount{Amount: "49000000"}},
		// Another holder's account in the same transaction is ignored.
		{Mint: tokenB.Mint, Owner: &other, UiTokenAmount: &rpc.UiTokenAmount{Amount: "7"}},
	}}

	_, balances, err := m.Open(context.Background(), poolState(10), types.Boundary{
		Price:         100,
		LowerBoundary: 98,
		UpperBoundary: 102,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if balances.TokenA != 400_000 {
		t.Errorf("TokenA balance = %d, want 400000", balances.TokenA)
	}
	if balances.TokenB != 49_000_000 {
		t.Errorf("TokenB balance = %d, want 49000000", balances.TokenB)
	}
}

func TestCloseRebuildsOnlyDecreaseOnSlippage(t *testing.T) {
	t.Parallel()
	fc := newFakeChain()
	pos, state := testPosition()
	fp := &fakePool{
		address: solana.NewWallet().PublicKey(),
		// Price moves between the first build and the requote, so only
		// the decrease instruction's limits change.
		pools:    []*whirlpool.Whirlpool{poolState(10), poolState(11)},
		position: pos,
	}
	m, _, _ := testManager(fc, fp, &fakeSwapper{})
	fc.script = []chain.Outcome{
		slippageOutcome(6018),
		{Status: chain.StatusSuccess, Meta: &rpc.TransactionMeta{}},
	}

	if err := m.Close(context.Background(), state); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if len(fc.sent) != 2 {
		t.Fatalf("transactions sent = %d, want 2", len(fc.sent))
	}
	if fp.positionReads != 1 {
		t.Errorf("position fetched %d times, want 1 (slippage keeps the attempt)", fp.positionReads)
	}

	first := compiledData(fc.sent[0])
	second := compiledData(fc.sent[1])
	if len(first) != len(second) {
		t.Fatalf("instruction count changed: %d vs %d", len(first), len(second))
	}
	changed := 0
	for i := range first {
		if !bytes.Equal(first[i], second[i]) {
			changed++
		}
	}
	if changed != 1 {
		t.Errorf("%d instructions changed between attempts, want exactly the decrease", changed)
	}
}

func TestCloseRebuildsFullyOnExpiry(t *testing.T) {
	t.Parallel()
	fc := newFakeChain()
	pos, state := testPosition()
	fp := &fakePool{
		address:  solana.NewWallet().PublicKey(),
		pools:    []*whirlpool.Whirlpool{poolState(10)},
		position: pos,
	}
	m, _, _ := testManager(fc, fp, &fakeSwapper{})
	fc.script = []chain.Outcome{
		{Status: chain.StatusExpired},
		{Status: chain.StatusSuccess, Meta: &rpc.TransactionMeta{}},
	}

	if err := m.Close(context.Background(), state); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if fp.positionReads != 2 {
		t.Errorf("position fetched %d times, want 2 (expiry rebuilds from fresh state)", fp.positionReads)
	}
}

func TestCloseFatalOnOtherFailure(t *testing.T) {
	t.Parallel()
	fc := newFakeChain()
	pos, state := testPosition()
	fp := &fakePool{
		address:  solana.NewWallet().PublicKey(),
		pools:    []*whirlpool.Whirlpool{poolState(10)},
		position: pos,
	}
	m, _, _ := testManager(fc, fp, &fakeSwapper{})
	fc.script = []chain.Outcome{slippageOutcome(1)}

	if err := m.Close(context.Background(), state); err == nil {
		t.Error("expected error for non-slippage failure")
	}
	if len(fc.sent) != 1 {
		t.Errorf("transactions sent = %d, want 1 (no retry on fatal failure)", len(fc.sent))
	}
}

func TestCloseUnwrapsInlineSOLRewardAccount(t *testing.T) {
	t.Parallel()
	fc := newFakeChain()
	pos, state := testPosition()
	pool := poolState(10)
	pool.RewardInfos[0] = whirlpool.RewardInfo{Mint: types.SOLMint, Vault: solana.NewWallet().PublicKey()}
	pool.RewardInfos[1] = whirlpool.RewardInfo{Mint: solana.NewWallet().PublicKey(), Vault: solana.NewWallet().PublicKey()}
	fp := &fakePool{
		address:  solana.NewWallet().PublicKey(),
		pools:    []*whirlpool.Whirlpool{pool},
		position: pos,
	}
	m, _, _ := testManager(fc, fp, &fakeSwapper{})

	if err := m.Close(context.Background(), state); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(fc.sent) != 1 {
		t.Fatalf("transactions sent = %d, want 1", len(fc.sent))
	}

	// Both reward accounts are created inline, but only the wrapped SOL
	// one is closed again to unwrap its reward; the other keeps its
	// collected balance.
	msg := fc.sent[0].Message
	closes := 0
	for _, ci := range msg.Instructions {
		prog := msg.AccountKeys[ci.ProgramIDIndex]
		if prog.Equals(solana.TokenProgramID) && len(ci.Data) == 1 && ci.Data[0] == 9 {
			closes++
		}
	}
	if closes != 1 {
		t.Errorf("close-account instructions = %d, want 1 (wrapped SOL reward only)", closes)
	}
}

func TestSweepSwapsNonUSDCToUSDC(t *testing.T) {
	t.Parallel()
	fc := newFakeChain()
	fp := &fakePool{
		address: solana.NewWallet().PublicKey(),
		pools:   []*whirlpool.Whirlpool{poolState(10)},
		balA:    123_456,
		balB:    999_999, // USDC side is never swept
	}
	fs := &fakeSwapper{}
	m, tokenA, _ := testManager(fc, fp, fs)

	if err := m.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(fs.calls) != 1 {
		t.Fatalf("swap calls = %d, want 1", len(fs.calls))
	}
	call := fs.calls[0].params
	if call.Mode != swap.ExactIn {
		t.Errorf("swap mode = %q, want ExactIn", call.Mode)
	}
	if !call.InputMint.Equals(tokenA.Mint) || !call.OutputMint.Equals(types.USDCMint) {
		t.Errorf("swap route %s -> %s, want token A -> USDC", call.InputMint, call.OutputMint)
	}
	if call.AmountRaw != 123_456 {
		t.Errorf("swept amount = %d, want 123456", call.AmountRaw)
	}
}
