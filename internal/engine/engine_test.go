package engine

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"testing"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"whirlpool-lp/internal/whirlpool"
	"whirlpool-lp/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, nil))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// fakeManager records lifecycle calls in order.
type fakeManager struct {
	calls   []string
	openErr error
	state   types.PositionState
}

func (f *fakeManager) Open(ctx context.Context, pool *whirlpool.Whirlpool, bounds types.Boundary) (*types.PositionState, types.Balances, error) {
	f.calls = append(f.calls, "open")
	if f.openErr != nil {
		return nil, types.Balances{}, f.openErr
	}
	s := f.state
	s.OpenPrice = bounds.Price
	return &s, types.Balances{}, nil
}

func (f *fakeManager) Close(ctx context.Context, state *types.PositionState) error {
	f.calls = append(f.calls, "close")
	return nil
}

func (f *fakeManager) Sweep(ctx context.Context) error {
	f.calls = append(f.calls, "sweep")
	return nil
}

type fakePool struct {
	pool *whirlpool.Whirlpool
}

func (f *fakePool) Fetch(ctx context.Context) (*whirlpool.Whirlpool, error) {
	return f.pool, nil
}

// fakeStore records persistence calls in order.
type fakeStore struct {
	state *types.PositionState
	calls []string
}

func (f *fakeStore) Load() (*types.PositionState, error) {
	f.calls = append(f.calls, "load")
	return f.state, nil
}

func (f *fakeStore) Save(pos types.PositionState) error {
	f.calls = append(f.calls, "save")
	f.state = &pos
	return nil
}

func (f *fakeStore) Clear() error {
	f.calls = append(f.calls, "clear")
	f.state = nil
	return nil
}

// poolAtPrice builds pool state whose raw price is sqrtHi^2 (equal
// token decimals keep UI and raw prices equal).
func poolAtPrice(sqrtHi uint64) *whirlpool.Whirlpool {
	return &whirlpool.Whirlpool{SqrtPrice: bin.Uint128{Hi: sqrtHi}}
}

func testEngine(fm *fakeManager, fp *fakePool, fs *fakeStore) *Engine {
	quoter := whirlpool.BandQuoter{LowerPct: 0.02, UpperPct: 0.025, DecimalsA: 6, DecimalsB: 6}
	return New(Config{
		LowerPct:       0.02,
		UpperPct:       0.025,
		DeadBandFactor: 0.9,
	}, fm, fp, quoter, fs, discardLogger())
}

func TestTickOpensWhenFlat(t *testing.T) {
	t.Parallel()
	fm := &fakeManager{state: types.PositionState{Address: solana.NewWallet().PublicKey()}}
	fs := &fakeStore{}
	e := testEngine(fm, &fakePool{pool: poolAtPrice(10)}, fs)

	if err := e.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	wantMgr := []string{"open", "sweep"}
	if len(fm.calls) != len(wantMgr) {
		t.Fatalf("manager calls = %v, want %v", fm.calls, wantMgr)
	}
	for i := range wantMgr {
		if fm.calls[i] != wantMgr[i] {
			t.Fatalf("manager calls = %v, want %v", fm.calls, wantMgr)
		}
	}
	if fs.state == nil {
		t.Fatal("position not persisted after open")
	}
	if fs.state.OpenPrice != 100 {
		t.Errorf("persisted OpenPrice = %v, want 100", fs.state.OpenPrice)
	}
}

func TestTickHoldsInsideDeadBand(t *testing.T) {
	t.Parallel()
	// Open price 100, band 2%/2.5%, factor 0.9: hold within 98.2..102.25.
	fm := &fakeManager{}
	fs := &fakeStore{state: &types.PositionState{OpenPrice: 100}}
	// sqrtHi 10 squared plus a drift inside the band: use raw sqrt price
	// of sqrt(101.5) scaled into the fixed point.
	pool := &whirlpool.Whirlpool{SqrtPrice: sqrtPriceForRaw(101.5)}
	e := testEngine(fm, &fakePool{pool: pool}, fs)

	if err := e.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(fm.calls) != 0 {
		t.Errorf("manager calls = %v, want none while holding", fm.calls)
	}
	if fs.state == nil || fs.state.OpenPrice != 100 {
		t.Error("persisted record must be untouched while holding")
	}
}

func TestTickRebalancesOutsideDeadBand(t *testing.T) {
	t.Parallel()
	for _, price := range []float64{103, 97} {
		fm := &fakeManager{state: types.PositionState{Address: solana.NewWallet().PublicKey()}}
		fs := &fakeStore{state: &types.PositionState{OpenPrice: 100}}
		e := testEngine(fm, &fakePool{pool: &whirlpool.Whirlpool{SqrtPrice: sqrtPriceForRaw(price)}}, fs)

		if err := e.tick(context.Background()); err != nil {
			t.Fatalf("price %v: tick: %v", price, err)
		}

		wantMgr := []string{"close", "open", "sweep"}
		if len(fm.calls) != len(wantMgr) {
			t.Fatalf("price %v: manager calls = %v, want %v", price, fm.calls, wantMgr)
		}
		for i := range wantMgr {
			if fm.calls[i] != wantMgr[i] {
				t.Fatalf("price %v: manager calls = %v, want %v", price, fm.calls, wantMgr)
			}
		}

		// Clear lands after the close confirms and before the new save.
		wantStore := []string{"load", "clear", "save"}
		if len(fs.calls) != len(wantStore) {
			t.Fatalf("price %v: store calls = %v, want %v", price, fs.calls, wantStore)
		}
		for i := range wantStore {
			if fs.calls[i] != wantStore[i] {
				t.Fatalf("price %v: store calls = %v, want %v", price, fs.calls, wantStore)
			}
		}
		// The fixed-point round trip loses a few ulps of the price.
		if fs.state == nil || math.Abs(fs.state.OpenPrice-price) > price*1e-9 {
			t.Errorf("price %v: persisted record not replaced", price)
		}
	}
}

func TestTickDoesNotPersistFailedOpen(t *testing.T) {
	t.Parallel()
	fm := &fakeManager{openErr: errors.New("deposit failed")}
	fs := &fakeStore{state: &types.PositionState{OpenPrice: 100}}
	e := testEngine(fm, &fakePool{pool: &whirlpool.Whirlpool{SqrtPrice: sqrtPriceForRaw(110)}}, fs)

	if err := e.tick(context.Background()); err == nil {
		t.Fatal("expected open failure to propagate")
	}
	if fs.state != nil {
		t.Error("store must stay cleared when the reopen fails")
	}
	for _, call := range fs.calls {
		if call == "save" {
			t.Error("failed open must never be persisted")
		}
	}
}

// sqrtPriceForRaw converts a raw price to the pool's fixed point,
// accurate enough for band comparisons.
func sqrtPriceForRaw(raw float64) bin.Uint128 {
	s := math.Sqrt(raw)
	hi := uint64(s)
	frac := s - float64(hi)
	return bin.Uint128{Hi: hi, Lo: uint64(frac * (1 << 63) * 2)}
}
