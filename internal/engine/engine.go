// Package engine is the central orchestrator of the rebalancer.
//
// It runs one control loop over a single pool:
//
//  1. Load the persisted position record (if any).
//  2. Fetch fresh pool state and quote the current price band.
//  3. With no position: open one around the current price, persist it,
//     then sweep surplus funds back to USDC.
//  4. With a position: hold while the price stays inside the dead band
//     around the open price; otherwise close it and open a fresh one.
//
// The store is only ever written after the corresponding transaction
// has confirmed on-chain: Save after an open confirms, Clear after a
// close confirms. A crash between steps therefore leaves the record
// pointing at a live position or at nothing, never at a phantom.
package engine

import (
	"context"
	"log/slog"
	"time"

	"whirlpool-lp/internal/whirlpool"
	"whirlpool-lp/pkg/types"
)

// PositionManager drives the position lifecycle, satisfied by
// position.Manager.
type PositionManager interface {
	Open(ctx context.Context, pool *whirlpool.Whirlpool, bounds types.Boundary) (*types.PositionState, types.Balances, error)
	Close(ctx context.Context, state *types.PositionState) error
	Sweep(ctx context.Context) error
}

// PoolSource fetches fresh pool state, satisfied by whirlpool.Service.
type PoolSource interface {
	Fetch(ctx context.Context) (*whirlpool.Whirlpool, error)
}

// Store persists the position record, satisfied by store.Store.
type Store interface {
	Load() (*types.PositionState, error)
	Save(pos types.PositionState) error
	Clear() error
}

// Config tunes the control loop.
type Config struct {
	PollInterval time.Duration
	// LowerPct/UpperPct define the position band around the open price.
	LowerPct float64
	UpperPct float64
	// DeadBandFactor scales the band into the hold region, so a
	// rebalance triggers slightly before the position actually exits
	// its range.
	DeadBandFactor float64
}

// Engine runs the rebalance control loop.
type Engine struct {
	cfg     Config
	manager PositionManager
	pool    PoolSource
	quoter  whirlpool.Quoter
	store   Store
	logger  *slog.Logger
}

// New wires the engine.
func New(cfg Config, manager PositionManager, pool PoolSource, quoter whirlpool.Quoter, st Store, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		manager: manager,
		pool:    pool,
		quoter:  quoter,
		store:   st,
		logger:  logger.With("component", "engine"),
	}
}

// Run polls until ctx is cancelled or a tick fails terminally. A failed
// transaction inside a tick is fatal: the loop never guesses at the
// on-chain state after an unclassified failure.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("rebalance loop started", "poll_interval", e.cfg.PollInterval.String())

	if err := e.tick(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := e.tick(ctx); err != nil {
				return err
			}
		}
	}
}

// tick performs one poll: hold, open, or close-then-open.
func (e *Engine) tick(ctx context.Context) error {
	state, err := e.store.Load()
	if err != nil {
		return err
	}

	pool, err := e.pool.Fetch(ctx)
	if err != nil {
		return err
	}
	bounds := e.quoter.Boundaries(pool)

	if state == nil {
		return e.open(ctx, pool, bounds)
	}

	band := e.deadBand(state.OpenPrice)
	if band.Contains(bounds.Price) {
		e.logger.Debug("price inside dead band, holding",
			"price", bounds.Price,
			"open_price", state.OpenPrice,
			"band_lower", band.LowerBoundary,
			"band_upper", band.UpperBoundary)
		return nil
	}

	e.logger.Info("price left dead band, rebalancing",
		"price", bounds.Price,
		"open_price", state.OpenPrice,
		"band_lower", band.LowerBoundary,
		"band_upper", band.UpperBoundary)

	if err := e.manager.Close(ctx, state); err != nil {
		return err
	}
	if err := e.store.Clear(); err != nil {
		return err
	}

	// The close moved funds and possibly the price; open against fresh
	// state rather than the pre-close snapshot.
	pool, err = e.pool.Fetch(ctx)
	if err != nil {
		return err
	}
	return e.open(ctx, pool, e.quoter.Boundaries(pool))
}

// open opens a position, persists it once confirmed, then sweeps any
// surplus back to USDC.
func (e *Engine) open(ctx context.Context, pool *whirlpool.Whirlpool, bounds types.Boundary) error {
	state, balances, err := e.manager.Open(ctx, pool, bounds)
	if err != nil {
		return err
	}
	if err := e.store.Save(*state); err != nil {
		return err
	}
	e.logger.Info("post-open balances",
		"token_a", balances.TokenA,
		"token_b", balances.TokenB)
	// Sweep failures leave surplus in the wallet; the position itself is
	// already live and persisted.
	if err := e.manager.Sweep(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.logger.Warn("surplus sweep failed", "error", err)
	}
	return nil
}

// deadBand is the hold region around the open price: the position band
// shrunk by the dead-band factor.
func (e *Engine) deadBand(openPrice float64) types.Boundary {
	return types.Boundary{
		Price:         openPrice,
		LowerBoundary: openPrice * (1 - e.cfg.LowerPct*e.cfg.DeadBandFactor),
		UpperBoundary: openPrice * (1 + e.cfg.UpperPct*e.cfg.DeadBandFactor),
	}
}
