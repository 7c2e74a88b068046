// Whirlpool LP Rebalancer — an automated liquidity-provision bot for a
// single Orca Whirlpool concentrated-liquidity pool on Solana.
//
// Architecture:
//
//	main.go              — entry point: loads config, wires components, waits for SIGINT/SIGTERM
//	engine/engine.go     — control loop: poll price, hold / open / close-then-reopen
//	position/manager.go  — position lifecycle: funding swaps, composite open/close transactions
//	whirlpool/           — pool account decoding, tick and liquidity math, instruction building
//	swap/jupiter.go      — token swaps through the Jupiter aggregator with re-quote on slippage
//	pricing/coingecko.go — USD prices for pools without a USDC side
//	chain/               — RPC access, retried reads, and the submit/confirm engine
//	store/store.go       — JSON file persistence for the open position (survives restarts)
//
// How it makes money:
//
//	The bot deposits both pool tokens into a narrow price band around
//	the current price, where concentrated liquidity earns outsized
//	trading fees. When the price drifts out of the band the position
//	stops earning, so the bot withdraws everything (fees and rewards
//	included) and re-centers a fresh position around the new price.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gagliardetto/solana-go"

	"whirlpool-lp/internal/chain"
	"whirlpool-lp/internal/config"
	"whirlpool-lp/internal/engine"
	"whirlpool-lp/internal/position"
	"whirlpool-lp/internal/pricing"
	"whirlpool-lp/internal/store"
	"whirlpool-lp/internal/swap"
	"whirlpool-lp/internal/whirlpool"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("WLP_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	wallet, err := solana.PrivateKeyFromSolanaKeygenFile(cfg.Wallet.KeyPath)
	if err != nil {
		logger.Error("failed to load wallet key", "error", err, "path", cfg.Wallet.KeyPath)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := chain.New(cfg.RPC.Endpoint, wallet, logger)
	service := whirlpool.NewService(client, cfg.PoolAddress())

	meta := whirlpool.NewMetaClient(orDefault(cfg.API.OrcaMetaBaseURL, whirlpool.DefaultMetaBaseURL))
	tokenA, tokenB, err := meta.TokenPair(ctx, cfg.PoolAddress(), wallet.PublicKey())
	if err != nil {
		logger.Error("failed to resolve pool tokens", "error", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.Store.StatePath)
	if err != nil {
		logger.Error("failed to open position store", "error", err)
		os.Exit(1)
	}

	swapper := swap.NewExecutor(
		orDefault(cfg.API.JupiterBaseURL, swap.DefaultBaseURL),
		client, wallet.PublicKey(), logger)
	pricer := pricing.New(orDefault(cfg.API.CoingeckoBaseURL, pricing.DefaultBaseURL))

	manager := position.NewManager(client, service, swapper, pricer, position.Config{
		TokenA:          tokenA,
		TokenB:          tokenB,
		PositionSizeUSD: cfg.Strategy.PositionSizeUSD,
		Slippage:        cfg.Strategy.SlippageTolerance,
		MinSOLBalance:   cfg.Strategy.MinSOLBalanceLamports,
	}, logger)

	quoter := whirlpool.BandQuoter{
		LowerPct:  cfg.Strategy.LowerBoundaryPct,
		UpperPct:  cfg.Strategy.UpperBoundaryPct,
		DecimalsA: tokenA.Decimals,
		DecimalsB: tokenB.Decimals,
	}

	eng := engine.New(engine.Config{
		PollInterval:   cfg.Strategy.PollInterval,
		LowerPct:       cfg.Strategy.LowerBoundaryPct,
		UpperPct:       cfg.Strategy.UpperBoundaryPct,
		DeadBandFactor: cfg.Strategy.DeadBandFactor,
	}, manager, service, quoter, st, logger)

	logger.Info("whirlpool lp rebalancer started",
		"pool", cfg.Pool.Address,
		"wallet", wallet.PublicKey().String(),
		"position_size_usd", cfg.Strategy.PositionSizeUSD,
		"poll_interval", cfg.Strategy.PollInterval.String(),
	)

	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("engine stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
