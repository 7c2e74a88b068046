// Package config defines all configuration for the rebalancer.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via WLP_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Wallet   WalletConfig   `mapstructure:"wallet"`
	RPC      RPCConfig      `mapstructure:"rpc"`
	Pool     PoolConfig     `mapstructure:"pool"`
	API      APIConfig      `mapstructure:"api"`
	Strategy StrategyConfig `mapstructure:"strategy"`
	Store    StoreConfig    `mapstructure:"store"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// WalletConfig points at the Solana keypair that owns the position and
// signs every transaction.
type WalletConfig struct {
	KeyPath string `mapstructure:"key_path"`
}

// RPCConfig holds the Solana RPC endpoint.
type RPCConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

// PoolConfig selects the whirlpool the bot provides liquidity to.
type PoolConfig struct {
	Address string `mapstructure:"address"`
}

// APIConfig holds the external HTTP API base URLs. Empty fields fall
// back to the public production endpoints.
type APIConfig struct {
	OrcaMetaBaseURL  string `mapstructure:"orca_meta_base_url"`
	JupiterBaseURL   string `mapstructure:"jupiter_base_url"`
	CoingeckoBaseURL string `mapstructure:"coingecko_base_url"`
}

// StrategyConfig tunes the rebalancing behavior.
//
//   - PositionSizeUSD:  total USD value deposited per position, split
//     evenly across the two pool tokens.
//   - LowerBoundaryPct / UpperBoundaryPct: position band around the
//     price at open, e.g. 0.02 places the lower bound 2% below.
//   - DeadBandFactor: fraction of the band that counts as "in range"
//     for the hold decision; a rebalance fires slightly before the
//     position actually stops earning.
//   - PollInterval: how often pool state is checked.
//   - SlippageTolerance: bound on deposit maxima and withdrawal minima.
//   - MinSOLBalanceLamports: lamports always kept unwrapped for fees
//     and rent.
type StrategyConfig struct {
	PositionSizeUSD       float64       `mapstructure:"position_size_usd"`
	LowerBoundaryPct      float64       `mapstructure:"lower_boundary_pct"`
	UpperBoundaryPct      float64       `mapstructure:"upper_boundary_pct"`
	DeadBandFactor        float64       `mapstructure:"dead_band_factor"`
	PollInterval          time.Duration `mapstructure:"poll_interval"`
	SlippageTolerance     float64       `mapstructure:"slippage_tolerance"`
	MinSOLBalanceLamports uint64        `mapstructure:"min_sol_balance_lamports"`
}

// StoreConfig sets where the position record is persisted.
type StoreConfig struct {
	StatePath string `mapstructure:"state_path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: WLP_WALLET_KEY_PATH, WLP_RPC_ENDPOINT.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("WLP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("strategy.poll_interval", 60*time.Second)
	v.SetDefault("strategy.slippage_tolerance", 0.0025)
	v.SetDefault("strategy.dead_band_factor", 0.9)
	v.SetDefault("strategy.min_sol_balance_lamports", 70_000_000)
	v.SetDefault("store.state_path", "data/position.json")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if keyPath := os.Getenv("WLP_WALLET_KEY_PATH"); keyPath != "" {
		cfg.Wallet.KeyPath = keyPath
	}
	if endpoint := os.Getenv("WLP_RPC_ENDPOINT"); endpoint != "" {
		cfg.RPC.Endpoint = endpoint
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Wallet.KeyPath == "" {
		return fmt.Errorf("wallet.key_path is required (set WLP_WALLET_KEY_PATH)")
	}
	if c.RPC.Endpoint == "" {
		return fmt.Errorf("rpc.endpoint is required (set WLP_RPC_ENDPOINT)")
	}
	if c.Pool.Address == "" {
		return fmt.Errorf("pool.address is required")
	}
	if _, err := solana.PublicKeyFromBase58(c.Pool.Address); err != nil {
		return fmt.Errorf("pool.address is not a valid public key: %w", err)
	}
	if c.Strategy.PositionSizeUSD <= 0 {
		return fmt.Errorf("strategy.position_size_usd must be > 0")
	}
	if c.Strategy.LowerBoundaryPct <= 0 || c.Strategy.LowerBoundaryPct >= 1 {
		return fmt.Errorf("strategy.lower_boundary_pct must be in (0, 1)")
	}
	if c.Strategy.UpperBoundaryPct <= 0 || c.Strategy.UpperBoundaryPct >= 1 {
		return fmt.Errorf("strategy.upper_boundary_pct must be in (0, 1)")
	}
	if c.Strategy.DeadBandFactor <= 0 || c.Strategy.DeadBandFactor > 1 {
		return fmt.Errorf("strategy.dead_band_factor must be in (0, 1]")
	}
	if c.Strategy.PollInterval <= 0 {
		return fmt.Errorf("strategy.poll_interval must be > 0")
	}
	if c.Strategy.SlippageTolerance < 0 || c.Strategy.SlippageTolerance >= 1 {
		return fmt.Errorf("strategy.slippage_tolerance must be in [0, 1)")
	}
	return nil
}

// PoolAddress returns the configured pool key. Validate must have
// accepted the config first.
func (c *Config) PoolAddress() solana.PublicKey {
	return solana.MustPublicKeyFromBase58(c.Pool.Address)
}
