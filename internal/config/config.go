// Package config defines all configuration for the trading platform's four
// processes. Config is loaded from a YAML file (default: configs/config.yaml)
// with sensitive fields overridable via DERIV_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
// Not every field is consumed by every process: cmd/feedpublisher only reads
// BrokerAMQPURI/Symbols/BinanceTestnet; cmd/orchestrator additionally needs
// MongoURI, Replay and Strategies.
type Config struct {
	BrokerAMQPURI  string           `mapstructure:"broker_amqp_uri"`
	MongoURI       string           `mapstructure:"mongo_uri"`
	Symbols        []string         `mapstructure:"symbols"`
	BinanceTestnet bool             `mapstructure:"binance_testnet"`
	CandlesLimit   int              `mapstructure:"candles_limit"`
	DepthLimit     int              `mapstructure:"depth_limit"`
	Replay         ReplayConfig     `mapstructure:"replay"`
	Strategies     []StrategyConfig `mapstructure:"strategies"`
	Logging        LoggingConfig    `mapstructure:"logging"`
	HTTP           HTTPConfig       `mapstructure:"http"`
}

// ReplayConfig controls replay mode on cmd/orchestrator (§6.4, §2).
type ReplayConfig struct {
	Enabled bool  `mapstructure:"enabled"`
	Speed   int   `mapstructure:"speed"` // multiplier in [0,100]; 0 means as-fast-as-possible
	From    int64 `mapstructure:"from"`  // ms, inclusive
	To      int64 `mapstructure:"to"`    // ms, inclusive
}

// TakeProfitStep is one rung of a strategy's take-profit ladder (§4.7).
type TakeProfitStep struct {
	Level decimal.Decimal `mapstructure:"level"`
	Stake decimal.Decimal `mapstructure:"stake"`
}

// StopLossConfig is the strategy's fixed stop-loss rule (§4.7).
type StopLossConfig struct {
	Rate decimal.Decimal `mapstructure:"rate"`
}

// StrategyCondition is one signal-evaluation rule (§4.7): an indicator
// evaluated on a timeframe, tested against a boolean expression.
type StrategyCondition struct {
	PositionSide string         `mapstructure:"position_side"`
	OrderSide    string         `mapstructure:"order_side"`
	Indicator    string         `mapstructure:"indicator"`
	Timeframe    string         `mapstructure:"timeframe"`
	Parameters   map[string]any `mapstructure:"parameters"`
	Field        string         `mapstructure:"field"`
	Op           string         `mapstructure:"op"`
	Value        float64        `mapstructure:"value"`
}

// StrategyConfig configures a single Strategy instance (§6.4).
type StrategyConfig struct {
	ID                     string              `mapstructure:"id"`
	Name                   string              `mapstructure:"name"`
	APIKey                 string              `mapstructure:"api_key"`
	APISecret              string              `mapstructure:"api_secret"`
	Symbols                []string            `mapstructure:"symbols"`
	Leverage               int                 `mapstructure:"leverage"`
	BalanceStake           decimal.Decimal     `mapstructure:"balance_stake"`
	Trailing               bool                `mapstructure:"trailing"`
	TrailingCallbackRate   decimal.Decimal     `mapstructure:"trailing_callback_rate"`
	StopLoss               StopLossConfig      `mapstructure:"stop_loss"`
	TakeProfit             []TakeProfitStep    `mapstructure:"take_profit_steps"`
	Conditions             []StrategyCondition `mapstructure:"conditions"`
	ConditionsTriggerCount int                 `mapstructure:"conditions_trigger_count"`
	SaveSignalCandles      int                 `mapstructure:"save_signal_candles"`
}

// LoggingConfig controls the slog handler every process constructs.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// HTTPConfig controls the orchestrator's read-only status endpoint.
type HTTPConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: DERIV_BROKER_AMQP_URI, DERIV_MONGO_URI. Per-
// strategy credentials are expected to already be present in the file: each
// strategy has its own pair, which a flat env-var scheme can't address
// unambiguously.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("DERIV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("candles_limit", 100)
	v.SetDefault("depth_limit", 100)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if uri := os.Getenv("DERIV_BROKER_AMQP_URI"); uri != "" {
		cfg.BrokerAMQPURI = uri
	}
	if uri := os.Getenv("DERIV_MONGO_URI"); uri != "" {
		cfg.MongoURI = uri
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.BrokerAMQPURI == "" {
		return fmt.Errorf("broker_amqp_uri is required (set DERIV_BROKER_AMQP_URI)")
	}
	if c.MongoURI == "" {
		return fmt.Errorf("mongo_uri is required (set DERIV_MONGO_URI)")
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols must list at least one symbol")
	}
	if c.CandlesLimit <= 0 {
		return fmt.Errorf("candles_limit must be > 0")
	}
	if c.DepthLimit <= 0 {
		return fmt.Errorf("depth_limit must be > 0")
	}
	if c.Replay.Enabled {
		if c.Replay.Speed < 0 || c.Replay.Speed > 100 {
			return fmt.Errorf("replay.speed must be in [0,100]")
		}
		if c.Replay.From != 0 && c.Replay.To != 0 && c.Replay.From > c.Replay.To {
			return fmt.Errorf("replay.from must be <= replay.to")
		}
	}
	for _, s := range c.Strategies {
		if err := s.validate(); err != nil {
			return fmt.Errorf("strategy %q: %w", s.ID, err)
		}
	}
	return nil
}

func (s StrategyConfig) validate() error {
	if s.ID == "" {
		return fmt.Errorf("id is required")
	}
	if len(s.Symbols) == 0 {
		return fmt.Errorf("symbols must list at least one symbol")
	}
	if s.Leverage < 1 || s.Leverage > 25 {
		return fmt.Errorf("leverage must be in [1,25]")
	}
	if s.BalanceStake.LessThanOrEqual(decimal.Zero) || s.BalanceStake.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("balance_stake must be in (0,1]")
	}
	if s.Trailing {
		if s.TrailingCallbackRate.LessThanOrEqual(decimal.Zero) || s.TrailingCallbackRate.GreaterThan(decimal.NewFromFloat(0.02)) {
			return fmt.Errorf("trailing_callback_rate must be in (0,0.02]")
		}
	}
	if s.StopLoss.Rate.LessThanOrEqual(decimal.Zero) || s.StopLoss.Rate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("stop_loss.rate must be in (0,1]")
	}
	if len(s.TakeProfit) > 0 {
		sum := decimal.Zero
		for _, step := range s.TakeProfit {
			sum = sum.Add(step.Stake)
		}
		if !sum.Equal(decimal.NewFromInt(1)) {
			return fmt.Errorf("take_profit_steps stakes must sum to 1, got %s", sum)
		}
	}
	if s.ConditionsTriggerCount <= 0 {
		return fmt.Errorf("conditions_trigger_count must be > 0")
	}
	return nil
}
