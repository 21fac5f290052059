package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	Network   string
	RPCURL    string
	WalletKey string

	PoolAddress string
	PositionID  string

	Interval           time.Duration
	RebalanceThreshold float64
	MaxSlippage        float64
	GasBudget          uint64
	GasReserve         string
	DryRun             bool

	LowerTick       int
	UpperTick       int
	TickOverrideSet bool
	RangeWidth      int

	AmountA string
	AmountB string

	RemoveMaxRetries   int
	RemoveRetryBackoff time.Duration
	AddMaxRetries      int
	AddRetryDelay      time.Duration
	SwapBufferPct      int
	StrictTickCheck    bool

	HistoryOut string
	PGDSN      string
	LogLevel   string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RANGEPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("network", "mainnet")
	v.SetDefault("interval", time.Minute)
	v.SetDefault("max-slippage", 0.01)
	v.SetDefault("gas-budget", uint64(1_000_000))
	v.SetDefault("gas-reserve", "50000000000000000")
	v.SetDefault("remove-max-retries", 5)
	v.SetDefault("remove-retry-backoff", 500*time.Millisecond)
	v.SetDefault("add-max-retries", 5)
	v.SetDefault("add-retry-delay", 2*time.Second)
	v.SetDefault("swap-buffer-pct", 10)
	v.SetDefault("history-out", "./data/cycles.jsonl")
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		Network:            v.GetString("network"),
		RPCURL:             v.GetString("rpc"),
		WalletKey:          v.GetString("wallet-key"),
		PoolAddress:        v.GetString("pool"),
		PositionID:         v.GetString("position-id"),
		Interval:           v.GetDuration("interval"),
		RebalanceThreshold: v.GetFloat64("rebalance-threshold"),
		MaxSlippage:        v.GetFloat64("max-slippage"),
		GasBudget:          v.GetUint64("gas-budget"),
		GasReserve:         v.GetString("gas-reserve"),
		DryRun:             v.GetBool("dry-run"),
		LowerTick:          v.GetInt("lower-tick"),
		UpperTick:          v.GetInt("upper-tick"),
		TickOverrideSet:    v.IsSet("lower-tick") && v.IsSet("upper-tick"),
		RangeWidth:         v.GetInt("range-width"),
		AmountA:            v.GetString("amount-a"),
		AmountB:            v.GetString("amount-b"),
		RemoveMaxRetries:   v.GetInt("remove-max-retries"),
		RemoveRetryBackoff: v.GetDuration("remove-retry-backoff"),
		AddMaxRetries:      v.GetInt("add-max-retries"),
		AddRetryDelay:      v.GetDuration("add-retry-delay"),
		SwapBufferPct:      v.GetInt("swap-buffer-pct"),
		StrictTickCheck:    v.GetBool("strict-tick-check"),
		HistoryOut:         v.GetString("history-out"),
		PGDSN:              v.GetString("pg-dsn"),
		LogLevel:           v.GetString("log-level"),
	}

	return cfg, nil
}

// GasReserveInt parses the gas reserve; nil when unset or unparsable.
func (c Config) GasReserveInt() *big.Int {
	if c.GasReserve == "" {
		return nil
	}
	reserve, ok := new(big.Int).SetString(c.GasReserve, 10)
	if !ok || reserve.Sign() < 0 {
		return nil
	}
	return reserve
}

// AmountOverride parses a configured fixed deployment amount; nil when the
// value is unset, zero, or unparsable.
func AmountOverride(raw string) *big.Int {
	if raw == "" {
		return nil
	}
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() <= 0 {
		return nil
	}
	return amount
}
