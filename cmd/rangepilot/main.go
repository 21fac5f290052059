package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"rangepilot/internal/amm"
	"rangepilot/internal/chain"
	"rangepilot/internal/config"
	"rangepilot/internal/executor"
	"rangepilot/internal/model"
	"rangepilot/internal/monitor"
	"rangepilot/internal/rebalance"
	"rangepilot/internal/storage"
	"rangepilot/internal/storage/postgres"
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:          "rangepilot",
		Short:        "Concentrated-liquidity position rebalancer",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the rebalance loop",
		RunE:  runLoop,
	}
	addAgentFlags(runCmd)
	root.AddCommand(runCmd)

	onceCmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single rebalance cycle and exit",
		RunE:  runOnce,
	}
	addAgentFlags(onceCmd)
	root.AddCommand(onceCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addAgentFlags(cmd *cobra.Command) {
	cmd.Flags().String("network", "mainnet", "target network (mainnet, testnet)")
	cmd.Flags().String("rpc", "", "RPC URL override")
	cmd.Flags().String("wallet-key", "", "wallet private key (hex)")
	cmd.Flags().String("pool", "", "pool address to manage")
	cmd.Flags().String("position-id", "", "explicit position id to track")
	cmd.Flags().Duration("interval", time.Minute, "polling interval")
	cmd.Flags().Float64("rebalance-threshold", 0, "edge-proximity rebalance trigger as a width fraction (0 disables)")
	cmd.Flags().Float64("max-slippage", 0.01, "max slippage fraction for add payloads")
	cmd.Flags().Uint64("gas-budget", 1_000_000, "per-transaction gas budget")
	cmd.Flags().String("gas-reserve", "50000000000000000", "native balance kept back for gas (wei)")
	cmd.Flags().Bool("dry-run", false, "compute and report without submitting transactions")
	cmd.Flags().Int("lower-tick", 0, "explicit target lower tick (requires upper-tick)")
	cmd.Flags().Int("upper-tick", 0, "explicit target upper tick (requires lower-tick)")
	cmd.Flags().Int("range-width", 0, "target range width in ticks (0 preserves the position's width)")
	cmd.Flags().String("amount-a", "", "fixed token A deployment amount")
	cmd.Flags().String("amount-b", "", "fixed token B deployment amount")
	cmd.Flags().Int("remove-max-retries", 5, "max retries for removal submissions")
	cmd.Flags().Duration("remove-retry-backoff", 500*time.Millisecond, "initial removal retry backoff")
	cmd.Flags().Int("add-max-retries", 5, "max retries for add submissions")
	cmd.Flags().Duration("add-retry-delay", 2*time.Second, "fixed delay between add retries")
	cmd.Flags().Int("swap-buffer-pct", 10, "recovery swap buffer percentage")
	cmd.Flags().Bool("strict-tick-check", false, "re-validate the target range right before submission")
	cmd.Flags().String("history-out", "./data/cycles.jsonl", "cycle history JSONL path (empty disables)")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN for cycle history (empty disables)")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
}

func runLoop(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner, cleanup, err := buildRunner(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runOnce(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner, cleanup, err := buildRunner(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	res := runner.RunOnce(ctx)
	if res == nil {
		fmt.Println("no-op")
		return nil
	}
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if !res.Success {
		return fmt.Errorf("cycle failed: %s", res.Message)
	}
	return nil
}

func buildRunner(ctx context.Context, cmd *cobra.Command) (*rebalance.Runner, func(), error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	if cfg.PoolAddress == "" {
		return nil, nil, fmt.Errorf("pool address is required")
	}
	if cfg.WalletKey == "" {
		return nil, nil, fmt.Errorf("wallet key is required")
	}

	net, err := chain.LookupNetwork(cfg.Network)
	if err != nil {
		return nil, nil, err
	}
	rpcURL := cfg.RPCURL
	if rpcURL == "" {
		rpcURL = net.DefaultRPC
	}
	router := common.HexToAddress(net.Router)

	client, err := chain.NewEthClient(ctx, rpcURL, cfg.WalletKey, router, cfg.GasBudget, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect rpc: %w", err)
	}

	sdk := amm.NewRouter(router, client, logger)

	remover := executor.NewRemover(client, sdk, cfg.RemoveMaxRetries, cfg.RemoveRetryBackoff, logger)
	deployer := executor.NewDeployer(client, sdk, executor.DeployConfig{
		Slippage:        cfg.MaxSlippage,
		GasReserve:      cfg.GasReserveInt(),
		MaxRetries:      cfg.AddMaxRetries,
		RetryDelay:      cfg.AddRetryDelay,
		SwapBufferPct:   int64(cfg.SwapBufferPct),
		StrictTickCheck: cfg.StrictTickCheck,
		AmountAOverride: config.AmountOverride(cfg.AmountA),
		AmountBOverride: config.AmountOverride(cfg.AmountB),
	}, logger)

	var tickOverride *model.TickRange
	if cfg.TickOverrideSet {
		tickOverride = &model.TickRange{Lower: int32(cfg.LowerTick), Upper: int32(cfg.UpperTick)}
	}

	orch := rebalance.New(client, remover, deployer, rebalance.Config{
		DryRun:       cfg.DryRun,
		PositionID:   cfg.PositionID,
		TickOverride: tickOverride,
		RangeWidth:   int32(cfg.RangeWidth),
		Policy:       monitor.Policy{Threshold: cfg.RebalanceThreshold},
	}, logger)

	sinks := make([]storage.Storage, 0, 2)
	if cfg.HistoryOut != "" {
		sinks = append(sinks, storage.NewJsonlStorage(cfg.HistoryOut))
	}
	var pgStore *postgres.Store
	if cfg.PGDSN != "" {
		pgStore, err = postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		sinks = append(sinks, pgStore)
	}

	runner := rebalance.NewRunner(rebalance.RunConfig{
		PoolAddress: cfg.PoolAddress,
		Interval:    cfg.Interval,
	}, orch, sinks, logger)

	logger.Info("agent configured",
		zap.String("network", net.Name),
		zap.String("pool", cfg.PoolAddress),
		zap.String("owner", client.OwnerAddress()),
		zap.Bool("dry_run", cfg.DryRun),
		zap.Duration("interval", cfg.Interval),
	)

	cleanup := func() {
		if pgStore != nil {
			pgStore.Close()
		}
		client.Close()
		_ = logger.Sync()
	}
	return runner, cleanup, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
