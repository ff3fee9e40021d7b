package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"stacklend/internal/api"
	"stacklend/internal/config"
	"stacklend/internal/oracle"
	"stacklend/internal/relayer"
	"stacklend/internal/stacks"
	"stacklend/internal/state"
	"stacklend/internal/sui"
	"stacklend/internal/telemetry"
)

func main() {
	root := &cobra.Command{
		Use:          "relayer",
		Short:        "Stacks to Sui collateral relayer",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the relayer and its API",
		RunE:  runRelayer,
	}

	runCmd.Flags().Int("port", 3001, "API listen port")
	runCmd.Flags().StringSlice("cors-origins", nil, "allowed CORS origins (comma-separated)")
	runCmd.Flags().String("stacks-api-url", "https://api.testnet.hiro.so", "Stacks API base URL")
	runCmd.Flags().String("stacks-network", "testnet", "Stacks network (mainnet, testnet)")
	runCmd.Flags().String("stacks-contract", "", "collateral contract (address.contract-name)")
	runCmd.Flags().Uint64("stacks-confirmations", 0, "confirmations before an event is final")
	runCmd.Flags().String("sui-rpc-url", "https://fullnode.testnet.sui.io:443", "Sui fullnode RPC URL")
	runCmd.Flags().String("sui-registry-id", "", "borrow registry object id")
	runCmd.Flags().String("sui-package-id", "", "lending package id")
	runCmd.Flags().Duration("poll-interval", 5*time.Second, "Stacks poll interval")
	runCmd.Flags().Duration("price-interval", time.Minute, "price refresh interval")
	runCmd.Flags().Duration("event-delay", time.Second, "delay between events in a batch")
	runCmd.Flags().String("state-file", "./relayer-state.json", "state file path")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN (optional, replaces the state file)")
	runCmd.Flags().String("coingecko-api-key", "", "CoinGecko API key (optional)")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "Print the persisted relayer state",
		RunE:  printState,
	}

	stateCmd.Flags().String("state-file", "./relayer-state.json", "state file path")

	root.AddCommand(stateCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runRelayer(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store state.Store
	if cfg.PgDSN != "" {
		pgStore, err := state.NewPostgresStore(ctx, cfg.PgDSN, logger)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pgStore.Close()
		store = pgStore
	} else {
		store = state.NewFileStore(cfg.StateFile, logger)
	}

	stacksClient := stacks.NewClient(cfg.StacksAPIURL)
	monitor := stacks.NewMonitor(stacksClient, cfg.StacksContract, cfg.StacksConfirmations, logger)

	signer, err := stacks.NewSigner(cfg.StacksPrivateKey, cfg.StacksNetwork)
	if err != nil {
		return fmt.Errorf("load stacks key: %w", err)
	}
	unlocker := stacks.NewUnlocker(stacksClient, signer, cfg.StacksContract, logger)

	suiClient, err := sui.NewClient(ctx, cfg.SuiRPCURL, cfg.SuiPrivateKey,
		cfg.SuiRegistryID, cfg.SuiPackageID, logger)
	if err != nil {
		return fmt.Errorf("connect sui rpc: %w", err)
	}
	defer suiClient.Close()

	prices := oracle.NewClient(cfg.CoingeckoAPIKey, logger)

	registry := prometheus.NewRegistry()
	metrics := telemetry.New(registry)

	apiServer := api.NewServer(api.Config{
		Port:        cfg.Port,
		CORSOrigins: cfg.CORSOrigins,
	}, store, suiClient, suiClient, unlocker, monitor, registry, logger)

	relay := relayer.New(relayer.Config{
		PollInterval:  cfg.PollInterval,
		PriceInterval: cfg.PriceInterval,
		EventDelay:    cfg.EventDelay,
	}, store, monitor, suiClient, unlocker, prices, apiServer.NotifyRegistration, metrics, logger)

	logger.Info("relayer start",
		zap.String("stacks_api", cfg.StacksAPIURL),
		zap.String("stacks_contract", cfg.StacksContract),
		zap.String("stacks_relayer", signer.Address()),
		zap.String("sui_rpc", cfg.SuiRPCURL),
		zap.String("sui_relayer", suiClient.Address()),
		zap.Int("api_port", cfg.Port),
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return apiServer.Run(groupCtx) })
	group.Go(func() error { return relay.Run(groupCtx) })

	return group.Wait()
}

func printState(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("state-file")

	store := state.NewFileStore(path, zap.NewNop())
	st := store.Load()

	out, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	return nil
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
