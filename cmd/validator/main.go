// cmd/validator/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"dexnet/pkg/chain"
	"dexnet/pkg/config"
	"dexnet/pkg/ledger"
	"dexnet/pkg/p2p"
	"dexnet/pkg/security"
	"dexnet/pkg/utils"
	"dexnet/pkg/validator"
)

var (
	configFile = flag.String("config", "config.yaml", "Path to configuration file")
	debug      = flag.Bool("debug", false, "Enable debug mode")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logCfg := utils.DefaultLogConfig()
	logCfg.Level = cfg.LogLevel
	logCfg.Debug = *debug || cfg.IsDevelopment()
	logger, err := utils.NewLogger(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("Validator exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		s := <-sig
		logger.Info("Shutting down", zap.String("signal", s.String()))
		cancel()
	}()

	keys, err := security.LoadKeyPair(cfg.Ledger.KeyFile)
	if err != nil {
		return fmt.Errorf("loading identity key: %w", err)
	}
	logger.Info("Loaded validator identity", zap.String("identity", keys.PublicKeyHex()))

	ledgerClient := ledger.NewHTTPClient(cfg.Ledger.URL, keys.PublicKeyHex(), cfg.Ledger.Timeout)
	chainClient := chain.NewHTTPClient(cfg.Chain.BaseURL, cfg.Chain.Timeout)

	host, err := p2p.NewHost(&cfg.P2P, keys, logger)
	if err != nil {
		return fmt.Errorf("starting p2p host: %w", err)
	}
	defer host.Close()

	caller := p2p.NewCaller(&cfg.P2P, host.Libp2pHost(), keys, logger)

	v := validator.NewValidator(cfg,
		validator.NewDirectory(&cfg.Ledger, ledgerClient, keys, logger),
		validator.NewPoller(caller, cfg.P2P.MaxWorkers, logger),
		validator.NewVerifier(chainClient, cfg.Scoring.SpotCheckTrials, nil, logger),
		validator.NewWeightSubmitter(&cfg.Ledger, ledgerClient, logger),
		logger)

	logger.Info("Validator running", zap.Int("subnet", cfg.Ledger.SubnetID))
	return v.Run(ctx)
}
