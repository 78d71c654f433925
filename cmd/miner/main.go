// cmd/miner/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"dexnet/pkg/chain"
	"dexnet/pkg/config"
	"dexnet/pkg/data"
	"dexnet/pkg/miner"
	"dexnet/pkg/p2p"
	"dexnet/pkg/security"
	"dexnet/pkg/utils"
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

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Miner exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	keys, err := security.LoadKeyPair(cfg.Ledger.KeyFile)
	if err != nil {
		return fmt.Errorf("loading identity key: %w", err)
	}
	logger.Info("Loaded miner identity", zap.String("identity", keys.PublicKeyHex()))

	initCtx, initCancel := context.WithTimeout(ctx, 30*time.Second)
	defer initCancel()

	// The database may still be coming up when the miner starts.
	var repo *data.PostgresRepository
	err = utils.RetryWithBackoff(initCtx, func() error {
		repo, err = data.NewPostgresRepository(initCtx, cfg.Database.URL, logger)
		return err
	}, utils.DefaultRetryConfig())
	if err != nil {
		return fmt.Errorf("initializing repository: %w", err)
	}
	defer repo.Close()

	chainClient := chain.NewHTTPClient(cfg.Chain.BaseURL, cfg.Chain.Timeout)
	syncer := miner.NewSyncer(&cfg.Sync, repo, chainClient, logger)

	// Catch up before serving so health checks report honest state.
	if err := syncer.Advance(ctx); err != nil {
		return fmt.Errorf("initial sync: %w", err)
	}

	scheduler := cron.New()
	if _, err := syncer.Schedule(scheduler); err != nil {
		return fmt.Errorf("scheduling sync: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	host, err := p2p.NewHost(&cfg.P2P, keys, logger)
	if err != nil {
		return fmt.Errorf("starting p2p host: %w", err)
	}
	defer host.Close()

	predictor := miner.NewHTTPPredictor(cfg.Prediction.URL, cfg.Prediction.Timeout)
	m := miner.NewMiner(cfg, repo, chainClient, syncer, predictor, logger)
	m.RegisterHandlers(host)

	logger.Info("Miner running", zap.Int("port", cfg.P2P.Port))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		logger.Info("Shutting down", zap.String("signal", s.String()))
	case <-ctx.Done():
	}

	return nil
}
