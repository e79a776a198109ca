// internal/sentinel/runner.go
package sentinel

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-sentinel/internal/config"
	"github.com/rovshanmuradov/solana-sentinel/internal/events"
	"github.com/rovshanmuradov/solana-sentinel/internal/executor"
	"github.com/rovshanmuradov/solana-sentinel/internal/positions"
	"github.com/rovshanmuradov/solana-sentinel/internal/pricefeed"
	"github.com/rovshanmuradov/solana-sentinel/internal/quote"
	"github.com/rovshanmuradov/solana-sentinel/internal/storage"
	"github.com/rovshanmuradov/solana-sentinel/internal/storage/postgres"
	"github.com/rovshanmuradov/solana-sentinel/internal/submit"
	"github.com/rovshanmuradov/solana-sentinel/internal/wallet"
)

// Runner wires the monitor, price feed, submission client and storage
// together and drives the daemon lifecycle.
type Runner struct {
	logger     *zap.Logger
	cfg        *config.Config
	store      storage.Storage
	feed       *pricefeed.Feed
	monitor    *positions.Monitor
	bus        *events.Bus
	shutdownCh chan os.Signal
}

func NewRunner(cfg *config.Config, logger *zap.Logger) (*Runner, error) {
	store, err := postgres.NewStorage(cfg.PostgresURL, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to storage: %w", err)
	}
	if err := store.RunMigrations(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	wallets, err := wallet.LoadWallets(cfg.WalletsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load wallets: %w", err)
	}
	logger.Info(fmt.Sprintf("🔑 Loaded %d wallets", len(wallets)))

	rpcClient := rpc.New(cfg.RPCList[0])

	var relay *submit.RelayClient
	if cfg.RelayURL != "" {
		relay, err = submit.NewRelayClient(cfg.RelayURL, cfg.RelayTipAccounts, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create relay client: %w", err)
		}
	}

	submitClient := submit.NewClient(submit.Config{
		Mode:     submit.Mode(cfg.SubmissionMode),
		Deadline: time.Duration(cfg.RaceDeadline) * time.Millisecond,
		Tips: submit.TipConfig{
			MinTip: cfg.MinTipLamports,
			MaxTip: cfg.MaxTipLamports,
		},
		AntiFrontrun: cfg.AntiFrontrun,
	}, rpcClient, relay, logger)

	quotes := quote.NewClient(cfg.QuoteURL, cfg.QuoteAPIKey, rpcClient, logger)
	exec := executor.New(quotes, submitClient, store, logger)

	feed := pricefeed.New(rpcClient, logger)
	if cfg.PoolsFile != "" {
		loaded, err := feed.LoadPools(cfg.PoolsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load pools: %w", err)
		}
		logger.Info(fmt.Sprintf("🌊 Registered %d pools", loaded))
	}

	monitor := positions.NewMonitor(positions.Config{
		Interval:            time.Duration(cfg.MonitorInterval) * time.Millisecond,
		MaxConcurrentChecks: cfg.MaxConcurrentChecks,
		StalenessCeiling:    time.Duration(cfg.StalenessCeiling) * time.Millisecond,
	}, feed, store, exec, wallet.NewProvider(wallets), logger)

	bus := events.NewBus(logger, 64)
	monitor.SetEventBus(bus)
	subscribeNotifications(bus, logger)

	return &Runner{
		logger:     logger,
		cfg:        cfg,
		store:      store,
		feed:       feed,
		monitor:    monitor,
		bus:        bus,
		shutdownCh: make(chan os.Signal, 1),
	}, nil
}

// subscribeNotifications attaches operator-facing log handlers to the
// lifecycle events the monitor publishes.
func subscribeNotifications(bus *events.Bus, logger *zap.Logger) {
	log := logger.Named("notifications")

	bus.SubscribeFunc(events.ExitCompleted, func(_ context.Context, e events.Event) error {
		if ev, ok := e.(events.ExitCompletedEvent); ok {
			log.Info("✅ Position closed",
				zap.String("position_id", ev.PositionID),
				zap.String("signature", ev.Signature),
				zap.String("method", ev.Method),
				zap.String("pnl_percent", ev.PnLPercent))
		}
		return nil
	})

	bus.SubscribeFunc(events.ExitFailed, func(_ context.Context, e events.Event) error {
		if ev, ok := e.(events.ExitFailedEvent); ok {
			log.Warn("❌ Exit attempt failed",
				zap.String("position_id", ev.PositionID),
				zap.Int("attempts", ev.Attempts),
				zap.String("error", ev.Error))
		}
		return nil
	})

	bus.SubscribeFunc(events.PositionPaused, func(_ context.Context, e events.Event) error {
		if ev, ok := e.(events.PositionPausedEvent); ok {
			log.Info("⏸️ Position paused",
				zap.String("position_id", ev.PositionID),
				zap.String("reason", ev.Reason))
		}
		return nil
	})
}

// Monitor exposes the position monitor for operator surfaces.
func (r *Runner) Monitor() *positions.Monitor {
	return r.monitor
}

// Run starts monitoring and blocks until SIGINT or SIGTERM.
func (r *Runner) Run(ctx context.Context) error {
	signal.Notify(r.shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	if r.cfg.PositionsFile != "" {
		entries, err := loadPositions(r.cfg.PositionsFile)
		if err != nil {
			return fmt.Errorf("failed to load positions: %w", err)
		}
		r.logger.Info(fmt.Sprintf("📋 Loaded %d positions", len(entries)))

		for _, entry := range entries {
			if err := r.monitor.StartMonitoring(ctx, entry.PositionID, entry.Options); err != nil {
				r.logger.Error("Failed to start monitoring position",
					zap.String("position_id", entry.PositionID),
					zap.Error(err))
			}
		}
	}

	r.monitor.StartGlobalMonitoring()
	r.logger.Info("🚀 Sentinel running")

	select {
	case sig := <-r.shutdownCh:
		r.logger.Info("📡 Signal received: " + sig.String())
	case <-ctx.Done():
	}

	return r.Shutdown()
}

// Shutdown stops the sweep loop, waits for in-flight checks and closes
// storage. Positions stay durable and resume on the next start.
func (r *Runner) Shutdown() error {
	r.logger.Info("👋 Sentinel shutting down gracefully")
	r.monitor.StopGlobalMonitoring()

	busCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.bus.Shutdown(busCtx); err != nil {
		r.logger.Warn("Event bus shutdown incomplete", zap.Error(err))
	}

	if err := r.store.Close(); err != nil {
		r.logger.Error("Failed to close storage", zap.Error(err))
		return err
	}
	return nil
}
