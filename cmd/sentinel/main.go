// ====================================
// File: cmd/sentinel/main.go
// ====================================
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-sentinel/internal/config"
	"github.com/rovshanmuradov/solana-sentinel/internal/logger"
	"github.com/rovshanmuradov/solana-sentinel/internal/sentinel"
)

func main() {
	configPath := flag.String("config", "configs/config.json", "path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logCfg := logger.DefaultConfig()
	logCfg.Development = cfg.DebugLogging
	log, err := logger.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting position sentinel")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner, err := sentinel.NewRunner(cfg, log.Logger)
	if err != nil {
		log.Fatal("Failed to initialize sentinel", zap.Error(err))
	}

	if err := runner.Run(ctx); err != nil {
		log.Fatal("Sentinel execution error", zap.Error(err))
	}
}
