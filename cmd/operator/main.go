package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"operator/internal/config"
	"operator/internal/logging"
	"operator/internal/operator"
)

func main() {
	var (
		configPath  = flag.String("config", "config/operator.yaml", "Path to the operator YAML config")
		printConfig = flag.Bool("print-config", false, "Print the effective config (signer key redacted) and exit")
		logLevel    = flag.String("log-level", "", "Override log.level (debug, info, warn, error)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	if *printConfig {
		if err := config.Dump(os.Stdout, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to print config: %v\n", err)
			os.Exit(1)
		}
		return
	}

	logging.Init(cfg.Log.Level, cfg.Log.Format)
	logger := logging.NewDefaultLogger()
	config.LogSummary(logger, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	node, err := operator.NewFactory(cfg).Initialize(ctx)
	if err != nil {
		logger.Fatalf("Failed to start operator: %v", err)
	}

	if err := node.Run(ctx); err != nil {
		logger.Fatalf("Operator stopped with error: %v", err)
	}
	logger.Info("Shutting down operator")
}
