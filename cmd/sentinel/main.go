// Package main provides the entry point for the node health sentinel.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"consensus-sentinel/internal/config"
	"consensus-sentinel/internal/divergence"
	"consensus-sentinel/internal/logger"
	"consensus-sentinel/internal/metrics"
	"consensus-sentinel/internal/moniker"
	"consensus-sentinel/internal/poller"
	"consensus-sentinel/internal/recorder"
	"consensus-sentinel/internal/rpc"

	dbpkg "consensus-sentinel/internal/db"

	"github.com/joho/godotenv"
)

func main() {
	// Try to load .env from CWD if present; otherwise use environment as-is
	if _, statErr := os.Stat(".env"); statErr == nil {
		_ = godotenv.Load(".env")
	}

	cfg := config.Load()
	log := logger.New(cfg.Debug)

	fmt.Printf("Node sentinel starting...\n")
	fmt.Printf("Config loaded: %s\n", cfg.DebugString())

	gormDB, err := dbpkg.Open(cfg)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	if gormDB != nil {
		log.Printf("DB connected")

		if err := dbpkg.AutoMigrate(gormDB); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}
		log.Printf("Migrations applied")
	} else {
		log.Printf("DATABASE_URL not provided – persistence disabled")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, err := rpc.NewClient(cfg.RPCURL, cfg.WSPath, cfg.FetchTimeout)
	if err != nil {
		log.Fatalf("failed to create rpc client: %v", err)
	}

	var analyzer poller.Analyzer
	if cfg.ReferenceRPCURL != "" {
		blocks := rpc.NewBlockSource(cfg.WSPath, cfg.FetchTimeout)
		analyzer = divergence.NewAnalyzer(blocks, cfg.RPCURL, cfg.ReferenceRPCURL)
		log.Printf("divergence analysis enabled against %s", cfg.ReferenceRPCURL)
	} else {
		log.Printf("REFERENCE_RPC_URL not provided – divergence analysis disabled")
	}

	resolver := moniker.NewResolver(cfg.RPCURL, cfg.AppAPIURL, log)

	detector := divergence.NewDetectorWithClock(cfg.DivergenceWindow, time.Now)

	p := poller.New(poller.Config{
		FullInterval:      cfg.FullPollInterval,
		ConsensusInterval: cfg.ConsensusInterval,
		FetchTimeout:      cfg.FetchTimeout,
		HistorySize:       cfg.HistorySize,
	}, client, detector, analyzer, resolver, log)
	p.Start(ctx)

	if gormDB != nil {
		rec := recorder.New(gormDB, p, cfg.FullPollInterval, log)
		go rec.Run(ctx)
	}

	if cfg.MetricsAddr != "" {
		go func() {
			log.Printf("serving metrics on %s", cfg.MetricsAddr)
			if err := metrics.Serve(cfg.MetricsAddr); err != nil {
				log.Printf("metrics server stopped: %v", err)
				cancel()
			}
		}()
	}

	<-ctx.Done()
	log.Println("shutting down...")
	p.Stop()

	_ = os.Stderr.Sync()
	_ = os.Stdout.Sync()
}
