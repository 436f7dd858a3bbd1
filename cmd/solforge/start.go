package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jonboulle/clockwork"

	"github.com/DishankChauhan1/solforge-test-sub000/internal/api"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/auth"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/config"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/dispatch"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/log"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/scheduler"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/webhook"
)

func runStart(args []string) int {
	fs := newFlagSet("start")
	configPath := fs.StringP("config", "c", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("solforge starting",
		"version", version,
		"config", cfg.SourcePath,
		"config_hash", cfg.SourceHash,
	)

	webhookConfig, err := webhook.FromGlobalConfig(cfg.Webhook)
	if err != nil {
		logger.Error("invalid webhook configuration", "error", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	clock := clockwork.NewRealClock()
	p, err := openPipeline(ctx, cfg, clock, log.Get())
	if err != nil {
		logger.Error("failed to open pipeline", "state", cfg.State.Path, "error", err)
		return 1
	}
	defer p.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	sched := scheduler.New(scheduler.Config{
		RecoveryInterval:  cfg.Scheduler.RecoveryInterval,
		JobLogRetention:   cfg.Scheduler.JobLogRetention,
		DeliveryRetention: cfg.Scheduler.DeliveryRetention,
	}, p.queue, p.payments, p.store, clock, log.Get())
	if err := sched.Start(ctx); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		return 1
	}
	defer sched.Stop()

	errCh := make(chan error, 3)
	var wg sync.WaitGroup
	run := func(name string, start func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	disp := dispatch.New(p.queue, p.payments, cfg.Dispatch.PollInterval, clock)
	run("dispatcher", disp.Start)

	hooks := webhook.New(webhookConfig, p.processor, p.store, log.Get())
	run("webhook", hooks.Start)
	logger.Info("webhook listener enabled", "listen", webhookConfig.Listen, "path", webhookConfig.Path)

	if cfg.API.Enabled {
		tokens := make([]auth.TokenConfig, 0, len(cfg.API.Tokens))
		for _, t := range cfg.API.Tokens {
			tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
		}
		apiServer := api.New(api.Config{Listen: cfg.API.Listen, Tokens: tokens},
			p.store, p.payments, p.queue, p.hub, clock, log.Get())
		run("api", apiServer.Start)
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	code := 0
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		code = 1
	}

	cancel()
	wg.Wait()
	logger.Info("solforge stopped")
	return code
}
