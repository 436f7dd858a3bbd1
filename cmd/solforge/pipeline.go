package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/DishankChauhan1/solforge-test-sub000/internal/bounty"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/config"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/events"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/ledger"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/lock"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/notify"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/payment"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/processor"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/queue"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/resolver"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/storage"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/store"
)

const hubCapacity = 512

// pipeline is the settlement core shared by the long-running service and the
// offline commands. It owns the state database and its lock.
type pipeline struct {
	lock      *lock.PIDLock
	db        *sql.DB
	store     *store.Store
	queue     *queue.Queue
	hub       *events.Hub
	notify    *notify.Sink
	payments  *payment.Orchestrator
	processor *processor.Processor
	clock     clockwork.Clock
}

func openPipeline(ctx context.Context, cfg *config.Config, clock clockwork.Clock, logger *slog.Logger) (*pipeline, error) {
	pidLock, err := lock.Acquire(lock.PathFor(cfg.State.Path))
	if err != nil {
		return nil, err
	}

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		_ = pidLock.Release()
		return nil, fmt.Errorf("open database: %w", err)
	}

	st := store.New(db, clock)
	q := queue.New(db, clock)
	hub := events.NewHub(hubCapacity, clock)

	ledgerClient := ledger.NewClient(ledger.Config{
		Endpoint: cfg.Ledger.Endpoint,
		Token:    cfg.Ledger.Token,
		Timeout:  cfg.Ledger.Timeout,
	}, logger)
	sink := notify.New(notify.Config{
		WebhookURL: cfg.Notify.WebhookURL,
		Timeout:    cfg.Notify.Timeout,
	}, hub, st, logger)

	orch := payment.New(payment.Config{
		MaxRetries:     cfg.Payment.MaxRetries,
		BackoffBase:    cfg.Payment.BackoffBase,
		AttemptTimeout: cfg.Payment.AttemptTimeout,
		StaleAfter:     cfg.Payment.StaleAfter,
	}, st, ledgerClient, sink, q, hub, clock, logger)

	res := resolver.New(st, resolver.Options{RepositoryFallback: cfg.Resolver.RepositoryFallback}, logger)
	machine := bounty.NewMachine(st, clock, logger)
	proc := processor.New(res, machine, orch, hub, clock, logger)

	return &pipeline{
		lock:      pidLock,
		db:        db,
		store:     st,
		queue:     q,
		hub:       hub,
		notify:    sink,
		payments:  orch,
		processor: proc,
		clock:     clock,
	}, nil
}

func (p *pipeline) Close() error {
	p.notify.Wait()
	err := p.db.Close()
	if lerr := p.lock.Release(); err == nil {
		err = lerr
	}
	return err
}
