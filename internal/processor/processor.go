// Package processor drives a parsed webhook event through the pipeline:
// route, resolve the bounty, apply the state transition, and settle the
// payment when the bounty completes.
package processor

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/DishankChauhan1/solforge-test-sub000/internal/bounty"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/event"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/events"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/payment"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/resolver"
)

// Outcome classifies what happened to an event.
type Outcome string

const (
	OutcomeProcessed  Outcome = "processed"
	OutcomeIgnored    Outcome = "ignored"
	OutcomeUnresolved Outcome = "unresolved"
	OutcomeRejected   Outcome = "rejected"
)

// Resolver locates the bounty an event refers to.
type Resolver interface {
	Resolve(ctx context.Context, r event.Routed) (resolver.Resolution, error)
}

// Transitioner applies a trigger to a stored bounty.
type Transitioner interface {
	Apply(ctx context.Context, bountyID string, trig bounty.Trigger, claim *bounty.Claim) (bounty.Result, error)
}

// Settler pays out a completed bounty.
type Settler interface {
	Settle(ctx context.Context, bountyID, submitter string, attempt int) (payment.Result, error)
}

// Result is the pipeline outcome for one event.
type Result struct {
	Outcome  Outcome         `json:"outcome"`
	Event    string          `json:"event"`
	Action   string          `json:"action,omitempty"`
	BountyID string          `json:"bounty_id,omitempty"`
	From     bounty.Status   `json:"from,omitempty"`
	To       bounty.Status   `json:"to,omitempty"`
	Changed  bool            `json:"changed"`
	Reason   string          `json:"reason,omitempty"`
	Payment  *payment.Result `json:"payment,omitempty"`
}

// Processor is the webhook pipeline.
type Processor struct {
	resolver Resolver
	machine  Transitioner
	settler  Settler
	hub      *events.Hub
	clock    clockwork.Clock
	logger   *slog.Logger
}

// New builds a Processor. hub may be nil; a nil clock means the wall clock.
func New(r Resolver, m Transitioner, s Settler, hub *events.Hub, clock clockwork.Clock, logger *slog.Logger) *Processor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Processor{
		resolver: r,
		machine:  m,
		settler:  s,
		hub:      hub,
		clock:    clock,
		logger:   logger.With("component", "processor"),
	}
}

// Process runs ev through the pipeline. The returned error wraps
// resolver.ErrNotResolved when a PR lifecycle or review event names no known
// bounty; any other error is a persistence failure.
func (p *Processor) Process(ctx context.Context, ev event.Event) (Result, error) {
	routed := event.Route(ev)
	res := Result{Event: routed.Type, Action: routed.Action}
	logger := p.logger.With("event", routed.Type, "action", routed.Action)

	if routed.Ignored {
		res.Outcome = OutcomeIgnored
		res.Reason = routed.Reason
		logger.Debug("event ignored", "reason", routed.Reason)
		p.publish(events.TypeDeliveryIgnored, "", res)
		return res, nil
	}

	found, err := p.resolver.Resolve(ctx, routed)
	if errors.Is(err, resolver.ErrNotResolved) {
		res.Reason = err.Error()
		// A new PR or an issue outside the bounty program is not an error.
		if routed.Trigger.Kind == bounty.TriggerPROpened || routed.Issue != nil {
			res.Outcome = OutcomeIgnored
			logger.Info("no bounty for event", "reason", res.Reason)
			p.publish(events.TypeDeliveryIgnored, "", res)
			return res, nil
		}
		res.Outcome = OutcomeUnresolved
		logger.Warn("bounty not resolved", "reason", res.Reason)
		return res, err
	}
	if err != nil {
		return res, err
	}

	b := found.Bounty
	res.BountyID = b.ID
	logger = logger.With("bounty_id", b.ID, "resolved_via", found.Via)

	trig := routed.Trigger
	if trig.At.IsZero() {
		trig.At = p.clock.Now()
	}

	tr, err := p.machine.Apply(ctx, b.ID, trig, found.Claim)
	if errors.Is(err, bounty.ErrIllegalTransition) {
		res.Outcome = OutcomeRejected
		res.From, res.To = tr.From, tr.To
		res.Reason = err.Error()
		logger.Warn("transition rejected", "status", tr.From, "trigger", trig.Kind)
		return res, nil
	}
	if err != nil {
		return res, err
	}

	res.Outcome = OutcomeProcessed
	res.From, res.To, res.Changed, res.Reason = tr.From, tr.To, tr.Changed, tr.Reason
	if !tr.Changed {
		return res, nil
	}
	p.publish(events.TypeBountyTransitioned, b.ID, map[string]any{
		"from":    tr.From,
		"to":      tr.To,
		"trigger": trig.Kind,
	})

	if !tr.To.Equal(bounty.StatusCompleted) {
		return res, nil
	}

	pay, err := p.settler.Settle(ctx, b.ID, routed.Author(), 0)
	switch {
	case errors.Is(err, payment.ErrPrecondition),
		errors.Is(err, payment.ErrInFlight),
		errors.Is(err, payment.ErrAlreadyFailed):
		logger.Warn("payment not attempted", "error", err)
		if pay.Status == "" {
			pay.Error = err.Error()
		}
	case err != nil:
		return res, err
	}
	res.Payment = &pay
	return res, nil
}

func (p *Processor) publish(typ, bountyID string, data any) {
	if p.hub != nil {
		p.hub.Publish(typ, bountyID, data)
	}
}
