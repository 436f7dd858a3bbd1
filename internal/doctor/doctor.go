// Package doctor reviews a loaded configuration for settings that are legal
// but risky for a service that moves funds.
package doctor

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/DishankChauhan1/solforge-test-sub000/internal/auth"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/config"
)

// Minimum lengths and windows the checks compare against.
const (
	minSecretLength = 16
	// GitHub lets operators redeliver a hook for a few days; pruning delivery
	// records earlier reopens the window for double processing.
	minDeliveryRetention = 24 * time.Hour
)

// Result holds the outcome of a review.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single finding.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor reviews a configuration that already passed config.Load.
type Doctor struct {
	cfg *config.Config
}

func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.checkWebhook(r)
	d.checkLedger(r)
	d.checkPayment(r)
	d.checkAPI(r)
	d.checkRetention(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) checkWebhook(r *Result) {
	wh := d.cfg.Webhook
	if len(wh.Secret) < minSecretLength {
		d.addWarning(r, "webhook", "webhook.secret",
			fmt.Sprintf("secret is shorter than %d characters", minSecretLength))
	}
	if wh.AllowSHA1 {
		d.addWarning(r, "webhook", "webhook.allow_sha1",
			"legacy X-Hub-Signature (SHA-1) deliveries are accepted")
	}
	if !isLoopback(wh.Listen) {
		d.addWarning(r, "webhook", "webhook.listen",
			fmt.Sprintf("listener %q is reachable off-host; put it behind TLS termination", wh.Listen))
	}
	if d.cfg.API.Enabled && wh.Listen == d.cfg.API.Listen {
		d.addError(r, "webhook", "webhook.listen", "webhook and admin API cannot share a listen address")
	}
}

func (d *Doctor) checkLedger(r *Result) {
	u, err := url.Parse(d.cfg.Ledger.Endpoint)
	if err != nil {
		return
	}
	if u.Scheme == "http" && !isLoopback(u.Host) {
		if d.cfg.Ledger.Token != "" {
			d.addError(r, "ledger", "ledger.endpoint",
				"ledger token would be sent over plain http to a non-local host")
		} else {
			d.addWarning(r, "ledger", "ledger.endpoint", "ledger endpoint uses plain http")
		}
	}
	if d.cfg.Ledger.Token == "" {
		d.addWarning(r, "ledger", "ledger.token", "no ledger token configured")
	}
}

func (d *Doctor) checkPayment(r *Result) {
	p := d.cfg.Payment
	if p.StaleAfter == 0 {
		d.addWarning(r, "payment", "payment.stale_after",
			"stale payment recovery is disabled; payments abandoned by a crash stay in processing")
	} else if p.StaleAfter <= p.AttemptTimeout {
		d.addError(r, "payment", "payment.stale_after",
			fmt.Sprintf("stale_after (%s) must exceed attempt_timeout (%s) or live attempts are re-armed", p.StaleAfter, p.AttemptTimeout))
	}
	if d.cfg.Ledger.Timeout > p.AttemptTimeout {
		d.addWarning(r, "payment", "ledger.timeout",
			fmt.Sprintf("ledger.timeout (%s) exceeds payment.attempt_timeout (%s) and never applies", d.cfg.Ledger.Timeout, p.AttemptTimeout))
	}
	maxDelay := p.BackoffBase << max(p.MaxRetries-1, 0)
	if maxDelay > time.Hour {
		d.addWarning(r, "payment", "payment.backoff_base",
			fmt.Sprintf("final retry would wait %s", maxDelay))
	}
}

func (d *Doctor) checkAPI(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if !isLoopback(d.cfg.API.Listen) {
		d.addWarning(r, "api", "api.listen",
			fmt.Sprintf("admin API %q is reachable off-host", d.cfg.API.Listen))
	}
	seen := make(map[string]int)
	for i, tok := range d.cfg.API.Tokens {
		field := fmt.Sprintf("api.tokens[%d]", i)
		if prev, ok := seen[tok.Token]; ok {
			d.addError(r, "api", field+".token",
				fmt.Sprintf("token duplicates api.tokens[%d]", prev))
		}
		seen[tok.Token] = i
		if len(tok.Token) < minSecretLength {
			d.addWarning(r, "api", field+".token",
				fmt.Sprintf("token is shorter than %d characters", minSecretLength))
		}
		for _, s := range tok.Scopes {
			if strings.TrimSpace(s) == auth.ScopeAll {
				d.addWarning(r, "api", field+".scopes", "token grants every scope")
			}
		}
	}
}

func (d *Doctor) checkRetention(r *Result) {
	s := d.cfg.Scheduler
	switch {
	case s.DeliveryRetention == 0:
		d.addWarning(r, "scheduler", "scheduler.delivery_retention",
			"delivery records are never pruned")
	case s.DeliveryRetention < minDeliveryRetention:
		d.addWarning(r, "scheduler", "scheduler.delivery_retention",
			fmt.Sprintf("retention %s is shorter than GitHub's redelivery window", s.DeliveryRetention))
	}
	if s.JobLogRetention == 0 {
		d.addWarning(r, "scheduler", "scheduler.job_log_retention", "finished retry jobs are never pruned")
	}
}

// isLoopback reports whether a host or host:port names the local machine.
func isLoopback(addr string) bool {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
