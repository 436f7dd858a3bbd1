package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/DishankChauhan1/solforge-test-sub000/internal/config"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/doctor"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/lock"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/log"
)

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigHelp(os.Stdout)
		return 0
	}

	switch args[0] {
	case "check":
		return runConfigCheck(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", args[0])
		return 1
	}
}

func printConfigHelp(w io.Writer) {
	fmt.Fprint(w, `Usage: solforge config check [--config PATH] [--expect HASH] [--hash | --json]

  --hash     print only the configuration fingerprint
  --expect   fail unless the file's fingerprint equals HASH
  --json     print the review findings as JSON

Exits 1 when the file is invalid or the review finds errors. Warnings are
printed but do not fail the check.
`)
}

func runConfigCheck(args []string) int {
	fs := newFlagSet("config check")
	configPath := fs.StringP("config", "c", "", "Path to configuration file or directory")
	hashOnly := fs.Bool("hash", false, "Print only the configuration fingerprint")
	jsonOut := fs.Bool("json", false, "Print review findings as JSON")
	expect := fs.String("expect", "", "Expected configuration fingerprint")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration invalid:\n%s\n", indent(err.Error()))
		return 1
	}

	if *expect != "" {
		if err := config.VerifyFileHash(cfg.SourcePath, *expect); err != nil {
			fmt.Fprintf(os.Stderr, "Configuration changed: %v\n", err)
			return 1
		}
	}

	if *hashOnly {
		fmt.Println(cfg.SourceHash)
		return 0
	}

	review := doctor.New(cfg).Validate()
	if *jsonOut {
		data, err := json.MarshalIndent(review, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		if !review.Valid {
			return 1
		}
		return 0
	}

	for _, is := range review.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s: %s\n", is.Field, is.Message)
	}
	if !review.Valid {
		for _, is := range review.Errors {
			fmt.Fprintf(os.Stderr, "error: %s: %s\n", is.Field, is.Message)
		}
		return 1
	}

	fmt.Printf("Configuration valid: %s\n", cfg.SourcePath)
	fmt.Printf("  fingerprint:      %s\n", cfg.SourceHash)
	fmt.Printf("  state:            %s\n", cfg.State.Path)
	fmt.Printf("  webhook:          %s%s (sha1 fallback: %t)\n", cfg.Webhook.Listen, cfg.Webhook.Path, cfg.Webhook.AllowSHA1)
	fmt.Printf("  ledger:           %s\n", cfg.Ledger.Endpoint)
	fmt.Printf("  payment retries:  %d (backoff base %s)\n", cfg.Payment.MaxRetries, cfg.Payment.BackoffBase)
	if cfg.Notify.WebhookURL != "" {
		fmt.Printf("  notify webhook:   configured\n")
	}
	if cfg.API.Enabled {
		fmt.Printf("  admin api:        %s (%d tokens)\n", cfg.API.Listen, len(cfg.API.Tokens))
	} else {
		fmt.Printf("  admin api:        disabled\n")
	}
	return 0
}

func runPaymentNoun(args []string) int {
	if len(args) < 1 {
		printPaymentHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printPaymentHelp(os.Stdout)
		return 0
	}

	switch args[0] {
	case "retry":
		return runPaymentRetry(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown payment action: %s\n", args[0])
		return 1
	}
}

func printPaymentHelp(w io.Writer) {
	fmt.Fprint(w, `Usage: solforge payment retry --bounty ID [--config PATH] [--note TEXT]

Re-arms a failed payment and runs its first attempt. The service must not be
running against the same state database; use the admin API instead when it is.
Exits 0 when the transfer succeeded and 2 when the attempt failed and a retry
was queued for the service to pick up.
`)
}

func runPaymentRetry(args []string) int {
	fs := newFlagSet("payment retry")
	configPath := fs.StringP("config", "c", "", "Path to configuration file or directory")
	bountyID := fs.StringP("bounty", "b", "", "Bounty ID whose payment should be re-triggered")
	note := fs.String("note", "manual re-trigger (cli)", "Audit note recorded in payment history")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*bountyID) == "" {
		fmt.Fprintln(os.Stderr, "--bounty is required")
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.Setup(cfg.Service.LogLevel)

	ctx := context.Background()
	p, err := openPipeline(ctx, cfg, clockwork.NewRealClock(), log.Get())
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			fmt.Fprintf(os.Stderr, "%v; use POST /v1/bounties/%s/payment/retry on the running service\n", err, *bountyID)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Failed to open state: %v\n", err)
		return 1
	}
	defer p.Close()

	res, err := p.payments.Retrigger(ctx, *bountyID, *note)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Retry failed: %v\n", err)
		return 1
	}

	out, _ := json.MarshalIndent(res, "", "  ")
	fmt.Println(string(out))
	if !res.Success {
		return 2
	}
	return 0
}

func indent(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = "  - " + l
	}
	return strings.Join(lines, "\n")
}
