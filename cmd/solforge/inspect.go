package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/DishankChauhan1/solforge-test-sub000/internal/config"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/inspect"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/queue"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/storage"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/store"
)

func runBountyNoun(args []string) int {
	if len(args) < 1 {
		printBountyHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printBountyHelp(os.Stdout)
		return 0
	}

	switch args[0] {
	case "inspect":
		return runBountyInspect(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown bounty action: %s\n", args[0])
		return 1
	}
}

func printBountyHelp(w io.Writer) {
	fmt.Fprint(w, `Usage: solforge bounty inspect --bounty ID [--config PATH] [--json]

Reads the state database only; safe to run next to the service.
`)
}

// runBountyInspect reads the state database without taking the service lock.
func runBountyInspect(args []string) int {
	fs := newFlagSet("bounty inspect")
	configPath := fs.StringP("config", "c", "", "Path to configuration file or directory")
	bountyID := fs.StringP("bounty", "b", "", "Bounty ID to inspect")
	jsonOut := fs.Bool("json", false, "Output the report as JSON")
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

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open state: %v\n", err)
		return 1
	}
	defer db.Close()

	clock := clockwork.NewRealClock()
	build := inspect.BuildReport
	if *jsonOut {
		build = inspect.BuildJSONReport
	}
	out, err := build(ctx, store.New(db, clock), queue.New(db, clock), *bountyID, clock.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Inspect failed: %v\n", err)
		return 1
	}
	fmt.Print(out)
	if !strings.HasSuffix(out, "\n") {
		fmt.Println()
	}
	return 0
}
