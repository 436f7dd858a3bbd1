package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/DishankChauhan1/solforge-test-sub000/internal/bounty"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/lock"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/payment"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/storage"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/store"
)

const aliceWallet = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)
	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

func setVersionMetadataForTest(t *testing.T, v, commit, built string) {
	t.Helper()

	origVersion, origCommit, origBuildDate := version, gitCommit, buildDate
	version, gitCommit, buildDate = v, commit, built
	t.Cleanup(func() {
		version, gitCommit, buildDate = origVersion, origCommit, origBuildDate
	})
}

func writeTestConfig(t *testing.T, dir, ledgerURL string) string {
	t.Helper()
	body := fmt.Sprintf(`
service:
  log_level: error
state:
  path: %s
webhook:
  secret: s3cret
ledger:
  endpoint: %s
`, filepath.Join(dir, "solforge.db"), ledgerURL)
	path := filepath.Join(dir, "solforge.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRunVersionJSON(t *testing.T) {
	setVersionMetadataForTest(t, "1.2.3", "0123456789abcdef0123", "2026-05-01T10:00:00+02:00")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"version", "--json"})
	})
	if code != 0 {
		t.Fatalf("exit = %d, stderr = %s", code, stderr)
	}
	var info versionInfo
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		t.Fatalf("decode version JSON %q: %v", stdout, err)
	}
	want := versionInfo{Version: "1.2.3", Commit: "0123456789ab", BuildTime: "2026-05-01T08:00:00Z"}
	if info != want {
		t.Fatalf("version = %+v, want %+v", info, want)
	}
}

func TestRunVersionRejectsArgs(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"version", "extra"})
	})
	if code != 1 || !strings.Contains(stderr, "Usage: solforge version") {
		t.Fatalf("exit = %d, stderr = %q", code, stderr)
	}
}

func TestRunCLIUnknownCommand(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"frobnicate"})
	})
	if code != 1 || !strings.Contains(stderr, "Unknown command: frobnicate") {
		t.Fatalf("exit = %d, stderr = %q", code, stderr)
	}
}

func TestRunConfigCheck(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, "http://127.0.0.1:8899")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "check", "--config", path})
	})
	if code != 0 {
		t.Fatalf("exit = %d, stderr = %s", code, stderr)
	}
	for _, want := range []string{"Configuration valid", "fingerprint:", "admin api:        disabled"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("output missing %q:\n%s", want, stdout)
		}
	}

	code, hashOut, _ := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "check", "-c", dir, "--hash"})
	})
	if code != 0 {
		t.Fatalf("--hash exit = %d", code)
	}
	hash := strings.TrimSpace(hashOut)
	if len(hash) != 64 || !strings.Contains(stdout, hash) {
		t.Fatalf("--hash printed %q", hashOut)
	}

	code, _, _ = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "check", "-c", path, "--expect", hash})
	})
	if code != 0 {
		t.Fatalf("--expect matching hash exit = %d", code)
	}

	code, _, stderr = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "check", "-c", path, "--expect", strings.Repeat("0", 64)})
	})
	if code != 1 || !strings.Contains(stderr, "hash mismatch") {
		t.Fatalf("--expect stale hash exit = %d, stderr = %s", code, stderr)
	}
}

func TestRunConfigCheckInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "solforge.yaml")
	if err := os.WriteFile(path, []byte("state:\n  path: x.db\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "check", "--config", path})
	})
	if code != 1 {
		t.Fatalf("exit = %d, want 1", code)
	}
	for _, want := range []string{"webhook.secret is required", "ledger.endpoint is required"} {
		if !strings.Contains(stderr, want) {
			t.Errorf("stderr missing %q:\n%s", want, stderr)
		}
	}
}

func TestRunPaymentRetryRequiresBounty(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"payment", "retry"})
	})
	if code != 1 || !strings.Contains(stderr, "--bounty is required") {
		t.Fatalf("exit = %d, stderr = %q", code, stderr)
	}
}

// seedFailedPayment creates a merged bounty claimed by alice whose payment
// cycle has failed.
func seedFailedPayment(t *testing.T, dbPath string) string {
	t.Helper()
	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	st := store.New(db, clockwork.NewRealClock())
	alice := &bounty.User{GitHubUsername: "alice", WalletAddress: aliceWallet}
	if err := st.CreateUser(ctx, alice); err != nil {
		t.Fatalf("create user: %v", err)
	}
	b := &bounty.Bounty{
		Title:         "Fix login",
		Amount:        decimal.RequireFromString("2"),
		IssueURL:      "https://github.com/org/repo/issues/42",
		RepositoryURL: "https://github.com/org/repo",
		CreatedBy:     "maint",
		Status:        bounty.StatusInProgress,
		ClaimedBy:     alice.ID,
		PRURL:         "https://github.com/org/repo/pull/9",
	}
	if err := st.CreateBounty(ctx, b); err != nil {
		t.Fatalf("create bounty: %v", err)
	}
	if _, err := st.CompareAndTransition(ctx, bounty.TransitionRequest{
		BountyID: b.ID, ExpectedStatus: bounty.StatusInProgress, Next: bounty.StatusCompleted,
	}); err != nil {
		t.Fatalf("complete bounty: %v", err)
	}
	if _, err := st.FailPayment(ctx, b.ID, "ledger rejected transfer"); err != nil {
		t.Fatalf("fail payment: %v", err)
	}
	return b.ID
}

func TestRunPaymentRetrySettles(t *testing.T) {
	var calls atomic.Int32
	ledgerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/v1/transfers" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"signature":"sig-cli"}`)
	}))
	defer ledgerSrv.Close()

	dir := t.TempDir()
	path := writeTestConfig(t, dir, ledgerSrv.URL)
	bountyID := seedFailedPayment(t, filepath.Join(dir, "solforge.db"))

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"payment", "retry", "--config", path, "--bounty", bountyID})
	})
	if code != 0 {
		t.Fatalf("exit = %d, stdout = %s, stderr = %s", code, stdout, stderr)
	}
	var res payment.Result
	if err := json.Unmarshal([]byte(stdout), &res); err != nil {
		t.Fatalf("decode result %q: %v", stdout, err)
	}
	if !res.Success || res.Signature != "sig-cli" {
		t.Fatalf("result = %+v", res)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("ledger calls = %d, want 1", n)
	}
}

func TestRunPaymentRetryRefusesWhileServiceHoldsLock(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, "http://127.0.0.1:8899")

	held, err := lock.Acquire(lock.PathFor(filepath.Join(dir, "solforge.db")))
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer held.Release()

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"payment", "retry", "--config", path, "--bounty", "b1"})
	})
	if code != 1 || !strings.Contains(stderr, "/v1/bounties/b1/payment/retry") {
		t.Fatalf("exit = %d, stderr = %q", code, stderr)
	}
}

func TestRunConfigCheckReviewErrors(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, "http://127.0.0.1:8899")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString("payment:\n  stale_after: 5s\n")
	_ = f.Close()

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "check", "--config", path})
	})
	if code != 1 || !strings.Contains(stderr, "error: payment.stale_after") {
		t.Fatalf("exit = %d, stderr = %q", code, stderr)
	}

	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "check", "--config", path, "--json"})
	})
	if code != 1 || !strings.Contains(stdout, `"valid": false`) {
		t.Fatalf("exit = %d, stdout = %q", code, stdout)
	}
}

func TestRunBountyInspect(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, "http://127.0.0.1:8899")
	bountyID := seedFailedPayment(t, filepath.Join(dir, "solforge.db"))

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"bounty", "inspect", "--config", path, "--bounty", bountyID})
	})
	if code != 0 {
		t.Fatalf("exit = %d, stderr = %s", code, stderr)
	}
	for _, want := range []string{"Settlement Report", "Payment     : failed", "ledger rejected transfer"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("report missing %q:\n%s", want, stdout)
		}
	}

	code, _, stderr = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"bounty", "inspect", "--config", path, "--bounty", "missing"})
	})
	if code != 1 || !strings.Contains(stderr, `bounty "missing" not found`) {
		t.Fatalf("exit = %d, stderr = %q", code, stderr)
	}
}
