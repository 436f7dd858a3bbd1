package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/DishankChauhan1/solforge-test-sub000/internal/auth"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// DefaultFile is the config file name looked up when a directory is given.
const DefaultFile = "solforge.yaml"

// Load reads, interpolates and validates a config file. A .env file next to
// the config, then one in the working directory, is overlaid onto the
// environment first; variables already set are never overridden.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, DefaultFile)
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but %s not found: %s", DefaultFile, absPath)
		}
	}

	if err := loadDotEnv(filepath.Dir(absPath)); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	cfg.SourcePath = absPath
	cfg.SourceHash = Fingerprint(data)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadDotEnv overlays .env files found in dir and the working directory.
func loadDotEnv(dir string) error {
	candidates := []string{filepath.Join(dir, ".env")}
	if wd, err := os.Getwd(); err == nil && wd != dir {
		candidates = append(candidates, filepath.Join(wd, ".env"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// interpolateEnv replaces ${VAR} with its value. Unset variables are left in
// place and rejected by validation where the field is required.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func unresolved(field, value string) error {
	matches := envVarPattern.FindStringSubmatch(value)
	if len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return nil
}

func validate(cfg *Config) error {
	var errs []error

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		errs = append(errs, fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel))
	}

	if cfg.State.Path == "" {
		errs = append(errs, fmt.Errorf("state.path is required"))
	}

	// Webhook
	if cfg.Webhook.Listen == "" {
		errs = append(errs, fmt.Errorf("webhook.listen is required"))
	}
	if !strings.HasPrefix(cfg.Webhook.Path, "/") {
		errs = append(errs, fmt.Errorf("webhook.path must start with / (got %q)", cfg.Webhook.Path))
	}
	if err := unresolved("webhook.secret", cfg.Webhook.Secret); err != nil {
		errs = append(errs, err)
	} else if strings.TrimSpace(cfg.Webhook.Secret) == "" {
		errs = append(errs, fmt.Errorf("webhook.secret is required"))
	}
	if _, err := ParseSize(cfg.Webhook.MaxBodySize); err != nil {
		errs = append(errs, fmt.Errorf("webhook.max_body_size: %w", err))
	}

	// Ledger
	if cfg.Ledger.Endpoint == "" {
		errs = append(errs, fmt.Errorf("ledger.endpoint is required"))
	} else if u, err := url.Parse(cfg.Ledger.Endpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("ledger.endpoint must be an http(s) URL (got %q)", cfg.Ledger.Endpoint))
	}
	if err := unresolved("ledger.token", cfg.Ledger.Token); err != nil {
		errs = append(errs, err)
	}
	if cfg.Ledger.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("ledger.timeout must be positive"))
	}

	// Payment
	if cfg.Payment.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("payment.max_retries must be >= 1"))
	}
	if cfg.Payment.BackoffBase <= 0 {
		errs = append(errs, fmt.Errorf("payment.backoff_base must be positive"))
	}
	if cfg.Payment.AttemptTimeout <= 0 {
		errs = append(errs, fmt.Errorf("payment.attempt_timeout must be positive"))
	}
	if cfg.Payment.StaleAfter < 0 {
		errs = append(errs, fmt.Errorf("payment.stale_after must not be negative"))
	}

	// Notify
	if cfg.Notify.WebhookURL != "" {
		if err := unresolved("notify.webhook_url", cfg.Notify.WebhookURL); err != nil {
			errs = append(errs, err)
		} else if u, err := url.Parse(cfg.Notify.WebhookURL); err != nil || u.Host == "" {
			errs = append(errs, fmt.Errorf("notify.webhook_url is not a valid URL"))
		}
	}

	if cfg.Dispatch.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("dispatch.poll_interval must be positive"))
	}
	if cfg.Scheduler.RecoveryInterval <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.recovery_interval must be positive"))
	}

	// API
	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			errs = append(errs, fmt.Errorf("api.listen is required when api.enabled"))
		}
		if len(cfg.API.Tokens) == 0 {
			errs = append(errs, fmt.Errorf("api.tokens is required when api.enabled"))
		}
		for i, tok := range cfg.API.Tokens {
			field := fmt.Sprintf("api.tokens[%d]", i)
			if err := unresolved(field+".token", tok.Token); err != nil {
				errs = append(errs, err)
				continue
			}
			if tok.Token == "" {
				errs = append(errs, fmt.Errorf("%s.token is required", field))
			}
			if len(tok.Scopes) == 0 {
				errs = append(errs, fmt.Errorf("%s.scopes must be non-empty", field))
			}
			for _, s := range tok.Scopes {
				if !auth.ValidScope(s) {
					errs = append(errs, fmt.Errorf("%s: unknown scope %q", field, s))
				}
			}
		}
	}

	return errors.Join(errs...)
}

// ParseSize parses size strings like "1MB", "512KB" or "2048576" to bytes.
// An empty string is an error.
func ParseSize(size string) (int64, error) {
	if strings.TrimSpace(size) == "" {
		return 0, fmt.Errorf("size is empty")
	}

	upper := strings.ToUpper(strings.TrimSpace(size))
	multiplier := int64(1)

	switch {
	case strings.HasSuffix(upper, "KB"):
		multiplier = 1024
		upper = strings.TrimSuffix(upper, "KB")
	case strings.HasSuffix(upper, "MB"):
		multiplier = 1024 * 1024
		upper = strings.TrimSuffix(upper, "MB")
	case strings.HasSuffix(upper, "GB"):
		multiplier = 1024 * 1024 * 1024
		upper = strings.TrimSuffix(upper, "GB")
	}

	value, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %w", err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}

	result := value * multiplier
	if result/multiplier != value {
		return 0, fmt.Errorf("size too large")
	}
	return result, nil
}
