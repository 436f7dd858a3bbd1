package config

import "time"

// Config represents the complete solforge configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	State     StateConfig     `yaml:"state"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	API       APIConfig       `yaml:"api,omitempty"`
	Payment   PaymentConfig   `yaml:"payment"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Notify    NotifyConfig    `yaml:"notify"`
	Resolver  ResolverConfig  `yaml:"resolver"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// SourcePath and SourceHash identify the file Load read.
	SourcePath string `yaml:"-"`
	SourceHash string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// WebhookConfig defines the GitHub webhook listener.
type WebhookConfig struct {
	Listen      string `yaml:"listen"`
	Path        string `yaml:"path"`
	Secret      string `yaml:"secret"`
	AllowSHA1   bool   `yaml:"allow_sha1"`
	MaxBodySize string `yaml:"max_body_size"`
}

// APIConfig defines the admin API server.
type APIConfig struct {
	Enabled bool       `yaml:"enabled"`
	Listen  string     `yaml:"listen"`
	Tokens  []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// PaymentConfig bounds the settlement retry cycle.
type PaymentConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	StaleAfter     time.Duration `yaml:"stale_after"`
}

// LedgerConfig points at the transfer signer service.
type LedgerConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Token    string        `yaml:"token"`
	Timeout  time.Duration `yaml:"timeout"`
}

// NotifyConfig configures the optional outbound notification webhook.
type NotifyConfig struct {
	WebhookURL string        `yaml:"webhook_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// ResolverConfig tunes bounty lookup heuristics.
type ResolverConfig struct {
	RepositoryFallback bool `yaml:"repository_fallback"`
}

// DispatchConfig controls the retry worker.
type DispatchConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

// SchedulerConfig controls maintenance jobs.
type SchedulerConfig struct {
	RecoveryInterval  time.Duration `yaml:"recovery_interval"`
	JobLogRetention   time.Duration `yaml:"job_log_retention"`
	DeliveryRetention time.Duration `yaml:"delivery_retention"`
}

// Defaults returns a Config with the documented defaults. Load decodes the
// file on top of it, so omitted keys keep these values.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "solforge",
			LogLevel: "info",
		},
		State: StateConfig{
			Path: "./data/solforge.db",
		},
		Webhook: WebhookConfig{
			Listen:      "127.0.0.1:8081",
			Path:        "/webhook/github",
			AllowSHA1:   true,
			MaxBodySize: "5MB",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
		Payment: PaymentConfig{
			MaxRetries:     3,
			BackoffBase:    time.Second,
			AttemptTimeout: 30 * time.Second,
			StaleAfter:     10 * time.Minute,
		},
		Ledger: LedgerConfig{
			Timeout: 30 * time.Second,
		},
		Notify: NotifyConfig{
			Timeout: 5 * time.Second,
		},
		Resolver: ResolverConfig{
			RepositoryFallback: true,
		},
		Dispatch: DispatchConfig{
			PollInterval: time.Second,
		},
		Scheduler: SchedulerConfig{
			RecoveryInterval:  time.Minute,
			JobLogRetention:   30 * 24 * time.Hour,
			DeliveryRetention: 72 * time.Hour,
		},
	}
}
