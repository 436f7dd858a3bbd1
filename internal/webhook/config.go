package webhook

import (
	"fmt"

	"github.com/DishankChauhan1/solforge-test-sub000/internal/config"
)

// FromGlobalConfig converts config.WebhookConfig to webhook.Config.
func FromGlobalConfig(wc config.WebhookConfig) (Config, error) {
	if wc.Secret == "" {
		return Config{}, fmt.Errorf("webhook: no secret configured")
	}

	maxBodySize := int64(DefaultMaxBodySize)
	if wc.MaxBodySize != "" {
		n, err := config.ParseSize(wc.MaxBodySize)
		if err != nil {
			return Config{}, fmt.Errorf("webhook: invalid max_body_size %q: %w", wc.MaxBodySize, err)
		}
		maxBodySize = n
	}

	path := wc.Path
	if path == "" {
		path = DefaultPath
	}

	return Config{
		Listen:      wc.Listen,
		Path:        path,
		Secret:      wc.Secret,
		AllowSHA1:   wc.AllowSHA1,
		MaxBodySize: maxBodySize,
	}, nil
}
