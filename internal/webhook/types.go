package webhook

import (
	"context"

	"github.com/DishankChauhan1/solforge-test-sub000/internal/event"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/processor"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/store"
)

// Processor runs a parsed event through the settlement pipeline.
type Processor interface {
	Process(ctx context.Context, ev event.Event) (processor.Result, error)
}

// DeliveryLog records handled deliveries so GitHub redeliveries are no-ops.
type DeliveryLog interface {
	DeliverySeen(ctx context.Context, deliveryID string) (bool, error)
	RecordDelivery(ctx context.Context, deliveryID, eventType string, outcome store.DeliveryOutcome) (bool, error)
}

// Config holds webhook server configuration.
type Config struct {
	Listen      string
	Path        string
	Secret      string
	AllowSHA1   bool
	MaxBodySize int64
}

// AckResponse is the JSON response for accepted deliveries.
type AckResponse struct {
	Status     string            `json:"status"`
	DeliveryID string            `json:"delivery_id,omitempty"`
	Result     *processor.Result `json:"result,omitempty"`
}

// ErrorResponse is the JSON response for webhook errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// GitHub headers.
const (
	HeaderEvent       = "X-GitHub-Event"
	HeaderDelivery    = "X-GitHub-Delivery"
	HeaderSignature   = "X-Hub-Signature-256"
	HeaderSignatureV1 = "X-Hub-Signature"
)

// Default values
const (
	DefaultMaxBodySize = 5 * 1024 * 1024
	DefaultPath        = "/webhook/github"
)
