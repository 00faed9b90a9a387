// Package payments hands a submitted order to a payment provider and turns
// the provider's webhook back into a payment outcome.
package payments

import (
	"context"
	"errors"
	"fmt"
)

// Payment outcomes reported by a webhook.
const (
	StatusPaid      = "paid"
	StatusCancelled = "cancelled"
)

// ErrInvalidSignature is returned for webhooks that fail verification.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Checkout is where the shopper goes to pay.
type Checkout struct {
	Provider string `json:"provider"`
	PayURL   string `json:"pay_url"`
	Invoice  string `json:"invoice"`
}

// Outcome is a verified webhook. Amount is what the provider collected,
// in minor units.
type Outcome struct {
	OrderID    string
	Invoice    string
	Amount     int64
	PaymentRef string
	Status     string
}

// Provider is a payment gateway.
type Provider interface {
	Name() string

	// CreatePayment starts a payment for orderID of amount minor units.
	CreatePayment(ctx context.Context, orderID string, amount int64, returnURL string) (Checkout, error)

	// HandleWebhook verifies a callback and reports which order it settles.
	// Header keys are lower-case.
	HandleWebhook(ctx context.Context, body []byte, headers map[string]string) (Outcome, error)
}

// NewProvider returns the provider registered under name.
func NewProvider(name, webhookSecret, publicBaseURL string) (Provider, error) {
	switch name {
	case "stub", "":
		return NewStub(webhookSecret, publicBaseURL), nil
	default:
		return nil, fmt.Errorf("unknown payment provider: %s", name)
	}
}
