package external

import (
	"context"

	"payrelay/internal/types"
)

// WebhookVerifier checks an inbound webhook signature against the raw body.
type WebhookVerifier interface {
	// Verify returns nil when header is a valid signature of payload under
	// secret, and an error otherwise.
	Verify(payload []byte, header string, secret string) error
}

// FulfillmentClient delivers a fulfillment request to the upstream
// membership API.
type FulfillmentClient interface {
	// Fulfill sends exactly one request (plus any configured retries). A
	// non-2xx reply returns both the result and an upstream_rejected error.
	Fulfill(ctx context.Context, req *types.FulfillmentRequest) (*types.FulfillmentResult, error)
}

// CustomerDirectory mirrors buyers into the payment provider's customer list.
type CustomerDirectory interface {
	// EnsureCustomer returns the id of the customer with the given email,
	// creating it when absent.
	EnsureCustomer(ctx context.Context, email string, product types.ProductInfo) (string, error)
}
