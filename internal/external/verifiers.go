package external

import (
	"errors"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"
)

// DefaultSignatureTolerance is the accepted age of a signed timestamp.
const DefaultSignatureTolerance = webhook.DefaultTolerance

// ErrEmptySecret is returned when verification is attempted without a
// signing secret.
var ErrEmptySecret = errors.New("webhook signing secret is empty")

// StripeVerifier implements WebhookVerifier with Stripe's Stripe-Signature
// scheme: HMAC-SHA256 over "timestamp.payload" with a timestamp tolerance.
type StripeVerifier struct {
	Tolerance time.Duration
}

// NewStripeVerifier creates a verifier with the given tolerance. A
// non-positive tolerance selects DefaultSignatureTolerance.
func NewStripeVerifier(tolerance time.Duration) *StripeVerifier {
	if tolerance <= 0 {
		tolerance = DefaultSignatureTolerance
	}
	return &StripeVerifier{Tolerance: tolerance}
}

// Verify checks header against the exact bytes of payload.
func (v *StripeVerifier) Verify(payload []byte, header string, secret string) error {
	if secret == "" {
		return ErrEmptySecret
	}
	tolerance := v.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultSignatureTolerance
	}
	return webhook.ValidatePayloadWithTolerance(payload, header, secret, tolerance)
}
