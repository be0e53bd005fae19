package external

import (
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stripe/stripe-go/v82/webhook"
)

const testSigningSecret = "whsec_test_secret"

func signedHeader(payload []byte, secret string, at time.Time) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: at,
	}).Header
}

func TestStripeVerifier_ValidSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_test","type":"checkout.session.completed"}`)

	err := NewStripeVerifier(0).Verify(payload, signedHeader(payload, testSigningSecret, time.Now()), testSigningSecret)
	assert.NoError(t, err)
}

func TestStripeVerifier_RejectsModifiedBody(t *testing.T) {
	payload := []byte(`{"id":"evt_test"}`)
	header := signedHeader(payload, testSigningSecret, time.Now())

	// Re-serialized JSON with a space differs byte-for-byte.
	err := NewStripeVerifier(0).Verify([]byte(`{"id": "evt_test"}`), header, testSigningSecret)
	assert.Error(t, err)
}

func TestStripeVerifier_WrongSecret(t *testing.T) {
	payload := []byte(`{"id":"evt_test"}`)
	header := signedHeader(payload, "whsec_other", time.Now())

	assert.Error(t, NewStripeVerifier(0).Verify(payload, header, testSigningSecret))
}

func TestStripeVerifier_MissingHeader(t *testing.T) {
	assert.Error(t, NewStripeVerifier(0).Verify([]byte(`{}`), "", testSigningSecret))
}

func TestStripeVerifier_EmptySecret(t *testing.T) {
	assert.ErrorIs(t, NewStripeVerifier(0).Verify([]byte(`{}`), "t=1,v1=abc", ""), ErrEmptySecret)
}

func TestStripeVerifier_Tolerance(t *testing.T) {
	payload := []byte(`{"id":"evt_test"}`)
	old := time.Now().Add(-10 * time.Minute)
	sig := webhook.ComputeSignature(old, payload, testSigningSecret)
	header := fmt.Sprintf("t=%d,v1=%s", old.Unix(), hex.EncodeToString(sig))

	assert.Error(t, NewStripeVerifier(5*time.Minute).Verify(payload, header, testSigningSecret))
	assert.NoError(t, NewStripeVerifier(time.Hour).Verify(payload, header, testSigningSecret))
}
