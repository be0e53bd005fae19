package types

import "log/slog"

// RedactedPlaceholder is the string used to replace secret values in logs and serialization.
const RedactedPlaceholder = "***REDACTED***"

// redactedJSON is the pre-computed JSON encoding of the redacted placeholder.
var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString holds credentials (signing secret, upstream bearer token,
// Stripe key, admin key hash). String, MarshalJSON and LogValue all return a
// redacted placeholder so the value never reaches fmt output, JSON dumps or
// slog records.
//
// Use Unmask() to retrieve the raw value when it is genuinely needed
// (signature verification, Authorization headers, connection strings).
type SecretString string

// String returns a redacted placeholder instead of the raw value.
func (s SecretString) String() string {
	return RedactedPlaceholder
}

// GoString keeps %#v from printing the raw value.
func (s SecretString) GoString() string {
	return RedactedPlaceholder
}

// MarshalJSON returns the redacted placeholder as a JSON string.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// LogValue implements slog.LogValuer.
func (s SecretString) LogValue() slog.Value {
	return slog.StringValue(RedactedPlaceholder)
}

// IsSet reports whether the secret has a non-empty value.
func (s SecretString) IsSet() bool {
	return s != ""
}

// Unmask returns the raw plaintext value of the secret.
func (s SecretString) Unmask() string {
	return string(s)
}
