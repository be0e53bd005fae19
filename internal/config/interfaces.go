package config

import "context"

// SecretProvider resolves secret values by key. SSMProvider serves deployed
// environments; EnvVarProvider serves local development and tests.
type SecretProvider interface {
	// GetParametersBatch returns the plaintext values of the keys it could
	// resolve. Unknown keys are simply absent from the map.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
