// Package store persists the authentication state of the worklog companion.
// It exposes an abstract key-value settings store plus a JSON-file-backed
// implementation. The store is durable, last-write-wins, and makes no
// transactional guarantee across keys.
package store

import "context"

// Logical settings keys shared between the session and the store.
const (
	KeyBaseURL     = "baseUrl"
	KeyAuthMode    = "authMode"
	KeyToken       = "token"
	KeyClientID    = "clientId"
	KeyOAuthTokens = "oauthTokens"
	KeyUserInfo    = "userInfo"
)

// SettingsStore is the abstract persistence collaborator for credentials.
type SettingsStore interface {
	// Get returns the values for the requested keys. Missing keys are omitted
	// from the result rather than reported as errors.
	Get(ctx context.Context, keys ...string) (map[string]string, error)

	// Set writes the given key-value pairs. Writes are last-write-wins.
	Set(ctx context.Context, values map[string]string) error

	// Remove deletes the given keys. Removing an absent key is not an error.
	Remove(ctx context.Context, keys ...string) error
}
