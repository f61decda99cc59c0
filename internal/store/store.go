// Package store persists the CRM token pair between process runs.
package store

import (
	"context"

	"github.com/sells-group/revenue-digest/internal/model"
)

// Setting keys holding the token pair.
const (
	KeyAccessToken  = "ACCESS_TOKEN"
	KeyRefreshToken = "REFRESH_TOKEN"
	// KeyOAuthState holds the pending authorization request's state value.
	KeyOAuthState = "OAUTH_STATE"
)

// Store defines the durable key-value persistence for credentials.
type Store interface {
	// LoadTokens returns the stored pair, or nil when nothing has been saved.
	LoadTokens(ctx context.Context) (*model.TokenPair, error)
	// SaveTokens overwrites both tokens in one statement.
	SaveTokens(ctx context.Context, pair model.TokenPair) error

	// Get returns a single setting and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set writes a single setting, replacing any previous value.
	Set(ctx context.Context, key, value string) error
	// Delete removes a setting. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// pairFromSettings assembles a TokenPair from loaded key/value rows.
func pairFromSettings(settings map[string]string) *model.TokenPair {
	if len(settings) == 0 {
		return nil
	}
	return &model.TokenPair{
		AccessToken:  settings[KeyAccessToken],
		RefreshToken: settings[KeyRefreshToken],
	}
}
