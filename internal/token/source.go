package token

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/revenue-digest/internal/fault"
	"github.com/sells-group/revenue-digest/internal/store"
)

// StoreSource supplies the access token from the store, falling back to a
// configured token. It is read on every request so a refresh made by another
// process is picked up without restarting.
type StoreSource struct {
	store    store.Store
	fallback string
}

// NewStoreSource creates a StoreSource.
func NewStoreSource(st store.Store, fallback string) *StoreSource {
	return &StoreSource{store: st, fallback: fallback}
}

// AccessToken implements amocrm.TokenSource.
func (s *StoreSource) AccessToken(ctx context.Context) (string, error) {
	pair, err := s.store.LoadTokens(ctx)
	if err != nil {
		return "", eris.Wrap(err, "token: load access token")
	}
	if pair != nil && pair.AccessToken != "" {
		return pair.AccessToken, nil
	}
	if s.fallback != "" {
		return s.fallback, nil
	}
	return "", fault.Configuration("token: access token", "no access token stored or configured (crm.access_token)")
}
