package token

import (
	"context"
	"crypto/subtle"
	"net/url"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/revenue-digest/internal/model"
	"github.com/sells-group/revenue-digest/internal/store"
)

// Callback rejections. Both are returned unwrapped.
var (
	ErrStateMissing  = eris.New("token: authorization state is required")
	ErrStateMismatch = eris.New("token: authorization state does not match")
)

// AuthorizeURL starts an authorization request: it stores a fresh state
// value, replacing any pending one, and returns the consent URL carrying it.
func (p *Provider) AuthorizeURL(ctx context.Context) (string, error) {
	state := uuid.NewString()
	if err := p.store.Set(ctx, store.KeyOAuthState, state); err != nil {
		return "", eris.Wrap(err, "token: persist state")
	}

	q := url.Values{}
	q.Set("client_id", p.cfg.ClientID)
	q.Set("state", state)
	return p.cfg.AuthorizeURL + "?" + q.Encode(), nil
}

// ExchangeCallback completes an authorization request. The state must match
// the pending one; it is consumed before the code is exchanged, so each
// state authorizes at most one exchange.
func (p *Provider) ExchangeCallback(ctx context.Context, code, state string) (*model.TokenPair, error) {
	if state == "" {
		return nil, ErrStateMissing
	}

	want, ok, err := p.store.Get(ctx, store.KeyOAuthState)
	if err != nil {
		return nil, eris.Wrap(err, "token: load state")
	}
	if !ok || subtle.ConstantTimeCompare([]byte(want), []byte(state)) != 1 {
		zap.L().Warn("token: callback state rejected", zap.Bool("pending", ok))
		return nil, ErrStateMismatch
	}
	if err := p.store.Delete(ctx, store.KeyOAuthState); err != nil {
		return nil, eris.Wrap(err, "token: consume state")
	}

	return p.ExchangeCode(ctx, code)
}
