// Package token acquires and renews CRM OAuth2 tokens and persists them.
package token

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/revenue-digest/internal/config"
	"github.com/sells-group/revenue-digest/internal/fault"
	"github.com/sells-group/revenue-digest/internal/model"
	"github.com/sells-group/revenue-digest/internal/store"
	"github.com/sells-group/revenue-digest/pkg/amocrm"
)

// Requester is the token endpoint dependency, satisfied by amocrm.Client.
type Requester interface {
	RequestToken(ctx context.Context, req amocrm.TokenRequest) (*model.TokenPair, error)
}

// Provider exchanges grants for token pairs. Both grant types share one
// code path; only the grant-specific parameter differs.
type Provider struct {
	crm   Requester
	store store.Store
	cfg   config.CRMConfig
}

// NewProvider creates a Provider.
func NewProvider(crm Requester, st store.Store, cfg config.CRMConfig) *Provider {
	return &Provider{crm: crm, store: st, cfg: cfg}
}

// ExchangeCode trades a one-time authorization code for a token pair.
func (p *Provider) ExchangeCode(ctx context.Context, code string) (*model.TokenPair, error) {
	return p.Request(ctx, amocrm.GrantAuthorizationCode, code)
}

// Refresh renews the pair using the stored refresh token, falling back to
// the configured one when the store is empty.
func (p *Provider) Refresh(ctx context.Context) (*model.TokenPair, error) {
	refresh, err := p.currentRefreshToken(ctx)
	if err != nil {
		return nil, err
	}
	return p.Request(ctx, amocrm.GrantRefreshToken, refresh)
}

// Request performs one token call for the given grant. On success the pair
// is persisted, replacing the previous one; on failure the store is not
// touched.
func (p *Provider) Request(ctx context.Context, grant amocrm.GrantType, value string) (*model.TokenPair, error) {
	req := amocrm.TokenRequest{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		GrantType:    grant,
		RedirectURI:  p.cfg.RedirectURI,
	}
	switch grant {
	case amocrm.GrantAuthorizationCode:
		req.Code = value
	case amocrm.GrantRefreshToken:
		req.RefreshToken = value
	}

	pair, err := p.crm.RequestToken(ctx, req)
	if err != nil {
		zap.L().Error("token: request failed",
			zap.String("grant_type", string(grant)),
			zap.String("fault_kind", string(fault.KindOf(err))),
			zap.Int("status_code", fault.StatusCode(err)),
			zap.Error(err),
		)
		return nil, err
	}

	if err := p.store.SaveTokens(ctx, *pair); err != nil {
		return nil, eris.Wrap(err, "token: persist pair")
	}

	zap.L().Info("token: pair updated",
		zap.String("grant_type", string(grant)),
		zap.Int("expires_in", pair.ExpiresIn),
	)
	return pair, nil
}

func (p *Provider) currentRefreshToken(ctx context.Context) (string, error) {
	stored, err := p.store.LoadTokens(ctx)
	if err != nil {
		return "", eris.Wrap(err, "token: load stored pair")
	}
	if stored != nil && stored.RefreshToken != "" {
		return stored.RefreshToken, nil
	}
	if p.cfg.RefreshToken != "" {
		return p.cfg.RefreshToken, nil
	}
	return "", fault.Configuration("token: refresh", "no refresh token stored or configured (crm.refresh_token)")
}
