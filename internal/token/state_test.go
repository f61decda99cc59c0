package token

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/revenue-digest/internal/model"
	"github.com/sells-group/revenue-digest/internal/store"
)

func TestAuthorizeURL_PersistsState(t *testing.T) {
	st := newTestStore(t)
	cfg := testCRM
	cfg.AuthorizeURL = "https://www.amocrm.ru/oauth"
	p := NewProvider(new(mockRequester), st, cfg)
	ctx := context.Background()

	raw, err := p.AuthorizeURL(ctx)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "www.amocrm.ru", u.Host)
	assert.Equal(t, "/oauth", u.Path)
	assert.Equal(t, "client-1", u.Query().Get("client_id"))

	stored, ok, err := st.Get(ctx, store.KeyOAuthState)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, stored, u.Query().Get("state"))

	// A second request replaces the pending state.
	raw2, err := p.AuthorizeURL(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, raw, raw2)
}

func TestExchangeCallback_ValidStateIsSingleUse(t *testing.T) {
	st := newTestStore(t)
	req := new(mockRequester)
	p := NewProvider(req, st, testCRM)
	ctx := context.Background()

	require.NoError(t, st.Set(ctx, store.KeyOAuthState, "state-1"))
	req.On("RequestToken", ctx, mock.Anything).
		Return(&model.TokenPair{AccessToken: "a", RefreshToken: "r"}, nil).Once()

	pair, err := p.ExchangeCallback(ctx, "code-1", "state-1")
	require.NoError(t, err)
	assert.Equal(t, "a", pair.AccessToken)

	_, ok, err := st.Get(ctx, store.KeyOAuthState)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = p.ExchangeCallback(ctx, "code-1", "state-1")
	assert.ErrorIs(t, err, ErrStateMismatch)
	req.AssertNumberOfCalls(t, "RequestToken", 1)
}

func TestExchangeCallback_MissingState(t *testing.T) {
	st := newTestStore(t)
	req := new(mockRequester)
	p := NewProvider(req, st, testCRM)

	_, err := p.ExchangeCallback(context.Background(), "code-1", "")
	assert.ErrorIs(t, err, ErrStateMissing)
	req.AssertNotCalled(t, "RequestToken", mock.Anything, mock.Anything)
}

func TestExchangeCallback_MismatchedStateKeepsTokens(t *testing.T) {
	st := newTestStore(t)
	req := new(mockRequester)
	p := NewProvider(req, st, testCRM)
	ctx := context.Background()

	require.NoError(t, st.SaveTokens(ctx, model.TokenPair{AccessToken: "old-a", RefreshToken: "old-r"}))
	require.NoError(t, st.Set(ctx, store.KeyOAuthState, "state-1"))

	_, err := p.ExchangeCallback(ctx, "attacker-code", "state-2")
	assert.ErrorIs(t, err, ErrStateMismatch)
	req.AssertNotCalled(t, "RequestToken", mock.Anything, mock.Anything)

	pair, err := st.LoadTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, "old-a", pair.AccessToken)

	// The pending state survives a rejected attempt.
	v, ok, err := st.Get(ctx, store.KeyOAuthState)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "state-1", v)
}

func TestExchangeCallback_NoPendingState(t *testing.T) {
	p := NewProvider(new(mockRequester), newTestStore(t), testCRM)

	_, err := p.ExchangeCallback(context.Background(), "code-1", "anything")
	assert.ErrorIs(t, err, ErrStateMismatch)
}
