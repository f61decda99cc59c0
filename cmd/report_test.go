package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/revenue-digest/internal/fault"
	"github.com/sells-group/revenue-digest/internal/model"
	"github.com/sells-group/revenue-digest/internal/store"
	"github.com/sells-group/revenue-digest/internal/token"
)

// countingServer records every request it receives.
func countingServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func commandWithContext() (*cobra.Command, *bytes.Buffer) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	cmd.SetOut(&buf)
	return cmd, &buf
}

func noTokenConfig(t *testing.T) (crmHits, tgHits *atomic.Int32) {
	t.Helper()
	crmSrv, crmHits := countingServer(t)
	tgSrv, tgHits := countingServer(t)

	c := testConfig(t)
	c.CRM.BaseURL = crmSrv.URL
	c.CRM.AccessToken = ""
	c.Telegram.BaseURL = tgSrv.URL
	withConfig(t, c)
	return crmHits, tgHits
}

func TestReportCommand_MissingAccessTokenIsFatal(t *testing.T) {
	crmHits, tgHits := noTokenConfig(t)
	cmd, _ := commandWithContext()

	err := reportCmd.RunE(cmd, nil)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.KindConfiguration))
	assert.Contains(t, err.Error(), "crm.access_token")
	assert.Zero(t, crmHits.Load())
	assert.Zero(t, tgHits.Load())
}

func TestScheduleCommand_MissingAccessTokenIsFatal(t *testing.T) {
	crmHits, tgHits := noTokenConfig(t)
	cmd, _ := commandWithContext()

	prev := scheduleRunNow
	scheduleRunNow = true
	t.Cleanup(func() { scheduleRunNow = prev })

	err := scheduleCmd.RunE(cmd, nil)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.KindConfiguration))
	assert.Zero(t, crmHits.Load())
	assert.Zero(t, tgHits.Load())
}

func TestEnsureAccessToken(t *testing.T) {
	ctx := context.Background()
	c := testConfig(t)
	withConfig(t, c)

	st, err := initStore(ctx)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	err = ensureAccessToken(ctx, token.NewStoreSource(st, ""))
	assert.True(t, fault.Is(err, fault.KindConfiguration))

	assert.NoError(t, ensureAccessToken(ctx, token.NewStoreSource(st, "configured")))

	require.NoError(t, st.SaveTokens(ctx, model.TokenPair{AccessToken: "stored", RefreshToken: "r"}))
	assert.NoError(t, ensureAccessToken(ctx, token.NewStoreSource(st, "")))
}

func TestTokenAuthorizeCommand_PrintsURLAndStoresState(t *testing.T) {
	c := testConfig(t)
	c.CRM.AuthorizeURL = "https://www.amocrm.ru/oauth"
	withConfig(t, c)
	cmd, buf := commandWithContext()

	require.NoError(t, tokenAuthorizeCmd.RunE(cmd, nil))
	out := buf.String()
	assert.Contains(t, out, "https://www.amocrm.ru/oauth?")
	assert.Contains(t, out, "client_id=client-id")

	ctx := context.Background()
	st, err := initStore(ctx)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	state, ok, err := st.Get(ctx, store.KeyOAuthState)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, out, "state="+state)
}
