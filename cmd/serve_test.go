package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/revenue-digest/internal/digest"
	"github.com/sells-group/revenue-digest/internal/fault"
	"github.com/sells-group/revenue-digest/internal/model"
	"github.com/sells-group/revenue-digest/internal/token"
)

type mockOAuth struct {
	mock.Mock
}

func (m *mockOAuth) AuthorizeURL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockOAuth) ExchangeCallback(ctx context.Context, code, state string) (*model.TokenPair, error) {
	args := m.Called(ctx, code, state)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.TokenPair), args.Error(1)
}

// fixedToken is an access token source with a canned answer.
type fixedToken struct {
	tok string
	err error
}

func (f fixedToken) AccessToken(context.Context) (string, error) {
	return f.tok, f.err
}

var haveToken = fixedToken{tok: "access"}

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context) *digest.RunResult {
	return m.Called(ctx).Get(0).(*digest.RunResult)
}

type mockRefresher struct {
	mock.Mock
}

func (m *mockRefresher) Refresh(ctx context.Context) (*model.TokenPair, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.TokenPair), args.Error(1)
}

func serveRequest(h http.Handler, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestBuildRouter_Health(t *testing.T) {
	rr := serveRequest(buildRouter(nil, nil, haveToken, []string{"*"}), http.MethodGet, "/health")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestBuildRouter_Callback_MissingCode(t *testing.T) {
	ex := new(mockOAuth)
	rr := serveRequest(buildRouter(ex, nil, haveToken, nil), http.MethodGet, "/oauth/callback")

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "code is required")
	ex.AssertNotCalled(t, "ExchangeCallback", mock.Anything, mock.Anything, mock.Anything)
}

func TestBuildRouter_Callback_Success(t *testing.T) {
	ex := new(mockOAuth)
	ex.On("ExchangeCallback", mock.Anything, "def502", "x").
		Return(&model.TokenPair{AccessToken: "secret-access", RefreshToken: "secret-refresh", ExpiresIn: 86400}, nil)

	rr := serveRequest(buildRouter(ex, nil, haveToken, nil), http.MethodGet, "/oauth/callback?code=def502&state=x")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "secret-access")

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "authorized", body["status"])
	assert.Equal(t, float64(86400), body["expires_in"])
	ex.AssertExpectations(t)
}

func TestBuildRouter_Callback_Fault(t *testing.T) {
	ex := new(mockOAuth)
	ex.On("ExchangeCallback", mock.Anything, "expired", "x").
		Return(nil, fault.HTTP("amocrm: token authorization_code", 400, "Authorization code has expired"))

	rr := serveRequest(buildRouter(ex, nil, haveToken, nil), http.MethodGet, "/oauth/callback?code=expired&state=x")

	assert.Equal(t, http.StatusBadGateway, rr.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "http", body["fault_kind"])
	assert.Contains(t, body["error"], "Authorization code has expired")
}

func TestBuildRouter_ReportRun(t *testing.T) {
	run := new(mockRunner)
	run.On("Run", mock.Anything).Return(&digest.RunResult{
		RunID:     "run-1",
		Aggregate: model.ManagerAggregate{"Alice": {LeadCount: 1, Revenue: 1000}},
		Message:   "Revenue for yesterday:\nManager Alice: 1000 rub.\n",
		Delivered: true,
	})

	rr := serveRequest(buildRouter(nil, run, haveToken, nil), http.MethodPost, "/report/run")

	assert.Equal(t, http.StatusOK, rr.Code)
	var res digest.RunResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, "run-1", res.RunID)
	assert.True(t, res.Delivered)
	assert.Equal(t, int64(1000), res.Aggregate["Alice"].Revenue)
	run.AssertNumberOfCalls(t, "Run", 1)
}

func TestBuildRouter_ReportRun_WrongMethod(t *testing.T) {
	run := new(mockRunner)
	rr := serveRequest(buildRouter(nil, run, haveToken, nil), http.MethodGet, "/report/run")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	run.AssertNotCalled(t, "Run", mock.Anything)
}

func TestBuildRouter_CORSPreflight(t *testing.T) {
	h := buildRouter(nil, nil, haveToken, []string{"https://app.example.com"})

	req := httptest.NewRequest(http.MethodOptions, "/report/run", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestBuildRouter_Authorize_Redirects(t *testing.T) {
	ex := new(mockOAuth)
	ex.On("AuthorizeURL", mock.Anything).Return("https://www.amocrm.ru/oauth?client_id=c&state=s-1", nil)

	rr := serveRequest(buildRouter(ex, nil, haveToken, nil), http.MethodGet, "/oauth/authorize")

	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "https://www.amocrm.ru/oauth?client_id=c&state=s-1", rr.Header().Get("Location"))
}

func TestBuildRouter_Callback_StateRejected(t *testing.T) {
	ex := new(mockOAuth)
	ex.On("ExchangeCallback", mock.Anything, "def502", "").Return(nil, token.ErrStateMissing)
	ex.On("ExchangeCallback", mock.Anything, "def502", "forged").Return(nil, token.ErrStateMismatch)
	h := buildRouter(ex, nil, haveToken, nil)

	rr := serveRequest(h, http.MethodGet, "/oauth/callback?code=def502")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "state is required")

	rr = serveRequest(h, http.MethodGet, "/oauth/callback?code=def502&state=forged")
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, rr.Body.String(), "state does not match")
}

func TestBuildRouter_NoOriginsDisablesCORS(t *testing.T) {
	h := buildRouter(nil, nil, haveToken, nil)

	req := httptest.NewRequest(http.MethodOptions, "/report/run", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestBuildRouter_ReportRun_RejectsOverlap(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	run := new(mockRunner)
	run.On("Run", mock.Anything).Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Return(&digest.RunResult{RunID: "run-1"}).Once()

	h := buildRouter(nil, run, haveToken, nil)

	var wg sync.WaitGroup
	var first *httptest.ResponseRecorder
	wg.Add(1)
	go func() {
		defer wg.Done()
		first = serveRequest(h, http.MethodPost, "/report/run")
	}()
	<-started

	second := serveRequest(h, http.MethodPost, "/report/run")
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Contains(t, second.Body.String(), "already in progress")

	close(release)
	wg.Wait()
	assert.Equal(t, http.StatusOK, first.Code)
	run.AssertNumberOfCalls(t, "Run", 1)

	// The guard is released once the run ends.
	run.On("Run", mock.Anything).Return(&digest.RunResult{RunID: "run-2"}).Once()
	assert.Equal(t, http.StatusOK, serveRequest(h, http.MethodPost, "/report/run").Code)
}

func TestBuildRouter_ReportRun_SurvivesClientCancel(t *testing.T) {
	var runErr error
	run := new(mockRunner)
	run.On("Run", mock.Anything).Run(func(args mock.Arguments) {
		runErr = args.Get(0).(context.Context).Err()
	}).Return(&digest.RunResult{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/report/run", nil).WithContext(ctx)
	rr := httptest.NewRecorder()
	buildRouter(nil, run, haveToken, nil).ServeHTTP(rr, req)

	run.AssertNumberOfCalls(t, "Run", 1)
	assert.NoError(t, runErr)
}

func TestBuildRouter_ReportRun_NoAccessToken(t *testing.T) {
	run := new(mockRunner)
	missing := fixedToken{err: fault.Configuration("token: access token", "no access token stored or configured (crm.access_token)")}

	rr := serveRequest(buildRouter(nil, run, missing, nil), http.MethodPost, "/report/run")

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "configuration")
	run.AssertNotCalled(t, "Run", mock.Anything)
}

func TestScheduledJob_RefreshFailureStillRuns(t *testing.T) {
	ref := new(mockRefresher)
	ref.On("Refresh", mock.Anything).Return(nil, fault.HTTP("amocrm: token refresh_token", 401, "revoked"))
	run := new(mockRunner)
	run.On("Run", mock.Anything).Return(&digest.RunResult{})

	scheduledJob(run, ref, true)(context.Background())

	ref.AssertNumberOfCalls(t, "Refresh", 1)
	run.AssertNumberOfCalls(t, "Run", 1)
}

func TestScheduledJob_RefreshDisabled(t *testing.T) {
	ref := new(mockRefresher)
	run := new(mockRunner)
	run.On("Run", mock.Anything).Return(&digest.RunResult{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	scheduledJob(run, ref, false)(ctx)

	ref.AssertNotCalled(t, "Refresh", mock.Anything)
	run.AssertNumberOfCalls(t, "Run", 1)
}
