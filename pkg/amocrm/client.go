// Package amocrm provides a client for the amoCRM v4 REST API and its OAuth2
// token endpoint.
package amocrm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/revenue-digest/internal/fault"
	"github.com/sells-group/revenue-digest/internal/model"
)

// DateLayout is the date format accepted by the closed_at filter.
const DateLayout = "2006-01-02"

// Client defines the amoCRM operations used by the digest.
type Client interface {
	// FetchPipelines returns every lead pipeline with its statuses.
	FetchPipelines(ctx context.Context) ([]model.Pipeline, error)
	// FetchUsers returns the account's users.
	FetchUsers(ctx context.Context) ([]model.User, error)
	// FetchLeads returns leads closed inside the filter's date range.
	FetchLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error)
	// RequestToken exchanges a grant for a new token pair.
	RequestToken(ctx context.Context, req TokenRequest) (*model.TokenPair, error)
}

// TokenSource supplies the bearer token attached to API requests.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// LeadFilter restricts the leads query. From and To are truncated to dates.
type LeadFilter struct {
	From      time.Time
	To        time.Time
	StatusIDs []int
}

// Values encodes the filter as amoCRM query parameters.
func (f LeadFilter) Values() url.Values {
	v := url.Values{}
	if !f.From.IsZero() {
		v.Set("filter[closed_at][from]", f.From.Format(DateLayout))
	}
	if !f.To.IsZero() {
		v.Set("filter[closed_at][to]", f.To.Format(DateLayout))
	}
	for i, id := range f.StatusIDs {
		v.Set(fmt.Sprintf("filter[statuses][%d][status]", i), fmt.Sprint(id))
	}
	return v
}

// Option configures the amoCRM client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

// WithRateLimit caps outgoing requests per second. Zero disables limiting.
func WithRateLimit(perSecond float64) Option {
	return func(c *httpClient) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

type httpClient struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a client for the account at domain (e.g. "acme.amocrm.ru").
func NewClient(domain string, tokens TokenSource, opts ...Option) Client {
	c := &httpClient{
		baseURL: "https://" + domain,
		tokens:  tokens,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(7), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// embedded is the HAL envelope wrapping every list response.
type embedded[T any] struct {
	Embedded T `json:"_embedded"`
}

type pipelinePayload struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	IsMain   bool   `json:"is_main"`
	Embedded struct {
		Statuses []model.Status `json:"statuses"`
	} `json:"_embedded"`
}

func (c *httpClient) FetchPipelines(ctx context.Context) ([]model.Pipeline, error) {
	const op = "amocrm: fetch pipelines"

	var resp embedded[struct {
		Pipelines []pipelinePayload `json:"pipelines"`
	}]
	if err := c.get(ctx, op, "/api/v4/leads/pipelines", nil, &resp); err != nil {
		return nil, err
	}

	out := make([]model.Pipeline, 0, len(resp.Embedded.Pipelines))
	for _, p := range resp.Embedded.Pipelines {
		out = append(out, model.Pipeline{
			ID:       p.ID,
			Name:     p.Name,
			IsMain:   p.IsMain,
			Statuses: p.Embedded.Statuses,
		})
	}
	return out, nil
}

func (c *httpClient) FetchUsers(ctx context.Context) ([]model.User, error) {
	const op = "amocrm: fetch users"

	var resp embedded[struct {
		Users []model.User `json:"users"`
	}]
	if err := c.get(ctx, op, "/api/v4/users", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Embedded.Users == nil {
		return []model.User{}, nil
	}
	return resp.Embedded.Users, nil
}

func (c *httpClient) FetchLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	const op = "amocrm: fetch leads"

	var resp embedded[struct {
		Leads []model.Lead `json:"leads"`
	}]
	if err := c.get(ctx, op, "/api/v4/leads", filter.Values(), &resp); err != nil {
		return nil, err
	}
	if resp.Embedded.Leads == nil {
		return []model.Lead{}, nil
	}
	return resp.Embedded.Leads, nil
}

// get issues an authenticated GET and decodes the JSON body into out.
// A 204 response leaves out untouched.
func (c *httpClient) get(ctx context.Context, op, path string, query url.Values, out any) error {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return eris.Wrapf(err, "%s: access token", op)
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return eris.Wrapf(err, "%s: create request", op)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	body, status, err := c.do(ctx, op, req)
	if err != nil {
		return err
	}
	if status == http.StatusNoContent || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fault.Decode(op, err)
	}
	return nil
}

// do waits for the rate limiter, executes the request and classifies the
// outcome. Non-2xx responses become HTTP faults; the body is returned only
// on success.
func (c *httpClient) do(ctx context.Context, op string, req *http.Request) ([]byte, int, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, fault.FromTransport(op, err)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fault.FromTransport(op, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fault.FromTransport(op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, fault.HTTP(op, resp.StatusCode, errorDetail(body))
	}
	return body, resp.StatusCode, nil
}

// apiError is the problem+json body amoCRM returns on failures.
type apiError struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Hint   string `json:"hint"`
	Status int    `json:"status"`
}

// errorDetail extracts the most specific message from an error body.
func errorDetail(body []byte) string {
	var e apiError
	if err := json.Unmarshal(body, &e); err == nil {
		parts := make([]string, 0, 3)
		for _, s := range []string{e.Title, e.Detail, e.Hint} {
			if s != "" {
				parts = append(parts, s)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, ": ")
		}
	}

	detail := strings.TrimSpace(string(body))
	if len(detail) > 200 {
		detail = detail[:200]
	}
	return detail
}
