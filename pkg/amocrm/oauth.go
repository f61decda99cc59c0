package amocrm

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/rotisserie/eris"

	"github.com/sells-group/revenue-digest/internal/fault"
	"github.com/sells-group/revenue-digest/internal/model"
)

// GrantType selects the OAuth2 grant sent to the token endpoint.
type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantRefreshToken      GrantType = "refresh_token"
)

// TokenRequest is the body posted to /oauth2/access_token. Exactly one of
// Code or RefreshToken is sent, depending on GrantType.
type TokenRequest struct {
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
	GrantType    GrantType `json:"grant_type"`
	Code         string    `json:"code,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	RedirectURI  string    `json:"redirect_uri"`
}

func (c *httpClient) RequestToken(ctx context.Context, tr TokenRequest) (*model.TokenPair, error) {
	op := "amocrm: token " + string(tr.GrantType)

	switch tr.GrantType {
	case GrantAuthorizationCode:
		if tr.Code == "" {
			return nil, fault.Configuration(op, "authorization code is required")
		}
		tr.RefreshToken = ""
	case GrantRefreshToken:
		if tr.RefreshToken == "" {
			return nil, fault.Configuration(op, "refresh token is required")
		}
		tr.Code = ""
	default:
		return nil, fault.Configuration(op, "unsupported grant type "+string(tr.GrantType))
	}

	payload, err := json.Marshal(tr)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: marshal request", op)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth2/access_token", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrapf(err, "%s: create request", op)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	body, _, err := c.do(ctx, op, req)
	if err != nil {
		return nil, err
	}

	var pair model.TokenPair
	if err := json.Unmarshal(body, &pair); err != nil {
		return nil, fault.Decode(op, err)
	}
	if !pair.Valid() {
		return nil, fault.Decode(op, eris.New("response is missing access_token or refresh_token"))
	}
	return &pair, nil
}
