package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Relay token exchange parameters (RFC 8693).
const (
	relayClientID         = "fordpass-prod"
	relaySubjectIssuer    = "fordpass"
	relayGrantType        = "urn:ietf:params:oauth:grant-type:token-exchange"
	relaySubjectTokenType = "urn:ietf:params:oauth:token-type:jwt"
)

// TokenResponse is the body returned by every token endpoint.
type TokenResponse struct {
	AccessToken      string   `json:"access_token"`
	RefreshToken     string   `json:"refresh_token"`
	ExpiresIn        *float64 `json:"expires_in,omitempty"`
	RefreshExpiresIn *float64 `json:"refresh_expires_in,omitempty"`

	// Message and Error carry the failure reason of a login answer.
	Message          string `json:"message,omitempty"`
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// Expiry returns now plus expires_in, or the zero time when it is absent.
func (t *TokenResponse) Expiry(now time.Time) time.Time {
	return addSeconds(now, t.ExpiresIn)
}

// RefreshExpiry returns now plus refresh_expires_in, or the zero time.
func (t *TokenResponse) RefreshExpiry(now time.Time) time.Time {
	return addSeconds(now, t.RefreshExpiresIn)
}

func addSeconds(now time.Time, secs *float64) time.Time {
	if secs == nil {
		return time.Time{}
	}
	return now.Add(time.Duration(*secs * float64(time.Second)))
}

// FailureReason returns the most specific reason a login answer carries.
func (t *TokenResponse) FailureReason() string {
	switch {
	case t.Message != "":
		return t.Message
	case t.ErrorDescription != "":
		return t.ErrorDescription
	case t.Error != "":
		return t.Error
	}
	return "no access_token in response"
}

func decodeToken(resp *Response) (*TokenResponse, error) {
	var tok TokenResponse
	if err := json.Unmarshal(resp.Body, &tok); err != nil {
		return nil, fmt.Errorf("%w: decoding token response: %v", ErrTransient, err)
	}
	return &tok, nil
}

// RefreshPrimary exchanges a primary refresh token for a new primary pair.
// Both 401 and 400 are reported as ErrUnauthorized.
func (c *Client) RefreshPrimary(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	req, err := c.newJSONRequest(http.MethodPost, c.endpoints.Foundational+"/token/v2/cat-with-refresh-token",
		map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return nil, err
	}
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return decodeToken(resp)
	case http.StatusUnauthorized, http.StatusBadRequest:
		return nil, resp.statusError(true)
	}
	return nil, resp.statusError(false)
}

// ExchangeRelay exchanges a primary access token for a relay token.
func (c *Client) ExchangeRelay(ctx context.Context, primaryToken string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("subject_token", primaryToken)
	form.Set("subject_issuer", relaySubjectIssuer)
	form.Set("client_id", relayClientID)
	form.Set("grant_type", relayGrantType)
	form.Set("subject_token_type", relaySubjectTokenType)

	resp, err := c.Do(ctx, c.newFormRequest(c.endpoints.Accounts+"/auth/oidc/token", form))
	if err != nil {
		return nil, err
	}
	if err := resp.Check(); err != nil {
		return nil, err
	}
	return decodeToken(resp)
}

// LoginIDP exchanges an identity-provider access token for a primary pair.
// The endpoint does not always answer 200 on success, so the body decides.
func (c *Client) LoginIDP(ctx context.Context, idpToken string) (*TokenResponse, error) {
	req, err := c.newJSONRequest(http.MethodPost, c.endpoints.Foundational+"/token/v2/cat-with-b2c-access-token",
		map[string]string{"idpToken": idpToken})
	if err != nil {
		return nil, err
	}
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	tok, err := decodeToken(resp)
	if err != nil {
		return nil, resp.statusError(resp.StatusCode == http.StatusUnauthorized)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: login rejected: %s", ErrUnauthorized, tok.FailureReason())
	}
	return tok, nil
}
