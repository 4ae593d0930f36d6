package transport

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestRefreshPrimary(t *testing.T) {
	tests := []struct {
		name             string
		code             int
		body             string
		wantAccess       string
		wantUnauthorized bool
		wantTransient    bool
	}{
		{"ok", 200, `{"access_token":"a2","refresh_token":"r2","expires_in":300,"refresh_expires_in":86400}`, "a2", false, false},
		{"401", 401, `{}`, "", true, false},
		{"400", 400, `{"message":"bad"}`, "", true, false},
		{"500", 500, `oops`, "", false, true},
		{"garbled 200", 200, `not json`, "", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, calls := newTestClient(t, reply(tt.code, tt.body))

			tok, err := c.RefreshPrimary(context.Background(), "r1")
			if got := errors.Is(err, ErrUnauthorized); got != tt.wantUnauthorized {
				t.Errorf("Is(ErrUnauthorized) = %v (err %v)", got, err)
			}
			if got := errors.Is(err, ErrTransient); got != tt.wantTransient {
				t.Errorf("Is(ErrTransient) = %v (err %v)", got, err)
			}
			if tt.wantAccess != "" {
				if err != nil {
					t.Fatalf("RefreshPrimary: %v", err)
				}
				if tok.AccessToken != tt.wantAccess {
					t.Errorf("AccessToken = %q", tok.AccessToken)
				}
			}

			call := (*calls)[0]
			if call.method != http.MethodPost || call.path != "/foundational/token/v2/cat-with-refresh-token" {
				t.Errorf("request = %s %s", call.method, call.path)
			}
			if string(call.body) != `{"refresh_token":"r1"}` {
				t.Errorf("body = %s", call.body)
			}
			if call.header.Get("Application-Id") == "" {
				t.Error("missing Application-Id")
			}
		})
	}
}

func TestExchangeRelay(t *testing.T) {
	c, calls := newTestClient(t, reply(200, `{"access_token":"relay","refresh_token":"rr","expires_in":1800}`))

	tok, err := c.ExchangeRelay(context.Background(), "primary")
	if err != nil {
		t.Fatalf("ExchangeRelay: %v", err)
	}
	if tok.AccessToken != "relay" {
		t.Errorf("AccessToken = %q", tok.AccessToken)
	}

	call := (*calls)[0]
	if call.path != "/accounts/auth/oidc/token" {
		t.Errorf("path = %s", call.path)
	}
	if got := call.header.Get("Content-Type"); got != "application/x-www-form-urlencoded" {
		t.Errorf("Content-Type = %q", got)
	}
	form := strings.Split(string(call.body), "&")
	for _, want := range []string{
		"subject_token=primary",
		"subject_issuer=fordpass",
		"client_id=fordpass-prod",
		"grant_type=urn%3Aietf%3Aparams%3Aoauth%3Agrant-type%3Atoken-exchange",
		"subject_token_type=urn%3Aietf%3Aparams%3Aoauth%3Atoken-type%3Ajwt",
	} {
		if !slices.Contains(form, want) {
			t.Errorf("form %q lacks %q", form, want)
		}
	}

	c, _ = newTestClient(t, reply(401, `{}`))
	if _, err := c.ExchangeRelay(context.Background(), "primary"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("401 error = %v", err)
	}
}

func TestLoginIDP(t *testing.T) {
	c, calls := newTestClient(t, reply(201, `{"access_token":"a","refresh_token":"r","expires_in":10}`))
	tok, err := c.LoginIDP(context.Background(), "idp")
	if err != nil {
		t.Fatalf("LoginIDP: %v", err)
	}
	if tok.RefreshToken != "r" {
		t.Errorf("RefreshToken = %q", tok.RefreshToken)
	}
	if got := string((*calls)[0].body); got != `{"idpToken":"idp"}` {
		t.Errorf("body = %s", got)
	}

	c, _ = newTestClient(t, reply(200, `{"message":"user locked"}`))
	if _, err := c.LoginIDP(context.Background(), "idp"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("missing access_token error = %v", err)
	}
}

func TestTokenExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	secs := 90.5
	tok := TokenResponse{ExpiresIn: &secs}
	if got, want := tok.Expiry(now), now.Add(90500*time.Millisecond); !got.Equal(want) {
		t.Errorf("Expiry = %v, want %v", got, want)
	}
	if !tok.RefreshExpiry(now).IsZero() {
		t.Error("absent refresh_expires_in should give the zero time")
	}
}
