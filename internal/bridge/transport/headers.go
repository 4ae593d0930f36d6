package transport

import (
	"net/http"

	"golang.org/x/oauth2"
)

const (
	userAgent = "okhttp/4.12.0"

	headerApplicationID = "Application-Id"
	headerAuthToken     = "auth-token"
	headerCountryCode   = "countryCode"
	headerLocale        = "locale"
	headerVIN           = "vin"
	headerDeviceID      = "deviceId"
)

// APIHeaders returns the header preset of every REST call. Accept-Encoding is
// left to net/http, which asks for gzip and decodes it transparently.
func APIHeaders(appID string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", userAgent)
	h.Set("Connection", "Keep-Alive")
	h.Set("Content-Type", "application/json")
	if appID != "" {
		h.Set(headerApplicationID, appID)
	}
	return h
}

// StreamHeaders returns the websocket handshake preset: the API preset plus the
// relay bearer token. The dialer adds the upgrade headers itself.
func StreamHeaders(appID, relayToken string) http.Header {
	h := APIHeaders(appID)
	// Handshake headers owned by the websocket dialer.
	h.Del("Connection")
	h.Del("Content-Type")
	SetRelayAuth(h, relayToken)
	return h
}

// SetPrimaryAuth sets the auth-token header used by the Ford API families.
func SetPrimaryAuth(h http.Header, primaryToken string) {
	h.Set(headerAuthToken, primaryToken)
}

// SetRelayAuth sets the bearer authorization used by the Autonomic family.
func SetRelayAuth(h http.Header, relayToken string) {
	req := &http.Request{Header: h}
	(&oauth2.Token{AccessToken: relayToken, TokenType: "Bearer"}).SetAuthHeader(req)
}
