package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrTransient marks network failures and unexpected statuses. It sets the
	// session communication-error flag and never touches failure counters.
	ErrTransient = errors.New("transient communication error")

	// ErrUnauthorized marks 401 responses, and 400 responses of the token
	// endpoints.
	ErrUnauthorized = errors.New("unauthorized")
)

// StatusError is an HTTP response with an unexpected status.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   []byte

	unauthorized bool
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(string(e.Body))
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Code, body)
}

// Unwrap classifies the status as ErrUnauthorized or ErrTransient.
func (e *StatusError) Unwrap() error {
	if e.unauthorized {
		return ErrUnauthorized
	}
	return ErrTransient
}

// InvalidatedToken reports whether the body says the token was revoked rather
// than just expired, which no amount of retrying fixes.
func (e *StatusError) InvalidatedToken() bool {
	var body struct {
		Message   string `json:"message"`
		ErrorCode string `json:"errorCode"`
	}
	if err := json.Unmarshal(e.Body, &body); err != nil {
		return false
	}
	msg := strings.ToLower(body.Message)
	return strings.Contains(msg, "invalid") || strings.Contains(msg, "expired token") || body.ErrorCode == "460"
}

// Forbidden reports whether the body is the FORBIDDEN "not authorized to
// perform" answer given for a vehicle that is not enabled for the account.
func (e *StatusError) Forbidden() bool {
	if e.Code != http.StatusForbidden {
		return false
	}
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(e.Body, &body); err != nil {
		return false
	}
	return strings.EqualFold(body.Error, "FORBIDDEN") && strings.Contains(strings.ToUpper(body.Message), "NOT AUTHORIZED TO PERFORM")
}

// AsStatusError unwraps err into a *StatusError.
func AsStatusError(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
