package auth

import "errors"

var (
	// ErrReauthRequired is returned once the stored credentials can no longer
	// be refreshed. Only AcknowledgeReauth or Login clears it.
	ErrReauthRequired = errors.New("re-authentication required")

	// ErrNoRelayToken is returned when a relay token is needed but none could
	// be obtained.
	ErrNoRelayToken = errors.New("no relay token available")
)
