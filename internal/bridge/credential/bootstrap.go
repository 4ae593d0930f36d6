package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Bootstrap is the initial credential material read from the environment:
// FORDPASS_REFRESH_TOKEN and FORDPASS_IDP_TOKEN.
type Bootstrap struct {
	RefreshToken string `envconfig:"REFRESH_TOKEN"`
	IDPToken     string `envconfig:"IDP_TOKEN"`
}

// LoadBootstrap reads the FORDPASS_ prefixed bootstrap variables.
func LoadBootstrap() (*Bootstrap, error) {
	var b Bootstrap
	if err := envconfig.Process("fordpass", &b); err != nil {
		return nil, fmt.Errorf("reading bootstrap environment: %w", err)
	}
	return &b, nil
}

// Empty reports whether neither token is set.
func (b *Bootstrap) Empty() bool {
	return b == nil || (b.RefreshToken == "" && b.IDPToken == "")
}

// Seed stores a record built from the bootstrap refresh token when the store
// has no usable record for key. The access token is left expired so that the
// first use refreshes it. It reports whether a record was written.
func (b *Bootstrap) Seed(ctx context.Context, store Store, key Key) (bool, error) {
	if b.Empty() || b.RefreshToken == "" {
		return false, nil
	}

	_, err := store.Load(ctx, key)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrCorrupt):
	default:
		return false, err
	}

	rec := &Record{
		Primary: TokenPair{
			Access:  "bootstrap",
			Refresh: b.RefreshToken,
			Expiry:  1,
		},
	}
	if err := store.Save(ctx, key, rec); err != nil {
		return false, fmt.Errorf("seeding credential store: %w", err)
	}
	return true, nil
}
