package options

import (
	"fmt"
	"slices"

	"github.com/spf13/pflag"
)

var _ IOptions = (*CredentialOptions)(nil)

// Credential store backends.
const (
	CredentialBackendFile  = "file"
	CredentialBackendRedis = "redis"
	CredentialBackendKube  = "kube"
)

// CredentialOptions selects where token records are persisted.
type CredentialOptions struct {
	Backend string `json:"backend" mapstructure:"backend"`

	// WatchFile reloads the in-memory record when the token file is changed by someone else.
	// Only used by the file backend.
	WatchFile bool `json:"watch-file" mapstructure:"watch-file"`
}

// NewCredentialOptions creates a new CredentialOptions with default values.
func NewCredentialOptions() *CredentialOptions {
	return &CredentialOptions{
		Backend:   CredentialBackendFile,
		WatchFile: true,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *CredentialOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	backends := []string{CredentialBackendFile, CredentialBackendRedis, CredentialBackendKube}
	if !slices.Contains(backends, o.Backend) {
		errors = append(errors, fmt.Errorf("--credential.backend must be one of %v, got %q", backends, o.Backend))
	}

	return errors
}

// AddFlags adds flags for CredentialOptions to the specified FlagSet.
func (o *CredentialOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Backend, "credential.backend", o.Backend, "Token store backend: file, redis or kube.")
	fs.BoolVar(&o.WatchFile, "credential.watch-file", o.WatchFile, "Watch the token file for external changes (file backend only).")
}
