package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*HttpOptions)(nil)

// HttpOptions configures the host API server.
type HttpOptions struct {
	// Network is "tcp", "tcp4", "tcp6" or "unix".
	Network string `json:"network" mapstructure:"network"`

	// Addr is the listen address, or the socket path for "unix".
	Addr string `json:"addr" mapstructure:"addr"`

	// Timeout bounds writing a response. A command call waits for the vehicle
	// to confirm, so it has to cover the whole poll budget.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	ReadHeaderTimeout time.Duration `json:"read-header-timeout" mapstructure:"read-header-timeout"`

	// ShutdownTimeout is how long open requests may run after the session stops.
	ShutdownTimeout time.Duration `json:"shutdown-timeout" mapstructure:"shutdown-timeout"`
}

// NewHttpOptions creates a HttpOptions object with default parameters.
func NewHttpOptions() *HttpOptions {
	return &HttpOptions{
		Network:           "tcp",
		Addr:              "0.0.0.0:8080",
		Timeout:           15 * time.Minute,
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   5 * time.Second,
	}
}

func (o *HttpOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	switch o.Network {
	case "tcp", "tcp4", "tcp6":
		if err := ValidateAddress(o.Addr); err != nil {
			errs = append(errs, err)
		}
	case "unix":
		if o.Addr == "" {
			errs = append(errs, errEmpty("http.addr"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported http.network %q", o.Network))
	}

	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("http.timeout must be positive, got %s", o.Timeout))
	}

	return errs
}

// AddFlags adds flags related to the host API server to the specified FlagSet.
func (o *HttpOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Network, "http.network", o.Network, "Network of the API listener: tcp, tcp4, tcp6 or unix.")
	fs.StringVar(&o.Addr, "http.addr", o.Addr, "API listen address, or socket path for the unix network.")
	fs.DurationVar(&o.Timeout, "http.timeout", o.Timeout, "Write timeout for API responses, must cover a full command confirmation.")
	fs.DurationVar(&o.ReadHeaderTimeout, "http.read-header-timeout", o.ReadHeaderTimeout, "Time allowed to read request headers.")
	fs.DurationVar(&o.ShutdownTimeout, "http.shutdown-timeout", o.ShutdownTimeout, "Grace period for open requests on shutdown.")
}
