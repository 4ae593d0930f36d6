package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/autopeer-io/fordpass-bridge/pkg/region"
)

var _ IOptions = (*FordPassOptions)(nil)

// MinUpdateInterval is the smallest accepted polling interval.
const MinUpdateInterval = 30 * time.Second

// FordPassOptions identifies the account and vehicle a bridge session serves.
type FordPassOptions struct {
	Username string `json:"username" mapstructure:"username"`
	VIN      string `json:"vin" mapstructure:"vin"`
	Region   string `json:"region" mapstructure:"region"`

	// UpdateInterval is the polling period used while no stream is connected.
	// The relay token lives about five minutes, so the default stays just below that.
	UpdateInterval time.Duration `json:"update-interval" mapstructure:"update-interval"`

	// StoragePath is the root for token files and local data dumps.
	StoragePath string `json:"storage-path" mapstructure:"storage-path"`

	// ForceRemoteClimateControl enables the climate domain even if the vehicle profile does not announce it.
	ForceRemoteClimateControl bool `json:"force-remote-climate-control" mapstructure:"force-remote-climate-control"`

	// DataDumps writes every raw backend payload to the dump sink.
	DataDumps bool `json:"data-dumps" mapstructure:"data-dumps"`
}

// NewFordPassOptions creates a new FordPassOptions with default values.
func NewFordPassOptions() *FordPassOptions {
	return &FordPassOptions{
		Region:         region.DefaultFord,
		UpdateInterval: 290 * time.Second,
		StoragePath:    ".storage",
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *FordPassOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.Username == "" {
		errors = append(errors, errEmpty("fordpass.username"))
	}
	if len(o.VIN) != 17 {
		errors = append(errors, fmt.Errorf("--fordpass.vin must be 17 characters, got %d", len(o.VIN)))
	}
	if _, err := region.Lookup(o.Region); err != nil {
		errors = append(errors, err)
	}
	if o.UpdateInterval < MinUpdateInterval {
		errors = append(errors, fmt.Errorf("--fordpass.update-interval must be at least %s", MinUpdateInterval))
	}

	return errors
}

// AddFlags adds flags for FordPassOptions to the specified FlagSet.
func (o *FordPassOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Username, "fordpass.username", o.Username, "FordPass account name (usually the e-mail address).")
	fs.StringVar(&o.VIN, "fordpass.vin", o.VIN, "Vehicle identification number served by this bridge.")
	fs.StringVar(&o.Region, "fordpass.region", o.Region, fmt.Sprintf("Account region, one of %v.", region.Keys(false)))
	fs.DurationVar(&o.UpdateInterval, "fordpass.update-interval", o.UpdateInterval, "Polling interval while no stream is connected.")
	fs.StringVar(&o.StoragePath, "fordpass.storage-path", o.StoragePath, "Directory for token files and local data dumps.")
	fs.BoolVar(&o.ForceRemoteClimateControl, "fordpass.force-remote-climate-control", o.ForceRemoteClimateControl, "Treat the vehicle as supporting remote climate control.")
	fs.BoolVar(&o.DataDumps, "fordpass.data-dumps", o.DataDumps, "Dump raw backend payloads for diagnosis.")
}
