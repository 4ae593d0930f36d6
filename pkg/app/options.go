package app

import (
	cliflag "k8s.io/component-base/cli/flag"
)

// NamedFlagSetOptions is implemented by the option bundle of a command.
type NamedFlagSetOptions interface {
	// Flags returns the flags grouped by section for help output.
	Flags() cliflag.NamedFlagSets

	// Complete fills in derived fields after flags and config are read.
	Complete() error

	// Validate reports every invalid field at once.
	Validate() error
}
