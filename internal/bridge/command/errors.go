package command

import "errors"

var (
	// ErrCommandRejected is returned when the vendor refuses a command or
	// answers without a correlation id.
	ErrCommandRejected = errors.New("command rejected")
	// ErrCommandFailed is returned when the vehicle reports a failure.
	ErrCommandFailed = errors.New("command failed on vehicle")
	// ErrCommandExpired is returned when the vendor gave up delivering a command.
	ErrCommandExpired = errors.New("command expired")
	// ErrCommandTimedOut is returned when no final state arrived in time. The
	// command may still have been executed.
	ErrCommandTimedOut = errors.New("command outcome undetermined")
	// ErrInvalidArgument is returned for parameters the vendor would not accept.
	ErrInvalidArgument = errors.New("invalid command argument")
	// ErrUnknownCommand is returned by Dispatch for names outside the catalogue.
	ErrUnknownCommand = errors.New("unknown command")
)
