package options

import "fmt"

func errEmpty(flag string) error {
	return fmt.Errorf("--%s must not be empty", flag)
}

func errInvalid(flag string, value any) error {
	return fmt.Errorf("--%s has an invalid value %v", flag, value)
}
