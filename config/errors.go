package config

import "fmt"

// ConfigurationError reports a configuration value that prevents the process
// from starting. It is always raised before any network resource exists.
type ConfigurationError struct {
	// Field is the environment variable or setting at fault.
	Field string
	// Reason describes what is wrong with it.
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}
