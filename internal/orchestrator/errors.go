package orchestrator

import "fmt"

// ConfigurationError is returned for a request that cannot run at all.
// No engine is started.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", e.Reason)
}

func (e *ConfigurationError) InvalidInput() bool {
	return true
}
