package config

import (
	"fmt"
	"regexp"
	"strings"
)

// ParseError reports a config file that could not be decoded.
type ParseError struct {
	Path  string
	Cause error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse config %s: %v", e.Path, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

func (e *ParseError) InvalidInput() bool { return true }

// ValidationError lists every problem found in a config.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: %v", e.Problems)
}

func (e *ValidationError) InvalidInput() bool { return true }

// Validate checks config values for correctness.
// Returns an error if any values are invalid.
func (c *Config) Validate() error {
	var errs []string

	if c.Run.TimeoutMs < 1 {
		errs = append(errs, "run.timeout_ms must be >= 1")
	}

	if c.Resources.MemoryThresholdMB <= 0 {
		errs = append(errs, "resources.memory_threshold_mb must be > 0")
	}
	if c.Resources.CPUThreshold <= 0 || c.Resources.CPUThreshold > 1 {
		errs = append(errs, "resources.cpu_threshold must be in (0, 1]")
	}
	if c.Resources.SampleCapacity < 1 {
		errs = append(errs, "resources.sample_capacity must be >= 1")
	}
	if c.Resources.BackoffMs < 0 {
		errs = append(errs, "resources.backoff_ms must be >= 0")
	}

	if c.Batch.DefaultSize < 1 {
		errs = append(errs, "batch.default_size must be >= 1")
	}
	if c.Batch.MinSize < 1 {
		errs = append(errs, "batch.min_size must be >= 1")
	}
	if c.Batch.MinSize > c.Batch.DefaultSize {
		errs = append(errs, "batch.min_size must be <= batch.default_size")
	}
	if c.Batch.Threshold < 0 {
		errs = append(errs, "batch.threshold must be >= 0")
	}

	if c.Executor.MaxOutputBytes < 1 {
		errs = append(errs, "executor.max_output_bytes must be >= 1")
	}
	if c.Executor.GracefulShutdownMs < 1 {
		errs = append(errs, "executor.graceful_shutdown_ms must be >= 1")
	}
	if c.Watch.DebounceMs < 0 {
		errs = append(errs, "watch.debounce_ms must be >= 0")
	}

	switch strings.ToLower(c.Report.Format) {
	case "text", "json", "yaml":
	default:
		errs = append(errs, fmt.Sprintf("report.format %q must be one of text, json, yaml", c.Report.Format))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("logging.format %q must be text or json", c.Logging.Format))
	}

	seen := make(map[string]bool, len(c.Engines))
	for i, e := range c.Engines {
		prefix := fmt.Sprintf("engines[%d]", i)
		if e.Name == "" {
			errs = append(errs, prefix+".name is required")
		} else {
			prefix = fmt.Sprintf("engines[%s]", e.Name)
			if seen[e.Name] {
				errs = append(errs, prefix+": duplicate engine name")
			}
			seen[e.Name] = true
		}
		if e.Kind == "" {
			errs = append(errs, prefix+".kind is required")
		}
		if len(e.Command) == 0 {
			errs = append(errs, prefix+".command is required")
		}
		if e.Pattern != "" {
			if _, err := regexp.Compile(e.Pattern); err != nil {
				errs = append(errs, fmt.Sprintf("%s.pattern does not compile: %v", prefix, err))
			}
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Problems: errs}
	}

	return nil
}
