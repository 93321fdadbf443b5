package config

// Config holds all application configuration values.
// Defaults are set in DefaultConfig() and can be overridden via the config
// file or QGATE_* environment variables.
// NOTE: Values in config files override defaults, including explicit zero values.
// Missing keys are left at their default values. Lists present in the file
// replace the default list entirely.
type Config struct {
	Run       RunConfig      `mapstructure:"run"`
	Resources ResourceConfig `mapstructure:"resources"`
	Batch     BatchConfig    `mapstructure:"batch"`
	Files     FilesConfig    `mapstructure:"files"`
	Engines   []EngineConfig `mapstructure:"engines"`
	Logging   LoggingConfig  `mapstructure:"logging"`
	Report    ReportConfig   `mapstructure:"report"`
	Executor  ExecutorConfig `mapstructure:"executor"`
	Watch     WatchConfig    `mapstructure:"watch"`
}

type RunConfig struct {
	TimeoutMs int    `mapstructure:"timeout_ms"` // Default: 120000 (2 minutes)
	FixFirst  bool   `mapstructure:"fix_first"`  // Default: false
	AutoStage bool   `mapstructure:"auto_stage"` // Default: false
	CacheDir  string `mapstructure:"cache_dir"`  // Default: "" (engines use their own cache)
}

type ResourceConfig struct {
	MemoryThresholdMB   float64 `mapstructure:"memory_threshold_mb"`  // Default: 1024
	CPUThreshold        float64 `mapstructure:"cpu_threshold"`        // Default: 0.9
	BackpressureEnabled bool    `mapstructure:"backpressure_enabled"` // Default: true
	SampleCapacity      int     `mapstructure:"sample_capacity"`      // Default: 10
	BackoffMs           int     `mapstructure:"backoff_ms"`           // Default: 100
}

type BatchConfig struct {
	DefaultSize       int  `mapstructure:"default_size"`        // Default: 50
	MinSize           int  `mapstructure:"min_size"`            // Default: 5
	Threshold         int  `mapstructure:"threshold"`           // Default: 200 (files before batching kicks in)
	ContinueOnTimeout bool `mapstructure:"continue_on_timeout"` // Default: true
}

type FilesConfig struct {
	Include          []string `mapstructure:"include"`           // Default: ["**"]
	Exclude          []string `mapstructure:"exclude"`           // Default: [".git/**", "vendor/**", "node_modules/**"]
	RespectGitignore bool     `mapstructure:"respect_gitignore"` // Default: true
}

// EngineConfig configures one engine. Engines run in the order listed.
type EngineConfig struct {
	Name     string         `mapstructure:"name"`
	Kind     string         `mapstructure:"kind"` // linter, formatter, typechecker
	Enabled  bool           `mapstructure:"enabled"`
	Critical bool           `mapstructure:"critical"`
	Fixable  *bool          `mapstructure:"fixable"` // nil: derived from kind
	Files    []string       `mapstructure:"files"`   // glob patterns the engine accepts
	Command  []string       `mapstructure:"command"`
	FixArgs  []string       `mapstructure:"fix_args"`
	Pattern  string         `mapstructure:"pattern"`   // issue line regex with named groups
	CacheEnv string         `mapstructure:"cache_env"` // env var receiving the engine cache dir
	Options  map[string]any `mapstructure:"options"`   // kind-specific, decoded by the engine
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // Default: "WARN"
	Format string `mapstructure:"format"` // Default: "text"
	File   string `mapstructure:"file"`   // Default: "" (stderr)
}

type ReportConfig struct {
	Format         string `mapstructure:"format"`          // Default: "text"
	DemoteWarnings bool   `mapstructure:"demote_warnings"` // Default: true
	ShowDiffs      bool   `mapstructure:"show_diffs"`      // Default: false
	MaxDiffBytes   int    `mapstructure:"max_diff_bytes"`  // Default: 256 * 1024 (per file)
}

type ExecutorConfig struct {
	MaxOutputBytes     int `mapstructure:"max_output_bytes"`     // Default: 10 * 1024 * 1024 (10MB)
	GracefulShutdownMs int `mapstructure:"graceful_shutdown_ms"` // Default: 2000
}

type WatchConfig struct {
	DebounceMs int `mapstructure:"debounce_ms"` // Default: 300
}

// DefaultEngines returns the built-in Go toolchain engines.
func DefaultEngines() []EngineConfig {
	return []EngineConfig{
		{
			Name:    "gofmt",
			Kind:    "formatter",
			Enabled: true,
			Files:   []string{"**.go"},
			Command: []string{"gofmt"},
			FixArgs: []string{"-w"},
			Options: map[string]any{"list_args": []string{"-l"}},
		},
		{
			Name:     "golangci-lint",
			Kind:     "linter",
			Enabled:  true,
			Files:    []string{"**.go"},
			Command:  []string{"golangci-lint", "run"},
			FixArgs:  []string{"--fix"},
			CacheEnv: "GOLANGCI_LINT_CACHE",
			Options:  map[string]any{"fix_reports_remaining": true},
		},
		{
			Name:     "go-vet",
			Kind:     "typechecker",
			Enabled:  true,
			Files:    []string{"**.go"},
			Critical: true,
			Command:  []string{"go", "vet"},
			Options:  map[string]any{"package_mode": true},
		},
	}
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Run: RunConfig{
			TimeoutMs: 120000,
		},
		Resources: ResourceConfig{
			MemoryThresholdMB:   1024,
			CPUThreshold:        0.9,
			BackpressureEnabled: true,
			SampleCapacity:      10,
			BackoffMs:           100,
		},
		Batch: BatchConfig{
			DefaultSize:       50,
			MinSize:           5,
			Threshold:         200,
			ContinueOnTimeout: true,
		},
		Files: FilesConfig{
			Include:          []string{"**"},
			Exclude:          []string{".git/**", "vendor/**", "node_modules/**"},
			RespectGitignore: true,
		},
		Engines: DefaultEngines(),
		Logging: LoggingConfig{
			Level:  "WARN",
			Format: "text",
		},
		Report: ReportConfig{
			Format:         "text",
			DemoteWarnings: true,
			MaxDiffBytes:   256 * 1024,
		},
		Executor: ExecutorConfig{
			MaxOutputBytes:     10 * 1024 * 1024,
			GracefulShutdownMs: 2000,
		},
		Watch: WatchConfig{
			DebounceMs: 300,
		},
	}
}

// EnabledEngines returns the enabled engines in registration order.
func (c *Config) EnabledEngines() []EngineConfig {
	var out []EngineConfig
	for _, e := range c.Engines {
		if e.Enabled {
			out = append(out, e)
		}
	}
	return out
}
