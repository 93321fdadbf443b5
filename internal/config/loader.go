package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// ConfigDir is the directory name under ~/.config
	ConfigDir = "qgate"
	// ConfigFile is the user-level config file name
	ConfigFile = "config.yaml"
	// ProjectConfigFile is looked up in the working directory before the user-level file
	ProjectConfigFile = ".qgate.yaml"
	// EnvPrefix prefixes environment overrides, e.g. QGATE_RUN_TIMEOUT_MS
	EnvPrefix = "QGATE"
)

// envKeys are the scalar keys that may be overridden from the environment.
var envKeys = []string{
	"run.timeout_ms",
	"run.fix_first",
	"run.auto_stage",
	"run.cache_dir",
	"resources.memory_threshold_mb",
	"resources.cpu_threshold",
	"resources.backpressure_enabled",
	"batch.default_size",
	"batch.min_size",
	"batch.threshold",
	"batch.continue_on_timeout",
	"logging.level",
	"logging.format",
	"logging.file",
	"report.format",
}

// FileSystem abstracts file operations for testability
type FileSystem interface {
	UserHomeDir() (string, error)
	ReadFile(path string) ([]byte, error)
}

// ConfigFileReader implements FileSystem using the real OS for config loading
type ConfigFileReader struct{}

func (ConfigFileReader) UserHomeDir() (string, error) {
	return os.UserHomeDir()
}

func (ConfigFileReader) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Loader handles configuration loading with injected dependencies
type Loader struct {
	fs     FileSystem
	getenv func(string) (string, bool)
}

// NewLoader creates a production Loader using the real filesystem
func NewLoader() *Loader {
	return &Loader{fs: ConfigFileReader{}, getenv: os.LookupEnv}
}

// NewLoaderWithFS creates a Loader with a custom filesystem (for testing)
func NewLoaderWithFS(fs FileSystem) *Loader {
	return &Loader{fs: fs, getenv: func(string) (string, bool) { return "", false }}
}

// WithEnv replaces the environment lookup (for testing).
func (l *Loader) WithEnv(getenv func(string) (string, bool)) *Loader {
	l.getenv = getenv
	return l
}

// Load reads configuration from an explicit path, or from ./.qgate.yaml,
// or from ~/.config/qgate/config.yaml, and merges it over the defaults.
// Returns the defaults if no file exists. Returns an error only for an
// explicit path that cannot be read, parse errors, permission issues, or
// validation failures.
//
// NOTE: Keys present in the file overwrite defaults even when zero, while
// missing keys leave the defaults untouched.
func (l *Loader) Load(explicitPath string) (*Config, error) {
	cfg := DefaultConfig()

	path, data, err := l.locate(explicitPath)
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if data != nil {
		v.SetConfigType(configType(path))
		if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
			return nil, &ParseError{Path: path, Cause: err}
		}
	}

	// Only keys present in the environment are bound, so unset variables
	// never clobber defaults with zero values.
	for _, key := range envKeys {
		name := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if val, ok := l.getenv(name); ok {
			v.Set(key, val)
		}
	}

	// Present lists replace defaults rather than merging element-wise.
	if v.IsSet("engines") {
		cfg.Engines = nil
	}
	if v.IsSet("files.include") {
		cfg.Files.Include = nil
	}
	if v.IsSet("files.exclude") {
		cfg.Files.Exclude = nil
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, &ParseError{Path: path, Cause: err}
	}
	applyEngineDefaults(cfg, v.Get("engines"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// locate returns the config path and its contents. A nil slice means no
// file was found and defaults apply.
func (l *Loader) locate(explicitPath string) (string, []byte, error) {
	if explicitPath != "" {
		data, err := l.fs.ReadFile(explicitPath)
		if err != nil {
			return "", nil, err
		}
		return explicitPath, data, nil
	}

	candidates := []string{ProjectConfigFile}
	if homeDir, err := l.fs.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".config", ConfigDir, ConfigFile))
	}

	for _, path := range candidates {
		data, err := l.fs.ReadFile(path)
		if err == nil {
			return path, data, nil
		}
		if !os.IsNotExist(err) {
			return "", nil, err // Return error for permission issues
		}
	}
	return "", nil, nil
}

// applyEngineDefaults enables engines whose file entry omits "enabled".
func applyEngineDefaults(cfg *Config, raw any) {
	entries, ok := raw.([]any)
	if !ok {
		return
	}
	for i, entry := range entries {
		if i >= len(cfg.Engines) {
			return
		}
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if _, set := m["enabled"]; !set {
			cfg.Engines[i].Enabled = true
		}
	}
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	case ".toml":
		return "toml"
	default:
		return "yaml"
	}
}

// Load is a convenience function using the default loader
func Load(explicitPath string) (*Config, error) {
	return NewLoader().Load(explicitPath)
}
