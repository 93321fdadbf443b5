package config

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockFileSystem implements FileSystem for testing.
// NOTE: This is a minimal mock for config loading tests.
type MockFileSystem struct {
	HomeDir     string
	HomeDirErr  error
	Files       map[string][]byte
	ReadFileErr error
}

func (m *MockFileSystem) UserHomeDir() (string, error) {
	return m.HomeDir, m.HomeDirErr
}

func (m *MockFileSystem) ReadFile(path string) ([]byte, error) {
	if m.ReadFileErr != nil {
		return nil, m.ReadFileErr
	}
	data, ok := m.Files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

const userConfigPath = "/home/user/.config/qgate/config.yaml"

func loaderWith(files map[string]string) *Loader {
	m := &MockFileSystem{HomeDir: "/home/user", Files: map[string][]byte{}}
	for k, v := range files {
		m.Files[k] = []byte(v)
	}
	return NewLoaderWithFS(m)
}

// --- HAPPY PATH TESTS ---

func TestLoad_NoConfigFile_ReturnsDefaults(t *testing.T) {
	loader := loaderWith(nil)

	cfg, err := loader.Load("")

	require.NoError(t, err)
	assert.Equal(t, 120000, cfg.Run.TimeoutMs)
	assert.Equal(t, 50, cfg.Batch.DefaultSize)
	assert.Len(t, cfg.Engines, 3)
	assert.Equal(t, "gofmt", cfg.Engines[0].Name)
}

func TestLoad_PartialOverride_MergesWithDefaults(t *testing.T) {
	loader := loaderWith(map[string]string{
		userConfigPath: "run:\n  timeout_ms: 5000\nbatch:\n  min_size: 2\n",
	})

	cfg, err := loader.Load("")

	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.Run.TimeoutMs)                        // Overridden
	assert.Equal(t, 2, cfg.Batch.MinSize)                           // Overridden
	assert.Equal(t, 50, cfg.Batch.DefaultSize)                      // Default
	assert.Equal(t, float64(1024), cfg.Resources.MemoryThresholdMB) // Default
	assert.Len(t, cfg.Engines, 3)                                   // Default list
}

func TestLoad_ProjectFileWinsOverUserFile(t *testing.T) {
	loader := loaderWith(map[string]string{
		ProjectConfigFile: "run:\n  timeout_ms: 1000\n",
		userConfigPath:    "run:\n  timeout_ms: 9000\n",
	})

	cfg, err := loader.Load("")

	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.Run.TimeoutMs)
}

func TestLoad_ExplicitPath(t *testing.T) {
	t.Run("JSON by extension", func(t *testing.T) {
		loader := loaderWith(map[string]string{
			"/tmp/gate.json": `{"report": {"format": "json"}}`,
		})

		cfg, err := loader.Load("/tmp/gate.json")

		require.NoError(t, err)
		assert.Equal(t, "json", cfg.Report.Format)
	})

	t.Run("Missing explicit file is an error", func(t *testing.T) {
		loader := loaderWith(nil)

		cfg, err := loader.Load("/tmp/missing.yaml")

		assert.Nil(t, cfg)
		assert.True(t, errors.Is(err, os.ErrNotExist))
	})
}

func TestLoad_EnginesListReplacesDefaults(t *testing.T) {
	loader := loaderWith(map[string]string{
		userConfigPath: `
engines:
  - name: lint
    kind: linter
    command: [mylint, check]
    critical: true
    options:
      max_issues: 10
  - name: fmt
    kind: formatter
    enabled: false
    command: [myfmt]
`,
	})

	cfg, err := loader.Load("")

	require.NoError(t, err)
	require.Len(t, cfg.Engines, 2)
	assert.Equal(t, "lint", cfg.Engines[0].Name)
	assert.True(t, cfg.Engines[0].Enabled, "enabled defaults to true when omitted")
	assert.True(t, cfg.Engines[0].Critical)
	assert.Equal(t, []string{"mylint", "check"}, cfg.Engines[0].Command)
	assert.EqualValues(t, 10, cfg.Engines[0].Options["max_issues"])
	assert.False(t, cfg.Engines[1].Enabled)

	enabled := cfg.EnabledEngines()
	require.Len(t, enabled, 1)
	assert.Equal(t, "lint", enabled[0].Name)
}

func TestLoad_EnvOverride(t *testing.T) {
	env := map[string]string{
		"QGATE_RUN_TIMEOUT_MS": "3000",
		"QGATE_LOGGING_LEVEL":  "DEBUG",
		"QGATE_RUN_AUTO_STAGE": "true",
	}
	loader := loaderWith(map[string]string{
		userConfigPath: "run:\n  timeout_ms: 9000\n",
	}).WithEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	cfg, err := loader.Load("")

	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Run.TimeoutMs)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.True(t, cfg.Run.AutoStage)
	assert.Equal(t, 50, cfg.Batch.DefaultSize)
}

// --- UNHAPPY PATH TESTS ---

func TestLoad_MalformedYAML_ReturnsParseError(t *testing.T) {
	loader := loaderWith(map[string]string{
		userConfigPath: "run: [unterminated",
	})

	cfg, err := loader.Load("")

	assert.Nil(t, cfg)
	var parseErr *ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Equal(t, userConfigPath, parseErr.Path)
}

func TestLoad_PermissionDenied_ReturnsError(t *testing.T) {
	fs := &MockFileSystem{
		HomeDir:     "/home/user",
		ReadFileErr: os.ErrPermission,
	}
	loader := NewLoaderWithFS(fs)

	cfg, err := loader.Load("")

	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.True(t, errors.Is(err, os.ErrPermission))
}

func TestLoad_HomeDirError_ReturnsDefaults(t *testing.T) {
	fs := &MockFileSystem{
		HomeDirErr: errors.New("homeless"),
	}
	loader := NewLoaderWithFS(fs)

	cfg, err := loader.Load("")

	require.NoError(t, err)
	assert.Equal(t, 120000, cfg.Run.TimeoutMs)
}

func TestLoad_InvalidValues_Rejected(t *testing.T) {
	loader := loaderWith(map[string]string{
		userConfigPath: "run:\n  timeout_ms: -1\n",
	})

	cfg, err := loader.Load("")

	assert.Nil(t, cfg)
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Contains(t, err.Error(), "validation failed")
	assert.Contains(t, err.Error(), "timeout_ms")
}

// --- EDGE CASE TESTS ---

func TestLoad_ExplicitZero_Overrides(t *testing.T) {
	loader := loaderWith(map[string]string{
		userConfigPath: "report:\n  demote_warnings: false\n",
	})

	cfg, err := loader.Load("")

	require.NoError(t, err)
	assert.False(t, cfg.Report.DemoteWarnings)
	assert.Equal(t, "text", cfg.Report.Format)
}

func TestLoad_EmptyExcludeList_ReplacesDefault(t *testing.T) {
	loader := loaderWith(map[string]string{
		userConfigPath: "files:\n  exclude: []\n",
	})

	cfg, err := loader.Load("")

	require.NoError(t, err)
	assert.Empty(t, cfg.Files.Exclude)
	assert.Equal(t, []string{"**"}, cfg.Files.Include)
}

func TestLoad_UnknownFields_Ignored(t *testing.T) {
	loader := loaderWith(map[string]string{
		userConfigPath: "run:\n  timeout_ms: 100\nunknown_field: ignored\n",
	})

	cfg, err := loader.Load("")

	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Run.TimeoutMs)
}

// --- DEFAULT CONFIG TESTS ---

func TestDefaultConfig_AllFieldsInitialized(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg.Files.Include)
	assert.NotNil(t, cfg.Files.Exclude)
	assert.NotEmpty(t, cfg.Engines)
	assert.Greater(t, cfg.Run.TimeoutMs, 0)
	assert.Greater(t, cfg.Executor.MaxOutputBytes, 0)

	for _, e := range cfg.Engines {
		assert.True(t, e.Enabled, e.Name)
		assert.NotEmpty(t, e.Command, e.Name)
	}
}
