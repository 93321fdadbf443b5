package engine

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// validator is implemented by option types that check their own values.
type validator interface {
	Validate() error
}

// CommonOptions apply to every command-backed engine.
type CommonOptions struct {
	// DefaultSeverity is used when the tool output carries no severity.
	DefaultSeverity string `mapstructure:"default_severity"`
	// MaxIssues caps the issues kept per invocation; 0 keeps all.
	MaxIssues int `mapstructure:"max_issues"`
	// Dir overrides the working directory the tool runs in.
	Dir string `mapstructure:"dir"`
}

func (o CommonOptions) Validate() error {
	if o.MaxIssues < 0 {
		return fmt.Errorf("max_issues cannot be negative: %d", o.MaxIssues)
	}
	return nil
}

// FormatterOptions configure the formatter kind.
type FormatterOptions struct {
	CommonOptions `mapstructure:",squash"`
	// ListArgs make the tool print the paths it would change, one per line.
	ListArgs []string `mapstructure:"list_args"`
}

// LinterOptions configure the linter kind.
type LinterOptions struct {
	CommonOptions `mapstructure:",squash"`
	// FixReportsRemaining marks tools whose fix run prints the issues it
	// could not fix, so no re-check is needed afterwards.
	FixReportsRemaining bool `mapstructure:"fix_reports_remaining"`
}

// TypecheckerOptions configure the typechecker kind.
type TypecheckerOptions struct {
	CommonOptions `mapstructure:",squash"`
	// PackageMode passes the directories of the files as ./dir packages
	// instead of the files themselves.
	PackageMode bool `mapstructure:"package_mode"`
}

// decodeOptions decodes a raw options map into a typed options value and
// validates it when the type supports validation.
func decodeOptions[T any](name string, raw map[string]any) (T, error) {
	var opts T
	if len(raw) > 0 {
		if err := mapstructure.WeakDecode(raw, &opts); err != nil {
			return opts, &OptionsError{Engine: name, Cause: err}
		}
	}
	if v, ok := any(opts).(validator); ok {
		if err := v.Validate(); err != nil {
			return opts, &OptionsError{Engine: name, Cause: err}
		}
	}
	return opts, nil
}
