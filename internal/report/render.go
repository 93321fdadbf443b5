package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/Cyclone1070/qgate/internal/engine"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// Formats accepted by Render.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	passStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	addStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	delStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

// TextOptions controls RenderText.
type TextOptions struct {
	Color     bool
	ShowDiffs bool
}

// IsTerminal reports whether w is a terminal, so colour can be enabled.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Render writes r in the named format.
func Render(w io.Writer, r *Result, format string, opts TextOptions) error {
	switch strings.ToLower(format) {
	case FormatJSON:
		return RenderJSON(w, r)
	case FormatYAML:
		return RenderYAML(w, r)
	case FormatText, "":
		return RenderText(w, r, opts)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

// RenderJSON writes r as indented JSON.
func RenderJSON(w io.Writer, r *Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// RenderYAML writes r as YAML.
func RenderYAML(w io.Writer, r *Result) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}

// RenderText writes a human-readable summary.
func RenderText(w io.Writer, r *Result, opts TextOptions) error {
	paint := func(s lipgloss.Style, text string) string {
		if !opts.Color {
			return text
		}
		return s.Render(text)
	}

	var b strings.Builder

	if r.Error != "" {
		fmt.Fprintf(&b, "%s %s\n", paint(failStyle, "ERROR"), r.Error)
	}

	if len(r.FixesApplied) > 0 {
		b.WriteString(paint(headerStyle, "Fixes applied") + "\n")
		for _, f := range r.FixesApplied {
			fmt.Fprintf(&b, "  %s: %d fixed", f.Engine, f.FixedCount)
			if len(f.ModifiedFiles) > 0 {
				fmt.Fprintf(&b, " %s", paint(dimStyle, "("+strings.Join(f.ModifiedFiles, ", ")+")"))
			}
			b.WriteString("\n")
		}
	}

	if r.Error == "" && len(r.Issues) > 0 {
		b.WriteString(paint(headerStyle, "Issues") + "\n")
		for _, is := range r.Issues {
			fmt.Fprintf(&b, "  %s %s\n", severityLabel(is.Severity, paint), FormatIssue(is))
		}
	}

	if len(r.Warnings) > 0 {
		b.WriteString(paint(headerStyle, "Warnings") + "\n")
		for _, warn := range r.Warnings {
			fmt.Fprintf(&b, "  %s\n", paint(warningStyle, warn))
		}
	}

	if opts.ShowDiffs && len(r.Diffs) > 0 {
		files := make([]string, 0, len(r.Diffs))
		for f := range r.Diffs {
			files = append(files, f)
		}
		sort.Strings(files)
		for _, f := range files {
			for _, line := range strings.Split(strings.TrimRight(r.Diffs[f], "\n"), "\n") {
				switch {
				case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
					line = paint(headerStyle, line)
				case strings.HasPrefix(line, "+"):
					line = paint(addStyle, line)
				case strings.HasPrefix(line, "-"):
					line = paint(delStyle, line)
				case strings.HasPrefix(line, "@@"):
					line = paint(infoStyle, line)
				}
				b.WriteString(line + "\n")
			}
		}
	}

	status := paint(passStyle, "PASS")
	if r.ExitCode() != ExitClean {
		status = paint(failStyle, "FAIL")
	}
	fmt.Fprintf(&b, "%s %d issue(s), %d file(s) modified in %dms %s\n",
		status, len(r.Issues), len(r.ModifiedFiles), r.DurationMs, paint(dimStyle, "["+r.CorrelationID+"]"))

	_, err := io.WriteString(w, b.String())
	return err
}

func severityLabel(s engine.Severity, paint func(lipgloss.Style, string) string) string {
	switch s {
	case engine.SeverityError:
		return paint(errorStyle, "error  ")
	case engine.SeverityWarning:
		return paint(warningStyle, "warning")
	default:
		return paint(infoStyle, "info   ")
	}
}
