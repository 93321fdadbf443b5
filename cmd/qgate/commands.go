package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Cyclone1070/qgate/internal/config"
	"github.com/Cyclone1070/qgate/internal/engine"
	"github.com/Cyclone1070/qgate/internal/logging"
	"github.com/Cyclone1070/qgate/internal/orchestrator"
	"github.com/Cyclone1070/qgate/internal/report"
	"github.com/Cyclone1070/qgate/internal/watch"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	dir        string
	logLevel   string
	logFormat  string
	logFile    string
}

// checkFlags are the flags of check and fix.
type checkFlags struct {
	fix     bool
	stage   bool
	timeout time.Duration
	format  string
	watch   bool
	diff    bool
	noColor bool
}

// cli carries state across cobra callbacks of one invocation.
type cli struct {
	deps     Dependencies
	global   globalFlags
	exitCode int
}

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string, deps Dependencies) int {
	c := &cli{deps: deps}
	root := c.rootCommand()
	root.SetArgs(args)
	root.SetOut(deps.Stdout)
	root.SetErr(deps.Stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(deps.Stderr, "Error: %v\n", err)
		return report.ExitFailure
	}
	return c.exitCode
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "qgate",
		Short: "Run code quality engines as one deadline-bounded gate",
		Long: `qgate runs the configured linters, formatters and type checkers over a
project under a single time budget. With --fix, fixable engines rewrite files
first and only the issues that remain are reported.

Exit codes: 0 clean, 1 issues found, 2 the run itself failed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.global.configPath, "config", "c", "", "config file (default is .qgate.yaml, then $HOME/.config/qgate/config.yaml)")
	flags.StringVarP(&c.global.dir, "dir", "C", "", "project root (default is the current directory)")
	flags.StringVar(&c.global.logLevel, "log-level", "", "log level: "+strings.Join(logging.ValidLevels(), ", "))
	flags.StringVar(&c.global.logFormat, "log-format", "", "log format: text or json")
	flags.StringVar(&c.global.logFile, "log-file", "", "write logs to this file instead of stderr")

	root.AddCommand(c.checkCommand("check", false), c.checkCommand("fix", true), c.enginesCommand())
	return root
}

func (c *cli) checkCommand(name string, fixFirst bool) *cobra.Command {
	var f checkFlags
	cmd := &cobra.Command{
		Use:  name + " [paths...]",
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if fixFirst {
				f.fix = true
			}
			return c.runCheck(cmd, args, f)
		},
	}
	if fixFirst {
		cmd.Short = "Apply fixes, then report the issues that remain"
	} else {
		cmd.Short = "Check files and report issues"
		cmd.Flags().BoolVar(&f.fix, "fix", false, "apply fixes before checking")
	}

	flags := cmd.Flags()
	flags.BoolVar(&f.stage, "stage", false, "stage files modified by fixes in the git index")
	flags.DurationVar(&f.timeout, "timeout", 0, "time budget for the whole run (default from config)")
	flags.StringVarP(&f.format, "format", "f", "", "report format: text, json or yaml")
	flags.BoolVarP(&f.watch, "watch", "w", false, "re-run when files change")
	flags.BoolVar(&f.diff, "diff", false, "show diffs of fixed files")
	flags.BoolVar(&f.noColor, "no-color", false, "disable coloured output")
	return cmd
}

func (c *cli) enginesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "engines",
		Short: "List configured engines and whether their tools are installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.deps.LoadConfig(c.global.configPath)
			if err != nil {
				return err
			}
			_, root, err := resolveRoot(c.deps, c.global.dir)
			if err != nil {
				return err
			}
			exec := c.deps.NewExecutor(cfg, root)
			listEngines(cmd.OutOrStdout(), cfg.Engines, exec)
			return nil
		},
	}
}

func listEngines(w io.Writer, cfgs []config.EngineConfig, exec engine.CommandExecutor) {
	for _, e := range cfgs {
		state := "available"
		switch {
		case !e.Enabled:
			state = "disabled"
		case len(e.Command) == 0:
			state = "no command"
		default:
			if _, err := exec.LookPath(e.Command[0]); err != nil {
				state = "not installed"
			}
		}
		var traits []string
		if e.Critical {
			traits = append(traits, "critical")
		}
		if fixable(e) {
			traits = append(traits, "fixable")
		}
		line := fmt.Sprintf("%-20s %-12s %-14s", e.Name, e.Kind, state)
		if len(traits) > 0 {
			line += " " + strings.Join(traits, ",")
		}
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}
}

func fixable(e config.EngineConfig) bool {
	if e.Fixable != nil {
		return *e.Fixable
	}
	return e.Kind == string(engine.KindLinter) || e.Kind == string(engine.KindFormatter)
}

// applyFlags overrides configuration with explicitly set flags.
func (c *cli) applyFlags(cmd *cobra.Command, cfg *config.Config, f checkFlags) {
	if c.global.logLevel != "" {
		cfg.Logging.Level = c.global.logLevel
	}
	if c.global.logFormat != "" {
		cfg.Logging.Format = c.global.logFormat
	}
	if c.global.logFile != "" {
		cfg.Logging.File = c.global.logFile
	}
	if f.fix {
		cfg.Run.FixFirst = true
	}
	if cmd.Flags().Changed("stage") {
		cfg.Run.AutoStage = f.stage
	}
	if f.timeout > 0 {
		cfg.Run.TimeoutMs = int(f.timeout.Milliseconds())
	}
	if f.format != "" {
		cfg.Report.Format = f.format
	}
	if f.diff {
		cfg.Report.ShowDiffs = true
	}
}

func (c *cli) runCheck(cmd *cobra.Command, args []string, f checkFlags) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	cfg, err := c.deps.LoadConfig(c.global.configPath)
	if err != nil {
		format := f.format
		if format == "" {
			format = report.FormatText
		}
		c.exitCode = c.render(out, report.FromError(err, uuid.NewString(), 0), format, f)
		return nil
	}
	c.applyFlags(cmd, cfg, f)

	logger, err := logging.NewLogger(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer logger.Close()

	cwd, root, err := resolveRoot(c.deps, c.global.dir)
	if err != nil {
		return err
	}
	s, err := newSession(c.deps, cfg, root, logger)
	if err != nil {
		c.exitCode = c.render(out, report.FromError(err, uuid.NewString(), 0), cfg.Report.Format, f)
		return nil
	}

	files, err := s.resolveArgs(ctx, cwd, args)
	if err != nil {
		c.exitCode = c.render(out, report.FromError(err, uuid.NewString(), 0), cfg.Report.Format, f)
		return nil
	}
	logger.Info("files resolved", "count", len(files), "root", root, "engines", len(s.engines))

	c.exitCode = c.check(ctx, out, s, files, f)
	if !f.watch {
		return nil
	}
	return c.watch(ctx, out, s, f)
}

// check runs the gate once, renders the result, and returns its exit code.
func (c *cli) check(ctx context.Context, out io.Writer, s *session, files []string, f checkFlags) int {
	res := s.orch.Check(ctx, orchestrator.Request{
		Files:     files,
		FixFirst:  s.cfg.Run.FixFirst,
		AutoStage: s.cfg.Run.AutoStage,
		Timeout:   time.Duration(s.cfg.Run.TimeoutMs) * time.Millisecond,
	})
	return c.render(out, res, s.cfg.Report.Format, f)
}

func (c *cli) watch(ctx context.Context, out io.Writer, s *session, f checkFlags) error {
	w, err := watch.New(s.root, time.Duration(s.cfg.Watch.DebounceMs)*time.Millisecond,
		watch.WithIgnore(s.ignore), watch.WithLogger(s.logger.WithPhase("watch")))
	if err != nil {
		return err
	}
	defer w.Close()

	fmt.Fprintf(c.deps.Stderr, "Watching %s for changes (Ctrl+C to stop)\n", s.root)
	err = w.Run(ctx, func(ctx context.Context, changed []string) {
		present := s.existing(changed)
		if len(present) == 0 {
			return
		}
		files, err := s.resolver.Resolve(ctx, present)
		if err != nil {
			s.logger.Warn("failed to resolve changed files", "error", err)
			return
		}
		if len(files) == 0 {
			return
		}
		c.exitCode = c.check(ctx, out, s, files, f)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (c *cli) render(out io.Writer, res *report.Result, format string, f checkFlags) int {
	opts := report.TextOptions{
		Color:     !f.noColor && report.IsTerminal(out),
		ShowDiffs: len(res.Diffs) > 0,
	}
	if err := report.Render(out, res, format, opts); err != nil {
		fmt.Fprintf(c.deps.Stderr, "Error: %v\n", err)
		return report.ExitFailure
	}
	return res.ExitCode()
}
