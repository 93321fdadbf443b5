package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Cyclone1070/qgate/internal/batch"
	"github.com/Cyclone1070/qgate/internal/config"
	"github.com/Cyclone1070/qgate/internal/deadline"
	"github.com/Cyclone1070/qgate/internal/engine"
	"github.com/Cyclone1070/qgate/internal/executor"
	"github.com/Cyclone1070/qgate/internal/logging"
	"github.com/Cyclone1070/qgate/internal/orchestrator"
	"github.com/Cyclone1070/qgate/internal/resolve"
	"github.com/Cyclone1070/qgate/internal/resource"
	"github.com/Cyclone1070/qgate/internal/snapshot"
	"github.com/Cyclone1070/qgate/internal/vcs"
)

// Dependencies holds the components the CLI is assembled from.
type Dependencies struct {
	Stdout io.Writer
	Stderr io.Writer
	// LoadConfig loads configuration from an explicit path or the default
	// locations.
	LoadConfig func(path string) (*config.Config, error)
	// NewExecutor creates the process runner used by command engines.
	NewExecutor func(cfg *config.Config, root string) engine.CommandExecutor
	Getwd       func() (string, error)
}

func newDependencies() Dependencies {
	return Dependencies{
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		LoadConfig:  config.Load,
		NewExecutor: createExecutor,
		Getwd:       os.Getwd,
	}
}

func createExecutor(cfg *config.Config, root string) engine.CommandExecutor {
	return &rootedExecutor{
		OSCommandExecutor: executor.NewOSCommandExecutor(executor.Options{
			MaxOutputBytes:   cfg.Executor.MaxOutputBytes,
			GracefulShutdown: time.Duration(cfg.Executor.GracefulShutdownMs) * time.Millisecond,
		}),
		root: root,
	}
}

// rootedExecutor runs commands relative to the project root.
type rootedExecutor struct {
	*executor.OSCommandExecutor
	root string
}

func (r *rootedExecutor) Run(ctx context.Context, command []string, dir string, env []string) (*executor.Result, error) {
	switch {
	case dir == "":
		dir = r.root
	case !filepath.IsAbs(dir):
		dir = filepath.Join(r.root, dir)
	}
	return r.OSCommandExecutor.Run(ctx, command, dir, env)
}

// session is everything one CLI invocation needs to run the gate.
type session struct {
	cfg      *config.Config
	root     string
	logger   *logging.Logger
	ignore   interface{ ShouldIgnore(string, bool) bool }
	resolver *resolve.Resolver
	engines  []engine.Engine
	orch     *orchestrator.Orchestrator
}

// newSession wires configuration into the gate's components.
func newSession(deps Dependencies, cfg *config.Config, root string, logger *logging.Logger) (*session, error) {
	var ignore interface {
		ShouldIgnore(string, bool) bool
		LoadDir(string) error
	} = vcs.NoOpMatcher{}
	if cfg.Files.RespectGitignore {
		m, err := vcs.NewIgnoreMatcher(root, vcs.OSFileSystem{})
		if err != nil {
			logger.Warn("failed to load gitignore, continuing without it", "error", err)
		} else {
			ignore = m
		}
	}

	resolver, err := resolve.NewResolver(root, resolve.Options{
		Include: cfg.Files.Include,
		Exclude: cfg.Files.Exclude,
	}, ignore)
	if err != nil {
		return nil, err
	}

	engines := engine.NewRegistry().Build(cfg.EnabledEngines(), deps.NewExecutor(cfg, root))

	gauge := resource.NewGauge(resource.Thresholds{
		MemoryThresholdMB:   cfg.Resources.MemoryThresholdMB,
		CPUThreshold:        cfg.Resources.CPUThreshold,
		BackpressureEnabled: cfg.Resources.BackpressureEnabled,
	}, resource.WithCapacity(cfg.Resources.SampleCapacity))

	store := snapshot.NewStore(snapshot.Options{
		KeepContent:     cfg.Report.ShowDiffs,
		MaxContentBytes: cfg.Report.MaxDiffBytes,
	})

	orch := orchestrator.New(engines, orchestrator.Dependencies{
		Runner: deadline.NewRunner(),
		Gauge:  gauge,
		Store:  store,
		Stager: vcs.NewGitStager(root),
		Logger: logger,
	}, orchestrator.Options{
		Root:           root,
		CacheDir:       cfg.Run.CacheDir,
		BatchThreshold: cfg.Batch.Threshold,
		Batch: batch.Options{
			DefaultSize:       cfg.Batch.DefaultSize,
			MinSize:           cfg.Batch.MinSize,
			ContinueOnTimeout: cfg.Batch.ContinueOnTimeout,
			Backpressure:      cfg.Resources.BackpressureEnabled,
			Backoff:           time.Duration(cfg.Resources.BackoffMs) * time.Millisecond,
		},
		DemoteWarnings: cfg.Report.DemoteWarnings,
		Diffs:          cfg.Report.ShowDiffs,
		MaxDiffBytes:   cfg.Report.MaxDiffBytes,
	})

	return &session{
		cfg:      cfg,
		root:     root,
		logger:   logger,
		ignore:   ignore,
		resolver: resolver,
		engines:  engines,
		orch:     orch,
	}, nil
}

// resolveArgs turns command-line paths, relative to the working
// directory, into root-relative files.
func (s *session) resolveArgs(ctx context.Context, cwd string, args []string) ([]string, error) {
	paths := make([]string, len(args))
	for i, a := range args {
		if !filepath.IsAbs(a) {
			a = filepath.Join(cwd, a)
		}
		paths[i] = a
	}
	return s.resolver.Resolve(ctx, paths)
}

// existing drops root-relative files that no longer exist.
func (s *session) existing(files []string) []string {
	var out []string
	for _, f := range files {
		if info, err := os.Stat(filepath.Join(s.root, f)); err == nil && !info.IsDir() {
			out = append(out, f)
		}
	}
	return out
}

func resolveRoot(deps Dependencies, dir string) (cwd, root string, err error) {
	cwd, err = deps.Getwd()
	if err != nil {
		return "", "", fmt.Errorf("failed to get current directory: %w", err)
	}
	if dir == "" {
		dir = cwd
	} else if !filepath.IsAbs(dir) {
		dir = filepath.Join(cwd, dir)
	}
	root, err = filepath.Abs(dir)
	if err != nil {
		return "", "", fmt.Errorf("failed to resolve project root: %w", err)
	}
	return cwd, root, nil
}
