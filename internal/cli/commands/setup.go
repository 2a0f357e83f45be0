// Package commands implements the leapcohort subcommands.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapcohort/internal/cli/config"
	"github.com/leapstack-labs/leapcohort/internal/cli/output"
	intconfig "github.com/leapstack-labs/leapcohort/internal/config"
	"github.com/leapstack-labs/leapcohort/internal/engine"
	"github.com/leapstack-labs/leapcohort/internal/state"
	"github.com/leapstack-labs/leapcohort/internal/store"
	"github.com/leapstack-labs/leapcohort/internal/study"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
}

// NewCommandContext returns the configuration, logger and renderer of cmd.
func NewCommandContext(cmd *cobra.Command) *CommandContext {
	cfg := config.FromContext(cmd.Context())
	return &CommandContext{
		Cfg:      cfg,
		Logger:   config.GetLogger(cmd.Context()),
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat)),
	}
}

// LoadPlan loads the study definition and dates and compiles them.
func (c *CommandContext) LoadPlan() (*engine.Plan, error) {
	def, err := study.Load(c.Cfg.StudyFile)
	if err != nil {
		return nil, err
	}
	dates, err := study.LoadDates(c.Cfg.DatesFile)
	if err != nil {
		return nil, err
	}
	registry, err := def.BuildRegistry(c.Logger)
	if err != nil {
		return nil, err
	}
	c.Logger.Debug("study loaded",
		slog.String("study", c.Cfg.StudyFile),
		slog.Int("codelists", registry.Len()),
		slog.Int("variables", len(def.Variables)))
	return engine.Compile(def, registry, dates, c.Logger)
}

// OpenStore connects to the configured event store.
func (c *CommandContext) OpenStore(ctx context.Context) (*store.SQLStore, error) {
	if c.Cfg.Target.Type != intconfig.TargetPostgres {
		if err := ensureParentDir(c.Cfg.Target.Database); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	return store.Open(ctx, *c.Cfg.Target, c.Logger)
}

// OpenState opens the run history database, creating its directory.
func (c *CommandContext) OpenState() (*state.SQLiteStore, error) {
	if err := ensureParentDir(c.Cfg.StatePath); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	s := state.NewSQLiteStore(c.Logger)
	if err := s.Open(c.Cfg.StatePath); err != nil {
		return nil, err
	}
	return s, nil
}

// StudyName is the name runs are recorded under: the study file
// relative to the project root when possible.
func (c *CommandContext) StudyName() string {
	if rel, err := filepath.Rel(c.Cfg.ProjectRoot, c.Cfg.StudyFile); err == nil && filepath.IsLocal(rel) {
		return rel
	}
	return c.Cfg.StudyFile
}

func ensureParentDir(path string) error {
	if path == "" || path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o750)
}
