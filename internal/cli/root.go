// Package cli provides the command-line interface for leapcohort.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapcohort/internal/cli/commands"
	"github.com/leapstack-labs/leapcohort/internal/cli/config"
	"github.com/leapstack-labs/leapcohort/internal/cli/output"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "leapcohort",
		Short: "leapcohort - cohort extraction for health records",
		Long: `leapcohort turns a declarative study definition into a cohort table:
one row per patient admitted by the population filter, one column per
variable, derived from coded clinical events.

The same definition drives a synthetic data generator, so a study can be
developed and tested before it ever touches real records.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if skipsConfig(cmd) {
				return nil
			}

			cfg, err := config.LoadConfig(cfgFile, "", cmd.Flags())
			if err != nil {
				return err
			}

			level := slog.LevelWarn
			if cfg.Verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			if cfg.ConfigFile != "" {
				logger.Debug("using config file", slog.String("path", cfg.ConfigFile))
			}
			if cfg.Environment != "" {
				logger.Debug("using environment", slog.String("name", cfg.Environment))
			}

			cmd.SetContext(config.WithConfig(cmd.Context(), cfg, logger))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
`)

	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: leapcohort.yaml in this or a parent directory)")
	rootCmd.PersistentFlags().StringP("env", "e", "", "Environment from the config file's environments section")
	rootCmd.PersistentFlags().String("study", "", "Path to the study definition")
	rootCmd.PersistentFlags().String("dates", "", "Path to the study dates JSON file")
	rootCmd.PersistentFlags().String("database", "", "Event store database (file path, or name for postgres)")
	rootCmd.PersistentFlags().String("state", "", "Path to the run history database")
	rootCmd.PersistentFlags().String("null-marker", "", "Text written for missing values (default NA)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().StringP("output", "o", "", "Output format (auto|text|markdown|json|yaml)")

	_ = rootCmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		modes := make([]string, len(output.Modes))
		for i, m := range output.Modes {
			modes[i] = string(m)
		}
		return modes, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(commands.NewVersionCommand(Version))
	rootCmd.AddCommand(commands.NewInitCommand())
	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(commands.NewGenerateCommand())
	rootCmd.AddCommand(commands.NewSeedCommand())
	rootCmd.AddCommand(commands.NewDAGCommand())
	rootCmd.AddCommand(commands.NewCodelistsCommand())
	rootCmd.AddCommand(commands.NewRunsCommand())

	return rootCmd
}

// skipsConfig reports commands that run without a project: help and
// cobra's completion commands.
func skipsConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "help", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd, "completion":
			return true
		}
	}
	return false
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
