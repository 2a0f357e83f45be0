package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapcohort/internal/cli/output"
)

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new leapcohort project",
		Long: `Initialize a new project with a working example study.

This creates:
  - leapcohort.yaml configuration file
  - study.yaml, an asthma cohort definition
  - study-dates.json with the study period
  - codelists/ with the CSV codelists the study uses`,
		Example: `  # Initialize in current directory
  leapcohort init

  # Initialize in a new directory, then try it on synthetic data
  leapcohort init my-study && cd my-study && leapcohort run --expectations

  # Force overwrite existing files
  leapcohort init --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			cc := NewCommandContext(cmd)
			return runInit(cc.Renderer, dir, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing files")

	return cmd
}

func runInit(r *output.Renderer, dir string, force bool) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	configPath := filepath.Join(dir, "leapcohort.yaml")
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("leapcohort.yaml already exists. Use --force to overwrite")
	}

	files, err := copyTemplate("project", dir, force)
	if err != nil {
		return fmt.Errorf("failed to initialize project: %w", err)
	}

	for _, f := range files {
		r.StatusLine("created", f)
	}
	r.Println("")
	r.Success("leapcohort project initialized!")
	r.Println("")
	r.Println("Next steps:")
	r.Println("  leapcohort run --expectations   Try the study on synthetic patients")
	r.Println("  leapcohort generate             Fill cohort.db with synthetic patients")
	r.Println("  leapcohort run                  Extract output/input.csv")
	r.Println("  leapcohort dag                  Show how the variables depend on each other")

	return nil
}
