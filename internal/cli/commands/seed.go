package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapcohort/internal/cli/output"
	"github.com/leapstack-labs/leapcohort/internal/store"
)

// NewSeedCommand creates the seed command.
func NewSeedCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load CSV extracts into the event store",
		Long: `Load <table>.csv files from the seeds directory into a DuckDB event
store. Recognised tables: patients, death_causes, registrations,
addresses and events. Missing files are skipped.`,
		Example: `  leapcohort seed
  leapcohort seed --seeds-dir extracts --database cohort.duckdb`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSeed(cmd)
		},
	}

	cmd.Flags().String("seeds-dir", "", "Directory holding the CSV files (default seeds)")

	return cmd
}

func runSeed(cmd *cobra.Command) error {
	ctx := cmd.Context()
	cc := NewCommandContext(cmd)

	st, err := cc.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if err := st.InitSchema(ctx); err != nil {
		return err
	}

	out := output.SeedOutput{Seeds: []output.SeedInfo{}}
	for _, table := range store.Tables {
		path := filepath.Join(cc.Cfg.SeedsDir, table+".csv")
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			cc.Logger.Debug("no seed file", "table", table, "path", path)
			continue
		}
		if err := st.ImportCSV(ctx, table, path); err != nil {
			return err
		}
		out.Seeds = append(out.Seeds, output.SeedInfo{Table: table, Path: path})
	}

	r := cc.Renderer
	if r.IsData() {
		return r.JSON(out)
	}
	if len(out.Seeds) == 0 {
		r.Warning(fmt.Sprintf("no seed files found in %s", cc.Cfg.SeedsDir))
		return nil
	}
	for _, s := range out.Seeds {
		r.Success(fmt.Sprintf("Loaded %s", s.Table))
		r.StatusLine("from", s.Path)
	}
	return nil
}
