package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/leapstack-labs/leapcohort/internal/cli/output"
	"github.com/leapstack-labs/leapcohort/internal/dummy"
)

// NewGenerateCommand creates the generate command.
func NewGenerateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Fill the event store with synthetic patients",
		Long: `Generate synthetic patients whose derived variables follow the study's
expectations and save them to the configured event store, creating its
tables first.

The same seed always produces the same patients.`,
		Example: `  # 1000 patients into the default database
  leapcohort generate

  # A larger, reproducible population in DuckDB
  leapcohort generate --patients 100000 --seed 7 --database dummy.duckdb`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGenerate(cmd)
		},
	}

	cmd.Flags().Int("patients", 0, "Number of patients to generate")
	cmd.Flags().Uint64("seed", 0, "Random seed")
	cmd.Flags().Int("workers", 0, "Patients generated concurrently (default: number of CPUs)")
	cmd.Flags().Int("batch-size", 0, "Patients saved per transaction")

	return cmd
}

func runGenerate(cmd *cobra.Command) error {
	ctx := cmd.Context()
	cc := NewCommandContext(cmd)
	cfg := cc.Cfg
	start := time.Now()

	plan, err := cc.LoadPlan()
	if err != nil {
		return err
	}
	g, err := dummy.New(plan, dummy.Options{
		Patients:  cfg.Dummy.Patients,
		Seed:      cfg.Dummy.Seed,
		Workers:   cfg.Workers,
		BatchSize: cfg.BatchSize,
		Logger:    cc.Logger,
	})
	if err != nil {
		return err
	}

	st, err := cc.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if err := st.InitSchema(ctx); err != nil {
		return err
	}
	n, err := g.Generate(ctx, st)
	if err != nil {
		return fmt.Errorf("generated %d patients before failing: %w", n, err)
	}

	out := output.GenerateOutput{
		Study:      cc.StudyName(),
		Patients:   n,
		Seed:       cfg.Dummy.Seed,
		Target:     cfg.Target.Type,
		Database:   cfg.Target.Database,
		DurationMS: float64(time.Since(start)) / float64(time.Millisecond),
	}

	r := cc.Renderer
	switch r.EffectiveMode() {
	case output.ModeJSON, output.ModeYAML:
		return r.Data(out)
	case output.ModeMarkdown:
		r.Println(output.FormatHeader(1, "Generate Complete"))
		r.Println("")
		r.Println(output.FormatKeyValue("Patients", strconv.Itoa(out.Patients)))
		r.Println(output.FormatKeyValue("Seed", strconv.FormatUint(out.Seed, 10)))
		r.Println(output.FormatKeyValue("Target", out.Target+" "+out.Database))
	default:
		r.Success(message.NewPrinter(language.English).Sprintf("Generated %d patients", out.Patients))
		r.StatusLine("Seed", strconv.FormatUint(out.Seed, 10))
		r.StatusLine("Target", out.Target+" "+out.Database)
		r.StatusLine("Duration", time.Since(start).Round(time.Millisecond).String())
	}
	return nil
}
