package commands

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/leapstack-labs/leapcohort/internal/cli/output"
	"github.com/leapstack-labs/leapcohort/internal/dummy"
	"github.com/leapstack-labs/leapcohort/internal/engine"
	"github.com/leapstack-labs/leapcohort/internal/store"
	"github.com/leapstack-labs/leapcohort/pkg/core"
)

// RunOptions holds the flags of the run command.
type RunOptions struct {
	Select       []string
	Expectations bool
	NoState      bool
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Extract the cohort table",
		Long: `Evaluate every variable of the study for every patient of the event
store and write one row per patient admitted by the population filter.

With --expectations the study is run against synthetic patients generated
from its expectations instead of the event store.

The table goes to output_path (default output/input.csv). Use --out - to
write it to stdout; on a terminal it is rendered as a table.`,
		Example: `  # Extract the cohort into output/input.csv
  leapcohort run

  # Only some columns, printed to the terminal
  leapcohort run --select asthma,age --out -

  # Try the study on 5000 synthetic patients
  leapcohort run --expectations --patients 5000`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Select, "select", "s", nil, "Output only these variables (and what they depend on)")
	cmd.Flags().BoolVar(&opts.Expectations, "expectations", false, "Run against synthetic patients generated from the study's expectations")
	cmd.Flags().BoolVar(&opts.NoState, "no-state", false, "Do not record the run in the run history")
	cmd.Flags().String("out", "", "Output file, - for stdout (default output/input.csv)")
	cmd.Flags().String("format", "", "Table format: csv, table or jsonl (default csv, table on a terminal)")
	cmd.Flags().Int("patients", 0, "Number of synthetic patients with --expectations")
	cmd.Flags().Uint64("seed", 0, "Random seed with --expectations")
	cmd.Flags().Int("workers", 0, "Patients evaluated concurrently (default: number of CPUs)")
	cmd.Flags().Int("batch-size", 0, "Patients fetched per batch")

	return cmd
}

func runRun(cmd *cobra.Command, opts *RunOptions) error {
	ctx := cmd.Context()
	cc := NewCommandContext(cmd)
	cfg := cc.Cfg

	plan, err := cc.LoadPlan()
	if err != nil {
		return err
	}
	if plan, err = plan.Select(opts.Select...); err != nil {
		return err
	}

	var src core.EventStore
	if opts.Expectations {
		g, err := dummy.New(plan, dummy.Options{
			Patients: cfg.Dummy.Patients,
			Seed:     cfg.Dummy.Seed,
			Workers:  cfg.Workers,
			Logger:   cc.Logger,
		})
		if err != nil {
			return err
		}
		mem := store.NewMemory()
		if _, err := g.Generate(ctx, mem); err != nil {
			return err
		}
		src = mem
	} else {
		st, err := cc.OpenStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()
		src = st
	}

	toStdout := cfg.OutputPath == "-"
	var w io.Writer = cmd.OutOrStdout()
	var file io.Closer
	if !toStdout {
		if err := ensureParentDir(cfg.OutputPath); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		f, err := os.Create(cfg.OutputPath)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		// Closed by finishTable on success.
		defer func() {
			if file != nil {
				_ = file.Close()
			}
		}()
		w, file = f, f
	}

	format := cfg.TableFormat
	if format == "" {
		format = output.FormatCSV
		if toStdout && cc.Renderer.IsTTY() {
			format = output.FormatTable
		}
	}
	sink, err := output.NewSink(format, w, cfg.NullMarker)
	if err != nil {
		return err
	}

	eng, err := engine.New(engine.Config{
		Plan:      plan,
		Workers:   cfg.Workers,
		BatchSize: cfg.BatchSize,
		Logger:    cc.Logger,
	})
	if err != nil {
		return err
	}

	history := newRunHistory(cc, opts.NoState, opts.Expectations)
	defer history.close()

	sum, err := eng.Run(ctx, src, sink)
	if err == nil {
		err = finishTable(sink, file)
		file = nil
	}
	history.complete(sum, err)
	if err != nil {
		return err
	}

	r := cc.Renderer
	if toStdout {
		r = output.NewRenderer(cmd.ErrOrStderr(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat))
	}
	return renderRunSummary(r, output.RunOutput{
		RunID:      history.id(),
		Study:      cc.StudyName(),
		Dummy:      opts.Expectations,
		Evaluated:  sum.Evaluated,
		Included:   sum.Included,
		Columns:    len(plan.Columns()),
		Output:     cfg.OutputPath,
		DurationMS: float64(sum.Duration) / float64(time.Millisecond),
	})
}

// finishTable flushes the sink and closes the output file, if any. A
// failed close means the last buffered write never reached the file.
func finishTable(sink output.Sink, file io.Closer) error {
	if err := sink.Flush(); err != nil {
		if file != nil {
			_ = file.Close()
		}
		return err
	}
	if file == nil {
		return nil
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}

func renderRunSummary(r *output.Renderer, out output.RunOutput) error {
	duration := time.Duration(out.DurationMS * float64(time.Millisecond)).Round(time.Millisecond).String()
	switch r.EffectiveMode() {
	case output.ModeJSON, output.ModeYAML:
		return r.Data(out)
	case output.ModeMarkdown:
		r.Println(output.FormatHeader(1, "Run Complete"))
		r.Println("")
		r.Println(output.FormatKeyValue("Study", out.Study))
		if out.RunID != "" {
			r.Println(output.FormatKeyValue("Run", out.RunID))
		}
		r.Println(output.FormatKeyValue("Evaluated", strconv.FormatInt(out.Evaluated, 10)))
		r.Println(output.FormatKeyValue("Included", strconv.FormatInt(out.Included, 10)))
		r.Println(output.FormatKeyValue("Columns", strconv.Itoa(out.Columns)))
		r.Println(output.FormatKeyValue("Output", out.Output))
		r.Println(output.FormatKeyValue("Duration", duration))
	default:
		source := "event store"
		if out.Dummy {
			source = "expectations"
		}
		p := message.NewPrinter(language.English)
		r.Success(p.Sprintf("Extracted %d of %d patients from the %s", out.Included, out.Evaluated, source))
		r.StatusLine("Study", out.Study)
		r.StatusLine("Columns", strconv.Itoa(out.Columns))
		r.StatusLine("Output", out.Output)
		r.StatusLine("Duration", duration)
		if out.RunID != "" {
			r.Muted("run " + out.RunID)
		}
	}
	return nil
}
