package commands

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/leapstack-labs/leapcohort/internal/cli/output"
	"github.com/leapstack-labs/leapcohort/internal/engine"
	"github.com/leapstack-labs/leapcohort/internal/state"
	"github.com/leapstack-labs/leapcohort/pkg/core"
)

// runHistory records one run in the state database. Failing to open the
// history never fails the run itself.
type runHistory struct {
	logger *slog.Logger
	store  *state.SQLiteStore
	run    *core.Run
}

func newRunHistory(cc *CommandContext, disabled, dummy bool) *runHistory {
	h := &runHistory{logger: cc.Logger}
	if disabled {
		return h
	}
	st, err := cc.OpenState()
	if err != nil {
		cc.Logger.Warn("run history unavailable", slog.String("error", err.Error()))
		return h
	}
	run, err := st.CreateRun(cc.StudyName(), dummy)
	if err != nil {
		cc.Logger.Warn("failed to record run", slog.String("error", err.Error()))
		_ = st.Close()
		return h
	}
	h.store, h.run = st, run
	return h
}

func (h *runHistory) id() string {
	if h.run == nil {
		return ""
	}
	return h.run.ID
}

func (h *runHistory) complete(sum engine.Summary, runErr error) {
	if h.run == nil {
		return
	}
	status, msg := core.RunStatusCompleted, ""
	if runErr != nil {
		status, msg = core.RunStatusFailed, runErr.Error()
	}
	if err := h.store.CompleteRun(h.run.ID, status, sum.Evaluated, sum.Included, msg); err != nil {
		h.logger.Warn("failed to complete run", slog.String("id", h.run.ID), slog.String("error", err.Error()))
	}
}

func (h *runHistory) close() {
	if h.store != nil {
		_ = h.store.Close()
	}
}

// NewRunsCommand creates the runs command.
func NewRunsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show the run history",
		Long:  `List recorded runs of the study, newest first.`,
		Example: `  leapcohort runs
  leapcohort runs --limit 0 --output json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRuns(cmd, limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show, 0 for all")

	return cmd
}

func runRuns(cmd *cobra.Command, limit int) error {
	cc := NewCommandContext(cmd)

	st, err := cc.OpenState()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	runs, err := st.ListRuns(limit)
	if err != nil {
		return err
	}

	records := make([]output.RunRecord, len(runs))
	for i, run := range runs {
		records[i] = output.RunRecord{
			ID:        run.ID,
			Study:     run.Study,
			Dummy:     run.Dummy,
			Status:    string(run.Status),
			StartedAt: run.StartedAt.Local().Format(time.DateTime),
			Evaluated: run.Evaluated,
			Included:  run.Included,
			Error:     run.Error,
		}
		if run.CompletedAt != nil {
			records[i].CompletedAt = run.CompletedAt.Local().Format(time.DateTime)
		}
	}

	r := cc.Renderer
	switch r.EffectiveMode() {
	case output.ModeJSON, output.ModeYAML:
		return r.Data(records)
	case output.ModeMarkdown:
		r.Println(output.FormatHeader(1, "Runs"))
		r.Println("")
		r.Println("| ID | Study | Status | Started | Evaluated | Included |")
		r.Println("|----|-------|--------|---------|-----------|----------|")
		for _, rec := range records {
			r.Printf("| %s | %s | %s | %s | %d | %d |\n",
				rec.ID[:8], rec.Study, rec.Status, rec.StartedAt, rec.Evaluated, rec.Included)
		}
		return nil
	}

	if len(records) == 0 {
		r.Muted("No runs recorded")
		return nil
	}

	styles := r.Styles()
	titleCaser := cases.Title(language.English)
	t := table.NewWriter()
	t.SetOutputMirror(r.Writer())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Study", "Source", "Status", "Started", "Evaluated", "Included"})
	for _, rec := range records {
		source := "store"
		if rec.Dummy {
			source = "dummy"
		}
		status := titleCaser.String(rec.Status)
		switch core.RunStatus(rec.Status) {
		case core.RunStatusCompleted:
			status = styles.Success.Render(status)
		case core.RunStatusFailed:
			status = styles.Error.Render(status)
		}
		t.AppendRow(table.Row{
			rec.ID[:8], rec.Study, source, status, rec.StartedAt,
			strconv.FormatInt(rec.Evaluated, 10), strconv.FormatInt(rec.Included, 10),
		})
	}
	t.Render()

	for _, rec := range records {
		if rec.Error != "" {
			r.Warning("run " + rec.ID[:8] + ": " + rec.Error)
		}
	}
	return nil
}
