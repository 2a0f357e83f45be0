// Package engine compiles a study definition into an evaluation plan and
// runs it over every patient of an event store.
//
// Compilation resolves each variable's references within its scope,
// checks operand kinds and orders the variables by dependency. Patients
// are then evaluated independently: each worker walks the plan for one
// patient at a time, writing values into a per-patient Context, and the
// population filter decides whether the row is emitted.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/leapcohort/pkg/core"
)

// Sink receives the output table.
type Sink interface {
	WriteHeader(columns []string) error
	WriteRow(patientID string, values []core.Value) error
}

// Summary reports the outcome of a run.
type Summary struct {
	Evaluated int64
	Included  int64
	Duration  time.Duration
}

// Config holds engine configuration.
type Config struct {
	// Plan is the compiled study.
	Plan *Plan
	// Workers is the number of patients evaluated concurrently.
	// Defaults to runtime.NumCPU().
	Workers int
	// BatchSize is the number of patients fetched and evaluated before
	// their rows are written. Defaults to 64 per worker.
	BatchSize int
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

// Engine evaluates a plan over an event store.
type Engine struct {
	plan      *Plan
	workers   int
	batchSize int
	logger    *slog.Logger
}

// New creates an engine for a compiled plan.
func New(cfg Config) (*Engine, error) {
	if cfg.Plan == nil {
		return nil, fmt.Errorf("engine: plan is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 64 * workers
	}
	return &Engine{plan: cfg.Plan, workers: workers, batchSize: batch, logger: logger}, nil
}

// Plan returns the compiled study.
func (e *Engine) Plan() *Plan {
	return e.plan
}

type result struct {
	id       string
	row      []core.Value
	included bool
}

// Run evaluates every patient of store and writes the included ones to
// sink in store order. The first store or sink error aborts the run, as
// does cancelling ctx.
func (e *Engine) Run(ctx context.Context, store core.EventStore, sink Sink) (Summary, error) {
	start := time.Now()
	var sum Summary

	ids, err := store.PatientIDs(ctx)
	if err != nil {
		return sum, fmt.Errorf("failed to list patients: %w", err)
	}
	e.logger.Info("starting run", "patients", len(ids), "workers", e.workers, "variables", len(e.plan.columns))

	if err := sink.WriteHeader(append([]string{"patient_id"}, e.plan.Columns()...)); err != nil {
		return sum, fmt.Errorf("failed to write header: %w", err)
	}

	for lo := 0; lo < len(ids); lo += e.batchSize {
		hi := min(lo+e.batchSize, len(ids))
		results, err := e.evaluateBatch(ctx, store, ids[lo:hi])
		if err != nil {
			sum.Duration = time.Since(start)
			return sum, err
		}
		for _, r := range results {
			sum.Evaluated++
			if !r.included {
				continue
			}
			sum.Included++
			if err := sink.WriteRow(r.id, r.row); err != nil {
				sum.Duration = time.Since(start)
				return sum, fmt.Errorf("failed to write row for patient %s: %w", r.id, err)
			}
		}
		e.logger.Debug("batch evaluated", "done", hi, "total", len(ids))
	}

	sum.Duration = time.Since(start)
	e.logger.Info("run completed", "evaluated", sum.Evaluated, "included", sum.Included, "duration", sum.Duration)
	return sum, nil
}

// evaluateBatch fetches and evaluates ids concurrently, keeping results
// in the order of ids.
func (e *Engine) evaluateBatch(ctx context.Context, store core.EventStore, ids []string) ([]result, error) {
	results := make([]result, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			patient, err := store.Patient(gctx, id)
			if err != nil {
				return fmt.Errorf("failed to read patient %s: %w", id, err)
			}
			c := e.plan.Evaluate(patient)
			results[i] = result{id: id, row: c.Row(), included: c.Included()}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
