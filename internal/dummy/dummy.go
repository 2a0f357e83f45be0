// Package dummy generates synthetic patients whose records follow the
// expectations declared in a study definition.
//
// Each patient is built by walking the compiled plan in evaluation order.
// A primitive variable (a code match, an admission, a demographic) gets
// source records drawn from its expectations, and is then evaluated
// against the patient built so far, so that later windows anchored on it
// resolve exactly as they will in a real run. Derived variables
// (satisfying, categorised_as) are reached by steering the binary
// variables they read before any record is drawn.
//
// Patient i is generated from its own PCG stream seeded with (seed, i),
// so output is reproducible for a given seed regardless of how many
// workers build it.
package dummy

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/leapcohort/internal/engine"
	"github.com/leapstack-labs/leapcohort/pkg/core"
)

// Options configures a Generator.
type Options struct {
	// Patients is the number of patients to generate.
	Patients int
	// Seed selects the random streams.
	Seed uint64
	// Workers is the number of patients built concurrently by Generate.
	// Defaults to runtime.NumCPU().
	Workers int
	// BatchSize is the number of patients saved per SavePatients call.
	// Defaults to 500.
	BatchSize int
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

// Generator builds synthetic patients for a compiled plan.
type Generator struct {
	plan   *engine.Plan
	opts   Options
	width  int
	logger *slog.Logger
}

// New returns a generator for plan.
func New(plan *engine.Plan, opts Options) (*Generator, error) {
	if plan == nil {
		return nil, fmt.Errorf("dummy: plan is required")
	}
	if opts.Patients <= 0 {
		return nil, fmt.Errorf("dummy: patients must be positive, got %d", opts.Patients)
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Generator{
		plan:   plan,
		opts:   opts,
		width:  len(strconv.Itoa(opts.Patients)),
		logger: logger,
	}, nil
}

// ID returns the id of the i-th patient. Ids are zero-padded so that
// lexical order is generation order.
func (g *Generator) ID(i int) string {
	return fmt.Sprintf("%0*d", g.width, i+1)
}

// Patient builds the i-th patient, counting from zero. The same seed and
// index always give the same record.
func (g *Generator) Patient(i int) *core.Patient {
	b := &builder{
		plan: g.plan,
		rng:  rand.New(rand.NewPCG(g.opts.Seed, uint64(i))),
		p:    &core.Patient{ID: g.ID(i)},
	}
	return b.build()
}

// Generate builds every patient and saves them to w in batches. It
// returns the number of patients saved.
func (g *Generator) Generate(ctx context.Context, w core.PatientWriter) (int, error) {
	start := time.Now()
	g.logger.Info("generating dummy patients", "patients", g.opts.Patients, "seed", g.opts.Seed, "workers", g.opts.Workers)

	saved := 0
	for lo := 0; lo < g.opts.Patients; lo += g.opts.BatchSize {
		hi := min(lo+g.opts.BatchSize, g.opts.Patients)
		batch := make([]*core.Patient, hi-lo)

		eg, gctx := errgroup.WithContext(ctx)
		eg.SetLimit(g.opts.Workers)
		for i := lo; i < hi; i++ {
			eg.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				batch[i-lo] = g.Patient(i)
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return saved, err
		}

		if err := w.SavePatients(ctx, batch); err != nil {
			return saved, fmt.Errorf("failed to save patients %d-%d: %w", lo+1, hi, err)
		}
		saved = hi
		g.logger.Debug("batch generated", "done", hi, "total", g.opts.Patients)
	}

	g.logger.Info("dummy patients generated", "patients", saved, "duration", time.Since(start))
	return saved, nil
}
