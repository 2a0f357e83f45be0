package dummy

import (
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/leapstack-labs/leapcohort/internal/codelist"
	"github.com/leapstack-labs/leapcohort/internal/engine"
	"github.com/leapstack-labs/leapcohort/internal/study"
	"github.com/leapstack-labs/leapcohort/internal/temporal"
	"github.com/leapstack-labs/leapcohort/pkg/core"
)

// defaultLookbackYears bounds event dates when neither the window nor the
// expectations give a lower bound.
const defaultLookbackYears = 10

// growth is the exponent of the exponential_increase density e^(growth*x)
// over the date range scaled to [0, 1].
const growth = 3.0

// ageBands approximate the age structure of a registered population.
var ageBands = []struct {
	lo, hi int
	weight float64
}{
	{0, 17, 0.21},
	{18, 39, 0.28},
	{40, 64, 0.32},
	{65, 84, 0.16},
	{85, 105, 0.03},
}

// present draws whether n gets a value, honouring steering decisions.
func (b *builder) present(n *engine.Node) bool {
	if want, ok := b.steer[n.ID]; ok {
		return want
	}
	if n.Expectations.Rate == study.RateUniversal {
		return true
	}
	return b.rng.Float64() < n.Expectations.IncidenceOr(1)
}

func ratiosOf(n *engine.Node) map[string]float64 {
	if n.Expectations.Category == nil {
		return nil
	}
	return n.Expectations.Category.Ratios
}

// label draws one label from ratios. Labels are visited in sorted order
// so the draw depends only on the stream.
func label(rng *rand.Rand, ratios map[string]float64) string {
	labels := make([]string, 0, len(ratios))
	for l := range ratios {
		labels = append(labels, l)
	}
	if len(labels) == 0 {
		return ""
	}
	slices.Sort(labels)

	u := rng.Float64()
	acc := 0.0
	for _, l := range labels {
		acc += ratios[l]
		if u < acc {
			return l
		}
	}
	return labels[len(labels)-1]
}

// pick returns a uniformly chosen element of items.
func pick[T any](rng *rand.Rand, items []T) T {
	return items[rng.IntN(len(items))]
}

// entry chooses the code of a synthetic event. When byCategory or byCode
// is set and n declares ratios, the category or the code is drawn from
// them first. ok is false when the draw is the null label.
func (b *builder) entry(n *engine.Node, list *codelist.Codelist, byCategory, byCode bool) (core.CodedEntry, bool) {
	entries := list.Entries()
	ratios := ratiosOf(n)
	if len(ratios) == 0 || (!byCategory && !byCode) {
		return pick(b.rng, entries), true
	}

	want := label(b.rng, ratios)
	if want == study.NullLabel {
		return core.CodedEntry{}, false
	}
	var pool []core.CodedEntry
	for _, e := range entries {
		if (byCategory && e.Category == want) || (byCode && e.Code == want) {
			pool = append(pool, e)
		}
	}
	if len(pool) == 0 {
		pool = entries
	}
	return pick(b.rng, pool), true
}

// resolve evaluates an expectation date in n's scope.
func (b *builder) resolve(n *engine.Node, s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	e, err := temporal.ParseDateExpr(s)
	if err != nil {
		return time.Time{}, false
	}
	return b.c.ResolveDate(n, e)
}

// span is the range synthetic dates for n are drawn from: the window
// narrowed by the expected earliest and latest dates. ok is false when
// the window cannot be resolved or the range is empty.
func (b *builder) span(n *engine.Node, w temporal.Window) (lo, hi time.Time, ok bool) {
	iv, ok := b.c.ResolveWindow(n, w)
	if !ok {
		return lo, hi, false
	}
	hasLo, hasHi := iv.HasFrom, iv.HasTo
	lo, hi = iv.From, iv.To

	if d := n.Expectations.Date; d != nil {
		if t, ok := b.resolve(n, d.Earliest); ok && (!hasLo || t.After(lo)) {
			lo, hasLo = t, true
		}
		if t, ok := b.resolve(n, d.Latest); ok && (!hasHi || t.Before(hi)) {
			hi, hasHi = t, true
		}
	}

	dates := b.plan.Dates()
	switch {
	case !hasLo && !hasHi:
		lo, hi = dates.Index.AddDate(-defaultLookbackYears, 0, 0), dates.End
	case !hasLo:
		lo = hi.AddDate(-defaultLookbackYears, 0, 0)
	case !hasHi:
		hi = dates.End
		if hi.Before(lo) {
			hi = lo.AddDate(defaultLookbackYears, 0, 0)
		}
	}
	return lo, hi, !hi.Before(lo)
}

// date draws a date in [lo, hi] following n's rate.
func (b *builder) date(n *engine.Node, lo, hi time.Time) time.Time {
	days := int(hi.Sub(lo).Hours() / 24)
	if days <= 0 {
		return lo
	}
	var offset int
	if n.Expectations.Rate == study.RateExponentialIncrease {
		x := math.Log1p(b.rng.Float64()*math.Expm1(growth)) / growth
		offset = min(int(x*float64(days+1)), days)
	} else {
		offset = b.rng.IntN(days + 1)
	}
	return lo.AddDate(0, 0, offset)
}

// number draws from d. A nil distribution is uniform on [0, 100).
func (b *builder) number(d *study.Distribution) float64 {
	switch {
	case d == nil:
		return b.rng.Float64() * 100
	case d.Distribution == study.DistPopulationAges:
		return float64(b.populationAge())
	default:
		return d.Mean + b.rng.NormFloat64()*d.Stddev
	}
}

// value draws the recorded value of a numeric event: float first, then
// int rounded to a whole number.
func (b *builder) value(n *engine.Node) float64 {
	e := n.Expectations
	if e.Float != nil {
		return math.Round(b.number(e.Float)*100) / 100
	}
	if e.Int != nil {
		return math.Round(b.number(e.Int))
	}
	return math.Round(b.number(nil)*100) / 100
}

// count draws the number of events of a counting variable, at least one.
func (b *builder) count(n *engine.Node) int {
	if n.Expectations.Int == nil {
		return 1 + b.rng.IntN(3)
	}
	return max(1, int(math.Round(b.number(n.Expectations.Int))))
}

func (b *builder) populationAge() int {
	u := b.rng.Float64()
	acc := 0.0
	for _, band := range ageBands {
		acc += band.weight
		if u < acc {
			return band.lo + b.rng.IntN(band.hi-band.lo+1)
		}
	}
	last := ageBands[len(ageBands)-1]
	return last.lo + b.rng.IntN(last.hi-last.lo+1)
}

// age draws an age in whole years from n's int distribution.
func (b *builder) age(n *engine.Node) int {
	d := n.Expectations.Int
	if d == nil || d.Distribution == study.DistPopulationAges {
		return b.populationAge()
	}
	return min(max(int(math.Round(b.number(d))), 0), 110)
}
