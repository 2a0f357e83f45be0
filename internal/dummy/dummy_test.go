package dummy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapcohort/internal/engine"
	"github.com/leapstack-labs/leapcohort/internal/store"
	"github.com/leapstack-labs/leapcohort/internal/study"
	"github.com/leapstack-labs/leapcohort/internal/testutil"
	"github.com/leapstack-labs/leapcohort/pkg/core"
)

// tolerance is the allowed absolute gap between a declared and an
// observed proportion.
const tolerance = 0.05

const roundTripStudy = `
default_expectations:
  date: {earliest: "2015-01-01", latest: index_date}
  rate: uniform
  incidence: 0.5

codelists:
  - {name: asthma_codes, system: snomed, codes: ["195967001", "389145006"]}
  - name: ckd_codes
    system: icd10
    file: %s
    column: code
    category_column: stage
  - {name: transplant_codes, system: opcs4, codes: [M01]}
  - {name: dialysis_codes, system: opcs4, codes: [X401, X402]}
  - {name: late_codes, system: snomed, codes: ["700379002"]}
  - {name: creatinine_codes, system: ctv3, codes: [XE2q5]}
  - {name: flu_codes, system: snomed, codes: ["822851000000102"]}

variables:
  - name: asthma
    code_match: {codelist: asthma_codes, between: [index_date - 1 year, index_date]}
    expectations: {incidence: 0.3}

  - name: ckd_stage
    code_match: {codelist: ckd_codes, on_or_before: index_date}
    returning: category
    expectations:
      incidence: 1
      category: {ratios: {"3": 0.5, "4": 0.3, "5": 0.2}}

  - name: sex
    sex: {}
    expectations:
      incidence: 1
      category: {ratios: {F: 0.51, M: 0.49}}

  - name: transplant
    admission_match: {procedures: transplant_codes, between: [index_date - 2 years, index_date]}
    expectations: {incidence: 0.2}

  - name: creatinine
    code_match: {codelist: creatinine_codes, source: test, on_or_before: index_date}
    returning: numeric_value
    expectations:
      incidence: 0.8
      float: {distribution: normal, mean: 90, stddev: 10}

  - name: creatinine_op
    comparator_from: creatinine
    expectations:
      category: {ratios: {"None": 0.6, "<": 0.2, ">": 0.2}}

  - name: severity
    categorised_as:
      categories:
        - {label: high, when: on_dialysis}
        - {label: medium, when: late_ckd}
        - {label: low, when: DEFAULT}
    locals:
      - name: on_dialysis
        admission_match: {procedures: dialysis_codes}
      - name: late_ckd
        code_match: {codelist: late_codes}
    expectations:
      category: {ratios: {high: 0.1, medium: 0.3, low: 0.6}}

  - name: flu_vaccinated
    satisfying: had_jab
    locals:
      - name: had_jab
        code_match: {codelist: flu_codes, source: vaccination}
    expectations: {incidence: 0.25}

  - name: age
    age_as_of: index_date
    expectations:
      incidence: 1
      int: {distribution: normal, mean: 50, stddev: 10}

population:
  satisfying: registered
  locals:
    - name: registered
      registered_as_of: index_date
`

func compileStudy(t *testing.T, src string) *engine.Plan {
	t.Helper()
	dir := t.TempDir()
	ckd := filepath.Join(dir, "ckd.csv")
	require.NoError(t, os.WriteFile(ckd, []byte("code,stage\nN183,3\nN184,4\nN185,5\n"), 0o600))

	def, err := study.Parse([]byte(fmt.Sprintf(src, ckd)), study.FormatYAML)
	require.NoError(t, err)
	reg, err := def.BuildRegistry(testutil.NewTestLogger(t))
	require.NoError(t, err)
	dates, err := study.NewDates("2021-01-01", "2021-12-31", "")
	require.NoError(t, err)
	plan, err := engine.Compile(def, reg, dates, testutil.NewTestLogger(t))
	require.NoError(t, err)
	return plan
}

// tally counts the values of each output column over evaluated patients.
type tally struct {
	patients int
	included int
	counts   map[string]map[string]int
	ages     float64
}

func (tl *tally) add(plan *engine.Plan, p *core.Patient) {
	c := plan.Evaluate(p)
	tl.patients++
	if c.Included() {
		tl.included++
	}
	for _, col := range plan.Columns() {
		v, _ := c.Value(col)
		if tl.counts[col] == nil {
			tl.counts[col] = make(map[string]int)
		}
		key := "NA"
		switch {
		case !v.Valid:
		case v.Kind == core.KindBinary:
			key = fmt.Sprint(v.Bool)
		case v.Kind == core.KindCategory:
			key = v.Str
		default:
			key = "value"
			if col == "age" {
				tl.ages += v.Float
			}
		}
		tl.counts[col][key]++
	}
}

func (tl *tally) share(col, key string) float64 {
	return float64(tl.counts[col][key]) / float64(tl.patients)
}

func TestRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("generates 10,000 patients")
	}
	const n = 10000
	plan := compileStudy(t, roundTripStudy)
	g, err := New(plan, Options{Patients: n, Seed: 20210101})
	require.NoError(t, err)

	tl := &tally{counts: make(map[string]map[string]int)}
	for i := range n {
		tl.add(plan, g.Patient(i))
	}

	assert.Equal(t, n, tl.included, "population locals are steered true")

	assert.InDelta(t, 0.3, tl.share("asthma", "true"), tolerance)
	assert.InDelta(t, 0.2, tl.share("transplant", "true"), tolerance)
	assert.InDelta(t, 0.25, tl.share("flu_vaccinated", "true"), tolerance)

	assert.InDelta(t, 0.5, tl.share("ckd_stage", "3"), tolerance)
	assert.InDelta(t, 0.3, tl.share("ckd_stage", "4"), tolerance)
	assert.InDelta(t, 0.2, tl.share("ckd_stage", "5"), tolerance)

	assert.InDelta(t, 0.51, tl.share("sex", "F"), tolerance)
	assert.InDelta(t, 0.49, tl.share("sex", "M"), tolerance)

	assert.InDelta(t, 0.1, tl.share("severity", "high"), tolerance)
	assert.InDelta(t, 0.3, tl.share("severity", "medium"), tolerance)
	assert.InDelta(t, 0.6, tl.share("severity", "low"), tolerance)

	withValue := float64(tl.counts["creatinine"]["value"])
	assert.InDelta(t, 0.8, withValue/n, tolerance)
	assert.InDelta(t, 0.2, float64(tl.counts["creatinine_op"]["<"])/withValue, tolerance)
	assert.InDelta(t, 0.2, float64(tl.counts["creatinine_op"][">"])/withValue, tolerance)

	assert.Equal(t, n, tl.counts["age"]["value"])
	assert.InDelta(t, 50, tl.ages/n, 1)
}

func TestPatient_Deterministic(t *testing.T) {
	plan := compileStudy(t, roundTripStudy)
	g1, err := New(plan, Options{Patients: 100, Seed: 7})
	require.NoError(t, err)
	g2, err := New(plan, Options{Patients: 100, Seed: 7})
	require.NoError(t, err)
	other, err := New(plan, Options{Patients: 100, Seed: 8})
	require.NoError(t, err)

	assert.Equal(t, g1.Patient(42), g2.Patient(42))
	assert.NotEqual(t, g1.Patient(42), other.Patient(42))
	assert.NotEqual(t, g1.Patient(42), g1.Patient(43))
	assert.Equal(t, "043", g1.ID(42))
}

func TestPatient_EventsSorted(t *testing.T) {
	plan := compileStudy(t, roundTripStudy)
	g, err := New(plan, Options{Patients: 50, Seed: 1})
	require.NoError(t, err)

	for i := range 50 {
		p := g.Patient(i)
		for j := 1; j < len(p.Events); j++ {
			require.False(t, p.Events[j].Date.Before(p.Events[j-1].Date), "patient %s", p.ID)
		}
		for _, e := range p.Events {
			assert.Equal(t, p.ID, e.PatientID)
		}
	}
}

func TestExponentialIncrease(t *testing.T) {
	plan := compileStudy(t, `
codelists:
  - {name: ckd_codes, system: icd10, file: %s, column: code}
variables:
  - name: diagnosed
    code_match: {codelist: ckd_codes, between: ["2020-01-01", "2020-12-31"]}
    returning: date
    expectations: {rate: exponential_increase, incidence: 1}
population:
  satisfying: "TRUE"
`)
	g, err := New(plan, Options{Patients: 2000, Seed: 3})
	require.NoError(t, err)

	mid := core.MustDate("2020-07-01")
	late := 0
	for i := range 2000 {
		c := plan.Evaluate(g.Patient(i))
		v, ok := c.Value("diagnosed")
		require.True(t, ok)
		require.True(t, v.Valid)
		require.False(t, v.Date.Before(core.MustDate("2020-01-01")))
		require.False(t, v.Date.After(core.MustDate("2020-12-31")))
		if !v.Date.Before(mid) {
			late++
		}
	}
	assert.Greater(t, float64(late)/2000, 0.75, "density rises towards the end of the range")
}

func TestDemographicsRoundTrip(t *testing.T) {
	plan := compileStudy(t, `
codelists:
  - {name: ckd_codes, system: icd10, file: %s, column: code}
variables:
  - name: region
    practice_as_of: index_date
    returning: nuts1_region_name
    expectations:
      incidence: 1
      category: {ratios: {London: 0.4, North West: 0.6}}
  - name: rural
    address_as_of: {date: index_date}
    returning: rural_urban_classification
    expectations:
      incidence: 1
      category: {ratios: {"1": 0.7, "5": 0.3}}
  - name: imd
    address_as_of: {date: index_date, round_to_nearest: 100}
  - name: ckd_death
    died: {codes: ckd_codes, on_or_after: index_date}
    expectations: {incidence: 0.1, date: {earliest: index_date, latest: end_date}}
  - name: left
    deregistered: {on_or_after: index_date}
    returning: binary_flag
    expectations: {incidence: 0.15, date: {earliest: index_date, latest: end_date}}
population:
  satisfying: "TRUE"
`)
	const n = 4000
	g, err := New(plan, Options{Patients: n, Seed: 11})
	require.NoError(t, err)

	tl := &tally{counts: make(map[string]map[string]int)}
	for i := range n {
		tl.add(plan, g.Patient(i))
	}
	assert.InDelta(t, 0.4, tl.share("region", "London"), tolerance)
	assert.InDelta(t, 0.7, tl.share("rural", "1"), tolerance)
	assert.InDelta(t, 0.3, tl.share("rural", "5"), tolerance)
	assert.InDelta(t, 0.1, tl.share("ckd_death", "true"), tolerance)
	assert.InDelta(t, 0.15, tl.share("left", "true"), tolerance)
	assert.Zero(t, tl.counts["imd"]["NA"], "imd drawn whenever an address exists")
}

func TestRecordsRoundTrip(t *testing.T) {
	plan := compileStudy(t, `
codelists:
  - {name: ckd_codes, system: icd10, file: %s, column: code}
variables:
  - name: covid_positive
    test_result: {pathogen: SARS-CoV-2, result: positive, on_or_after: index_date}
    expectations: {incidence: 0.3}
  - name: treatment_risk
    therapeutic: {therapeutics: [Sotrovimab, Molnupiravir]}
    returning: risk_group
    expectations:
      incidence: 1
      category: {ratios: {IMID: 0.6, CKD: 0.4}}
  - name: flu_product
    vaccination: {target_disease: INFLUENZA}
    returning: product_name
    expectations:
      incidence: 0.8
      category: {ratios: {Fluenz: 0.5, Fluad: 0.5}}
  - name: vax_1
    vaccination: {target_disease: SARS-2 CORONAVIRUS, between: ["2020-12-08", "2021-06-30"], find: first}
    returning: date
    expectations: {incidence: 0.7}
  - name: vax_2
    vaccination: {target_disease: SARS-2 CORONAVIRUS, on_or_after: vax_1 + 19 days, find: first}
    returning: date
    expectations: {incidence: 1}
population:
  satisfying: "TRUE"
`)
	const n = 4000
	g, err := New(plan, Options{Patients: n, Seed: 5})
	require.NoError(t, err)

	tl := &tally{counts: make(map[string]map[string]int)}
	for i := range n {
		p := g.Patient(i)
		tl.add(plan, p)

		c := plan.Evaluate(p)
		first, _ := c.Value("vax_1")
		second, _ := c.Value("vax_2")
		require.Equal(t, first.Valid, second.Valid, "patient %s", p.ID)
		if first.Valid {
			require.False(t, second.Date.Before(first.Date.AddDate(0, 0, 19)), "patient %s", p.ID)
		}
	}
	assert.InDelta(t, 0.3, tl.share("covid_positive", "true"), tolerance)
	assert.InDelta(t, 0.6, tl.share("treatment_risk", "IMID"), tolerance)
	assert.InDelta(t, 0.4, tl.share("treatment_risk", "CKD"), tolerance)
	assert.InDelta(t, 0.4, tl.share("flu_product", "Fluenz"), tolerance)
	assert.InDelta(t, 0.4, tl.share("flu_product", "Fluad"), tolerance)
	assert.InDelta(t, 0.7, tl.share("vax_1", "value"), tolerance)
}

func TestGenerate(t *testing.T) {
	plan := compileStudy(t, roundTripStudy)
	g, err := New(plan, Options{Patients: 25, Seed: 5, Workers: 3, BatchSize: 10, Logger: testutil.NewTestLogger(t)})
	require.NoError(t, err)

	mem := store.NewMemory()
	saved, err := g.Generate(context.Background(), mem)
	require.NoError(t, err)
	assert.Equal(t, 25, saved)

	ids, err := mem.PatientIDs(context.Background())
	require.NoError(t, err)
	require.Len(t, ids, 25)
	assert.Equal(t, "01", ids[0])
	assert.Equal(t, "25", ids[24])

	stored, err := mem.Patient(context.Background(), "07")
	require.NoError(t, err)
	assert.Equal(t, g.Patient(6), stored, "concurrent generation matches sequential")
}

type failingWriter struct{}

func (failingWriter) SavePatients(context.Context, []*core.Patient) error {
	return assert.AnError
}

func TestGenerate_Errors(t *testing.T) {
	plan := compileStudy(t, roundTripStudy)

	g, err := New(plan, Options{Patients: 5, Seed: 1})
	require.NoError(t, err)
	saved, err := g.Generate(context.Background(), failingWriter{})
	require.ErrorIs(t, err, assert.AnError)
	assert.Zero(t, saved)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Generate(ctx, store.NewMemory())
	require.ErrorIs(t, err, context.Canceled)

	_, err = New(plan, Options{})
	require.Error(t, err)
	_, err = New(nil, Options{Patients: 1})
	require.Error(t, err)
}
