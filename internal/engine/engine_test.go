package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapcohort/internal/store"
	"github.com/leapstack-labs/leapcohort/internal/testutil"
	"github.com/leapstack-labs/leapcohort/pkg/core"
)

// captureSink keeps everything written to it.
type captureSink struct {
	mu     sync.Mutex
	header []string
	ids    []string
	rows   [][]core.Value
	err    error
}

func (s *captureSink) WriteHeader(columns []string) error {
	s.header = columns
	return nil
}

func (s *captureSink) WriteRow(id string, values []core.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.ids = append(s.ids, id)
	s.rows = append(s.rows, values)
	return nil
}

func value(t *testing.T, c *Context, id string) core.Value {
	t.Helper()
	v, ok := c.Value(id)
	require.True(t, ok, "no value for %s", id)
	return v
}

const admissionStudy = `
codelists:
  - name: kidney
    system: icd10
    codes: [N185]
variables:
  - name: admitted
    admission_match:
      diagnoses: kidney
      between: [index_date, index_date + 90 days]
  - name: admitted_on
    admission_match:
      diagnoses: kidney
      between: [index_date, index_date + 90 days]
    returning: date_admitted
population:
  satisfying: admitted
`

func TestAdmissionMatch_Window(t *testing.T) {
	plan := compile(t, admissionStudy)

	inside := testutil.NewPatient("inside").
		Admitted(testutil.Admission{Admitted: "2021-03-01", Discharged: "2021-03-04", Primary: "N185"}).
		Build()
	outside := testutil.NewPatient("outside").
		Admitted(testutil.Admission{Admitted: "2021-06-01", Primary: "N185"}).
		Build()

	c := plan.Evaluate(inside)
	assert.Equal(t, core.Bool(true), value(t, c, "admitted"))
	assert.Equal(t, core.DateValue(core.MustDate("2021-03-01")), value(t, c, "admitted_on"))
	assert.True(t, c.Included())

	c = plan.Evaluate(outside)
	assert.Equal(t, core.Bool(false), value(t, c, "admitted"))
	assert.Equal(t, core.Null(core.KindDate), value(t, c, "admitted_on"))
	assert.False(t, c.Included())
}

func TestAdmissionMatch_Returning(t *testing.T) {
	plan := compile(t, `
codelists:
  - {name: dialysis, system: opcs4, codes: [X401]}
  - {name: kidney, system: icd10, codes: [N185, N184]}
variables:
  - name: stays
    admission_match: {procedures: dialysis}
    returning: number_of_matches_in_period
  - name: primary_dx
    admission_match: {diagnoses: kidney, find: first}
    returning: primary_diagnosis
  - name: discharged
    admission_match: {primary_diagnoses: kidney, admission_methods: ["21"]}
    returning: date_discharged
  - name: elective
    admission_match: {patient_classifications: ["2"]}
population:
  satisfying: "TRUE"
`)
	p := testutil.NewPatient("p").
		Admitted(testutil.Admission{
			Admitted: "2020-02-01", Discharged: "2020-02-03", Method: "21", Class: "1",
			Primary: "I10", Secondary: []string{"N184"}, Procedures: []string{"X401"},
		}).
		Admitted(testutil.Admission{
			Admitted: "2020-05-01", Discharged: "2020-05-09", Method: "21", Class: "1",
			Primary: "N185", Procedures: []string{"X401"},
		}).
		Build()

	c := plan.Evaluate(p)
	assert.Equal(t, core.Count(2), value(t, c, "stays"), "one match per admission")
	assert.Equal(t, core.Category("I10"), value(t, c, "primary_dx"))
	assert.Equal(t, core.DateValue(core.MustDate("2020-05-09")), value(t, c, "discharged"))
	assert.Equal(t, core.Bool(false), value(t, c, "elective"))
}

func TestCodeMatch_BetweenBoundaries(t *testing.T) {
	plan := compile(t, `
codelists:
  - {name: asthma, system: snomed, codes: ["195967001"]}
variables:
  - name: recent
    code_match:
      codelist: asthma
      between: [index_date - 90 days, index_date - 1 day]
population:
  satisfying: "TRUE"
`)
	tests := []struct {
		date string
		want bool
	}{
		{"2020-10-02", false},
		{"2020-10-03", true},
		{"2020-12-31", true},
		{"2021-01-01", false},
	}
	for _, tt := range tests {
		t.Run(tt.date, func(t *testing.T) {
			p := testutil.NewPatient("p").Event(tt.date, "snomed", "195967001").Build()
			c := plan.Evaluate(p)
			assert.Equal(t, core.Bool(tt.want), value(t, c, "recent"))
		})
	}
}

func TestCodeMatch_Returning(t *testing.T) {
	plan := compile(t, `
codelists:
  - {name: asthma, system: snomed, codes: ["195967001", "389145006"]}
  - {name: creatinine, system: ctv3, codes: [XE2q5]}
variables:
  - name: first_code
    code_match: {codelist: asthma, find: first}
    returning: code
  - name: last_date
    code_match: {codelist: asthma, on_or_before: index_date}
    returning: date
  - name: count
    code_match: {codelist: asthma}
    returning: number_of_matches_in_period
  - name: creat
    code_match: {codelist: creatinine, source: test, include_date_of_match: true}
    returning: numeric_value
  - name: creat_op
    comparator_from: creat
  - name: clinical_creat
    code_match: {codelist: creatinine}
population:
  satisfying: "TRUE"
`)
	p := testutil.NewPatient("p").
		Event("2019-03-01", "snomed", "389145006").
		Event("2020-07-01", "snomed", "195967001").
		Event("2021-02-01", "snomed", "195967001").
		Measured("2020-01-01", "ctv3", "XE2q5", "80", 80).
		Measured("2020-06-01", "ctv3", "XE2q5", "<50", 50).
		Build()

	c := plan.Evaluate(p)
	assert.Equal(t, core.Category("389145006"), value(t, c, "first_code"))
	assert.Equal(t, core.DateValue(core.MustDate("2020-07-01")), value(t, c, "last_date"))
	assert.Equal(t, core.Count(3), value(t, c, "count"))
	assert.Equal(t, core.Numeric(50), value(t, c, "creat"))
	assert.Equal(t, core.DateValue(core.MustDate("2020-06-01")), value(t, c, "creat_date"))
	assert.Equal(t, core.Category("<"), value(t, c, "creat_op"))
	assert.Equal(t, core.Bool(false), value(t, c, "clinical_creat"), "tests are not clinical events")

	plain := testutil.NewPatient("q").Measured("2020-01-01", "ctv3", "XE2q5", "80", 80).Build()
	c = plan.Evaluate(plain)
	assert.Equal(t, core.Null(core.KindCategory), value(t, c, "creat_op"))

	none := testutil.NewPatient("r").Build()
	c = plan.Evaluate(none)
	assert.Equal(t, core.Count(0), value(t, c, "count"))
	assert.Equal(t, core.Null(core.KindNumeric), value(t, c, "creat"))
	assert.Equal(t, core.Null(core.KindDate), value(t, c, "creat_date"))
}

func TestExtreme(t *testing.T) {
	plan := compile(t, `
codelists:
  - {name: a_codes, system: snomed, codes: ["1"]}
  - {name: b_codes, system: snomed, codes: ["2"]}
variables:
  - name: a_date
    code_match: {codelist: a_codes}
    returning: date
  - name: b_date
    code_match: {codelist: b_codes}
    returning: date
  - name: earliest
    min_of: [a_date, b_date]
  - name: latest
    max_of: [a_date, b_date]
population:
  satisfying: "TRUE"
`)
	both := testutil.NewPatient("both").Event("2020-01-01", "snomed", "1").Event("2020-05-01", "snomed", "2").Build()
	c := plan.Evaluate(both)
	assert.Equal(t, core.DateValue(core.MustDate("2020-01-01")), value(t, c, "earliest"))
	assert.Equal(t, core.DateValue(core.MustDate("2020-05-01")), value(t, c, "latest"))

	one := testutil.NewPatient("one").Event("2020-05-01", "snomed", "2").Build()
	c = plan.Evaluate(one)
	assert.Equal(t, core.DateValue(core.MustDate("2020-05-01")), value(t, c, "earliest"), "nulls are skipped")

	c = plan.Evaluate(testutil.NewPatient("none").Build())
	assert.Equal(t, core.Null(core.KindDate), value(t, c, "latest"))
}

func TestCategorise(t *testing.T) {
	plan := compile(t, `
codelists:
  - {name: ckd, system: icd10, codes: [N184, N185]}
  - {name: dialysis, system: opcs4, codes: [X401]}
variables:
  - name: kidney
    categorised_as:
      categories:
        - {label: dialysis, when: on_dialysis}
        - {label: ckd, when: has_ckd}
        - {label: none, when: DEFAULT}
    locals:
      - name: on_dialysis
        admission_match: {procedures: dialysis}
      - name: has_ckd
        code_match: {codelist: ckd}
population:
  satisfying: kidney != 'none'
`)
	tests := []struct {
		name     string
		patient  *core.Patient
		want     string
		included bool
	}{
		{
			name: "first true rule wins",
			patient: testutil.NewPatient("both").
				Event("2020-01-01", "icd10", "N185").
				Admitted(testutil.Admission{Admitted: "2020-03-01", Procedures: []string{"X401"}}).
				Build(),
			want:     "dialysis",
			included: true,
		},
		{
			name:     "second rule",
			patient:  testutil.NewPatient("ckd").Event("2020-01-01", "icd10", "N184").Build(),
			want:     "ckd",
			included: true,
		},
		{
			name:    "default",
			patient: testutil.NewPatient("none").Build(),
			want:    "none",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := plan.Evaluate(tt.patient)
			assert.Equal(t, core.Category(tt.want), value(t, c, "kidney"))
			assert.Equal(t, tt.included, c.Included())
		})
	}
}

func TestCategorise_NonOverlappingRulesCommute(t *testing.T) {
	const head = `
variables:
  - name: band
    categorised_as:
      categories:
`
	const tail = `
        - {label: unknown, when: DEFAULT}
    locals:
      - name: age
        age_as_of: index_date
population:
  satisfying: "TRUE"
`
	const young = "        - {label: young, when: age < 40}\n"
	const older = "        - {label: older, when: age >= 40}\n"
	forward := compile(t, head+young+older+tail)
	reversed := compile(t, head+older+young+tail)

	patients := []*core.Patient{
		testutil.NewPatient("child").Born("2015-06-01").Build(),
		testutil.NewPatient("39").Born("1981-01-02").Build(),
		testutil.NewPatient("40").Born("1981-01-01").Build(),
		testutil.NewPatient("elderly").Born("1931-12-25").Build(),
		testutil.NewPatient("no_dob").Build(),
	}
	want := []string{"young", "young", "older", "older", "unknown"}
	for i, p := range patients {
		a := value(t, forward.Evaluate(p), "band")
		b := value(t, reversed.Evaluate(p), "band")
		assert.Equal(t, a, b, p.ID)
		assert.Equal(t, core.Category(want[i]), a, p.ID)
	}
}

func TestDemographics(t *testing.T) {
	plan := compile(t, `
codelists:
  - {name: cardiac, system: icd10, codes: [I219]}
variables:
  - name: age
    age_as_of: index_date
  - name: sex
    sex: {}
  - name: registered
    registered_as_of: index_date
  - name: registered_year
    registered_between: [index_date - 1 year, index_date]
  - name: stp
    practice_as_of: index_date
  - name: region
    practice_as_of: index_date
    returning: nuts1_region_name
  - name: imd
    address_as_of: {date: index_date, round_to_nearest: 100}
  - name: rural_urban
    address_as_of: {date: index_date}
    returning: rural_urban_classification
  - name: cardiac_death
    died: {codes: cardiac, on_or_after: index_date}
  - name: death_date
    died: {}
    returning: date_of_death
  - name: underlying_cardiac
    died: {codes: cardiac, underlying_only: true}
  - name: left_practice
    deregistered: {}
population:
  satisfying: age >= 18 AND registered
`)
	p := testutil.NewPatient("p").
		Sex("F").
		Born("1980-01-02").
		Registered("2018-01-01", "2020-06-30", "E54000005", "London").
		Registered("2020-07-01", "2021-05-31", "E54000007", "North West").
		LivedAt("2010-01-01", "", 12345, 3).
		Died("2021-05-31", "J189", "I219").
		Build()

	c := plan.Evaluate(p)
	assert.Equal(t, core.Numeric(40), value(t, c, "age"), "birthday falls the day after index")
	assert.Equal(t, core.Category("F"), value(t, c, "sex"))
	assert.Equal(t, core.Bool(true), value(t, c, "registered"))
	assert.Equal(t, core.Bool(false), value(t, c, "registered_year"), "two registrations do not cover the period")
	assert.Equal(t, core.Category("E54000007"), value(t, c, "stp"))
	assert.Equal(t, core.Category("North West"), value(t, c, "region"))
	assert.Equal(t, core.Numeric(12300), value(t, c, "imd"))
	assert.Equal(t, core.Category("3"), value(t, c, "rural_urban"))
	assert.Equal(t, core.Bool(true), value(t, c, "cardiac_death"))
	assert.Equal(t, core.DateValue(core.MustDate("2021-05-31")), value(t, c, "death_date"))
	assert.Equal(t, core.Bool(false), value(t, c, "underlying_cardiac"))
	assert.Equal(t, core.DateValue(core.MustDate("2021-05-31")), value(t, c, "left_practice"))
	assert.True(t, c.Included())

	young := testutil.NewPatient("young").Born("2010-01-01").Registered("2000-01-01", "", "", "").Build()
	c = plan.Evaluate(young)
	assert.Equal(t, core.Null(core.KindDate), value(t, c, "left_practice"), "still registered")
	assert.Equal(t, core.Null(core.KindCategory), value(t, c, "stp"))
	assert.Equal(t, core.Null(core.KindNumeric), value(t, c, "imd"))
	assert.Equal(t, core.Null(core.KindCategory), value(t, c, "sex"))
	assert.False(t, c.Included())
}

func TestPopulationLocals(t *testing.T) {
	plan := compile(t, `
codelists:
  - {name: asthma, system: snomed, codes: ["195967001"]}
variables:
  - name: age
    age_as_of: index_date
population:
  satisfying: adult AND has_asthma
  locals:
    - name: adult
      satisfying: age >= 18
    - name: has_asthma
      code_match: {codelist: asthma}
`)
	assert.Equal(t, []string{"age"}, plan.Columns())

	c := plan.Evaluate(testutil.NewPatient("a").Born("1990-01-01").Event("2020-01-01", "snomed", "195967001").Build())
	assert.True(t, c.Included())
	assert.Equal(t, core.Bool(true), value(t, c, "population.adult"))

	c = plan.Evaluate(testutil.NewPatient("b").Born("1990-01-01").Build())
	assert.False(t, c.Included())

	c = plan.Evaluate(testutil.NewPatient("c").Event("2020-01-01", "snomed", "195967001").Build())
	assert.False(t, c.Included(), "null age fails the filter")
}

const runStudy = `
codelists:
  - {name: asthma, system: snomed, codes: ["195967001"]}
variables:
  - name: asthma
    code_match: {codelist: asthma}
  - name: age
    age_as_of: index_date
population:
  satisfying: age >= 18
`

func patients(n int) []*core.Patient {
	out := make([]*core.Patient, n)
	for i := range out {
		b := testutil.NewPatient(fmt.Sprintf("p%03d", i))
		if i%2 == 0 {
			b.Born("1970-01-01")
		} else {
			b.Born("2015-01-01")
		}
		if i%3 == 0 {
			b.Event("2020-01-01", "snomed", "195967001")
		}
		out[i] = b.Build()
	}
	return out
}

func TestEngine_Run(t *testing.T) {
	plan := compile(t, runStudy)
	e, err := New(Config{Plan: plan, Workers: 4, BatchSize: 7, Logger: testutil.NewTestLogger(t)})
	require.NoError(t, err)

	all := patients(50)
	sink := &captureSink{}
	sum, err := e.Run(context.Background(), store.NewMemory(all...), sink)
	require.NoError(t, err)

	assert.Equal(t, []string{"patient_id", "asthma", "age"}, sink.header)
	assert.Equal(t, int64(50), sum.Evaluated)
	assert.Equal(t, int64(25), sum.Included)

	var want []string
	for i, p := range all {
		if i%2 == 0 {
			want = append(want, p.ID)
		}
	}
	assert.Equal(t, want, sink.ids, "rows keep store order across batches")
	require.Len(t, sink.rows, 25)
	assert.Equal(t, core.Bool(true), sink.rows[0][0])
	assert.Equal(t, core.Bool(false), sink.rows[1][0])
	assert.Equal(t, core.Numeric(51), sink.rows[0][1])
}

func TestEngine_RunEmptyStore(t *testing.T) {
	e, err := New(Config{Plan: compile(t, runStudy)})
	require.NoError(t, err)

	sink := &captureSink{}
	sum, err := e.Run(context.Background(), store.NewMemory(), sink)
	require.NoError(t, err)
	assert.Equal(t, []string{"patient_id", "asthma", "age"}, sink.header)
	assert.Zero(t, sum.Evaluated)
	assert.Empty(t, sink.ids)
}

// failingStore fails to read one patient.
type failingStore struct {
	*store.Memory
	bad string
}

func (s failingStore) Patient(ctx context.Context, id string) (*core.Patient, error) {
	if id == s.bad {
		return nil, errors.New("disk on fire")
	}
	return s.Memory.Patient(ctx, id)
}

func TestEngine_RunErrors(t *testing.T) {
	plan := compile(t, runStudy)

	t.Run("store error", func(t *testing.T) {
		e, err := New(Config{Plan: plan, Workers: 2})
		require.NoError(t, err)
		_, err = e.Run(context.Background(), failingStore{store.NewMemory(patients(10)...), "p004"}, &captureSink{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "p004")
		assert.Contains(t, err.Error(), "disk on fire")
	})

	t.Run("sink error", func(t *testing.T) {
		e, err := New(Config{Plan: plan})
		require.NoError(t, err)
		sink := &captureSink{err: assert.AnError}
		_, err = e.Run(context.Background(), store.NewMemory(patients(4)...), sink)
		require.ErrorIs(t, err, assert.AnError)
	})

	t.Run("cancelled", func(t *testing.T) {
		e, err := New(Config{Plan: plan, Workers: 1})
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = e.Run(ctx, store.NewMemory(patients(4)...), &captureSink{})
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("missing plan", func(t *testing.T) {
		_, err := New(Config{})
		require.Error(t, err)
	})
}
