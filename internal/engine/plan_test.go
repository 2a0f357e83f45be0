package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapcohort/internal/study"
	"github.com/leapstack-labs/leapcohort/internal/testutil"
	"github.com/leapstack-labs/leapcohort/pkg/core"
)

// tryCompile parses src and compiles it against 2021-01-01..2021-12-31.
func tryCompile(t *testing.T, src string) (*Plan, error) {
	t.Helper()
	def, err := study.Parse([]byte(src), study.FormatYAML)
	require.NoError(t, err)
	reg, err := def.BuildRegistry(testutil.NewTestLogger(t))
	require.NoError(t, err)
	dates, err := study.NewDates("2021-01-01", "2021-12-31", "")
	require.NoError(t, err)
	return Compile(def, reg, dates, testutil.NewTestLogger(t))
}

func compile(t *testing.T, src string) *Plan {
	t.Helper()
	plan, err := tryCompile(t, src)
	require.NoError(t, err)
	return plan
}

func nodeIDs(nodes []*Node) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}

func TestCompile_Order(t *testing.T) {
	plan := compile(t, `
codelists:
  - name: asthma
    system: snomed
    codes: ["195967001"]
variables:
  - name: risk
    categorised_as:
      categories:
        - {label: high, when: recent AND adult}
        - {label: low, when: DEFAULT}
    locals:
      - name: recent
        code_match: {codelist: asthma, on_or_after: index_date - 1 year}
  - name: asthma_ever
    code_match: {codelist: asthma, include_date_of_match: true}
  - name: adult
    age_as_of: index_date
population:
  satisfying: adult >= 18
`)

	assert.Equal(t, []string{"risk", "asthma_ever", "asthma_ever_date", "adult"}, plan.Columns())

	order := nodeIDs(plan.Nodes())
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	assert.Less(t, pos["risk.recent"], pos["risk"], "locals before their parent")
	assert.Less(t, pos["adult"], pos["risk"])
	assert.Less(t, pos["asthma_ever"], pos["asthma_ever_date"])
	assert.Equal(t, PopulationID, order[len(order)-1])

	risk, ok := plan.Node("risk")
	require.True(t, ok)
	assert.Equal(t, core.KindCategory, risk.Kind)
	assert.ElementsMatch(t, []string{"risk.recent", "adult"}, risk.Deps)

	recent, _ := plan.Node("risk.recent")
	assert.False(t, recent.Output)
	assert.Equal(t, "risk", recent.Parent)
}

func TestCompile_Cycle(t *testing.T) {
	_, err := tryCompile(t, `
codelists:
  - name: codes
    system: snomed
    codes: ["1"]
variables:
  - name: first_event
    code_match: {codelist: codes, on_or_after: second_event}
    returning: date
  - name: second_event
    code_match: {codelist: codes, on_or_after: first_event}
    returning: date
population:
  satisfying: first_event <= second_event
`)
	require.Error(t, err)
	var cycle *core.CycleError
	require.ErrorAs(t, err, &cycle)
	assert.Contains(t, cycle.Cycle, "first_event")
	assert.Contains(t, cycle.Cycle, "second_event")
	assert.Equal(t, cycle.Cycle[0], cycle.Cycle[len(cycle.Cycle)-1])
}

func TestCompile_SelfReference(t *testing.T) {
	_, err := tryCompile(t, `
codelists:
  - name: codes
    system: snomed
    codes: ["1"]
variables:
  - name: looped
    code_match: {codelist: codes, on_or_after: looped}
    returning: date
population:
  satisfying: "TRUE"
`)
	var cycle *core.CycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"looped", "looped"}, cycle.Cycle)
}

func TestCompile_UnresolvedReferencesJoined(t *testing.T) {
	_, err := tryCompile(t, `
variables:
  - name: flag
    satisfying: missing_one OR missing_two
population:
  satisfying: flag AND nowhere
`)
	require.Error(t, err)
	var unresolved *core.UnresolvedReferenceError
	require.ErrorAs(t, err, &unresolved)
	for _, name := range []string{"missing_one", "missing_two", "nowhere"} {
		assert.Contains(t, err.Error(), name)
	}
}

func TestCompile_LocalScope(t *testing.T) {
	base := `
codelists:
  - name: codes
    system: snomed
    codes: ["1"]
variables:
  - name: grouped
    categorised_as:
      categories:
        - {label: "yes", when: later}
        - {label: "no", when: DEFAULT}
    locals:
%s
population:
  satisfying: "TRUE"
`
	t.Run("earlier sibling visible", func(t *testing.T) {
		_, err := tryCompile(t, fmt.Sprintf(base, `
      - name: earlier
        code_match: {codelist: codes}
      - name: later
        satisfying: earlier`))
		require.NoError(t, err)
	})

	t.Run("later sibling not visible", func(t *testing.T) {
		_, err := tryCompile(t, fmt.Sprintf(base, `
      - name: later
        satisfying: earlier
      - name: earlier
        code_match: {codelist: codes}`))
		var unresolved *core.UnresolvedReferenceError
		require.ErrorAs(t, err, &unresolved)
		assert.Equal(t, "grouped.later", unresolved.Variable)
		assert.Equal(t, "earlier", unresolved.Reference)
	})

	t.Run("locals not visible to other globals", func(t *testing.T) {
		_, err := tryCompile(t, `
codelists:
  - name: codes
    system: snomed
    codes: ["1"]
variables:
  - name: grouped
    satisfying: inner
    locals:
      - name: inner
        code_match: {codelist: codes}
  - name: outsider
    satisfying: inner
population:
  satisfying: "TRUE"
`)
		var unresolved *core.UnresolvedReferenceError
		require.ErrorAs(t, err, &unresolved)
		assert.Equal(t, "outsider", unresolved.Variable)
	})
}

func TestCompile_DefinitionErrors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{
			name: "date window on a non-date variable",
			src: `
codelists:
  - {name: codes, system: snomed, codes: ["1"]}
variables:
  - name: flag
    code_match: {codelist: codes}
  - name: after_flag
    code_match: {codelist: codes, on_or_after: flag}
population: {satisfying: "TRUE"}
`,
			wantErr: `"flag" is used as a date but is a binary_flag`,
		},
		{
			name: "comparator from a date",
			src: `
codelists:
  - {name: codes, system: snomed, codes: ["1"]}
variables:
  - name: when
    code_match: {codelist: codes}
    returning: date
  - name: op
    comparator_from: when
population: {satisfying: "TRUE"}
`,
			wantErr: "must be a code_match returning numeric_value",
		},
		{
			name: "max_of a flag",
			src: `
codelists:
  - {name: codes, system: snomed, codes: ["1"]}
variables:
  - name: flag
    code_match: {codelist: codes}
  - name: latest
    max_of: [flag]
population: {satisfying: "TRUE"}
`,
			wantErr: "max_of needs date variables",
		},
		{
			name: "category from a list without categories",
			src: `
codelists:
  - {name: codes, system: snomed, codes: ["1"]}
variables:
  - name: cat
    code_match: {codelist: codes}
    returning: category
population: {satisfying: "TRUE"}
`,
			wantErr: "needs a codelist with a category column",
		},
		{
			name: "comparing a date with a number",
			src: `
codelists:
  - {name: codes, system: snomed, codes: ["1"]}
variables:
  - name: when
    code_match: {codelist: codes}
    returning: date
population: {satisfying: when > 3}
`,
			wantErr: "cannot compare a date",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tryCompile(t, tt.src)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCompile_IndexDate(t *testing.T) {
	plan := compile(t, `
index_date: end_date - 1 month
variables:
  - name: sex
    sex: {}
population: {satisfying: "TRUE"}
`)
	assert.Equal(t, core.MustDate("2021-11-30"), plan.Dates().Index)
}

func TestCompile_Expectations(t *testing.T) {
	plan := compile(t, `
default_expectations:
  incidence: 0.2
  date: {earliest: "2000-01-01", latest: today}
variables:
  - name: died_flag
    died: {}
    expectations: {incidence: 0.05}
population: {satisfying: "TRUE"}
`)
	n, ok := plan.Node("died_flag")
	require.True(t, ok)
	assert.InDelta(t, 0.05, n.Expectations.IncidenceOr(0), 1e-9)
	require.NotNil(t, n.Expectations.Date)
	assert.Equal(t, "2000-01-01", n.Expectations.Date.Earliest)
}

func TestPlan_Select(t *testing.T) {
	plan := compile(t, `
codelists:
  - {name: asthma, system: snomed, codes: ["195967001"]}
variables:
  - name: asthma_ever
    code_match: {codelist: asthma, include_date_of_match: true}
  - name: adult
    age_as_of: index_date
  - name: risk
    satisfying: asthma_ever AND adult >= 18
population:
  satisfying: adult >= 18
`)

	sub, err := plan.Select("risk", "asthma_ever_date")
	require.NoError(t, err)
	assert.Equal(t, []string{"asthma_ever_date", "risk"}, sub.Columns(), "declaration order")
	assert.ElementsMatch(t, []string{"asthma_ever", "asthma_ever_date", "adult", "risk", PopulationID}, nodeIDs(sub.Nodes()))

	only, err := plan.Select("asthma_ever")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"asthma_ever", "adult", PopulationID}, nodeIDs(only.Nodes()))

	p := testutil.NewPatient("1").Born("1980-05-01").
		Event("2019-03-01", core.SystemSNOMED, "195967001").
		Build()
	c := only.Evaluate(p)
	assert.True(t, c.Included())
	assert.Equal(t, []core.Value{core.Bool(true)}, c.Row())

	same, err := plan.Select()
	require.NoError(t, err)
	assert.Same(t, plan, same)

	_, err = plan.Select("nope")
	require.ErrorContains(t, err, `unknown column "nope"`)
	_, err = plan.Select(PopulationID)
	require.Error(t, err, "the population filter is not a column")
}
