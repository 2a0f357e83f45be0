package codelist

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapcohort/pkg/core"
)

const ethnicityCSV = `Code,Grouping_6,Description
1MA0.,1,White British
XaJQj,2,Mixed
XaJSb,3,Indian
1MA0.,2,duplicate keeps first
,4,blank code skipped
`

func TestLoad(t *testing.T) {
	t.Run("with category column", func(t *testing.T) {
		c, err := Load(strings.NewReader(ethnicityCSV), Source{
			Name: "ethnicity", System: core.SystemCTV3, Column: "Code", CategoryColumn: "Grouping_6",
		})
		require.NoError(t, err)

		assert.Equal(t, 3, c.Len())
		assert.True(t, c.HasCategories())
		e, ok := c.Lookup(core.SystemCTV3, "1MA0.")
		require.True(t, ok)
		assert.Equal(t, "1", e.Category)
		assert.Equal(t, []string{"1", "2", "3"}, c.Categories())
	})

	t.Run("code column only", func(t *testing.T) {
		c, err := Load(strings.NewReader("code\nN183\nN184\n"), Source{
			Name: "ckd", System: core.SystemICD10, Column: "code",
		})
		require.NoError(t, err)
		assert.False(t, c.HasCategories())
		assert.True(t, c.Contains(core.SystemICD10, "N184"))
	})

	t.Run("missing column", func(t *testing.T) {
		_, err := Load(strings.NewReader("code\nN183\n"), Source{
			Name: "ckd", System: core.SystemICD10, Column: "CTV3ID",
		})
		var le *core.LoadError
		require.ErrorAs(t, err, &le)
		assert.Contains(t, le.Error(), "CTV3ID")
	})

	t.Run("missing category column", func(t *testing.T) {
		_, err := Load(strings.NewReader("code\nN183\n"), Source{
			Name: "ckd", System: core.SystemICD10, Column: "code", CategoryColumn: "cat",
		})
		var le *core.LoadError
		require.ErrorAs(t, err, &le)
	})

	t.Run("empty file", func(t *testing.T) {
		_, err := Load(strings.NewReader(""), Source{Name: "x", System: core.SystemSNOMED, Column: "code"})
		var le *core.LoadError
		require.ErrorAs(t, err, &le)
	})

	t.Run("malformed quoting", func(t *testing.T) {
		_, err := Load(strings.NewReader("code\n\"N18\n"), Source{Name: "x", System: core.SystemICD10, Column: "code"})
		var le *core.LoadError
		require.ErrorAs(t, err, &le)
	})
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ckd.csv")
	require.NoError(t, os.WriteFile(path, []byte("code\nN183\n"), 0o600))

	c, err := LoadFile(path, Source{Name: "ckd", System: core.SystemICD10, Column: "code"})
	require.NoError(t, err)
	assert.Equal(t, "ckd", c.Name())

	_, err = LoadFile(filepath.Join(dir, "missing.csv"), Source{Name: "m", System: core.SystemICD10, Column: "code"})
	var le *core.LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, filepath.Join(dir, "missing.csv"), le.Source)
}

func TestCombine_Membership(t *testing.T) {
	a, err := New("a", core.SystemICD10, "J12", "J13")
	require.NoError(t, err)
	b, err := New("b", core.SystemSNOMED, "233604007")
	require.NoError(t, err)

	combined, conflicts, err := Combine("pneumonia", a, b)
	require.NoError(t, err)
	assert.Empty(t, conflicts)

	// every member of either input matches
	for _, l := range []*Codelist{a, b} {
		for _, e := range l.Entries() {
			assert.True(t, combined.Contains(e.System, e.Code), "%s/%s", e.System, e.Code)
		}
	}
	// nothing else does
	assert.False(t, combined.Contains(core.SystemICD10, "J18"))
	// no cross-system matching
	assert.False(t, combined.Contains(core.SystemSNOMED, "J12"))
	assert.Equal(t, []core.CodingSystem{core.SystemICD10, core.SystemSNOMED}, combined.Systems())
}

func TestCombine_FirstSeenCategory(t *testing.T) {
	first, err := Load(strings.NewReader("code,cat\nX1,red\nX2,red\n"), Source{
		Name: "first", System: core.SystemCTV3, Column: "code", CategoryColumn: "cat",
	})
	require.NoError(t, err)
	second, err := Load(strings.NewReader("code,cat\nX2,blue\nX3,blue\n"), Source{
		Name: "second", System: core.SystemCTV3, Column: "code", CategoryColumn: "cat",
	})
	require.NoError(t, err)

	combined, conflicts, err := Combine("both", first, second)
	require.NoError(t, err)

	e, ok := combined.Lookup(core.SystemCTV3, "X2")
	require.True(t, ok)
	assert.Equal(t, "red", e.Category)
	require.Len(t, conflicts, 1)
	assert.Equal(t, Conflict{Code: "X2", System: core.SystemCTV3, Kept: "red", Dropped: "blue", DroppedFrom: "second"}, conflicts[0])
	assert.Equal(t, 3, combined.Len())
}

func TestCombine_SameCodeDifferentSystems(t *testing.T) {
	a, _ := New("a", core.SystemSNOMED, "12345")
	b, _ := New("b", core.SystemDMD, "12345")

	_, _, err := Combine("mixed", a, b)
	var le *core.LoadError
	require.True(t, errors.As(err, &le))
	assert.Contains(t, err.Error(), "12345")
}

func TestFilterByCategory(t *testing.T) {
	c, err := Load(strings.NewReader(ethnicityCSV), Source{
		Name: "ethnicity", System: core.SystemCTV3, Column: "Code", CategoryColumn: "Grouping_6",
	})
	require.NoError(t, err)

	filtered, err := FilterByCategory("asian", c, "3")
	require.NoError(t, err)
	assert.Equal(t, 1, filtered.Len())
	assert.True(t, filtered.Contains(core.SystemCTV3, "XaJSb"))
	assert.False(t, filtered.Contains(core.SystemCTV3, "1MA0."))

	plain, _ := New("plain", core.SystemICD10, "N183")
	_, err = FilterByCategory("none", plain, "1")
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	b := NewBuilder()
	a, _ := New("a", core.SystemICD10, "N183")
	z, _ := New("z", core.SystemICD10, "N184")
	require.NoError(t, b.Add(z))
	require.NoError(t, b.Add(a))
	assert.Error(t, b.Add(a))

	got, ok := b.Get("z")
	require.True(t, ok)
	assert.Same(t, z, got)

	r := b.Build()
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"z", "a"}, r.Names())
	assert.Equal(t, []string{"a", "z"}, r.SortedNames())
	_, ok = r.Get("missing")
	assert.False(t, ok)
}
