package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapcohort/pkg/core"
)

func values(m map[string]core.Value) Lookup {
	return LookupFunc(func(name string) core.Value {
		if v, ok := m[name]; ok {
			return v
		}
		return core.Null(core.KindBinary)
	})
}

func TestLexer(t *testing.T) {
	l := NewLexer(`a AND NOT b_2 != 'x''y' <> "z" >= 1.5 <= .5 ( ) + - * / = <`)
	want := []TokenType{
		TOKEN_IDENT, TOKEN_AND, TOKEN_NOT, TOKEN_IDENT, TOKEN_NE, TOKEN_STRING, TOKEN_NE, TOKEN_STRING,
		TOKEN_GE, TOKEN_NUMBER, TOKEN_LE, TOKEN_NUMBER, TOKEN_LPAREN, TOKEN_RPAREN,
		TOKEN_PLUS, TOKEN_MINUS, TOKEN_STAR, TOKEN_SLASH, TOKEN_EQ, TOKEN_LT, TOKEN_EOF,
	}
	for i, w := range want {
		tok := l.NextToken()
		require.Equal(t, w, tok.Type, "token %d (%q)", i, tok.Literal)
		if i == 5 {
			assert.Equal(t, "x'y", tok.Literal)
		}
	}
}

func TestParse_Precedence(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"a OR b AND c", "(a OR (b AND c))"},
		{"NOT a AND b", "((NOT a) AND b)"},
		{"NOT a = 1", "(NOT (a = 1))"},
		{"imd >= 32800*1/5", "(imd >= ((32800 * 1) / 5))"},
		{"(a OR b) AND c", "((a OR b) AND c)"},
		{"age >= 18 and age < 40", "((age >= 18) AND (age < 40))"},
		{"x - 1 - 2", "((x - 1) - 2)"},
		{"-x + 3", "((-x) + 3)"},
		{"-3", "-3"},
		{`eth = "1"`, "(eth = '1')"},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			n, err := ParseExpr(tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n.String())
		})
	}
}

func TestParse_Errors(t *testing.T) {
	for _, src := range []string{"", "a AND", "(a OR b", "a b", "'open", "a ! b", "= 1", "a $ b"} {
		t.Run(src, func(t *testing.T) {
			_, err := Parse(src)
			var pe *ParseError
			require.ErrorAs(t, err, &pe)
		})
	}
}

func TestReferences(t *testing.T) {
	e := MustParse("(covid_admission AND age >= 18) OR NOT covid_admission OR died")
	assert.Equal(t, []string{"covid_admission", "age", "died"}, e.References())
	assert.Equal(t, "(covid_admission AND age >= 18) OR NOT covid_admission OR died", e.String())
}

func TestEval_NullCollapse(t *testing.T) {
	l := values(map[string]core.Value{
		"yes":     core.Bool(true),
		"no":      core.Bool(false),
		"missing": core.Null(core.KindBinary),
		"age":     core.Null(core.KindNumeric),
	})

	tests := []struct {
		src  string
		want Tri
	}{
		{"yes AND missing", False},
		{"yes OR missing", True},
		{"NOT missing", True},
		{"age >= 18", Unknown},
		{"NOT age >= 18", Unknown},
		{"yes AND age >= 18", Unknown},
		{"no AND age >= 18", False},
		{"yes OR age >= 18", True},
		{"no OR age >= 18", Unknown},
		{"age + 1 > 0", Unknown},
		{"age = age", Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			e := MustParse(tt.src)
			assert.Equal(t, tt.want, e.Eval(l))
			assert.Equal(t, tt.want == True, e.Holds(l))
		})
	}
}

func TestEval_Comparisons(t *testing.T) {
	l := values(map[string]core.Value{
		"imd":       core.Numeric(5000),
		"age":       core.Numeric(45),
		"ethnicity": core.Category("3"),
		"stp":       core.Category("E54000005"),
		"admitted":  core.DateValue(core.MustDate("2021-03-01")),
		"died":      core.DateValue(core.MustDate("2021-04-01")),
		"count":     core.Count(2),
		"flag":      core.Bool(true),
	})

	for src, want := range map[string]bool{
		"imd >= 0 AND imd < 32800*1/5":         true,
		"imd >= 32800*1/5":                     false,
		"age >= 40 AND age < 50":               true,
		"ethnicity = '3'":                      true,
		"ethnicity = 3":                        true,
		`ethnicity != "3"`:                     false,
		"stp = 'E54000005'":                    true,
		"stp = 5":                              false,
		"stp != 5":                             true,
		"admitted < died":                      true,
		"admitted >= '2021-03-01'":             true,
		"admitted > '2021-03-01'":              false,
		"count > 1":                            true,
		"flag = 1":                             true,
		"flag AND count":                       true,
		"TRUE AND NOT FALSE":                   true,
		"(age - 5) / 10 = 4":                   true,
		"age / 0 = 1":                          false,
		"ethnicity <> '1' AND ethnicity < '4'": true,
	} {
		assert.Equal(t, want, MustParse(src).Holds(l), src)
	}
}

func TestEval_ShortCircuit(t *testing.T) {
	calls := 0
	l := LookupFunc(func(name string) core.Value {
		calls++
		return core.Bool(name == "a")
	})
	assert.True(t, MustParse("a OR b").Holds(l))
	assert.Equal(t, 1, calls)
}

func TestTri(t *testing.T) {
	all := []Tri{True, False, Unknown}
	for _, a := range all {
		for _, b := range all {
			assert.Equal(t, a.And(b).Not(), a.Not().Or(b.Not()), "de Morgan %s %s", a, b)
		}
	}
	assert.Equal(t, Unknown, Unknown.Not())
}

func TestCheck(t *testing.T) {
	kinds := map[string]core.Kind{
		"admitted": core.KindDate,
		"age":      core.KindNumeric,
		"eth":      core.KindCategory,
	}
	kindOf := func(name string) (core.Kind, bool) {
		k, ok := kinds[name]
		return k, ok
	}

	assert.NoError(t, MustParse("admitted AND age > 18 AND eth = '1'").Check(kindOf))
	assert.NoError(t, MustParse("admitted > '2020-01-01'").Check(kindOf))

	var te *TypeError
	assert.ErrorAs(t, MustParse("admitted > 5").Check(kindOf), &te)
	assert.ErrorAs(t, MustParse("admitted > 'soon'").Check(kindOf), &te)
	assert.ErrorAs(t, MustParse("admitted + 1 > 0").Check(kindOf), &te)
}
