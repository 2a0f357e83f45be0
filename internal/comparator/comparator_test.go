package comparator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		raw     string
		op      Op
		value   float64
		numeric bool
	}{
		{"~45", OpApprox, 45, true},
		{">=60", OpGreaterEqual, 60, true},
		{"45", OpNone, 45, true},
		{"<=1.5", OpLessEqual, 1.5, true},
		{"> 90", OpGreater, 90, true},
		{"<0.01", OpLess, 0.01, true},
		{"=7", OpEqual, 7, true},
		{" 12.25 ", OpNone, 12.25, true},
		{"-3", OpNone, -3, true},
		{"negative", OpNone, 0, false},
		{"~", OpNone, 0, false},
		{">=abc", OpNone, 0, false},
		{"", OpNone, 0, false},
		{"45 mmol/L", OpNone, 0, false},
		{"NaN", OpNone, 0, false},
		{"nan", OpNone, 0, false},
		{">=nan", OpNone, 0, false},
		{"Inf", OpNone, 0, false},
		{"-infinity", OpNone, 0, false},
		{"<+Inf", OpNone, 0, false},
		{"0x1p4", OpNone, 0, false},
		{"1e3", OpNone, 0, false},
		{"1_000", OpNone, 0, false},
		{".5", OpNone, 0.5, true},
		{"+7.", OpNone, 7, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := Parse(tt.raw)
			assert.Equal(t, tt.op, got.Op)
			assert.Equal(t, tt.numeric, got.Numeric)
			assert.Equal(t, tt.raw, got.Raw)
			if tt.numeric {
				assert.InDelta(t, tt.value, got.Value, 1e-9)
			}
		})
	}
}

func TestParseOp(t *testing.T) {
	for _, op := range append([]Op{OpNone}, Ops...) {
		got, ok := ParseOp(op.String())
		assert.True(t, ok, op.String())
		assert.Equal(t, op, got)
	}
	_, ok := ParseOp("!=")
	assert.False(t, ok)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "~45", Format(OpApprox, 45))
	assert.Equal(t, ">=60.5", Format(OpGreaterEqual, 60.5))
	assert.Equal(t, "12", Format(OpNone, 12))
	assert.Equal(t, Parse(Format(OpLess, 3)).Op, OpLess)
}
