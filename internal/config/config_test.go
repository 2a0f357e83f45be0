package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		typ     string
		wantErr bool
	}{
		{"sqlite", "sqlite", false},
		{"duckdb upper case", "DuckDB", false},
		{"postgres", "postgres", false},
		{"empty", "", true},
		{"unknown", "snowflake", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&TargetConfig{Type: tt.typ}).Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}

	err := (&TargetConfig{Type: "snowflake"}).Validate()
	var ute *UnknownTargetError
	require.ErrorAs(t, err, &ute)
	assert.Contains(t, err.Error(), "sqlite, duckdb, postgres")
}

func TestApplyTargetDefaults(t *testing.T) {
	pg := &TargetConfig{Type: "Postgres"}
	ApplyTargetDefaults(pg)
	assert.Equal(t, TargetPostgres, pg.Type)
	assert.Equal(t, 5432, pg.Port)
	assert.Equal(t, "localhost", pg.Host)
	assert.Equal(t, "public", pg.Schema)

	lite := &TargetConfig{Type: "sqlite"}
	ApplyTargetDefaults(lite)
	assert.Empty(t, lite.Schema)
	assert.Zero(t, lite.Port)

	ApplyTargetDefaults(nil)
}

func TestMergeTargetConfig(t *testing.T) {
	base := &TargetConfig{Type: "postgres", Host: "db", Port: 5432, Options: map[string]string{"sslmode": "disable"}}
	over := &TargetConfig{Host: "replica", Options: map[string]string{"connect_timeout": "5"}}

	got := MergeTargetConfig(base, over)
	assert.Equal(t, "postgres", got.Type)
	assert.Equal(t, "replica", got.Host)
	assert.Equal(t, 5432, got.Port)
	assert.Equal(t, map[string]string{"sslmode": "disable", "connect_timeout": "5"}, got.Options)
	assert.Equal(t, "db", base.Host, "base must not be modified")

	fresh := MergeTargetConfig(nil, over)
	assert.Equal(t, "replica", fresh.Host)
}

func TestTargetConfig_ExpandEnv(t *testing.T) {
	t.Setenv("COHORT_DB_PASSWORD", "s3cret")
	tc := &TargetConfig{Password: "${COHORT_DB_PASSWORD}", Options: map[string]string{"sslmode": "require"}}
	tc.ExpandEnv()
	assert.Equal(t, "s3cret", tc.Password)
	assert.Equal(t, "require", tc.Options["sslmode"])
}
