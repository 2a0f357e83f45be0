package config

import "strings"

// Default configuration values.
const (
	DefaultStudyFile  = "study.yaml"
	DefaultDatesFile  = "study-dates.json"
	DefaultOutputFile = "output/input.csv"
	DefaultNullMarker = "NA"
	DefaultStateFile  = ".leapcohort/state.db"
	DefaultDatabase   = "cohort.db"
	DefaultPatients   = 1000
	DefaultSeed       = 1
)

// ApplyTargetDefaults applies default values to a TargetConfig based on the target type.
func ApplyTargetDefaults(t *TargetConfig) {
	if t == nil {
		return
	}
	t.Type = strings.ToLower(t.Type)

	switch t.Type {
	case TargetPostgres:
		if t.Port == 0 {
			t.Port = 5432
		}
		if t.Host == "" {
			t.Host = "localhost"
		}
		if t.Schema == "" {
			t.Schema = "public"
		}
	case TargetDuckDB:
		if t.Schema == "" {
			t.Schema = "main"
		}
	}
}
