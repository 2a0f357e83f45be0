// Package config loads the leapcohort CLI configuration.
//
// Values are layered, lowest precedence first: built-in defaults, the
// leapcohort.yaml project file, LEAPCOHORT_* environment variables and
// finally command-line flags that were explicitly set. Relative paths are
// resolved against the project root, the directory holding the config
// file.
package config

import (
	intconfig "github.com/leapstack-labs/leapcohort/internal/config"
)

// TargetConfig is the event store database configuration.
type TargetConfig = intconfig.TargetConfig

// Config holds all CLI configuration options.
type Config struct {
	StudyFile    string               `koanf:"study"`
	DatesFile    string               `koanf:"dates"`
	OutputPath   string               `koanf:"output_path"`
	TableFormat  string               `koanf:"format"`
	NullMarker   string               `koanf:"null_marker"`
	StatePath    string               `koanf:"state_path"`
	SeedsDir     string               `koanf:"seeds_dir"`
	Workers      int                  `koanf:"workers"`
	BatchSize    int                  `koanf:"batch_size"`
	Verbose      bool                 `koanf:"verbose"`
	OutputFormat string               `koanf:"output"`
	Environment  string               `koanf:"environment"`
	Target       *TargetConfig        `koanf:"target"`
	Dummy        DummyConfig          `koanf:"dummy"`
	Environments map[string]EnvConfig `koanf:"environments"`

	// ProjectRoot is the directory relative paths are resolved against.
	ProjectRoot string `koanf:"-"`
	// ConfigFile is the config file that was read, if any.
	ConfigFile string `koanf:"-"`
}

// DummyConfig configures synthetic data generation.
type DummyConfig struct {
	Patients int    `koanf:"patients"`
	Seed     uint64 `koanf:"seed"`
}

// EnvConfig holds environment-specific overrides.
type EnvConfig struct {
	Target *TargetConfig `koanf:"target"`
}

// Default configuration values.
const (
	DefaultStudyFile  = intconfig.DefaultStudyFile
	DefaultDatesFile  = intconfig.DefaultDatesFile
	DefaultOutputFile = intconfig.DefaultOutputFile
	DefaultNullMarker = intconfig.DefaultNullMarker
	DefaultStateFile  = intconfig.DefaultStateFile
	DefaultDatabase   = intconfig.DefaultDatabase
	DefaultSeedsDir   = "seeds"
	DefaultOutput     = "auto" // Auto-detect: TTY=text, non-TTY=markdown
)

// ConfigFileNames are searched for, in order, in the project root.
var ConfigFileNames = []string{"leapcohort.yaml", "leapcohort.yml"}
