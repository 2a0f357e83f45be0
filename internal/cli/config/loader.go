package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	intconfig "github.com/leapstack-labs/leapcohort/internal/config"
)

// EnvPrefix is the prefix of configuration environment variables. A
// double underscore descends into a section: LEAPCOHORT_TARGET__HOST sets
// target.host.
const EnvPrefix = "LEAPCOHORT_"

// maxUpwardSearchLevels limits how far up the directory tree to search for config files.
const maxUpwardSearchLevels = 10

// flagKeys maps flag names whose config key differs from the snake_case
// spelling of the flag.
var flagKeys = map[string]string{
	"state":    "state_path",
	"out":      "output_path",
	"database": "target.database",
	"env":      "environment",
	"patients": "dummy.patients",
	"seed":     "dummy.seed",
}

// configExistsIn returns the config file in dir, or "".
func configExistsIn(dir string) string {
	for _, name := range ConfigFileNames {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// findConfigUpward searches upward from startDir for a config file.
func findConfigUpward(startDir string) string {
	dir := startDir
	for range maxUpwardSearchLevels {
		if path := configExistsIn(dir); path != "" {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// resolvePathRelativeTo resolves a path relative to baseDir if it's not
// absolute. "-" (stdout) and ":memory:" are kept.
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || path == ":memory:" || path == "-" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// LoadConfig loads configuration from defaults, the config file,
// environment variables and changed flags. cfgFile may be empty to search
// the working directory and its parents. envOverride selects an entry of
// environments, taking precedence over the environment key.
func LoadConfig(cfgFile, envOverride string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(map[string]any{
		"study":           DefaultStudyFile,
		"dates":           DefaultDatesFile,
		"output_path":     DefaultOutputFile,
		"null_marker":     DefaultNullMarker,
		"state_path":      DefaultStateFile,
		"seeds_dir":       DefaultSeedsDir,
		"output":          DefaultOutput,
		"verbose":         false,
		"target.type":     intconfig.TargetSQLite,
		"target.database": DefaultDatabase,
		"dummy.patients":  intconfig.DefaultPatients,
		"dummy.seed":      intconfig.DefaultSeed,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	if cfgFile == "" {
		cfgFile = findConfigUpward(cwd)
	}
	projectRoot := cwd
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
		if abs, err := filepath.Abs(cfgFile); err == nil {
			projectRoot = filepath.Dir(abs)
		}
	}

	// 3. Environment variables
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags, only those explicitly set. Paths given on the command line
	// are relative to the working directory, not the project root.
	flagPaths := make(map[string]bool)
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				key = strings.ReplaceAll(f.Name, "-", "_")
			}
			flagPaths[key] = true
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.ProjectRoot = projectRoot
	cfg.ConfigFile = cfgFile

	envName := cfg.Environment
	if envOverride != "" {
		envName = envOverride
	}
	if envName != "" {
		envCfg, ok := cfg.Environments[envName]
		if !ok {
			return nil, fmt.Errorf("unknown environment %q", envName)
		}
		if envCfg.Target != nil {
			cfg.Target = intconfig.MergeTargetConfig(cfg.Target, envCfg.Target)
		}
		cfg.Environment = envName
	}

	cfg.Target.ExpandEnv()
	intconfig.ApplyTargetDefaults(cfg.Target)
	if err := cfg.Target.Validate(); err != nil {
		return nil, fmt.Errorf("invalid target configuration: %w", err)
	}

	resolve := func(key string, path *string) {
		base := projectRoot
		if flagPaths[key] {
			base = cwd
		}
		*path = resolvePathRelativeTo(*path, base)
	}
	resolve("study", &cfg.StudyFile)
	resolve("dates", &cfg.DatesFile)
	resolve("output_path", &cfg.OutputPath)
	resolve("state_path", &cfg.StatePath)
	resolve("seeds_dir", &cfg.SeedsDir)
	if cfg.Target.Type != intconfig.TargetPostgres {
		resolve("target.database", &cfg.Target.Database)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that have no safe fallback.
func (c *Config) Validate() error {
	if c.StudyFile == "" {
		return fmt.Errorf("study is required")
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("batch_size must not be negative, got %d", c.BatchSize)
	}
	if c.Dummy.Patients < 0 {
		return fmt.Errorf("dummy.patients must not be negative, got %d", c.Dummy.Patients)
	}
	return nil
}

// Defaults returns the configuration used when none was loaded: every
// default, relative to the working directory.
func Defaults() *Config {
	return &Config{
		StudyFile:    DefaultStudyFile,
		DatesFile:    DefaultDatesFile,
		OutputPath:   DefaultOutputFile,
		NullMarker:   DefaultNullMarker,
		StatePath:    DefaultStateFile,
		SeedsDir:     DefaultSeedsDir,
		OutputFormat: DefaultOutput,
		Target:       &TargetConfig{Type: intconfig.TargetSQLite, Database: DefaultDatabase},
		Dummy:        DummyConfig{Patients: intconfig.DefaultPatients, Seed: intconfig.DefaultSeed},
		ProjectRoot:  ".",
	}
}

type configKey struct{}

// loggerKey is used to store logger in context.
type loggerKey struct{}

// WithConfig returns ctx carrying cfg and logger.
func WithConfig(ctx context.Context, cfg *Config, logger *slog.Logger) context.Context {
	ctx = context.WithValue(ctx, configKey{}, cfg)
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the configuration stored by WithConfig, or
// Defaults.
func FromContext(ctx context.Context) *Config {
	if ctx != nil {
		if c, ok := ctx.Value(configKey{}).(*Config); ok {
			return c
		}
	}
	return Defaults()
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
			return l
		}
	}
	// Return discard logger as safe fallback
	return slog.New(slog.DiscardHandler)
}
