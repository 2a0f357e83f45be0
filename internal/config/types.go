// Package config provides the configuration types shared by the CLI and
// the event store: database targets and their defaults.
package config

import (
	"fmt"
	"os"
	"strings"
)

// Target types.
const (
	TargetSQLite   = "sqlite"
	TargetDuckDB   = "duckdb"
	TargetPostgres = "postgres"
)

// SupportedTargets lists the event store backends.
var SupportedTargets = []string{TargetSQLite, TargetDuckDB, TargetPostgres}

// TargetConfig holds the event store database configuration.
type TargetConfig struct {
	Type string `koanf:"type"` // sqlite, duckdb, postgres

	// File-based databases (SQLite, DuckDB)
	Database string `koanf:"database"` // file path or database name

	// Network databases
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`

	// Common
	Schema string `koanf:"schema"`

	// Additional driver-specific options (e.g. sslmode)
	Options map[string]string `koanf:"options"`
}

// UnknownTargetError is returned for an unsupported target type.
type UnknownTargetError struct {
	Type string
}

func (e *UnknownTargetError) Error() string {
	return fmt.Sprintf("unknown target type %q (available: %s)", e.Type, strings.Join(SupportedTargets, ", "))
}

// Validate checks if the target configuration is valid.
func (t *TargetConfig) Validate() error {
	if t.Type == "" {
		return fmt.Errorf("target type is required")
	}
	for _, s := range SupportedTargets {
		if strings.EqualFold(t.Type, s) {
			return nil
		}
	}
	return &UnknownTargetError{Type: t.Type}
}

// ExpandEnv expands ${VAR} references in credentials and host fields so
// that passwords need not live in the config file.
func (t *TargetConfig) ExpandEnv() {
	t.Database = os.ExpandEnv(t.Database)
	t.Host = os.ExpandEnv(t.Host)
	t.User = os.ExpandEnv(t.User)
	t.Password = os.ExpandEnv(t.Password)
	for k, v := range t.Options {
		t.Options[k] = os.ExpandEnv(v)
	}
}

// MergeTargetConfig overlays the set fields of override on base.
func MergeTargetConfig(base, override *TargetConfig) *TargetConfig {
	if base == nil {
		c := *override
		return &c
	}
	out := *base
	if override.Type != "" {
		out.Type = override.Type
	}
	if override.Database != "" {
		out.Database = override.Database
	}
	if override.Host != "" {
		out.Host = override.Host
	}
	if override.Port != 0 {
		out.Port = override.Port
	}
	if override.User != "" {
		out.User = override.User
	}
	if override.Password != "" {
		out.Password = override.Password
	}
	if override.Schema != "" {
		out.Schema = override.Schema
	}
	if len(override.Options) > 0 {
		out.Options = make(map[string]string, len(base.Options)+len(override.Options))
		for k, v := range base.Options {
			out.Options[k] = v
		}
		for k, v := range override.Options {
			out.Options[k] = v
		}
	}
	return &out
}
