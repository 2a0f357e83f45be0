// Package store provides the clinical event stores the engine reads
// patients from: an in-memory store and a SQL store over SQLite, DuckDB
// or PostgreSQL sharing one portable schema.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"  // postgres driver
	_ "github.com/marcboeker/go-duckdb" // duckdb driver
	_ "modernc.org/sqlite"              // SQLite driver (pure Go)

	"github.com/leapstack-labs/leapcohort/internal/config"
)

// ErrPatientNotFound is returned by Patient for an unknown id.
var ErrPatientNotFound = errors.New("patient not found")

// Open connects to the configured target and returns a SQL store. The
// schema is not created; call InitSchema for a fresh database.
func Open(ctx context.Context, cfg config.TargetConfig, logger *slog.Logger) (*SQLStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := dialectFor(cfg.Type)

	dsn := cfg.Database
	switch d.name {
	case config.TargetPostgres:
		dsn = buildPostgresDSN(cfg)
	case config.TargetSQLite, config.TargetDuckDB:
		if dsn == "" {
			dsn = ":memory:"
		}
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger.Debug("connecting to event store", slog.String("type", d.name), slog.String("database", cfg.Database), slog.String("host", cfg.Host))

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", d.name, err)
	}
	if d.name == config.TargetSQLite && dsn == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", d.name, err)
	}

	return NewSQLStore(db, d.name, logger), nil
}

// buildPostgresDSN constructs a PostgreSQL connection string.
func buildPostgresDSN(cfg config.TargetConfig) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	sslmode := "disable"
	if mode, ok := cfg.Options["sslmode"]; ok {
		sslmode = mode
	}

	parts := []string{
		fmt.Sprintf("host=%s", host),
		fmt.Sprintf("port=%d", port),
		fmt.Sprintf("sslmode=%s", sslmode),
	}
	if cfg.User != "" {
		parts = append(parts, fmt.Sprintf("user=%s", cfg.User))
	}
	if cfg.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", cfg.Password))
	}
	if cfg.Database != "" {
		parts = append(parts, fmt.Sprintf("dbname=%s", cfg.Database))
	}
	if cfg.Schema != "" {
		parts = append(parts, fmt.Sprintf("search_path=%s", cfg.Schema))
	}
	for k, v := range cfg.Options {
		if k != "sslmode" {
			parts = append(parts, fmt.Sprintf("%s=%s", k, v))
		}
	}
	return strings.Join(parts, " ")
}

// dialect captures the driver differences the SQL store cares about.
type dialect struct {
	name        string
	driver      string
	numberedArg bool // $1, $2 instead of ?
}

func dialectFor(target string) dialect {
	switch strings.ToLower(target) {
	case config.TargetPostgres:
		return dialect{name: config.TargetPostgres, driver: "pgx", numberedArg: true}
	case config.TargetDuckDB:
		return dialect{name: config.TargetDuckDB, driver: "duckdb"}
	default:
		return dialect{name: config.TargetSQLite, driver: "sqlite"}
	}
}

// rebind rewrites ? placeholders for dialects with numbered arguments.
func (d dialect) rebind(query string) string {
	if !d.numberedArg {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
