package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/leapstack-labs/leapcohort/internal/config"
	"github.com/leapstack-labs/leapcohort/pkg/core"
)

//go:embed schema.sql
var schemaSQL string

// Tables lists the event store tables in load order.
var Tables = []string{"patients", "death_causes", "registrations", "addresses", "events"}

// SQLStore reads and writes patients in a SQL database. Dates are stored
// as YYYY-MM-DD text so that one schema serves every dialect.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
}

// NewSQLStore wraps an open connection. target is sqlite, duckdb or postgres.
func NewSQLStore(db *sql.DB, target string, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SQLStore{db: db, dialect: dialectFor(target), logger: logger}
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	if s.db != nil {
		s.logger.Debug("closing database connection")
		return s.db.Close()
	}
	return nil
}

// DB returns the underlying connection.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// InitSchema creates the event store tables if they do not exist.
func (s *SQLStore) InitSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// PatientIDs returns every patient id ordered by id.
func (s *SQLStore) PatientIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM patients ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query patients: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan patient id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating patients: %w", err)
	}
	return ids, nil
}

// Patient loads one patient with registrations, addresses, death and
// events, events sorted by date.
func (s *SQLStore) Patient(ctx context.Context, id string) (*core.Patient, error) {
	p := &core.Patient{ID: id}

	var sex, dob, deathDate, underlying sql.NullString
	err := s.db.QueryRowContext(ctx,
		s.dialect.rebind(`SELECT sex, date_of_birth, death_date, underlying_cause FROM patients WHERE id = ?`), id,
	).Scan(&sex, &dob, &deathDate, &underlying)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPatientNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query patient %s: %w", id, err)
	}
	p.Sex = sex.String
	if p.DateOfBirth, err = parseNullDate(dob); err != nil {
		return nil, fmt.Errorf("patient %s: date_of_birth: %w", id, err)
	}
	if deathDate.Valid {
		d, err := core.ParseDate(deathDate.String)
		if err != nil {
			return nil, fmt.Errorf("patient %s: death_date: %w", id, err)
		}
		p.Death = &core.Death{Date: d, UnderlyingCause: underlying.String}
		if p.Death.Causes, err = s.deathCauses(ctx, id); err != nil {
			return nil, err
		}
	}

	if p.Registrations, err = s.registrations(ctx, id); err != nil {
		return nil, err
	}
	if p.Addresses, err = s.addresses(ctx, id); err != nil {
		return nil, err
	}
	if p.Events, err = s.events(ctx, id); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *SQLStore) deathCauses(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`SELECT code FROM death_causes WHERE patient_id = ?`), id)
	if err != nil {
		return nil, fmt.Errorf("failed to query death causes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var causes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan death cause: %w", err)
		}
		causes = append(causes, code)
	}
	return causes, rows.Err()
}

func (s *SQLStore) registrations(ctx context.Context, id string) ([]core.Registration, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(
		`SELECT start_date, end_date, practice_stp, practice_region FROM registrations WHERE patient_id = ? ORDER BY start_date`), id)
	if err != nil {
		return nil, fmt.Errorf("failed to query registrations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []core.Registration
	for rows.Next() {
		var start string
		var end, stp, region sql.NullString
		if err := rows.Scan(&start, &end, &stp, &region); err != nil {
			return nil, fmt.Errorf("failed to scan registration: %w", err)
		}
		r := core.Registration{PracticeSTP: stp.String, PracticeRegion: region.String}
		if r.Start, err = core.ParseDate(start); err != nil {
			return nil, fmt.Errorf("patient %s: registration start: %w", id, err)
		}
		if r.End, err = parseNullDate(end); err != nil {
			return nil, fmt.Errorf("patient %s: registration end: %w", id, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) addresses(ctx context.Context, id string) ([]core.Address, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(
		`SELECT start_date, end_date, imd, rural_urban FROM addresses WHERE patient_id = ? ORDER BY start_date`), id)
	if err != nil {
		return nil, fmt.Errorf("failed to query addresses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []core.Address
	for rows.Next() {
		var start string
		var end sql.NullString
		var imd, ruralUrban sql.NullInt64
		if err := rows.Scan(&start, &end, &imd, &ruralUrban); err != nil {
			return nil, fmt.Errorf("failed to scan address: %w", err)
		}
		a := core.Address{IMD: -1}
		if imd.Valid {
			a.IMD = int(imd.Int64)
		}
		if ruralUrban.Valid {
			a.RuralUrban = int(ruralUrban.Int64)
		}
		if a.Start, err = core.ParseDate(start); err != nil {
			return nil, fmt.Errorf("patient %s: address start: %w", id, err)
		}
		if a.End, err = parseNullDate(end); err != nil {
			return nil, fmt.Errorf("patient %s: address end: %w", id, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const eventColumns = `domain, code, system, event_date, end_date, numeric_value, raw_value, admission_method, classification, is_primary, ` +
	`pathogen, test_result, product, target_disease, indication, risk_group`

func (s *SQLStore) events(ctx context.Context, id string) ([]core.Event, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(
		`SELECT `+eventColumns+` FROM events WHERE patient_id = ? ORDER BY event_date`), id)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []core.Event
	for rows.Next() {
		var domain, code, system, date string
		var end, raw, method, class sql.NullString
		var pathogen, result, product, disease, indication, risk sql.NullString
		var value sql.NullFloat64
		var primary int64
		if err := rows.Scan(&domain, &code, &system, &date, &end, &value, &raw, &method, &class, &primary,
			&pathogen, &result, &product, &disease, &indication, &risk); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e := core.Event{
			PatientID:       id,
			Domain:          core.Domain(domain),
			Code:            code,
			System:          core.CodingSystem(system),
			RawValue:        raw.String,
			AdmissionMethod: method.String,
			Classification:  class.String,
			Primary:         primary != 0,
			Pathogen:        pathogen.String,
			Result:          core.TestResult(result.String),
			Product:         product.String,
			TargetDisease:   disease.String,
			Indication:      indication.String,
			RiskGroup:       risk.String,
		}
		if value.Valid {
			v := value.Float64
			e.NumericValue = &v
		}
		if e.Date, err = core.ParseDate(date); err != nil {
			return nil, fmt.Errorf("patient %s: event date: %w", id, err)
		}
		if e.EndDate, err = parseNullDate(end); err != nil {
			return nil, fmt.Errorf("patient %s: event end date: %w", id, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	core.SortEvents(out)
	return out, nil
}

// SavePatients writes patients in one transaction, replacing any stored
// record with the same id.
func (s *SQLStore) SavePatients(ctx context.Context, patients []*core.Patient) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range patients {
		if err := s.savePatient(ctx, tx, p); err != nil {
			return fmt.Errorf("failed to save patient %s: %w", p.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit patients: %w", err)
	}
	s.logger.Debug("patients saved", "count", len(patients))
	return nil
}

func (s *SQLStore) savePatient(ctx context.Context, tx *sql.Tx, p *core.Patient) error {
	exec := func(query string, args ...any) error {
		_, err := tx.ExecContext(ctx, s.dialect.rebind(query), args...)
		return err
	}

	for _, table := range []string{"death_causes", "registrations", "addresses", "events"} {
		if err := exec(`DELETE FROM `+table+` WHERE patient_id = ?`, p.ID); err != nil {
			return err
		}
	}
	if err := exec(`DELETE FROM patients WHERE id = ?`, p.ID); err != nil {
		return err
	}

	var deathDate, underlying any
	if p.Death != nil {
		deathDate = core.FormatDate(p.Death.Date)
		underlying = nullable(p.Death.UnderlyingCause)
	}
	if err := exec(`INSERT INTO patients (id, sex, date_of_birth, death_date, underlying_cause) VALUES (?, ?, ?, ?, ?)`,
		p.ID, nullable(p.Sex), nullableDate(p.DateOfBirth), deathDate, underlying); err != nil {
		return err
	}

	if p.Death != nil {
		for _, code := range p.Death.Causes {
			if err := exec(`INSERT INTO death_causes (patient_id, code) VALUES (?, ?)`, p.ID, code); err != nil {
				return err
			}
		}
	}
	for _, r := range p.Registrations {
		if err := exec(`INSERT INTO registrations (patient_id, start_date, end_date, practice_stp, practice_region) VALUES (?, ?, ?, ?, ?)`,
			p.ID, core.FormatDate(r.Start), nullableDate(r.End), nullable(r.PracticeSTP), nullable(r.PracticeRegion)); err != nil {
			return err
		}
	}
	for _, a := range p.Addresses {
		var imd, ruralUrban any
		if a.IMD >= 0 {
			imd = a.IMD
		}
		if a.RuralUrban > 0 {
			ruralUrban = a.RuralUrban
		}
		if err := exec(`INSERT INTO addresses (patient_id, start_date, end_date, imd, rural_urban) VALUES (?, ?, ?, ?, ?)`,
			p.ID, core.FormatDate(a.Start), nullableDate(a.End), imd, ruralUrban); err != nil {
			return err
		}
	}
	for i := range p.Events {
		e := &p.Events[i]
		var value any
		if e.NumericValue != nil {
			value = *e.NumericValue
		}
		primary := 0
		if e.Primary {
			primary = 1
		}
		if err := exec(`INSERT INTO events (patient_id, `+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, string(e.Domain), e.Code, string(e.System), core.FormatDate(e.Date), nullableDate(e.EndDate),
			value, nullable(e.RawValue), nullable(e.AdmissionMethod), nullable(e.Classification), primary,
			nullable(e.Pathogen), nullable(string(e.Result)), nullable(e.Product),
			nullable(e.TargetDisease), nullable(e.Indication), nullable(e.RiskGroup)); err != nil {
			return err
		}
	}
	return nil
}

// ImportCSV bulk-loads a CSV with a header row into one of Tables. Only
// DuckDB supports it, through read_csv_auto.
func (s *SQLStore) ImportCSV(ctx context.Context, table, path string) error {
	if s.dialect.name != config.TargetDuckDB {
		return fmt.Errorf("CSV import needs a duckdb target, not %s", s.dialect.name)
	}
	known := false
	for _, t := range Tables {
		known = known || t == table
	}
	if !known {
		return fmt.Errorf("unknown table %q (expected one of %s)", table, strings.Join(Tables, ", "))
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}
	query := fmt.Sprintf( //nolint:gosec // table is checked against Tables
		"INSERT INTO %s BY NAME SELECT * FROM read_csv_auto('%s', header=true)",
		table, strings.ReplaceAll(absPath, "'", "''"),
	)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to load CSV into %s: %w", table, err)
	}
	s.logger.Debug("csv imported", "table", table, "path", absPath)
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return core.FormatDate(t)
}

func parseNullDate(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	return core.ParseDate(s.String)
}

var (
	_ core.EventStore    = (*SQLStore)(nil)
	_ core.PatientWriter = (*SQLStore)(nil)
)
