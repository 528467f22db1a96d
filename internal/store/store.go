// Package store persists topology snapshots and run history in SQLite or PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loykin/deploypipe/internal/common"
	"github.com/loykin/deploypipe/internal/retry"
	"github.com/loykin/deploypipe/internal/store/postgresql"
	"github.com/loykin/deploypipe/internal/store/sqlite"
	"github.com/loykin/deploypipe/pkg/runner"
	"github.com/loykin/deploypipe/pkg/topology"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Dialect isolates the SQL differences between drivers.
type Dialect interface {
	GetPlaceholder(index int) string
	ConvertBoolToStorage(b bool) interface{}
	ConvertTimeToStorage(t time.Time) interface{}
	ConvertTimeFromStorage(val interface{}) (time.Time, error)
	Connect(dsn string) (*sql.DB, error)
	GetEnsureStatements(topologies, runs string) []string
	GetDriverName() string
}

type Store struct {
	db      *sql.DB
	dialect Dialect
	tables  TableNames
	retry   *retry.Config
	logger  *common.Logger
}

// TopologySummary is one row of ListTopologies.
type TopologySummary struct {
	ID           string    `json:"id"`
	Environment  string    `json:"environment"`
	IsProduction bool      `json:"is_production"`
	Stages       []string  `json:"stages"`
	CreatedAt    time.Time `json:"created_at"`
}

// RunFilter narrows ListRuns. Zero fields match everything.
type RunFilter struct {
	TopologyID  string
	Environment string
	Status      runner.Status
	Limit       int
}

// Open connects using cfg and ensures the schema exists.
func Open(cfg Config) (*Store, error) {
	tables, err := cfg.Tables()
	if err != nil {
		return nil, err
	}

	var (
		dialect Dialect
		dsn     string
	)
	switch cfg.driver() {
	case DriverSqlite:
		dialect = sqlite.NewDialect()
		dsn = cfg.SQLite.GetDSN()
	case DriverPostgresql, "postgres":
		dialect = postgresql.NewDialect()
		dsn = cfg.Postgres.GetDSN()
		if dsn == "" {
			return nil, fmt.Errorf("postgresql store requires dsn or host")
		}
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}

	db, err := dialect.Connect(dsn)
	if err != nil {
		return nil, err
	}
	s := &Store{
		db:      db,
		dialect: dialect,
		tables:  tables,
		retry:   retry.DefaultRetryConfig(),
		logger:  common.GetLogger().WithStore(dialect.GetDriverName()),
	}
	if err := s.Ensure(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.logger.Debug("store opened", "topologies", tables.Topologies, "runs", tables.Runs)
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ensure creates the tables if they do not exist.
func (s *Store) Ensure(ctx context.Context) error {
	for _, q := range s.dialect.GetEnsureStatements(s.tables.Topologies, s.tables.Runs) {
		if _, err := s.exec(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Store) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return retry.WithRetryExec(ctx, s.retry, func() (sql.Result, error) {
		return s.db.ExecContext(ctx, q, args...)
	})
}

func (s *Store) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return retry.WithRetryQuery(ctx, s.retry, func() (*sql.Rows, error) {
		return s.db.QueryContext(ctx, q, args...)
	})
}

func (s *Store) placeholders(from, n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = s.dialect.GetPlaceholder(from + i)
	}
	return strings.Join(ph, ", ")
}

// SaveTopology inserts or replaces the snapshot with the same id.
func (s *Store) SaveTopology(ctx context.Context, snap topology.Snapshot) error {
	if snap.ID == "" {
		return fmt.Errorf("topology snapshot has no id")
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode topology: %w", err)
	}
	names := make([]string, 0, len(snap.Stages))
	for _, st := range snap.Stages {
		names = append(names, st.Name)
	}

	// #nosec G201 -- table identifier validated by Config.Tables; values are bind parameters
	q := fmt.Sprintf(`INSERT INTO %s (id, environment, is_production, stage_names, snapshot_json, created_at) VALUES (%s)
		ON CONFLICT (id) DO UPDATE SET environment = excluded.environment, is_production = excluded.is_production,
		stage_names = excluded.stage_names, snapshot_json = excluded.snapshot_json`,
		s.tables.Topologies, s.placeholders(1, 6))
	_, err = s.exec(ctx, q,
		snap.ID,
		snap.Environment.Name,
		s.dialect.ConvertBoolToStorage(snap.Environment.IsProduction),
		strings.Join(names, ","),
		string(body),
		s.dialect.ConvertTimeToStorage(snap.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("save topology %s: %w", snap.ID, err)
	}
	s.logger.Debug("topology saved", "topology_id", snap.ID, "environment", snap.Environment.Name)
	return nil
}

// LoadTopology returns the stored snapshot for id.
func (s *Store) LoadTopology(ctx context.Context, id string) (*topology.Snapshot, error) {
	// #nosec G201 -- table identifier validated by Config.Tables
	q := fmt.Sprintf("SELECT snapshot_json FROM %s WHERE id = %s", s.tables.Topologies, s.dialect.GetPlaceholder(1))
	var body string
	err := s.db.QueryRowContext(ctx, q, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("topology %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var snap topology.Snapshot
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		return nil, fmt.Errorf("decode topology %s: %w", id, err)
	}
	return &snap, nil
}

// ListTopologies returns stored topologies, newest first. An empty
// environment matches all.
func (s *Store) ListTopologies(ctx context.Context, environment string) ([]TopologySummary, error) {
	// #nosec G201 -- table identifier validated by Config.Tables
	q := fmt.Sprintf("SELECT id, environment, is_production, stage_names, created_at FROM %s", s.tables.Topologies)
	var args []any
	if environment != "" {
		q += " WHERE environment = " + s.dialect.GetPlaceholder(1)
		args = append(args, environment)
	}
	q += " ORDER BY created_at DESC"

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []TopologySummary
	for rows.Next() {
		var (
			sum     TopologySummary
			prod    interface{}
			stages  string
			created interface{}
		)
		if err := rows.Scan(&sum.ID, &sum.Environment, &prod, &stages, &created); err != nil {
			return nil, err
		}
		sum.IsProduction = boolFromStorage(prod)
		if stages != "" {
			sum.Stages = strings.Split(stages, ",")
		}
		if sum.CreatedAt, err = s.dialect.ConvertTimeFromStorage(created); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// RecordRun stores a finished run. It satisfies runner.RunRecorder.
func (s *Store) RecordRun(ctx context.Context, rec runner.RunRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("run record has no id")
	}
	stages, err := json.Marshal(rec.Stages)
	if err != nil {
		return fmt.Errorf("encode stages: %w", err)
	}
	// #nosec G201 -- table identifier validated by Config.Tables; values are bind parameters
	q := fmt.Sprintf(`INSERT INTO %s (id, topology_id, environment, status, failed_stage, error, stages_json, started_at, finished_at) VALUES (%s)
		ON CONFLICT (id) DO UPDATE SET status = excluded.status, failed_stage = excluded.failed_stage, error = excluded.error,
		stages_json = excluded.stages_json, finished_at = excluded.finished_at`,
		s.tables.Runs, s.placeholders(1, 9))
	_, err = s.exec(ctx, q,
		rec.ID,
		rec.TopologyID,
		rec.Environment,
		string(rec.Status),
		nullString(rec.FailedStage),
		nullString(rec.Error),
		string(stages),
		s.dialect.ConvertTimeToStorage(rec.StartedAt),
		s.dialect.ConvertTimeToStorage(rec.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", rec.ID, err)
	}
	s.logger.WithRun(rec.ID).Debug("run recorded", "status", rec.Status)
	return nil
}

const runColumns = "id, topology_id, environment, status, failed_stage, error, stages_json, started_at, finished_at"

// GetRun returns the run with id.
func (s *Store) GetRun(ctx context.Context, id string) (*runner.RunRecord, error) {
	// #nosec G201 -- table identifier validated by Config.Tables
	q := fmt.Sprintf("SELECT %s FROM %s WHERE id = %s", runColumns, s.tables.Runs, s.dialect.GetPlaceholder(1))
	rows, err := s.query(ctx, q, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	rec, err := s.scanRun(rows)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRuns returns runs matching f, newest first.
func (s *Store) ListRuns(ctx context.Context, f RunFilter) ([]runner.RunRecord, error) {
	var (
		conds []string
		args  []any
	)
	add := func(col string, v string) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("%s = %s", col, s.dialect.GetPlaceholder(len(args))))
	}
	if f.TopologyID != "" {
		add("topology_id", f.TopologyID)
	}
	if f.Environment != "" {
		add("environment", f.Environment)
	}
	if f.Status != "" {
		add("status", string(f.Status))
	}

	// #nosec G201 -- table identifier validated by Config.Tables; filters are bind parameters
	q := fmt.Sprintf("SELECT %s FROM %s", runColumns, s.tables.Runs)
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY started_at DESC"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []runner.RunRecord
	for rows.Next() {
		rec, err := s.scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) scanRun(rows *sql.Rows) (runner.RunRecord, error) {
	var (
		rec               runner.RunRecord
		status, stages    string
		failed, errText   sql.NullString
		started, finished interface{}
	)
	if err := rows.Scan(&rec.ID, &rec.TopologyID, &rec.Environment, &status, &failed, &errText, &stages, &started, &finished); err != nil {
		return rec, err
	}
	rec.Status = runner.Status(status)
	rec.FailedStage = failed.String
	rec.Error = errText.String
	if err := json.Unmarshal([]byte(stages), &rec.Stages); err != nil {
		return rec, fmt.Errorf("decode stages of run %s: %w", rec.ID, err)
	}
	var err error
	if rec.StartedAt, err = s.dialect.ConvertTimeFromStorage(started); err != nil {
		return rec, err
	}
	if rec.FinishedAt, err = s.dialect.ConvertTimeFromStorage(finished); err != nil {
		return rec, err
	}
	return rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolFromStorage(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case int64:
		return b != 0
	case int:
		return b != 0
	case []byte:
		return string(b) == "1" || string(b) == "true"
	case string:
		return b == "1" || b == "true"
	default:
		return false
	}
}
