package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mattryanharris/where-is-matt/pkg/duration"
	"github.com/mattryanharris/where-is-matt/pkg/errors"
	_ "modernc.org/sqlite"
)

// DefaultCountdownLabel is stored when a countdown message is nothing but
// the duration phrase.
const DefaultCountdownLabel = "Arriving"

// ErrEmptyMessage is returned when a status has no message text.
var ErrEmptyMessage = stderrors.New("message is required")

// Repository is the status store: the latest status, its history and the
// pipeline run log.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository opens (creating if needed) the database at dbPath.
func NewRepository(dbPath string) (*Repository, error) {
	slog.Info("database_init", "db_path", dbPath)

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrap(err, "failed to create database directory")
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		slog.Error("database_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to open database")
	}
	// One writer keeps concurrent handlers from tripping SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("database_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	slog.Info("database_ready", "db_path", dbPath)
	return &Repository{db: db, now: time.Now}, nil
}

// SetClock replaces the clock used for created_at and countdown targets.
func (r *Repository) SetClock(now func() time.Time) {
	r.now = now
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// Latest returns the newest status, or nil when none has been stored.
func (r *Repository) Latest(ctx context.Context) (*Status, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, message, detail, color, target_time, created_at
		FROM statuses ORDER BY id DESC LIMIT 1
	`)
	s, err := scanStatus(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("database_query_failed", "table", "statuses", "error", err)
		return nil, errors.Wrap(err, "failed to query latest status")
	}
	return s, nil
}

// History returns up to limit statuses, newest first.
func (r *Repository) History(ctx context.Context, limit int) ([]*Status, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, message, detail, color, target_time, created_at
		FROM statuses ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		slog.Error("database_list_query_failed", "table", "statuses", "error", err)
		return nil, errors.Wrap(err, "failed to list statuses")
	}
	defer rows.Close()

	var statuses []*Status
	for rows.Next() {
		s, err := scanStatus(rows)
		if err != nil {
			slog.Error("database_scan_row_failed", "error", err)
			return nil, errors.Wrap(err, "failed to scan row")
		}
		statuses = append(statuses, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}
	return statuses, nil
}

// SetMessage stores a plain status. The message/detail pair is normalized
// first, so "On Train Union Station" lands as "On Train" / "Union Station".
func (r *Repository) SetMessage(ctx context.Context, message, detail, color string) (*Status, error) {
	label, detail := Normalize(message, detail)
	if label == "" {
		return nil, ErrEmptyMessage
	}
	return r.insert(ctx, &Status{Message: label, Detail: detail, Color: collapse(color)})
}

// SetCountdown stores a countdown when message contains a duration, computing
// the target time from the store's clock. Without a duration it stores a
// plain status.
func (r *Repository) SetCountdown(ctx context.Context, message, color string) (*Status, error) {
	d, ok := duration.Parse(message)
	if !ok {
		return r.SetMessage(ctx, message, "", color)
	}
	return r.countdown(ctx, d, message, "", color)
}

// Post stores whatever the combined message and detail describe: a countdown
// when either contains a duration, a plain status otherwise.
func (r *Repository) Post(ctx context.Context, message, detail, color string) (*Status, error) {
	if collapse(message) == "" {
		return nil, ErrEmptyMessage
	}
	d, ok := duration.Parse(message + " " + detail)
	if !ok {
		return r.SetMessage(ctx, message, detail, color)
	}
	return r.countdown(ctx, d, message, detail, color)
}

func (r *Repository) countdown(ctx context.Context, d duration.Duration, message, detail, color string) (*Status, error) {
	label, detail := Normalize(duration.Strip(message), duration.Strip(detail))
	if label == "" {
		label = DefaultCountdownLabel
	}
	target := duration.TargetTime(r.now(), d).UTC()

	slog.Info("countdown_parsed", "total_minutes", d.TotalMinutes, "label", label, "target_time", target)
	return r.insert(ctx, &Status{Message: label, Detail: detail, Color: collapse(color), TargetTime: &target})
}

func (r *Repository) insert(ctx context.Context, s *Status) (*Status, error) {
	s.CreatedAt = r.now().UTC()

	var target sql.NullString
	if s.TargetTime != nil {
		target = sql.NullString{String: s.TargetTime.UTC().Format(timeLayout), Valid: true}
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO statuses (message, detail, color, target_time, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, s.Message, s.Detail, s.Color, target, s.CreatedAt.Format(timeLayout))
	if err != nil {
		slog.Error("database_insert_failed", "table", "statuses", "error", err)
		return nil, errors.Wrap(err, "failed to insert status")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get last insert id")
	}
	s.ID = id

	slog.Info("status_stored", "status_id", s.ID, "message", s.Message, "countdown", s.IsCountdown())
	return s, nil
}

// RecordRun stores the outcome of a pipeline run.
func (r *Repository) RecordRun(ctx context.Context, rec *RunRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (id, state, steps, failed_step, error_kind, detail, duration_ms, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.State, rec.Steps, rec.FailedStep, rec.ErrorKind, rec.Detail,
		rec.DurationMS, rec.StartedAt.UTC().Format(timeLayout))
	if err != nil {
		slog.Error("database_insert_failed", "table", "runs", "run_id", rec.ID, "error", err)
		return errors.Wrap(err, "failed to record run")
	}
	return nil
}

// Runs returns up to limit recorded runs, newest first.
func (r *Repository) Runs(ctx context.Context, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, state, steps, failed_step, error_kind, detail, duration_ms, started_at
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list runs")
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		var rec RunRecord
		var started string
		if err := rows.Scan(&rec.ID, &rec.State, &rec.Steps, &rec.FailedStep, &rec.ErrorKind,
			&rec.Detail, &rec.DurationMS, &started); err != nil {
			return nil, errors.Wrap(err, "failed to scan run")
		}
		if rec.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, errors.Wrap(err, "bad started_at")
		}
		runs = append(runs, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStatus(row scanner) (*Status, error) {
	var s Status
	var target sql.NullString
	var created string
	if err := row.Scan(&s.ID, &s.Message, &s.Detail, &s.Color, &target, &created); err != nil {
		return nil, err
	}

	var err error
	if s.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return nil, errors.Wrap(err, "bad created_at")
	}
	if target.Valid {
		t, err := time.Parse(timeLayout, target.String)
		if err != nil {
			return nil, errors.Wrap(err, "bad target_time")
		}
		s.TargetTime = &t
	}
	return &s, nil
}
