package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no record matches
var ErrNotFound = errors.New("deployment record not found")

// Record is one deployment attempt
type Record struct {
	ID         string
	App        string
	Ref        string
	Strategy   string
	Status     string
	FailedStep string
	Message    string
	ReleaseID  string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is how long the attempt took
func (r Record) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Repo stores deployment records
type Repo struct {
	DB *sql.DB
}

// NewID returns a fresh attempt ID
func NewID() string {
	return uuid.NewString()
}

// Record inserts r, assigning an ID when it has none
func (r *Repo) Record(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = NewID()
	}
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO deployments (id, app, ref, strategy, status, failed_step, message, release_id, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.App, rec.Ref, rec.Strategy, rec.Status, rec.FailedStep, rec.Message, rec.ReleaseID,
		rec.StartedAt.UnixMilli(), rec.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert deployment record: %w", err)
	}
	return nil
}

// Get returns the record with id
func (r *Repo) Get(ctx context.Context, id string) (Record, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id, app, ref, strategy, status, failed_step, message, release_id, started_at, finished_at
		 FROM deployments WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return rec, err
}

// List returns the most recent limit records for app, newest first. An
// empty app lists every application.
func (r *Repo) List(ctx context.Context, app string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT id, app, ref, strategy, status, failed_step, message, release_id, started_at, finished_at
		FROM deployments`
	args := []interface{}{}
	if app != "" {
		query += ` WHERE app = ?`
		args = append(args, app)
	}
	query += ` ORDER BY started_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list deployment records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (Record, error) {
	var rec Record
	var started, finished int64
	err := s.Scan(&rec.ID, &rec.App, &rec.Ref, &rec.Strategy, &rec.Status, &rec.FailedStep,
		&rec.Message, &rec.ReleaseID, &started, &finished)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("scan deployment record: %w", err)
	}
	rec.StartedAt = time.UnixMilli(started)
	rec.FinishedAt = time.UnixMilli(finished)
	return rec, nil
}
