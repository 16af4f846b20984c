package schedule

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
)

//go:embed migration.sql
var migration string

var _ Store = (*PostgresStore)(nil)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db: db,
	}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, migration); err != nil {
		return fmt.Errorf("failed to migrate schedule entries: %w", err)
	}
	return nil
}

// Upsert writes every field of the entry. Concurrent writers for the same
// name resolve to the last write.
func (s *PostgresStore) Upsert(ctx context.Context, entry *Entry) error {
	if err := s.db.QueryRowContext(ctx, `
			INSERT INTO schedule_entries(
				name,
				task,
				job_id,
				queue,
				minute,
				hour,
				day_of_month,
				month,
				day_of_week,
				enabled,
				description
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
			)
			ON CONFLICT (name)
			DO UPDATE SET
				task = EXCLUDED.task,
				job_id = EXCLUDED.job_id,
				queue = EXCLUDED.queue,
				minute = EXCLUDED.minute,
				hour = EXCLUDED.hour,
				day_of_month = EXCLUDED.day_of_month,
				month = EXCLUDED.month,
				day_of_week = EXCLUDED.day_of_week,
				enabled = EXCLUDED.enabled,
				description = EXCLUDED.description,
				updated_at = now()
			RETURNING updated_at
		`,
		entry.Name,
		entry.Task,
		entry.JobID,
		entry.Queue,
		entry.Cron.Minute,
		entry.Cron.Hour,
		entry.Cron.DayOfMonth,
		entry.Cron.Month,
		entry.Cron.DayOfWeek,
		entry.Enabled,
		entry.Description,
	).Scan(&entry.UpdatedAt); err != nil {
		return fmt.Errorf("failed to upsert schedule entry %s: %w", entry.Name, err)
	}

	return nil
}

func (s *PostgresStore) Get(ctx context.Context, name string) (*Entry, error) {
	entry, err := scanEntry(s.db.QueryRowContext(ctx, `
			SELECT
				name,
				task,
				job_id,
				queue,
				minute,
				hour,
				day_of_month,
				month,
				day_of_week,
				enabled,
				description,
				updated_at
			FROM schedule_entries
			WHERE name = $1
		`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}

	return &entry, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			name,
			task,
			job_id,
			queue,
			minute,
			hour,
			day_of_month,
			month,
			day_of_week,
			enabled,
			description,
			updated_at
		FROM schedule_entries
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedule entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to process schedule rows: %w", err)
	}

	return entries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var entry Entry
	if err := row.Scan(
		&entry.Name,
		&entry.Task,
		&entry.JobID,
		&entry.Queue,
		&entry.Cron.Minute,
		&entry.Cron.Hour,
		&entry.Cron.DayOfMonth,
		&entry.Cron.Month,
		&entry.Cron.DayOfWeek,
		&entry.Enabled,
		&entry.Description,
		&entry.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entry, err
		}
		return entry, fmt.Errorf("failed to scan schedule entry: %w", err)
	}

	return entry, nil
}
