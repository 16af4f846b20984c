package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const selectColumns = `
	id,
	subject,
	body,
	code,
	code_type,
	recipients,
	cc_emails,
	schedule_type,
	cron_expression,
	queue_name,
	active,
	filename`

// Source reads job definitions from the external job table.
type Source struct {
	db     *sql.DB
	table  string
	logger *logrus.Logger
}

func NewSource(db *sql.DB, table string, logger *logrus.Logger) *Source {
	return &Source{
		db:     db,
		table:  pq.QuoteIdentifier(table),
		logger: logger,
	}
}

func (s *Source) List(ctx context.Context) ([]JobDefinition, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM %s ORDER BY id`, selectColumns, s.table))
	if err != nil {
		return nil, fmt.Errorf("failed to query job definitions: %w", err)
	}
	defer rows.Close()

	var defs []JobDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to process job rows: %w", err)
	}

	s.logger.WithField("count", len(defs)).Debug("Loaded job definitions")

	return defs, nil
}

func (s *Source) Get(ctx context.Context, id int64) (*JobDefinition, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, selectColumns, s.table), id)

	def, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id=%d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	return &def, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row scanner) (JobDefinition, error) {
	var def JobDefinition
	var subject, body, code, codeType, recipients, cc sql.NullString
	var scheduleType, cronExpression, queueName, filename sql.NullString
	var active sql.NullInt64

	if err := row.Scan(
		&def.ID,
		&subject,
		&body,
		&code,
		&codeType,
		&recipients,
		&cc,
		&scheduleType,
		&cronExpression,
		&queueName,
		&active,
		&filename,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return def, err
		}
		return def, fmt.Errorf("failed to scan job definition: %w", err)
	}

	def.Subject = subject.String
	def.Body = body.String
	def.Code = code.String
	def.CodeType = codeType.String
	def.Recipients = ParseRecipients(recipients.String)
	def.CCRecipients = ParseRecipients(cc.String)
	def.ScheduleType = scheduleType.String
	def.CronExpression = cronExpression.String
	def.QueueName = queueName.String
	def.Active = active.Valid && active.Int64 == 1
	def.FilenameTemplate = filename.String

	return def, nil
}
