package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/0xPuncker/export-mailer/pkg/utils"
	"github.com/sirupsen/logrus"
)

var (
	ErrEmptyResult = errors.New("report: query returned no rows")
	ErrQueryFailed = errors.New("report: query failed")
	ErrWriteFailed = errors.New("report: failed to write artifact")
)

// Artifact is a generated spreadsheet. It is owned by the execution that
// created it and lives in its own directory.
type Artifact struct {
	Path string
	Dir  string
	Rows int
}

// Cleanup removes the artifact directory and anything left in it.
func (a *Artifact) Cleanup() error {
	if a == nil || a.Dir == "" {
		return nil
	}
	return os.RemoveAll(a.Dir)
}

type Pipeline struct {
	db        Querier
	writer    Writer
	outputDir string
	logger    *logrus.Logger
	now       func() time.Time
}

type Option func(*Pipeline)

func WithWriter(w Writer) Option {
	return func(p *Pipeline) { p.writer = w }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func NewPipeline(db Querier, outputDir string, logger *logrus.Logger, opts ...Option) *Pipeline {
	if outputDir == "" {
		outputDir = os.TempDir()
	}

	p := &Pipeline{
		db:        db,
		writer:    XLSXWriter{},
		outputDir: outputDir,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes query once and writes the result to an xlsx artifact named
// after template. A query with no rows returns ErrEmptyResult and creates
// nothing on disk.
func (p *Pipeline) Run(ctx context.Context, jobID int64, query, template string) (*Artifact, error) {
	start := time.Now()

	table, err := Query(ctx, p.db, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	if table.Empty() {
		return nil, ErrEmptyResult
	}

	if err := os.MkdirAll(p.outputDir, 0o750); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	dir, err := os.MkdirTemp(p.outputDir, fmt.Sprintf("job-%d-", jobID))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	dir, err = filepath.Abs(dir)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	artifact := &Artifact{
		Path: filepath.Join(dir, ResolveFilename(template, p.now())+".xlsx"),
		Dir:  dir,
		Rows: len(table.Rows),
	}

	// Removes the run directory on any failure, a writer panic included.
	written := false
	defer func() {
		if !written {
			artifact.Cleanup()
		}
	}()

	if err := p.writer.Write(artifact.Path, table); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	if _, err := os.Stat(artifact.Path); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	written = true

	p.logger.WithFields(logrus.Fields{
		"job_id":   jobID,
		"path":     artifact.Path,
		"rows":     artifact.Rows,
		"columns":  len(table.Columns),
		"duration": utils.FormatDuration(time.Since(start)),
	}).Info("Report written")

	return artifact, nil
}
