package executor

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/0xPuncker/export-mailer/internal/jobs"
	"github.com/0xPuncker/export-mailer/internal/notifications"
	"github.com/0xPuncker/export-mailer/internal/queue"
	"github.com/0xPuncker/export-mailer/internal/report"
	"github.com/0xPuncker/export-mailer/internal/script"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"
)

type fakeLoader map[int64]jobs.JobDefinition

func (f fakeLoader) Get(ctx context.Context, id int64) (*jobs.JobDefinition, error) {
	def, ok := f[id]
	if !ok {
		return nil, jobs.ErrNotFound
	}
	return &def, nil
}

type fakeScripts struct {
	calls  []string
	err    error
	panics bool
}

func (f *fakeScripts) Run(ctx context.Context, source string) (*script.Output, error) {
	f.calls = append(f.calls, source)
	if f.panics {
		panic("interpreter crashed")
	}
	if f.err != nil {
		return nil, f.err
	}
	return &script.Output{Stdout: "ok"}, nil
}

type recordingSender struct {
	mu   sync.Mutex
	sent []*mail.Msg
	err  error
}

func (s *recordingSender) Send(ctx context.Context, msg *mail.Msg) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

type fakeAlerter struct {
	events []notifications.JobEvent
}

func (f *fakeAlerter) Enabled() bool { return true }

func (f *fakeAlerter) SendJobNotification(ctx context.Context, ev notifications.JobEvent) error {
	f.events = append(f.events, ev)
	return nil
}

type brokenWriter struct{}

func (brokenWriter) Write(path string, table *report.Table) error {
	return errors.New("disk full")
}

type panicOnceWriter struct {
	calls int
}

func (w *panicOnceWriter) Write(path string, table *report.Table) error {
	w.calls++
	if w.calls == 1 {
		panic("excelize: nil stream")
	}
	return report.XLSXWriter{}.Write(path, table)
}

type harness struct {
	exec    *Executor
	mock    sqlmock.Sqlmock
	db      *sql.DB
	sender  *recordingSender
	scripts *fakeScripts
	alerts  *fakeAlerter
	outDir  string
}

func newHarness(t *testing.T, defs fakeLoader, opts ...report.Option) *harness {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	outDir := t.TempDir()
	opts = append(opts, report.WithClock(func() time.Time {
		return time.Date(2024, 3, 15, 7, 0, 0, 0, time.UTC)
	}))

	sender := &recordingSender{}
	scripts := &fakeScripts{}
	alerts := &fakeAlerter{}

	exec := New(
		defs,
		report.NewPipeline(db, outDir, logger, opts...),
		notifications.NewMailer(sender, "reports@example.com", logger),
		scripts,
		NewFiringLedger(time.Hour),
		logger,
	).WithAlerts(alerts)

	return &harness{exec: exec, mock: mock, db: db, sender: sender, scripts: scripts, alerts: alerts, outDir: outDir}
}

func (h *harness) assertNoArtifacts(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.outDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "artifacts must not remain on disk")
}

func sqlJob(id int64) jobs.JobDefinition {
	return jobs.JobDefinition{
		ID:               id,
		Subject:          "Daily sales",
		Body:             "Attached.",
		Code:             "SELECT region, total FROM sales",
		CodeType:         "sql",
		Recipients:       jobs.ParseRecipients("a@x.com, , b@x.com,"),
		FilenameTemplate: "report_:today",
		QueueName:        "heavy_queue",
	}
}

func expectRows(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("SELECT region, total FROM sales").
		WillReturnRows(sqlmock.NewRows([]string{"region", "total"}).AddRow("north", 10))
}

func TestExecuteNotFound(t *testing.T) {
	h := newHarness(t, fakeLoader{})

	res := h.exec.Execute(context.Background(), 404)
	assert.Equal(t, Result{Status: "skipped:not_found", JobID: 404}, res)
}

func TestExecuteMissingCodeType(t *testing.T) {
	for _, codeType := range []string{"", "csv"} {
		t.Run("code type "+codeType, func(t *testing.T) {
			def := sqlJob(1)
			def.CodeType = codeType
			h := newHarness(t, fakeLoader{1: def})

			res := h.exec.Execute(context.Background(), 1)
			assert.Equal(t, "skipped:missing_code_type", res.Status)
			assert.Empty(t, h.sender.sent)
			assert.Empty(t, h.scripts.calls)
			assert.NoError(t, h.mock.ExpectationsWereMet(), "no query may run")
			h.assertNoArtifacts(t)
		})
	}
}

func TestExecuteSQLReport(t *testing.T) {
	h := newHarness(t, fakeLoader{1: sqlJob(1)})
	expectRows(h.mock)

	res := h.exec.Execute(context.Background(), 1)
	assert.Equal(t, Result{Status: "completed", JobID: 1}, res)

	require.Len(t, h.sender.sent, 1)
	msg := h.sender.sent[0]

	rcpts, err := msg.GetRecipients()
	require.NoError(t, err)
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, rcpts)

	attachments := msg.GetAttachments()
	require.Len(t, attachments, 1)
	assert.Equal(t, "report_2024-03-15.xlsx", attachments[0].Name)

	h.assertNoArtifacts(t)
	assert.Empty(t, h.alerts.events)
}

func TestExecuteEmptyResult(t *testing.T) {
	h := newHarness(t, fakeLoader{1: sqlJob(1)})
	h.mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"region", "total"}))

	res := h.exec.Execute(context.Background(), 1)
	assert.Equal(t, "skipped:empty_result", res.Status)
	assert.Empty(t, h.sender.sent)
	h.assertNoArtifacts(t)
}

func TestExecuteReportGenerationFailed(t *testing.T) {
	h := newHarness(t, fakeLoader{1: sqlJob(1)}, report.WithWriter(brokenWriter{}))
	expectRows(h.mock)

	res := h.exec.Execute(context.Background(), 1)
	assert.Equal(t, "error:report_generation_failed", res.Status)
	assert.Empty(t, h.sender.sent)
	h.assertNoArtifacts(t)

	require.Len(t, h.alerts.events, 1)
	assert.Equal(t, "heavy_queue", h.alerts.events[0].Queue)
}

func TestExecuteQueryFailed(t *testing.T) {
	h := newHarness(t, fakeLoader{1: sqlJob(1)})
	h.mock.ExpectQuery("SELECT").WillReturnError(errors.New("connection refused"))

	res := h.exec.Execute(context.Background(), 1)
	assert.Equal(t, "error:query_failed", res.Status)
	assert.Empty(t, h.sender.sent)
}

func TestExecuteDeliveryFailureStillCompletes(t *testing.T) {
	h := newHarness(t, fakeLoader{1: sqlJob(1)})
	h.sender.err = errors.New("421 service not available")
	expectRows(h.mock)

	res := h.exec.Execute(context.Background(), 1)
	assert.Equal(t, "completed", res.Status)
	h.assertNoArtifacts(t)

	require.Len(t, h.alerts.events, 1)
	assert.Contains(t, h.alerts.events[0].Details, "421 service not available")
}

func TestExecuteScript(t *testing.T) {
	tests := []struct {
		name     string
		codeType string
		err      error
		want     string
	}{
		{"script", "SCRIPT", nil, "completed"},
		{"legacy python", "Python", nil, "completed"},
		{"failure", "script", errors.New("script: execution failed: exit status 1"), "error:script: execution failed: exit status 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := jobs.JobDefinition{ID: 5, Code: "print('hi')", CodeType: tt.codeType}
			h := newHarness(t, fakeLoader{5: def})
			h.scripts.err = tt.err

			res := h.exec.Execute(context.Background(), 5)
			assert.Equal(t, tt.want, res.Status)
			assert.Equal(t, []string{"print('hi')"}, h.scripts.calls)
			assert.Empty(t, h.sender.sent, "script jobs never send mail")
		})
	}
}

func TestExecuteRecoversPanic(t *testing.T) {
	h := newHarness(t, fakeLoader{5: {ID: 5, Code: "x", CodeType: "script"}})
	h.scripts.panics = true

	res := h.exec.Execute(context.Background(), 5)
	assert.True(t, res.IsError())
	assert.True(t, strings.Contains(res.Status, "interpreter crashed"))
}

func TestExecuteDuplicateFiring(t *testing.T) {
	h := newHarness(t, fakeLoader{1: sqlJob(1)})
	expectRows(h.mock)

	first := h.exec.ExecuteFiring(context.Background(), 1, "firing-1")
	assert.Equal(t, "completed", first.Status)

	second := h.exec.ExecuteFiring(context.Background(), 1, "firing-1")
	assert.Equal(t, "skipped:duplicate_firing", second.Status)

	assert.Len(t, h.sender.sent, 1)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestExecuteFailedFiringCanRetry(t *testing.T) {
	h := newHarness(t, fakeLoader{1: sqlJob(1)})
	h.mock.ExpectQuery("SELECT").WillReturnError(errors.New("connection reset"))
	expectRows(h.mock)

	first := h.exec.ExecuteFiring(context.Background(), 1, "firing-2")
	assert.Equal(t, "error:query_failed", first.Status)

	second := h.exec.ExecuteFiring(context.Background(), 1, "firing-2")
	assert.Equal(t, "completed", second.Status)
	assert.Len(t, h.sender.sent, 1)
}

func TestExecutePanickedFiringCanRetry(t *testing.T) {
	h := newHarness(t, fakeLoader{1: sqlJob(1)}, report.WithWriter(&panicOnceWriter{}))
	expectRows(h.mock)
	expectRows(h.mock)

	first := h.exec.ExecuteFiring(context.Background(), 1, "firing-3")
	assert.True(t, first.IsError())
	assert.Empty(t, h.sender.sent)
	h.assertNoArtifacts(t)

	second := h.exec.ExecuteFiring(context.Background(), 1, "firing-3")
	assert.Equal(t, "completed", second.Status)
	assert.Len(t, h.sender.sent, 1)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestHandle(t *testing.T) {
	h := newHarness(t, fakeLoader{
		1: sqlJob(1),
		2: {ID: 2, CodeType: "csv"},
	})
	h.mock.ExpectQuery("SELECT").WillReturnError(errors.New("timeout"))

	err := h.exec.Handle(context.Background(), queue.Request{JobID: 1, FiringID: "f"})
	assert.Error(t, err)

	err = h.exec.Handle(context.Background(), queue.Request{JobID: 2})
	assert.NoError(t, err, "skipped results are not retried")
}

func TestFiringLedger(t *testing.T) {
	l := NewFiringLedger(time.Minute)

	assert.True(t, l.Claim("a"))
	assert.False(t, l.Claim("a"))
	assert.True(t, l.Claim("b"))
	assert.Equal(t, 2, l.Len())

	l.Release("a")
	assert.True(t, l.Claim("a"))
}
