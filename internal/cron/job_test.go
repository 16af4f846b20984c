package cron

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/0xPuncker/export-mailer/internal/dispatch"
	"github.com/0xPuncker/export-mailer/internal/jobs"
	"github.com/0xPuncker/export-mailer/internal/notifications"
	"github.com/0xPuncker/export-mailer/internal/reconcile"
	"github.com/0xPuncker/export-mailer/internal/schedule"
	"github.com/0xPuncker/export-mailer/internal/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dispatchCall struct {
	jobID int64
	queue string
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []dispatchCall
	err   error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, jobID int64, queue string) (dispatch.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, dispatchCall{jobID, queue})
	return dispatch.Handle{JobID: jobID, Queue: queue}, f.err
}

func testLogger() *logrus.Logger {
	return testutil.Logger()
}

func daily(hour string) schedule.CronFields {
	return schedule.CronFields{Minute: "0", Hour: hour, DayOfMonth: "*", Month: "*", DayOfWeek: "*"}
}

func seed(t *testing.T, store *schedule.MemoryStore, entries ...schedule.Entry) {
	t.Helper()
	for i := range entries {
		require.NoError(t, store.Upsert(context.Background(), &entries[i]))
	}
}

func jobFunc(t *testing.T, s *Scheduler, name string) func() {
	t.Helper()
	s.mu.RLock()
	job, ok := s.jobs[name]
	s.mu.RUnlock()
	require.True(t, ok, "job %s not registered", name)
	return s.cron.Entry(job.id).Job.Run
}

// fire runs the registered cron job for name synchronously.
func fire(t *testing.T, s *Scheduler, name string) {
	t.Helper()
	jobFunc(t, s, name)()
}

func TestSchedulerSync(t *testing.T) {
	store := schedule.NewMemoryStore()
	seed(t, store,
		schedule.Entry{Name: schedule.EntryName(1), Task: schedule.DispatchTask, JobID: 1, Queue: "heavy_queue", Cron: daily("7"), Enabled: true},
		schedule.Entry{Name: schedule.EntryName(2), Task: schedule.DispatchTask, JobID: 2, Queue: "fast_queue", Cron: schedule.Sentinel},
	)

	d := &fakeDispatcher{}
	s := NewScheduler(testLogger(), store, d, 10)

	added, removed, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, 0, removed)

	jobs := s.ListJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "export_email_job_1", jobs[0].Name)
	assert.Equal(t, "0 7 * * *", jobs[0].Schedule)
	assert.Equal(t, "heavy_queue", jobs[0].Queue)

	fire(t, s, "export_email_job_1")
	assert.Equal(t, []dispatchCall{{1, "heavy_queue"}}, d.calls)

	// Unchanged entries keep their registration.
	added, removed, err = s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, added)
	assert.Equal(t, 0, removed)
}

func TestSchedulerSyncUpdatesAndRemoves(t *testing.T) {
	store := schedule.NewMemoryStore()
	entry := schedule.Entry{Name: schedule.EntryName(1), Task: schedule.DispatchTask, JobID: 1, Queue: "fast_queue", Cron: daily("7"), Enabled: true}
	seed(t, store, entry)

	s := NewScheduler(testLogger(), store, &fakeDispatcher{}, 10)
	_, _, err := s.Sync(context.Background())
	require.NoError(t, err)

	entry.Cron = daily("9")
	seed(t, store, entry)
	_, _, err = s.Sync(context.Background())
	require.NoError(t, err)

	job, err := s.GetJobStatus(schedule.EntryName(1))
	require.NoError(t, err)
	assert.Equal(t, "0 9 * * *", job.Schedule)

	entry.Enabled = false
	entry.Cron = schedule.Sentinel
	seed(t, store, entry)
	_, removed, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Empty(t, s.ListJobs())
}

func TestSchedulerSyncKeepsBuiltInTasks(t *testing.T) {
	s := NewScheduler(testLogger(), schedule.NewMemoryStore(), &fakeDispatcher{}, 10)

	var runs int
	s.RegisterTask(ReconcileTask, func() error {
		runs++
		return nil
	})
	require.NoError(t, s.AddTask("reconcile_export_jobs", "0 7 * * *", ReconcileTask, "daily reconcile"))

	_, removed, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
	require.Len(t, s.ListJobs(), 1)

	fire(t, s, "reconcile_export_jobs")
	assert.Equal(t, 1, runs)
}

func TestSchedulerErrors(t *testing.T) {
	s := NewScheduler(testLogger(), schedule.NewMemoryStore(), &fakeDispatcher{}, 10)

	err := s.AddTask("missing", "0 7 * * *", "non-existent-task", "")
	assert.Error(t, err)

	s.RegisterTask("noop", func() error { return nil })
	err = s.AddTask("invalid-job", "invalid-schedule", "noop", "")
	assert.Error(t, err)

	_, err = s.GetJobStatus("nope")
	assert.Error(t, err)

	require.NoError(t, s.Start())
	assert.Error(t, s.Start())
	s.Stop()
}

func TestJobErrorHandling(t *testing.T) {
	store := schedule.NewMemoryStore()
	seed(t, store, schedule.Entry{Name: schedule.EntryName(3), Task: schedule.DispatchTask, JobID: 3, Queue: "missing", Cron: daily("7"), Enabled: true})

	d := &fakeDispatcher{err: errors.New("queue: unknown queue")}
	s := NewScheduler(testLogger(), store, d, 10)
	_, _, err := s.Sync(context.Background())
	require.NoError(t, err)

	assert.NotPanics(t, func() { fire(t, s, schedule.EntryName(3)) })
	assert.Len(t, d.calls, 1)
}

func TestMaxConcurrent(t *testing.T) {
	s := NewScheduler(testLogger(), schedule.NewMemoryStore(), &fakeDispatcher{}, 1)

	release := make(chan struct{})
	entered := make(chan struct{})
	var runs int
	var mu sync.Mutex

	s.RegisterTask("slow", func() error {
		mu.Lock()
		runs++
		mu.Unlock()
		entered <- struct{}{}
		<-release
		return nil
	})
	require.NoError(t, s.AddTask("slow-job", "* * * * *", "slow", ""))

	run := jobFunc(t, s, "slow-job")
	go run()
	<-entered

	run()
	close(release)

	mu.Lock()
	assert.Equal(t, 1, runs, "second run must be skipped while the first is active")
	mu.Unlock()
}

func TestSchedulerState(t *testing.T) {
	s := NewScheduler(testLogger(), schedule.NewMemoryStore(), &fakeDispatcher{}, 10)

	assert.False(t, s.IsRunning())

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())

	s.Stop()
	assert.False(t, s.IsRunning())
}

type fakeSource []jobs.JobDefinition

func (f fakeSource) List(ctx context.Context) ([]jobs.JobDefinition, error) {
	return f, nil
}

type fakeReconcileNotifier struct {
	events []notifications.ReconcileEvent
}

func (f *fakeReconcileNotifier) Enabled() bool { return true }

func (f *fakeReconcileNotifier) SendReconcileNotification(ctx context.Context, ev notifications.ReconcileEvent) error {
	f.events = append(f.events, ev)
	return nil
}

func TestReconcileJob(t *testing.T) {
	logger := testLogger()
	store := schedule.NewMemoryStore()
	d := &fakeDispatcher{}
	s := NewScheduler(logger, store, d, 10)

	source := fakeSource(testutil.Definitions())
	notifier := &fakeReconcileNotifier{}

	job := NewReconcileJob(source, reconcile.NewReconciler(store, logger), s, logger).WithNotifier(notifier)

	summary, err := job.RunContext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, reconcile.Summary{Created: 3, Disabled: 2, Skipped: 1}, summary)

	triggers := s.ListJobs()
	require.Len(t, triggers, 1)
	assert.Equal(t, schedule.EntryName(1), triggers[0].Name)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, 1, notifier.events[0].Skipped)

	require.NoError(t, job.Run())
}
