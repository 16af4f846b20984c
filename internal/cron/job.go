package cron

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/0xPuncker/export-mailer/internal/dispatch"
	"github.com/0xPuncker/export-mailer/internal/schedule"
	"github.com/0xPuncker/export-mailer/pkg/utils"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, jobID int64, queue string) (dispatch.Handle, error)
}

type EntryLister interface {
	List(ctx context.Context) ([]schedule.Entry, error)
}

// Job is a registered trigger as reported by ListJobs.
type Job struct {
	Name        string    `json:"name"`
	Schedule    string    `json:"schedule"`
	TaskName    string    `json:"task"`
	JobID       int64     `json:"job_id,omitempty"`
	Queue       string    `json:"queue,omitempty"`
	Enabled     bool      `json:"enabled"`
	Description string    `json:"description,omitempty"`
	Next        time.Time `json:"next_run,omitempty"`
	Prev        time.Time `json:"prev_run,omitempty"`
}

type scheduledJob struct {
	id          cron.EntryID
	schedule    string
	taskName    string
	jobID       int64
	queue       string
	description string
	fromStore   bool
}

// Scheduler fires schedule entries into the dispatcher and runs built-in
// periodic tasks such as the daily reconcile.
type Scheduler struct {
	cron       *cron.Cron
	logger     *logrus.Logger
	store      EntryLister
	dispatcher Dispatcher

	mu      sync.RWMutex
	jobs    map[string]scheduledJob
	tasks   map[string]func() error
	started bool

	maxConcurrent  int
	activeJobs     int
	activeJobsLock sync.Mutex
}

func NewScheduler(logger *logrus.Logger, store EntryLister, dispatcher Dispatcher, maxConcurrent int) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	return &Scheduler{
		cron:          cron.New(),
		logger:        logger,
		store:         store,
		dispatcher:    dispatcher,
		maxConcurrent: maxConcurrent,
		jobs:          make(map[string]scheduledJob),
		tasks:         make(map[string]func() error),
	}
}

func (s *Scheduler) RegisterTask(name string, task func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[name] = task
}

// AddTask schedules a registered built-in task. Sync never removes it.
func (s *Scheduler) AddTask(name, spec, taskName, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[taskName]
	if !exists {
		return fmt.Errorf("task %s not registered", taskName)
	}

	if old, ok := s.jobs[name]; ok {
		s.cron.Remove(old.id)
	}

	id, err := s.cron.AddFunc(spec, s.wrap(name, spec, taskName, task))
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}

	s.jobs[name] = scheduledJob{
		id:          id,
		schedule:    spec,
		taskName:    taskName,
		description: description,
	}

	s.logger.WithFields(logrus.Fields{
		"job_name":    name,
		"schedule":    spec,
		"task":        taskName,
		"description": description,
	}).Info("Job scheduled successfully")

	return nil
}

// Sync registers every enabled dispatch entry from the store, re-registers
// entries whose schedule or arguments changed and drops entries that are no
// longer enabled. It returns how many triggers were added and removed.
func (s *Scheduler) Sync(ctx context.Context) (added, removed int, err error) {
	entries, err := s.store.List(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list schedule entries: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[string]schedule.Entry, len(entries))
	for _, e := range entries {
		if e.Enabled && e.Task == schedule.DispatchTask && !e.Cron.IsSentinel() {
			want[e.Name] = e
		}
	}

	for name, job := range s.jobs {
		if !job.fromStore {
			continue
		}
		e, ok := want[name]
		if ok && job.schedule == e.Cron.String() && job.jobID == e.JobID && job.queue == e.Queue {
			delete(want, name)
			continue
		}
		s.cron.Remove(job.id)
		delete(s.jobs, name)
		if !ok {
			removed++
			s.logger.WithField("job_name", name).Info("Trigger removed")
		}
	}

	for name, e := range want {
		spec := e.Cron.String()
		id, err := s.cron.AddFunc(spec, s.dispatchFunc(name, e.JobID, e.Queue))
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"job_name": name,
				"schedule": spec,
			}).WithError(err).Error("Failed to register trigger")
			continue
		}

		s.jobs[name] = scheduledJob{
			id:          id,
			schedule:    spec,
			taskName:    schedule.DispatchTask,
			jobID:       e.JobID,
			queue:       e.Queue,
			description: e.Description,
			fromStore:   true,
		}
		added++

		s.logger.WithFields(logrus.Fields{
			"job_name": name,
			"schedule": spec,
			"job_id":   e.JobID,
			"queue":    e.Queue,
		}).Info("Trigger registered")
	}

	return added, removed, nil
}

func (s *Scheduler) dispatchFunc(name string, jobID int64, queue string) func() {
	return s.wrap(name, "", schedule.DispatchTask, func() error {
		_, err := s.dispatcher.Dispatch(context.Background(), jobID, queue)
		return err
	})
}

func (s *Scheduler) wrap(name, spec, taskName string, task func() error) func() {
	return func() {
		s.activeJobsLock.Lock()
		if s.activeJobs >= s.maxConcurrent {
			s.activeJobsLock.Unlock()
			s.logger.Warnf("Max concurrent jobs reached, skipping job: %s", name)
			return
		}
		s.activeJobs++
		active := s.activeJobs
		s.activeJobsLock.Unlock()

		defer func() {
			s.activeJobsLock.Lock()
			s.activeJobs--
			s.activeJobsLock.Unlock()
		}()

		fields := logrus.Fields{
			"job_name":    name,
			"task":        taskName,
			"active_jobs": active,
		}
		if spec != "" {
			fields["schedule"] = spec
		}
		s.logger.WithFields(fields).Debug("Starting job execution")

		start := time.Now()
		if err := task(); err != nil {
			s.logger.WithFields(logrus.Fields{
				"job_name": name,
				"error":    err.Error(),
				"duration": utils.FormatDuration(time.Since(start)),
			}).Error("Job execution failed")
			return
		}
		s.logger.WithFields(logrus.Fields{
			"job_name": name,
			"duration": utils.FormatDuration(time.Since(start)),
		}).Debug("Job execution completed successfully")
	}
}

func (s *Scheduler) GetJobStatus(name string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[name]
	if !exists {
		return Job{}, fmt.Errorf("job %s not found", name)
	}
	return s.toJob(name, job), nil
}

func (s *Scheduler) ListJobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]Job, 0, len(s.jobs))
	for name, job := range s.jobs {
		jobs = append(jobs, s.toJob(name, job))
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].Name < jobs[j].Name
	})

	return jobs
}

func (s *Scheduler) toJob(name string, job scheduledJob) Job {
	entry := s.cron.Entry(job.id)
	return Job{
		Name:        name,
		Schedule:    job.schedule,
		TaskName:    job.taskName,
		JobID:       job.jobID,
		Queue:       job.queue,
		Enabled:     true,
		Description: job.description,
		Next:        entry.Next,
		Prev:        entry.Prev,
	}
}

func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}

	s.cron.Start()
	s.started = true
	s.logger.Info("Scheduler started...")

	return nil
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.started = false
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}
