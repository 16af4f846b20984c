package dispatch

import (
	"context"
	"fmt"
	"os"

	"github.com/0xPuncker/export-mailer/internal/queue"
	"github.com/0xPuncker/export-mailer/internal/schedule"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Enqueuer places an execution request on a named lane.
type Enqueuer interface {
	Enqueue(ctx context.Context, queue string, req queue.Request) (string, error)
}

// Handle echoes what was dispatched.
type Handle struct {
	ID           string `json:"task_id"`
	JobID        int64  `json:"job_id"`
	Queue        string `json:"queue"`
	Worker       string `json:"worker"`
	FiringID     string `json:"firing_id"`
	PeriodicTask string `json:"periodic_task,omitempty"`
	Message      string `json:"message"`
}

type Dispatcher struct {
	enqueuer Enqueuer
	worker   string
	logger   *logrus.Logger
}

func NewDispatcher(enqueuer Enqueuer, logger *logrus.Logger) *Dispatcher {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}

	return &Dispatcher{
		enqueuer: enqueuer,
		worker:   "export-mailer@" + host,
		logger:   logger,
	}
}

// Dispatch forwards one firing of jobID onto queueName. The queue name is
// taken as given; an unknown lane fails at the enqueuer.
func (d *Dispatcher) Dispatch(ctx context.Context, jobID int64, queueName string) (Handle, error) {
	firingID := uuid.NewString()

	id, err := d.enqueuer.Enqueue(ctx, queueName, queue.Request{
		JobID:    jobID,
		FiringID: firingID,
	})
	if err != nil {
		d.logger.WithFields(logrus.Fields{
			"job_id": jobID,
			"queue":  queueName,
		}).WithError(err).Error("Failed to dispatch job")
		return Handle{}, fmt.Errorf("failed to dispatch job %d to %s: %w", jobID, queueName, err)
	}

	handle := Handle{
		ID:           id,
		JobID:        jobID,
		Queue:        queueName,
		Worker:       d.worker,
		FiringID:     firingID,
		PeriodicTask: schedule.EntryName(jobID),
		Message:      "Task triggered",
	}

	d.logger.WithFields(logrus.Fields{
		"job_id":    jobID,
		"queue":     queueName,
		"handle_id": id,
		"firing_id": firingID,
		"worker":    d.worker,
	}).Info("Job dispatched")

	return handle, nil
}
