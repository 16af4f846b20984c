package testutil

import (
	"io"

	"github.com/0xPuncker/export-mailer/internal/jobs"
	"github.com/sirupsen/logrus"
)

// Logger returns a logger that discards everything.
func Logger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// Definitions covers each reconcile branch: an active recurring job, an
// on-demand job, an inactive job and an active job with a broken cron.
func Definitions() []jobs.JobDefinition {
	return []jobs.JobDefinition{
		{
			ID:               1,
			Subject:          "Daily sales",
			Body:             "daily sales",
			Code:             "SELECT region, total FROM sales",
			CodeType:         "SQL",
			Recipients:       []string{"a@x.com", "b@x.com"},
			ScheduleType:     jobs.ScheduleRecurring,
			CronExpression:   "0 7 * * *",
			QueueName:        "heavy_queue",
			Active:           true,
			FilenameTemplate: "sales_:today",
		},
		{ID: 2, Body: "on demand", ScheduleType: jobs.ScheduleOnDemand, CronExpression: "0 7 * * *", QueueName: "fast_queue", Active: true},
		{ID: 3, Body: "retired", ScheduleType: jobs.ScheduleRecurring, CronExpression: "0 9 * * 1", QueueName: "fast_queue", Active: false},
		{ID: 4, Body: "broken", ScheduleType: jobs.ScheduleRecurring, CronExpression: "bad", QueueName: "fast_queue", Active: true},
	}
}
