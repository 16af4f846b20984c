package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/0xPuncker/export-mailer/internal/jobs"
	"github.com/0xPuncker/export-mailer/internal/notifications"
	"github.com/0xPuncker/export-mailer/internal/queue"
	"github.com/0xPuncker/export-mailer/internal/report"
	"github.com/0xPuncker/export-mailer/internal/script"
	"github.com/0xPuncker/export-mailer/pkg/utils"
	"github.com/sirupsen/logrus"
)

type Loader interface {
	Get(ctx context.Context, id int64) (*jobs.JobDefinition, error)
}

type ReportRunner interface {
	Run(ctx context.Context, jobID int64, query, template string) (*report.Artifact, error)
}

type Mailer interface {
	Send(ctx context.Context, e notifications.Email) error
}

type Alerter interface {
	Enabled() bool
	SendJobNotification(ctx context.Context, ev notifications.JobEvent) error
}

type Executor struct {
	loader  Loader
	reports ReportRunner
	mailer  Mailer
	scripts script.Runner
	ledger  *FiringLedger
	alerts  Alerter
	logger  *logrus.Logger
}

func New(loader Loader, reports ReportRunner, mailer Mailer, scripts script.Runner, ledger *FiringLedger, logger *logrus.Logger) *Executor {
	if ledger == nil {
		ledger = NewFiringLedger(0)
	}
	return &Executor{
		loader:  loader,
		reports: reports,
		mailer:  mailer,
		scripts: scripts,
		ledger:  ledger,
		logger:  logger,
	}
}

// WithAlerts posts a Slack alert for every error result and every
// delivery failure.
func (e *Executor) WithAlerts(a Alerter) *Executor {
	e.alerts = a
	return e
}

// Execute runs jobID once without firing deduplication.
func (e *Executor) Execute(ctx context.Context, jobID int64) Result {
	return e.ExecuteFiring(ctx, jobID, "")
}

// ExecuteFiring runs jobID for one trigger firing. A firing that already
// reached the mail step is skipped. Every failure is returned as a Result.
func (e *Executor) ExecuteFiring(ctx context.Context, jobID int64, firingID string) (res Result) {
	start := time.Now()
	fields := logrus.Fields{"job_id": jobID}
	if firingID != "" {
		fields["firing_id"] = firingID
	}

	var deliveryErr error
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithFields(fields).Errorf("Job panicked: %v\n%s", r, debug.Stack())
			res = failed(jobID, fmt.Sprintf("panic: %v", r))
		}

		fields["status"] = res.Status
		fields["duration"] = utils.FormatDuration(time.Since(start))
		entry := e.logger.WithFields(fields)
		switch {
		case res.IsError():
			entry.Error("Job finished with error")
		case res.IsSkipped():
			entry.Warn("Job skipped")
		default:
			entry.Info("Job completed")
		}

		queueName, _ := fields["queue"].(string)
		e.alert(ctx, res, queueName, time.Since(start), deliveryErr)
	}()

	def, err := e.loader.Get(ctx, jobID)
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		return skipped(jobID, ReasonNotFound)
	case err != nil:
		e.logger.WithFields(fields).WithError(err).Error("Failed to load job definition")
		return failed(jobID, DetailLookupFailed)
	}

	fields["code_type"] = def.CodeType
	fields["queue"] = def.QueueName

	switch def.Kind() {
	case jobs.CodeScript:
		return e.runScript(ctx, def, fields)
	case jobs.CodeSQL:
		var res Result
		res, deliveryErr = e.runReport(ctx, def, firingID, fields)
		return res
	default:
		return skipped(jobID, ReasonMissingCodeType)
	}
}

func (e *Executor) runScript(ctx context.Context, def *jobs.JobDefinition, fields logrus.Fields) Result {
	out, err := e.scripts.Run(ctx, def.Code)
	if err != nil {
		e.logger.WithFields(fields).WithError(err).Error("Script failed")
		return failed(def.ID, err.Error())
	}
	if out != nil {
		fields["stdout_length"] = len(out.Stdout)
	}
	return completed(def.ID)
}

// runReport returns the result and, separately, a delivery error. Delivery
// errors do not change the result once the artifact exists.
func (e *Executor) runReport(ctx context.Context, def *jobs.JobDefinition, firingID string, fields logrus.Fields) (Result, error) {
	if firingID != "" {
		if !e.ledger.Claim(firingID) {
			return skipped(def.ID, ReasonDuplicateFiring), nil
		}
	}
	// The claim is kept only once the mail step is reached, including when
	// report generation panics.
	reachedMail := false
	defer func() {
		if firingID != "" && !reachedMail {
			e.ledger.Release(firingID)
		}
	}()

	artifact, err := e.reports.Run(ctx, def.ID, def.Code, def.FilenameTemplate)
	switch {
	case errors.Is(err, report.ErrEmptyResult):
		return skipped(def.ID, ReasonEmptyResult), nil
	case errors.Is(err, report.ErrQueryFailed):
		e.logger.WithFields(fields).WithError(err).Error("Report query failed")
		return failed(def.ID, DetailQueryFailed), nil
	case err != nil:
		e.logger.WithFields(fields).WithError(err).Error("Report generation failed, email not sent")
		return failed(def.ID, DetailReportFailed), nil
	}
	defer func() {
		if err := artifact.Cleanup(); err != nil {
			e.logger.WithFields(fields).WithError(err).Warn("Failed to remove artifact directory")
		}
	}()

	fields["rows"] = artifact.Rows
	reachedMail = true

	deliveryErr := e.mailer.Send(ctx, notifications.Email{
		Subject:     def.Subject,
		Body:        def.Body,
		To:          def.Recipients,
		Cc:          def.CCRecipients,
		Attachments: []string{artifact.Path},
	})
	if deliveryErr != nil {
		fields["delivery"] = "failed"
	}

	return completed(def.ID), deliveryErr
}

func (e *Executor) alert(ctx context.Context, res Result, queueName string, d time.Duration, deliveryErr error) {
	if e.alerts == nil || !e.alerts.Enabled() {
		return
	}
	if !res.IsError() && deliveryErr == nil {
		return
	}

	ev := notifications.JobEvent{JobID: res.JobID, Queue: queueName, Status: res.Status, Duration: d}
	if deliveryErr != nil {
		ev.Details = deliveryErr.Error()
	}

	if err := e.alerts.SendJobNotification(ctx, ev); err != nil {
		e.logger.WithField("job_id", res.JobID).WithError(err).Warn("Failed to send job alert")
	}
}

// Handle adapts the executor to the queue broker. Error results are returned
// as errors so the lane can retry them.
func (e *Executor) Handle(ctx context.Context, req queue.Request) error {
	res := e.ExecuteFiring(ctx, req.JobID, req.FiringID)
	if res.IsError() {
		return fmt.Errorf("job %d: %s", res.JobID, res.Status)
	}
	return nil
}
