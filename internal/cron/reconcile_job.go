package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/0xPuncker/export-mailer/internal/jobs"
	"github.com/0xPuncker/export-mailer/internal/notifications"
	"github.com/0xPuncker/export-mailer/internal/reconcile"
	"github.com/sirupsen/logrus"
)

const ReconcileTask = "export.reconcile"

type DefinitionLister interface {
	List(ctx context.Context) ([]jobs.JobDefinition, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, defs []jobs.JobDefinition) (reconcile.Summary, error)
}

type Syncer interface {
	Sync(ctx context.Context) (added, removed int, err error)
}

type ReconcileNotifier interface {
	Enabled() bool
	SendReconcileNotification(ctx context.Context, ev notifications.ReconcileEvent) error
}

// ReconcileJob pulls job definitions, reconciles the schedule store and
// refreshes the local triggers.
type ReconcileJob struct {
	source     DefinitionLister
	reconciler Reconciler
	syncer     Syncer
	notifier   ReconcileNotifier
	timeout    time.Duration
	logger     *logrus.Logger
}

func NewReconcileJob(source DefinitionLister, reconciler Reconciler, syncer Syncer, logger *logrus.Logger) *ReconcileJob {
	return &ReconcileJob{
		source:     source,
		reconciler: reconciler,
		syncer:     syncer,
		timeout:    10 * time.Minute,
		logger:     logger,
	}
}

func (j *ReconcileJob) WithNotifier(n ReconcileNotifier) *ReconcileJob {
	j.notifier = n
	return j
}

// Run is the scheduler task entry point.
func (j *ReconcileJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	_, err := j.RunContext(ctx)
	return err
}

func (j *ReconcileJob) RunContext(ctx context.Context) (reconcile.Summary, error) {
	start := time.Now()

	defs, err := j.source.List(ctx)
	if err != nil {
		return reconcile.Summary{}, fmt.Errorf("failed to load job definitions: %w", err)
	}
	j.logger.Infof("Loaded %d job definitions", len(defs))

	summary, reconcileErr := j.reconciler.Reconcile(ctx, defs)

	if j.syncer != nil {
		added, removed, err := j.syncer.Sync(ctx)
		if err != nil {
			j.logger.WithError(err).Error("Failed to refresh triggers after reconcile")
		} else {
			j.logger.WithFields(logrus.Fields{
				"added":   added,
				"removed": removed,
			}).Info("Triggers refreshed")
		}
	}

	if j.notifier != nil && j.notifier.Enabled() {
		ev := notifications.ReconcileEvent{
			Created:   summary.Created,
			Updated:   summary.Updated,
			Unchanged: summary.Unchanged,
			Disabled:  summary.Disabled,
			Skipped:   summary.Skipped,
			Failed:    summary.Failed,
			Duration:  time.Since(start),
		}
		if err := j.notifier.SendReconcileNotification(ctx, ev); err != nil {
			j.logger.WithError(err).Warn("Failed to send reconcile notification")
		}
	}

	return summary, reconcileErr
}
