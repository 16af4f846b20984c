package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/0xPuncker/export-mailer/internal/jobs"
	"github.com/0xPuncker/export-mailer/internal/schedule"
	"github.com/sirupsen/logrus"
)

type Decision string

const (
	DecisionCreated   Decision = "created"
	DecisionUpdated   Decision = "updated"
	DecisionUnchanged Decision = "unchanged"
	DecisionSkipped   Decision = "skipped"
	DecisionFailed    Decision = "failed"
)

// Summary counts reconcile decisions. Disabled counts entries written or kept
// in the disabled state and overlaps with Created/Updated/Unchanged.
type Summary struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Disabled  int `json:"disabled"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

type Reconciler struct {
	store  schedule.Store
	logger *logrus.Logger
}

func NewReconciler(store schedule.Store, logger *logrus.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		logger: logger,
	}
}

// Reconcile brings schedule entries in line with defs. Re-running with the
// same definitions leaves the store untouched. A bad definition or a failed
// write never stops the remaining definitions.
func (r *Reconciler) Reconcile(ctx context.Context, defs []jobs.JobDefinition) (Summary, error) {
	var (
		summary Summary
		errs    []error
	)

	for _, def := range defs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		decision, entry, err := r.reconcileOne(ctx, def)

		fields := logrus.Fields{
			"job_id":   def.ID,
			"entry":    schedule.EntryName(def.ID),
			"decision": decision,
		}
		if entry != nil {
			fields["schedule"] = entry.Cron.String()
			fields["queue"] = entry.Queue
			fields["enabled"] = entry.Enabled
		}

		switch decision {
		case DecisionSkipped:
			summary.Skipped++
			r.logger.WithFields(fields).WithError(err).Warn("Skipping job with invalid cron expression")
			continue
		case DecisionFailed:
			summary.Failed++
			errs = append(errs, err)
			r.logger.WithFields(fields).WithError(err).Error("Failed to reconcile schedule entry")
			continue
		case DecisionCreated:
			summary.Created++
		case DecisionUpdated:
			summary.Updated++
		case DecisionUnchanged:
			summary.Unchanged++
		}

		if !entry.Enabled {
			summary.Disabled++
		}

		r.logger.WithFields(fields).Info("Reconciled schedule entry")
	}

	r.logger.WithFields(logrus.Fields{
		"created":   summary.Created,
		"updated":   summary.Updated,
		"unchanged": summary.Unchanged,
		"disabled":  summary.Disabled,
		"skipped":   summary.Skipped,
		"failed":    summary.Failed,
	}).Info("Reconciliation finished")

	return summary, errors.Join(errs...)
}

func (r *Reconciler) reconcileOne(ctx context.Context, def jobs.JobDefinition) (Decision, *schedule.Entry, error) {
	desired, err := DesiredEntry(def)
	if err != nil {
		return DecisionSkipped, nil, err
	}

	current, err := r.store.Get(ctx, desired.Name)
	switch {
	case errors.Is(err, schedule.ErrNotFound):
		if err := r.store.Upsert(ctx, desired); err != nil {
			return DecisionFailed, desired, err
		}
		return DecisionCreated, desired, nil
	case err != nil:
		return DecisionFailed, desired, fmt.Errorf("failed to load schedule entry: %w", err)
	}

	if current.Same(*desired) {
		return DecisionUnchanged, desired, nil
	}

	if err := r.store.Upsert(ctx, desired); err != nil {
		return DecisionFailed, desired, err
	}
	return DecisionUpdated, desired, nil
}

// DesiredEntry computes the schedule entry a definition should have. It
// returns schedule.ErrInvalidCron for an active recurring definition whose
// cron expression is missing or malformed; such definitions must not touch
// the store.
func DesiredEntry(def jobs.JobDefinition) (*schedule.Entry, error) {
	entry := &schedule.Entry{
		Name:        schedule.EntryName(def.ID),
		Task:        schedule.DispatchTask,
		JobID:       def.ID,
		Queue:       def.QueueName,
		Description: def.Body,
	}

	if !def.IsOnDemand() && def.Active {
		fields, err := schedule.ParseCronFields(def.CronExpression)
		if err != nil {
			return nil, err
		}
		entry.Cron = fields
		entry.Enabled = true
		return entry, nil
	}

	entry.Cron = schedule.Sentinel
	entry.Enabled = false
	return entry, nil
}
