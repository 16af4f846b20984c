package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/0xPuncker/export-mailer/internal/cron"
	"github.com/0xPuncker/export-mailer/internal/dispatch"
	"github.com/0xPuncker/export-mailer/internal/jobs"
	"github.com/0xPuncker/export-mailer/internal/queue"
	"github.com/0xPuncker/export-mailer/internal/reconcile"
	"github.com/0xPuncker/export-mailer/internal/schedule"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Scheduler interface {
	ListJobs() []cron.Job
	GetJobStatus(name string) (cron.Job, error)
	Start() error
	Stop()
	IsRunning() bool
}

type ReconcileRunner interface {
	RunContext(ctx context.Context) (reconcile.Summary, error)
}

type DefinitionLoader interface {
	Get(ctx context.Context, id int64) (*jobs.JobDefinition, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, jobID int64, queue string) (dispatch.Handle, error)
}

type QueueStats interface {
	Stats() []queue.LaneStats
}

// Deps are the components the ops API reads from and drives.
type Deps struct {
	Store       schedule.Store
	Scheduler   Scheduler
	Reconciler  ReconcileRunner
	Definitions DefinitionLoader
	Dispatcher  Dispatcher
	Queues      QueueStats
}

type Handler struct {
	logger *logrus.Logger
	deps   Deps
	router *mux.Router
}

func NewHandler(deps Deps, logger *logrus.Logger) *Handler {
	h := &Handler{
		logger: logger,
		deps:   deps,
	}
	h.router = mux.NewRouter()
	SetupRoutes(h.router, h)
	return h
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"scheduler": h.deps.Scheduler.IsRunning(),
	})
}

func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	entries, err := h.deps.Store.List(r.Context())
	if err != nil {
		h.handleError(w, err, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"schedules": entries,
		"total":     len(entries),
	})
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.deps.Scheduler.ListJobs()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":        jobs,
		"active_jobs": len(jobs),
	})
}

func (h *Handler) GetJobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := h.deps.Scheduler.GetJobStatus(mux.Vars(r)["name"])
	if err != nil {
		h.handleError(w, err, http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) StartScheduler(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Scheduler.Start(); err != nil {
		h.handleError(w, err, http.StatusConflict)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "scheduler started successfully",
	})
}

func (h *Handler) StopScheduler(w http.ResponseWriter, r *http.Request) {
	if !h.deps.Scheduler.IsRunning() {
		h.handleError(w, fmt.Errorf("scheduler is not running"), http.StatusConflict)
		return
	}
	h.deps.Scheduler.Stop()
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "scheduler stopped successfully",
	})
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	summary, err := h.deps.Reconciler.RunContext(ctx)
	resp := map[string]interface{}{
		"status":  "Schedules synced",
		"summary": summary,
	}
	if err != nil {
		h.logger.WithError(err).Error("Reconcile finished with errors")
		resp["status"] = "Schedules synced with errors"
		resp["error"] = err.Error()
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// RunJob dispatches one execution of a job. The queue defaults to the job's
// own queue when the query parameter is absent.
func (h *Handler) RunJob(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.handleError(w, fmt.Errorf("invalid job id: %w", err), http.StatusBadRequest)
		return
	}

	def, err := h.deps.Definitions.Get(r.Context(), id)
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		h.handleError(w, err, http.StatusNotFound)
		return
	case err != nil:
		h.handleError(w, err, http.StatusInternalServerError)
		return
	}

	if !def.Active {
		h.handleError(w, fmt.Errorf("job %d is not active", id), http.StatusConflict)
		return
	}

	queueName := r.URL.Query().Get("queue")
	if queueName == "" {
		queueName = def.QueueName
	}

	handle, err := h.deps.Dispatcher.Dispatch(r.Context(), id, queueName)
	switch {
	case errors.Is(err, queue.ErrUnknownQueue):
		h.handleError(w, err, http.StatusBadRequest)
		return
	case errors.Is(err, queue.ErrQueueFull):
		h.handleError(w, err, http.StatusServiceUnavailable)
		return
	case err != nil:
		h.handleError(w, err, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, handle)
}

func (h *Handler) ListQueues(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"queues": h.deps.Queues.Stats(),
	})
}

func (h *Handler) handleError(w http.ResponseWriter, err error, code int) {
	h.logger.Error(err)
	writeJSON(w, code, map[string]string{
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}
