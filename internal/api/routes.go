package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

func SetupRoutes(router *mux.Router, handler *Handler) {
	v1 := router.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/health", handler.HealthCheck).Methods(http.MethodGet)
	v1.HandleFunc("/schedules", handler.ListSchedules).Methods(http.MethodGet)
	v1.HandleFunc("/jobs", handler.ListJobs).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{name}", handler.GetJobStatus).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{id:[0-9]+}/run", handler.RunJob).Methods(http.MethodPost)
	v1.HandleFunc("/reconcile", handler.Reconcile).Methods(http.MethodPost)
	v1.HandleFunc("/queues", handler.ListQueues).Methods(http.MethodGet)
	v1.HandleFunc("/scheduler/start", handler.StartScheduler).Methods(http.MethodPost)
	v1.HandleFunc("/scheduler/stop", handler.StopScheduler).Methods(http.MethodPost)
}
