package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/chararch/batchcore"
	"github.com/chararch/batchcore/metrics"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

// executionHandler serves read-only views of job executions
type executionHandler struct {
	repo batchcore.JobRepository
}

// GetExecution handles GET /executions/{id}
func (h *executionHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid execution id", http.StatusBadRequest)
		return
	}
	execution, be := h.repo.GetJobExecution(r.Context(), id)
	if be != nil {
		http.Error(w, "failed to load execution: "+be.Error(), http.StatusInternalServerError)
		return
	}
	if execution == nil {
		http.Error(w, "execution not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(execution)
}

// newAdminRouter routes /metrics and the execution lookup
func newAdminRouter(g prometheus.Gatherer, repo batchcore.JobRepository) *mux.Router {
	h := &executionHandler{repo: repo}
	r := mux.NewRouter()
	r.Handle("/metrics", metrics.Handler(g)).Methods(http.MethodGet)
	r.HandleFunc("/executions/{id:[0-9]+}", h.GetExecution).Methods(http.MethodGet)
	return r
}
