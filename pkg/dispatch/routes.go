package dispatch

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/lagoonrun/sandboxd/pkg/environment"
	"github.com/lagoonrun/sandboxd/pkg/metrics"
)

func (a *Agent) newRouter() *mux.Router {
	metrics.SetVersion(a.version)
	metrics.RegisterComponent("dispatch", true, "")

	r := mux.NewRouter()
	r.HandleFunc("/health", a.metricsMiddleware("/health", metrics.HealthHandler())).Methods(http.MethodGet)
	r.HandleFunc("/version", a.metricsMiddleware("/version", a.handleVersion)).Methods(http.MethodGet)
	r.HandleFunc("/status", a.metricsMiddleware("/status", a.handleStatus)).Methods(http.MethodGet)
	r.HandleFunc("/execute", a.metricsMiddleware("/execute", a.handleExecute)).Methods(http.MethodPost)
	return r
}

func (a *Agent) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": a.version})
}

type statusResponse struct {
	CachedEnvironments int                     `json:"cached_environments"`
	UptimeSeconds      float64                 `json:"uptime_seconds"`
	Pools              []environment.PoolStats `json:"pools"`
}

func (a *Agent) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		CachedEnvironments: a.cache.Count(),
		UptimeSeconds:      time.Since(a.startedAt).Seconds(),
		Pools:              a.registry.Stats(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
