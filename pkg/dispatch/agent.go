// Package dispatch implements the dispatcher (C5): the HTTP surface that
// decodes /execute requests, resolves them to a warm pool via the
// environment registry, and runs them against a worker handle with
// retry-on-worker-death semantics.
package dispatch

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/lagoonrun/sandboxd/pkg/environment"
	"github.com/lagoonrun/sandboxd/pkg/ledger"
	"github.com/lagoonrun/sandboxd/pkg/metrics"
)

//go:embed agent.go routes.go execute.go
var sourceFiles embed.FS

var versionFiles = []string{"agent.go", "routes.go", "execute.go"}

// DefaultMaxRetries is how many times the dispatcher retries a job against
// a fresh handle after a worker dies mid-request, before giving up.
const DefaultMaxRetries = 2

// AcquireHeadroom is added to a job's TimeoutSec to bound how long Acquire
// may wait for a ready handle; a job that can run for 30s should not be
// failed by a 2s wait for a worker slot.
const AcquireHeadroom = 5 * time.Second

// Agent owns the registry, environment cache, and metrics wiring behind
// the dispatcher's HTTP routes. It holds no package-level state; every
// request is served through an explicit *Agent receiver.
type Agent struct {
	registry   *environment.Registry
	cache      *environment.Cache
	ledger     *ledger.Ledger
	maxRetries int
	version    string
	startedAt  time.Time

	router *mux.Router
}

// NewAgent builds an Agent wired to registry, cache, and an optional
// ledger. The Agent holds the ledger but no route reads it; /status does
// not report build history. maxRetries <= 0 falls back to
// DefaultMaxRetries.
func NewAgent(registry *environment.Registry, cache *environment.Cache, led *ledger.Ledger, maxRetries int) *Agent {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	a := &Agent{
		registry:   registry,
		cache:      cache,
		ledger:     led,
		maxRetries: maxRetries,
		version:    computeVersion(),
		startedAt:  time.Now(),
	}
	a.router = a.newRouter()
	return a
}

// Router returns the Agent's *mux.Router for use with http.Server.
func (a *Agent) Router() *mux.Router { return a.router }

// computeVersion hashes the dispatcher's own embedded source so callers
// can detect a code change across deploys, matching the reference agent's
// own version-from-source-hash scheme.
func computeVersion() string {
	h := sha256.New()
	for _, name := range versionFiles {
		data, err := sourceFiles.ReadFile(name)
		if err != nil {
			continue
		}
		h.Write(data)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func (a *Agent) metricsMiddleware(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		timer.ObserveDurationVec(metrics.APIRequestDuration, route)
		metrics.APIRequestsTotal.WithLabelValues(route, http.StatusText(rec.status)).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
