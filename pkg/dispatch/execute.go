package dispatch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lagoonrun/sandboxd/pkg/envelope"
	"github.com/lagoonrun/sandboxd/pkg/log"
	"github.com/lagoonrun/sandboxd/pkg/metrics"
	"github.com/lagoonrun/sandboxd/pkg/pool"
	"github.com/lagoonrun/sandboxd/pkg/workerproc"
)

const maxRequestBytes = 64 << 20

// handleExecute decodes one /execute request, resolves it to a warm pool,
// and runs it against a handle, retrying against a fresh handle if the
// one it acquired dies mid-request. Status is always 200; outcomes are
// surfaced in-band via envelope.ExecuteResponse.
func (a *Agent) handleExecute(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	logger := log.WithJob(requestID)
	timer := metrics.NewTimer()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		a.writeError(w, logger, timer, envelope.NewError(envelope.BadRequest, err.Error()))
		return
	}

	job, err := envelope.DecodeJob(body)
	if err != nil {
		var envErr *envelope.Error
		if errors.As(err, &envErr) {
			a.writeError(w, logger, timer, envErr)
			return
		}
		a.writeError(w, logger, timer, envelope.NewError(envelope.BadRequest, err.Error()))
		return
	}
	logger = log.WithFingerprint(job.DepHash)

	p, err := a.registry.EnsurePool(r.Context(), job.DependencySet())
	if err != nil {
		a.writeError(w, logger, timer, envelope.WrapError(envelope.DependencyInstall, err))
		return
	}

	result, execErr := a.runWithRetries(r.Context(), p, job, logger)
	if execErr != nil {
		a.writeError(w, logger, timer, execErr)
		return
	}

	metrics.JobsTotal.WithLabelValues("success").Inc()
	timer.ObserveDuration(metrics.JobDuration)
	body, err = envelope.EncodeResult(result)
	if err != nil {
		a.writeError(w, logger, timer, envelope.WrapError(envelope.AgentInternal, err))
		return
	}
	w.Header().Set("Content-Type", "application/msgpack")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// runWithRetries acquires a handle and executes job, retrying against a
// freshly acquired handle up to a.maxRetries times if the acquired handle
// dies mid-request. A worker-replied error and a job that exceeded its own
// deadline are never retried: the first has already run to completion
// (successfully or not), and the second will time out again deterministically.
func (a *Agent) runWithRetries(ctx context.Context, p *pool.Pool, job *envelope.Job, logger zerolog.Logger) ([]byte, *envelope.Error) {
	acquireDeadline, cancelAcquire := context.WithTimeout(ctx, timeoutWithHeadroom(job))
	defer cancelAcquire()

	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		acquireTimer := metrics.NewTimer()
		h, err := p.Acquire(acquireDeadline)
		acquireTimer.ObserveDuration(metrics.AcquireDuration)
		if err != nil {
			if errors.Is(err, pool.ErrPoolSaturated) {
				return nil, envelope.WrapError(envelope.PoolSaturated, err)
			}
			return nil, envelope.WrapError(envelope.AgentInternal, err)
		}

		execTimer := metrics.NewTimer()
		result, err := h.Execute(ctx, job)
		execTimer.ObserveDuration(metrics.ExecuteDuration)

		if err == nil {
			p.Release(h)
			return result, nil
		}

		var envErr *envelope.Error
		if errors.As(err, &envErr) {
			// The worker itself replied with a structured error (its own
			// Kind and Trace, if any) rather than dying or timing out.
			p.Release(h)
			return nil, envErr
		}

		if errors.Is(err, workerproc.ErrJobTimeout) {
			// The job ran past its own deadline; it will do so again on
			// any handle, so there is nothing to gain by retrying it.
			p.Release(h)
			return nil, envelope.NewError(envelope.Timeout, err.Error())
		}

		if errors.Is(err, workerproc.ErrWorkerDied) {
			p.Release(h)
			metrics.WorkerDeathsTotal.WithLabelValues(job.DepHash, "execute_failed").Inc()
			if attempt < a.maxRetries {
				metrics.JobRetriesTotal.Inc()
				logger.Warn().Int("attempt", attempt+1).Msg("worker died, retrying against a fresh handle")
				continue
			}
			return nil, envelope.WrapError(envelope.WorkerDied, err)
		}

		p.Release(h)
		return nil, envelope.WrapError(envelope.AgentInternal, err)
	}

	return nil, envelope.NewError(envelope.Timeout, "exhausted retries")
}

func timeoutWithHeadroom(job *envelope.Job) time.Duration {
	return time.Duration(job.TimeoutSec)*time.Second + AcquireHeadroom
}

func (a *Agent) writeError(w http.ResponseWriter, logger zerolog.Logger, timer *metrics.Timer, err *envelope.Error) {
	metrics.JobsTotal.WithLabelValues(string(err.Kind)).Inc()
	timer.ObserveDuration(metrics.JobDuration)
	logger.Error().Str("kind", string(err.Kind)).Msg(err.Message)

	body, encErr := envelope.EncodeError(err)
	if encErr != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/msgpack")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
