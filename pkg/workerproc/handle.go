// Package workerproc implements the worker handle (C2): the supervising
// side of one sandboxed worker process, its lifecycle state machine, and
// the framed RPC used to execute jobs against it.
package workerproc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/lagoonrun/sandboxd/pkg/envelope"
	"github.com/lagoonrun/sandboxd/pkg/framing"
	"github.com/lagoonrun/sandboxd/pkg/log"
	"github.com/lagoonrun/sandboxd/pkg/nsjail"
)

// State is a Handle's position in the lifecycle state machine.
type State string

const (
	Spawning State = "spawning"
	Ready    State = "ready"
	Busy     State = "busy"
	Dead     State = "dead"
)

// ErrWorkerDied is returned by Execute when the worker process can no
// longer be trusted to serve requests: a dead handle is always retryable
// by the caller against a different handle.
var ErrWorkerDied = errors.New("workerproc: worker died")

// ErrJobTimeout is returned by Execute when the job's own deadline expires
// before the worker replies. Unlike ErrWorkerDied this is not an I/O
// failure: the handle still dies (a late reply from the worker would
// otherwise corrupt framing for whatever job runs on it next), but the
// caller must not retry a job that will deterministically time out again.
var ErrJobTimeout = errors.New("workerproc: job deadline exceeded")

// NoopProcedure is the built-in procedure C1 answers during the startup
// probe; every worker binary must implement it.
const NoopProcedure = "noop"

// Config configures how a Handle spawns and supervises its child.
type Config struct {
	Spec           nsjail.Spec
	StartupTimeout time.Duration

	// newCmd overrides how the child process is constructed; tests use
	// this to substitute a fake worker for the real nsjail invocation.
	newCmd func() *exec.Cmd
}

// Handle supervises one worker process pinned to a single
// PreparedEnvironment. At most one RPC is ever in flight on a Handle.
type Handle struct {
	id  string
	cfg Config

	mu    sync.Mutex
	state State
	cmd   *exec.Cmd
	stdin io.WriteCloser
	stdr  *bufio.Reader

	shutdownOnce sync.Once
}

// New creates a Handle in the Spawning state. Call Start to launch the
// child process.
func New(cfg Config) *Handle {
	return &Handle{
		id:    uuid.NewString(),
		cfg:   cfg,
		state: Spawning,
	}
}

// ID returns the handle's unique identifier.
func (h *Handle) ID() string { return h.id }

// State returns the handle's current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Start launches the worker process inside nsjail and blocks until a
// noop round-trip succeeds or StartupTimeout elapses. On failure the
// handle transitions to Dead and the process, if started, is killed.
func (h *Handle) Start(ctx context.Context) error {
	newCmd := h.cfg.newCmd
	if newCmd == nil {
		newCmd = h.cfg.Spec.Command
	}
	cmd := newCmd()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return h.fail(fmt.Errorf("workerproc: stdin pipe: %w", err))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return h.fail(fmt.Errorf("workerproc: stdout pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		return h.fail(fmt.Errorf("workerproc: start: %w", err))
	}

	h.mu.Lock()
	h.cmd = cmd
	h.stdin = stdin
	h.stdr = bufio.NewReader(stdout)
	h.mu.Unlock()

	startCtx, cancel := context.WithTimeout(ctx, h.startupTimeout())
	defer cancel()

	if _, err := h.call(startCtx, NoopProcedure, nil, nil); err != nil {
		_ = h.killLocked()
		return h.fail(fmt.Errorf("workerproc: startup probe: %w", err))
	}

	h.mu.Lock()
	h.state = Ready
	h.mu.Unlock()

	log.WithWorker(h.id).Debug().Msg("worker ready")
	return nil
}

func (h *Handle) startupTimeout() time.Duration {
	if h.cfg.StartupTimeout > 0 {
		return h.cfg.StartupTimeout
	}
	return 30 * time.Second
}

// Execute runs one job against the worker and returns its raw result
// bytes. A dead worker or I/O error transitions the handle to Dead and
// returns an error wrapping ErrWorkerDied. The job's own deadline expiring
// also kills the handle (a late reply would otherwise corrupt framing for
// the next job), but returns an error wrapping ErrJobTimeout instead, so
// callers can tell "ran too long" apart from "worker misbehaved."
func (h *Handle) Execute(ctx context.Context, job *envelope.Job) ([]byte, error) {
	h.mu.Lock()
	if h.state != Ready {
		state := h.state
		h.mu.Unlock()
		return nil, fmt.Errorf("workerproc: execute called in state %s: %w", state, ErrWorkerDied)
	}
	h.state = Busy
	h.mu.Unlock()

	deadline := time.Duration(job.TimeoutSec)*time.Second + 2*time.Second
	execCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	resp, err := h.call(execCtx, string(job.Procedure), job.Args, job.Kwargs)

	h.mu.Lock()
	if err != nil {
		h.state = Dead
		h.mu.Unlock()
		go h.Shutdown(context.Background())
		return nil, err
	}
	h.state = Ready
	h.mu.Unlock()

	if resp.Error {
		kind := envelope.UserError
		if resp.Kind != "" {
			kind = envelope.ErrorKind(resp.Kind)
		}
		return nil, &envelope.Error{Kind: kind, Message: resp.Message, Trace: resp.Trace}
	}
	return resp.Result, nil
}

// call sends one framed WorkerRequest and reads the matching
// WorkerResponse. Any framing failure is surfaced wrapped in
// ErrWorkerDied, since it leaves the stdio stream in an unknown state.
func (h *Handle) call(ctx context.Context, proc string, args, kwargs []byte) (envelope.WorkerResponse, error) {
	req := envelope.WorkerRequest{Proc: []byte(proc), Args: args, Kwargs: kwargs}
	payload, err := envelope.EncodeWorkerRequest(req)
	if err != nil {
		return envelope.WorkerResponse{}, fmt.Errorf("workerproc: encode request: %w", err)
	}

	type result struct {
		resp envelope.WorkerResponse
		err  error
	}
	done := make(chan result, 1)

	go func() {
		h.mu.Lock()
		stdin, stdr := h.stdin, h.stdr
		h.mu.Unlock()

		if err := framing.WriteMessage(stdin, payload); err != nil {
			done <- result{err: fmt.Errorf("%w: write frame: %v", ErrWorkerDied, err)}
			return
		}

		frame, err := framing.ReadMessage(stdr)
		if err != nil {
			done <- result{err: fmt.Errorf("%w: read frame: %v", ErrWorkerDied, err)}
			return
		}

		resp, err := envelope.DecodeWorkerResponse(frame)
		if err != nil {
			done <- result{err: fmt.Errorf("%w: decode response: %v", ErrWorkerDied, err)}
			return
		}
		done <- result{resp: resp}
	}()

	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return envelope.WorkerResponse{}, fmt.Errorf("workerproc: %w", ErrJobTimeout)
		}
		return envelope.WorkerResponse{}, fmt.Errorf("%w: %v", ErrWorkerDied, ctx.Err())
	}
}

func (h *Handle) fail(err error) error {
	h.mu.Lock()
	h.state = Dead
	h.mu.Unlock()
	return err
}

// Shutdown closes stdin, gives the child a grace period to exit, then
// escalates to SIGTERM and SIGKILL. Safe to call more than once.
func (h *Handle) Shutdown(ctx context.Context) error {
	var shutdownErr error
	h.shutdownOnce.Do(func() {
		shutdownErr = h.shutdown(ctx)
	})
	return shutdownErr
}

func (h *Handle) shutdown(ctx context.Context) error {
	h.mu.Lock()
	stdin := h.stdin
	cmd := h.cmd
	h.state = Dead
	h.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	select {
	case <-waitDone:
		return nil
	case <-time.After(time.Second):
	}

	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-waitDone:
		return nil
	case <-time.After(2 * time.Second):
	}

	_ = cmd.Process.Kill()
	<-waitDone
	return nil
}

// ForceStateForTest overrides a handle's lifecycle state. It exists only
// so other packages' tests can exercise pool bookkeeping (LIFO/FIFO
// ordering, dead-handle eviction) without spawning a real process.
func ForceStateForTest(h *Handle, s State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = s
}

// NewForTest creates a Handle whose child process is built by newCmd
// instead of cfg.Spec.Command, so other packages' tests can exercise the
// real stdio RPC against a fake worker without nsjail or a compiled
// sandboxworker binary.
func NewForTest(cfg Config, newCmd func() *exec.Cmd) *Handle {
	cfg.newCmd = newCmd
	return New(cfg)
}

func (h *Handle) killLocked() error {
	h.mu.Lock()
	cmd := h.cmd
	h.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
