// Package sandboxworker is the procedure registry and RPC loop run by
// cmd/sandboxworker inside the nsjail child. It cannot deserialize an
// arbitrary caller-language closure the way the reference agent's
// cloudpickle does, so procedures are looked up by name against a fixed
// built-in table, plus anything registered at binary-build time via
// Register for embedding scenarios.
package sandboxworker

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/lagoonrun/sandboxd/pkg/envelope"
	"github.com/lagoonrun/sandboxd/pkg/framing"
)

// NoopProcedure is the name used for the startup readiness probe; it
// must always be registered.
const NoopProcedure = "noop"

// Awaitable models the spec's "coroutine/future-like object" result: a
// procedure may return one instead of a plain value, and the loop calls
// Await before replying.
type Awaitable interface {
	Await(ctx context.Context) (any, error)
}

// Func is one registered procedure. args and kwargs are opaque
// msgpack-encoded blobs; a procedure is free to ignore either.
type Func func(ctx context.Context, args, kwargs []byte) (any, error)

var (
	mu       sync.RWMutex
	registry = map[string]Func{}
)

// Register adds name to the procedure table, overwriting any existing
// entry. Intended to be called from init() in binaries that embed this
// package with additional procedures.
func Register(name string, fn Func) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = fn
}

// Lookup returns the registered Func for name, if any.
func Lookup(name string) (Func, bool) {
	mu.RLock()
	defer mu.RUnlock()
	fn, ok := registry[name]
	return fn, ok
}

func init() {
	Register(NoopProcedure, noop)
	Register("echo", echo)
	Register("double", double)
	Register("sleep", sleepProc)
	Register("raise", raiseProc)
}

func noop(ctx context.Context, args, kwargs []byte) (any, error) {
	return nil, nil
}

func echo(ctx context.Context, args, kwargs []byte) (any, error) {
	var v any
	if len(args) == 0 {
		return nil, nil
	}
	if err := msgpack.Unmarshal(args, &v); err != nil {
		return nil, fmt.Errorf("echo: decode args: %w", err)
	}
	return v, nil
}

func double(ctx context.Context, args, kwargs []byte) (any, error) {
	var n int64
	if err := msgpack.Unmarshal(args, &n); err != nil {
		return nil, fmt.Errorf("double: args must be an integer: %w", err)
	}
	return n * 2, nil
}

// sleeper implements Awaitable so `sleep` exercises the same
// await-before-reply path a long-running caller procedure would.
type sleeper struct {
	d time.Duration
}

func (s sleeper) Await(ctx context.Context) (any, error) {
	t := time.NewTimer(s.d)
	defer t.Stop()
	select {
	case <-t.C:
		return s.d.Seconds(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func sleepProc(ctx context.Context, args, kwargs []byte) (any, error) {
	var seconds float64
	if err := msgpack.Unmarshal(args, &seconds); err != nil {
		return nil, fmt.Errorf("sleep: args must be a number: %w", err)
	}
	return sleeper{d: time.Duration(seconds * float64(time.Second))}, nil
}

func raiseProc(ctx context.Context, args, kwargs []byte) (any, error) {
	message := "raised by caller-supplied procedure"
	var m string
	if err := msgpack.Unmarshal(args, &m); err == nil && m != "" {
		message = m
	}
	return nil, &envelope.Error{Kind: envelope.UserError, Message: message}
}

// Run drives the framed stdio RPC loop: read a WorkerRequest, resolve its
// procedure, execute it (awaiting an Awaitable result if one is
// returned), and write back a WorkerResponse. It returns nil on a clean
// EOF (the parent closed stdin) and a non-nil error only when framing
// itself is no longer trustworthy.
func Run(ctx context.Context, r io.Reader, w io.Writer) error {
	for {
		frame, err := framing.ReadMessage(r)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("sandboxworker: read request: %w", err)
		}

		req, err := envelope.DecodeWorkerRequest(frame)
		if err != nil {
			if writeErr := writeResponse(w, envelope.WorkerResponse{
				Error: true, Kind: string(envelope.WorkerInternalKind), Message: err.Error(),
				Trace: string(debug.Stack()),
			}); writeErr != nil {
				return fmt.Errorf("sandboxworker: write decode-failure response: %w", writeErr)
			}
			continue
		}

		resp := dispatch(ctx, req)
		if err := writeResponse(w, resp); err != nil {
			return fmt.Errorf("sandboxworker: write response: %w", err)
		}
	}
}

func dispatch(ctx context.Context, req envelope.WorkerRequest) envelope.WorkerResponse {
	fn, ok := Lookup(string(req.Proc))
	if !ok {
		return envelope.WorkerResponse{
			Error:   true,
			Kind:    string(envelope.UserError),
			Message: fmt.Sprintf("unknown procedure %q", req.Proc),
			Trace:   string(debug.Stack()),
		}
	}

	result, err := fn(ctx, req.Args, req.Kwargs)
	if err == nil {
		if awaitable, ok := result.(Awaitable); ok {
			result, err = awaitable.Await(ctx)
		}
	}
	if err != nil {
		return errorResponse(err)
	}

	if result == nil {
		return envelope.WorkerResponse{Error: false}
	}
	encoded, err := msgpack.Marshal(result)
	if err != nil {
		return errorResponse(fmt.Errorf("encode result: %w", err))
	}
	return envelope.WorkerResponse{Error: false, Result: encoded}
}

func errorResponse(err error) envelope.WorkerResponse {
	var envErr *envelope.Error
	if e, ok := err.(*envelope.Error); ok {
		envErr = e
	}
	if envErr != nil {
		trace := envErr.Trace
		if trace == "" {
			trace = string(debug.Stack())
		}
		return envelope.WorkerResponse{Error: true, Kind: string(envErr.Kind), Message: envErr.Message, Trace: trace}
	}
	return envelope.WorkerResponse{Error: true, Kind: string(envelope.WorkerInternalKind), Message: err.Error(), Trace: string(debug.Stack())}
}

func writeResponse(w io.Writer, resp envelope.WorkerResponse) error {
	payload, err := envelope.EncodeWorkerResponse(resp)
	if err != nil {
		return err
	}
	return framing.WriteMessage(w, payload)
}
