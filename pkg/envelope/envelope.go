// Package envelope defines the wire types sandboxd exchanges with its
// callers (msgpack over HTTP) and with worker processes (msgpack inside a
// framed stdio payload), plus the structured error taxonomy threaded
// through both.
package envelope

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/lagoonrun/sandboxd/pkg/fingerprint"
)

// ErrorKind classifies an in-band execution failure. Values match the
// taxonomy sandboxd surfaces to callers verbatim.
type ErrorKind string

const (
	BadRequest         ErrorKind = "BadRequest"
	DependencyInstall  ErrorKind = "DependencyInstall"
	PoolSaturated      ErrorKind = "PoolSaturated"
	Timeout            ErrorKind = "Timeout"
	WorkerDied         ErrorKind = "WorkerDied"
	UserError          ErrorKind = "UserError"
	AgentInternal      ErrorKind = "AgentInternal"
	WorkerInternalKind ErrorKind = "WorkerInternal"
)

// Retryable reports whether the dispatcher should retry a job that failed
// with this kind. Only a dead worker justifies a retry; everything else is
// either the caller's fault or has already exhausted its own retries.
func (k ErrorKind) Retryable() bool {
	return k == WorkerDied
}

// Error is the structured error carried through the dispatcher's retry
// loop and serialized back to callers on the wire.
type Error struct {
	Kind    ErrorKind `msgpack:"kind"`
	Message string    `msgpack:"message"`
	Trace   string    `msgpack:"trace,omitempty"`
	cause   error
}

func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func WrapError(kind ErrorKind, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: cause.Error(), cause: cause}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Job is a decoded /execute request. It is immutable once constructed and
// has exactly one dispatch lifetime.
type Job struct {
	Procedure    []byte   `msgpack:"proc"`
	Args         []byte   `msgpack:"args"`
	Kwargs       []byte   `msgpack:"kwargs"`
	Dependencies []string `msgpack:"dependencies"`
	DepHash      string   `msgpack:"dep_hash"`
	TimeoutSec   int      `msgpack:"timeout_sec"`
	MemoryMB     int      `msgpack:"memory_mb"`
	CPUs         int      `msgpack:"cpus"`
}

const (
	DefaultTimeoutSec = 30
	DefaultMemoryMB   = 1024
	DefaultCPUs       = 1
)

// DependencySet returns the fingerprint.Set a Job was decoded with, for
// callers (pkg/environment, pkg/dispatch) that key pools and caches off it.
func (j *Job) DependencySet() fingerprint.Set {
	return fingerprint.Set{Dependencies: j.Dependencies, Fingerprint: j.DepHash}
}

// DecodeJob unmarshals a raw /execute request body, fills in defaults for
// fields the caller omitted, and derives DepHash server-side so a caller
// can never forge a fingerprint that doesn't match its own Dependencies.
func DecodeJob(body []byte) (*Job, error) {
	var j Job
	if err := msgpack.Unmarshal(body, &j); err != nil {
		return nil, WrapError(BadRequest, err)
	}
	if j.TimeoutSec <= 0 {
		j.TimeoutSec = DefaultTimeoutSec
	}
	if j.MemoryMB <= 0 {
		j.MemoryMB = DefaultMemoryMB
	}
	if j.CPUs <= 0 {
		j.CPUs = DefaultCPUs
	}

	set := fingerprint.NewSet(j.Dependencies)
	j.Dependencies = set.Dependencies
	j.DepHash = set.Fingerprint

	return &j, nil
}

// ExecuteResponse is the /execute reply envelope. Result is populated on
// success; Kind, Message and Trace are populated when Error is true.
type ExecuteResponse struct {
	Error   bool      `msgpack:"error"`
	Result  []byte    `msgpack:"result,omitempty"`
	Kind    ErrorKind `msgpack:"kind,omitempty"`
	Message string    `msgpack:"message,omitempty"`
	Trace   string    `msgpack:"trace,omitempty"`
}

func EncodeResult(result []byte) ([]byte, error) {
	return msgpack.Marshal(ExecuteResponse{Error: false, Result: result})
}

func EncodeError(err *Error) ([]byte, error) {
	return msgpack.Marshal(ExecuteResponse{
		Error:   true,
		Kind:    err.Kind,
		Message: err.Message,
		Trace:   err.Trace,
	})
}

// WorkerRequest is the payload a Handle sends a worker process, framed and
// msgpack-encoded.
type WorkerRequest struct {
	Proc   []byte `msgpack:"proc"`
	Args   []byte `msgpack:"args"`
	Kwargs []byte `msgpack:"kwargs"`
}

// WorkerResponse is the payload a worker process sends back.
type WorkerResponse struct {
	Error   bool   `msgpack:"error"`
	Result  []byte `msgpack:"result,omitempty"`
	Kind    string `msgpack:"kind,omitempty"`
	Message string `msgpack:"message,omitempty"`
	Trace   string `msgpack:"trace,omitempty"`
}

func EncodeWorkerRequest(req WorkerRequest) ([]byte, error) {
	return msgpack.Marshal(req)
}

func DecodeWorkerRequest(payload []byte) (WorkerRequest, error) {
	var req WorkerRequest
	err := msgpack.Unmarshal(payload, &req)
	return req, err
}

func EncodeWorkerResponse(resp WorkerResponse) ([]byte, error) {
	return msgpack.Marshal(resp)
}

func DecodeWorkerResponse(payload []byte) (WorkerResponse, error) {
	var resp WorkerResponse
	err := msgpack.Unmarshal(payload, &resp)
	return resp, err
}
