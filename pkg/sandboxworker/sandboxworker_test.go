package sandboxworker

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/lagoonrun/sandboxd/pkg/envelope"
	"github.com/lagoonrun/sandboxd/pkg/framing"
)

func callDispatch(t *testing.T, proc string, args any) envelope.WorkerResponse {
	t.Helper()
	var argsBytes []byte
	if args != nil {
		b, err := msgpack.Marshal(args)
		if err != nil {
			t.Fatalf("marshal args: %v", err)
		}
		argsBytes = b
	}
	return dispatch(context.Background(), envelope.WorkerRequest{Proc: []byte(proc), Args: argsBytes})
}

func TestNoopSucceeds(t *testing.T) {
	resp := callDispatch(t, NoopProcedure, nil)
	if resp.Error {
		t.Fatalf("noop returned an error: %+v", resp)
	}
}

func TestEchoReturnsArgsUnchanged(t *testing.T) {
	resp := callDispatch(t, "echo", "hello")
	if resp.Error {
		t.Fatalf("echo returned an error: %+v", resp)
	}
	var got string
	if err := msgpack.Unmarshal(resp.Result, &got); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if got != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}
}

func TestDoubleDoublesInteger(t *testing.T) {
	resp := callDispatch(t, "double", int64(21))
	if resp.Error {
		t.Fatalf("double returned an error: %+v", resp)
	}
	var got int64
	if err := msgpack.Unmarshal(resp.Result, &got); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if got != 42 {
		t.Errorf("got %d, want 42", got)
	}
}

func TestRaiseSurfacesUserError(t *testing.T) {
	resp := callDispatch(t, "raise", "boom")
	if !resp.Error {
		t.Fatal("raise should return an error response")
	}
	if resp.Kind != string(envelope.UserError) {
		t.Errorf("Kind = %q, want %q", resp.Kind, envelope.UserError)
	}
	if resp.Message != "boom" {
		t.Errorf("Message = %q, want %q", resp.Message, "boom")
	}
	if resp.Trace == "" {
		t.Error("expected a non-empty trace")
	}
}

func TestUnknownProcedureIsUserError(t *testing.T) {
	resp := callDispatch(t, "does-not-exist", nil)
	if !resp.Error {
		t.Fatal("unknown procedure should return an error response")
	}
	if resp.Kind != string(envelope.UserError) {
		t.Errorf("Kind = %q, want %q", resp.Kind, envelope.UserError)
	}
}

func TestSleepAwaitsBeforeReplying(t *testing.T) {
	started := time.Now()
	resp := callDispatch(t, "sleep", 0.05)
	if resp.Error {
		t.Fatalf("sleep returned an error: %+v", resp)
	}
	if time.Since(started) < 50*time.Millisecond {
		t.Error("sleep should not reply before its duration elapses")
	}
}

// TestRunExitsCleanlyOnEOF drives the full framed loop through an
// io.Pipe: one request, one response, then the writer closes its end and
// Run must return nil rather than an error.
func TestRunExitsCleanlyOnEOF(t *testing.T) {
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()

	runDone := make(chan error, 1)
	go func() { runDone <- Run(context.Background(), reqR, respW) }()

	go func() {
		payload, _ := envelope.EncodeWorkerRequest(envelope.WorkerRequest{Proc: []byte("noop")})
		_ = framing.WriteMessage(reqW, payload)
		_ = reqW.Close()
	}()

	frame, err := framing.ReadMessage(respR)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	resp, err := envelope.DecodeWorkerResponse(frame)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error {
		t.Fatalf("noop returned an error: %+v", resp)
	}

	select {
	case err := <-runDone:
		if err != nil {
			t.Errorf("Run returned %v, want nil on clean EOF", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after stdin closed")
	}
}
