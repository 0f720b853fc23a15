package workerproc

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/lagoonrun/sandboxd/pkg/envelope"
	"github.com/lagoonrun/sandboxd/pkg/framing"
)

// TestMain re-execs this test binary as a fake worker when invoked with
// GO_WANT_HELPER_PROCESS=1, the standard os/exec self-reexec pattern. This
// lets handle_test.go exercise the real stdio framing without depending on
// nsjail or a built sandboxworker binary.
func TestMain(m *testing.M) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") == "1" {
		runFakeWorker()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func runFakeWorker() {
	for {
		frame, err := framing.ReadMessage(os.Stdin)
		if err != nil {
			return
		}
		req, err := envelope.DecodeWorkerRequest(frame)
		if err != nil {
			return
		}

		var resp envelope.WorkerResponse
		switch string(req.Proc) {
		case "die":
			return
		case "fail":
			resp = envelope.WorkerResponse{Error: true, Kind: "UserError", Message: "boom", Trace: "fake trace"}
		case "hang":
			time.Sleep(time.Hour)
			continue
		default:
			resp = envelope.WorkerResponse{Error: false, Result: req.Args}
		}

		payload, err := envelope.EncodeWorkerResponse(resp)
		if err != nil {
			return
		}
		if err := framing.WriteMessage(os.Stdout, payload); err != nil {
			return
		}
	}
}

func fakeWorkerCmd() *exec.Cmd {
	cmd := exec.Command(os.Args[0], "-test.run=TestMain")
	cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1")
	return cmd
}

func newTestHandle() *Handle {
	h := New(Config{
		StartupTimeout: 5 * time.Second,
		newCmd:         fakeWorkerCmd,
	})
	return h
}

func TestHandleStartBecomesReady(t *testing.T) {
	h := newTestHandle()
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.Shutdown(context.Background())

	if got := h.State(); got != Ready {
		t.Errorf("State() = %s, want %s", got, Ready)
	}
}

func TestHandleExecuteEchoesArgs(t *testing.T) {
	h := newTestHandle()
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.Shutdown(context.Background())

	job := &envelope.Job{Procedure: []byte("echo"), Args: []byte("payload"), TimeoutSec: 5}
	result, err := h.Execute(context.Background(), job)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if string(result) != "payload" {
		t.Errorf("Execute() result = %q, want %q", result, "payload")
	}
	if got := h.State(); got != Ready {
		t.Errorf("State() after successful execute = %s, want %s", got, Ready)
	}
}

func TestHandleExecuteUserErrorDoesNotKillWorker(t *testing.T) {
	h := newTestHandle()
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.Shutdown(context.Background())

	job := &envelope.Job{Procedure: []byte("fail"), TimeoutSec: 5}
	_, err := h.Execute(context.Background(), job)
	if err == nil {
		t.Fatal("expected an error from a failing procedure")
	}

	var envErr *envelope.Error
	if e, ok := err.(*envelope.Error); !ok || e == nil {
		t.Fatalf("Execute() error = %v, want *envelope.Error", err)
	} else {
		envErr = e
	}
	if envErr.Kind != envelope.UserError {
		t.Errorf("Kind = %s, want %s", envErr.Kind, envelope.UserError)
	}
	if envErr.Trace != "fake trace" {
		t.Errorf("Trace = %q, want %q", envErr.Trace, "fake trace")
	}
	if got := h.State(); got != Ready {
		t.Errorf("a procedure-level error should not kill the worker: state = %s", got)
	}
}

func TestHandleExecuteTimeoutReturnsErrJobTimeout(t *testing.T) {
	h := newTestHandle()
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.Shutdown(context.Background())

	job := &envelope.Job{Procedure: []byte("hang"), TimeoutSec: 1}
	_, err := h.Execute(context.Background(), job)
	if err == nil {
		t.Fatal("expected an error when the job exceeds its deadline")
	}
	if !errors.Is(err, ErrJobTimeout) {
		t.Errorf("Execute() error = %v, want wrapped ErrJobTimeout", err)
	}
	if errors.Is(err, ErrWorkerDied) {
		t.Error("a job timeout must not be reported as ErrWorkerDied")
	}
	if got := h.State(); got != Dead {
		t.Errorf("State() after job timeout = %s, want %s", got, Dead)
	}
}

func TestHandleExecuteWorkerDiedOnProcessExit(t *testing.T) {
	h := newTestHandle()
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.Shutdown(context.Background())

	job := &envelope.Job{Procedure: []byte("die"), TimeoutSec: 2}
	_, err := h.Execute(context.Background(), job)
	if err == nil {
		t.Fatal("expected an error when the worker exits mid-request")
	}
	if got := h.State(); got != Dead {
		t.Errorf("State() after worker exit = %s, want %s", got, Dead)
	}
}

func TestHandleShutdownIdempotent(t *testing.T) {
	h := newTestHandle()
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := h.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := h.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}
