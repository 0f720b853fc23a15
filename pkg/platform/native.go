package platform

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/lagoonrun/sandboxd/pkg/health"
	"github.com/lagoonrun/sandboxd/pkg/log"
)

// NativeBackend runs sandboxd directly on the host against nsjail, no VM
// layer involved. It is the only backend available on Linux and matches
// original_source/platform/native.py's PID-file-plus-health-check
// supervision strategy.
type NativeBackend struct {
	BinaryPath string
	CacheDir   string
	PIDFile    string
	Port       int

	checker *health.HTTPChecker
}

// NewNativeBackend builds a NativeBackend that launches binaryPath as a
// detached child and tracks it via a PID file under cacheDir.
func NewNativeBackend(binaryPath, cacheDir string) *NativeBackend {
	n := &NativeBackend{
		BinaryPath: binaryPath,
		CacheDir:   cacheDir,
		PIDFile:    filepath.Join(cacheDir, "sandboxd.pid"),
		Port:       DefaultAgentPort,
	}
	n.checker = health.NewHTTPChecker(n.agentURL() + "/health").WithTimeout(time.Second)
	return n
}

func (n *NativeBackend) agentURL() string {
	return fmt.Sprintf("http://localhost:%d", n.Port)
}

// IsAvailable reports whether nsjail is on PATH; sandboxd has nothing
// useful to do without it.
func (n *NativeBackend) IsAvailable() bool {
	if runtime.GOOS != "linux" {
		return false
	}
	_, err := exec.LookPath("nsjail")
	return err == nil
}

func (n *NativeBackend) isRunning() bool {
	pid, ok := n.readPID()
	if ok {
		if err := syscall.Kill(pid, 0); err != nil {
			_ = os.Remove(n.PIDFile)
			return false
		}
	}
	return n.checker.Check(context.Background()).Healthy
}

func (n *NativeBackend) readPID() (int, bool) {
	data, err := os.ReadFile(n.PIDFile)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	return pid, true
}

// EnsureRunning starts sandboxd as a detached background process if it is
// not already healthy, then waits for /health to return 200.
func (n *NativeBackend) EnsureRunning(ctx context.Context) error {
	if n.isRunning() {
		return nil
	}

	if err := os.MkdirAll(n.CacheDir, 0o755); err != nil {
		return fmt.Errorf("platform: create cache dir: %w", err)
	}

	logFile, err := os.Create(filepath.Join(n.CacheDir, "sandboxd.log"))
	if err != nil {
		return fmt.Errorf("platform: create log file: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(n.BinaryPath, "agent", "start")
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Env = append(os.Environ(), "CACHE_DIR="+n.CacheDir)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("platform: start sandboxd: %w", err)
	}
	if err := os.WriteFile(n.PIDFile, []byte(strconv.Itoa(cmd.Process.Pid)), 0o644); err != nil {
		return fmt.Errorf("platform: write pid file: %w", err)
	}

	logger := log.WithComponent("platform-native")
	logger.Info().Int("pid", cmd.Process.Pid).Msg("sandboxd started")

	return n.waitHealthy(ctx)
}

func (n *NativeBackend) waitHealthy(ctx context.Context) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		if n.isRunning() {
			return nil
		}
		select {
		case <-ctx.Done():
			_ = os.Remove(n.PIDFile)
			return fmt.Errorf("platform: sandboxd did not become healthy: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Stop sends SIGTERM to the tracked PID and escalates to SIGKILL after a
// grace period, mirroring native.py's stop().
func (n *NativeBackend) Stop(ctx context.Context) error {
	pid, ok := n.readPID()
	if !ok {
		return nil
	}
	defer os.Remove(n.PIDFile)

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return nil
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if err := syscall.Kill(pid, 0); err != nil {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	return syscall.Kill(pid, syscall.SIGKILL)
}
