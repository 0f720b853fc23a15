// Package install implements environment.Installer for C4: building a
// Python virtualenv and pip-installing a job's dependencies into it,
// grounded on original_source/agent/simple_agent.py's
// _ensure_venv (python3 -m venv, then pip install).
package install

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/lagoonrun/sandboxd/pkg/health"
)

// runtimeDeps are installed into every venv alongside a job's own
// dependencies, matching the reference agent's worker-needs comment:
// cloudpickle for serialization, fastapi+uvicorn for its HTTP server.
// sandboxd's own worker speaks msgpack over stdio rather than HTTP, but
// keeps cloudpickle so pickled-callable procedures built against the
// reference agent's wire format still unpickle cleanly.
var runtimeDeps = []string{"cloudpickle"}

// PipInstaller builds a venv under the path Cache.build passes it and
// installs the requested dependencies with pip.
type PipInstaller struct {
	PythonBin string
}

// NewPipInstaller creates a PipInstaller that invokes pythonBin (falling
// back to "python3" if empty) to create venvs.
func NewPipInstaller(pythonBin string) *PipInstaller {
	if pythonBin == "" {
		pythonBin = "python3"
	}
	return &PipInstaller{PythonBin: pythonBin}
}

// Install creates a venv at path and pip-installs deps plus runtimeDeps
// into it.
func (p *PipInstaller) Install(ctx context.Context, path string, deps []string) error {
	venvCmd := exec.CommandContext(ctx, p.PythonBin, "-m", "venv", path)
	if out, err := venvCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("install: create venv: %w: %s", err, out)
	}

	pipBin := path + "/bin/pip"
	args := append([]string{"install", "--no-cache-dir"}, runtimeDeps...)
	args = append(args, deps...)

	pipCmd := exec.CommandContext(ctx, pipBin, args...)
	if out, err := pipCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("install: pip install: %w: %s", err, out)
	}

	check := health.NewExecChecker([]string{path + "/bin/python3", "--version"})
	if result := check.Check(ctx); !result.Healthy {
		return fmt.Errorf("install: venv sanity check failed: %s", result.Message)
	}
	return nil
}
