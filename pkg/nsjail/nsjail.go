// Package nsjail builds the command-line flags nsjail needs to run a
// sandboxed worker process against one PreparedEnvironment.
package nsjail

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// DefaultBinary is the nsjail executable name looked up on PATH when no
// override is configured.
const DefaultBinary = "nsjail"

// Spec describes one worker's isolation requirements, translated from a
// job's resource fields.
type Spec struct {
	// Binary is the nsjail executable; defaults to DefaultBinary.
	Binary string

	// EnvironmentRoot is the PreparedEnvironment directory, bind-mounted
	// read-only into the jail.
	EnvironmentRoot string

	// WorkDir is the directory inside the jail the worker chdirs into.
	WorkDir string

	// Argv is the worker binary's argv, executed inside the jail.
	Argv []string

	// MemoryMB bounds the jail's cgroup memory limit.
	MemoryMB int

	// CPUs bounds the jail's cgroup CPU share, in whole cores.
	CPUs int

	// AllowNetwork disables the network namespace when true. Sandboxed
	// procedures run with no network access by default.
	AllowNetwork bool

	// ExtraMounts are additional read-only bind mounts, expressed as OCI
	// mount specs and translated into nsjail's --bindmount_ro flags.
	ExtraMounts []specs.Mount
}

func (s Spec) binary() string {
	if s.Binary != "" {
		return s.Binary
	}
	return DefaultBinary
}

// IsAvailable reports whether nsjail (or the configured override) is
// resolvable on PATH.
func IsAvailable(binary string) bool {
	if binary == "" {
		binary = DefaultBinary
	}
	_, err := exec.LookPath(binary)
	return err == nil
}

// Args renders the nsjail command-line flags for Spec. nsjail is invoked
// directly with flags rather than through a generated protobuf config
// file, since the flag surface covers everything this spec needs.
func (s Spec) Args() []string {
	disableNetNamespace := "false"
	if s.AllowNetwork {
		disableNetNamespace = "true"
	}

	args := []string{
		"--mode", "o", // execute once then exit
		"--quiet",
		"--disable_clone_newnet=" + disableNetNamespace,
		"--clone_newuser",
		"--clone_newns",
		"--clone_newpid",
		"--clone_newipc",
		"--clone_newuts",
		"--rlimit_as", "hard",
		"--rlimit_cpu", "hard",
		"--cgroup_mem_max", fmt.Sprintf("%d", s.MemoryMB*1024*1024),
		"--cgroup_cpu_ms_per_sec", fmt.Sprintf("%d", s.CPUs*1000),
		"--cwd", s.WorkDir,
		"--bindmount_ro", s.EnvironmentRoot + ":" + s.EnvironmentRoot,
		"--tmpfsmount", "/tmp",
	}

	for _, m := range s.ExtraMounts {
		args = append(args, "--bindmount_ro", m.Source+":"+m.Destination)
	}

	args = append(args, "--")
	args = append(args, s.Argv...)
	return args
}

// Command builds the *exec.Cmd for launching the jail. The caller is
// responsible for wiring Stdin/Stdout/Stderr before calling Start.
func (s Spec) Command() *exec.Cmd {
	return exec.Command(s.binary(), s.Args()...)
}

// EnsureWorkDir creates WorkDir if it does not already exist.
func EnsureWorkDir(dir string) error {
	return os.MkdirAll(filepath.Clean(dir), 0o755)
}
