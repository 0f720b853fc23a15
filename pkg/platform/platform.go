// Package platform selects and supervises the process that hosts
// sandboxd's HTTP surface: on Linux that is the dispatcher itself running
// natively against nsjail, on other hosts it is a VM wrapping the same
// native setup. The core dispatcher is written once against pkg/nsjail
// and never imports this package directly; Backend exists only for the
// CLI entrypoint that decides how to get a dispatcher running at all.
package platform

import "context"

// Backend starts, supervises, and tears down one dispatcher instance.
// Exactly one Backend is selected per host at startup.
type Backend interface {
	// IsAvailable reports whether this backend's prerequisites are
	// present on the host (a binary on PATH, a hypervisor, etc.).
	IsAvailable() bool

	// EnsureRunning starts the backend if it is not already running and
	// blocks until its agent responds healthy, or ctx expires.
	EnsureRunning(ctx context.Context) error

	// Stop shuts the backend down gracefully.
	Stop(ctx context.Context) error
}

// DefaultAgentPort is the port sandboxd listens on across every backend,
// matching the reference agent's fixed port so existing callers never
// need to discover it.
const DefaultAgentPort = 9000
