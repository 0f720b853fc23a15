/*
Package health provides health check mechanisms used outside the warm pool
itself: the platform backend supervising the dispatcher process, and the
environment installer verifying a freshly built virtualenv actually runs.

This package implements two types of health checks: HTTP and Exec. Workers
inside the pool have their own readiness handshake (see pkg/workerproc); this
package is for everything around the pool that still needs a liveness probe.

# Architecture

	┌─────────────────────────────────────────────────────────────┐
	│                   Health Check System                       │
	└─────┬──────────────────────────────────────────────────────┘
	      │
	      ▼
	┌──────────────────────────────────────────────────────────────┐
	│                     Checker Interface                        │
	│  • Check(ctx) Result                                         │
	│  • Type() CheckType                                          │
	└────────┬─────────────────────────────────────────────────────┘
	         │
	    ┌────┴──────┐
	    ▼           ▼
	┌────────┐  ┌────────┐
	│  HTTP  │  │  Exec  │
	│Checker │  │Checker │
	└────────┘  └────────┘
	     │          │
	     ▼          ▼
	  GET /     Run cmd,
	  /health   check exit code

# Health Check Types

## HTTP Health Checks

HTTP checks perform HTTP requests to verify a process is up:

	Check Type: HTTP
	Configuration:
	├── URL: http://localhost:9000/health
	├── Method: GET, POST, HEAD
	├── Headers: Custom HTTP headers
	├── Expected Status: 200-399 (configurable)
	└── Timeout: 10 seconds

Example responses:
  - 200 OK → Healthy
  - 503 Service Unavailable → Unhealthy
  - Connection timeout → Unhealthy
  - Connection refused → Unhealthy

## Exec Health Checks

Exec checks run a command on the host and check its exit code:

	Check Type: Exec
	Configuration:
	├── Command: ["python3", "--version"]
	├── Timeout: 10 seconds
	├── Exit code 0 → Healthy
	└── Exit code != 0 → Unhealthy

Use cases:
  - Verifying a freshly built virtualenv's interpreter runs
  - Any one-shot "does this binary work" sanity check

# Core Components

## Checker Interface

All health checkers implement this interface:

	type Checker interface {
		Check(ctx context.Context) Result
		Type() CheckType
	}

This allows polymorphic health checking — callers don't need to know the
check type, just call Check() and interpret the Result.

## Result Structure

All checks return a standardized Result:

	type Result struct {
		Healthy   bool          // Check passed?
		Message   string        // Human-readable message
		CheckedAt time.Time     // When check ran
		Duration  time.Duration // How long check took
	}

## Status Tracking

Status tracks health over time:

	type Status struct {
		ConsecutiveFailures  int    // Failure streak
		ConsecutiveSuccesses int    // Success streak
		LastCheck            time.Time
		LastResult           Result
		Healthy              bool   // Current health state
		StartedAt            time.Time
	}

The status implements hysteresis - multiple failures required before marking
unhealthy, preventing flapping from transient issues.

## Configuration

	type Config struct {
		Interval    time.Duration  // Time between checks (default: 30s)
		Timeout     time.Duration  // Max check duration (default: 10s)
		Retries     int            // Failures before unhealthy (default: 3)
		StartPeriod time.Duration  // Grace period for slow startup (default: 0)
	}

# Usage Examples

## HTTP Health Check (platform backend supervision)

	import "github.com/lagoonrun/sandboxd/pkg/health"

	checker := health.NewHTTPChecker("http://localhost:9000/health")
	checker.WithTimeout(1 * time.Second)

	result := checker.Check(context.Background())
	if result.Healthy {
		fmt.Printf("sandboxd is up (took %v)\n", result.Duration)
	} else {
		fmt.Printf("sandboxd not responding: %s\n", result.Message)
	}

## Exec Health Check (virtualenv sanity check)

	checker := health.NewExecChecker([]string{venvPath + "/bin/python3", "--version"})
	checker.WithTimeout(5 * time.Second)

	result := checker.Check(context.Background())
	if !result.Healthy {
		return fmt.Errorf("venv sanity check failed: %s", result.Message)
	}

## Health Status Tracking

	status := health.NewStatus()
	config := health.Config{
		Interval:    200 * time.Millisecond,
		Timeout:     1 * time.Second,
		Retries:     3,
		StartPeriod: 0,
	}
	checker := health.NewHTTPChecker("http://localhost:9000/health")

	for {
		ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
		result := checker.Check(ctx)
		cancel()

		status.Update(result, config)
		if !status.Healthy {
			fmt.Printf("unhealthy after %d failures\n", status.ConsecutiveFailures)
			break
		}
		time.Sleep(config.Interval)
	}

# Integration Points

  - pkg/platform: NativeBackend.isRunning polls HTTPChecker against the
    dispatcher's own /health endpoint while supervising it as a child process
  - pkg/install: PipInstaller.Install runs an ExecChecker against the venv's
    python3 binary right after pip install, so a broken venv fails fast
    instead of surfacing as a worker-spawn failure later

# Design Patterns

## Strategy Pattern

	Checker (interface)
	├── HTTPChecker (HTTP strategy)
	└── ExecChecker (Exec strategy)

This allows runtime selection of check type without code changes.

## Builder Pattern

	checker := NewHTTPChecker(url).
		WithMethod("POST").
		WithHeader("Auth", "token").
		WithTimeout(5 * time.Second)

## Hysteresis Pattern

	Healthy → 1 failure → Still healthy
	Healthy → 2 failures → Still healthy
	Healthy → 3 failures → Unhealthy!
	Unhealthy → 1 success → Healthy!

This prevents oscillation from transient issues while still responding to
persistent problems.

## Context-Based Cancellation

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result := checker.Check(ctx)  // Respects timeout

# Best Practices

  - Keep exec checks cheap (`--version`, not a full test suite)
  - Set HTTP checker timeouts well below the caller's own polling interval
  - Don't log check Result.Message at Info level on every poll — only on
    state transitions (healthy → unhealthy or vice versa)

# See Also

  - pkg/platform - supervises the dispatcher process using HTTPChecker
  - pkg/install - verifies virtualenvs using ExecChecker
*/
package health
