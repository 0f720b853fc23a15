/*
Package log provides structured logging for sandboxd using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for the fields this agent logs most: environment fingerprint, pool, worker, and
job IDs.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("dispatch")                │          │
	│  │  - WithFingerprint(fp)                      │          │
	│  │  - WithPool(fp)                             │          │
	│  │  - WithWorker(workerID)                     │          │
	│  │  - WithJob(jobID)                            │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "dispatch",                 │          │
	│  │    "time": "2026-07-30T10:30:00Z",         │          │
	│  │    "message": "job accepted"                │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  2026-07-30T10:30:00Z INF job accepted component=dispatch │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all sandboxd packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: Filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithFingerprint: Add dependency-set fingerprint context
  - WithPool: Add the warm pool's fingerprint context
  - WithWorker: Add worker-handle ID context
  - WithJob: Add job/request ID context

# Log Levels

Debug Level:
  - Purpose: Detailed debugging information
  - Usage: Development and troubleshooting
  - Performance: Verbose, may impact production
  - Example: "waiting on pool acquire: fingerprint=ab12cd34ef567890"

Info Level:
  - Purpose: General informational messages
  - Usage: Default production level
  - Performance: Moderate volume
  - Example: "environment build completed: fingerprint=ab12cd34ef567890 duration=3.2s"

Warn Level:
  - Purpose: Potential issues or unexpected conditions
  - Usage: Situations that may require attention
  - Performance: Low volume
  - Example: "pool saturated, rejecting acquire: fingerprint=ab12cd34ef567890"

Error Level:
  - Purpose: Operation failures that need investigation
  - Usage: Failed operations, exceptions
  - Performance: Low volume
  - Example: "worker died mid-execute: worker=9f3a... job=77c1..."

Fatal Level:
  - Purpose: Critical errors causing process termination
  - Usage: Unrecoverable errors only
  - Behavior: Logs message and exits process (os.Exit(1))
  - Example: "failed to open ledger: %v"

# Usage

Initializing the Logger:

	import "github.com/lagoonrun/sandboxd/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

	// Custom output (file)
	file, _ := os.OpenFile("/var/log/sandboxd.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     file,
	})

Simple Logging:

	log.Info("sandboxd starting")
	log.Debug("checking cache directory")
	log.Warn("pool below target size")
	log.Error("installer failed")
	log.Fatal("cannot start without ledger") // Exits process

Structured Logging:

	log.Logger.Info().
		Str("fingerprint", fp).
		Int("pool_size", n).
		Msg("pool started")

	log.Logger.Error().
		Err(err).
		Str("worker_id", workerID).
		Msg("worker health check failed")

Component Loggers:

	// Create component-specific logger
	dispatchLog := log.WithComponent("dispatch")
	dispatchLog.Info().Msg("serving /execute")
	dispatchLog.Debug().Str("job_id", jobID).Msg("dispatching job")

	// Multiple context fields
	jobLog := log.WithComponent("dispatch").
		With().Str("worker_id", workerID).
		Str("job_id", jobID).Logger()
	jobLog.Info().Msg("job started")
	jobLog.Error().Err(err).Msg("job failed")

Context Logger Helpers:

	// Fingerprint-specific logs
	fpLog := log.WithFingerprint("ab12cd34ef567890")
	fpLog.Info().Msg("environment build started")

	// Pool-specific logs
	poolLog := log.WithPool("ab12cd34ef567890")
	poolLog.Info().Msg("pool reached target size")

	// Worker-specific logs
	workerLog := log.WithWorker("9f3a2b1c")
	workerLog.Info().Msg("worker spawned")

	// Job-specific logs
	jobLog := log.WithJob("77c1e9d0")
	jobLog.Info().Msg("execute accepted")

Complete Example:

	package main

	import (
		"errors"
		"os"

		"github.com/lagoonrun/sandboxd/pkg/log"
	)

	func main() {
		log.Init(log.Config{
			Level:      log.InfoLevel,
			JSONOutput: true,
			Output:     os.Stdout,
		})

		log.Info("sandboxd starting")

		dispatchLog := log.WithComponent("dispatch")
		dispatchLog.Info().
			Str("worker_id", "w-1").
			Int("retry", 0).
			Msg("dispatching job")

		err := errors.New("connection refused")
		log.Logger.Error().
			Err(err).
			Str("component", "workerproc").
			Msg("failed to dial worker stdio pipe")

		log.Info("sandboxd stopped")
	}

# Integration Points

This package integrates with:

  - pkg/dispatch: logs failed jobs and retries after worker-death events
  - pkg/pool: logs worker spawn failures
  - pkg/environment: logs environment builds; cache hits are not logged
  - pkg/platform: logs backend lifecycle (start/stop/health)
  - cmd/sandboxd: logs process startup and graceful shutdown

# Log Output Examples

JSON Format (Production):

	{"level":"info","component":"dispatch","time":"2026-07-30T10:30:00Z","message":"sandboxd listening"}
	{"level":"info","component":"pool","fingerprint":"ab12cd34ef567890","time":"2026-07-30T10:30:01Z","message":"pool reached target size"}
	{"level":"error","component":"dispatch","worker_id":"w-1","error":"EOF","time":"2026-07-30T10:30:02Z","message":"worker died"}

Console Format (Development):

	2026-07-30T10:30:00Z INF sandboxd listening component=dispatch
	2026-07-30T10:30:01Z INF pool reached target size component=pool fingerprint=ab12cd34ef567890
	2026-07-30T10:30:02Z ERR worker died component=dispatch worker_id=w-1 error=EOF

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at application start
  - Accessible from all packages without passing
  - Simplifies logging in deeply nested calls

Context Logger Pattern:
  - Create child loggers with context fields
  - Pass context loggers to functions
  - Automatically includes context in all logs
  - Avoids repetitive field specification

Structured Logging Pattern:
  - Use typed fields (.Str, .Int, .Err)
  - Enables log aggregation and querying
  - Better than string concatenation
  - Parseable by log analysis tools

Error Logging Pattern:
  - Always use .Err(err) for error objects
  - Enables error tracking and alerting
  - Consistent error format across codebase

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Log errors with .Err() for stack traces
  - Include context (fingerprint, worker ID, job ID)

Don't:
  - Log job arguments or results (may contain caller data)
  - Use Debug level in production
  - Log in tight loops (use sampling)
  - Concatenate strings (use .Str, .Int)
  - Block on log writes (use buffered output)

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - Structured logging: https://www.thoughtworks.com/radar/techniques/structured-logging
  - 12-Factor App Logs: https://12factor.net/logs
*/
package log
