// Command sandboxd is the dispatcher binary: it serves the HTTP surface
// in pkg/dispatch, wiring config, logging, metrics, the environment
// cache/registry, and graceful shutdown around it.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lagoonrun/sandboxd/pkg/config"
	"github.com/lagoonrun/sandboxd/pkg/dispatch"
	"github.com/lagoonrun/sandboxd/pkg/environment"
	"github.com/lagoonrun/sandboxd/pkg/fingerprint"
	"github.com/lagoonrun/sandboxd/pkg/install"
	"github.com/lagoonrun/sandboxd/pkg/ledger"
	"github.com/lagoonrun/sandboxd/pkg/log"
	"github.com/lagoonrun/sandboxd/pkg/metrics"
	"github.com/lagoonrun/sandboxd/pkg/nsjail"
	"github.com/lagoonrun/sandboxd/pkg/pool"
	"github.com/lagoonrun/sandboxd/pkg/workerproc"
)

// environmentDefaultMemoryMB and environmentDefaultCPUs size every
// worker's nsjail cgroup. The warm pool spawns handles ahead of any
// specific job, so resource limits are per-pool, not per-job. The
// dispatcher does not compare a job's memory_mb or cpus against these
// values: every worker runs with these limits whatever the job asks for.
const (
	environmentDefaultMemoryMB = 1024
	environmentDefaultCPUs     = 1
)

// workerBinaryPath resolves cmd/sandboxworker's built binary, expected
// to sit alongside the sandboxd binary in the same directory.
func workerBinaryPath() (string, error) {
	self, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(self), "sandboxworker"), nil
}

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "sandboxd",
	Short:   "sandboxd runs a warm pool of nsjail-isolated worker processes",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("sandboxd version %s\nCommit: %s\n", Version, Commit))
	rootCmd.AddCommand(agentCmd)
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "agent lifecycle commands",
}

func init() {
	agentCmd.AddCommand(agentStartCmd)
}

var agentStartCmd = &cobra.Command{
	Use:   "start",
	Short: "start the dispatcher and serve the HTTP API",
	RunE:  runAgentStart,
}

func runAgentStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})

	led, err := ledger.Open(cfg.CacheDir)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer led.Close()

	installer := install.NewPipInstaller(cfg.PythonBin)
	builtin := environment.Prepared{Fingerprint: fingerprint.Empty}
	cache, err := environment.NewCache(cfg.CacheDir, installer, builtin, led)
	if err != nil {
		metrics.RegisterComponent("environment", false, err.Error())
		return fmt.Errorf("create environment cache: %w", err)
	}
	metrics.RegisterComponent("environment", true, "")

	workerBinary, err := workerBinaryPath()
	if err != nil {
		return fmt.Errorf("resolve worker binary: %w", err)
	}
	handlesFor := func(p environment.Prepared) pool.HandleFactory {
		return func() *workerproc.Handle {
			return workerproc.New(workerproc.Config{
				Spec: nsjail.Spec{
					Binary:          cfg.NsjailPath,
					EnvironmentRoot: p.Path,
					WorkDir:         p.Path,
					Argv:            []string{workerBinary},
					MemoryMB:        environmentDefaultMemoryMB,
					CPUs:            environmentDefaultCPUs,
				},
				StartupTimeout: time.Duration(cfg.WorkerStartupTimeoutSec) * time.Second,
			})
		}
	}

	registry := environment.NewRegistry(cache, handlesFor, cfg.PoolSize)
	agent := dispatch.NewAgent(registry, cache, led, cfg.MaxRetries)
	agent.Router().Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", cfg.AgentPort),
		Handler: agent.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		listener, err := net.Listen("tcp", server.Addr)
		if err != nil {
			errCh <- fmt.Errorf("listen on %s: %w", server.Addr, err)
			return
		}
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("serve: %w", err)
		}
	}()

	logger := log.WithComponent("sandboxd")
	logger.Info().Int("port", cfg.AgentPort).Msg("sandboxd listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	if err := registry.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown worker pools: %w", err)
	}

	logger.Info().Msg("shutdown complete")
	return nil
}
