// Package environment implements the environment cache and pool registry
// (C4): building and reusing PreparedEnvironments keyed by dependency
// fingerprint, and the fingerprint-keyed pool registry layered on top.
package environment

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"github.com/lagoonrun/sandboxd/pkg/fingerprint"
	"github.com/lagoonrun/sandboxd/pkg/ledger"
	"github.com/lagoonrun/sandboxd/pkg/log"
)

// Manifest is the on-disk record of one PreparedEnvironment, written once
// a build completes and never modified afterward.
type Manifest struct {
	Fingerprint  string    `yaml:"fingerprint"`
	Dependencies []string  `yaml:"dependencies"`
	BuiltAt      time.Time `yaml:"built_at"`
}

// Prepared describes a built, immutable environment directory.
type Prepared struct {
	Fingerprint string
	Path        string
	Manifest    Manifest
}

// Installer builds a PreparedEnvironment's on-disk contents at path for
// the given dependency list. It is free to take as long as it needs; the
// only caller-visible bound is the HTTP request's own deadline.
type Installer interface {
	Install(ctx context.Context, path string, deps []string) error
}

const manifestFile = "manifest.yaml"
const readyMarker = ".ready"

// Cache builds PreparedEnvironments under cacheRoot and hands out the
// same one to every caller for a given fingerprint, deduplicating
// concurrent builds with a singleflight group.
type Cache struct {
	cacheRoot string
	installer Installer
	builtin   Prepared
	ledger    *ledger.Ledger

	mu    sync.RWMutex
	byFP  map[string]Prepared
	group singleflight.Group
}

// NewCache creates a Cache rooted at cacheRoot. builtin is the agent's
// own pre-built interpreter environment, returned directly for jobs with
// no dependencies (fingerprint.Empty) without invoking the installer.
func NewCache(cacheRoot string, installer Installer, builtin Prepared, led *ledger.Ledger) (*Cache, error) {
	if err := os.MkdirAll(cacheRoot, 0o755); err != nil {
		return nil, fmt.Errorf("environment: create cache root: %w", err)
	}
	return &Cache{
		cacheRoot: cacheRoot,
		installer: installer,
		builtin:   builtin,
		ledger:    led,
		byFP:      make(map[string]Prepared),
	}, nil
}

// Ensure returns the PreparedEnvironment for set, building it if this is
// the first time this fingerprint has been seen. Concurrent callers for
// the same fingerprint share one build (P4).
func (c *Cache) Ensure(ctx context.Context, set fingerprint.Set) (Prepared, error) {
	if set.Fingerprint == fingerprint.Empty {
		return c.builtin, nil
	}

	c.mu.RLock()
	if p, ok := c.byFP[set.Fingerprint]; ok {
		c.mu.RUnlock()
		return p, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do(set.Fingerprint, func() (any, error) {
		c.mu.RLock()
		if p, ok := c.byFP[set.Fingerprint]; ok {
			c.mu.RUnlock()
			return p, nil
		}
		c.mu.RUnlock()

		p, err := c.build(ctx, set)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.byFP[set.Fingerprint] = p
		c.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return Prepared{}, err
	}
	return v.(Prepared), nil
}

func (c *Cache) build(ctx context.Context, set fingerprint.Set) (Prepared, error) {
	started := time.Now()
	logger := log.WithFingerprint(set.Fingerprint)
	logger.Info().Strs("dependencies", set.Dependencies).Msg("building environment")

	finalPath := filepath.Join(c.cacheRoot, "env-"+set.Fingerprint)
	buildPath := finalPath + ".building"

	if data, err := os.ReadFile(filepath.Join(finalPath, manifestFile)); err == nil {
		if _, err := os.Stat(filepath.Join(finalPath, readyMarker)); err == nil {
			var m Manifest
			if err := yaml.Unmarshal(data, &m); err == nil {
				return Prepared{Fingerprint: set.Fingerprint, Path: finalPath, Manifest: m}, nil
			}
		}
	}

	if err := os.RemoveAll(buildPath); err != nil {
		return Prepared{}, fmt.Errorf("environment: clear stale build dir: %w", err)
	}
	if err := os.MkdirAll(buildPath, 0o755); err != nil {
		return Prepared{}, fmt.Errorf("environment: create build dir: %w", err)
	}

	if err := c.installer.Install(ctx, buildPath, set.Dependencies); err != nil {
		_ = os.RemoveAll(buildPath)
		c.recordBuild(set, started, false, err.Error())
		return Prepared{}, fmt.Errorf("environment: install dependencies: %w", err)
	}

	manifest := Manifest{
		Fingerprint:  set.Fingerprint,
		Dependencies: set.Dependencies,
		BuiltAt:      time.Now(),
	}
	data, err := yaml.Marshal(manifest)
	if err != nil {
		_ = os.RemoveAll(buildPath)
		return Prepared{}, fmt.Errorf("environment: marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(buildPath, manifestFile), data, 0o644); err != nil {
		_ = os.RemoveAll(buildPath)
		return Prepared{}, fmt.Errorf("environment: write manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(buildPath, readyMarker), nil, 0o644); err != nil {
		_ = os.RemoveAll(buildPath)
		return Prepared{}, fmt.Errorf("environment: write ready marker: %w", err)
	}

	if err := os.Rename(buildPath, finalPath); err != nil {
		_ = os.RemoveAll(buildPath)
		return Prepared{}, fmt.Errorf("environment: finalize build dir: %w", err)
	}

	c.recordBuild(set, started, true, "")
	logger.Info().Dur("duration", time.Since(started)).Msg("environment ready")

	return Prepared{Fingerprint: set.Fingerprint, Path: finalPath, Manifest: manifest}, nil
}

func (c *Cache) recordBuild(set fingerprint.Set, started time.Time, success bool, message string) {
	if c.ledger == nil {
		return
	}
	err := c.ledger.Record(ledger.Entry{
		Fingerprint:  set.Fingerprint,
		Dependencies: set.Dependencies,
		StartedAt:    started,
		Duration:     time.Since(started).String(),
		Success:      success,
		Message:      message,
	})
	if err != nil {
		log.WithFingerprint(set.Fingerprint).Error().Err(err).Msg("failed to record build in ledger")
	}
}

// Count returns the number of prepared environments currently cached, for
// pkg/metrics.EnvironmentSource.
func (c *Cache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byFP)
}
