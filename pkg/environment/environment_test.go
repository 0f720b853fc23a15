package environment

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/lagoonrun/sandboxd/pkg/fingerprint"
)

type countingInstaller struct {
	calls atomic.Int32
}

func (i *countingInstaller) Install(ctx context.Context, path string, deps []string) error {
	i.calls.Add(1)
	return os.WriteFile(filepath.Join(path, "marker"), []byte("ok"), 0o644)
}

func TestCacheEnsureBuildsOnce(t *testing.T) {
	dir := t.TempDir()
	installer := &countingInstaller{}
	cache, err := NewCache(dir, installer, Prepared{Fingerprint: fingerprint.Empty, Path: "/builtin"}, nil)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	set := fingerprint.NewSet([]string{"requests==2.31.0"})

	var wg sync.WaitGroup
	results := make([]Prepared, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := cache.Ensure(context.Background(), set)
			if err != nil {
				t.Errorf("Ensure: %v", err)
				return
			}
			results[i] = p
		}(i)
	}
	wg.Wait()

	if got := installer.calls.Load(); got != 1 {
		t.Errorf("installer invoked %d times, want 1 (P4: singleton build)", got)
	}
	for _, p := range results {
		if p.Path != results[0].Path {
			t.Error("concurrent Ensure() calls returned different PreparedEnvironments")
		}
	}
}

func TestCacheEnsureEmptyDependenciesReturnsBuiltin(t *testing.T) {
	dir := t.TempDir()
	installer := &countingInstaller{}
	builtin := Prepared{Fingerprint: fingerprint.Empty, Path: "/builtin"}
	cache, err := NewCache(dir, installer, builtin, nil)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	p, err := cache.Ensure(context.Background(), fingerprint.NewSet(nil))
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if p.Path != builtin.Path {
		t.Errorf("Ensure() for empty deps = %+v, want builtin %+v", p, builtin)
	}
	if installer.calls.Load() != 0 {
		t.Error("installer should not run for the empty dependency set")
	}
}

func TestCacheCount(t *testing.T) {
	dir := t.TempDir()
	installer := &countingInstaller{}
	cache, err := NewCache(dir, installer, Prepared{Fingerprint: fingerprint.Empty}, nil)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	if cache.Count() != 0 {
		t.Fatalf("new cache Count() = %d, want 0", cache.Count())
	}

	if _, err := cache.Ensure(context.Background(), fingerprint.NewSet([]string{"a"})); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if _, err := cache.Ensure(context.Background(), fingerprint.NewSet([]string{"b"})); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	if cache.Count() != 2 {
		t.Errorf("Count() = %d, want 2", cache.Count())
	}
}

type failingInstaller struct{}

func (failingInstaller) Install(ctx context.Context, path string, deps []string) error {
	return os.ErrPermission
}

func TestCacheEnsureFailureLeavesNoEntry(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewCache(dir, failingInstaller{}, Prepared{Fingerprint: fingerprint.Empty}, nil)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	set := fingerprint.NewSet([]string{"broken-package"})
	if _, err := cache.Ensure(context.Background(), set); err == nil {
		t.Fatal("expected an error from a failing installer")
	}
	if cache.Count() != 0 {
		t.Errorf("a failed build should not be cached, Count() = %d", cache.Count())
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if e.Name() == "env-"+set.Fingerprint {
			t.Error("a failed build should not leave a finalized environment directory")
		}
	}
}
