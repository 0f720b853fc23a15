package environment

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/lagoonrun/sandboxd/pkg/fingerprint"
	"github.com/lagoonrun/sandboxd/pkg/pool"
)

// HandleFactoryFor builds a pool.HandleFactory bound to one
// PreparedEnvironment; each call to the returned factory must build a
// fresh, unstarted worker handle for that environment.
type HandleFactoryFor func(p Prepared) pool.HandleFactory

// Registry maps dependency fingerprints to warm pools, building each pool
// (and its backing PreparedEnvironment) exactly once per fingerprint.
type Registry struct {
	cache      *Cache
	handlesFor HandleFactoryFor
	targetSize int

	mu    sync.RWMutex
	pools map[string]*pool.Pool
	group singleflight.Group
}

// NewRegistry creates a Registry backed by cache, using handlesFor to
// build a Pool's handle factory once its PreparedEnvironment exists.
func NewRegistry(cache *Cache, handlesFor HandleFactoryFor, targetSize int) *Registry {
	return &Registry{
		cache:      cache,
		handlesFor: handlesFor,
		targetSize: targetSize,
		pools:      make(map[string]*pool.Pool),
	}
}

// EnsurePool returns the Pool for set's fingerprint, building the
// PreparedEnvironment and the Pool on first use. Concurrent callers for
// the same fingerprint share one build and one Pool (P3, P4).
func (r *Registry) EnsurePool(ctx context.Context, set fingerprint.Set) (*pool.Pool, error) {
	r.mu.RLock()
	if p, ok := r.pools[set.Fingerprint]; ok {
		r.mu.RUnlock()
		return p, nil
	}
	r.mu.RUnlock()

	v, err, _ := r.group.Do(set.Fingerprint, func() (any, error) {
		r.mu.RLock()
		if p, ok := r.pools[set.Fingerprint]; ok {
			r.mu.RUnlock()
			return p, nil
		}
		r.mu.RUnlock()

		prepared, err := r.cache.Ensure(ctx, set)
		if err != nil {
			return nil, err
		}

		p := pool.New(set.Fingerprint, r.targetSize, r.handlesFor(prepared))
		if err := p.Start(ctx); err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.pools[set.Fingerprint] = p
		r.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*pool.Pool), nil
}

// Shutdown tears down every pool the registry has built, returning once
// each pool's handles (and thus every worker process descended from the
// agent) have been reaped. Callers still waiting on EnsurePool for a
// fingerprint not yet built are not affected; shutdown only covers pools
// that exist by the time it's called.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	pools := make([]*pool.Pool, 0, len(r.pools))
	for _, p := range r.pools {
		pools = append(pools, p)
	}
	r.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range pools {
		g.Go(func() error {
			return p.Shutdown(gctx)
		})
	}
	return g.Wait()
}

// PoolStats mirrors pool.Stats for callers (pkg/dispatch) that should
// not need to import pkg/pool directly.
type PoolStats = pool.Stats

// Stats returns a snapshot of every registered pool's occupancy, for the
// dispatcher's /status route.
func (r *Registry) Stats() []PoolStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PoolStats, 0, len(r.pools))
	for _, p := range r.pools {
		out = append(out, p.Stats())
	}
	return out
}
