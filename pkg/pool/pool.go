// Package pool implements the warm pool (C3): a bounded set of worker
// handles for one dependency fingerprint, with LIFO-preferring acquire,
// FIFO waiter fairness, and replacement-on-death.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/lagoonrun/sandboxd/pkg/envelope"
	"github.com/lagoonrun/sandboxd/pkg/log"
	"github.com/lagoonrun/sandboxd/pkg/workerproc"
)

// ErrShuttingDown is returned to any waiter still queued when Shutdown is
// called.
var ErrShuttingDown = errors.New("pool: shutting down")

// ErrPoolSaturated is returned by Acquire when the context deadline
// expires while waiting for a handle.
var ErrPoolSaturated = errors.New("pool: saturated, no handle became available in time")

// HandleFactory constructs a new, unstarted worker handle for this pool's
// fingerprint. Acquire calls Start on the handles it creates.
type HandleFactory func() *workerproc.Handle

// Stats is a point-in-time snapshot of a Pool's occupancy, used by
// pkg/metrics and the /status introspection surface.
type Stats struct {
	Fingerprint string
	Ready       int
	Busy        int
	Spawning    int
	Dead        int
	Waiters     int
}

type waiter struct {
	ch chan *workerproc.Handle
}

// Pool is a bounded multiset of Handles for one fingerprint.
type Pool struct {
	fingerprint string
	targetSize  int
	factory     HandleFactory

	mu       sync.Mutex
	ready    []*workerproc.Handle
	live     int
	waiters  []*waiter
	shutdown bool
}

// New creates a Pool for fingerprint, bounded at targetSize live handles.
func New(fingerprint string, targetSize int, factory HandleFactory) *Pool {
	if targetSize <= 0 {
		targetSize = 5
	}
	return &Pool{
		fingerprint: fingerprint,
		targetSize:  targetSize,
		factory:     factory,
	}
}

// Start kicks off targetSize concurrent handle spawns and returns
// immediately without waiting for them to become Ready. The pool is
// usable as soon as Start returns; Acquire blocks on whichever handle
// becomes Ready first.
func (p *Pool) Start(ctx context.Context) error {
	for i := 0; i < p.targetSize; i++ {
		go p.spawnAndRelease(ctx)
	}
	return nil
}

func (p *Pool) spawnAndRelease(ctx context.Context) {
	p.mu.Lock()
	p.live++
	p.mu.Unlock()

	h := p.factory()
	if err := h.Start(ctx); err != nil {
		log.WithPool(p.fingerprint).Error().Err(err).Msg("worker spawn failed")
		p.mu.Lock()
		p.live--
		p.mu.Unlock()
		return
	}
	p.Release(h)
}

// Acquire returns a Ready handle, preferring the most recently released
// one (LIFO), spawning a fresh handle if the pool has not reached
// targetSize, or queuing FIFO behind existing waiters otherwise. It
// returns ErrPoolSaturated if ctx expires first.
func (p *Pool) Acquire(ctx context.Context) (*workerproc.Handle, error) {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return nil, ErrShuttingDown
	}

	if n := len(p.ready); n > 0 {
		h := p.ready[n-1]
		p.ready = p.ready[:n-1]
		p.mu.Unlock()
		return h, nil
	}

	if p.live < p.targetSize {
		p.live++
		p.mu.Unlock()
		h := p.factory()
		if err := h.Start(ctx); err != nil {
			p.mu.Lock()
			p.live--
			p.mu.Unlock()
			return nil, fmt.Errorf("pool: spawn on acquire: %w", err)
		}
		return h, nil
	}

	w := &waiter{ch: make(chan *workerproc.Handle, 1)}
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()

	select {
	case h := <-w.ch:
		if h == nil {
			return nil, ErrShuttingDown
		}
		return h, nil
	case <-ctx.Done():
		p.removeWaiter(w)
		return nil, ErrPoolSaturated
	}
}

func (p *Pool) removeWaiter(target *waiter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.waiters {
		if w == target {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}

// Release returns a handle to the pool. A Dead handle is evicted instead
// of being made available again; if waiters are queued and there is room
// under targetSize, a replacement handle is spawned and handed to the
// oldest waiter once Ready.
func (p *Pool) Release(h *workerproc.Handle) {
	if h.State() == workerproc.Dead {
		p.evictDead()
		return
	}

	p.mu.Lock()
	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.mu.Unlock()
		w.ch <- h
		return
	}
	p.ready = append(p.ready, h)
	p.mu.Unlock()
}

func (p *Pool) evictDead() {
	var spawnReplacement bool

	p.mu.Lock()
	p.live--
	if len(p.waiters) > 0 && p.live < p.targetSize {
		p.live++
		spawnReplacement = true
	}
	p.mu.Unlock()

	if spawnReplacement {
		go p.spawnForWaiter(context.Background())
	}
}

func (p *Pool) spawnForWaiter(ctx context.Context) {
	h := p.factory()
	if err := h.Start(ctx); err != nil {
		log.WithPool(p.fingerprint).Error().Err(err).Msg("replacement worker spawn failed")
		p.mu.Lock()
		p.live--
		p.mu.Unlock()
		return
	}

	p.mu.Lock()
	if len(p.waiters) == 0 {
		p.ready = append(p.ready, h)
		p.mu.Unlock()
		return
	}
	w := p.waiters[0]
	p.waiters = p.waiters[1:]
	p.mu.Unlock()
	w.ch <- h
}

// Shutdown cancels all queued waiters and shuts down every handle
// currently known to the pool, returning once every child is reaped.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.shutdown = true
	ready := p.ready
	p.ready = nil
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	for _, w := range waiters {
		w.ch <- nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, h := range ready {
		g.Go(func() error {
			return h.Shutdown(gctx)
		})
	}
	return g.Wait()
}

// Stats returns a point-in-time snapshot of the pool's occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Fingerprint: p.fingerprint,
		Ready:       len(p.ready),
		Busy:        p.live - len(p.ready),
		Waiters:     len(p.waiters),
	}
}
