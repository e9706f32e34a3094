// Package poolmgr provides the shared registry of worker pools.
//
// Pools are created lazily on first acquisition, shared between callers of
// the same kind and reference-counted: a pool shuts down only when its
// last reference is released. The manager is constructed once at startup
// and passed to every component that submits work, so there is no hidden
// global pool state.
package poolmgr

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vk/stagegrid/internal/ctxlog"
	"github.com/vk/stagegrid/internal/procpool"
	"github.com/vk/stagegrid/internal/workpool"
)

// Options seeds the manager with per-kind pool configurations. Kinds
// missing from the maps fall back to the pool packages' defaults.
type Options struct {
	Work map[workpool.Kind]workpool.Config
	Proc map[procpool.Kind]procpool.Config
}

type workEntry struct {
	pool *workpool.Pool
	refs int
}

type procEntry struct {
	pool *procpool.Pool
	refs int
}

// Manager is the reference-counted pool registry.
type Manager struct {
	mu       sync.Mutex
	workCfgs map[workpool.Kind]workpool.Config
	procCfgs map[procpool.Kind]procpool.Config
	work     map[workpool.Kind]*workEntry
	proc     map[procpool.Kind]*procEntry
}

// New creates a manager with the given per-kind configurations.
func New(opts Options) *Manager {
	m := &Manager{
		workCfgs: make(map[workpool.Kind]workpool.Config),
		procCfgs: make(map[procpool.Kind]procpool.Config),
		work:     make(map[workpool.Kind]*workEntry),
		proc:     make(map[procpool.Kind]*procEntry),
	}
	for kind, cfg := range opts.Work {
		cfg.Kind = kind
		m.workCfgs[kind] = cfg
	}
	for kind, cfg := range opts.Proc {
		cfg.Kind = kind
		m.procCfgs[kind] = cfg
	}
	return m
}

// AcquireWork returns the shared goroutine pool of the given kind,
// creating it on first acquisition.
func (m *Manager) AcquireWork(kind workpool.Kind) *workpool.Pool {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.work[kind]
	if !ok {
		cfg, found := m.workCfgs[kind]
		if !found {
			cfg = workpool.Config{Kind: kind}
		}
		entry = &workEntry{pool: workpool.New(cfg)}
		m.work[kind] = entry
	}
	entry.refs++
	return entry.pool
}

// ReleaseWork drops one reference to the pool of the given kind and shuts
// it down when the last reference is gone.
func (m *Manager) ReleaseWork(kind workpool.Kind) {
	m.mu.Lock()
	entry, ok := m.work[kind]
	if !ok {
		m.mu.Unlock()
		return
	}
	entry.refs--
	if entry.refs > 0 {
		m.mu.Unlock()
		return
	}
	delete(m.work, kind)
	m.mu.Unlock()
	entry.pool.Shutdown(true)
}

// AcquireProc returns the shared process pool of the given kind, creating
// it on first acquisition.
func (m *Manager) AcquireProc(kind procpool.Kind) *procpool.Pool {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.proc[kind]
	if !ok {
		cfg, found := m.procCfgs[kind]
		if !found {
			cfg = procpool.Config{Kind: kind}
		}
		entry = &procEntry{pool: procpool.New(cfg)}
		m.proc[kind] = entry
	}
	entry.refs++
	return entry.pool
}

// ReleaseProc drops one reference to the process pool of the given kind
// and shuts it down when the last reference is gone.
func (m *Manager) ReleaseProc(kind procpool.Kind) {
	m.mu.Lock()
	entry, ok := m.proc[kind]
	if !ok {
		m.mu.Unlock()
		return
	}
	entry.refs--
	if entry.refs > 0 {
		m.mu.Unlock()
		return
	}
	delete(m.proc, kind)
	m.mu.Unlock()
	entry.pool.Shutdown()
}

// Stats returns the telemetry of every live pool, keyed by kind.
func (m *Manager) Stats() (map[workpool.Kind]workpool.Telemetry, map[procpool.Kind]procpool.Telemetry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	workStats := make(map[workpool.Kind]workpool.Telemetry, len(m.work))
	for kind, entry := range m.work {
		workStats[kind] = entry.pool.Stats()
	}
	procStats := make(map[procpool.Kind]procpool.Telemetry, len(m.proc))
	for kind, entry := range m.proc {
		procStats[kind] = entry.pool.Stats()
	}
	return workStats, procStats
}

// ShutdownAll closes every live pool regardless of reference counts. It
// is meant for process teardown.
func (m *Manager) ShutdownAll(ctx context.Context) {
	m.mu.Lock()
	workPools := make([]*workpool.Pool, 0, len(m.work))
	for _, entry := range m.work {
		workPools = append(workPools, entry.pool)
	}
	procPools := make([]*procpool.Pool, 0, len(m.proc))
	for _, entry := range m.proc {
		procPools = append(procPools, entry.pool)
	}
	m.work = make(map[workpool.Kind]*workEntry)
	m.proc = make(map[procpool.Kind]*procEntry)
	m.mu.Unlock()

	var g errgroup.Group
	for _, pool := range workPools {
		pool := pool
		g.Go(func() error {
			pool.Shutdown(true)
			return nil
		})
	}
	for _, pool := range procPools {
		pool := pool
		g.Go(func() error {
			pool.Shutdown()
			return nil
		})
	}
	_ = g.Wait()
	ctxlog.FromContext(ctx).Info("All pools shut down.",
		"work_pools", len(workPools), "process_pools", len(procPools))
}
