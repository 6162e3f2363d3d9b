package backend

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// Factory creates the backend for one agent role.
type Factory func(role string, cfg Config) (Backend, error)

// Discoverer lists the tools available to a role. It is bounded by the
// pool's discovery timeout; a discoverer that overruns is abandoned.
type Discoverer func(ctx context.Context, role string, cfg Config) ([]string, error)

// DefaultDiscoveryTimeout bounds tool discovery independently of retries.
const DefaultDiscoveryTimeout = 15 * time.Second

// Pool owns the generation backends for all runs. Each run takes a Lease
// keyed by its task ID; backends are created lazily within the lease and
// closed when the lease is released.
type Pool struct {
	mu               sync.Mutex
	configs          map[string]Config // Keyed by agent role
	pm               *ProcessManager
	factory          Factory
	discover         Discoverer
	discoveryTimeout time.Duration
	open             bool
	leases           map[string]*Lease
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithFactory replaces the default backend factory (used by tests).
func WithFactory(f Factory) PoolOption {
	return func(p *Pool) { p.factory = f }
}

// WithDiscoverer sets the tool discovery function.
func WithDiscoverer(d Discoverer) PoolOption {
	return func(p *Pool) { p.discover = d }
}

// WithDiscoveryTimeout overrides DefaultDiscoveryTimeout.
func WithDiscoveryTimeout(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.discoveryTimeout = d
		}
	}
}

// NewPool creates a closed pool. Call Open before leasing.
func NewPool(configs map[string]Config, pm *ProcessManager, opts ...PoolOption) *Pool {
	p := &Pool{
		configs:          configs,
		pm:               pm,
		discoveryTimeout: DefaultDiscoveryTimeout,
		leases:           make(map[string]*Lease),
	}
	p.factory = func(role string, cfg Config) (Backend, error) {
		return New(cfg, p.pm)
	}
	p.discover = NewMCPDiscoverer(DefaultMCPServerTimeout)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Open makes the pool available for leasing.
func (p *Pool) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.open {
		return nil
	}
	for role, cfg := range p.configs {
		if cfg.Type == "" {
			return fmt.Errorf("agent %q has no backend type", role)
		}
	}
	p.open = true
	return nil
}

// Lease reserves backends for one task's run. A task may hold at most one
// lease at a time.
func (p *Pool) Lease(ctx context.Context, taskID string) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return nil, ErrPoolClosed
	}
	if _, held := p.leases[taskID]; held {
		return nil, fmt.Errorf("task %s already holds a lease", taskID)
	}

	l := &Lease{
		pool:     p,
		taskID:   taskID,
		backends: make(map[string]Backend),
		tools:    make(map[string][]string),
	}
	p.leases[taskID] = l
	return l, nil
}

// Active returns the number of outstanding leases.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.leases)
}

// Close releases every outstanding lease and kills any capability
// subprocess still running. The pool cannot be leased from afterwards.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.open = false
	leases := make([]*Lease, 0, len(p.leases))
	for _, l := range p.leases {
		leases = append(leases, l)
	}
	p.mu.Unlock()

	var errs []error
	for _, l := range leases {
		if err := l.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	if p.pm != nil {
		if err := p.pm.KillAll(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Pool) forget(taskID string) {
	p.mu.Lock()
	delete(p.leases, taskID)
	p.mu.Unlock()
}

func (p *Pool) config(role string) (Config, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cfg, ok := p.configs[role]
	return cfg, ok
}

// Lease is one task's handle on the pool.
type Lease struct {
	pool     *Pool
	taskID   string
	mu       sync.Mutex
	backends map[string]Backend
	tools    map[string][]string
	released bool
}

// TaskID returns the task the lease belongs to.
func (l *Lease) TaskID() string { return l.taskID }

// Backend returns the backend for role, creating it on first use. Tool
// discovery for the role runs once, bounded by the pool's timeout.
func (l *Lease) Backend(ctx context.Context, role string) (Backend, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.released {
		return nil, fmt.Errorf("lease for task %s has been released", l.taskID)
	}
	if b, ok := l.backends[role]; ok {
		return b, nil
	}

	cfg, ok := l.pool.config(role)
	if !ok {
		return nil, fmt.Errorf("no agent configured for role %q", role)
	}
	cfg.SessionID = l.taskID + "-" + role

	b, err := l.pool.factory(role, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s backend: %w", role, err)
	}
	l.backends[role] = b

	tools, err := l.discoverTools(ctx, role, cfg)
	if err != nil {
		log.Printf("WARNING: task %s: tools for %s omitted: %v", l.taskID, role, err)
	}
	l.tools[role] = tools

	return b, nil
}

// discoverTools runs the pool's discoverer under a hard timeout. On timeout
// the call returns ErrCapabilityUnavailable without waiting for the
// discoverer to finish.
func (l *Lease) discoverTools(ctx context.Context, role string, cfg Config) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.pool.discoveryTimeout)
	defer cancel()

	type result struct {
		tools []string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		tools, err := l.pool.discover(ctx, role, cfg)
		done <- result{tools, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCapabilityUnavailable, r.err)
		}
		return r.tools, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: discovery for %s timed out after %s", ErrCapabilityUnavailable, role, l.pool.discoveryTimeout)
	}
}

// Tools returns the tools discovered for role, or nil.
func (l *Lease) Tools(role string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tools[role]
}

// Release closes every backend created through the lease and returns the
// lease to the pool. It is safe to call more than once.
func (l *Lease) Release() error {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return nil
	}
	l.released = true
	backends := l.backends
	l.backends = nil
	l.mu.Unlock()

	var errs []error
	for role, b := range backends {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s backend: %w", role, err))
		}
	}
	l.pool.forget(l.taskID)
	return errors.Join(errs...)
}
