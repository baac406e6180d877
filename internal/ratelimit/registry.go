package ratelimit

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Decorator wraps a freshly built limiter, for example with instrumentation.
type Decorator func(Limiter) (Limiter, error)

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithClock sets the clock handed to every limiter.
func WithClock(clock Clock) RegistryOption {
	return func(r *Registry) {
		r.clock = clock
	}
}

// WithDecorator applies d to each limiter after it is built.
func WithDecorator(d Decorator) RegistryOption {
	return func(r *Registry) {
		r.decorators = append(r.decorators, d)
	}
}

// Registry owns the named limiter instances of a process. It is built once at
// startup and handed to the HTTP layer.
type Registry struct {
	clock      Clock
	decorators []Decorator
	limiters   map[string]Limiter

	mu      sync.Mutex
	done    chan struct{}
	started bool
	closed  bool
	wg      sync.WaitGroup
}

// NewRegistry validates policies and builds one limiter per policy. Policy
// names must be unique.
func NewRegistry(policies []Policy, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		clock:    SystemClock{},
		limiters: make(map[string]Limiter, len(policies)),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, p := range policies {
		if _, exists := r.limiters[p.Name]; exists {
			return nil, fmt.Errorf("duplicate rate limit policy: %s", p.Name)
		}
		l, err := New(p, r.clock)
		if err != nil {
			return nil, err
		}
		for _, d := range r.decorators {
			if l, err = d(l); err != nil {
				return nil, fmt.Errorf("decorate policy %s: %w", p.Name, err)
			}
		}
		r.limiters[p.Name] = l
	}

	return r, nil
}

// Get returns the limiter for name.
func (r *Registry) Get(name string) (Limiter, bool) {
	l, ok := r.limiters[name]
	return l, ok
}

// MustGet returns the limiter for name and panics when it is missing. It is
// meant for startup wiring of names validated against configuration.
func (r *Registry) MustGet(name string) Limiter {
	l, ok := r.limiters[name]
	if !ok {
		panic(fmt.Sprintf("ratelimit: unknown policy %q", name))
	}
	return l
}

// Names returns the policy names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.limiters))
	for name := range r.limiters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Policies returns the policies in name order.
func (r *Registry) Policies() []Policy {
	names := r.Names()
	policies := make([]Policy, 0, len(names))
	for _, name := range names {
		policies = append(policies, r.limiters[name].Policy())
	}
	return policies
}

// Cleanup runs Cleanup on every limiter and returns the removed entry count
// per policy.
func (r *Registry) Cleanup() map[string]int {
	removed := make(map[string]int, len(r.limiters))
	for name, l := range r.limiters {
		removed[name] = l.Cleanup()
	}
	return removed
}

// StartJanitor runs Cleanup every interval until Close. Calling it more than
// once has no effect.
func (r *Registry) StartJanitor(interval time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.closed || interval <= 0 {
		return
	}
	r.started = true

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-r.done:
				return
			case <-ticker.C:
				r.logCleanup(r.Cleanup())
			}
		}
	}()
}

func (r *Registry) logCleanup(removed map[string]int) {
	total := 0
	for _, n := range removed {
		total += n
	}
	if total > 0 {
		slog.Debug("Rate limit cleanup", "removed", total)
	}
}

// Close stops the janitor. It is safe to call more than once.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.done)
	r.mu.Unlock()

	r.wg.Wait()
}
