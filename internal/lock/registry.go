package lock

import (
	"context"
	"sync"

	logx "hushbot/pkg/logx"
)

// Mode selects what happens when the lock for a resource is already held.
type Mode int

const (
	// ModeSkip does not run the guarded operation and reports ran=false.
	ModeSkip Mode = iota
	// ModeFail does not run the guarded operation and returns *LockedResourceError.
	ModeFail
	// ModeWait blocks until the lock is free (or ctx is done), then runs.
	ModeWait
)

// Resolver computes a resource id at invocation time. It may perform I/O
// (e.g. look the id up from a gateway call) before the lock is consulted.
type Resolver func(ctx context.Context) (any, error)

// Registry owns the process-wide lock table.
//
// Entries are created lazily and reference counted: every Do holds a
// reference for its duration, and an entry is removed as soon as the last
// reference is dropped. A held lock always carries at least one reference,
// so sweeping can never discard a lock something is inside of.
type Registry struct {
	log logx.Logger

	mu         sync.Mutex
	namespaces map[string]map[any]*entry
}

// entry is one lock. The 1-slot semaphore makes try-acquire a single atomic
// operation, which is what keeps check-then-acquire race-free under
// preemptive goroutine scheduling. Blocked waiters on the channel are woken
// roughly in arrival order, which is fair enough to avoid starvation.
type entry struct {
	refs int
	sem  chan struct{}
}

func NewRegistry(log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		log:        log,
		namespaces: map[string]map[any]*entry{},
	}
}

func (r *Registry) ref(ns string, id any) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.namespaces[ns]
	if m == nil {
		m = map[any]*entry{}
		r.namespaces[ns] = m
	}
	e := m[id]
	if e == nil {
		e = &entry{sem: make(chan struct{}, 1)}
		m[id] = e
	}
	e.refs++
	return e
}

func (r *Registry) unref(ns string, id any, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.refs--
	if e.refs <= 0 {
		if m := r.namespaces[ns]; m != nil {
			delete(m, id)
			if len(m) == 0 {
				delete(r.namespaces, ns)
			}
		}
	}
}

// Held reports whether the lock for (ns, id) is currently held.
// This is a point-in-time observation, useful for diagnostics only.
func (r *Registry) Held(ns string, id any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.namespaces[ns]
	if m == nil {
		return false
	}
	e := m[id]
	return e != nil && len(e.sem) > 0
}

// Size returns the number of live lock entries across all namespaces.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.namespaces {
		n += len(m)
	}
	return n
}

// Do runs fn exclusively for (ns, id).
//
// If the lock is free it is acquired, fn runs, and the lock is released
// afterwards unconditionally. If the lock is held, the behavior depends on
// mode: skip (ran=false, nil error), fail (*LockedResourceError), or wait.
// Errors from fn propagate unchanged.
func (r *Registry) Do(ctx context.Context, ns string, id any, mode Mode, fn func(ctx context.Context) error) (ran bool, err error) {
	e := r.ref(ns, id)
	defer r.unref(ns, id, e)

	select {
	case e.sem <- struct{}{}:
		// acquired on the fast path
	default:
		switch mode {
		case ModeWait:
			r.log.Debug("waiting for lock", logx.String("ns", ns), logx.Any("id", id))
			select {
			case e.sem <- struct{}{}:
			case <-ctx.Done():
				return false, ctx.Err()
			}
		case ModeFail:
			r.log.Info("aborted because resource is locked", logx.String("ns", ns), logx.Any("id", id))
			return false, &LockedResourceError{Type: ns, ID: id}
		default:
			r.log.Info("skipped because resource is locked", logx.String("ns", ns), logx.Any("id", id))
			return false, nil
		}
	}

	r.log.Debug("lock acquired", logx.String("ns", ns), logx.Any("id", id))
	defer func() {
		<-e.sem
		r.log.Trace("lock released", logx.String("ns", ns), logx.Any("id", id))
	}()

	return true, fn(ctx)
}

// DoResolved is Do with the resource id computed at invocation time.
// Resolver errors propagate and the guarded operation does not run.
func (r *Registry) DoResolved(ctx context.Context, ns string, resolve Resolver, mode Mode, fn func(ctx context.Context) error) (bool, error) {
	r.log.Trace("resolving resource id", logx.String("ns", ns))
	id, err := resolve(ctx)
	if err != nil {
		return false, err
	}
	return r.Do(ctx, ns, id, mode, fn)
}

// Guard wraps fn so that each invocation runs exclusively for the resource
// id resolved from its argument. It is the function-wrapper form of Do for
// handler plumbing.
func Guard[A any](r *Registry, ns string, mode Mode, resolve func(ctx context.Context, arg A) (any, error), fn func(ctx context.Context, arg A) error) func(context.Context, A) error {
	return func(ctx context.Context, arg A) error {
		id, err := resolve(ctx, arg)
		if err != nil {
			return err
		}
		_, err = r.Do(ctx, ns, id, mode, func(ctx context.Context) error {
			return fn(ctx, arg)
		})
		return err
	}
}

// GuardArg is Guard with the resource id read directly from the argument.
func GuardArg[A any, K comparable](r *Registry, ns string, mode Mode, key func(A) K, fn func(ctx context.Context, arg A) error) func(context.Context, A) error {
	return Guard(r, ns, mode, func(_ context.Context, arg A) (any, error) {
		return key(arg), nil
	}, fn)
}
