package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCyclicDependency is returned by Initialize when a delegate's declared
// dependencies form a cycle.
var ErrCyclicDependency = errors.New("scheduler: cyclic delegate dependency")

// ErrAlreadyRegistered is returned by Register for a duplicate id.
var ErrAlreadyRegistered = errors.New("scheduler: delegate already registered")

// Registrar is the Sentinel of spec.md §4.8: it owns every Delegate,
// resolves their dependency graph into an execution priority order, and
// drives one cooperative cycle at a time on the calling (core) thread.
//
// Grounded in shape on session/manager.go's mutex-guarded map lifecycle,
// generalized from session storage to a dependency-ordered task
// registry — a concern the teacher has no direct analogue for.
type Registrar struct {
	mu        sync.Mutex
	delegates map[string]*Delegate
	order     []*Delegate // priority order, low index executes first

	frame uint64

	totalAvailable int64 // protected by mu; mirrors the sum of every delegate's atomic counter
	wake           chan struct{}
}

// NewRegistrar constructs an empty Registrar.
func NewRegistrar() *Registrar {
	return &Registrar{
		delegates: make(map[string]*Delegate),
		wake:      make(chan struct{}, 1),
	}
}

// Register adds d to the registrar. Initialize must be called (again)
// before Execute reflects d's dependency ordering.
func (r *Registrar) Register(d *Delegate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.delegates[d.id]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, d.id)
	}
	d.sentinel = r
	r.delegates[d.id] = d
	return nil
}

// Delist removes the delegate identified by id, subtracting any available
// work it still held from the global total, per spec.md §4.8's
// "Delisting". The identifier may be registered again later.
func (r *Registrar) Delist(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.delegates[id]
	if !ok {
		return
	}
	r.totalAvailable -= d.available.Load()
	delete(r.delegates, id)
	for i, o := range r.order {
		if o.id == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Initialize resolves every registered delegate's dependency set via DFS
// (detecting cycles), then computes a priority order via Kahn-style
// topological sort over the registered subgraph: a delegate runs only
// after every delegate it depends on, per spec.md §4.8's Registrar
// initialization steps 1-3.
func (r *Registrar) Initialize() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range r.delegates {
		d.resolved = make(map[string]struct{})
		if err := r.resolveDependencies(d, map[string]struct{}{}); err != nil {
			return err
		}
	}

	order, err := r.topologicalOrder()
	if err != nil {
		return err
	}
	for priority, d := range order {
		d.priority = priority
	}
	r.order = order
	return nil
}

// resolveDependencies DFS-walks d's statically declared dependencies,
// populating d.resolved with the transitive closure over known delegates
// and detecting cycles via the in-progress path set. Unknown dependency
// ids are retained in resolved but otherwise ignored, per spec.md §4.8:
// "they belong to delegates not yet or ever registered".
func (r *Registrar) resolveDependencies(d *Delegate, path map[string]struct{}) error {
	if _, inPath := path[d.id]; inPath {
		return fmt.Errorf("%w: %s", ErrCyclicDependency, d.id)
	}
	path[d.id] = struct{}{}
	defer delete(path, d.id)

	for depID := range d.dependsOn {
		d.resolved[depID] = struct{}{}
		dep, known := r.delegates[depID]
		if !known {
			continue
		}
		if dep.resolved == nil {
			dep.resolved = make(map[string]struct{})
		}
		if err := r.resolveDependencies(dep, path); err != nil {
			return err
		}
		for transitive := range dep.resolved {
			d.resolved[transitive] = struct{}{}
		}
	}
	return nil
}

// topologicalOrder computes a Kahn's-algorithm topological order over the
// registered subgraph: an edge runs from a dependency to its dependent, so
// nodes with no remaining dependencies are queued first.
func (r *Registrar) topologicalOrder() ([]*Delegate, error) {
	inDegree := make(map[string]int, len(r.delegates))
	dependents := make(map[string][]string, len(r.delegates))

	for id, d := range r.delegates {
		degree := 0
		for depID := range d.dependsOn {
			if _, known := r.delegates[depID]; known {
				degree++
				dependents[depID] = append(dependents[depID], id)
			}
		}
		inDegree[id] = degree
	}

	queue := make([]string, 0, len(r.delegates))
	for id, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]*Delegate, 0, len(r.delegates))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, r.delegates[id])
		for _, dependentID := range dependents[id] {
			inDegree[dependentID]--
			if inDegree[dependentID] == 0 {
				queue = append(queue, dependentID)
			}
		}
	}

	if len(order) != len(r.delegates) {
		// Defense in depth: the DFS pass in Initialize should already
		// have caught any cycle.
		return nil, fmt.Errorf("%w: topological sort could not drain all delegates", ErrCyclicDependency)
	}
	return order, nil
}

// Execute runs one cooperative cycle: every ready delegate (available
// tasks > 0), in priority order, exactly once, decrementing each by its
// own reported executed count. Returns the total tasks executed across
// every delegate. A delegate's execute callback panicking (converted to an
// error by runExecute) aborts the remainder of the cycle, per spec.md
// §4.8's Failure rule.
func (r *Registrar) Execute() (int, error) {
	r.mu.Lock()
	order := append([]*Delegate(nil), r.order...)
	r.frame++
	frame := r.frame
	r.mu.Unlock()

	total := 0
	for _, d := range order {
		if !d.IsReady() {
			continue
		}
		executed, err := d.runExecute(frame)
		if err != nil {
			return total, fmt.Errorf("scheduler: delegate %s aborted cycle: %w", d.id, err)
		}
		d.markAvailable(-int64(executed))
		total += executed
	}
	return total, nil
}

// AwaitTask blocks until the global available-task total transitions from
// zero to positive, or timeout elapses, returning whether work is
// available when it returns.
func (r *Registrar) AwaitTask(timeout time.Duration) bool {
	r.mu.Lock()
	if r.totalAvailable > 0 {
		r.mu.Unlock()
		return true
	}
	r.mu.Unlock()

	select {
	case <-r.wake:
	case <-time.After(timeout):
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalAvailable > 0
}

// bumpAvailable adjusts the registrar's mirrored global total by n and
// wakes one AwaitTask waiter when the total becomes positive. Called by a
// Delegate's markAvailable, never directly.
func (r *Registrar) bumpAvailable(n int64) {
	r.mu.Lock()
	r.totalAvailable += n
	positive := r.totalAvailable > 0
	r.mu.Unlock()

	if positive {
		select {
		case r.wake <- struct{}{}:
		default:
		}
	}
}

// Frame returns the current cycle count, incremented once per Execute
// call.
func (r *Registrar) Frame() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frame
}
