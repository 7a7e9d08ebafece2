// Package scheduler implements the dependency-ordered cooperative task
// executor that drives a node's single logical core thread, per spec.md
// §4.8.
package scheduler

import (
	"fmt"
	"sync/atomic"
)

// ExecuteFunc runs one delegate's ready work for the current frame and
// returns how many tasks it actually executed, which the Registrar
// subtracts from both the delegate's own counter and the global total.
type ExecuteFunc func(frame uint64) int

// Delegate is one unit of cooperatively scheduled work: a stable
// identifier, an execute callback, and the dependency/priority metadata
// the Registrar fills in at registration time.
//
// Grounded on the teacher's explicit-construction discipline
// (core/core.go's New/NewWithConfig taking every dependency directly,
// no package globals) generalized to a scheduling primitive the teacher
// itself has no analogue for.
type Delegate struct {
	id      string
	execute ExecuteFunc

	dependsOn map[string]struct{} // statically declared
	resolved  map[string]struct{} // transitive closure, filled by Registrar
	priority  int                 // filled by Registrar

	available atomic.Int64
	sentinel  *Registrar
}

// NewDelegate constructs a delegate identified by id, running execute
// once per ready cycle, statically depending on dependsOn (other
// delegate ids that must run first).
func NewDelegate(id string, execute ExecuteFunc, dependsOn ...string) *Delegate {
	deps := make(map[string]struct{}, len(dependsOn))
	for _, d := range dependsOn {
		deps[d] = struct{}{}
	}
	return &Delegate{id: id, execute: execute, dependsOn: deps}
}

// ID returns the delegate's stable identifier.
func (d *Delegate) ID() string { return d.id }

// Priority returns the delegate's Registrar-assigned execution order;
// valid only after Registrar.Initialize has run.
func (d *Delegate) Priority() int { return d.priority }

// IsReady reports whether the delegate has at least one available task,
// per spec.md §4.8's `is_ready() = (available_tasks > 0)`.
func (d *Delegate) IsReady() bool { return d.available.Load() > 0 }

// markAvailable adds n to the delegate's available-task counter and to
// its sentinel's global total, used by Notify, by TaskService when it
// resets its own counter, and by the Registrar after an Execute cycle
// (with a negative n). Delist adjusts the global total directly.
func (d *Delegate) markAvailable(n int64) {
	d.available.Add(n)
	if d.sentinel != nil {
		d.sentinel.bumpAvailable(n)
	}
}

// Notify increments the delegate's available-task counter by one and
// wakes any goroutine blocked in the owning Registrar's AwaitTask. This is
// the off-thread producer path spec.md §4.8 permits ("task scheduling
// from off-thread is permitted").
func (d *Delegate) Notify() { d.markAvailable(1) }

// runExecute invokes the delegate's execute callback, converting a panic
// into an error so one misbehaving delegate aborts only the current
// cycle rather than the whole core thread, per spec.md §4.8's Failure
// rule ("any exception thrown... aborts the cycle").
func (d *Delegate) runExecute(frame uint64) (executed int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return d.execute(frame), nil
}
