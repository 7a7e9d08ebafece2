// Package runtime drives a node's scheduler.Registrar on either the
// calling goroutine (Foreground) or a spawned worker goroutine
// (Background), per spec.md §4.9.
package runtime

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brypt-project/brypt/scheduler"
)

// TokenState is one state of an execution token's lifecycle, per
// spec.md §4.9's {Standby, Requested, ThreadSpawned, Running,
// Error(cause)} set.
type TokenState int32

const (
	Standby TokenState = iota
	Requested
	ThreadSpawned
	Running
	TokenError
)

func (s TokenState) String() string {
	switch s {
	case Standby:
		return "standby"
	case Requested:
		return "requested"
	case ThreadSpawned:
		return "thread-spawned"
	case Running:
		return "running"
	case TokenError:
		return "error"
	default:
		return "unknown"
	}
}

// Token is the atomically-observed execution state both runtime
// variants own, with an optional error cause recorded alongside the
// TokenError state.
type Token struct {
	state atomic.Int32
	cause atomic.Value // error
}

// NewToken constructs a token in Standby.
func NewToken() *Token {
	t := &Token{}
	t.state.Store(int32(Standby))
	return t
}

// State returns the token's current state.
func (t *Token) State() TokenState { return TokenState(t.state.Load()) }

// transition sets the token's state; a cause recorded by an earlier fail
// call is left in place.
func (t *Token) transition(s TokenState) { t.state.Store(int32(s)) }

// fail transitions the token to TokenError, recording cause.
func (t *Token) fail(cause error) {
	t.cause.Store(cause)
	t.state.Store(int32(TokenError))
}

// Cause returns the error recorded by the most recent fail call, or nil
// if the token has never entered TokenError.
func (t *Token) Cause() error {
	v := t.cause.Load()
	if v == nil {
		return nil
	}
	return v.(error)
}

// RequestStop cooperatively cancels a running policy: the next loop
// iteration observes the transition away from Running at its
// await_task wakeup and exits after finishing the cycle already in
// flight, per spec.md §4.9's "the next loop iteration observes it and
// exits after the current cycle completes".
//
// The spec's state set has no dedicated "stopping" value distinct from
// Requested, so this module reuses Requested for that purpose: Start
// moves a token out of Requested into Running, and RequestStop moves it
// back, which both the Foreground and Background loop conditions below
// treat as "no longer running". Recorded as an Open Question
// resolution in DESIGN.md.
func (t *Token) RequestStop() {
	t.state.CompareAndSwap(int32(Running), int32(Requested))
}

// Core is the subset of the node core a runtime policy calls back into
// once its execution loop exits.
type Core interface {
	OnRuntimeStopped(status error)
}

// awaitInterval is the fixed poll/backoff spec.md §4.9 gives the core
// loop: registrar.execute(); registrar.await_task(250ms).
const awaitInterval = 250 * time.Millisecond

// runLoop is shared by Foreground.Start and the Background worker
// goroutine: it executes cycles until the token leaves Running, then
// reports status via core.OnRuntimeStopped.
func runLoop(registrar *scheduler.Registrar, token *Token, core Core) {
	var status error
	for token.State() == Running {
		if _, err := registrar.Execute(); err != nil {
			status = fmt.Errorf("runtime: cycle aborted: %w", err)
			token.fail(err)
			break
		}
		registrar.AwaitTask(awaitInterval)
	}
	core.OnRuntimeStopped(status)
}

// Foreground runs the scheduler loop on the calling goroutine.
type Foreground struct {
	core      Core
	registrar *scheduler.Registrar
	token     *Token
}

// NewForeground constructs a Foreground runtime policy.
func NewForeground(core Core, registrar *scheduler.Registrar) *Foreground {
	return &Foreground{core: core, registrar: registrar, token: NewToken()}
}

// Token returns the policy's execution token.
func (f *Foreground) Token() *Token { return f.token }

// Start marks the token Running and blocks the calling goroutine running
// cycles until RequestStop is observed, then invokes the core's
// on_runtime_stopped hook and returns.
func (f *Foreground) Start() {
	f.token.transition(Running)
	runLoop(f.registrar, f.token, f.core)
}

// Stop requests cooperative cancellation; see Token.RequestStop.
func (f *Foreground) Stop() { f.token.RequestStop() }

// Background runs the scheduler loop on a spawned worker goroutine.
type Background struct {
	core      Core
	registrar *scheduler.Registrar
	token     *Token
	wg        sync.WaitGroup
}

// NewBackground constructs a Background runtime policy.
func NewBackground(core Core, registrar *scheduler.Registrar) *Background {
	return &Background{core: core, registrar: registrar, token: NewToken()}
}

// Token returns the policy's execution token.
func (b *Background) Token() *Token { return b.token }

// Start marks the token ThreadSpawned, spawns the worker goroutine, and
// returns ThreadSpawned to the caller without blocking. The worker
// transitions the token to Running itself once scheduled, and calls the
// core's on_runtime_stopped hook before terminating.
func (b *Background) Start() TokenState {
	b.token.transition(ThreadSpawned)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.token.state.CompareAndSwap(int32(ThreadSpawned), int32(Running))
		runLoop(b.registrar, b.token, b.core)
	}()
	return ThreadSpawned
}

// Stop requests cooperative cancellation; see Token.RequestStop.
func (b *Background) Stop() {
	if !b.token.state.CompareAndSwap(int32(ThreadSpawned), int32(Requested)) {
		b.token.RequestStop()
	}
}

// Join blocks until the worker goroutine has returned, useful for tests
// and for an orderly shutdown sequence that waits out the final cycle.
func (b *Background) Join() { b.wg.Wait() }
