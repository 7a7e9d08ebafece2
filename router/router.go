// Package router maps application route strings to handlers and invokes
// them with a continuation value, per spec.md §4.6.
package router

import (
	"sync"

	"github.com/brypt-project/brypt/awaitable"
	"github.com/brypt-project/brypt/identifier"
	"github.com/brypt-project/brypt/message"
)

// HandlerFunc processes one inbound application parcel's payload for a
// registered route. It returns whether the request was accepted; when
// the inbound parcel carried a request-bound Awaitable extension, a false
// return is turned into a protocol-defined error response automatically.
type HandlerFunc func(source identifier.Identifier, payload []byte, next *Next) bool

// Sender transmits a fully-built application parcel to destination. The
// router never owns a peer directory itself; whatever wires a Router up
// (the AuthorizedProcessor) supplies this closure over its own.
type Sender func(destination identifier.Identifier, parcel *message.ApplicationParcel) error

// Router maps route strings to handlers by exact equality — spec.md
// §4.6's "no parameter patterns in the core" — grounded on the teacher's
// http.ServeMux-style `mux.HandleFunc(route, handler)` registration used
// throughout its integration test servers, generalized from HTTP routes
// addressed by path to application routes addressed by peer identifier.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	awaitableSvc *awaitable.Service
	send         Sender
}

// New constructs an empty router. awaitableSvc backs Next.Defer's
// staging; send is used for every reply Next builds.
func New(awaitableSvc *awaitable.Service, send Sender) *Router {
	return &Router{
		handlers:     make(map[string]HandlerFunc),
		awaitableSvc: awaitableSvc,
		send:         send,
	}
}

// Register installs handler for route, replacing any existing
// registration — matching http.ServeMux's own last-registration-wins
// semantics for exact patterns.
func (r *Router) Register(route string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[route] = handler
}

// Unregister removes route's handler, if any.
func (r *Router) Unregister(route string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, route)
}

// Dispatch looks up request's route and invokes its handler with a fresh
// Next continuation, per spec.md §4.6. Returns whether a route handler
// was found and invoked; a missing route is not itself turned into a wire
// error response — that's for the caller to log or ignore.
func (r *Router) Dispatch(source identifier.Identifier, request *message.ApplicationParcel) bool {
	r.mu.RLock()
	handler, ok := r.handlers[request.Route]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	next := &Next{source: source, request: request, router: r}
	if accepted := handler(source, request.Payload, next); !accepted {
		if ext, has := request.Extensions.Awaitable(); has && ext.Binding == message.BindingRequest {
			_ = next.Respond(nil, message.StatusInternalError)
		}
	}
	return true
}
