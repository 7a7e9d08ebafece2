package router

import (
	"fmt"

	"github.com/brypt-project/brypt/awaitable"
	"github.com/brypt-project/brypt/identifier"
	"github.com/brypt-project/brypt/message"
)

// Next is the continuation object spec.md §4.6 hands to a route handler:
// dispatch (fire-and-forget send back to source), respond (bind the
// request's own tracker key into a reply), and defer (stage a deferred
// aggregate and fan it out to other peers).
type Next struct {
	source  identifier.Identifier
	request *message.ApplicationParcel
	router  *Router
}

// Source returns the peer identifier the inbound request arrived from.
func (n *Next) Source() identifier.Identifier { return n.source }

// Dispatch fire-and-forget sends a new application parcel back to the
// continuation's source peer on the given route.
func (n *Next) Dispatch(route string, payload []byte) error {
	parcel, err := message.BuildApplication(n.request.Header.Destination, message.DestinationNode, n.source, route, payload)
	if err != nil {
		return fmt.Errorf("router: dispatch: %w", err)
	}
	return n.router.send(n.source, parcel)
}

// Respond sends payload back to source on the request's own route, bound
// with the original request's Awaitable tracker key (if any) as a
// response-bound extension, plus a Status extension carrying code.
func (n *Next) Respond(payload []byte, code message.StatusCode) error {
	extensions := []message.Extension{message.StatusExtension{Code: code}}
	if ext, ok := n.request.Extensions.Awaitable(); ok && ext.Binding == message.BindingRequest {
		extensions = append(extensions, message.AwaitableExtension{
			Binding:    message.BindingResponse,
			TrackerKey: ext.TrackerKey,
		})
	}

	reply, err := message.BuildApplication(n.request.Header.Destination, message.DestinationNode, n.source, n.request.Route, payload, extensions...)
	if err != nil {
		return fmt.Errorf("router: respond: %w", err)
	}
	return n.router.send(n.source, reply)
}

// Defer stages a deferred aggregate over expected (spec.md §4.5's
// Deferred request kind) and dispatches route/payload, wrapped in a
// request-bound Awaitable extension carrying the fan-out's own
// correlation key, to every peer in expected. responder assembles the
// eventual reply to the continuation's source from whatever sub-responses
// arrive; requestor is whatever the caller will use to actually transmit
// that reply once built (typically the source peer's proxy).
func (n *Next) Defer(expected []identifier.Identifier, route string, payload []byte, responder awaitable.ResponseFunc, requestor awaitable.Transmitter) error {
	key, err := n.router.awaitableSvc.StageDeferred(expected, n.request, requestor, responder, 0)
	if err != nil {
		return fmt.Errorf("router: defer: stage: %w", err)
	}

	ext := message.AwaitableExtension{Binding: message.BindingRequest, TrackerKey: [16]byte(key)}
	for _, peerID := range expected {
		fanout, err := message.BuildApplication(n.request.Header.Destination, message.DestinationNode, peerID, route, payload, ext)
		if err != nil {
			return fmt.Errorf("router: defer: build fanout to %s: %w", peerID, err)
		}
		if err := n.router.send(peerID, fanout); err != nil {
			return fmt.Errorf("router: defer: send to %s: %w", peerID, err)
		}
	}
	return nil
}
