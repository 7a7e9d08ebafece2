package peer

import (
	"github.com/brypt-project/brypt/address"
	"github.com/brypt-project/brypt/message"
)

// SchedulerFunc hands framed bytes to an endpoint's outbound queue; it
// returns whether the endpoint accepted the write (spec.md §4.2's
// "invokes its scheduler closure; returns whether the closure accepted").
type SchedulerFunc func(payload []byte) bool

// Registration is one endpoint's binding to a Peer Proxy: the transport
// that produced it, the message.Context an inbound/outbound parcel on
// this endpoint carries, and the closure the proxy calls to actually
// write bytes out. Grounded on session/manager.go's per-session map entry
// generalized from "one session" to "one endpoint registration among N on
// a shared proxy".
type Registration struct {
	EndpointID string
	Protocol   address.Protocol
	Context    *message.Context
	Schedule   SchedulerFunc
}

// rebind replaces the registration's context with one carrying mediator
// capabilities, preserving EndpointID/Protocol/Schedule. Called by
// Proxy.AttachSecurityMediator, Proxy.RebindAuthorizedContexts and
// Proxy.RegisterEndpoint when a mediator is already attached.
func (r *Registration) rebind(ctx *message.Context) {
	ctx.EndpointID = r.EndpointID
	ctx.Protocol = r.Protocol
	r.Context = ctx
}
