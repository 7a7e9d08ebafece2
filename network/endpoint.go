// Package network owns transport sockets, frames byte streams per
// protocol, and hands decoded parcels up to peer proxies, per spec.md
// §4.7.
package network

import (
	"context"
	"time"

	"github.com/brypt-project/brypt/address"
)

// ServerState is the server-bound endpoint lifecycle of spec.md §4.7.
type ServerState int

const (
	ServerIdle ServerState = iota
	ServerBound
	ServerAccepted
	ServerHandshaking
	ServerLinked
	ServerClosed
)

func (s ServerState) String() string {
	switch s {
	case ServerIdle:
		return "idle"
	case ServerBound:
		return "bound"
	case ServerAccepted:
		return "accepted"
	case ServerHandshaking:
		return "handshaking"
	case ServerLinked:
		return "linked"
	case ServerClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ClientState is the client-connecting endpoint lifecycle of spec.md §4.7.
type ClientState int

const (
	ClientIdle ClientState = iota
	ClientDialing
	ClientConnected
	ClientHandshaking
	ClientLinked
	ClientClosed
)

func (s ClientState) String() string {
	switch s {
	case ClientIdle:
		return "idle"
	case ClientDialing:
		return "dialing"
	case ClientConnected:
		return "connected"
	case ClientHandshaking:
		return "handshaking"
	case ClientLinked:
		return "linked"
	case ClientClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// InboundFrame is one Z85 transport string an endpoint has read off the
// wire, still unparsed, tagged with the local connection that produced it
// and the endpoint's remote address: the dialed address for a client
// endpoint, the zero Address for connections a server endpoint accepted.
// Endpoint I/O threads never
// decode or touch peer state themselves, per spec.md §5 — they only ever
// hand raw frames up through DeliverFunc, matching "endpoint I/O threads
// interact with core only via per-peer inbound byte queue".
type InboundFrame struct {
	EndpointID string
	Protocol   address.Protocol
	Remote     address.Address
	Transport  string
}

// DeliverFunc is the core's thread-safe ingress queue. An Endpoint calls
// it once per frame read; the core (AuthorizedProcessor) decides whether
// the frame is a handshake, an application parcel, or garbage.
type DeliverFunc func(frame InboundFrame)

// Config bounds one endpoint's timeouts and retry policy. All durations
// are expected to be configured under spec.md §5's 24-hour upper limit;
// this package does not itself enforce that ceiling — config/ does, at
// load time.
type Config struct {
	ConnectTimeout time.Duration
	RetryLimit     int
	RetryInterval  time.Duration
}

// Endpoint owns one transport socket, server-bound or client-connecting,
// per spec.md §4.7.
type Endpoint interface {
	// Startup begins the endpoint's I/O: binding and accepting for a
	// server, or dialing for a client. It returns once the endpoint has
	// reached its first steady state (Bound or Connected) and runs the rest
	// of its lifecycle on background goroutines.
	Startup(ctx context.Context) error
	// Shutdown closes the transport socket and joins its I/O goroutines,
	// reporting whether it was active beforehand.
	Shutdown() bool
	// IsActive reports whether the endpoint is accepting or maintaining
	// at least one connection.
	IsActive() bool
	// Protocol identifies the transport this endpoint implements.
	Protocol() address.Protocol
	// Send transmits a packed transport string over the connection known
	// by endpointID, returning whether a live connection accepted it.
	// endpointID is the same string this endpoint supplied as
	// InboundFrame.EndpointID for that connection.
	Send(endpointID string, transport string) bool
	// PrimaryConnectionID returns the connection id of a client-role
	// endpoint's single dialed connection, once Startup has returned
	// successfully. A server-role endpoint tracks many connections under
	// no single identity and always returns ("", false); callers learn
	// those ids only from InboundFrame.EndpointID. This exists so a
	// caller that just dialed a bootstrap peer can address Send before
	// any frame has arrived from it — the client must speak first in a
	// brypt handshake.
	PrimaryConnectionID() (string, bool)
}

// ConnectionFailedEvent is emitted by a client endpoint once its retry
// budget is exhausted, per spec.md §4.7's "final failure emits a
// connection-failed event".
type ConnectionFailedEvent struct {
	Address address.Address
	Cause   error
}

// EventFunc receives lifecycle events an endpoint cannot otherwise report
// through its narrow Endpoint interface (currently just connection
// failure on exhausted retries).
type EventFunc func(event ConnectionFailedEvent)
