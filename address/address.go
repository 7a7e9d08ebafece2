// Package address defines brypt's remote address tuple: a transport
// protocol, a protocol-specific authority string, and a bootstrapable flag.
package address

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Protocol identifies a transport. The set is closed: adding a new
// transport means adding a new constant here and a matching network
// endpoint implementation, never an open string.
type Protocol uint8

const (
	Unknown Protocol = iota
	TCP
	LoRa
	WebSocket
)

// String implements fmt.Stringer.
func (p Protocol) String() string {
	switch p {
	case TCP:
		return "tcp"
	case LoRa:
		return "lora"
	case WebSocket:
		return "ws"
	default:
		return "unknown"
	}
}

// ParseProtocol maps a wire/config string onto a Protocol, defaulting to
// Unknown for anything unrecognized rather than erroring — callers that
// care must check the result explicitly.
func ParseProtocol(s string) Protocol {
	switch strings.ToLower(s) {
	case "tcp":
		return TCP
	case "lora":
		return LoRa
	case "ws", "websocket":
		return WebSocket
	default:
		return Unknown
	}
}

// ErrInvalidAddress is returned when an authority string fails
// protocol-specific validation.
var ErrInvalidAddress = errors.New("address: invalid")

// Address is an immutable remote address: protocol, authority, and whether
// it is eligible to be persisted as a bootstrap entry.
type Address struct {
	protocol     Protocol
	authority    string
	bootstrapable bool
}

// New validates and constructs an Address.
func New(protocol Protocol, authority string, bootstrapable bool) (Address, error) {
	if protocol == Unknown {
		return Address{}, fmt.Errorf("%w: unknown protocol", ErrInvalidAddress)
	}
	if authority == "" {
		return Address{}, fmt.Errorf("%w: empty authority", ErrInvalidAddress)
	}
	switch protocol {
	case TCP, WebSocket:
		if _, _, err := net.SplitHostPort(authority); err != nil {
			return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
		}
	case LoRa:
		// LoRa authority format is device-specific and opaque to the
		// core; only non-emptiness is enforced here.
	}
	return Address{protocol: protocol, authority: authority, bootstrapable: bootstrapable}, nil
}

// Protocol returns the address's transport.
func (a Address) Protocol() Protocol { return a.protocol }

// Authority returns the protocol-specific authority string.
func (a Address) Authority() string { return a.authority }

// Bootstrapable reports whether this address may be persisted to a
// bootstrap list by an external collaborator.
func (a Address) Bootstrapable() bool { return a.bootstrapable }

// String renders "protocol://authority".
func (a Address) String() string {
	return fmt.Sprintf("%s://%s", a.protocol, a.authority)
}

// Equal compares two addresses by protocol and authority.
func (a Address) Equal(other Address) bool {
	return a.protocol == other.protocol && a.authority == other.authority
}
