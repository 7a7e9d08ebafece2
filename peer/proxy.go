package peer

import (
	"sync"

	"github.com/brypt-project/brypt/address"
	"github.com/brypt-project/brypt/identifier"
	"github.com/brypt-project/brypt/message"
	"github.com/brypt-project/brypt/security"
)

// Receiver is the current consumer of a proxy's inbound bytes: initially
// the peer's Security Mediator ingress, later swapped to the
// AuthorizedProcessor once the handshake completes (spec.md §2 data flow).
type Receiver func(ctx *message.Context, payload []byte)

// StateChange is published once per endpoint registration/withdrawal so a
// Peer Manager can fan it out to observers (spec.md §4.4
// dispatch_peer_state_change).
type StateChange int

const (
	Connected StateChange = iota
	Disconnected
)

// NotifyFunc is called by a Proxy on every register/withdraw, never more
// than once per endpoint per transition.
type NotifyFunc func(p *Proxy, endpointID string, protocol address.Protocol, change StateChange)

// Proxy represents one connected peer across potentially multiple
// concurrent endpoints, per spec.md §4.2. Grounded on session/manager.go's
// map-of-sessions discipline generalized from "one session per peer" to
// "N endpoint registrations sharing one identity and one security
// mediator".
type Proxy struct {
	mu sync.RWMutex

	id identifier.Identifier

	registrations map[string]*Registration
	stats         Statistics

	mediator *security.Mediator
	receiver Receiver

	notify NotifyFunc
}

// New constructs a proxy for id. The identifier is fixed at construction
// and never rebound, per spec.md §4.2's invariant.
func New(id identifier.Identifier, notify NotifyFunc) *Proxy {
	return &Proxy{
		id:            id,
		registrations: make(map[string]*Registration),
		notify:        notify,
	}
}

// GetIdentifier returns the proxy's fixed peer identifier.
func (p *Proxy) GetIdentifier() identifier.Identifier { return p.id }

// GetStatistics returns the proxy's sent/received counters.
func (p *Proxy) GetStatistics() *Statistics { return &p.stats }

// IsActive reports whether the proxy has at least one endpoint
// registration.
func (p *Proxy) IsActive() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.registrations) > 0
}

// IsAuthorized reports whether the proxy's mediator has reached Authorized.
func (p *Proxy) IsAuthorized() bool {
	p.mu.RLock()
	m := p.mediator
	p.mu.RUnlock()
	return m != nil && m.State() == security.Authorized
}

// GetRegistrationCount returns the number of endpoint registrations.
func (p *Proxy) GetRegistrationCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.registrations)
}

// RegisterEndpoint inserts reg into the endpoint map. If a mediator is
// already attached, the registration's context is immediately bound to its
// capabilities. Idempotent on a duplicate endpoint-id: the existing
// registration's schedule/context are replaced but no duplicate connect
// event fires.
func (p *Proxy) RegisterEndpoint(reg *Registration) {
	p.mu.Lock()
	_, existed := p.registrations[reg.EndpointID]
	if p.mediator != nil {
		reg.rebind(p.mediator.Context())
	}
	p.registrations[reg.EndpointID] = reg
	p.mu.Unlock()

	if !existed && p.notify != nil {
		p.notify(p, reg.EndpointID, reg.Protocol, Connected)
	}
}

// WithdrawEndpoint removes a registration and publishes a disconnect
// event. If it was the last registration the proxy becomes inactive; the
// owning Peer Manager may then release it.
func (p *Proxy) WithdrawEndpoint(endpointID string, protocol address.Protocol) {
	p.mu.Lock()
	_, existed := p.registrations[endpointID]
	delete(p.registrations, endpointID)
	p.mu.Unlock()

	if existed && p.notify != nil {
		p.notify(p, endpointID, protocol, Disconnected)
	}
}

// AttachSecurityMediator installs mediator, re-binds every existing
// registration's context to its capabilities, and sets the proxy's
// receiver to the mediator's handshake ingress. Called once; a second call
// is a no-op, since spec.md §4.2 says "called once" and a handshake can
// only ever complete a single time per proxy.
func (p *Proxy) AttachSecurityMediator(mediator *security.Mediator, ingress Receiver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mediator != nil {
		return
	}
	p.mediator = mediator
	for _, reg := range p.registrations {
		reg.rebind(mediator.Context())
	}
	p.receiver = ingress
}

// SetReceiver swaps the current inbound consumer, used when the mediator
// completes its handshake and hands the proxy off to the
// AuthorizedProcessor.
func (p *Proxy) SetReceiver(r Receiver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.receiver = r
}

// RebindAuthorizedContexts re-binds every registration's context to the
// mediator's now-Authorized capabilities. Called by the mediator's
// handshake completion path, distinct from AttachSecurityMediator which
// only runs once at setup.
func (p *Proxy) RebindAuthorizedContexts() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mediator == nil {
		return
	}
	ctx := p.mediator.Context()
	for _, reg := range p.registrations {
		reg.rebind(ctx)
	}
}

// ScheduleReceive increments the received counter and forwards payload to
// the current receiver via the named endpoint's context. Fails silently if
// the endpoint is unknown or no receiver is installed (spec.md §4.2
// failure rules), logging is left to the caller since Proxy has no logger
// dependency of its own.
func (p *Proxy) ScheduleReceive(endpointID string, payload []byte) bool {
	p.mu.RLock()
	reg, ok := p.registrations[endpointID]
	receiver := p.receiver
	p.mu.RUnlock()
	if !ok || receiver == nil {
		return false
	}
	p.stats.addReceived(len(payload))
	receiver(reg.Context, payload)
	return true
}

// ScheduleSend increments the sent counter and invokes endpointID's
// scheduler closure, returning whether it accepted. Never an error
// condition if the endpoint is missing, per spec.md §4.2.
func (p *Proxy) ScheduleSend(endpointID string, payload []byte) bool {
	p.mu.RLock()
	reg, ok := p.registrations[endpointID]
	p.mu.RUnlock()
	if !ok {
		return false
	}
	accepted := reg.Schedule(payload)
	if accepted {
		p.stats.addSent(len(payload))
	}
	return accepted
}

// ScheduleSendAny picks the first active registration in map iteration
// order, a convenience for callers that don't care which endpoint carries
// a parcel.
func (p *Proxy) ScheduleSendAny(payload []byte) bool {
	p.mu.RLock()
	var reg *Registration
	for _, r := range p.registrations {
		reg = r
		break
	}
	p.mu.RUnlock()
	if reg == nil {
		return false
	}
	accepted := reg.Schedule(payload)
	if accepted {
		p.stats.addSent(len(payload))
	}
	return accepted
}

// Mediator returns the attached security mediator, or nil.
func (p *Proxy) Mediator() *security.Mediator {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mediator
}
