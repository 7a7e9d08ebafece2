package peer

import (
	"sort"
	"sync"
	"time"

	"github.com/brypt-project/brypt/address"
	"github.com/brypt-project/brypt/identifier"
	"github.com/brypt-project/brypt/message"
	"github.com/brypt-project/brypt/security"
)

// Filter selects which proxies for_each_peer visits.
type Filter int

const (
	FilterActive Filter = iota
	FilterInactive
	FilterAll
)

// IterationResult is returned by a for_each_peer callback to control
// whether iteration continues.
type IterationResult int

const (
	Continue IterationResult = iota
	Stop
)

// Observer receives peer connect/disconnect notifications fanned out by
// dispatch_peer_state_change.
type Observer interface {
	OnPeerStateChange(p *Proxy, endpointID string, protocol address.Protocol, change StateChange)
}

// pendingResolution tracks an in-flight handshake keyed by the address
// being dialed, before the peer's identifier is known to have a proxy.
type pendingResolution struct {
	mediator   *security.Mediator
	identifier identifier.Identifier
}

// Manager is the authoritative directory of Peer Proxies, per spec.md
// §4.4. Grounded on session/manager.go's map+RWMutex lifecycle discipline,
// generalized from session-ID keying to peer-identifier keying plus a
// second address-keyed map for pending (pre-identifier) resolutions.
type Manager struct {
	mu sync.RWMutex

	proxies   map[identifier.Identifier]*Proxy
	resolving map[string]*pendingResolution

	localID        identifier.Identifier
	strategyName   security.StrategyName
	nonces         *security.NonceCache
	observers      []Observer
}

// NewManager constructs an empty directory. strategyName selects which
// Strategy new mediators use; nonces is shared across every mediator this
// manager creates.
func NewManager(localID identifier.Identifier, strategyName security.StrategyName, nonces *security.NonceCache) *Manager {
	return &Manager{
		proxies:      make(map[identifier.Identifier]*Proxy),
		resolving:    make(map[string]*pendingResolution),
		localID:      localID,
		strategyName: strategyName,
		nonces:       nonces,
	}
}

// AddObserver registers an observer for peer state changes.
func (m *Manager) AddObserver(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

// newStrategy constructs a fresh Strategy instance for one mediator.
// Swallowing the error here would hide a misconfigured strategy name;
// callers that need to surface it should validate strategyName at startup
// via security.New directly.
func (m *Manager) newStrategy() security.Strategy {
	s, err := security.New(m.strategyName)
	if err != nil {
		panic("peer: manager configured with invalid strategy name: " + err.Error())
	}
	return s
}

// DeclareResolving begins dialing addr. If addr is already being resolved,
// returns (nil, false, nil) — spec.md §4.4's "returns none". If
// maybeIdentifier is known and already has a proxy, returns a fast-path
// heartbeat request instead of a handshake. Otherwise creates a new
// initiator mediator, stores it keyed by addr, and returns the initial
// handshake frame for the endpoint to transmit.
func (m *Manager) DeclareResolving(addr address.Address, maybeIdentifier identifier.Identifier) (*message.PlatformParcel, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := addr.String()
	if _, already := m.resolving[key]; already {
		return nil, false, nil
	}

	if maybeIdentifier.IsValid() {
		if _, ok := m.proxies[maybeIdentifier]; ok {
			heartbeat, err := message.BuildPlatform(m.localID, message.DestinationNode, maybeIdentifier, message.PlatformHeartbeatRequest, nil)
			if err != nil {
				return nil, false, err
			}
			return heartbeat, true, nil
		}
	}

	mediator := security.NewMediator(m.localID, m.nonces)
	request, err := mediator.SetupInitiator(m.newStrategy())
	if err != nil {
		return nil, false, err
	}
	m.resolving[key] = &pendingResolution{mediator: mediator, identifier: maybeIdentifier}
	return request, true, nil
}

// UndeclareResolving removes a pending resolution whose connection timed
// out at the endpoint before a peer identifier was ever established.
func (m *Manager) UndeclareResolving(addr address.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.resolving, addr.String())
}

// LinkPeer is called by an endpoint once it has authenticated the source
// of an inbound stream. If id is already tracked, any resolving mediator
// for addr is discarded (the tracked proxy's own mediator wins) and the
// existing proxy is returned. Otherwise a new proxy is created: using the
// resolving entry's initiator mediator if this manager dialed addr itself,
// or a fresh acceptor mediator otherwise.
func (m *Manager) LinkPeer(id identifier.Identifier, addr address.Address) (*Proxy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := addr.String()
	if existing, ok := m.proxies[id]; ok {
		delete(m.resolving, key)
		return existing, nil
	}

	var mediator *security.Mediator
	if pending, ok := m.resolving[key]; ok {
		mediator = pending.mediator
		delete(m.resolving, key)
	} else {
		mediator = security.NewMediator(m.localID, m.nonces)
		if err := mediator.SetupAcceptor(m.newStrategy()); err != nil {
			return nil, err
		}
	}

	proxy := New(id, m.dispatchPeerStateChange)
	proxy.mediator = mediator
	m.proxies[id] = proxy
	return proxy, nil
}

// ForEachPeer iterates proxies matching filter in identifier-string
// order (a stable order independent of Go's randomized map iteration),
// invoking callback until it returns Stop or every matching proxy has been
// visited.
func (m *Manager) ForEachPeer(filter Filter, callback func(*Proxy) IterationResult) {
	m.mu.RLock()
	ids := make([]identifier.Identifier, 0, len(m.proxies))
	for id := range m.proxies {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	proxies := make([]*Proxy, 0, len(ids))
	for _, id := range ids {
		proxies = append(proxies, m.proxies[id])
	}
	m.mu.RUnlock()

	for _, p := range proxies {
		active := p.IsActive()
		switch filter {
		case FilterActive:
			if !active {
				continue
			}
		case FilterInactive:
			if active {
				continue
			}
		}
		if callback(p) == Stop {
			return
		}
	}
}

// ActivePeers counts proxies with at least one endpoint registration.
func (m *Manager) ActivePeers() int {
	return m.countWhere(func(p *Proxy) bool { return p.IsActive() })
}

// InactivePeers counts proxies with zero endpoint registrations.
func (m *Manager) InactivePeers() int {
	return m.countWhere(func(p *Proxy) bool { return !p.IsActive() })
}

// ObservedPeers counts every tracked proxy, active or not.
func (m *Manager) ObservedPeers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.proxies)
}

// ResolvingPeers counts addresses with a pending, not-yet-linked mediator.
func (m *Manager) ResolvingPeers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.resolving)
}

func (m *Manager) countWhere(pred func(*Proxy) bool) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, p := range m.proxies {
		if pred(p) {
			n++
		}
	}
	return n
}

// dispatchPeerStateChange fans out to every registered observer
// synchronously on the calling (core) thread, per spec.md §4.4.
func (m *Manager) dispatchPeerStateChange(p *Proxy, endpointID string, protocol address.Protocol, change StateChange) {
	m.mu.RLock()
	observers := append([]Observer(nil), m.observers...)
	m.mu.RUnlock()
	for _, o := range observers {
		o.OnPeerStateChange(p, endpointID, protocol, change)
	}
}

// SweepHandshakeTimeouts flags every mediator that has sat Unauthorized
// for at least timeout as Flagged (spec.md §4.3's "timeout" failure
// cause), discarding pre-link pending resolutions outright and dropping
// any already-linked proxy whose handshake never completed. It returns
// the number of mediators flagged, mirroring the teacher's periodic
// sweep-and-report pattern.
func (m *Manager) SweepHandshakeTimeouts(now time.Time, timeout time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	flagged := 0
	for key, pending := range m.resolving {
		if pending.mediator.SweepTimeout(now, timeout) {
			delete(m.resolving, key)
			flagged++
		}
	}
	for id, p := range m.proxies {
		mediator := p.Mediator()
		if mediator != nil && mediator.SweepTimeout(now, timeout) {
			delete(m.proxies, id)
			flagged++
		}
	}
	return flagged
}

// Release drops proxy p from the directory if it has become inactive,
// matching spec.md §4.2's "the owning manager may then release it".
func (m *Manager) Release(id identifier.Identifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.proxies[id]; ok && !p.IsActive() {
		delete(m.proxies, id)
	}
}
