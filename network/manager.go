package network

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/brypt-project/brypt/address"
)

// Manager owns the fleet of Endpoints a node has bound or dialed,
// per spec.md §4.7. It holds no peer or security state itself — it only
// starts/stops transports and routes InboundFrame/Send calls by the
// connection-local endpoint id a transport assigned, leaving identifier
// resolution, handshake driving, and frame decoding to whatever core
// component supplies its DeliverFunc.
//
// Grounded on the teacher's cmd/test-client and cmd/test-server mains,
// which each stand up exactly one listener or dialer directly in main();
// generalized here into a fleet manager so a node can bind multiple
// protocols and dial multiple bootstrap peers concurrently.
type Manager struct {
	mu        sync.RWMutex
	endpoints map[string]Endpoint
	deliver   DeliverFunc
	onEvent   EventFunc
}

// NewManager constructs an endpoint fleet manager. deliver is shared by
// every endpoint this manager starts; onEvent receives connection-failed
// events from client endpoints that exhaust their retry budget.
func NewManager(deliver DeliverFunc, onEvent EventFunc) *Manager {
	return &Manager{
		endpoints: make(map[string]Endpoint),
		deliver:   deliver,
		onEvent:   onEvent,
	}
}

// key identifies one endpoint within the fleet by protocol and authority,
// distinct from the connection-local ids a transport hands out per
// accepted/dialed socket.
func key(addr address.Address) string { return addr.String() }

// Bind starts a server-bound endpoint for protocol on bindAddress.
func (m *Manager) Bind(ctx context.Context, bindAddress address.Address, cfg Config) (Endpoint, error) {
	var ep Endpoint
	switch bindAddress.Protocol() {
	case address.TCP:
		ep = NewTCPServer(bindAddress, cfg, m.deliver)
	case address.WebSocket:
		ep = NewWebSocketServer(bindAddress, cfg, m.deliver)
	default:
		return nil, fmt.Errorf("network: bind: unsupported protocol %s", bindAddress.Protocol())
	}

	if err := ep.Startup(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.endpoints[key(bindAddress)] = ep
	m.mu.Unlock()
	return ep, nil
}

// Connect dials a single client-connecting endpoint for remoteAddress.
func (m *Manager) Connect(ctx context.Context, remoteAddress address.Address, cfg Config) (Endpoint, error) {
	var ep Endpoint
	switch remoteAddress.Protocol() {
	case address.TCP:
		ep = NewTCPClient(remoteAddress, cfg, m.deliver, m.onEvent)
	case address.WebSocket:
		ep = NewWebSocketClient(remoteAddress, cfg, m.deliver, m.onEvent)
	default:
		return nil, fmt.Errorf("network: connect: unsupported protocol %s", remoteAddress.Protocol())
	}

	if err := ep.Startup(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.endpoints[key(remoteAddress)] = ep
	m.mu.Unlock()
	return ep, nil
}

// ConnectBootstrap dials every address in bootstrap concurrently,
// returning once all dial attempts (including their configured retries)
// have settled. A failure to connect to one bootstrap address does not
// abort the others — each is independent, per spec.md §4.7's per-endpoint
// retry policy — but every error is collected and returned together.
func (m *Manager) ConnectBootstrap(ctx context.Context, bootstrap []address.Address, cfg Config) error {
	var g errgroup.Group
	var mu sync.Mutex
	var errs []error
	for _, addr := range bootstrap {
		addr := addr
		g.Go(func() error {
			if _, err := m.Connect(ctx, addr, cfg); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return errors.Join(errs...)
}

// Send routes payload to whichever endpoint owns connectionID, trying
// every tracked endpoint since connection ids are only unique within a
// single transport's own namespace. Returns false if no endpoint accepts
// it.
func (m *Manager) Send(connectionID string, transport string) bool {
	m.mu.RLock()
	endpoints := make([]Endpoint, 0, len(m.endpoints))
	for _, ep := range m.endpoints {
		endpoints = append(endpoints, ep)
	}
	m.mu.RUnlock()

	for _, ep := range endpoints {
		if ep.Send(connectionID, transport) {
			return true
		}
	}
	return false
}

// Endpoint returns the tracked endpoint bound/connected at addr, if any.
func (m *Manager) Endpoint(addr address.Address) (Endpoint, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ep, ok := m.endpoints[key(addr)]
	return ep, ok
}

// Shutdown stops every tracked endpoint, returning the count that had
// been active.
func (m *Manager) Shutdown() int {
	m.mu.Lock()
	endpoints := make([]Endpoint, 0, len(m.endpoints))
	for k := range m.endpoints {
		endpoints = append(endpoints, m.endpoints[k])
		delete(m.endpoints, k)
	}
	m.mu.Unlock()

	stopped := 0
	for _, ep := range endpoints {
		if ep.Shutdown() {
			stopped++
		}
	}
	return stopped
}

// ActiveEndpoints counts currently active tracked endpoints.
func (m *Manager) ActiveEndpoints() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, ep := range m.endpoints {
		if ep.IsActive() {
			n++
		}
	}
	return n
}
