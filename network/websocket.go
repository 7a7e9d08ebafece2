package network

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/brypt-project/brypt/address"
)

// WebSocketEndpoint is a server-bound or client-connecting WebSocket
// endpoint. Each gorilla/websocket message carries exactly one transport
// string, so unlike TCPEndpoint it needs no explicit length prefix — the
// library's own frame boundary does that job.
//
// Grounded on the gorilla/websocket dependency the teacher already
// carries in go.mod (used there for its MCP transport layer); this
// package is the first to exercise it for brypt's own peer wire protocol.
type WebSocketEndpoint struct {
	role    Role
	cfg     Config
	deliver DeliverFunc
	onEvent EventFunc

	bindAddress   address.Address
	remoteAddress address.Address

	server        *http.Server
	upgrader      websocket.Upgrader
	mu            sync.Mutex
	connections   map[string]*websocket.Conn
	primaryConnID string

	serverState atomic.Int32
	clientState atomic.Int32
	active      atomic.Bool
	wg          sync.WaitGroup
	cancel      context.CancelFunc
}

// NewWebSocketServer constructs a server-bound WebSocket endpoint that
// will listen and upgrade incoming connections on bindAddress.
func NewWebSocketServer(bindAddress address.Address, cfg Config, deliver DeliverFunc) *WebSocketEndpoint {
	e := &WebSocketEndpoint{
		role:        RoleServer,
		cfg:         cfg,
		deliver:     deliver,
		bindAddress: bindAddress,
		connections: make(map[string]*websocket.Conn),
		upgrader:    websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
	}
	e.serverState.Store(int32(ServerIdle))
	return e
}

// NewWebSocketClient constructs a client-connecting WebSocket endpoint
// that will dial remoteAddress on Startup.
func NewWebSocketClient(remoteAddress address.Address, cfg Config, deliver DeliverFunc, onEvent EventFunc) *WebSocketEndpoint {
	e := &WebSocketEndpoint{
		role:          RoleClient,
		cfg:           cfg,
		deliver:       deliver,
		onEvent:       onEvent,
		remoteAddress: remoteAddress,
		connections:   make(map[string]*websocket.Conn),
	}
	e.clientState.Store(int32(ClientIdle))
	return e
}

func (e *WebSocketEndpoint) Protocol() address.Protocol { return address.WebSocket }

func (e *WebSocketEndpoint) Startup(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	switch e.role {
	case RoleServer:
		return e.startServer(runCtx)
	case RoleClient:
		return e.startClient(runCtx)
	default:
		return fmt.Errorf("network: unknown endpoint role %d", e.role)
	}
}

func (e *WebSocketEndpoint) startServer(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", e.handleUpgrade)
	e.server = &http.Server{Addr: e.bindAddress.Authority(), Handler: mux}

	listenErr := make(chan error, 1)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		err := e.server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			listenErr <- err
		}
	}()
	e.serverState.Store(int32(ServerBound))
	e.active.Store(true)

	go func() {
		<-ctx.Done()
		e.server.Close()
	}()

	select {
	case err := <-listenErr:
		return fmt.Errorf("network: websocket bind %s: %w", e.bindAddress, err)
	case <-time.After(50 * time.Millisecond):
		return nil
	}
}

func (e *WebSocketEndpoint) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	e.serverState.Store(int32(ServerAccepted))
	connID := e.trackConnection(conn)
	e.wg.Add(1)
	go e.serve(context.Background(), connID, conn)
}

func (e *WebSocketEndpoint) startClient(ctx context.Context) error {
	e.clientState.Store(int32(ClientDialing))

	dialer := websocket.Dialer{HandshakeTimeout: e.cfg.ConnectTimeout}
	url := fmt.Sprintf("ws://%s", e.remoteAddress.Authority())

	var conn *websocket.Conn
	var err error
	attempts := 0
	for {
		conn, _, err = dialer.DialContext(ctx, url, nil)
		if err == nil {
			break
		}
		attempts++
		if e.cfg.RetryLimit > 0 && attempts >= e.cfg.RetryLimit {
			e.clientState.Store(int32(ClientClosed))
			if e.onEvent != nil {
				e.onEvent(ConnectionFailedEvent{Address: e.remoteAddress, Cause: err})
			}
			return fmt.Errorf("network: websocket dial %s: retries exhausted: %w", e.remoteAddress, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.cfg.RetryInterval):
		}
	}

	e.clientState.Store(int32(ClientConnected))
	e.active.Store(true)
	connID := e.trackConnection(conn)
	e.mu.Lock()
	e.primaryConnID = connID
	e.mu.Unlock()
	e.wg.Add(1)
	go e.serve(ctx, connID, conn)
	return nil
}

func (e *WebSocketEndpoint) trackConnection(conn *websocket.Conn) string {
	connID := "ws-" + uuid.NewString()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connections[connID] = conn
	return connID
}

// PrimaryConnectionID implements Endpoint.
func (e *WebSocketEndpoint) PrimaryConnectionID() (string, bool) {
	if e.role != RoleClient {
		return "", false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.primaryConnID, e.primaryConnID != ""
}

func (e *WebSocketEndpoint) untrackConnection(connID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.connections, connID)
}

func (e *WebSocketEndpoint) serve(ctx context.Context, connID string, conn *websocket.Conn) {
	defer e.wg.Done()
	defer conn.Close()
	defer e.untrackConnection(connID)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if e.deliver != nil {
			e.deliver(InboundFrame{
				EndpointID: connID,
				Protocol:   address.WebSocket,
				Remote:     e.remoteAddress,
				Transport:  string(data),
			})
		}
	}
}

// Send writes transport as a single text-message frame to the connection
// known by endpointID.
func (e *WebSocketEndpoint) Send(endpointID string, transport string) bool {
	e.mu.Lock()
	conn, ok := e.connections[endpointID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	return conn.WriteMessage(websocket.TextMessage, []byte(transport)) == nil
}

// Shutdown closes the HTTP server (if any) and every tracked connection.
func (e *WebSocketEndpoint) Shutdown() bool {
	wasActive := e.active.Swap(false)
	if e.cancel != nil {
		e.cancel()
	}
	if e.server != nil {
		e.server.Close()
	}
	e.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(e.connections))
	for _, c := range e.connections {
		conns = append(conns, c)
	}
	e.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
	e.wg.Wait()

	switch e.role {
	case RoleServer:
		e.serverState.Store(int32(ServerClosed))
	case RoleClient:
		e.clientState.Store(int32(ClientClosed))
	}
	return wasActive
}

func (e *WebSocketEndpoint) IsActive() bool { return e.active.Load() }
