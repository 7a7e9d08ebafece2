// Package brypt is the single embedding entry point for the node runtime:
// it wires every component package (identifier, message, security, peer,
// awaitable, router, network, scheduler, runtime) into one running
// peer-to-peer node, per spec.md §2.
//
// Grounded on core/core.go's Core struct: one explicit New constructor
// building and owning every sub-manager, with pass-through
// accessors for whatever an embedder needs directly. Intentionally thin —
// no option-setter pattern, no event-subscription wrapper types beyond the
// Receiver/Observer closures the component packages already define.
package brypt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brypt-project/brypt/address"
	"github.com/brypt-project/brypt/awaitable"
	"github.com/brypt-project/brypt/config"
	"github.com/brypt-project/brypt/health"
	"github.com/brypt-project/brypt/identifier"
	"github.com/brypt-project/brypt/internal/logger"
	"github.com/brypt-project/brypt/internal/metrics"
	"github.com/brypt-project/brypt/message"
	"github.com/brypt-project/brypt/network"
	"github.com/brypt-project/brypt/peer"
	"github.com/brypt-project/brypt/router"
	"github.com/brypt-project/brypt/runtime"
	"github.com/brypt-project/brypt/scheduler"
	"github.com/brypt-project/brypt/security"
)

// defaultNonceTTL bounds the handshake replay guard's retention window.
// Not itself a config field: spec.md §9's OPEN ITEM asks for replay
// protection, not for the window to be externally tunable.
const defaultNonceTTL = 5 * time.Minute

// runtimePolicy is satisfied by both *runtime.Foreground and
// *runtime.Background. Node only ever calls Stop/Token through it,
// switching on the concrete type for Start, whose signature differs
// between the two (Foreground blocks, Background doesn't).
type runtimePolicy interface {
	Token() *runtime.Token
	Stop()
}

// Node is one running brypt instance.
type Node struct {
	cfg     *config.Config
	log     logger.Logger
	localID identifier.Identifier

	strategyName security.StrategyName
	nonces       *security.NonceCache

	peers        *peer.Manager
	awaitableSvc *awaitable.Service
	router       *router.Router
	network      *network.Manager
	registrar    *scheduler.Registrar
	tasks        *scheduler.TaskService
	health       *health.Checker

	policy runtimePolicy
}

// New constructs a Node from an already-loaded configuration record,
// mirroring core.NewWithConfig's fail-fast validation — every sub-manager
// is built here; nothing is started until Start is called.
func New(cfg *config.Config) (*Node, error) {
	if cfg == nil {
		return nil, fmt.Errorf("brypt: nil config")
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("brypt: %w", err)
	}

	strategyName := security.StrategyName(cfg.Security)
	if _, err := security.New(strategyName); err != nil {
		return nil, fmt.Errorf("brypt: %w", err)
	}

	gen, err := identifierGenerator(cfg)
	if err != nil {
		return nil, err
	}
	localID, err := gen.Generate()
	if err != nil {
		return nil, fmt.Errorf("brypt: generate identifier: %w", err)
	}

	log := logger.GetDefaultLogger().WithFields(logger.String("node", localID.String()))

	n := &Node{
		cfg:          cfg,
		log:          log,
		localID:      localID,
		strategyName: strategyName,
		nonces:       security.NewNonceCache(defaultNonceTTL),
	}

	n.peers = peer.NewManager(localID, strategyName, n.nonces)
	n.peers.AddObserver(n)

	tasks, tasksDelegate := scheduler.NewTaskService("core-tasks")
	n.tasks = tasks
	n.awaitableSvc = awaitable.NewService(tasksDelegate.Notify)
	n.router = router.New(n.awaitableSvc, n.send)
	n.network = network.NewManager(n.onInbound, n.onConnectionFailed)

	n.registrar = scheduler.NewRegistrar()
	if err := n.registrar.Register(tasksDelegate); err != nil {
		return nil, fmt.Errorf("brypt: register core tasks delegate: %w", err)
	}
	if err := n.registrar.Initialize(); err != nil {
		return nil, fmt.Errorf("brypt: initialize scheduler: %w", err)
	}

	sweepInterval := cfg.Scheduler.NonceSweepFrames
	if sweepInterval == 0 {
		sweepInterval = 1
	}
	tasks.SubmitInterval("awaitable-sweep", sweepInterval, n.sweepAwaitable)
	tasks.SubmitInterval("handshake-sweep", sweepInterval, n.sweepHandshakeTimeouts)

	switch cfg.Runtime {
	case config.RuntimeBackground:
		n.policy = runtime.NewBackground(n, n.registrar)
	default:
		n.policy = runtime.NewForeground(n, n.registrar)
	}

	n.health = health.NewChecker(5 * time.Second)
	n.health.Register("endpoints", health.EndpointsCheck(n.network.ActiveEndpoints))
	n.health.Register("scheduler", health.SchedulerCheck(n.schedulerCause))

	return n, nil
}

// identifierGenerator builds the identifier.Generator implied by
// cfg.Identifier. A persistent identifier derives from the node's
// configured display name: full seed persistence would require a
// bootstrap cache, which spec.md §1 explicitly keeps as an external
// collaborator rather than an in-scope component.
func identifierGenerator(cfg *config.Config) (*identifier.Generator, error) {
	switch cfg.Identifier {
	case config.IdentifierPersistent:
		if cfg.DisplayName == "" {
			return nil, fmt.Errorf("brypt: persistent identifier requires a configured display name")
		}
		return identifier.NewPersistentGenerator([]byte(cfg.DisplayName)), nil
	case config.IdentifierEphemeral, "":
		return identifier.NewEphemeralGenerator(), nil
	default:
		return nil, fmt.Errorf("brypt: unrecognized identifier type %q", cfg.Identifier)
	}
}

// Identifier returns the node's own identifier.
func (n *Node) Identifier() identifier.Identifier { return n.localID }

// Router returns the application router, so an embedder can register its
// own routes before calling Start.
func (n *Node) Router() *router.Router { return n.router }

// PeerManager returns the peer directory, for embedders that need direct
// introspection (active peer counts, iteration) beyond the router.
func (n *Node) PeerManager() *peer.Manager { return n.peers }

// HealthChecker returns the node's health checker.
func (n *Node) HealthChecker() *health.Checker { return n.health }

// Start binds every configured endpoint, dials any configured bootstrap
// peers, optionally starts the metrics/health HTTP servers, and drives the
// runtime policy. For a Foreground policy this blocks until Stop is
// called from another goroutine; for Background it returns immediately.
func (n *Node) Start(ctx context.Context) error {
	netCfg := network.Config{
		ConnectTimeout: n.cfg.Timeouts.ConnectTimeout,
		RetryLimit:     n.cfg.Timeouts.RetryLimit,
		RetryInterval:  n.cfg.Timeouts.RetryInterval,
	}

	for _, epCfg := range n.cfg.Endpoints {
		protocol := address.ParseProtocol(epCfg.Protocol)
		addr, err := address.New(protocol, epCfg.BindAddress, epCfg.Bootstrapable)
		if err != nil {
			return fmt.Errorf("brypt: endpoint %s: %w", epCfg.BindAddress, err)
		}
		if _, err := n.network.Bind(ctx, addr, netCfg); err != nil {
			return fmt.Errorf("brypt: bind %s: %w", addr, err)
		}
		n.log.Info("endpoint bound", logger.String("protocol", addr.Protocol().String()), logger.String("address", addr.Authority()))
		metrics.EndpointsActive.WithLabelValues(addr.Protocol().String()).Inc()
	}

	if len(n.cfg.Bootstrap) > 0 {
		bootstrap := make([]address.Address, 0, len(n.cfg.Bootstrap))
		for _, b := range n.cfg.Bootstrap {
			addr, err := address.New(address.ParseProtocol(b.Protocol), b.Address, false)
			if err != nil {
				return fmt.Errorf("brypt: bootstrap %s: %w", b.Address, err)
			}
			bootstrap = append(bootstrap, addr)
		}

		g, gctx := errgroup.WithContext(context.Background())
		for _, addr := range bootstrap {
			addr := addr
			g.Go(func() error { return n.dialBootstrap(gctx, addr, netCfg) })
		}
		if err := g.Wait(); err != nil {
			n.log.Warn("bootstrap dial failed", logger.Error(err))
		}
	}

	if n.cfg.Metrics.Enabled {
		go func() {
			if err := metrics.StartServer(n.cfg.Metrics.Address); err != nil {
				n.log.Warn("metrics server stopped", logger.Error(err))
			}
		}()
	}
	if n.cfg.Health.Enabled {
		go func() {
			if err := n.health.StartServer(n.cfg.Health.Address, n.cfg.Health.Path); err != nil {
				n.log.Warn("health server stopped", logger.Error(err))
			}
		}()
	}

	switch policy := n.policy.(type) {
	case *runtime.Background:
		policy.Start()
		return nil
	case *runtime.Foreground:
		policy.Start()
		return n.policy.Token().Cause()
	default:
		return fmt.Errorf("brypt: unrecognized runtime policy")
	}
}

// Stop requests cooperative shutdown of the runtime loop, joins a
// Background worker if one is running, tears down every bound endpoint,
// and stops the nonce cache's housekeeping goroutine.
func (n *Node) Stop() {
	n.policy.Stop()
	if b, ok := n.policy.(*runtime.Background); ok {
		b.Join()
	}
	n.network.Shutdown()
	n.nonces.Close()
}

// OnRuntimeStopped implements runtime.Core.
func (n *Node) OnRuntimeStopped(status error) {
	if status != nil {
		n.log.Error("runtime loop aborted", logger.Error(status))
		return
	}
	n.log.Info("runtime loop stopped")
}

// schedulerCause backs the "scheduler" health check: a node whose runtime
// token has entered TokenError is unhealthy, carrying its recorded cause.
func (n *Node) schedulerCause() error {
	if n.policy.Token().State() == runtime.TokenError {
		return n.policy.Token().Cause()
	}
	return nil
}

// sweepAwaitable expires overdue awaitable trackers and transmits any
// that just completed, run every SchedulerConfig.NonceSweepFrames cycles
// by the core-tasks delegate.
func (n *Node) sweepAwaitable() {
	n.awaitableSvc.ExpireOverdue(time.Now())
	if done := n.awaitableSvc.Execute(n.packForAwaitable); done > 0 {
		n.log.Debug("awaitable trackers completed", logger.Int("count", done))
	}
}

// sweepHandshakeTimeouts flags any mediator that has sat Unauthorized for
// longer than Timeouts.HandshakeTimeout, per spec.md §4.3's "timeout"
// handshake-failure cause, run alongside sweepAwaitable by the core-tasks
// delegate.
func (n *Node) sweepHandshakeTimeouts() {
	if flagged := n.peers.SweepHandshakeTimeouts(time.Now(), n.cfg.Timeouts.HandshakeTimeout); flagged > 0 {
		n.log.Debug("handshakes timed out", logger.Int("count", flagged))
	}
}

// packForAwaitable packs a tracker's finalized reply parcel using the
// security context bound to its destination peer, if any.
func (n *Node) packForAwaitable(parcel *message.ApplicationParcel) ([]byte, error) {
	packed, err := message.Pack(parcel, n.contextFor(parcel.Header.Destination))
	if err != nil {
		return nil, err
	}
	metrics.MessagesPacked.WithLabelValues("application").Inc()
	return []byte(packed), nil
}

// send implements router.Sender: it packs parcel for destination's bound
// security context and hands it to the peer's proxy for transmission on
// whichever endpoint is available.
func (n *Node) send(destination identifier.Identifier, parcel *message.ApplicationParcel) error {
	proxy := n.lookupProxy(destination)
	if proxy == nil {
		return fmt.Errorf("brypt: send: peer %s not connected", destination)
	}
	packed, err := message.Pack(parcel, n.contextFor(destination))
	if err != nil {
		return fmt.Errorf("brypt: send: pack: %w", err)
	}
	metrics.MessagesPacked.WithLabelValues("application").Inc()
	if !proxy.ScheduleSendAny([]byte(packed)) {
		return fmt.Errorf("brypt: send: peer %s has no active endpoint", destination)
	}
	return nil
}

// contextFor returns peerID's bound message.Context if its mediator has
// reached Authorized, or nil — Pack and Unpack both treat a nil context
// as "no signing/encryption bound" rather than an error.
func (n *Node) contextFor(peerID identifier.Identifier) *message.Context {
	proxy := n.lookupProxy(peerID)
	if proxy == nil {
		return nil
	}
	mediator := proxy.Mediator()
	if mediator == nil || mediator.State() != security.Authorized {
		return nil
	}
	return mediator.Context()
}

// lookupProxy scans tracked proxies for id. peer.Manager exposes no
// direct by-identifier getter (only iteration and mutation entry
// points), so this is the thin glue layer's own lookup, grounded on the
// same ForEachPeer callback the Peer Manager already offers observers.
func (n *Node) lookupProxy(id identifier.Identifier) *peer.Proxy {
	var found *peer.Proxy
	n.peers.ForEachPeer(peer.FilterAll, func(p *peer.Proxy) peer.IterationResult {
		if p.GetIdentifier().Equal(id) {
			found = p
			return peer.Stop
		}
		return peer.Continue
	})
	return found
}

// dialBootstrap dials a single bootstrap address, declares it resolving
// against the peer manager, and — if DeclareResolving produced an
// initial handshake or heartbeat frame — transmits it over the freshly
// dialed connection. A brypt handshake is client-speaks-first, so this
// is the only place an outbound dial's first frame gets sent; every
// frame after it rides the normal onInbound/onPlatformFrame exchange.
func (n *Node) dialBootstrap(ctx context.Context, addr address.Address, cfg network.Config) error {
	ep, err := n.network.Connect(ctx, addr, cfg)
	if err != nil {
		return err
	}

	request, ok, err := n.peers.DeclareResolving(addr, identifier.Invalid)
	if err != nil {
		return fmt.Errorf("brypt: declare resolving %s: %w", addr, err)
	}
	if !ok || request == nil {
		return nil
	}

	connID, ok := ep.PrimaryConnectionID()
	if !ok {
		n.peers.UndeclareResolving(addr)
		return fmt.Errorf("brypt: dial %s: no primary connection id", addr)
	}

	packed, err := message.Pack(request, nil)
	if err != nil {
		n.peers.UndeclareResolving(addr)
		return fmt.Errorf("brypt: pack handshake request for %s: %w", addr, err)
	}
	metrics.MessagesPacked.WithLabelValues("platform").Inc()
	if !ep.Send(connID, packed) {
		n.peers.UndeclareResolving(addr)
		return fmt.Errorf("brypt: send handshake request to %s: no live connection", addr)
	}
	metrics.HandshakesInitiated.WithLabelValues("initiator").Inc()
	return nil
}

// onConnectionFailed implements network.EventFunc: a client endpoint
// reports its retry budget exhausted.
func (n *Node) onConnectionFailed(event network.ConnectionFailedEvent) {
	n.peers.UndeclareResolving(event.Address)
	n.log.Warn("connection failed", logger.String("address", event.Address.String()), logger.Error(event.Cause))
	metrics.ConnectionsFailed.WithLabelValues(event.Address.Protocol().String()).Inc()
}

// onInbound implements network.DeliverFunc: every frame any bound or
// dialed endpoint reads off the wire arrives here, tagged but otherwise
// unparsed.
func (n *Node) onInbound(frame network.InboundFrame) {
	tag, ok := message.PeekProtocol(frame.Transport)
	if !ok {
		n.log.Warn("dropped frame: unparseable protocol tag", logger.String("endpoint", frame.EndpointID))
		metrics.MessagesUnpacked.WithLabelValues("malformed").Inc()
		return
	}

	switch tag {
	case message.TagPlatform:
		n.onPlatformFrame(frame)
	case message.TagApplication:
		n.onApplicationFrame(frame)
	default:
		n.log.Warn("dropped frame: unknown tag", logger.String("endpoint", frame.EndpointID))
	}
}

// onPlatformFrame drives the handshake: it links (or resolves) the
// sending peer's proxy, advances its security mediator, and transmits
// any response the mediator produces.
func (n *Node) onPlatformFrame(frame network.InboundFrame) {
	parsed, err := message.Unpack(frame.Transport, nil)
	if err != nil {
		n.log.Warn("dropped platform frame: unpack failed", logger.Error(err))
		metrics.MessagesUnpacked.WithLabelValues("malformed").Inc()
		return
	}
	platformParcel, ok := parsed.(*message.PlatformParcel)
	if !ok {
		return
	}
	metrics.MessagesUnpacked.WithLabelValues("ok").Inc()

	source := platformParcel.Header.Source
	proxy, err := n.peers.LinkPeer(source, frame.Remote)
	if err != nil {
		n.log.Warn("link peer failed", logger.String("source", source.String()), logger.Error(err))
		return
	}
	n.registerEndpoint(proxy, frame)

	mediator := proxy.Mediator()
	if mediator == nil {
		return
	}
	wasAuthorized := mediator.State() == security.Authorized

	reply, err := mediator.HandleHandshake(platformParcel)
	if err != nil {
		cause := "handshake-error"
		if errors.Is(err, security.ErrReplayedNonce) {
			cause = "replayed-nonce"
			metrics.ReplaysDetected.Inc()
		}
		metrics.HandshakesFailed.WithLabelValues(cause).Inc()
		n.log.Warn("handshake failed", logger.String("source", source.String()), logger.Error(err))
		return
	}

	if !wasAuthorized && mediator.State() == security.Authorized {
		proxy.RebindAuthorizedContexts()
		proxy.SetReceiver(n.applicationReceiver)
		metrics.HandshakesCompleted.WithLabelValues(string(n.strategyName)).Inc()
		metrics.PeersRegistered.Inc()
		metrics.PeersActive.Set(float64(n.peers.ActivePeers()))
	}

	if reply == nil {
		return
	}
	packed, err := message.Pack(reply, nil)
	if err != nil {
		n.log.Warn("pack handshake reply failed", logger.Error(err))
		return
	}
	metrics.MessagesPacked.WithLabelValues("platform").Inc()
	proxy.ScheduleSend(frame.EndpointID, []byte(packed))
}

// onApplicationFrame hands an already-linked peer's frame to its proxy's
// current receiver. That receiver is applicationReceiver, installed once
// the handshake reaches Authorized; before then the proxy has no receiver
// and the frame is dropped.
func (n *Node) onApplicationFrame(frame network.InboundFrame) {
	source, ok := message.PeekSource(frame.Transport)
	if !ok {
		n.log.Warn("dropped application frame: unreadable source", logger.String("endpoint", frame.EndpointID))
		metrics.MessagesUnpacked.WithLabelValues("malformed").Inc()
		return
	}
	proxy := n.lookupProxy(source)
	if proxy == nil {
		n.log.Warn("application frame from unknown peer", logger.String("source", source.String()))
		return
	}
	if !proxy.ScheduleReceive(frame.EndpointID, []byte(frame.Transport)) {
		n.log.Warn("application frame dropped: no receiver bound", logger.String("source", source.String()))
	}
}

// applicationReceiver is installed as a proxy's Receiver once its
// handshake completes: it unpacks the transport payload with the bound
// context, feeds response parcels to the awaitable service, and
// dispatches unmatched requests to the router.
func (n *Node) applicationReceiver(ctx *message.Context, payload []byte) {
	parsed, err := message.Unpack(string(payload), ctx)
	if err != nil {
		n.log.Warn("application unpack failed", logger.Error(err))
		metrics.MessagesUnpacked.WithLabelValues(unpackFailureStatus(err)).Inc()
		return
	}
	appParcel, ok := parsed.(*message.ApplicationParcel)
	if !ok {
		return
	}
	metrics.MessagesUnpacked.WithLabelValues("ok").Inc()

	if outcome := n.awaitableSvc.Process(appParcel.Header.Source, appParcel); outcome != awaitable.OutcomeUnexpected {
		return
	}
	n.router.Dispatch(appParcel.Header.Source, appParcel)
}

// unpackFailureStatus classifies an Unpack error for the messages_unpacked_total
// metric's status label.
func unpackFailureStatus(err error) string {
	switch {
	case errors.Is(err, message.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, message.ErrTruncated):
		return "truncated"
	default:
		return "malformed"
	}
}

// OnPeerStateChange implements peer.Observer: it keeps peer-count gauges
// current and releases a proxy once it has no remaining endpoints.
func (n *Node) OnPeerStateChange(p *peer.Proxy, endpointID string, protocol address.Protocol, change peer.StateChange) {
	switch change {
	case peer.Connected:
		metrics.PeerEndpointsRegistered.WithLabelValues(protocol.String()).Inc()
	case peer.Disconnected:
		metrics.PeerDisconnects.WithLabelValues("session-closed").Inc()
		n.peers.Release(p.GetIdentifier())
	}
	metrics.PeersActive.Set(float64(n.peers.ActivePeers()))
}

// registerEndpoint installs (or refreshes) frame's endpoint registration
// on proxy, wiring its outbound schedule through the network manager.
// RegisterEndpoint is idempotent on a duplicate endpoint id, so this can
// be called on every platform frame without side effects beyond the
// first.
func (n *Node) registerEndpoint(proxy *peer.Proxy, frame network.InboundFrame) {
	endpointID := frame.EndpointID
	proxy.RegisterEndpoint(&peer.Registration{
		EndpointID: endpointID,
		Protocol:   frame.Protocol,
		Context:    &message.Context{},
		Schedule: func(payload []byte) bool {
			return n.network.Send(endpointID, string(payload))
		},
	})
}
