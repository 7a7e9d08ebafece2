package security

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/brypt-project/brypt/identifier"
	"github.com/brypt-project/brypt/message"
)

// State is the Security Mediator's handshake state, per spec.md §4.3.
type State uint8

const (
	Unauthorized State = iota // initial
	Flagged                   // handshake failed or integrity violation; terminal
	Authorized                // keys established, encryption/signing closures active
)

func (s State) String() string {
	switch s {
	case Unauthorized:
		return "unauthorized"
	case Flagged:
		return "flagged"
	case Authorized:
		return "authorized"
	default:
		return "unknown"
	}
}

// Sentinel errors surfaced by the handshake state machine.
var (
	ErrAlreadyTerminal  = errors.New("security: mediator already flagged")
	ErrUnexpectedState  = errors.New("security: handshake frame arrived in unexpected state")
	ErrBadHandshakeBody = errors.New("security: malformed handshake payload")
	ErrReplayedNonce    = errors.New("security: replayed handshake nonce")
)

// receiverBinder is implemented by strategies whose key agreement is
// sender/receiver-asymmetric (HPKE): the side that did not initiate Bind
// consumes the sender's encapsulated key instead of calling Bind directly.
type receiverBinder interface {
	BindAsReceiver(enc []byte) error
	Enc() []byte
}

// Mediator drives one peer's handshake state machine and, once Authorized,
// produces the message.Context capability closures every registration on
// that peer's proxy shares. Grounded on core/handshake/session.go's
// initiator/acceptor split and session/session.go's state transitions,
// generalized from SAGE's fixed Ed25519+X25519 pairing to brypt's
// pluggable Strategy.
type Mediator struct {
	mu          sync.Mutex
	state       State
	strategy    Strategy
	nonces      *NonceCache
	localID     identifier.Identifier
	peerID      identifier.Identifier
	isInitiator bool
	createdAt   time.Time
}

// NewMediator constructs an unauthorized mediator for one peer session.
// nonces may be shared across every mediator on a node; it is never
// created per-peer.
func NewMediator(localID identifier.Identifier, nonces *NonceCache) *Mediator {
	return &Mediator{localID: localID, nonces: nonces, state: Unauthorized, createdAt: time.Now()}
}

// State reports the current handshake state.
func (m *Mediator) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// PeerID reports the peer identifier learned from a completed handshake.
// Zero value until Authorized.
func (m *Mediator) PeerID() identifier.Identifier {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peerID
}

// SetupInitiator produces the first handshake frame to send, per spec.md
// §4.3. It records pending-initiator state; the mediator stays
// Unauthorized until the peer's response arrives.
func (m *Mediator) SetupInitiator(strategy Strategy) (*message.PlatformParcel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Unauthorized {
		return nil, ErrUnexpectedState
	}
	m.strategy = strategy
	m.isInitiator = true

	if err := strategy.GenerateKeyPair(); err != nil {
		return nil, fmt.Errorf("security: setup initiator: %w", err)
	}

	payload := encodeHandshakePayload(strategy.PublicKeyBytes(), nil)
	return message.BuildPlatform(m.localID, message.DestinationNode, identifier.Invalid, message.PlatformHandshake, payload)
}

// SetupAcceptor installs strategy and prepares the mediator to receive a
// handshake; it generates the acceptor's own key pair immediately so the
// response frame can be produced within one call to HandleHandshake.
func (m *Mediator) SetupAcceptor(strategy Strategy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Unauthorized {
		return ErrUnexpectedState
	}
	m.strategy = strategy
	m.isInitiator = false
	if err := strategy.GenerateKeyPair(); err != nil {
		return fmt.Errorf("security: setup acceptor: %w", err)
	}
	return nil
}

// HandleHandshake advances the state machine on an inbound platform
// handshake parcel. It returns a non-nil response parcel when the
// acceptor must reply (the initiator's response consumption never
// produces a further frame). On any failure the mediator transitions to
// Flagged and the caller must drop the proxy.
func (m *Mediator) HandleHandshake(parcel *message.PlatformParcel) (*message.PlatformParcel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Flagged {
		return nil, ErrAlreadyTerminal
	}
	if m.state == Authorized {
		// spec.md §9: a handshake frame delivered in Authorized state is
		// dropped, not downgraded.
		return nil, nil
	}
	if parcel.Type != message.PlatformHandshake {
		m.state = Flagged
		return nil, fmt.Errorf("%w: not a handshake frame", ErrUnexpectedState)
	}

	sourceKey := parcel.Header.Source.String()
	timestampMs := uint64(parcel.Header.Timestamp.UnixMilli())
	if m.nonces != nil && m.nonces.Seen(sourceKey, timestampMs) {
		m.state = Flagged
		return nil, ErrReplayedNonce
	}

	peerPub, enc, err := decodeHandshakePayload(parcel.Payload)
	if err != nil {
		m.state = Flagged
		return nil, err
	}

	if m.isInitiator {
		if rb, ok := m.strategy.(receiverBinder); ok && len(enc) > 0 {
			if err := rb.BindAsReceiver(enc); err != nil {
				m.state = Flagged
				return nil, fmt.Errorf("security: bind as receiver: %w", err)
			}
		} else {
			if err := m.strategy.Bind(peerPub); err != nil {
				m.state = Flagged
				return nil, fmt.Errorf("security: bind: %w", err)
			}
		}
		m.peerID = parcel.Header.Source
		m.state = Authorized
		return nil, nil
	}

	// Acceptor: bind against the initiator's public key. For HPKE this
	// makes the acceptor the sender, producing an enc to echo back.
	if err := m.strategy.Bind(peerPub); err != nil {
		m.state = Flagged
		return nil, fmt.Errorf("security: bind: %w", err)
	}
	m.peerID = parcel.Header.Source
	m.state = Authorized

	var responseEnc []byte
	if rb, ok := m.strategy.(receiverBinder); ok {
		responseEnc = rb.Enc()
	}
	payload := encodeHandshakePayload(m.strategy.PublicKeyBytes(), responseEnc)
	return message.BuildPlatform(m.localID, message.DestinationNode, parcel.Header.Source, message.PlatformHandshake, payload)
}

// Context builds the message.Context capability set for a new endpoint
// registration on this peer's proxy. Per spec.md §4.2's invariant, callers
// must only attach this once the mediator is Authorized — HasSecurity()
// naturally reports false before then since the closures are never handed
// out early.
func (m *Mediator) Context() *message.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Authorized {
		return &message.Context{PeerID: m.peerID}
	}
	strategy := m.strategy
	return &message.Context{
		PeerID:  m.peerID,
		Encrypt: strategy.Encrypt,
		Decrypt: strategy.Decrypt,
		Sign: func(buf []byte) ([]byte, error) {
			sig, err := strategy.Sign(buf)
			if err != nil {
				return nil, err
			}
			return append(append([]byte(nil), buf...), sig...), nil
		},
		Verify: func(buf []byte) (bool, error) {
			size := strategy.SignatureSize()
			if len(buf) < size {
				return false, nil
			}
			body := buf[:len(buf)-size]
			sig := buf[len(buf)-size:]
			return strategy.Verify(body, sig)
		},
		SignatureSize: strategy.SignatureSize,
	}
}

// SweepTimeout flags the mediator as failed if it has sat Unauthorized for
// at least timeout since construction, per spec.md §4.3's "timeout"
// handshake-failure cause. It reports whether it flagged the mediator;
// callers (peer.Manager's periodic sweep) use the return value to decide
// whether the proxy should be released.
func (m *Mediator) SweepTimeout(now time.Time, timeout time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Unauthorized || now.Sub(m.createdAt) < timeout {
		return false
	}
	m.state = Flagged
	return true
}

// encodeHandshakePayload packs (pubkey, enc) as length-prefixed blobs; enc
// is empty for every strategy but circl-hpke's sender-role response.
func encodeHandshakePayload(pub, enc []byte) []byte {
	out := make([]byte, 0, 2+len(pub)+len(enc))
	out = append(out, byte(len(pub)))
	out = append(out, pub...)
	out = append(out, byte(len(enc)))
	out = append(out, enc...)
	return out
}

func decodeHandshakePayload(payload []byte) (pub, enc []byte, err error) {
	if len(payload) < 1 {
		return nil, nil, ErrBadHandshakeBody
	}
	pubLen := int(payload[0])
	if len(payload) < 1+pubLen+1 {
		return nil, nil, ErrBadHandshakeBody
	}
	pub = payload[1 : 1+pubLen]
	pos := 1 + pubLen
	encLen := int(payload[pos])
	pos++
	if len(payload) < pos+encLen {
		return nil, nil, ErrBadHandshakeBody
	}
	enc = payload[pos : pos+encLen]
	return pub, enc, nil
}
