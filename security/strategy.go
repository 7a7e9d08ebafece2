package security

import "errors"

// Strategy is a pluggable key-agreement + AEAD + signature scheme bound to
// one Security Mediator. Swapping strategies never touches the message
// codec or peer proxy: both only ever see the resulting Encrypt/Decrypt/
// Sign/Verify closures on a message.Context.
type Strategy interface {
	// Name identifies the strategy for logging/config selection.
	Name() string

	// GenerateKeyPair creates an ephemeral local key pair for one session.
	GenerateKeyPair() error

	// PublicKeyBytes returns the local public key to hand the peer during
	// the handshake.
	PublicKeyBytes() []byte

	// Bind derives the shared AEAD key from the peer's public key bytes.
	// Must be called once, after GenerateKeyPair, before Encrypt/Decrypt.
	Bind(peerPublicKeyBytes []byte) error

	// Encrypt seals plaintext under the bound shared key with an explicit
	// nonce supplied by the caller (see message.nonceFromTimestamp).
	Encrypt(nonce, plaintext []byte) ([]byte, error)

	// Decrypt opens ciphertext sealed by Encrypt.
	Decrypt(nonce, ciphertext []byte) ([]byte, error)

	// Sign produces a detached signature over message.
	Sign(message []byte) ([]byte, error)

	// Verify checks a detached signature produced by Sign: against the
	// peer's verification key once Bind has completed, against this
	// side's own key before that.
	Verify(message, signature []byte) (bool, error)

	// SignatureSize returns the fixed byte length Sign always produces.
	SignatureSize() int
}

// ErrNotBound is returned by Encrypt/Decrypt when Bind has not completed.
var ErrNotBound = errors.New("security: strategy not bound to a peer key")

// ErrAlreadyBound is returned by Bind when called more than once.
var ErrAlreadyBound = errors.New("security: strategy already bound")

// StrategyName selects a concrete Strategy implementation, persisted in
// config and exchanged during the platform handshake so both sides agree
// on which cipher suite a session uses.
type StrategyName string

const (
	StrategyClassic   StrategyName = "classic"    // x25519 + hkdf + aes-256-gcm, ed25519 signatures
	StrategyCirclHPKE StrategyName = "circl-hpke"  // RFC 9180 HPKE via cloudflare/circl, ed25519 signatures
	StrategySecp256k1 StrategyName = "secp256k1"   // secp256k1 ECDH + hkdf + aes-256-gcm, ECDSA signatures
)

// New constructs the Strategy implementation named by n.
func New(n StrategyName) (Strategy, error) {
	switch n {
	case StrategyClassic:
		return newClassicStrategy(), nil
	case StrategyCirclHPKE:
		return newCirclStrategy(), nil
	case StrategySecp256k1:
		return newSecp256k1Strategy(), nil
	default:
		return nil, errors.New("security: unknown strategy name " + string(n))
	}
}
