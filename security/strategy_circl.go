package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/cloudflare/circl/hpke"
)

// circlSuite is the RFC 9180 HPKE cipher suite used to export a shared
// secret; the exported secret then feeds a local AES-256-GCM AEAD exactly
// like the classic strategy, rather than using HPKE's own seal/open —
// brypt's wire format already carries its own nonce derivation and framing,
// so only HPKE's KEM+KDF half is exercised. Grounded on
// crypto/keys/x25519.go's HPKEDeriveSharedSecretToX25519Peer /
// HPKEOpenSharedSecretWithX25519Priv pairing.
var circlSuite = hpke.NewSuite(
	hpke.KEM_X25519_HKDF_SHA256,
	hpke.KDF_HKDF_SHA256,
	hpke.AEAD_AES256GCM,
)

const hpkeExportLen = 32

// circlStrategy is the post-quantum-ready alternative to classicStrategy:
// same X25519 KEM, but key agreement runs through cloudflare/circl's HPKE
// so swapping strategies only ever changes this file. Its key pairs come
// from stdlib crypto/ecdh and it signs with stdlib Ed25519. Its Verify
// always checks against this side's own signing key, also after Bind.
type circlStrategy struct {
	kemPriv *ecdh.PrivateKey
	kemPub  *ecdh.PublicKey

	signPub  ed25519.PublicKey
	signPriv ed25519.PrivateKey

	// enc is the HPKE encapsulated key this side produced when it initiated
	// Bind as the sender; the responder never sets it and instead receives
	// the initiator's enc out of band during the handshake payload.
	enc []byte

	aead  cipher.AEAD
	bound bool
}

func newCirclStrategy() *circlStrategy {
	return &circlStrategy{}
}

func (s *circlStrategy) Name() string { return string(StrategyCirclHPKE) }

func (s *circlStrategy) GenerateKeyPair() error {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("security/circl: generate kem key: %w", err)
	}
	s.kemPriv = priv
	s.kemPub = priv.PublicKey()

	pub, sk, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("security/circl: generate signing key: %w", err)
	}
	s.signPub, s.signPriv = pub, sk
	return nil
}

func (s *circlStrategy) PublicKeyBytes() []byte {
	out := make([]byte, 0, 64)
	out = append(out, s.kemPub.Bytes()...)
	out = append(out, s.signPub...)
	return out
}

// Bind runs this side as an HPKE sender against the peer's KEM key,
// producing both the shared AEAD key and the encapsulated key this side
// must hand the peer (via Enc) so they can run as the receiver.
func (s *circlStrategy) Bind(peerPublicKeyBytes []byte) error {
	if s.bound {
		return ErrAlreadyBound
	}
	if len(peerPublicKeyBytes) != 64 {
		return fmt.Errorf("security/circl: peer key must be 64 bytes, got %d", len(peerPublicKeyBytes))
	}
	kem := hpke.KEM_X25519_HKDF_SHA256.Scheme()
	peerPub, err := kem.UnmarshalBinaryPublicKey(peerPublicKeyBytes[:32])
	if err != nil {
		return fmt.Errorf("security/circl: unmarshal peer kem key: %w", err)
	}

	sender, err := circlSuite.NewSender(peerPub, []byte("brypt-handshake"))
	if err != nil {
		return fmt.Errorf("security/circl: new sender: %w", err)
	}
	enc, sealer, err := sender.Setup(rand.Reader)
	if err != nil {
		return fmt.Errorf("security/circl: sender setup: %w", err)
	}
	secret := sealer.Export([]byte("brypt-session-key"), hpkeExportLen)

	if err := s.deriveAEAD(secret); err != nil {
		return err
	}
	s.enc = enc
	s.bound = true
	return nil
}

// BindAsReceiver completes the handshake on the side that did not call
// Bind: it consumes the sender's encapsulated key to reproduce the same
// exported secret.
func (s *circlStrategy) BindAsReceiver(enc []byte) error {
	if s.bound {
		return ErrAlreadyBound
	}
	kem := hpke.KEM_X25519_HKDF_SHA256.Scheme()
	skR, err := kem.UnmarshalBinaryPrivateKey(s.kemPriv.Bytes())
	if err != nil {
		return fmt.Errorf("security/circl: unmarshal local kem priv: %w", err)
	}
	receiver, err := circlSuite.NewReceiver(skR, []byte("brypt-handshake"))
	if err != nil {
		return fmt.Errorf("security/circl: new receiver: %w", err)
	}
	opener, err := receiver.Setup(enc)
	if err != nil {
		return fmt.Errorf("security/circl: receiver setup: %w", err)
	}
	secret := opener.Export([]byte("brypt-session-key"), hpkeExportLen)

	if err := s.deriveAEAD(secret); err != nil {
		return err
	}
	s.bound = true
	return nil
}

// Enc returns the encapsulated key produced by Bind, for the sender side
// to hand the peer so it can call BindAsReceiver.
func (s *circlStrategy) Enc() []byte { return s.enc }

func (s *circlStrategy) deriveAEAD(key []byte) error {
	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("security/circl: aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("security/circl: gcm: %w", err)
	}
	s.aead = aead
	return nil
}

func (s *circlStrategy) Encrypt(nonce, plaintext []byte) ([]byte, error) {
	if !s.bound {
		return nil, ErrNotBound
	}
	return s.aead.Seal(nil, s.aeadNonce(nonce), plaintext, nil), nil
}

func (s *circlStrategy) Decrypt(nonce, ciphertext []byte) ([]byte, error) {
	if !s.bound {
		return nil, ErrNotBound
	}
	return s.aead.Open(nil, s.aeadNonce(nonce), ciphertext, nil)
}

func (s *circlStrategy) aeadNonce(nonce []byte) []byte {
	size := s.aead.NonceSize()
	if len(nonce) == size {
		return nonce
	}
	out := make([]byte, size)
	copy(out, nonce)
	return out
}

func (s *circlStrategy) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(s.signPriv, message), nil
}

func (s *circlStrategy) Verify(message, signature []byte) (bool, error) {
	return ed25519.Verify(s.signPub, message, signature), nil
}

func (s *circlStrategy) SignatureSize() int {
	return ed25519.SignatureSize
}
