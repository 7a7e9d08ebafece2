package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// classicStrategy pairs X25519 ECDH (stdlib crypto/ecdh) with Ed25519
// signatures, deriving its AEAD key via HKDF-SHA256 over the raw shared
// secret. Grounded on crypto/keys/x25519.go's DeriveSharedSecret +
// deriveHKDFKey pairing and crypto/keys/ed25519.go's Sign/Verify.
type classicStrategy struct {
	dhPriv  *ecdh.PrivateKey
	dhPub   *ecdh.PublicKey
	signPub  ed25519.PublicKey
	signPriv ed25519.PrivateKey

	peerSignPub ed25519.PublicKey

	aead cipher.AEAD
	bound bool
}

func newClassicStrategy() *classicStrategy {
	return &classicStrategy{}
}

func (s *classicStrategy) Name() string { return string(StrategyClassic) }

func (s *classicStrategy) GenerateKeyPair() error {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("security/classic: generate x25519 key: %w", err)
	}
	s.dhPriv = priv
	s.dhPub = priv.PublicKey()

	pub, sk, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("security/classic: generate ed25519 key: %w", err)
	}
	s.signPub, s.signPriv = pub, sk
	return nil
}

// PublicKeyBytes concatenates the X25519 agreement key and the Ed25519
// verification key: 32 bytes each, agreement key first.
func (s *classicStrategy) PublicKeyBytes() []byte {
	out := make([]byte, 0, 64)
	out = append(out, s.dhPub.Bytes()...)
	out = append(out, s.signPub...)
	return out
}

func (s *classicStrategy) Bind(peerPublicKeyBytes []byte) error {
	if s.bound {
		return ErrAlreadyBound
	}
	if len(peerPublicKeyBytes) != 64 {
		return fmt.Errorf("security/classic: peer key must be 64 bytes, got %d", len(peerPublicKeyBytes))
	}
	peerDH, err := ecdh.X25519().NewPublicKey(peerPublicKeyBytes[:32])
	if err != nil {
		return fmt.Errorf("security/classic: parse peer x25519 key: %w", err)
	}
	raw, err := s.dhPriv.ECDH(peerDH)
	if err != nil {
		return fmt.Errorf("security/classic: ecdh: %w", err)
	}

	transcript := append(append([]byte{}, s.dhPub.Bytes()...), peerDH.Bytes()...)
	h := hkdf.New(sha256.New, raw, transcript, []byte("brypt-classic-aes256gcm"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(h, key); err != nil {
		return fmt.Errorf("security/classic: hkdf: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("security/classic: aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("security/classic: gcm: %w", err)
	}
	s.aead = aead
	s.peerSignPub = ed25519.PublicKey(append([]byte(nil), peerPublicKeyBytes[32:]...))
	s.bound = true
	return nil
}

func (s *classicStrategy) Encrypt(nonce, plaintext []byte) ([]byte, error) {
	if !s.bound {
		return nil, ErrNotBound
	}
	return s.aead.Seal(nil, s.aeadNonce(nonce), plaintext, nil), nil
}

func (s *classicStrategy) Decrypt(nonce, ciphertext []byte) ([]byte, error) {
	if !s.bound {
		return nil, ErrNotBound
	}
	return s.aead.Open(nil, s.aeadNonce(nonce), ciphertext, nil)
}

// aeadNonce adapts the codec's 12-byte timestamp-derived nonce to the
// AEAD's configured nonce size (always 12 for AES-GCM here, kept explicit
// in case a future strategy's AEAD differs).
func (s *classicStrategy) aeadNonce(nonce []byte) []byte {
	size := s.aead.NonceSize()
	if len(nonce) == size {
		return nonce
	}
	out := make([]byte, size)
	copy(out, nonce)
	return out
}

func (s *classicStrategy) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(s.signPriv, message), nil
}

func (s *classicStrategy) Verify(message, signature []byte) (bool, error) {
	key := s.signPub
	if s.bound {
		key = s.peerSignPub
	}
	return ed25519.Verify(key, message, signature), nil
}

func (s *classicStrategy) SignatureSize() int {
	return ed25519.SignatureSize
}
