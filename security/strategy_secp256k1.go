package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/hkdf"
)

// secp256k1Strategy pairs secp256k1 ECDH with ECDSA signatures, the
// blockchain-chain-friendly alternative to the X25519/Ed25519 pair.
// Grounded on crypto/keys/secp256k1.go's key generation and
// serializeSignature/deserializeSignature fixed-width r||s encoding.
type secp256k1Strategy struct {
	priv *secp256k1.PrivateKey
	pub  *secp256k1.PublicKey

	peerPub *secp256k1.PublicKey

	aead  cipher.AEAD
	bound bool
}

func newSecp256k1Strategy() *secp256k1Strategy {
	return &secp256k1Strategy{}
}

func (s *secp256k1Strategy) Name() string { return string(StrategySecp256k1) }

func (s *secp256k1Strategy) GenerateKeyPair() error {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return fmt.Errorf("security/secp256k1: generate key: %w", err)
	}
	s.priv = priv
	s.pub = priv.PubKey()
	return nil
}

func (s *secp256k1Strategy) PublicKeyBytes() []byte {
	return s.pub.SerializeCompressed()
}

func (s *secp256k1Strategy) Bind(peerPublicKeyBytes []byte) error {
	if s.bound {
		return ErrAlreadyBound
	}
	peerPub, err := secp256k1.ParsePubKey(peerPublicKeyBytes)
	if err != nil {
		return fmt.Errorf("security/secp256k1: parse peer key: %w", err)
	}

	var peerJacobian secp256k1.JacobianPoint
	peerPub.AsJacobian(&peerJacobian)

	var shared secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(&s.priv.Key, &peerJacobian, &shared)
	shared.ToAffine()

	xBytes := shared.X.Bytes()
	raw := new(big.Int).SetBytes(xBytes[:]).Bytes()

	transcript := append(append([]byte{}, s.pub.SerializeCompressed()...), peerPub.SerializeCompressed()...)
	h := hkdf.New(sha256.New, raw, transcript, []byte("brypt-secp256k1-aes256gcm"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(h, key); err != nil {
		return fmt.Errorf("security/secp256k1: hkdf: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("security/secp256k1: aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("security/secp256k1: gcm: %w", err)
	}
	s.aead = aead
	s.peerPub = peerPub
	s.bound = true
	return nil
}

func (s *secp256k1Strategy) Encrypt(nonce, plaintext []byte) ([]byte, error) {
	if !s.bound {
		return nil, ErrNotBound
	}
	return s.aead.Seal(nil, s.aeadNonce(nonce), plaintext, nil), nil
}

func (s *secp256k1Strategy) Decrypt(nonce, ciphertext []byte) ([]byte, error) {
	if !s.bound {
		return nil, ErrNotBound
	}
	return s.aead.Open(nil, s.aeadNonce(nonce), ciphertext, nil)
}

func (s *secp256k1Strategy) aeadNonce(nonce []byte) []byte {
	size := s.aead.NonceSize()
	if len(nonce) == size {
		return nonce
	}
	out := make([]byte, size)
	copy(out, nonce)
	return out
}

// Sign hashes message with SHA-256 and produces a fixed-width 64-byte r||s
// ECDSA signature, matching crypto/keys/secp256k1.go's serializeSignature.
func (s *secp256k1Strategy) Sign(message []byte) ([]byte, error) {
	hash := sha256.Sum256(message)
	r, sVal, err := ecdsa.Sign(rand.Reader, s.priv.ToECDSA(), hash[:])
	if err != nil {
		return nil, fmt.Errorf("security/secp256k1: sign: %w", err)
	}
	out := make([]byte, 64)
	rBytes := r.Bytes()
	sBytes := sVal.Bytes()
	copy(out[32-len(rBytes):32], rBytes)
	copy(out[64-len(sBytes):64], sBytes)
	return out, nil
}

func (s *secp256k1Strategy) Verify(message, signature []byte) (bool, error) {
	if len(signature) != 64 {
		return false, nil
	}
	hash := sha256.Sum256(message)
	r := new(big.Int).SetBytes(signature[:32])
	sVal := new(big.Int).SetBytes(signature[32:])
	key := s.pub
	if s.bound {
		key = s.peerPub
	}
	return ecdsa.Verify(key.ToECDSA(), hash[:], r, sVal), nil
}

func (s *secp256k1Strategy) SignatureSize() int {
	return 64
}
