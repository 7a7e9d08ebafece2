package message

import (
	"github.com/brypt-project/brypt/address"
	"github.com/brypt-project/brypt/identifier"
)

// Context is the per-connection metadata an Endpoint attaches to every
// parcel it hands to the core, per spec.md §3 "Message Context". The five
// capability closures are nil until the owning peer's security mediator
// reaches the Authorized state; Pack/Unpack treat a nil closure as "no
// signing/encryption bound" rather than an error.
type Context struct {
	EndpointID string
	Protocol   address.Protocol
	PeerID     identifier.Identifier

	// Encrypt/Decrypt take an explicit nonce derived by the codec from the
	// parcel's header timestamp (see nonceFromTimestamp) rather than
	// deriving one internally — the context is long-lived across many
	// parcels, so determinism per spec.md §4.1 requires the per-parcel
	// nonce to be threaded in by the caller.
	Encrypt       func(nonce, plaintext []byte) ([]byte, error)
	Decrypt       func(nonce, ciphertext []byte) ([]byte, error)
	Sign          func(buf []byte) ([]byte, error)
	Verify        func(buf []byte) (bool, error)
	SignatureSize func() int
}

// HasSecurity reports whether crypto capabilities are bound.
func (c *Context) HasSecurity() bool {
	return c != nil && c.Encrypt != nil && c.Decrypt != nil && c.Sign != nil && c.Verify != nil && c.SignatureSize != nil
}
