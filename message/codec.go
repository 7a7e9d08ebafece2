package message

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// nonceSize is the AEAD nonce length used by encrypt/decrypt closures.
const nonceSize = 12

// nonceFromTimestamp derives a deterministic per-parcel nonce from the
// header's millisecond timestamp, per spec.md §4.1's "nonce derived from
// the header timestamp". The remaining bytes are zero: a genuine replay of
// the same (source, timestamp) pair is caught upstream by the security
// mediator's NonceCache (spec.md §9 OPEN ITEM), not by nonce uniqueness
// alone.
func nonceFromTimestamp(ms uint64) []byte {
	n := make([]byte, nonceSize)
	binary.BigEndian.PutUint64(n[0:8], ms)
	return n
}

// Pack serializes a parcel into its Z85 transport-ready string, per
// spec.md §4.1 and §6. If ctx binds encryption, the payload is encrypted
// in place before packing; if ctx binds signing, a signature is appended
// after the extensions and before padding.
func Pack(p Parcel, ctx *Context) (string, error) {
	switch v := p.(type) {
	case *ApplicationParcel:
		return packApplication(v, ctx)
	case *PlatformParcel:
		return packPlatform(v, ctx)
	default:
		return "", fmt.Errorf("message: pack: unsupported parcel type %T", p)
	}
}

func packApplication(p *ApplicationParcel, ctx *Context) (string, error) {
	if err := p.Header.validate(); err != nil {
		return "", err
	}
	if p.Route == "" {
		return "", ErrEmptyRoute
	}
	if len(p.Route) > 255 {
		return "", fmt.Errorf("%w: route too long", ErrMalformed)
	}

	p.Header.ExtensionCount = uint8(p.Extensions.Len())

	var buf bytes.Buffer
	if err := p.Header.packInto(&buf); err != nil {
		return "", err
	}

	buf.WriteByte(byte(len(p.Route)))
	buf.WriteString(p.Route)

	payload := p.Payload
	if ctx.HasSecurity() && ctx.Encrypt != nil {
		encrypted, err := ctx.Encrypt(nonceFromTimestamp(timestampMillis(p.Header.Timestamp)), payload)
		if err != nil {
			return "", fmt.Errorf("message: encrypt payload: %w", err)
		}
		payload = encrypted
	}
	var payloadSize [4]byte
	binary.BigEndian.PutUint32(payloadSize[:], uint32(len(payload)))
	buf.Write(payloadSize[:])
	buf.Write(payload)

	if err := p.Extensions.packInto(&buf); err != nil {
		return "", err
	}

	raw := buf.Bytes()
	if ctx.HasSecurity() && ctx.Sign != nil {
		signed, err := ctx.Sign(raw)
		if err != nil {
			return "", fmt.Errorf("message: sign: %w", err)
		}
		raw = signed
		p.Signature = raw[len(raw)-ctx.SignatureSize():]
	}

	patchTotalSize(raw, uint32(len(raw)))
	p.Header.TotalSize = uint32(len(raw))

	padded, _ := padTo4(raw)
	return z85Encode(padded)
}

func packPlatform(p *PlatformParcel, ctx *Context) (string, error) {
	if err := p.Header.validate(); err != nil {
		return "", err
	}
	if p.Type == PlatformInvalid {
		return "", fmt.Errorf("%w: platform type", ErrMalformed)
	}

	p.Header.ExtensionCount = uint8(p.Extensions.Len())

	var buf bytes.Buffer
	if err := p.Header.packInto(&buf); err != nil {
		return "", err
	}

	buf.WriteByte(byte(p.Type))

	payload := p.Payload
	if ctx.HasSecurity() && ctx.Encrypt != nil {
		encrypted, err := ctx.Encrypt(nonceFromTimestamp(timestampMillis(p.Header.Timestamp)), payload)
		if err != nil {
			return "", fmt.Errorf("message: encrypt payload: %w", err)
		}
		payload = encrypted
	}
	var payloadSize [4]byte
	binary.BigEndian.PutUint32(payloadSize[:], uint32(len(payload)))
	buf.Write(payloadSize[:])
	buf.Write(payload)

	if err := p.Extensions.packInto(&buf); err != nil {
		return "", err
	}

	raw := buf.Bytes()
	if ctx.HasSecurity() && ctx.Sign != nil {
		signed, err := ctx.Sign(raw)
		if err != nil {
			return "", fmt.Errorf("message: sign: %w", err)
		}
		raw = signed
		p.Signature = raw[len(raw)-ctx.SignatureSize():]
	}

	patchTotalSize(raw, uint32(len(raw)))
	p.Header.TotalSize = uint32(len(raw))

	padded, _ := padTo4(raw)
	return z85Encode(padded)
}

// Unpack Z85-decodes transport and parses a parcel. If ctx binds
// verification, the trailing signature region is checked and stripped
// before the payload is decrypted (when ctx also binds decryption).
func Unpack(transport string, ctx *Context) (Parcel, error) {
	withPadding, err := z85DecodeString(transport)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return UnpackRaw(withPadding, ctx)
}

// UnpackRaw parses a parcel from an already-Z85-decoded (but possibly
// zero-padded) buffer. Exposed separately so tests and in-process callers
// can skip the transport encoding round trip.
func UnpackRaw(withPadding []byte, ctx *Context) (Parcel, error) {
	parsed, err := parseHeader(withPadding)
	if err != nil {
		return nil, err
	}
	h := parsed.header

	if int(h.TotalSize) > len(withPadding) || len(withPadding)-int(h.TotalSize) >= 4 {
		return nil, fmt.Errorf("%w: total-size %d disagrees with buffer length %d", ErrMalformed, h.TotalSize, len(withPadding))
	}
	raw := withPadding[:h.TotalSize]
	pos := parsed.offset

	switch h.Tag {
	case TagApplication:
		return unpackApplicationBody(h, raw, pos, ctx)
	case TagPlatform:
		return unpackPlatformBody(h, raw, pos, ctx)
	default:
		return nil, fmt.Errorf("%w: tag %d", ErrInvalidProtocol, h.Tag)
	}
}

func unpackApplicationBody(h Header, raw []byte, pos int, ctx *Context) (*ApplicationParcel, error) {
	if len(raw) < pos+1 {
		return nil, ErrTruncated
	}
	routeLen := int(raw[pos])
	pos++
	if routeLen == 0 {
		return nil, ErrEmptyRoute
	}
	if len(raw) < pos+routeLen {
		return nil, ErrTruncated
	}
	route := string(raw[pos : pos+routeLen])
	pos += routeLen

	if len(raw) < pos+4 {
		return nil, ErrTruncated
	}
	payloadSize := int(binary.BigEndian.Uint32(raw[pos : pos+4]))
	pos += 4
	if len(raw) < pos+payloadSize {
		return nil, ErrTruncated
	}
	payload := raw[pos : pos+payloadSize]
	pos += payloadSize

	extensions, pos, err := parseExtensions(raw, pos, h.ExtensionCount)
	if err != nil {
		return nil, err
	}

	leftover := raw[pos:]
	if ctx.HasSecurity() {
		sigSize := ctx.SignatureSize()
		if len(leftover) != sigSize {
			return nil, fmt.Errorf("%w: signature region length %d, want %d", ErrMalformed, len(leftover), sigSize)
		}
		full := raw[:pos+sigSize]
		ok, err := ctx.Verify(full)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		if !ok {
			return nil, ErrUnauthorized
		}
		if ctx.Decrypt != nil {
			decrypted, err := ctx.Decrypt(nonceFromTimestamp(timestampMillis(h.Timestamp)), payload)
			if err != nil {
				return nil, fmt.Errorf("%w: decrypt: %v", ErrUnauthorized, err)
			}
			payload = decrypted
		}
	}

	return &ApplicationParcel{
		Header:     h,
		Route:      route,
		Payload:    append([]byte(nil), payload...),
		Extensions: extensions,
		Signature:  append([]byte(nil), leftover...),
	}, nil
}

func unpackPlatformBody(h Header, raw []byte, pos int, ctx *Context) (*PlatformParcel, error) {
	if len(raw) < pos+1 {
		return nil, ErrTruncated
	}
	ptype := PlatformType(raw[pos])
	pos++

	if len(raw) < pos+4 {
		return nil, ErrTruncated
	}
	payloadSize := int(binary.BigEndian.Uint32(raw[pos : pos+4]))
	pos += 4
	if len(raw) < pos+payloadSize {
		return nil, ErrTruncated
	}
	payload := raw[pos : pos+payloadSize]
	pos += payloadSize

	extensions, pos, err := parseExtensions(raw, pos, h.ExtensionCount)
	if err != nil {
		return nil, err
	}

	leftover := raw[pos:]
	if ctx.HasSecurity() {
		sigSize := ctx.SignatureSize()
		if len(leftover) != sigSize {
			return nil, fmt.Errorf("%w: signature region length %d, want %d", ErrMalformed, len(leftover), sigSize)
		}
		full := raw[:pos+sigSize]
		ok, err := ctx.Verify(full)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		if !ok {
			return nil, ErrUnauthorized
		}
		if ctx.Decrypt != nil {
			decrypted, err := ctx.Decrypt(nonceFromTimestamp(timestampMillis(h.Timestamp)), payload)
			if err != nil {
				return nil, fmt.Errorf("%w: decrypt: %v", ErrUnauthorized, err)
			}
			payload = decrypted
		}
	}

	return &PlatformParcel{
		Header:    h,
		Type:      ptype,
		Payload:   append([]byte(nil), payload...),
		Extensions: extensions,
		Signature: append([]byte(nil), leftover...),
	}, nil
}
