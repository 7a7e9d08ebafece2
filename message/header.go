package message

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/brypt-project/brypt/identifier"
)

// Tag identifies the wire protocol of a parcel's body.
type Tag uint8

const (
	TagInvalid Tag = iota
	TagApplication
	TagPlatform
)

// DestinationType identifies the addressing mode of a parcel's destination.
type DestinationType uint8

const (
	DestinationInvalid DestinationType = iota
	DestinationNode
	DestinationCluster
	DestinationNetwork
)

// Parse errors surfaced by header/body decoding. Per spec.md §7 these stay
// within the codec: a parse failure means the caller drops the parcel and
// logs, it never becomes an upward exception.
var (
	ErrTruncated            = errors.New("message: truncated")
	ErrInvalidProtocol      = errors.New("message: invalid protocol")
	ErrInvalidSource        = errors.New("message: invalid source identifier")
	ErrInvalidDestination   = errors.New("message: invalid destination type")
	ErrBadIdentifierSize    = errors.New("message: bad identifier size")
	ErrMalformed            = errors.New("message: malformed")
	ErrUnauthorized         = errors.New("message: unauthorized")
	ErrDuplicateExtension   = errors.New("message: duplicate extension key")
	ErrEmptyRoute           = errors.New("message: empty route")
)

// Header is the fixed+variable field block common to every parcel.
type Header struct {
	Tag             Tag
	VersionMajor    uint8
	VersionMinor    uint8
	TotalSize       uint32
	Source          identifier.Identifier
	DestinationType DestinationType
	Destination     identifier.Identifier // zero value when DestinationType has no target
	Timestamp       time.Time
	ExtensionCount  uint8
}

// timestampMillis converts to the wire's milliseconds-since-epoch form.
func timestampMillis(t time.Time) uint64 {
	return uint64(t.UnixMilli())
}

func timestampFromMillis(ms uint64) time.Time {
	return time.UnixMilli(int64(ms)).UTC()
}

// validate enforces the header-level invariants from spec.md §3: protocol
// must not be invalid, source must be a valid non-sentinel identifier,
// timestamp must be non-zero, destination type must not be invalid. The
// size field is not checked here.
func (h Header) validate() error {
	if h.Tag == TagInvalid {
		return fmt.Errorf("%w: tag", ErrInvalidProtocol)
	}
	if !h.Source.IsValid() || h.Source.IsSentinel() {
		return fmt.Errorf("%w: source must be a valid, non-sentinel identifier", ErrInvalidSource)
	}
	if h.DestinationType == DestinationInvalid {
		return fmt.Errorf("%w: destination type", ErrInvalidDestination)
	}
	if h.Timestamp.IsZero() {
		return fmt.Errorf("%w: zero timestamp", ErrMalformed)
	}
	return nil
}

// packInto writes the header fields (everything up to and including
// extension-count) onto buf in the order defined by spec.md §3/§6. The
// total-size field is written as a placeholder (0) and must be patched by
// the caller once the full body length is known.
func (h Header) packInto(buf *bytes.Buffer) error {
	buf.WriteByte(byte(h.Tag))
	buf.WriteByte(h.VersionMajor)
	buf.WriteByte(h.VersionMinor)

	var sizePlaceholder [4]byte
	buf.Write(sizePlaceholder[:])

	srcBytes := h.Source.Bytes()
	if len(srcBytes) > 255 {
		return fmt.Errorf("%w: source id too large", ErrBadIdentifierSize)
	}
	buf.WriteByte(byte(len(srcBytes)))
	buf.Write(srcBytes)

	buf.WriteByte(byte(h.DestinationType))
	if h.Destination.IsValid() {
		dstBytes := h.Destination.Bytes()
		if len(dstBytes) > 255 {
			return fmt.Errorf("%w: destination id too large", ErrBadIdentifierSize)
		}
		buf.WriteByte(byte(len(dstBytes)))
		buf.Write(dstBytes)
	} else {
		buf.WriteByte(0)
	}

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], timestampMillis(h.Timestamp))
	buf.Write(ts[:])

	buf.WriteByte(h.ExtensionCount)
	return nil
}

// headerSizeOffset is the byte offset of the total-size field within a
// packed header: protocol(1) + version(2).
const headerSizeOffset = 3

// patchTotalSize overwrites the placeholder total-size field in a packed
// buffer with the final value.
func patchTotalSize(buf []byte, total uint32) {
	binary.BigEndian.PutUint32(buf[headerSizeOffset:headerSizeOffset+4], total)
}

// parsedHeader is the result of decoding a header prefix, plus the byte
// offset immediately following the header (where the body begins).
type parsedHeader struct {
	header Header
	offset int
}

// parseHeader decodes the fixed+variable header block from buf, starting at
// offset 0. It returns ErrTruncated if buf is too short to contain a
// complete header for the identifier sizes it declares.
func parseHeader(buf []byte) (parsedHeader, error) {
	if len(buf) < 1+2+4+1 {
		return parsedHeader{}, ErrTruncated
	}
	pos := 0
	tag := Tag(buf[pos])
	pos++
	if tag != TagApplication && tag != TagPlatform {
		return parsedHeader{}, fmt.Errorf("%w: tag %d", ErrInvalidProtocol, tag)
	}
	major := buf[pos]
	pos++
	minor := buf[pos]
	pos++

	if len(buf) < pos+4 {
		return parsedHeader{}, ErrTruncated
	}
	totalSize := binary.BigEndian.Uint32(buf[pos : pos+4])
	pos += 4

	if len(buf) < pos+1 {
		return parsedHeader{}, ErrTruncated
	}
	srcSize := int(buf[pos])
	pos++
	if srcSize == 0 || srcSize > 64 {
		return parsedHeader{}, fmt.Errorf("%w: source size %d", ErrBadIdentifierSize, srcSize)
	}
	if len(buf) < pos+srcSize {
		return parsedHeader{}, ErrTruncated
	}
	source, err := identifier.FromBytes(buf[pos : pos+srcSize])
	if err != nil {
		return parsedHeader{}, fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	if source.IsSentinel() {
		return parsedHeader{}, fmt.Errorf("%w: source must not be a sentinel", ErrInvalidSource)
	}
	pos += srcSize

	if len(buf) < pos+1 {
		return parsedHeader{}, ErrTruncated
	}
	destType := DestinationType(buf[pos])
	pos++
	if destType == DestinationInvalid {
		return parsedHeader{}, fmt.Errorf("%w", ErrInvalidDestination)
	}

	if len(buf) < pos+1 {
		return parsedHeader{}, ErrTruncated
	}
	dstSize := int(buf[pos])
	pos++
	var destination identifier.Identifier
	if dstSize > 0 {
		if dstSize > 64 {
			return parsedHeader{}, fmt.Errorf("%w: destination size %d", ErrBadIdentifierSize, dstSize)
		}
		if len(buf) < pos+dstSize {
			return parsedHeader{}, ErrTruncated
		}
		destination, err = identifier.FromBytes(buf[pos : pos+dstSize])
		if err != nil {
			return parsedHeader{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		pos += dstSize
	}

	if len(buf) < pos+8 {
		return parsedHeader{}, ErrTruncated
	}
	ts := binary.BigEndian.Uint64(buf[pos : pos+8])
	pos += 8
	if ts == 0 {
		return parsedHeader{}, fmt.Errorf("%w: zero timestamp", ErrMalformed)
	}

	if len(buf) < pos+1 {
		return parsedHeader{}, ErrTruncated
	}
	extCount := buf[pos]
	pos++

	return parsedHeader{
		header: Header{
			Tag:             tag,
			VersionMajor:    major,
			VersionMinor:    minor,
			TotalSize:       totalSize,
			Source:          source,
			DestinationType: destType,
			Destination:     destination,
			Timestamp:       timestampFromMillis(ts),
			ExtensionCount:  extCount,
		},
		offset: pos,
	}, nil
}
