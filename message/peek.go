package message

import (
	"encoding/binary"

	"github.com/brypt-project/brypt/identifier"
)

// PeekProtocol decodes only the minimum Z85 prefix needed to read the
// protocol tag, without allocating for the rest of the frame. It returns
// (TagInvalid, false) for anything too short or malformed to even contain
// a tag byte.
func PeekProtocol(transport string) (Tag, bool) {
	prefix, ok := decodeZ85Prefix(transport, 1)
	if !ok {
		return TagInvalid, false
	}
	tag := Tag(prefix[0])
	if tag != TagApplication && tag != TagPlatform {
		return TagInvalid, false
	}
	return tag, true
}

// PeekSize decodes only the prefix needed to read the total-size field.
func PeekSize(transport string) (uint32, bool) {
	const need = headerSizeOffset + 4
	prefix, ok := decodeZ85Prefix(transport, need)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint32(prefix[headerSizeOffset : headerSizeOffset+4]), true
}

// PeekSource decodes only the prefix needed to read the source identifier,
// rejecting implausible declared sizes before ever touching
// identifier-decoding logic.
func PeekSource(transport string) (identifier.Identifier, bool) {
	// protocol(1)+version(2)+size(4)+srcSize(1) = 8 bytes minimum.
	head, ok := decodeZ85Prefix(transport, 8)
	if !ok {
		return identifier.Invalid, false
	}
	srcSize := int(head[7])
	if !identifier.SizeInRange(srcSize) {
		return identifier.Invalid, false
	}
	full, ok := decodeZ85Prefix(transport, 8+srcSize)
	if !ok {
		return identifier.Invalid, false
	}
	id, err := identifier.FromBytes(full[8 : 8+srcSize])
	if err != nil {
		return identifier.Invalid, false
	}
	return id, true
}

// decodeZ85Prefix decodes the smallest whole number of Z85 blocks covering
// at least need raw bytes, returning false if the transport string is too
// short or malformed.
func decodeZ85Prefix(transport string, need int) ([]byte, bool) {
	chars := z85BlockForBytes(need)
	if len(transport) < chars {
		return nil, false
	}
	decoded, err := z85DecodeString(transport[:chars])
	if err != nil {
		return nil, false
	}
	if len(decoded) < need {
		return nil, false
	}
	return decoded, true
}
