package message

import (
	"fmt"
	"time"

	"github.com/brypt-project/brypt/identifier"
)

// PlatformType identifies the purpose of a platform-layer parcel. Platform
// parcels never flow to the application router — they are consumed
// entirely by the security mediator's handshake/heartbeat state machines.
type PlatformType uint8

const (
	PlatformInvalid PlatformType = iota
	PlatformHandshake
	PlatformHeartbeatRequest
	PlatformHeartbeatResponse
)

// PlatformParcel is the session-establishment/liveness counterpart to
// ApplicationParcel.
type PlatformParcel struct {
	Header     Header
	Type       PlatformType
	Payload    []byte
	Extensions *ExtensionSet
	Signature  []byte
}

// GetHeader implements Parcel.
func (p *PlatformParcel) GetHeader() Header { return p.Header }

// GetExtensions implements Parcel.
func (p *PlatformParcel) GetExtensions() *ExtensionSet { return p.Extensions }

// BuildPlatform constructs a validated platform parcel.
func BuildPlatform(
	source identifier.Identifier,
	destType DestinationType,
	destination identifier.Identifier,
	platformType PlatformType,
	payload []byte,
) (*PlatformParcel, error) {
	if platformType == PlatformInvalid {
		return nil, fmt.Errorf("%w: platform type", ErrMalformed)
	}
	if !source.IsValid() || source.IsSentinel() {
		return nil, fmt.Errorf("%w: source", ErrInvalidSource)
	}
	if destType == DestinationInvalid {
		return nil, fmt.Errorf("%w", ErrInvalidDestination)
	}

	h := Header{
		Tag:             TagPlatform,
		VersionMajor:    1,
		VersionMinor:    0,
		Source:          source,
		DestinationType: destType,
		Destination:     destination,
		Timestamp:       time.Now().UTC(),
	}

	return &PlatformParcel{
		Header:  h,
		Type:    platformType,
		Payload: append([]byte(nil), payload...),
	}, nil
}
