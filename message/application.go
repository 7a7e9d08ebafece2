package message

import (
	"fmt"
	"time"

	"github.com/brypt-project/brypt/identifier"
)

// ApplicationParcel is a fully-formed application-layer message: header,
// route, payload, extensions, and (once packed with a signing context) a
// trailing signature.
type ApplicationParcel struct {
	Header     Header
	Route      string
	Payload    []byte
	Extensions *ExtensionSet
	Signature  []byte
}

// Parcel is implemented by ApplicationParcel and PlatformParcel so the
// codec and router can operate generically where they only need header and
// extension access.
type Parcel interface {
	GetHeader() Header
	GetExtensions() *ExtensionSet
}

// GetHeader implements Parcel.
func (p *ApplicationParcel) GetHeader() Header { return p.Header }

// GetExtensions implements Parcel.
func (p *ApplicationParcel) GetExtensions() *ExtensionSet { return p.Extensions }

var _ Parcel = (*ApplicationParcel)(nil)
var _ Parcel = (*PlatformParcel)(nil)

// BuildApplication constructs a validated application parcel. total-size is
// computed last by Pack, not here — the builder only enforces the
// rejection rules from spec.md §4.1.
func BuildApplication(
	source identifier.Identifier,
	destType DestinationType,
	destination identifier.Identifier,
	route string,
	payload []byte,
	extensions ...Extension,
) (*ApplicationParcel, error) {
	if route == "" {
		return nil, ErrEmptyRoute
	}
	if !source.IsValid() || source.IsSentinel() {
		return nil, fmt.Errorf("%w: source", ErrInvalidSource)
	}
	if destType == DestinationInvalid {
		return nil, fmt.Errorf("%w", ErrInvalidDestination)
	}

	set := NewExtensionSet()
	for _, ext := range extensions {
		if err := ext.Validate(); err != nil {
			return nil, fmt.Errorf("message: build application: %w", err)
		}
		set.Put(ext)
	}

	h := Header{
		Tag:             TagApplication,
		VersionMajor:    1,
		VersionMinor:    0,
		Source:          source,
		DestinationType: destType,
		Destination:     destination,
		Timestamp:       time.Now().UTC(),
		ExtensionCount:  uint8(set.Len()),
	}

	return &ApplicationParcel{
		Header:     h,
		Route:      route,
		Payload:    append([]byte(nil), payload...),
		Extensions: set,
	}, nil
}
