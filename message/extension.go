package message

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Extension keys recognized by the core codec.
const (
	ExtensionAwaitable uint16 = 0xaabe
	ExtensionStatus    uint16 = 0xc0de
)

// extensionHeaderSize is the byte cost of an extension's key+size prefix.
const extensionHeaderSize = 4

// Extension is the polymorphic capability set every wire extension must
// implement: a stable key, its own packed size (header included), the
// ability to inject itself into a buffer, parse itself back out of a byte
// range, validate its own contents, and clone itself.
type Extension interface {
	Key() uint16
	PackSize() uint16
	Inject(buf *bytes.Buffer) error
	Unpack(value []byte) error
	Validate() error
	Clone() Extension
}

var (
	// ErrUnknownExtension is returned by decoders that need a concrete
	// type registered for a key; the generic parser never returns this —
	// unknown keys are skipped by their declared size, not rejected.
	ErrUnknownExtension = errors.New("message: unknown extension key")
	// ErrInvalidExtension flags a structurally valid but semantically
	// invalid extension (fails its own Validate()).
	ErrInvalidExtension = errors.New("message: invalid extension")
)

// Binding identifies whether an Awaitable extension marks a request or a
// response leg of a tracked round trip.
type Binding uint8

const (
	BindingInvalid Binding = iota
	BindingRequest
	BindingResponse
)

// AwaitableExtension correlates a parcel with an outstanding tracker.
type AwaitableExtension struct {
	Binding    Binding
	TrackerKey [16]byte
}

// Key implements Extension.
func (AwaitableExtension) Key() uint16 { return ExtensionAwaitable }

// PackSize implements Extension — header plus 1-byte binding plus 16-byte
// tracker key.
func (a AwaitableExtension) PackSize() uint16 {
	return extensionHeaderSize + 1 + 16
}

// Inject implements Extension.
func (a AwaitableExtension) Inject(buf *bytes.Buffer) error {
	if err := a.Validate(); err != nil {
		return err
	}
	var header [4]byte
	binary.BigEndian.PutUint16(header[0:2], a.Key())
	binary.BigEndian.PutUint16(header[2:4], a.PackSize())
	buf.Write(header[:])
	buf.WriteByte(byte(a.Binding))
	buf.Write(a.TrackerKey[:])
	return nil
}

// Unpack implements Extension. value is the extension's payload bytes
// (header already stripped by the caller).
func (a *AwaitableExtension) Unpack(value []byte) error {
	if len(value) != 17 {
		return fmt.Errorf("%w: awaitable payload length %d", ErrMalformed, len(value))
	}
	a.Binding = Binding(value[0])
	copy(a.TrackerKey[:], value[1:])
	return a.Validate()
}

// Validate implements Extension: binding must be set and the tracker key
// must not be all-zeroes.
func (a AwaitableExtension) Validate() error {
	if a.Binding != BindingRequest && a.Binding != BindingResponse {
		return fmt.Errorf("%w: invalid binding", ErrInvalidExtension)
	}
	zero := true
	for _, b := range a.TrackerKey {
		if b != 0 {
			zero = false
			break
		}
	}
	if zero {
		return fmt.Errorf("%w: all-zero tracker key", ErrInvalidExtension)
	}
	return nil
}

// Clone implements Extension.
func (a AwaitableExtension) Clone() Extension {
	return AwaitableExtension{Binding: a.Binding, TrackerKey: a.TrackerKey}
}

// StatusCode is an HTTP-like response status carried on response parcels.
type StatusCode uint16

const (
	StatusUnknown        StatusCode = 0
	StatusOK             StatusCode = 200
	StatusBadRequest     StatusCode = 400
	StatusUnauthorized   StatusCode = 401
	StatusNotFound       StatusCode = 404
	StatusRequestTimeout StatusCode = 408
	StatusInternalError  StatusCode = 500
)

func (s StatusCode) recognized() bool {
	switch s {
	case StatusOK, StatusBadRequest, StatusUnauthorized, StatusNotFound, StatusRequestTimeout, StatusInternalError:
		return true
	default:
		return false
	}
}

// StatusExtension carries a response's outcome code.
type StatusExtension struct {
	Code StatusCode
}

// Key implements Extension.
func (StatusExtension) Key() uint16 { return ExtensionStatus }

// PackSize implements Extension — header plus 2-byte code.
func (StatusExtension) PackSize() uint16 {
	return extensionHeaderSize + 2
}

// Inject implements Extension.
func (s StatusExtension) Inject(buf *bytes.Buffer) error {
	if err := s.Validate(); err != nil {
		return err
	}
	var header [4]byte
	binary.BigEndian.PutUint16(header[0:2], s.Key())
	binary.BigEndian.PutUint16(header[2:4], s.PackSize())
	buf.Write(header[:])
	var code [2]byte
	binary.BigEndian.PutUint16(code[:], uint16(s.Code))
	buf.Write(code[:])
	return nil
}

// Unpack implements Extension.
func (s *StatusExtension) Unpack(value []byte) error {
	if len(value) != 2 {
		return fmt.Errorf("%w: status payload length %d", ErrMalformed, len(value))
	}
	s.Code = StatusCode(binary.BigEndian.Uint16(value))
	return s.Validate()
}

// Validate implements Extension: code must be recognized (not unknown).
func (s StatusExtension) Validate() error {
	if !s.Code.recognized() {
		return fmt.Errorf("%w: unrecognized status code %d", ErrInvalidExtension, s.Code)
	}
	return nil
}

// Clone implements Extension.
func (s StatusExtension) Clone() Extension {
	return StatusExtension{Code: s.Code}
}

// ExtensionSet is an ordered map of extensions keyed by their wire key.
// Extensions are always emitted in ascending key order (spec.md §4.1) so
// that packing — and therefore signing — is deterministic.
type ExtensionSet struct {
	byKey map[uint16]Extension
	order []uint16
}

// NewExtensionSet returns an empty set.
func NewExtensionSet() *ExtensionSet {
	return &ExtensionSet{byKey: make(map[uint16]Extension)}
}

// Put inserts or replaces an extension by key, preserving first-insertion
// order for new keys.
func (s *ExtensionSet) Put(ext Extension) {
	if _, exists := s.byKey[ext.Key()]; !exists {
		s.order = append(s.order, ext.Key())
	}
	s.byKey[ext.Key()] = ext
}

// Get looks up an extension by key.
func (s *ExtensionSet) Get(key uint16) (Extension, bool) {
	e, ok := s.byKey[key]
	return e, ok
}

// Len returns the number of distinct extension keys.
func (s *ExtensionSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.byKey)
}

// Awaitable is a convenience accessor for the Awaitable extension, if any.
func (s *ExtensionSet) Awaitable() (AwaitableExtension, bool) {
	e, ok := s.Get(ExtensionAwaitable)
	if !ok {
		return AwaitableExtension{}, false
	}
	a, ok := e.(AwaitableExtension)
	return a, ok
}

// Status is a convenience accessor for the Status extension, if any.
func (s *ExtensionSet) Status() (StatusExtension, bool) {
	e, ok := s.Get(ExtensionStatus)
	if !ok {
		return StatusExtension{}, false
	}
	st, ok := e.(StatusExtension)
	return st, ok
}

// sortedKeys returns the set's keys in ascending order, the wire emission
// order required for deterministic packing.
func (s *ExtensionSet) sortedKeys() []uint16 {
	keys := make([]uint16, 0, len(s.byKey))
	for k := range s.byKey {
		keys = append(keys, k)
	}
	// Small N (two known extension types today); insertion sort keeps this
	// allocation-free and avoids pulling in sort for a handful of items.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

// packInto serializes every extension in ascending key order.
func (s *ExtensionSet) packInto(buf *bytes.Buffer) error {
	if s == nil {
		return nil
	}
	for _, k := range s.sortedKeys() {
		if err := s.byKey[k].Inject(buf); err != nil {
			return fmt.Errorf("message: pack extension %#x: %w", k, err)
		}
	}
	return nil
}

// parseExtensions reads exactly count extensions from buf starting at pos,
// returning the populated set and the offset immediately following the last
// extension. Unknown keys are skipped by their declared size; duplicate
// keys are a parse error.
func parseExtensions(buf []byte, pos int, count uint8) (*ExtensionSet, int, error) {
	set := NewExtensionSet()
	for i := uint8(0); i < count; i++ {
		if len(buf) < pos+extensionHeaderSize {
			return nil, pos, ErrTruncated
		}
		key := binary.BigEndian.Uint16(buf[pos : pos+2])
		size := binary.BigEndian.Uint16(buf[pos+2 : pos+4])
		if size < extensionHeaderSize {
			return nil, pos, fmt.Errorf("%w: extension size %d smaller than header", ErrMalformed, size)
		}
		if len(buf) < pos+int(size) {
			return nil, pos, fmt.Errorf("%w: extension %#x truncated", ErrMalformed, key)
		}
		value := buf[pos+extensionHeaderSize : pos+int(size)]

		if _, dup := set.byKey[key]; dup {
			return nil, pos, fmt.Errorf("%w: %#x", ErrDuplicateExtension, key)
		}

		switch key {
		case ExtensionAwaitable:
			var a AwaitableExtension
			if err := a.Unpack(value); err != nil {
				return nil, pos, err
			}
			set.Put(a)
		case ExtensionStatus:
			var st StatusExtension
			if err := st.Unpack(value); err != nil {
				return nil, pos, err
			}
			set.Put(st)
		default:
			// Unknown extension: recorded as an opaque blob so a future
			// hop that understands it can still see it, but skipped for
			// validation purposes here.
			set.Put(opaqueExtension{key: key, value: append([]byte(nil), value...)})
		}
		pos += int(size)
	}
	return set, pos, nil
}

// opaqueExtension preserves an unrecognized extension's bytes verbatim so
// pack(unpack(x)) round-trips even across versions that add new extension
// types the current binary doesn't understand.
type opaqueExtension struct {
	key   uint16
	value []byte
}

func (o opaqueExtension) Key() uint16 { return o.key }
func (o opaqueExtension) PackSize() uint16 {
	return uint16(extensionHeaderSize + len(o.value))
}
func (o opaqueExtension) Inject(buf *bytes.Buffer) error {
	var header [4]byte
	binary.BigEndian.PutUint16(header[0:2], o.key)
	binary.BigEndian.PutUint16(header[2:4], o.PackSize())
	buf.Write(header[:])
	buf.Write(o.value)
	return nil
}
func (o *opaqueExtension) Unpack(value []byte) error {
	o.value = append([]byte(nil), value...)
	return nil
}
func (o opaqueExtension) Validate() error { return nil }
func (o opaqueExtension) Clone() Extension {
	return opaqueExtension{key: o.key, value: append([]byte(nil), o.value...)}
}
