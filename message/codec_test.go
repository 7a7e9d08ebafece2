package message

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brypt-project/brypt/identifier"
)

func mustIdentifier(t *testing.T) identifier.Identifier {
	t.Helper()
	id, err := identifier.New()
	require.NoError(t, err)
	return id
}

func TestApplicationRoundTrip(t *testing.T) {
	src := mustIdentifier(t)
	dst := mustIdentifier(t)

	p, err := BuildApplication(src, DestinationNode, dst, "/ping", []byte("hello"))
	require.NoError(t, err)

	transport, err := Pack(p, nil)
	require.NoError(t, err)

	parsed, err := Unpack(transport, nil)
	require.NoError(t, err)

	app, ok := parsed.(*ApplicationParcel)
	require.True(t, ok)
	assert.Equal(t, "/ping", app.Route)
	assert.Equal(t, []byte("hello"), app.Payload)
	assert.True(t, app.Header.Source.Equal(src))
	assert.True(t, app.Header.Destination.Equal(dst))
	assert.Equal(t, DestinationNode, app.Header.DestinationType)
}

func TestApplicationRoundTripWithExtensions(t *testing.T) {
	src := mustIdentifier(t)

	var trackerKey [16]byte
	trackerKey[0] = 0xAB

	awaitable := AwaitableExtension{Binding: BindingRequest, TrackerKey: trackerKey}
	status := StatusExtension{Code: StatusOK}

	p, err := BuildApplication(src, DestinationCluster, identifier.Invalid, "/query", []byte("ping"), awaitable, status)
	require.NoError(t, err)

	transport, err := Pack(p, nil)
	require.NoError(t, err)

	parsed, err := Unpack(transport, nil)
	require.NoError(t, err)
	app := parsed.(*ApplicationParcel)

	gotAwaitable, ok := app.Extensions.Awaitable()
	require.True(t, ok)
	assert.Equal(t, awaitable, gotAwaitable)

	gotStatus, ok := app.Extensions.Status()
	require.True(t, ok)
	assert.Equal(t, status, gotStatus)
}

func TestPackIsDeterministic(t *testing.T) {
	src := mustIdentifier(t)
	p1, err := BuildApplication(src, DestinationNode, identifier.Invalid, "/a", []byte("x"))
	require.NoError(t, err)
	// Freeze the timestamp so two packs of "the same" parcel are identical.
	p2 := *p1

	t1, err := Pack(p1, nil)
	require.NoError(t, err)
	t2, err := Pack(&p2, nil)
	require.NoError(t, err)
	assert.Equal(t, t1, t2)
}

func TestPeekSource(t *testing.T) {
	src := mustIdentifier(t)
	p, err := BuildApplication(src, DestinationNode, identifier.Invalid, "/a", []byte("x"))
	require.NoError(t, err)
	transport, err := Pack(p, nil)
	require.NoError(t, err)

	got, ok := PeekSource(transport)
	require.True(t, ok)
	assert.True(t, got.Equal(src))
}

func TestPeekSize(t *testing.T) {
	src := mustIdentifier(t)
	p, err := BuildApplication(src, DestinationNode, identifier.Invalid, "/a", []byte("payload-bytes"))
	require.NoError(t, err)
	transport, err := Pack(p, nil)
	require.NoError(t, err)

	size, ok := PeekSize(transport)
	require.True(t, ok)
	assert.Equal(t, p.Header.TotalSize, size)
}

func TestPeekProtocol(t *testing.T) {
	src := mustIdentifier(t)
	p, err := BuildApplication(src, DestinationNode, identifier.Invalid, "/a", []byte("x"))
	require.NoError(t, err)
	transport, err := Pack(p, nil)
	require.NoError(t, err)

	tag, ok := PeekProtocol(transport)
	require.True(t, ok)
	assert.Equal(t, TagApplication, tag)
}

func TestBuildApplicationRejectsEmptyRoute(t *testing.T) {
	src := mustIdentifier(t)
	_, err := BuildApplication(src, DestinationNode, identifier.Invalid, "", []byte("x"))
	assert.ErrorIs(t, err, ErrEmptyRoute)
}

func TestBuildApplicationRejectsInvalidDestinationType(t *testing.T) {
	src := mustIdentifier(t)
	_, err := BuildApplication(src, DestinationInvalid, identifier.Invalid, "/a", []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidDestination)
}

func TestBuildApplicationRejectsInvalidExtension(t *testing.T) {
	src := mustIdentifier(t)
	bad := AwaitableExtension{} // zero binding + zero tracker key
	_, err := BuildApplication(src, DestinationNode, identifier.Invalid, "/a", []byte("x"), bad)
	assert.Error(t, err)
}

func TestUnpackRejectsDisagreeingTotalSize(t *testing.T) {
	src := mustIdentifier(t)
	p, err := BuildApplication(src, DestinationNode, identifier.Invalid, "/a", []byte("x"))
	require.NoError(t, err)
	transport, err := Pack(p, nil)
	require.NoError(t, err)

	raw, err := z85DecodeString(transport)
	require.NoError(t, err)

	// Corrupt total-size so it disagrees wildly with the real buffer length.
	binary.BigEndian.PutUint32(raw[headerSizeOffset:headerSizeOffset+4], 9999)
	padded, _ := padTo4(raw)
	corrupted, err := z85Encode(padded)
	require.NoError(t, err)

	_, err = Unpack(corrupted, nil)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestUnpackRejectsDuplicateExtensionKeys(t *testing.T) {
	src := mustIdentifier(t)

	var buf bytes.Buffer
	h := Header{
		Tag:             TagApplication,
		VersionMajor:    1,
		Source:          src,
		DestinationType: DestinationNode,
		Timestamp:       time.Now().UTC(),
		ExtensionCount:  2,
	}
	require.NoError(t, h.packInto(&buf))
	buf.WriteByte(byte(len("/a")))
	buf.WriteString("/a")

	var payloadSize [4]byte
	binary.BigEndian.PutUint32(payloadSize[:], 0)
	buf.Write(payloadSize[:])

	status := StatusExtension{Code: StatusOK}
	require.NoError(t, status.Inject(&buf))
	require.NoError(t, status.Inject(&buf)) // duplicate key

	raw := buf.Bytes()
	patchTotalSize(raw, uint32(len(raw)))
	padded, _ := padTo4(raw)
	transport, err := z85Encode(padded)
	require.NoError(t, err)

	_, err = Unpack(transport, nil)
	assert.ErrorIs(t, err, ErrDuplicateExtension)
}

func TestUnpackSkipsUnknownExtensionByDeclaredSize(t *testing.T) {
	src := mustIdentifier(t)

	var buf bytes.Buffer
	h := Header{
		Tag:             TagApplication,
		VersionMajor:    1,
		Source:          src,
		DestinationType: DestinationNode,
		Timestamp:       time.Now().UTC(),
		ExtensionCount:  1,
	}
	require.NoError(t, h.packInto(&buf))
	buf.WriteByte(byte(len("/a")))
	buf.WriteString("/a")
	var payloadSize [4]byte
	binary.BigEndian.PutUint32(payloadSize[:], 0)
	buf.Write(payloadSize[:])

	// Unknown key 0x1234, size header(4)+3 bytes value = 7.
	var extHeader [4]byte
	binary.BigEndian.PutUint16(extHeader[0:2], 0x1234)
	binary.BigEndian.PutUint16(extHeader[2:4], 7)
	buf.Write(extHeader[:])
	buf.Write([]byte{1, 2, 3})

	raw := buf.Bytes()
	patchTotalSize(raw, uint32(len(raw)))
	padded, _ := padTo4(raw)
	transport, err := z85Encode(padded)
	require.NoError(t, err)

	parsed, err := Unpack(transport, nil)
	require.NoError(t, err)
	app := parsed.(*ApplicationParcel)
	assert.Equal(t, 1, app.Extensions.Len())
}
