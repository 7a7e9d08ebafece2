package identifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGeneratesValidIdentifier(t *testing.T) {
	id, err := New()
	require.NoError(t, err)
	assert.True(t, id.IsValid())
	assert.Len(t, id.Bytes(), 16)
}

func TestExternalRoundTrip(t *testing.T) {
	id, err := New()
	require.NoError(t, err)

	ext := id.String()
	assert.GreaterOrEqual(t, len(ext), 20)

	decoded, err := FromExternal(ext)
	require.NoError(t, err)
	assert.True(t, decoded.Equal(id))
}

func TestFromExternalRejectsBadChecksum(t *testing.T) {
	id, err := New()
	require.NoError(t, err)
	ext := id.String()

	tampered := []byte(ext)
	tampered[0] = tampered[0] ^ 1
	_, err = FromExternal(string(tampered))
	assert.Error(t, err)
}

func TestSentinelIdentifiers(t *testing.T) {
	cluster, err := FromExternal(ClusterRequest)
	require.NoError(t, err)
	assert.False(t, cluster.IsValid())
	assert.True(t, cluster.IsSentinel())
	assert.Equal(t, ClusterRequest, cluster.String())

	network, err := FromExternal(NetworkRequest)
	require.NoError(t, err)
	assert.True(t, network.IsSentinel())
}

func TestFromBytesRejectsWrongLength(t *testing.T) {
	_, err := FromBytes([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}

func TestPersistentGeneratorIsDeterministic(t *testing.T) {
	gen := NewPersistentGenerator([]byte("stable-seed"))
	a, err := gen.Generate()
	require.NoError(t, err)
	b, err := gen.Generate()
	require.NoError(t, err)
	assert.True(t, a.Equal(b))
}

func TestEphemeralGeneratorVaries(t *testing.T) {
	gen := NewEphemeralGenerator()
	a, err := gen.Generate()
	require.NoError(t, err)
	b, err := gen.Generate()
	require.NoError(t, err)
	assert.False(t, a.Equal(b))
}
