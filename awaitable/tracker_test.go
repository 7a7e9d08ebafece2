package awaitable

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brypt-project/brypt/identifier"
	"github.com/brypt-project/brypt/message"
)

func mustIdentifier(t *testing.T) identifier.Identifier {
	t.Helper()
	id, err := identifier.New()
	require.NoError(t, err)
	return id
}

func mustResponseParcel(t *testing.T, source identifier.Identifier, key Key) *message.ApplicationParcel {
	t.Helper()
	ext := message.AwaitableExtension{Binding: message.BindingResponse, TrackerKey: [16]byte(key)}
	p, err := message.BuildApplication(source, message.DestinationNode, identifier.Invalid, "/reply", []byte("ok"), ext)
	require.NoError(t, err)
	return p
}

func TestGenerateKeyProducesDistinctKeys(t *testing.T) {
	requestor := mustIdentifier(t)
	k1, err := GenerateKey(requestor)
	require.NoError(t, err)
	k2, err := GenerateKey(requestor)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
}

func TestTrackerFulfillsOnceEveryExpectedPeerResponds(t *testing.T) {
	a := mustIdentifier(t)
	b := mustIdentifier(t)
	key, err := GenerateKey(mustIdentifier(t))
	require.NoError(t, err)

	tr := newTracker(key, []identifier.Identifier{a, b}, time.Minute, nil)
	assert.Equal(t, Pending, tr.State())

	outcome := tr.apply(a, mustResponseParcel(t, a, key))
	assert.Equal(t, OutcomeSuccess, outcome)
	assert.Equal(t, Pending, tr.State())

	outcome = tr.apply(b, mustResponseParcel(t, b, key))
	assert.Equal(t, OutcomeFulfilled, outcome)
	assert.Equal(t, Fulfilled, tr.State())
}

func TestTrackerRejectsUnexpectedSource(t *testing.T) {
	a := mustIdentifier(t)
	stranger := mustIdentifier(t)
	key, err := GenerateKey(mustIdentifier(t))
	require.NoError(t, err)

	tr := newTracker(key, []identifier.Identifier{a}, time.Minute, nil)
	outcome := tr.apply(stranger, mustResponseParcel(t, stranger, key))
	assert.Equal(t, OutcomeUnexpected, outcome)
	assert.Equal(t, Pending, tr.State())
}

func TestTrackerDropsLateResponseAfterFulfillment(t *testing.T) {
	a := mustIdentifier(t)
	key, err := GenerateKey(mustIdentifier(t))
	require.NoError(t, err)

	tr := newTracker(key, []identifier.Identifier{a}, time.Minute, nil)
	require.Equal(t, OutcomeFulfilled, tr.apply(a, mustResponseParcel(t, a, key)))

	outcome := tr.apply(a, mustResponseParcel(t, a, key))
	assert.Equal(t, OutcomeUnexpected, outcome)
}

func TestTrackerCheckExpiryTipsPendingPastDeadline(t *testing.T) {
	a := mustIdentifier(t)
	key, err := GenerateKey(mustIdentifier(t))
	require.NoError(t, err)

	tr := newTracker(key, []identifier.Identifier{a}, time.Millisecond, nil)
	time.Sleep(5 * time.Millisecond)

	assert.True(t, tr.checkExpiry(time.Now()))
	assert.Equal(t, Expired, tr.State())
	assert.False(t, tr.checkExpiry(time.Now()), "expiry check is idempotent once terminal")
}

func TestTrackerCompleteInvokesCallbackWithSnapshot(t *testing.T) {
	a := mustIdentifier(t)
	key, err := GenerateKey(mustIdentifier(t))
	require.NoError(t, err)

	var gotState State
	var gotCount int
	tr := newTracker(key, []identifier.Identifier{a}, time.Minute, func(received []*message.ApplicationParcel, state State) {
		gotState = state
		gotCount = len(received)
	})

	tr.apply(a, mustResponseParcel(t, a, key))
	tr.complete()
	assert.Equal(t, Fulfilled, gotState)
	assert.Equal(t, 1, gotCount)
}

type stubTransmitter struct {
	payloads [][]byte
}

func (s *stubTransmitter) ScheduleSendAny(payload []byte) bool {
	s.payloads = append(s.payloads, payload)
	return true
}

func TestAggregateTrackerFinalizeTransmitsBuiltReply(t *testing.T) {
	requestorID := mustIdentifier(t)
	original, err := message.BuildApplication(requestorID, message.DestinationNode, identifier.Invalid, "/fanout", []byte("go"))
	require.NoError(t, err)

	peerA := mustIdentifier(t)
	key, err := GenerateKey(requestorID)
	require.NoError(t, err)
	replyKey, err := GenerateKey(requestorID)
	require.NoError(t, err)

	transmitter := &stubTransmitter{}
	built := false
	responder := func(orig *message.ApplicationParcel, received []*message.ApplicationParcel, state State) (*message.ApplicationParcel, error) {
		built = true
		assert.Same(t, original, orig)
		assert.Len(t, received, 1)
		return message.BuildApplication(requestorID, message.DestinationNode, identifier.Invalid, "/fanout/result", []byte("done"))
	}

	agg := newAggregateTracker(key, replyKey, []identifier.Identifier{peerA}, time.Minute, original, transmitter, responder)
	require.Equal(t, OutcomeFulfilled, agg.apply(peerA, mustResponseParcel(t, peerA, key)))

	var packed *message.ApplicationParcel
	err = agg.finalize(func(p *message.ApplicationParcel) ([]byte, error) {
		packed = p
		return []byte(p.Route), nil
	})
	require.NoError(t, err)
	assert.True(t, built)
	require.Len(t, transmitter.payloads, 1)
	assert.Equal(t, "/fanout/result", string(transmitter.payloads[0]))

	require.NotNil(t, packed)
	replyExt, ok := packed.Extensions.Awaitable()
	require.True(t, ok)
	assert.Equal(t, message.BindingResponse, replyExt.Binding)
	assert.Equal(t, [16]byte(replyKey), replyExt.TrackerKey)
}

func TestSampleIdentifiersRespectsSizeAndBounds(t *testing.T) {
	var active []identifier.Identifier
	for i := 0; i < 10; i++ {
		active = append(active, mustIdentifier(t))
	}

	sample := SampleIdentifiers(active, 0.5)
	assert.Len(t, sample, 5)

	full := SampleIdentifiers(active, 1.0)
	assert.Len(t, full, 10)

	none := SampleIdentifiers(active, 0)
	assert.Nil(t, none)

	clamped := SampleIdentifiers(active, 1.5)
	assert.Len(t, clamped, 10)
}

func TestSampleIdentifiersNeverRepeatsAnIdentifier(t *testing.T) {
	var active []identifier.Identifier
	for i := 0; i < 8; i++ {
		active = append(active, mustIdentifier(t))
	}

	sample := SampleIdentifiers(active, 0.75)
	seen := make(map[identifier.Identifier]bool)
	for _, id := range sample {
		assert.False(t, seen[id], "sample must not repeat an identifier")
		seen[id] = true
	}
}
