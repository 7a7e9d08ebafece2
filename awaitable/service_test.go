package awaitable

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brypt-project/brypt/identifier"
	"github.com/brypt-project/brypt/message"
)

func identityPack(p *message.ApplicationParcel) ([]byte, error) {
	return []byte(p.Route), nil
}

func TestStageRequestRejectsEmptyExpectedSet(t *testing.T) {
	s := NewService(nil)
	_, err := s.StageRequest(mustIdentifier(t), nil, time.Minute, nil)
	assert.ErrorIs(t, err, ErrNoExpectedPeers)
}

func TestStageRequestAndProcessFulfillsAndSchedulesDelegate(t *testing.T) {
	var scheduled int
	s := NewService(func() { scheduled++ })

	requestor := mustIdentifier(t)
	peerA := mustIdentifier(t)

	var completed bool
	var completeState State
	key, err := s.StageRequest(requestor, []identifier.Identifier{peerA}, time.Minute, func(received []*message.ApplicationParcel, state State) {
		completed = true
		completeState = state
	})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Pending())

	outcome := s.Process(peerA, mustResponseParcel(t, peerA, key))
	assert.Equal(t, OutcomeFulfilled, outcome)
	assert.Equal(t, 1, scheduled)

	n := s.Execute(identityPack)
	assert.Equal(t, 1, n)
	assert.True(t, completed)
	assert.Equal(t, Fulfilled, completeState)
	assert.Equal(t, 0, s.Pending())
}

func TestProcessReturnsUnexpectedForUnknownKey(t *testing.T) {
	s := NewService(nil)
	unknown := Key{0x01}
	outcome := s.Process(mustIdentifier(t), mustResponseParcel(t, mustIdentifier(t), unknown))
	assert.Equal(t, OutcomeUnexpected, outcome)
}

func TestProcessIgnoresRequestBoundExtension(t *testing.T) {
	s := NewService(nil)
	requestor := mustIdentifier(t)
	peerA := mustIdentifier(t)
	key, err := s.StageRequest(requestor, []identifier.Identifier{peerA}, time.Minute, nil)
	require.NoError(t, err)

	ext := message.AwaitableExtension{Binding: message.BindingRequest, TrackerKey: [16]byte(key)}
	parcel, err := message.BuildApplication(peerA, message.DestinationNode, identifier.Invalid, "/x", []byte("y"), ext)
	require.NoError(t, err)

	outcome := s.Process(peerA, parcel)
	assert.Equal(t, OutcomeUnexpected, outcome)
}

func TestStageDeferredRequiresRequestBoundAwaitableExtension(t *testing.T) {
	s := NewService(nil)
	requestor := mustIdentifier(t)
	original, err := message.BuildApplication(requestor, message.DestinationNode, identifier.Invalid, "/fanout", []byte("go"))
	require.NoError(t, err)

	_, err = s.StageDeferred([]identifier.Identifier{mustIdentifier(t)}, original, nil, nil, time.Minute)
	assert.Error(t, err)
}

func TestStageDeferredAndExecuteTransmitsAggregateReply(t *testing.T) {
	var scheduled int
	s := NewService(func() { scheduled++ })

	requestor := mustIdentifier(t)
	peerA := mustIdentifier(t)
	peerB := mustIdentifier(t)

	replyKey, err := GenerateKey(requestor)
	require.NoError(t, err)
	ext := message.AwaitableExtension{Binding: message.BindingRequest, TrackerKey: [16]byte(replyKey)}
	original, err := message.BuildApplication(requestor, message.DestinationNode, identifier.Invalid, "/fanout", []byte("go"), ext)
	require.NoError(t, err)

	transmitter := &stubTransmitter{}
	var packed *message.ApplicationParcel
	responder := func(orig *message.ApplicationParcel, received []*message.ApplicationParcel, state State) (*message.ApplicationParcel, error) {
		assert.Equal(t, Fulfilled, state)
		return message.BuildApplication(requestor, message.DestinationNode, identifier.Invalid, "/fanout/done", []byte("ok"))
	}

	staged, err := s.StageDeferred([]identifier.Identifier{peerA, peerB}, original, transmitter, responder, time.Minute)
	require.NoError(t, err)
	assert.NotEqual(t, replyKey, staged, "the fan-out correlation key must differ from the original request's own tracker key")

	assert.Equal(t, OutcomeSuccess, s.Process(peerA, mustResponseParcel(t, peerA, staged)))
	assert.Equal(t, OutcomeFulfilled, s.Process(peerB, mustResponseParcel(t, peerB, staged)))
	assert.Equal(t, 1, scheduled)

	n := s.Execute(func(p *message.ApplicationParcel) ([]byte, error) {
		packed = p
		return identityPack(p)
	})
	assert.Equal(t, 1, n)
	require.Len(t, transmitter.payloads, 1)
	assert.Equal(t, "/fanout/done", string(transmitter.payloads[0]))

	require.NotNil(t, packed)
	replyExt, ok := packed.Extensions.Awaitable()
	require.True(t, ok)
	assert.Equal(t, [16]byte(replyKey), replyExt.TrackerKey, "the aggregated reply must correlate back to the original request's own tracker key")
}

func TestExpireOverdueTransitionsPendingTrackerAndSchedulesDelegate(t *testing.T) {
	var scheduled int
	s := NewService(func() { scheduled++ })

	requestor := mustIdentifier(t)
	peerA := mustIdentifier(t)
	var gotState State
	_, err := s.StageRequest(requestor, []identifier.Identifier{peerA}, time.Millisecond, func(_ []*message.ApplicationParcel, state State) {
		gotState = state
	})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	s.ExpireOverdue(time.Now())
	assert.Equal(t, 1, scheduled)

	n := s.Execute(identityPack)
	assert.Equal(t, 1, n)
	assert.Equal(t, Expired, gotState)
}
