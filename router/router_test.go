package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brypt-project/brypt/awaitable"
	"github.com/brypt-project/brypt/identifier"
	"github.com/brypt-project/brypt/message"
)

func mustIdentifier(t *testing.T) identifier.Identifier {
	t.Helper()
	id, err := identifier.New()
	require.NoError(t, err)
	return id
}

type capturedSend struct {
	destination identifier.Identifier
	parcel      *message.ApplicationParcel
}

func recordingSender(sent *[]capturedSend) Sender {
	return func(destination identifier.Identifier, parcel *message.ApplicationParcel) error {
		*sent = append(*sent, capturedSend{destination: destination, parcel: parcel})
		return nil
	}
}

func TestDispatchInvokesRegisteredHandler(t *testing.T) {
	var sent []capturedSend
	r := New(awaitable.NewService(nil), recordingSender(&sent))

	source := mustIdentifier(t)
	self := mustIdentifier(t)
	var gotPayload []byte
	r.Register("/ping", func(src identifier.Identifier, payload []byte, next *Next) bool {
		assert.Equal(t, source, src)
		gotPayload = payload
		return true
	})

	request, err := message.BuildApplication(source, message.DestinationNode, self, "/ping", []byte("hello"))
	require.NoError(t, err)

	found := r.Dispatch(source, request)
	assert.True(t, found)
	assert.Equal(t, []byte("hello"), gotPayload)
	assert.Empty(t, sent)
}

func TestDispatchReturnsFalseForUnknownRoute(t *testing.T) {
	r := New(awaitable.NewService(nil), recordingSender(&[]capturedSend{}))
	source := mustIdentifier(t)
	request, err := message.BuildApplication(source, message.DestinationNode, mustIdentifier(t), "/missing", []byte("x"))
	require.NoError(t, err)

	assert.False(t, r.Dispatch(source, request))
}

func TestDispatchSendsProtocolErrorOnRejectionWhenAwaitable(t *testing.T) {
	var sent []capturedSend
	r := New(awaitable.NewService(nil), recordingSender(&sent))

	source := mustIdentifier(t)
	self := mustIdentifier(t)
	var trackerKey [16]byte
	copy(trackerKey[:], []byte("0123456789abcdef"))
	ext := message.AwaitableExtension{Binding: message.BindingRequest, TrackerKey: trackerKey}

	r.Register("/reject", func(identifier.Identifier, []byte, *Next) bool { return false })

	request, err := message.BuildApplication(source, message.DestinationNode, self, "/reject", []byte("x"), ext)
	require.NoError(t, err)

	assert.True(t, r.Dispatch(source, request))
	require.Len(t, sent, 1)
	assert.Equal(t, source, sent[0].destination)

	replyExt, ok := sent[0].parcel.Extensions.Awaitable()
	require.True(t, ok)
	assert.Equal(t, message.BindingResponse, replyExt.Binding)
	assert.Equal(t, trackerKey, replyExt.TrackerKey)

	status, ok := sent[0].parcel.Extensions.Status()
	require.True(t, ok)
	assert.Equal(t, message.StatusInternalError, status.Code)
}

func TestDispatchSkipsErrorResponseWhenRequestNotAwaitable(t *testing.T) {
	var sent []capturedSend
	r := New(awaitable.NewService(nil), recordingSender(&sent))

	source := mustIdentifier(t)
	r.Register("/reject", func(identifier.Identifier, []byte, *Next) bool { return false })

	request, err := message.BuildApplication(source, message.DestinationNode, mustIdentifier(t), "/reject", []byte("x"))
	require.NoError(t, err)

	assert.True(t, r.Dispatch(source, request))
	assert.Empty(t, sent)
}

func TestNextDispatchSendsFireAndForget(t *testing.T) {
	var sent []capturedSend
	r := New(awaitable.NewService(nil), recordingSender(&sent))

	source := mustIdentifier(t)
	self := mustIdentifier(t)
	r.Register("/cmd", func(src identifier.Identifier, payload []byte, next *Next) bool {
		require.NoError(t, next.Dispatch("/cmd/ack", []byte("ack")))
		return true
	})

	request, err := message.BuildApplication(source, message.DestinationNode, self, "/cmd", []byte("go"))
	require.NoError(t, err)
	require.True(t, r.Dispatch(source, request))

	require.Len(t, sent, 1)
	assert.Equal(t, "/cmd/ack", sent[0].parcel.Route)
	assert.Equal(t, source, sent[0].destination)
}

func TestNextRespondCarriesRequestTrackerKeyAndStatus(t *testing.T) {
	var sent []capturedSend
	r := New(awaitable.NewService(nil), recordingSender(&sent))

	source := mustIdentifier(t)
	self := mustIdentifier(t)
	var trackerKey [16]byte
	copy(trackerKey[:], []byte("fedcba9876543210"))
	ext := message.AwaitableExtension{Binding: message.BindingRequest, TrackerKey: trackerKey}

	r.Register("/work", func(src identifier.Identifier, payload []byte, next *Next) bool {
		require.NoError(t, next.Respond([]byte("done"), message.StatusOK))
		return true
	})

	request, err := message.BuildApplication(source, message.DestinationNode, self, "/work", []byte("go"), ext)
	require.NoError(t, err)
	require.True(t, r.Dispatch(source, request))

	require.Len(t, sent, 1)
	assert.Equal(t, "/work", sent[0].parcel.Route)
	assert.Equal(t, []byte("done"), sent[0].parcel.Payload)

	replyExt, ok := sent[0].parcel.Extensions.Awaitable()
	require.True(t, ok)
	assert.Equal(t, message.BindingResponse, replyExt.Binding)
	assert.Equal(t, trackerKey, replyExt.TrackerKey)

	status, ok := sent[0].parcel.Extensions.Status()
	require.True(t, ok)
	assert.Equal(t, message.StatusOK, status.Code)
}

type stubTransmitter struct{ payloads [][]byte }

func (s *stubTransmitter) ScheduleSendAny(payload []byte) bool {
	s.payloads = append(s.payloads, payload)
	return true
}

func TestNextDeferFansOutAndStagesAggregate(t *testing.T) {
	var sent []capturedSend
	svc := awaitable.NewService(nil)
	r := New(svc, recordingSender(&sent))

	source := mustIdentifier(t)
	self := mustIdentifier(t)
	peerA := mustIdentifier(t)
	peerB := mustIdentifier(t)

	var originalTrackerKey [16]byte
	copy(originalTrackerKey[:], []byte("aaaaaaaaaaaaaaaa"))
	requestExt := message.AwaitableExtension{Binding: message.BindingRequest, TrackerKey: originalTrackerKey}

	transmitter := &stubTransmitter{}
	r.Register("/fanout", func(src identifier.Identifier, payload []byte, next *Next) bool {
		responder := func(orig *message.ApplicationParcel, received []*message.ApplicationParcel, state awaitable.State) (*message.ApplicationParcel, error) {
			return message.BuildApplication(self, message.DestinationNode, src, "/fanout", []byte("aggregated"))
		}
		require.NoError(t, next.Defer([]identifier.Identifier{peerA, peerB}, "/fanout/sub", []byte("go"), responder, transmitter))
		return true
	})

	request, err := message.BuildApplication(source, message.DestinationNode, self, "/fanout", []byte("start"), requestExt)
	require.NoError(t, err)
	require.True(t, r.Dispatch(source, request))

	require.Len(t, sent, 2, "defer must fan out to every expected peer")
	var keyOnWire [16]byte
	for _, s := range sent {
		assert.Equal(t, "/fanout/sub", s.parcel.Route)
		ext, ok := s.parcel.Extensions.Awaitable()
		require.True(t, ok)
		assert.Equal(t, message.BindingRequest, ext.Binding)
		keyOnWire = ext.TrackerKey
	}

	resp := message.AwaitableExtension{Binding: message.BindingResponse, TrackerKey: keyOnWire}
	respParcelA, err := message.BuildApplication(peerA, message.DestinationNode, self, "/fanout/sub", []byte("r1"), resp)
	require.NoError(t, err)
	respParcelB, err := message.BuildApplication(peerB, message.DestinationNode, self, "/fanout/sub", []byte("r2"), resp)
	require.NoError(t, err)

	assert.Equal(t, awaitable.OutcomeSuccess, svc.Process(peerA, respParcelA))
	assert.Equal(t, awaitable.OutcomeFulfilled, svc.Process(peerB, respParcelB))

	n := svc.Execute(func(p *message.ApplicationParcel) ([]byte, error) { return []byte(p.Route), nil })
	assert.Equal(t, 1, n)
	require.Len(t, transmitter.payloads, 1)
}
