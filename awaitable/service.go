package awaitable

import (
	"fmt"
	"sync"
	"time"

	"github.com/brypt-project/brypt/identifier"
	"github.com/brypt-project/brypt/message"
)

// DefaultTTL is used when a caller stages a request or deferred aggregate
// without specifying an explicit deadline.
const DefaultTTL = 10 * time.Second

// PackFunc serializes a fully-built application parcel for transmission.
// The service never reaches into a security.Mediator itself; the caller
// closes over whatever signing/encryption context the reply should carry.
type PackFunc func(*message.ApplicationParcel) ([]byte, error)

type entry interface {
	Key() Key
	State() State
	checkExpiry(now time.Time) bool
	apply(source identifier.Identifier, parcel *message.ApplicationParcel) Outcome
}

var (
	_ entry = (*Tracker)(nil)
	_ entry = (*AggregateTracker)(nil)
)

// Service is the Awaitable Tracking Service of spec.md §4.5: it
// correlates inbound response parcels to outstanding trackers, enforces
// deadlines, and assembles aggregated replies. Grounded on the
// concurrency note in spec.md §4.4 ("core-thread-only; no external
// locking required") — the mutex here exists only because process() may
// be invoked from an endpoint's decode path ahead of the core thread
// picking it up, not because the service is meant to be hammered
// concurrently from many goroutines.
type Service struct {
	mu       sync.Mutex
	trackers map[Key]entry

	scheduleDelegate func()
}

// NewService constructs an empty tracking service. scheduleDelegate is
// invoked every time a tracker transitions to Fulfilled, so a cooperative
// scheduler can run the service's delegate on its next cycle without
// polling; it may be nil.
func NewService(scheduleDelegate func()) *Service {
	return &Service{
		trackers:         make(map[Key]entry),
		scheduleDelegate: scheduleDelegate,
	}
}

// StageRequest tracks a Direct, Cluster, or Sampled request (spec.md
// §4.5): expected is the frozen responder set at dispatch time, and
// onComplete is called exactly once, with whatever responses arrived,
// when the tracker leaves Pending.
func (s *Service) StageRequest(requestor identifier.Identifier, expected []identifier.Identifier, ttl time.Duration, onComplete func(received []*message.ApplicationParcel, state State)) (Key, error) {
	if len(expected) == 0 {
		return Key{}, ErrNoExpectedPeers
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	key, err := GenerateKey(requestor)
	if err != nil {
		return Key{}, err
	}

	t := newTracker(key, expected, ttl, onComplete)
	s.mu.Lock()
	s.trackers[key] = t
	s.mu.Unlock()
	return key, nil
}

// StageDeferred tracks the Deferred request kind: a route handler fanning
// out sub-requests to expected peers before replying to its own
// requestor. deferred is the inbound request being handled and must
// itself carry a request-bound Awaitable extension — that tracker key is
// what the eventual aggregated reply correlates back to for whoever sent
// deferred to us. A fresh key is generated to correlate the sub-responses
// this fan-out collects; it is returned so the caller can stamp it, as a
// request-bound extension, onto each outgoing sub-request. responder
// assembles the eventual reply to deferred's own sender from whatever
// sub-responses arrive.
func (s *Service) StageDeferred(expected []identifier.Identifier, deferred *message.ApplicationParcel, requestor Transmitter, responder ResponseFunc, ttl time.Duration) (Key, error) {
	if len(expected) == 0 {
		return Key{}, ErrNoExpectedPeers
	}
	awaitableExt, ok := deferred.Extensions.Awaitable()
	if !ok || awaitableExt.Binding != message.BindingRequest {
		return Key{}, fmt.Errorf("awaitable: stage deferred: deferred parcel missing request-bound awaitable extension")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	replyKey := Key(awaitableExt.TrackerKey)
	key, err := GenerateKey(deferred.Header.Destination)
	if err != nil {
		return Key{}, err
	}

	a := newAggregateTracker(key, replyKey, expected, ttl, deferred, requestor, responder)
	s.mu.Lock()
	s.trackers[key] = a
	s.mu.Unlock()
	return key, nil
}

// Process locates the tracker referenced by parcel's Awaitable extension,
// applies the update, and reports the outcome. A fulfilled update
// schedules the service's delegate to run on the next cycle.
func (s *Service) Process(source identifier.Identifier, parcel *message.ApplicationParcel) Outcome {
	if parcel.Extensions == nil {
		return OutcomeUnexpected
	}
	awaitableExt, ok := parcel.Extensions.Awaitable()
	if !ok || awaitableExt.Binding != message.BindingResponse {
		return OutcomeUnexpected
	}
	key := Key(awaitableExt.TrackerKey)

	s.mu.Lock()
	t, ok := s.trackers[key]
	s.mu.Unlock()
	if !ok {
		return OutcomeUnexpected
	}

	outcome := t.apply(source, parcel)
	if outcome == OutcomeFulfilled && s.scheduleDelegate != nil {
		s.scheduleDelegate()
	}
	return outcome
}

// ExpireOverdue sweeps every still-Pending tracker and tips those past
// their deadline into Expired, scheduling the delegate if any did.
// Intended to be called once per scheduler cycle ahead of Execute.
func (s *Service) ExpireOverdue(now time.Time) {
	s.mu.Lock()
	var any bool
	for _, t := range s.trackers {
		if t.checkExpiry(now) {
			any = true
		}
	}
	s.mu.Unlock()
	if any && s.scheduleDelegate != nil {
		s.scheduleDelegate()
	}
}

// Execute scans trackers; for each Fulfilled or Expired entry it attempts
// to transmit the aggregated response (a no-op for plain Trackers, which
// instead deliver through their onComplete callback) and erases the entry
// either way. Returns the count of trackers transitioned to complete this
// cycle, per spec.md §4.5.
func (s *Service) Execute(pack PackFunc) int {
	s.mu.Lock()
	var done []entry
	for key, t := range s.trackers {
		switch t.State() {
		case Fulfilled, Expired:
			done = append(done, t)
			delete(s.trackers, key)
		}
	}
	s.mu.Unlock()

	for _, t := range done {
		switch v := t.(type) {
		case *AggregateTracker:
			_ = v.finalize(pack)
		case *Tracker:
			v.complete()
		}
	}
	return len(done)
}

// Pending returns the number of trackers still awaiting responses.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.trackers {
		if t.State() == Pending {
			n++
		}
	}
	return n
}
