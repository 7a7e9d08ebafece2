// Package awaitable correlates responses to outbound requests that may
// fan out to more than one peer, enforces per-request deadlines, and
// aggregates partial results (spec.md §4.5).
package awaitable

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/brypt-project/brypt/identifier"
	"github.com/brypt-project/brypt/message"
)

// State is a tracker's position in its lifecycle.
type State int

const (
	Pending State = iota
	Fulfilled
	Expired
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Fulfilled:
		return "fulfilled"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Outcome reports what process() did with an inbound response parcel.
type Outcome int

const (
	// OutcomeUnexpected means no tracker matched the key, or the tracker
	// had already left Pending (a late response, logged and dropped).
	OutcomeUnexpected Outcome = iota
	// OutcomeSuccess means the response was recorded and the tracker is
	// still Pending.
	OutcomeSuccess
	// OutcomeFulfilled means this response completed the expected set.
	OutcomeFulfilled
	// OutcomeExpired means this response arrived after the deadline had
	// already tipped the tracker into Expired.
	OutcomeExpired
)

// ErrNoExpectedPeers is returned when staging a request or deferred
// aggregate with an empty expected-responder set.
var ErrNoExpectedPeers = errors.New("awaitable: no expected peers")

// Key is the 16-byte tracker correlation key carried on the wire by the
// Awaitable extension.
type Key [16]byte

// GenerateKey produces a tracker key per spec.md §4.5: MD5 over the
// requestor's 16-byte internal identifier, the current epoch-millisecond
// timestamp, and 8 random bytes. Collisions within a service's lifetime
// are treated as impossible and are not defended against, matching the
// spec's explicit acceptance of that risk.
func GenerateKey(requestor identifier.Identifier) (Key, error) {
	var material [32]byte
	copy(material[0:16], requestor.Bytes())
	binary.BigEndian.PutUint64(material[16:24], uint64(time.Now().UnixMilli()))
	if _, err := rand.Read(material[24:32]); err != nil {
		return Key{}, fmt.Errorf("awaitable: generate key: %w", err)
	}
	return Key(md5.Sum(material[:])), nil
}

// ResponseFunc assembles the final outbound parcel for a fulfilled or
// expired tracker from its original request and whatever responses it
// collected. Returning a nil parcel means nothing should be transmitted.
type ResponseFunc func(original *message.ApplicationParcel, received []*message.ApplicationParcel, state State) (*message.ApplicationParcel, error)

// Transmitter sends a fully-built parcel on behalf of a tracker's
// requestor once it completes. Implemented by the peer proxy in practice;
// kept as a narrow interface here so this package never imports peer.
type Transmitter interface {
	ScheduleSendAny(payload []byte) bool
}

// Tracker is the correlation record for one outstanding request, covering
// the Direct, Cluster, and Sampled request kinds of spec.md §4.5: a single
// identified peer, the frozen set of currently-active peers at dispatch,
// or a uniform subsample of them, respectively — the three kinds differ
// only in how the caller computes the expected set passed to Stage.
type Tracker struct {
	mu sync.Mutex

	key      Key
	expected map[identifier.Identifier]struct{}
	received []*message.ApplicationParcel

	createdAt time.Time
	deadline  time.Time
	state     State

	onComplete func(received []*message.ApplicationParcel, state State)
}

func newTracker(key Key, expected []identifier.Identifier, ttl time.Duration, onComplete func([]*message.ApplicationParcel, State)) *Tracker {
	now := time.Now()
	set := make(map[identifier.Identifier]struct{}, len(expected))
	for _, id := range expected {
		set[id] = struct{}{}
	}
	return &Tracker{
		key:        key,
		expected:   set,
		createdAt:  now,
		deadline:   now.Add(ttl),
		state:      Pending,
		onComplete: onComplete,
	}
}

// Key returns the tracker's correlation key.
func (t *Tracker) Key() Key {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.key
}

// State returns the tracker's current lifecycle state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// apply records parcel as a response from source. Per spec.md §4.5:
// Pending -> Fulfilled once every expected peer has responded; a response
// from outside the expected set, or one arriving after the tracker left
// Pending, is unexpected and dropped.
func (t *Tracker) apply(source identifier.Identifier, parcel *message.ApplicationParcel) Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != Pending {
		return OutcomeUnexpected
	}
	if _, expected := t.expected[source]; !expected {
		return OutcomeUnexpected
	}

	t.received = append(t.received, parcel)
	if len(t.received) >= len(t.expected) {
		t.state = Fulfilled
		return OutcomeFulfilled
	}
	return OutcomeSuccess
}

// checkExpiry tips a still-Pending tracker into Expired once now has
// passed its deadline, returning whether a transition occurred.
func (t *Tracker) checkExpiry(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Pending || now.Before(t.deadline) {
		return false
	}
	t.state = Expired
	return true
}

// snapshot copies out the tracker's terminal state for delivery to its
// completion callback.
func (t *Tracker) snapshot() (received []*message.ApplicationParcel, state State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*message.ApplicationParcel(nil), t.received...), t.state
}

// complete invokes the tracker's completion callback, if any, with its
// terminal snapshot.
func (t *Tracker) complete() {
	if t.onComplete == nil {
		return
	}
	received, state := t.snapshot()
	t.onComplete(received, state)
}

// AggregateTracker is the Deferred request kind of spec.md §4.5: staged by
// a route handler that needs to fan out to other peers and aggregate
// their responses before itself replying to its own requestor. It embeds
// Tracker for the shared correlation machinery and additionally carries
// the original inbound request parcel so a final reply can be assembled
// once the fan-out settles.
type AggregateTracker struct {
	*Tracker

	original  *message.ApplicationParcel
	replyKey  Key
	requestor Transmitter
	responder ResponseFunc
}

func newAggregateTracker(key Key, replyKey Key, expected []identifier.Identifier, ttl time.Duration, original *message.ApplicationParcel, requestor Transmitter, responder ResponseFunc) *AggregateTracker {
	a := &AggregateTracker{
		original:  original,
		replyKey:  replyKey,
		requestor: requestor,
		responder: responder,
	}
	a.Tracker = newTracker(key, expected, ttl, nil)
	return a
}

// finalize builds the aggregated reply, stamps it with a response-bound
// Awaitable extension carrying the original request's own tracker key (so
// it correlates back to whichever caller is awaiting original), and hands
// it to the requestor's transmitter. Called by the service's execute()
// for every tracker that reached Fulfilled or Expired this cycle.
func (a *AggregateTracker) finalize(pack func(*message.ApplicationParcel) ([]byte, error)) error {
	received, state := a.snapshot()
	reply, err := a.responder(a.original, received, state)
	if err != nil {
		return fmt.Errorf("awaitable: build aggregate reply: %w", err)
	}
	if reply == nil {
		return nil
	}
	if reply.Extensions != nil {
		reply.Extensions.Put(message.AwaitableExtension{
			Binding:    message.BindingResponse,
			TrackerKey: [16]byte(a.replyKey),
		})
	}
	payload, err := pack(reply)
	if err != nil {
		return fmt.Errorf("awaitable: pack aggregate reply: %w", err)
	}
	if a.requestor != nil {
		a.requestor.ScheduleSendAny(payload)
	}
	return nil
}

// SampleIdentifiers selects a uniform, without-replacement subsample of
// active of size ceil(fraction * len(active)), per spec.md §4.5's Sampled
// request kind. fraction is clamped to [0, 1]. Uses a partial
// Fisher-Yates shuffle so the cost is proportional to the sample size,
// not the full population.
func SampleIdentifiers(active []identifier.Identifier, fraction float64) []identifier.Identifier {
	if fraction <= 0 || len(active) == 0 {
		return nil
	}
	if fraction > 1 {
		fraction = 1
	}
	n := len(active)
	size := int((fraction*float64(n))+0.999999)
	if size > n {
		size = n
	}
	if size <= 0 {
		return nil
	}

	pool := append([]identifier.Identifier(nil), active...)
	for i := 0; i < size; i++ {
		j := i + randomIntn(n-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:size]
}

// randomIntn returns a cryptographically random integer in [0, n) using
// crypto/rand, matching the package's existing randomness source rather
// than introducing math/rand's separate PRNG state.
func randomIntn(n int) int {
	if n <= 1 {
		return 0
	}
	max := big.NewInt(int64(n))
	v, err := rand.Int(rand.Reader, max)
	if err != nil {
		return 0
	}
	return int(v.Int64())
}
