package peer

import "sync/atomic"

// Statistics holds the monotonic sent/received counters spec.md §4.2
// requires ("Statistics counters are monotonic"). atomic.Uint64 keeps
// schedule_receive/schedule_send lock-free on the hot path, matching the
// teacher's atomic-counter style in internal/metrics for per-session
// traffic accounting.
type Statistics struct {
	sent     atomic.Uint64
	received atomic.Uint64
}

// Sent returns the total bytes scheduled for send.
func (s *Statistics) Sent() uint64 { return s.sent.Load() }

// Received returns the total bytes scheduled from receive.
func (s *Statistics) Received() uint64 { return s.received.Load() }

func (s *Statistics) addSent(n int)     { s.sent.Add(uint64(n)) }
func (s *Statistics) addReceived(n int) { s.received.Add(uint64(n)) }
