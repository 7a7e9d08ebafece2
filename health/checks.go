package health

import (
	"context"
	"fmt"
)

// EndpointsCheck builds a Check that reports unhealthy when a node's
// network manager has no active endpoints, given an activeCount callback
// (typically network.Manager.ActiveEndpoints).
func EndpointsCheck(activeCount func() int) Check {
	return func(ctx context.Context) error {
		if activeCount == nil {
			return fmt.Errorf("endpoint count callback not configured")
		}
		if n := activeCount(); n == 0 {
			return fmt.Errorf("no active endpoints")
		}
		return nil
	}
}

// SchedulerCheck builds a Check that reports unhealthy when the
// runtime's execution token has entered runtime.TokenError, given a
// stateErr callback returning the token's recorded cause (nil while
// healthy).
func SchedulerCheck(stateErr func() error) Check {
	return func(ctx context.Context) error {
		if stateErr == nil {
			return fmt.Errorf("scheduler state callback not configured")
		}
		return stateErr()
	}
}

// PeerManagerCheck builds a Check that reports unhealthy when a peer
// manager reports fewer than minimum tracked proxies, useful only for nodes expected
// to maintain a steady-state mesh (bootstrap nodes, not leaf clients).
func PeerManagerCheck(proxyCount func() int, minimum int) Check {
	return func(ctx context.Context) error {
		if proxyCount == nil {
			return fmt.Errorf("peer count callback not configured")
		}
		if n := proxyCount(); n < minimum {
			return fmt.Errorf("tracked peer count %d below minimum %d", n, minimum)
		}
		return nil
	}
}

// PingCheck builds a Check from an arbitrary context-aware probe
// function, for ad hoc readiness probes (e.g. a configured bootstrap
// address is reachable) that don't warrant their own named constructor.
func PingCheck(ping func(context.Context) error) Check {
	return func(ctx context.Context) error {
		if ping == nil {
			return fmt.Errorf("ping function not configured")
		}
		return ping(ctx)
	}
}
