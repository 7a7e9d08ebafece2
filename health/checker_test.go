package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckReturnsHealthyWhenCheckSucceeds(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("ok", func(ctx context.Context) error { return nil })

	result, err := c.Check(context.Background(), "ok")
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, result.Status)
}

func TestCheckReturnsUnhealthyWhenCheckErrors(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("broken", func(ctx context.Context) error { return errors.New("db unreachable") })

	result, err := c.Check(context.Background(), "broken")
	require.NoError(t, err)
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.Contains(t, result.Message, "db unreachable")
}

func TestCheckReturnsErrorForUnregisteredName(t *testing.T) {
	c := NewChecker(time.Second)
	_, err := c.Check(context.Background(), "missing")
	require.Error(t, err)
}

func TestCheckServesCachedResultWithinTTL(t *testing.T) {
	c := NewChecker(time.Second)
	c.SetCacheTTL(time.Minute)

	calls := 0
	c.Register("counted", func(ctx context.Context) error {
		calls++
		return nil
	})

	_, err := c.Check(context.Background(), "counted")
	require.NoError(t, err)
	_, err = c.Check(context.Background(), "counted")
	require.NoError(t, err)

	assert.Equal(t, 1, calls, "second call within TTL must hit the cache")
}

func TestClearCacheForcesLiveReEvaluation(t *testing.T) {
	c := NewChecker(time.Second)
	c.SetCacheTTL(time.Minute)

	calls := 0
	c.Register("counted", func(ctx context.Context) error {
		calls++
		return nil
	})

	_, _ = c.Check(context.Background(), "counted")
	c.ClearCache()
	_, _ = c.Check(context.Background(), "counted")

	assert.Equal(t, 2, calls)
}

func TestOverallStatusIsUnhealthyWhenAnyCheckFails(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("good", func(ctx context.Context) error { return nil })
	c.Register("bad", func(ctx context.Context) error { return errors.New("nope") })

	assert.Equal(t, StatusUnhealthy, c.OverallStatus(context.Background()))
}

func TestOverallStatusIsHealthyWithNoRegisteredChecks(t *testing.T) {
	c := NewChecker(time.Second)
	assert.Equal(t, StatusHealthy, c.OverallStatus(context.Background()))
}

func TestCheckRespectsTimeout(t *testing.T) {
	c := NewChecker(10 * time.Millisecond)
	c.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	result, err := c.Check(context.Background(), "slow")
	require.NoError(t, err)
	assert.Equal(t, StatusUnhealthy, result.Status)
}

func TestUnregisterRemovesCheckAndCache(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("temp", func(ctx context.Context) error { return nil })
	_, _ = c.Check(context.Background(), "temp")

	c.Unregister("temp")
	_, err := c.Check(context.Background(), "temp")
	require.Error(t, err)
}

func TestEndpointsCheckFailsWithZeroActiveEndpoints(t *testing.T) {
	check := EndpointsCheck(func() int { return 0 })
	assert.Error(t, check(context.Background()))
}

func TestEndpointsCheckPassesWithActiveEndpoints(t *testing.T) {
	check := EndpointsCheck(func() int { return 2 })
	assert.NoError(t, check(context.Background()))
}

func TestSchedulerCheckSurfacesTokenCause(t *testing.T) {
	check := SchedulerCheck(func() error { return errors.New("cycle aborted") })
	assert.Error(t, check(context.Background()))
}

func TestHandlerReturns503WhenUnhealthy(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("bad", func(ctx context.Context) error { return errors.New("down") })

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandlerReturns200WhenHealthy(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("good", func(ctx context.Context) error { return nil })

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
