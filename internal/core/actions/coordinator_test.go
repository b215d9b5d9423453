package actions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCaller scripts HasService / CallServiceWithResponse outcomes.
type fakeCaller struct {
	mu        sync.Mutex
	hasSvc    bool
	hasErr    error
	response  interface{}
	callErr   error
	callCount int
	block     chan struct{} // when set, CallServiceWithResponse blocks until closed
}

func (f *fakeCaller) HasService(ctx context.Context, domain, service string) (bool, error) {
	return f.hasSvc, f.hasErr
}

func (f *fakeCaller) CallServiceWithResponse(ctx context.Context, domain, service string, data map[string]interface{}) (interface{}, error) {
	f.mu.Lock()
	f.callCount++
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.response, f.callErr
}

func (f *fakeCaller) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCount
}

type recordingSink struct {
	mu      sync.Mutex
	results []*CallResult
	states  []RetryState
}

func (s *recordingSink) HandleResult(result *CallResult, state RetryState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
	s.states = append(s.states, state)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newTestCoordinator(caller ServiceCaller, sink ResultSink) *Coordinator {
	return NewCoordinator("test_action", "Test Action", "weather", "get_forecasts",
		map[string]interface{}{"type": "daily"}, caller, sink, testLogger())
}

func TestCoordinator_Success(t *testing.T) {
	caller := &fakeCaller{hasSvc: true, response: map[string]interface{}{"temp": 21.5}}
	sink := &recordingSink{}
	c := newTestCoordinator(caller, sink)
	defer c.Stop()

	result, err := c.Refresh(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, map[string]interface{}{"temp": 21.5}, result.Response)
	assert.Empty(t, result.ErrorMessage)
	assert.NotEmpty(t, result.ID)

	state := c.State()
	assert.Equal(t, 0, state.ConsecutiveFailures)
	assert.False(t, state.IsRetrying)
	require.NotNil(t, state.LastSuccessTime)

	require.Len(t, sink.results, 1)
	assert.Equal(t, result, sink.results[0])
}

func TestCoordinator_TemporaryFailuresThenSuccess(t *testing.T) {
	caller := &fakeCaller{hasSvc: true, callErr: errors.New("connection refused")}
	c := newTestCoordinator(caller, nil)
	defer c.Stop()

	for i := 1; i <= 3; i++ {
		result, err := c.Refresh(context.Background())
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, ErrorKindTemporary, result.ErrorKind)

		state := c.State()
		assert.Equal(t, i, state.ConsecutiveFailures)
		assert.True(t, state.IsRetrying)
	}

	assert.Equal(t, 120*time.Second, c.State().NextRetryDelay())

	caller.callErr = nil
	caller.response = "ok"

	result, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)

	state := c.State()
	assert.Equal(t, 0, state.ConsecutiveFailures)
	assert.False(t, state.IsRetrying)
	assert.Equal(t, time.Duration(0), state.NextRetryDelay())
}

func TestCoordinator_PermanentFailure(t *testing.T) {
	caller := &fakeCaller{hasSvc: true, callErr: errors.New("entity not found")}
	c := newTestCoordinator(caller, nil)
	defer c.Stop()

	result, err := c.Refresh(context.Background())
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, ErrorKindPermanent, result.ErrorKind)

	state := c.State()
	assert.Equal(t, 1, state.ConsecutiveFailures)
	assert.False(t, state.IsRetrying)
	assert.Equal(t, ErrorKindPermanent, state.LastErrorKind)
}

func TestCoordinator_UnknownErrorIsRetried(t *testing.T) {
	caller := &fakeCaller{hasSvc: true, callErr: errors.New("boom")}
	c := newTestCoordinator(caller, nil)
	defer c.Stop()

	result, err := c.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ErrorKindUnknown, result.ErrorKind)
	assert.True(t, c.State().IsRetrying)
}

func TestCoordinator_ServiceMissingThreshold(t *testing.T) {
	caller := &fakeCaller{hasSvc: false}
	c := newTestCoordinator(caller, nil)
	defer c.Stop()

	// First three misses: the target integration may still be loading.
	for i := 1; i <= MaxServiceMissingRetries; i++ {
		result, err := c.Refresh(context.Background())
		require.NoError(t, err)
		assert.Equal(t, ErrorKindTemporary, result.ErrorKind, "attempt %d", i)
		assert.True(t, c.State().IsRetrying)
	}

	// Fourth miss crosses the threshold.
	result, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ErrorKindPermanent, result.ErrorKind)
	assert.Equal(t, 4, c.State().ConsecutiveFailures)
	assert.False(t, c.State().IsRetrying)

	// The service never got called.
	assert.Equal(t, 0, caller.calls())
}

func TestCoordinator_SingleFlight(t *testing.T) {
	block := make(chan struct{})
	caller := &fakeCaller{hasSvc: true, response: "ok", block: block}
	c := newTestCoordinator(caller, nil)
	defer c.Stop()

	done := make(chan *CallResult, 1)
	go func() {
		result, _ := c.Refresh(context.Background())
		done <- result
	}()

	// Wait until the first refresh is inside the service call.
	require.Eventually(t, func() bool { return caller.calls() == 1 },
		time.Second, 5*time.Millisecond)

	_, err := c.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrRefreshInFlight)

	close(block)
	result := <-done
	assert.True(t, result.Success)
	assert.Equal(t, 1, caller.calls())
}

func TestCoordinator_Timeout(t *testing.T) {
	block := make(chan struct{}) // never closed, forces ctx deadline
	caller := &fakeCaller{hasSvc: true, block: block}
	c := newTestCoordinator(caller, nil)
	c.callTimeout = 20 * time.Millisecond
	defer c.Stop()

	result, err := c.Refresh(context.Background())
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, ErrorKindTemporary, result.ErrorKind)
	assert.Equal(t, "service call timed out", result.ErrorMessage)
	assert.True(t, c.State().IsRetrying)
}

func TestCoordinator_HasServiceErrorClassified(t *testing.T) {
	caller := &fakeCaller{hasErr: errors.New("connection refused")}
	c := newTestCoordinator(caller, nil)
	defer c.Stop()

	result, err := c.Refresh(context.Background())
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, ErrorKindTemporary, result.ErrorKind)
}

func TestCoordinator_StopPreventsRefresh(t *testing.T) {
	caller := &fakeCaller{hasSvc: true, response: "ok"}
	c := newTestCoordinator(caller, nil)

	c.Stop()
	_, err := c.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrCoordinatorStopped)
}
