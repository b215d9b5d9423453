package actions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// CallTimeout bounds a single service call.
const CallTimeout = 30 * time.Second

var (
	// ErrRefreshInFlight is returned when a refresh is requested while a
	// call is already running for the same action.
	ErrRefreshInFlight = errors.New("refresh already in flight")
	// ErrCoordinatorStopped is returned after Stop has been called.
	ErrCoordinatorStopped = errors.New("coordinator stopped")
)

// ServiceCaller invokes Home Assistant services. Implemented by the
// homeassistant adapter; faked in tests.
type ServiceCaller interface {
	HasService(ctx context.Context, domain, service string) (bool, error)
	CallServiceWithResponse(ctx context.Context, domain, service string, data map[string]interface{}) (interface{}, error)
}

// ResultSink consumes every resolved attempt (persistence, metrics,
// publishing back to Home Assistant).
type ResultSink interface {
	HandleResult(result *CallResult, state RetryState)
}

// Coordinator runs the poll loop for one configured action: call the
// service, classify failures, and schedule retries with exponential
// backoff. Triggers (interval tick, manual request, watched-entity state
// change) all funnel into Refresh; at most one call is in flight at a time.
type Coordinator struct {
	actionID string
	name     string
	domain   string
	service  string
	data     map[string]interface{}

	caller ServiceCaller
	sink   ResultSink
	logger *logrus.Logger

	callTimeout time.Duration

	mu         sync.Mutex
	inFlight   bool
	stopped    bool
	state      RetryState
	lastResult *CallResult
	retryTimer *time.Timer
}

// NewCoordinator creates a coordinator for one configured action.
// The sink may be nil.
func NewCoordinator(actionID, name, domain, service string, data map[string]interface{}, caller ServiceCaller, sink ResultSink, logger *logrus.Logger) *Coordinator {
	return &Coordinator{
		actionID:    actionID,
		name:        name,
		domain:      domain,
		service:     service,
		data:        data,
		caller:      caller,
		sink:        sink,
		logger:      logger,
		callTimeout: CallTimeout,
	}
}

// ActionID returns the configured action's identifier.
func (c *Coordinator) ActionID() string {
	return c.actionID
}

// Name returns the configured action's display name.
func (c *Coordinator) Name() string {
	return c.name
}

// Service returns the full "domain.service" name of the target action.
func (c *Coordinator) Service() string {
	return c.domain + "." + c.service
}

// State returns a snapshot of the retry state.
func (c *Coordinator) State() RetryState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastResult returns the most recent resolved attempt, or nil before the
// first one.
func (c *Coordinator) LastResult() *CallResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastResult
}

// Refresh performs one attempt against the configured service. Re-entrant
// calls while an attempt is running return ErrRefreshInFlight and do not
// start a second call. The attempt itself never propagates service-call
// errors: every outcome resolves into a CallResult handed to the sink.
func (c *Coordinator) Refresh(ctx context.Context) (*CallResult, error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil, ErrCoordinatorStopped
	}
	if c.inFlight {
		c.mu.Unlock()
		c.logger.WithField("action_id", c.actionID).Debug("Refresh requested while call in flight, coalescing")
		return nil, ErrRefreshInFlight
	}
	c.inFlight = true
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	priorFailures := c.state.ConsecutiveFailures
	c.mu.Unlock()

	started := time.Now()
	result := c.attempt(ctx, priorFailures)
	result.Duration = time.Since(started)

	c.mu.Lock()
	c.applyResult(result)
	state := c.state
	c.scheduleRetryLocked(result)
	c.inFlight = false
	c.mu.Unlock()

	if c.sink != nil {
		c.sink.HandleResult(result, state)
	}
	return result, nil
}

// Stop cancels any pending retry and prevents further refreshes. An
// in-flight call is abandoned; retry state is only written after a call
// resolves, so no partial state results.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

// attempt runs one service call and resolves it into a CallResult.
// priorFailures is the failure count before this attempt, used for the
// structural-absence threshold.
func (c *Coordinator) attempt(ctx context.Context, priorFailures int) *CallResult {
	serviceName := c.Service()

	has, err := c.caller.HasService(ctx, c.domain, c.service)
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"action_id": c.actionID,
			"service":   serviceName,
		}).Warn("Failed to check service availability")
		return c.failure(err.Error(), Classify(err.Error()))
	}

	if !has {
		// The service may belong to an integration that is still loading,
		// so the first few misses count as temporary. The classifier is
		// deliberately bypassed here: the message contains "not found" but
		// the threshold decides.
		kind := ErrorKindTemporary
		if priorFailures >= MaxServiceMissingRetries {
			kind = ErrorKindPermanent
		}
		c.logger.WithFields(logrus.Fields{
			"action_id": c.actionID,
			"service":   serviceName,
			"attempt":   priorFailures + 1,
		}).Warn("Service not found")
		return c.failure(fmt.Sprintf("service %s not found", serviceName), kind)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	c.logger.WithFields(logrus.Fields{
		"action_id": c.actionID,
		"service":   serviceName,
	}).Debug("Calling service")

	response, err := c.caller.CallServiceWithResponse(callCtx, c.domain, c.service, c.data)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			c.logger.WithFields(logrus.Fields{
				"action_id": c.actionID,
				"service":   serviceName,
				"attempt":   priorFailures + 1,
			}).Warn("Service call timed out")
			return c.failure("service call timed out", ErrorKindTemporary)
		}

		kind := Classify(err.Error())
		entry := c.logger.WithError(err).WithFields(logrus.Fields{
			"action_id":  c.actionID,
			"service":    serviceName,
			"error_kind": string(kind),
			"attempt":    priorFailures + 1,
		})
		if kind == ErrorKindPermanent {
			entry.Error("Service call failed")
		} else {
			entry.Warn("Service call failed, will retry")
		}
		return c.failure(err.Error(), kind)
	}

	return &CallResult{
		ID:        uuid.New().String(),
		ActionID:  c.actionID,
		Success:   true,
		Response:  response,
		Timestamp: time.Now().UTC(),
	}
}

func (c *Coordinator) failure(message string, kind ErrorKind) *CallResult {
	return &CallResult{
		ID:           uuid.New().String(),
		ActionID:     c.actionID,
		Success:      false,
		ErrorMessage: message,
		ErrorKind:    kind,
		Timestamp:    time.Now().UTC(),
	}
}

// applyResult folds a resolved attempt into the retry state. Caller holds
// the mutex.
func (c *Coordinator) applyResult(result *CallResult) {
	c.lastResult = result

	if result.Success {
		now := result.Timestamp
		c.state = RetryState{
			LastErrorKind:   ErrorKindUnknown,
			LastSuccessTime: &now,
		}
		return
	}

	c.state.ConsecutiveFailures++
	c.state.IsRetrying = result.ErrorKind.Retryable()
	c.state.LastErrorKind = result.ErrorKind
	c.state.LastError = result.ErrorMessage
}

// scheduleRetryLocked arms the backoff timer after a retryable failure.
// Caller holds the mutex.
func (c *Coordinator) scheduleRetryLocked(result *CallResult) {
	if c.stopped || result.Success || !result.ErrorKind.Retryable() {
		return
	}

	delay := RetryDelay(c.state.ConsecutiveFailures)
	c.logger.WithFields(logrus.Fields{
		"action_id":            c.actionID,
		"consecutive_failures": c.state.ConsecutiveFailures,
		"retry_in":             delay.String(),
	}).Info("Scheduling retry")

	c.retryTimer = time.AfterFunc(delay, func() {
		if _, err := c.Refresh(context.Background()); err != nil &&
			!errors.Is(err, ErrRefreshInFlight) && !errors.Is(err, ErrCoordinatorStopped) {
			c.logger.WithError(err).WithField("action_id", c.actionID).Error("Scheduled retry failed")
		}
	})
}
