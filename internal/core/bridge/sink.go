package bridge

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/action-result-bridge/internal/config"
	"github.com/frostdev-ops/action-result-bridge/internal/core/actions"
	"github.com/frostdev-ops/action-result-bridge/internal/database"
	"github.com/frostdev-ops/action-result-bridge/internal/metrics"
)

// resultSink handles every resolved attempt for one action: persist the
// row, update the metrics, and publish the outcome back to Home Assistant
// as entity state. Failures here are logged but never affect the retry
// state of the action itself.
type resultSink struct {
	action    config.ActionConfig
	service   string
	ha        HomeAssistant
	results   database.ResultRepository
	collector *metrics.Collector
	logger    *logrus.Logger
}

func (s *resultSink) HandleResult(result *actions.CallResult, state actions.RetryState) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if s.results != nil {
		if err := s.results.Save(ctx, result); err != nil {
			s.logger.WithError(err).WithField("action_id", s.action.ID).Error("Failed to persist result")
		}
	}

	if s.collector != nil {
		s.collector.RecordCall(s.action.ID, result.Success, string(result.ErrorKind), result.Duration)
		delay := time.Duration(0)
		if state.IsRetrying {
			delay = state.NextRetryDelay()
		}
		s.collector.RecordRetryState(s.action.ID, state.ConsecutiveFailures, delay)
	}

	s.publish(ctx, result, state)
}

// publish mirrors the call outcome onto the action's target entity. The
// extracted response lands under the configured attribute name; errors
// carry their message and classification instead.
func (s *resultSink) publish(ctx context.Context, result *actions.CallResult, state actions.RetryState) {
	attributes := map[string]interface{}{
		"friendly_name":      s.action.Name,
		"service":            s.service,
		"success":            result.Success,
		"response_path":      s.action.ResponsePath,
		"last_update":        result.Timestamp.Format(time.RFC3339),
		"consecutive_errors": state.ConsecutiveFailures,
	}

	var entityState string
	switch {
	case result.Success:
		entityState = StateOK
		attributes[s.action.AttributeName] = actions.ExtractPath(result.Response, s.action.ResponsePath)
	case result.ErrorKind.Retryable():
		entityState = StateRetrying
		attributes["error_message"] = result.ErrorMessage
		attributes["error_type"] = string(result.ErrorKind)
		attributes["retry_delay_seconds"] = int(state.NextRetryDelay().Seconds())
	default:
		entityState = StateError
		attributes["error_message"] = result.ErrorMessage
		attributes["error_type"] = string(result.ErrorKind)
	}

	if err := s.ha.SetState(ctx, s.action.TargetEntity, entityState, attributes); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"action_id": s.action.ID,
			"entity_id": s.action.TargetEntity,
		}).Error("Failed to publish entity state")
		return
	}

	s.logger.WithFields(logrus.Fields{
		"action_id": s.action.ID,
		"entity_id": s.action.TargetEntity,
		"state":     entityState,
	}).Debug("Published entity state")
}
