package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/action-result-bridge/internal/adapters/homeassistant"
	"github.com/frostdev-ops/action-result-bridge/internal/config"
	"github.com/frostdev-ops/action-result-bridge/internal/core/actions"
	"github.com/frostdev-ops/action-result-bridge/internal/database"
	"github.com/frostdev-ops/action-result-bridge/internal/metrics"
)

// Entity states published back to Home Assistant for each action.
const (
	StateOK          = "ok"
	StateRetrying    = "retrying"
	StateError       = "error"
	StateUnavailable = "unavailable"
)

// publishTimeout bounds the sink's persistence and publish work after a
// call resolves.
const publishTimeout = 10 * time.Second

// purgeInterval is how often old results are removed when retention is
// configured.
const purgeInterval = 6 * time.Hour

// ErrActionNotFound is returned for lookups of unconfigured action IDs.
var ErrActionNotFound = errors.New("action not found")

// HomeAssistant is the slice of the Home Assistant client the manager
// needs: calling services, publishing entity state, and streaming state
// changes for trigger-driven actions.
type HomeAssistant interface {
	actions.ServiceCaller
	GetState(ctx context.Context, entityID string) (*homeassistant.EntityState, error)
	SetState(ctx context.Context, entityID string, state string, attributes map[string]interface{}) error
	StartEventStream(ctx context.Context) error
	Events() <-chan homeassistant.StateChangeEvent
}

// ActionStatus is a snapshot of one managed action for the API layer.
type ActionStatus struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Service      string              `json:"service"`
	UpdateMode   string              `json:"update_mode"`
	TargetEntity string              `json:"target_entity"`
	ResponsePath string              `json:"response_path,omitempty"`
	State        actions.RetryState  `json:"state"`
	LastResult   *actions.CallResult `json:"last_result,omitempty"`

	// NextRetryDelaySeconds is set while a retry is pending.
	NextRetryDelaySeconds int `json:"next_retry_delay_seconds,omitempty"`
}

type managedAction struct {
	cfg         config.ActionConfig
	coordinator *actions.Coordinator
}

// Manager owns one coordinator per configured action and wires the three
// refresh sources (cron ticks, manual API requests, watched-entity state
// changes) into them. Every resolved call is persisted, counted, and
// published back to Home Assistant as entity state.
type Manager struct {
	cfg       *config.Config
	ha        HomeAssistant
	results   database.ResultRepository
	collector *metrics.Collector
	logger    *logrus.Logger

	cron    *cron.Cron
	actions map[string]*managedAction
	order   []string

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewManager builds the coordinators for every configured action.
// collector may be nil when metrics are disabled.
func NewManager(cfg *config.Config, ha HomeAssistant, results database.ResultRepository, collector *metrics.Collector, logger *logrus.Logger) (*Manager, error) {
	m := &Manager{
		cfg:       cfg,
		ha:        ha,
		results:   results,
		collector: collector,
		logger:    logger,
		cron:      cron.New(),
		actions:   make(map[string]*managedAction),
		stop:      make(chan struct{}),
	}

	for _, action := range cfg.Actions {
		domain, service, err := action.ServiceInfo()
		if err != nil {
			return nil, fmt.Errorf("action %q: %w", action.ID, err)
		}
		data, err := action.ServiceData()
		if err != nil {
			return nil, fmt.Errorf("action %q: %w", action.ID, err)
		}

		sink := &resultSink{
			action:    action,
			service:   action.Action,
			ha:        ha,
			results:   results,
			collector: collector,
			logger:    logger,
		}
		coordinator := actions.NewCoordinator(action.ID, action.Name, domain, service, data, ha, sink, logger)

		m.actions[action.ID] = &managedAction{cfg: action, coordinator: coordinator}
		m.order = append(m.order, action.ID)
	}

	return m, nil
}

// Start schedules polling actions, subscribes trigger-driven actions to
// the state change stream, and kicks off an initial refresh for every
// action.
func (m *Manager) Start(ctx context.Context) error {
	needsEvents := false

	for _, id := range m.order {
		managed := m.actions[id]
		action := managed.cfg

		switch action.UpdateMode {
		case config.UpdateModePolling:
			actionID := action.ID
			spec := fmt.Sprintf("@every %ds", action.ScanInterval)
			if _, err := m.cron.AddFunc(spec, func() { m.refreshAsync(actionID) }); err != nil {
				return fmt.Errorf("action %q: failed to schedule polling: %w", action.ID, err)
			}
			m.logger.WithFields(logrus.Fields{
				"action_id":     action.ID,
				"scan_interval": action.ScanInterval,
			}).Info("Scheduled polling action")
		case config.UpdateModeStateTrigger:
			needsEvents = true
			// A missing trigger entity is worth a warning but the action
			// stays configured; the entity may appear later.
			if _, err := m.ha.GetState(ctx, action.Trigger.Entity); err != nil {
				m.logger.WithError(err).WithFields(logrus.Fields{
					"action_id":      action.ID,
					"trigger_entity": action.Trigger.Entity,
				}).Warn("Trigger entity not found")
			}
			m.logger.WithFields(logrus.Fields{
				"action_id":      action.ID,
				"trigger_entity": action.Trigger.Entity,
				"trigger_from":   orAny(action.Trigger.From),
				"trigger_to":     orAny(action.Trigger.To),
			}).Info("Set up state trigger action")
		case config.UpdateModeManual:
			m.logger.WithField("action_id", action.ID).Info("Action configured for manual refresh only")
		}
	}

	if needsEvents {
		if err := m.ha.StartEventStream(ctx); err != nil {
			return fmt.Errorf("failed to start event stream: %w", err)
		}
		m.wg.Add(1)
		go m.eventLoop()
	}

	m.cron.Start()

	if m.cfg.Database.RetentionDays > 0 {
		m.wg.Add(1)
		go m.purgeLoop()
	}

	// First refresh for every action, regardless of update mode.
	for _, id := range m.order {
		m.refreshAsync(id)
	}

	return nil
}

// Stop halts scheduling, stops every coordinator, and waits for the
// background loops to drain.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
		m.cron.Stop()
		for _, managed := range m.actions {
			managed.coordinator.Stop()
		}
		m.wg.Wait()
		m.markUnavailable()
		m.logger.Info("Bridge manager stopped")
	})
}

// Refresh runs one attempt for the given action, typically on behalf of
// the API. ErrRefreshInFlight propagates so callers can report the
// coalesced request.
func (m *Manager) Refresh(ctx context.Context, actionID string) (*actions.CallResult, error) {
	managed, ok := m.actions[actionID]
	if !ok {
		return nil, ErrActionNotFound
	}
	return managed.coordinator.Refresh(ctx)
}

// ActionStatuses returns a snapshot of every managed action in
// configuration order.
func (m *Manager) ActionStatuses() []ActionStatus {
	statuses := make([]ActionStatus, 0, len(m.order))
	for _, id := range m.order {
		statuses = append(statuses, m.status(m.actions[id]))
	}
	return statuses
}

// ActionStatus returns a snapshot of one managed action.
func (m *Manager) ActionStatus(actionID string) (ActionStatus, error) {
	managed, ok := m.actions[actionID]
	if !ok {
		return ActionStatus{}, ErrActionNotFound
	}
	return m.status(managed), nil
}

// HasAction reports whether an action ID is configured.
func (m *Manager) HasAction(actionID string) bool {
	_, ok := m.actions[actionID]
	return ok
}

func (m *Manager) status(managed *managedAction) ActionStatus {
	state := managed.coordinator.State()
	status := ActionStatus{
		ID:           managed.cfg.ID,
		Name:         managed.cfg.Name,
		Service:      managed.cfg.Action,
		UpdateMode:   managed.cfg.UpdateMode,
		TargetEntity: managed.cfg.TargetEntity,
		ResponsePath: managed.cfg.ResponsePath,
		State:        state,
		LastResult:   managed.coordinator.LastResult(),
	}
	if state.IsRetrying {
		status.NextRetryDelaySeconds = int(state.NextRetryDelay().Seconds())
	}
	return status
}

// markUnavailable flags every target entity as unavailable so stale
// results are not mistaken for live ones after shutdown.
func (m *Manager) markUnavailable() {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	for _, id := range m.order {
		managed := m.actions[id]
		attributes := map[string]interface{}{
			"friendly_name": managed.cfg.Name,
			"service":       managed.cfg.Action,
		}
		if err := m.ha.SetState(ctx, managed.cfg.TargetEntity, StateUnavailable, attributes); err != nil {
			m.logger.WithError(err).WithField("entity_id", managed.cfg.TargetEntity).Debug("Failed to mark entity unavailable")
		}
	}
}

// refreshAsync fires a refresh without blocking the caller. In-flight
// coalescing and stopped coordinators are expected outcomes, not errors.
func (m *Manager) refreshAsync(actionID string) {
	managed, ok := m.actions[actionID]
	if !ok {
		return
	}
	select {
	case <-m.stop:
		return
	default:
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if _, err := managed.coordinator.Refresh(context.Background()); err != nil &&
			!errors.Is(err, actions.ErrRefreshInFlight) && !errors.Is(err, actions.ErrCoordinatorStopped) {
			m.logger.WithError(err).WithField("action_id", actionID).Error("Refresh failed")
		}
	}()
}

// eventLoop dispatches state change events to trigger-driven actions.
func (m *Manager) eventLoop() {
	defer m.wg.Done()

	events := m.ha.Events()
	for {
		select {
		case <-m.stop:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			m.handleStateChange(event)
		}
	}
}

// handleStateChange refreshes every state_trigger action whose watched
// entity changed and whose from/to filters match. An empty filter matches
// any state.
func (m *Manager) handleStateChange(event homeassistant.StateChangeEvent) {
	for _, id := range m.order {
		managed := m.actions[id]
		trigger := managed.cfg.Trigger

		if managed.cfg.UpdateMode != config.UpdateModeStateTrigger {
			continue
		}
		if trigger.Entity != event.EntityID {
			continue
		}
		if trigger.From != "" && event.OldState != trigger.From {
			continue
		}
		if trigger.To != "" && event.NewState != trigger.To {
			continue
		}

		m.logger.WithFields(logrus.Fields{
			"action_id":      id,
			"trigger_entity": event.EntityID,
			"old_state":      event.OldState,
			"new_state":      event.NewState,
		}).Debug("State trigger activated")
		m.refreshAsync(id)
	}
}

// purgeLoop removes results older than the retention window.
func (m *Manager) purgeLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	m.purgeOldResults()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.purgeOldResults()
		}
	}
}

func (m *Manager) purgeOldResults() {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	cutoff := time.Now().UTC().AddDate(0, 0, -m.cfg.Database.RetentionDays)
	purged, err := m.results.Purge(ctx, cutoff)
	if err != nil {
		m.logger.WithError(err).Error("Failed to purge old results")
		return
	}
	if purged > 0 {
		m.logger.WithFields(logrus.Fields{
			"purged": purged,
			"cutoff": cutoff.Format(time.RFC3339),
		}).Info("Purged old results")
	}
}

func orAny(s string) string {
	if s == "" {
		return "any"
	}
	return s
}
