package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frostdev-ops/action-result-bridge/internal/adapters/homeassistant"
	"github.com/frostdev-ops/action-result-bridge/internal/config"
	"github.com/frostdev-ops/action-result-bridge/internal/core/actions"
)

type publishedState struct {
	entityID   string
	state      string
	attributes map[string]interface{}
}

type fakeHA struct {
	mu        sync.Mutex
	response  interface{}
	callErr   error
	calls     int
	published []publishedState
	events    chan homeassistant.StateChangeEvent
}

func newFakeHA(response interface{}) *fakeHA {
	return &fakeHA{
		response: response,
		events:   make(chan homeassistant.StateChangeEvent, 16),
	}
}

func (f *fakeHA) HasService(ctx context.Context, domain, service string) (bool, error) {
	return true, nil
}

func (f *fakeHA) GetState(ctx context.Context, entityID string) (*homeassistant.EntityState, error) {
	return &homeassistant.EntityState{EntityID: entityID, State: "off"}, nil
}

func (f *fakeHA) CallServiceWithResponse(ctx context.Context, domain, service string, data map[string]interface{}) (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.callErr != nil {
		return nil, f.callErr
	}
	return f.response, nil
}

func (f *fakeHA) SetState(ctx context.Context, entityID string, state string, attributes map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedState{entityID: entityID, state: state, attributes: attributes})
	return nil
}

func (f *fakeHA) StartEventStream(ctx context.Context) error { return nil }

func (f *fakeHA) Events() <-chan homeassistant.StateChangeEvent { return f.events }

func (f *fakeHA) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeHA) lastPublished() (publishedState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.published) == 0 {
		return publishedState{}, false
	}
	return f.published[len(f.published)-1], true
}

type memoryRepo struct {
	mu     sync.Mutex
	saved  []*actions.CallResult
	purged []time.Time
}

func (r *memoryRepo) Save(ctx context.Context, result *actions.CallResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, result)
	return nil
}

func (r *memoryRepo) GetLatest(ctx context.Context, actionID string) (*actions.CallResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.saved) - 1; i >= 0; i-- {
		if r.saved[i].ActionID == actionID {
			return r.saved[i], nil
		}
	}
	return nil, nil
}

func (r *memoryRepo) ListByAction(ctx context.Context, actionID string, limit int) ([]*actions.CallResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*actions.CallResult
	for i := len(r.saved) - 1; i >= 0; i-- {
		if r.saved[i].ActionID == actionID {
			out = append(out, r.saved[i])
		}
	}
	return out, nil
}

func (r *memoryRepo) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purged = append(r.purged, olderThan)
	return 0, nil
}

func (r *memoryRepo) savedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saved)
}

func testConfig(actionCfgs ...config.ActionConfig) *config.Config {
	cfg := &config.Config{
		HomeAssistant: config.HomeAssistantConfig{
			URL:   "http://homeassistant.local:8123",
			Token: "token",
		},
		Actions: actionCfgs,
	}
	for i := range cfg.Actions {
		action := &cfg.Actions[i]
		if action.UpdateMode == "" {
			action.UpdateMode = config.UpdateModeManual
		}
		if action.ScanInterval <= 0 {
			action.ScanInterval = config.DefaultScanIntervalSeconds
		}
		if action.AttributeName == "" {
			action.AttributeName = config.DefaultAttributeName
		}
		if action.Name == "" {
			action.Name = action.ID
		}
		if action.TargetEntity == "" {
			action.TargetEntity = "sensor." + action.ID
		}
	}
	return cfg
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestManager_ManualRefreshPersistsAndPublishes(t *testing.T) {
	ha := newFakeHA(map[string]interface{}{
		"stdout": "42",
		"nested": map[string]interface{}{"value": float64(7)},
	})
	repo := &memoryRepo{}

	cfg := testConfig(config.ActionConfig{
		ID:           "disk_check",
		Action:       "shell_command.check_disk",
		UpdateMode:   config.UpdateModeManual,
		ResponsePath: "nested.value",
	})

	manager, err := NewManager(cfg, ha, repo, nil, testLogger())
	require.NoError(t, err)
	defer manager.Stop()

	result, err := manager.Refresh(context.Background(), "disk_check")
	require.NoError(t, err)
	require.True(t, result.Success)

	require.Equal(t, 1, repo.savedCount())

	published, ok := ha.lastPublished()
	require.True(t, ok)
	assert.Equal(t, "sensor.disk_check", published.entityID)
	assert.Equal(t, StateOK, published.state)
	assert.Equal(t, float64(7), published.attributes["data"])
	assert.Equal(t, "shell_command.check_disk", published.attributes["service"])
	assert.Equal(t, true, published.attributes["success"])
	assert.Equal(t, 0, published.attributes["consecutive_errors"])

	// Shutdown marks the target entity unavailable.
	manager.Stop()
	published, ok = ha.lastPublished()
	require.True(t, ok)
	assert.Equal(t, StateUnavailable, published.state)
}

func TestManager_RefreshUnknownAction(t *testing.T) {
	manager, err := NewManager(testConfig(), newFakeHA(nil), &memoryRepo{}, nil, testLogger())
	require.NoError(t, err)
	defer manager.Stop()

	_, err = manager.Refresh(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrActionNotFound)
}

func TestManager_PublishesRetryingStateOnTemporaryFailure(t *testing.T) {
	ha := newFakeHA(nil)
	ha.callErr = errors.New("connection refused")

	cfg := testConfig(config.ActionConfig{
		ID:     "flaky",
		Action: "rest_command.fetch",
	})

	manager, err := NewManager(cfg, ha, &memoryRepo{}, nil, testLogger())
	require.NoError(t, err)
	defer manager.Stop()

	result, err := manager.Refresh(context.Background(), "flaky")
	require.NoError(t, err)
	require.False(t, result.Success)
	assert.Equal(t, actions.ErrorKindTemporary, result.ErrorKind)

	published, ok := ha.lastPublished()
	require.True(t, ok)
	assert.Equal(t, StateRetrying, published.state)
	assert.Equal(t, "connection refused", published.attributes["error_message"])
	assert.Equal(t, string(actions.ErrorKindTemporary), published.attributes["error_type"])
	assert.Equal(t, 30, published.attributes["retry_delay_seconds"])
	assert.Equal(t, 1, published.attributes["consecutive_errors"])
}

func TestManager_PublishesErrorStateOnPermanentFailure(t *testing.T) {
	ha := newFakeHA(nil)
	ha.callErr = errors.New("401 unauthorized")

	cfg := testConfig(config.ActionConfig{
		ID:     "locked_out",
		Action: "rest_command.fetch",
	})

	manager, err := NewManager(cfg, ha, &memoryRepo{}, nil, testLogger())
	require.NoError(t, err)
	defer manager.Stop()

	result, err := manager.Refresh(context.Background(), "locked_out")
	require.NoError(t, err)
	require.False(t, result.Success)

	published, ok := ha.lastPublished()
	require.True(t, ok)
	assert.Equal(t, StateError, published.state)
	assert.Equal(t, string(actions.ErrorKindPermanent), published.attributes["error_type"])
	_, hasDelay := published.attributes["retry_delay_seconds"]
	assert.False(t, hasDelay)
}

func TestManager_StateTriggerMatching(t *testing.T) {
	ha := newFakeHA(map[string]interface{}{"ok": true})

	cfg := testConfig(config.ActionConfig{
		ID:         "door_report",
		Action:     "script.door_report",
		UpdateMode: config.UpdateModeStateTrigger,
		Trigger: config.TriggerConfig{
			Entity: "binary_sensor.front_door",
			To:     "on",
		},
	})

	manager, err := NewManager(cfg, ha, &memoryRepo{}, nil, testLogger())
	require.NoError(t, err)
	require.NoError(t, manager.Start(context.Background()))
	defer manager.Stop()

	// Start fires the initial refresh.
	require.Eventually(t, func() bool { return ha.callCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	// Wrong entity and filtered transitions are ignored.
	ha.events <- homeassistant.StateChangeEvent{EntityID: "binary_sensor.back_door", OldState: "off", NewState: "on"}
	ha.events <- homeassistant.StateChangeEvent{EntityID: "binary_sensor.front_door", OldState: "on", NewState: "off"}

	ha.events <- homeassistant.StateChangeEvent{EntityID: "binary_sensor.front_door", OldState: "off", NewState: "on"}
	require.Eventually(t, func() bool { return ha.callCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	// Give the ignored events a chance to (incorrectly) fire.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, ha.callCount())
}

func TestManager_ActionStatuses(t *testing.T) {
	ha := newFakeHA(map[string]interface{}{"ok": true})

	cfg := testConfig(
		config.ActionConfig{ID: "first", Action: "script.first"},
		config.ActionConfig{ID: "second", Action: "script.second"},
	)

	manager, err := NewManager(cfg, ha, &memoryRepo{}, nil, testLogger())
	require.NoError(t, err)
	defer manager.Stop()

	statuses := manager.ActionStatuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, "first", statuses[0].ID)
	assert.Equal(t, "second", statuses[1].ID)
	assert.Nil(t, statuses[0].LastResult)

	_, err = manager.Refresh(context.Background(), "first")
	require.NoError(t, err)

	status, err := manager.ActionStatus("first")
	require.NoError(t, err)
	require.NotNil(t, status.LastResult)
	assert.True(t, status.LastResult.Success)
	assert.Equal(t, "script.first", status.Service)

	_, err = manager.ActionStatus("missing")
	assert.ErrorIs(t, err, ErrActionNotFound)
}

func TestManager_PurgeRunsWhenRetentionConfigured(t *testing.T) {
	ha := newFakeHA(map[string]interface{}{"ok": true})
	repo := &memoryRepo{}

	cfg := testConfig(config.ActionConfig{ID: "tick", Action: "script.tick"})
	cfg.Database.RetentionDays = 7

	manager, err := NewManager(cfg, ha, repo, nil, testLogger())
	require.NoError(t, err)
	require.NoError(t, manager.Start(context.Background()))
	defer manager.Stop()

	require.Eventually(t, func() bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		return len(repo.purged) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	repo.mu.Lock()
	cutoff := repo.purged[0]
	repo.mu.Unlock()
	assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, -7), cutoff, time.Minute)
}
