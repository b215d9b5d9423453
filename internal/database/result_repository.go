package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/frostdev-ops/action-result-bridge/internal/core/actions"
)

// ResultRepository persists service call outcomes
type ResultRepository interface {
	Save(ctx context.Context, result *actions.CallResult) error
	GetLatest(ctx context.Context, actionID string) (*actions.CallResult, error)
	ListByAction(ctx context.Context, actionID string, limit int) ([]*actions.CallResult, error)
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
}

type resultRepository struct {
	db *sqlx.DB
}

// NewResultRepository creates a result repository backed by SQLite
func NewResultRepository(db *sqlx.DB) ResultRepository {
	return &resultRepository{db: db}
}

func (r *resultRepository) Save(ctx context.Context, result *actions.CallResult) error {
	record, err := NewResultRecord(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	query := `
		INSERT INTO action_results (id, action_id, success, response, error_message, error_kind, created_at)
		VALUES (:id, :action_id, :success, :response, :error_message, :error_kind, :created_at)`

	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}
	return nil
}

func (r *resultRepository) GetLatest(ctx context.Context, actionID string) (*actions.CallResult, error) {
	var record ResultRecord
	query := `
		SELECT id, action_id, success, response, error_message, error_kind, created_at
		FROM action_results
		WHERE action_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`

	if err := r.db.GetContext(ctx, &record, query, actionID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest result: %w", err)
	}
	return record.ToCallResult()
}

func (r *resultRepository) ListByAction(ctx context.Context, actionID string, limit int) ([]*actions.CallResult, error) {
	if limit <= 0 {
		limit = 50
	}

	var records []ResultRecord
	query := `
		SELECT id, action_id, success, response, error_message, error_kind, created_at
		FROM action_results
		WHERE action_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`

	if err := r.db.SelectContext(ctx, &records, query, actionID, limit); err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}

	results := make([]*actions.CallResult, 0, len(records))
	for i := range records {
		result, err := records[i].ToCallResult()
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

func (r *resultRepository) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM action_results WHERE created_at < ?`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to purge results: %w", err)
	}
	return res.RowsAffected()
}
