package database

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/frostdev-ops/action-result-bridge/internal/core/actions"
)

// ResultRecord is the stored form of one service call attempt
type ResultRecord struct {
	ID           string         `db:"id"`
	ActionID     string         `db:"action_id"`
	Success      bool           `db:"success"`
	Response     sql.NullString `db:"response"` // JSON
	ErrorMessage sql.NullString `db:"error_message"`
	ErrorKind    sql.NullString `db:"error_kind"`
	CreatedAt    time.Time      `db:"created_at"`
}

// NewResultRecord converts a resolved attempt into its stored form
func NewResultRecord(result *actions.CallResult) (*ResultRecord, error) {
	record := &ResultRecord{
		ID:        result.ID,
		ActionID:  result.ActionID,
		Success:   result.Success,
		CreatedAt: result.Timestamp,
	}

	if result.Success {
		if result.Response != nil {
			raw, err := json.Marshal(result.Response)
			if err != nil {
				return nil, err
			}
			record.Response = sql.NullString{String: string(raw), Valid: true}
		}
		return record, nil
	}

	record.ErrorMessage = sql.NullString{String: result.ErrorMessage, Valid: true}
	record.ErrorKind = sql.NullString{String: string(result.ErrorKind), Valid: true}
	return record, nil
}

// ToCallResult converts a stored record back into a CallResult
func (r *ResultRecord) ToCallResult() (*actions.CallResult, error) {
	result := &actions.CallResult{
		ID:        r.ID,
		ActionID:  r.ActionID,
		Success:   r.Success,
		Timestamp: r.CreatedAt,
	}

	if r.Response.Valid {
		var response interface{}
		if err := json.Unmarshal([]byte(r.Response.String), &response); err != nil {
			return nil, err
		}
		result.Response = response
	}
	if r.ErrorMessage.Valid {
		result.ErrorMessage = r.ErrorMessage.String
	}
	if r.ErrorKind.Valid {
		result.ErrorKind = actions.ErrorKind(r.ErrorKind.String)
	}
	return result, nil
}
