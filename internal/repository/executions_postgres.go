package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"talentgrid/backend/internal/workflow"
)

// PostgresExecutionStore keeps workflow execution records in the
// workflow_executions table.
type PostgresExecutionStore struct {
	db *pgxpool.Pool
}

// NewPostgresExecutionStore creates a PostgresExecutionStore.
func NewPostgresExecutionStore(db *pgxpool.Pool) *PostgresExecutionStore {
	return &PostgresExecutionStore{db: db}
}

const executionColumns = "id, workflow_id, workflow_key, tenant_id, user_id, status, start_time, end_time, current_step, step_results, errors, metadata"

// SaveExecution upserts exec.
func (s *PostgresExecutionStore) SaveExecution(ctx context.Context, exec *workflow.WorkflowExecution) error {
	steps, err := marshalJSON(exec.StepResults, "[]")
	if err != nil {
		return fmt.Errorf("encode step results: %w", err)
	}
	errs, err := marshalJSON(exec.Errors, "[]")
	if err != nil {
		return fmt.Errorf("encode errors: %w", err)
	}
	md, err := marshalJSON(exec.Metadata, "{}")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO workflow_executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			end_time = EXCLUDED.end_time,
			current_step = EXCLUDED.current_step,
			step_results = EXCLUDED.step_results,
			errors = EXCLUDED.errors,
			metadata = EXCLUDED.metadata`,
		exec.ID, exec.WorkflowID, exec.WorkflowKey, exec.TenantID, exec.UserID, string(exec.Status),
		exec.StartTime, exec.EndTime, exec.CurrentStep, steps, errs, md)
	if err != nil {
		return fmt.Errorf("save execution %s: %w", exec.ID, err)
	}
	return nil
}

// GetExecution retrieves the record with id.
func (s *PostgresExecutionStore) GetExecution(ctx context.Context, id string) (*workflow.WorkflowExecution, error) {
	exec, err := scanExecution(s.db.QueryRow(ctx, "SELECT "+executionColumns+" FROM workflow_executions WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", workflow.ErrExecutionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get execution %s: %w", id, err)
	}
	return exec, nil
}

// ListExecutions returns the records of tenantID, or every record when
// tenantID is empty.
func (s *PostgresExecutionStore) ListExecutions(ctx context.Context, tenantID string) ([]*workflow.WorkflowExecution, error) {
	query := "SELECT " + executionColumns + " FROM workflow_executions"
	var args []any
	if tenantID != "" {
		query += " WHERE tenant_id = $1"
		args = append(args, tenantID)
	}
	query += " ORDER BY start_time"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var execs []*workflow.WorkflowExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

// DeleteExecution removes the record with id.
func (s *PostgresExecutionStore) DeleteExecution(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, "DELETE FROM workflow_executions WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete execution %s: %w", id, err)
	}
	return nil
}

func scanExecution(row pgx.Row) (*workflow.WorkflowExecution, error) {
	var (
		exec                workflow.WorkflowExecution
		status              string
		endTime             *time.Time
		steps, errs, mdJSON []byte
	)
	if err := row.Scan(&exec.ID, &exec.WorkflowID, &exec.WorkflowKey, &exec.TenantID, &exec.UserID, &status,
		&exec.StartTime, &endTime, &exec.CurrentStep, &steps, &errs, &mdJSON); err != nil {
		return nil, err
	}
	exec.Status = workflow.ExecutionStatus(status)
	exec.EndTime = endTime
	if err := json.Unmarshal(steps, &exec.StepResults); err != nil {
		return nil, fmt.Errorf("decode step results: %w", err)
	}
	if err := json.Unmarshal(errs, &exec.Errors); err != nil {
		return nil, fmt.Errorf("decode errors: %w", err)
	}
	if err := json.Unmarshal(mdJSON, &exec.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if exec.Metadata == nil {
		exec.Metadata = map[string]any{}
	}
	return &exec, nil
}

// marshalJSON encodes v, substituting empty for nil values.
func marshalJSON(v any, empty string) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return []byte(empty), nil
	}
	return b, nil
}
