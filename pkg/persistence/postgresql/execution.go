package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/persistence"
)

// ExecutionRepository handles workflow runs and their log rows.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

func (r *ExecutionRepository) CreateExecution(ctx context.Context, execution *models.WorkflowExecution) error {
	triggerJSON, err := marshalObject(execution.TriggerData)
	if err != nil {
		return persistence.NewExecutionError("CreateExecution", execution.ID, err)
	}

	query := `
		INSERT INTO workflow_executions (id, workflow_id, status, trigger_data, started_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		string(execution.Status),
		triggerJSON,
		execution.StartedAt,
	)
	if isForeignKeyViolation(err) {
		return persistence.NewExecutionError("CreateExecution", execution.ID, persistence.ErrWorkflowNotFound)
	}

	if err != nil {
		return persistence.NewExecutionError("CreateExecution", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) FinishExecution(ctx context.Context, execution *models.WorkflowExecution) error {
	err := finishExecution(ctx, r.db, execution)
	if err != nil {
		return persistence.NewExecutionError("FinishExecution", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) CreateLog(ctx context.Context, log *models.ExecutionLog) error {
	inputJSON, err := marshalObject(log.InputContext)
	if err != nil {
		return persistence.NewLogError("CreateLog", log.ExecutionID, log.NodeID, err)
	}

	query := `
		INSERT INTO execution_logs (id, execution_id, node_id, node_type, status, input_context, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.db.ExecContext(ctx, query,
		log.ID,
		log.ExecutionID,
		log.NodeID,
		string(log.NodeType),
		string(log.Status),
		inputJSON,
		log.StartedAt,
	)
	if isForeignKeyViolation(err) {
		return persistence.NewLogError("CreateLog", log.ExecutionID, log.NodeID, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return persistence.NewLogError("CreateLog", log.ExecutionID, log.NodeID, err)
	}

	return nil
}

func (r *ExecutionRepository) CompleteLog(ctx context.Context, log *models.ExecutionLog) error {
	err := finishLog(ctx, r.db, log)
	if err != nil {
		return persistence.NewLogError("CompleteLog", log.ExecutionID, log.NodeID, err)
	}

	return nil
}

// FailStep marks the log row and the execution FAILED in one transaction.
func (r *ExecutionRepository) FailStep(ctx context.Context, log *models.ExecutionLog, execution *models.WorkflowExecution) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	err = finishLog(ctx, tx, log)
	if err != nil {
		return persistence.NewLogError("FailStep", log.ExecutionID, log.NodeID, err)
	}

	err = finishExecution(ctx, tx, execution)
	if err != nil {
		return persistence.NewExecutionError("FailStep", execution.ID, err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *ExecutionRepository) ExecutionByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	query := `
		SELECT
			id
		  , workflow_id
		  , status
		  , trigger_data
		  , output
		  , error
		  , started_at
		  , completed_at
		FROM workflow_executions
		WHERE id = $1
	`

	execution, err := scanExecution(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewExecutionError("ExecutionByID", id, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, persistence.NewExecutionError("ExecutionByID", id, err)
	}

	return execution, nil
}

func (r *ExecutionRepository) ExecutionsByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	query := `
		SELECT
			id
		  , workflow_id
		  , status
		  , trigger_data
		  , output
		  , error
		  , started_at
		  , completed_at
		FROM workflow_executions
		WHERE workflow_id = $1
		ORDER BY started_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	return executions, rows.Err()
}

func (r *ExecutionRepository) LogsByExecution(ctx context.Context, executionID string) ([]*models.ExecutionLog, error) {
	var exists bool

	err := r.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM workflow_executions WHERE id = $1)", executionID).Scan(&exists)
	if err != nil {
		return nil, persistence.NewExecutionError("LogsByExecution", executionID, err)
	}

	if !exists {
		return nil, persistence.NewExecutionError("LogsByExecution", executionID, persistence.ErrExecutionNotFound)
	}

	query := `
		SELECT
			id
		  , execution_id
		  , node_id
		  , node_type
		  , status
		  , input_context
		  , output_context
		  , error
		  , started_at
		  , completed_at
		FROM execution_logs
		WHERE execution_id = $1
		ORDER BY seq
	`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution logs: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	logs := make([]*models.ExecutionLog, 0)

	for rows.Next() {
		var (
			log        models.ExecutionLog
			nodeType   string
			status     string
			inputJSON  []byte
			outputJSON []byte
			completed  sql.NullTime
		)

		err := rows.Scan(&log.ID, &log.ExecutionID, &log.NodeID, &nodeType, &status, &inputJSON, &outputJSON, &log.Error, &log.StartedAt, &completed)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution log: %w", err)
		}

		log.NodeType = models.NodeType(nodeType)
		log.Status = models.LogStatus(status)

		if log.InputContext, err = unmarshalContext(inputJSON); err != nil {
			return nil, err
		}

		if log.OutputContext, err = unmarshalContext(outputJSON); err != nil {
			return nil, err
		}

		if completed.Valid {
			log.CompletedAt = &completed.Time
		}

		logs = append(logs, &log)
	}

	return logs, rows.Err()
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func finishLog(ctx context.Context, db execer, log *models.ExecutionLog) error {
	outputJSON, err := marshalContext(log.OutputContext)
	if err != nil {
		return err
	}

	query := `
		UPDATE execution_logs
		SET status = $2, output_context = $3, error = $4, completed_at = $5
		WHERE id = $1 AND status = 'RUNNING'
	`

	result, err := db.ExecContext(ctx, query, log.ID, string(log.Status), outputJSON, log.Error, log.CompletedAt)
	if err != nil {
		return err
	}

	return expectOneRow(result, persistence.ErrLogFinished)
}

func finishExecution(ctx context.Context, db execer, execution *models.WorkflowExecution) error {
	outputJSON, err := marshalContext(execution.Output)
	if err != nil {
		return err
	}

	query := `
		UPDATE workflow_executions
		SET status = $2, output = $3, error = $4, completed_at = $5
		WHERE id = $1 AND status NOT IN ('COMPLETED', 'FAILED')
	`

	result, err := db.ExecContext(ctx, query, execution.ID, string(execution.Status), outputJSON, execution.Error, execution.CompletedAt)
	if err != nil {
		return err
	}

	return expectOneRow(result, persistence.ErrExecutionFinished)
}

func expectOneRow(result sql.Result, otherwise error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return otherwise
	}

	return nil
}

func scanExecution(scanner interface {
	Scan(dest ...any) error
}) (*models.WorkflowExecution, error) {
	var (
		execution   models.WorkflowExecution
		status      string
		triggerJSON []byte
		outputJSON  []byte
		completed   sql.NullTime
	)

	err := scanner.Scan(&execution.ID, &execution.WorkflowID, &status, &triggerJSON, &outputJSON, &execution.Error, &execution.StartedAt, &completed)
	if err != nil {
		return nil, err
	}

	execution.Status = models.ExecutionStatus(status)

	trigger, err := unmarshalContext(triggerJSON)
	if err != nil {
		return nil, err
	}

	execution.TriggerData = trigger

	if execution.Output, err = unmarshalContext(outputJSON); err != nil {
		return nil, err
	}

	if completed.Valid {
		execution.CompletedAt = &completed.Time
	}

	return &execution, nil
}

// marshalContext encodes a context as JSONB. A nil context is stored as NULL.
func marshalContext[T ~map[string]any](value T) ([]byte, error) {
	if value == nil {
		return nil, nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal context: %w", err)
	}

	return data, nil
}

// marshalObject encodes a context for a NOT NULL column. A nil context is stored as {}.
func marshalObject[T ~map[string]any](value T) ([]byte, error) {
	if value == nil {
		return []byte("{}"), nil
	}

	return marshalContext(value)
}

func unmarshalContext(data []byte) (models.Context, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var value models.Context

	err := json.Unmarshal(data, &value)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal context: %w", err)
	}

	return value, nil
}
