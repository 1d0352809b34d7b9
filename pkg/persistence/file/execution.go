package file

import (
	"context"
	"sort"

	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/persistence"
)

// executionRecord keeps a run and its log rows in one file so that a node
// step is written with a single atomic rename.
type executionRecord struct {
	Execution *models.WorkflowExecution `json:"execution"`
	Logs      []*models.ExecutionLog    `json:"logs"`
}

// ExecutionRepository handles execution-related file operations.
type ExecutionRepository struct {
	store *Persistence
}

func (er *ExecutionRepository) CreateExecution(_ context.Context, execution *models.WorkflowExecution) error {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	record := executionRecord{Execution: execution, Logs: []*models.ExecutionLog{}}
	if err := er.store.write(executionsDir, execution.ID, record); err != nil {
		return persistence.NewExecutionError("CreateExecution", execution.ID, err)
	}

	return nil
}

func (er *ExecutionRepository) FinishExecution(_ context.Context, execution *models.WorkflowExecution) error {
	return er.update("FinishExecution", execution.ID, func(record *executionRecord) error {
		return finish(record.Execution, execution)
	})
}

func (er *ExecutionRepository) CreateLog(_ context.Context, log *models.ExecutionLog) error {
	return er.update("CreateLog", log.ExecutionID, func(record *executionRecord) error {
		record.Logs = append(record.Logs, log)

		return nil
	})
}

func (er *ExecutionRepository) CompleteLog(_ context.Context, log *models.ExecutionLog) error {
	return er.update("CompleteLog", log.ExecutionID, func(record *executionRecord) error {
		return replaceLog(record, log)
	})
}

func (er *ExecutionRepository) FailStep(_ context.Context, log *models.ExecutionLog, execution *models.WorkflowExecution) error {
	return er.update("FailStep", execution.ID, func(record *executionRecord) error {
		if err := replaceLog(record, log); err != nil {
			return err
		}

		return finish(record.Execution, execution)
	})
}

func (er *ExecutionRepository) ExecutionByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	er.store.mu.RLock()
	defer er.store.mu.RUnlock()

	record, err := er.load("ExecutionByID", id)
	if err != nil {
		return nil, err
	}

	return record.Execution, nil
}

func (er *ExecutionRepository) ExecutionsByWorkflow(_ context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	er.store.mu.RLock()
	defer er.store.mu.RUnlock()

	ids, err := er.store.ids(executionsDir)
	if err != nil {
		return nil, err
	}

	executions := make([]*models.WorkflowExecution, 0)

	for _, id := range ids {
		record, err := er.load("ExecutionsByWorkflow", id)
		if err != nil {
			return nil, err
		}

		if record.Execution.WorkflowID == workflowID {
			executions = append(executions, record.Execution)
		}
	}

	sort.SliceStable(executions, func(i, j int) bool {
		return executions[i].StartedAt.After(executions[j].StartedAt)
	})

	return executions, nil
}

func (er *ExecutionRepository) LogsByExecution(_ context.Context, executionID string) ([]*models.ExecutionLog, error) {
	er.store.mu.RLock()
	defer er.store.mu.RUnlock()

	record, err := er.load("LogsByExecution", executionID)
	if err != nil {
		return nil, err
	}

	return record.Logs, nil
}

func (er *ExecutionRepository) load(op, id string) (*executionRecord, error) {
	var record executionRecord

	err := er.store.read(executionsDir, id, &record)
	if isNotExist(err) {
		return nil, persistence.NewExecutionError(op, id, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, persistence.NewExecutionError(op, id, err)
	}

	return &record, nil
}

// update applies fn to the stored record and writes it back only if fn succeeds.
func (er *ExecutionRepository) update(op, id string, fn func(*executionRecord) error) error {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	record, err := er.load(op, id)
	if err != nil {
		return err
	}

	if err := fn(record); err != nil {
		return persistence.NewExecutionError(op, id, err)
	}

	if err := er.store.write(executionsDir, id, record); err != nil {
		return persistence.NewExecutionError(op, id, err)
	}

	return nil
}

func finish(stored, update *models.WorkflowExecution) error {
	if stored.Status.Terminal() {
		return persistence.ErrExecutionFinished
	}

	stored.Status = update.Status
	stored.Error = update.Error
	stored.Output = update.Output
	stored.CompletedAt = update.CompletedAt

	return nil
}

func replaceLog(record *executionRecord, log *models.ExecutionLog) error {
	for i, stored := range record.Logs {
		if stored.ID != log.ID {
			continue
		}

		if stored.Status != models.LogStatusRunning {
			return persistence.ErrLogFinished
		}

		record.Logs[i] = log

		return nil
	}

	return persistence.ErrLogNotFound
}
