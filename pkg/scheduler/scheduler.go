// Package scheduler fires workflows holding a SCHEDULE_TRIGGER node on their
// cron expression.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/nodebase/pkg/events"
	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/nodes/trigger"
	"github.com/robfig/cron/v3"
)

const defaultRefreshInterval = time.Minute

// WorkflowSource reads scheduled workflows from storage.
type WorkflowSource interface {
	ByID(ctx context.Context, id string) (*models.Workflow, error)
	WorkflowsWithNodeType(ctx context.Context, t models.NodeType) ([]*models.Workflow, error)
}

// Dispatcher queues a run of a workflow.
type Dispatcher interface {
	Dispatch(ctx context.Context, workflow *models.Workflow, source events.Source, initialData map[string]any) (*events.WorkflowExecutionRequested, error)
}

type entry struct {
	id   cron.EntryID
	expr string
}

// Scheduler keeps one cron entry per SCHEDULE_TRIGGER node. Entries are
// reconciled with storage on every refresh, so saved or deleted workflows
// are picked up without a restart.
type Scheduler struct {
	workflows  WorkflowSource
	dispatcher Dispatcher
	logger     *slog.Logger
	cron       *cron.Cron
	refresh    time.Duration
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]entry
}

type Option func(*Scheduler)

// WithRefreshInterval sets how often schedules are reloaded from storage.
func WithRefreshInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.refresh = d
		}
	}
}

func New(workflows WorkflowSource, dispatcher Dispatcher, logger *slog.Logger, opts ...Option) *Scheduler {
	logger = logger.With("module", "scheduler")
	cronLog := cronLogger{logger: logger}

	s := &Scheduler{
		workflows:  workflows,
		dispatcher: dispatcher,
		logger:     logger,
		refresh:    defaultRefreshInterval,
		now:        time.Now,
		entries:    make(map[string]entry),
		cron: cron.New(
			cron.WithLogger(cronLog),
			cron.WithChain(
				cron.SkipIfStillRunning(cronLog),
				cron.Recover(cronLog),
			),
		),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start syncs schedules and runs the cron loop until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	err := s.Sync(ctx)
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "Scheduler started", "refresh_interval", s.refresh)

	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			<-s.cron.Stop().Done()
			s.logger.InfoContext(ctx, "Scheduler stopped")

			return nil
		case <-ticker.C:
			err := s.Sync(ctx)
			if err != nil {
				s.logger.ErrorContext(ctx, "Failed to sync schedules", "error", err)
			}
		}
	}
}

// Sync reconciles cron entries with the SCHEDULE_TRIGGER nodes in storage.
// Nodes with an invalid expression are logged and skipped.
func (s *Scheduler) Sync(ctx context.Context) error {
	workflows, err := s.workflows.WorkflowsWithNodeType(ctx, models.NodeTypeScheduleTrigger)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})

	for _, workflow := range workflows {
		for _, node := range workflow.NodesOfType(models.NodeTypeScheduleTrigger) {
			key := workflow.ID + "/" + node.ID

			schedule, expr, err := trigger.ParseSchedule(node.ID, node.Data)
			if err != nil {
				s.logger.WarnContext(ctx, "Skipping invalid schedule",
					"workflow_id", workflow.ID,
					"node_id", node.ID,
					"error", err,
				)

				continue
			}

			seen[key] = struct{}{}

			if current, ok := s.entries[key]; ok {
				if current.expr == expr {
					continue
				}

				s.cron.Remove(current.id)
			}

			id := s.cron.Schedule(schedule, cron.FuncJob(s.fire(workflow.ID, node.ID, expr)))
			s.entries[key] = entry{id: id, expr: expr}

			s.logger.InfoContext(ctx, "Schedule registered",
				"workflow_id", workflow.ID,
				"node_id", node.ID,
				"cron", expr,
			)
		}
	}

	for key, current := range s.entries {
		if _, ok := seen[key]; ok {
			continue
		}

		s.cron.Remove(current.id)
		delete(s.entries, key)

		s.logger.InfoContext(ctx, "Schedule removed", "key", key)
	}

	return nil
}

// Len returns the number of registered schedules.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

func (s *Scheduler) fire(workflowID, nodeID, expr string) func() {
	return func() {
		s.Fire(context.Background(), workflowID, nodeID, expr)
	}
}

// Fire queues a run of the workflow as if its schedule had ticked. The
// workflow is reloaded so the run uses the latest stored owner.
func (s *Scheduler) Fire(ctx context.Context, workflowID, nodeID, expr string) {
	logger := s.logger.With("workflow_id", workflowID, "node_id", nodeID)

	workflow, err := s.workflows.ByID(ctx, workflowID)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to load scheduled workflow", "error", err)

		return
	}

	if _, ok := workflow.NodeByID(nodeID); !ok {
		logger.WarnContext(ctx, "Schedule trigger no longer exists")

		return
	}

	event, err := s.dispatcher.Dispatch(ctx, workflow, events.SourceSchedule, trigger.SchedulePayload(expr, s.now()))
	if err != nil {
		logger.ErrorContext(ctx, "Failed to dispatch scheduled run", "error", err)

		return
	}

	logger.InfoContext(ctx, "Scheduled run dispatched", "event_id", event.ID)
}
