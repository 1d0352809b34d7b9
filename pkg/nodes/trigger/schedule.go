package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/protocol"
	"github.com/robfig/cron/v3"
)

// ScheduleKey is the context key holding the tick that fired a schedule trigger.
const ScheduleKey = "schedule"

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses the cron expression of a SCHEDULE_TRIGGER node. An
// optional data.timezone is applied as CRON_TZ.
func ParseSchedule(nodeID string, data map[string]any) (cron.Schedule, string, error) {
	expr, err := protocol.RequireString(nodeID, data, "cron", "Cron expression")
	if err != nil {
		return nil, "", err
	}

	if tz := protocol.OptionalString(data, "timezone", ""); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return nil, "", protocol.NewConfigurationError(nodeID, "timezone", fmt.Sprintf("unknown timezone %q", tz))
		}

		expr = "CRON_TZ=" + tz + " " + expr
	}

	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, "", &protocol.NonRetriableError{
			NodeID:  nodeID,
			Field:   "cron",
			Message: "invalid cron expression",
			Err:     err,
		}
	}

	return schedule, expr, nil
}

// SchedulePayload builds the initial context of a run fired by the scheduler.
func SchedulePayload(expr string, firedAt time.Time) models.Context {
	return models.Context{
		ScheduleKey: map[string]any{
			"cron":     expr,
			"fired_at": firedAt.UTC().Format(time.RFC3339),
		},
	}
}

// ScheduleExecutor handles SCHEDULE_TRIGGER nodes.
type ScheduleExecutor struct{}

func NewSchedule() *ScheduleExecutor {
	return &ScheduleExecutor{}
}

func (e *ScheduleExecutor) Type() models.NodeType {
	return models.NodeTypeScheduleTrigger
}

func (e *ScheduleExecutor) Channel() string {
	return models.NodeTypeScheduleTrigger.Channel()
}

func (e *ScheduleExecutor) Outputs(map[string]any) []models.OutputDeclaration {
	return []models.OutputDeclaration{{Name: ScheduleKey, Type: "object"}}
}

func (e *ScheduleExecutor) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"cron"},
		"properties": map[string]any{
			"cron":     map[string]any{"type": "string", "minLength": 1},
			"timezone": map[string]any{"type": "string"},
		},
	}
}

func (e *ScheduleExecutor) Execute(ctx context.Context, params protocol.ExecuteParams) (models.Context, error) {
	return protocol.Track(ctx, params, func() (models.Context, error) {
		if _, _, err := ParseSchedule(params.NodeID, params.Data); err != nil {
			return nil, err
		}

		return seed(params.Context, ScheduleKey), nil
	})
}
