package trigger

import (
	"context"

	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/protocol"
)

// WebhookKey is the context key holding the request that fired a webhook trigger.
const WebhookKey = "webhook"

// WebhookPayload builds the initial context of a run fired through a webhook.
func WebhookPayload(body any, headers map[string]string, query map[string]string) models.Context {
	return models.Context{
		WebhookKey: map[string]any{
			"body":    body,
			"headers": headers,
			"query":   query,
		},
	}
}

// WebhookExecutor handles WEBHOOK_TRIGGER nodes.
type WebhookExecutor struct{}

func NewWebhook() *WebhookExecutor {
	return &WebhookExecutor{}
}

func (e *WebhookExecutor) Type() models.NodeType {
	return models.NodeTypeWebhookTrigger
}

func (e *WebhookExecutor) Channel() string {
	return models.NodeTypeWebhookTrigger.Channel()
}

func (e *WebhookExecutor) Outputs(map[string]any) []models.OutputDeclaration {
	return []models.OutputDeclaration{{Name: WebhookKey, Type: "object"}}
}

func (e *WebhookExecutor) Schema() map[string]any {
	return map[string]any{
		"type": "object",
	}
}

func (e *WebhookExecutor) Execute(ctx context.Context, params protocol.ExecuteParams) (models.Context, error) {
	return protocol.Track(ctx, params, func() (models.Context, error) {
		return seed(params.Context, WebhookKey), nil
	})
}
