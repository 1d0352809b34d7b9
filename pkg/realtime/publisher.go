// Package realtime publishes node status events to live subscribers.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/protocol"
)

const (
	NodeIDMetadataKey      = "node_id"
	ExecutionIDMetadataKey = "execution_id"
)

const defaultPublishTimeout = 5 * time.Second

var errPublishTimeout = errors.New("publish timed out")

// Publisher sends NodeStatusEvent JSON on the channel of each node type.
// Delivery is best effort: failures are logged and dropped.
type Publisher struct {
	publisher message.Publisher
	logger    *slog.Logger
	now       func() time.Time
	timeout   time.Duration
}

type Option func(*Publisher)

// WithPublishTimeout bounds how long a node waits on a slow broker.
func WithPublishTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func NewPublisher(publisher message.Publisher, logger *slog.Logger, opts ...Option) *Publisher {
	p := &Publisher{
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		timeout:   defaultPublishTimeout,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Publish sends one status event on channel.
func (p *Publisher) Publish(ctx context.Context, channel string, event models.NodeStatusEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to encode node status", "node_id", event.NodeID, "error", err)

		return
	}

	msg := message.NewMessage(watermill.NewULID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(NodeIDMetadataKey, event.NodeID)
	msg.Metadata.Set(ExecutionIDMetadataKey, event.ExecutionID)

	err = p.publish(ctx, channel, msg)
	if err != nil {
		p.logger.WarnContext(ctx, "Failed to publish node status",
			"channel", channel,
			"node_id", event.NodeID,
			"status", event.Status,
			"error", err,
		)
	}
}

// publish hands msg to the broker, giving up after the publish timeout or
// when ctx is done. An abandoned publish keeps running in the background.
func (p *Publisher) publish(ctx context.Context, channel string, msg *message.Message) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	done := make(chan error, 1)

	go func() {
		done <- p.publisher.Publish(channel, msg)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return errPublishTimeout
		}

		return ctx.Err()
	}
}

// PublishFunc binds the publisher to one node of one run.
func (p *Publisher) PublishFunc(nodeID, executionID string, nodeType models.NodeType) protocol.PublishFunc {
	channel := nodeType.Channel()

	return func(ctx context.Context, status models.NodeStatus) {
		p.Publish(ctx, channel, models.NodeStatusEvent{
			NodeID:      nodeID,
			ExecutionID: executionID,
			Status:      status,
		})
	}
}
