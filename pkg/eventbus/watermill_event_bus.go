package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/nodebase/pkg/events"
)

type WatermillEventBus struct {
	publisher     message.Publisher
	subscriber    message.Subscriber
	logger        *slog.Logger
	concurrency   int
	mu            sync.RWMutex
	subscriptions map[events.EventType]EventHandler
	wg            sync.WaitGroup
}

// Option configures a WatermillEventBus.
type Option func(*WatermillEventBus)

// WithConcurrency bounds how many messages are handled at the same time.
func WithConcurrency(n int) Option {
	return func(eb *WatermillEventBus) {
		if n > 0 {
			eb.concurrency = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(eb *WatermillEventBus) {
		eb.logger = logger
	}
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber, opts ...Option) *WatermillEventBus {
	eb := &WatermillEventBus{
		publisher:     pub,
		subscriber:    sub,
		logger:        slog.Default(),
		concurrency:   1,
		subscriptions: make(map[events.EventType]EventHandler),
	}

	for _, opt := range opts {
		opt(eb)
	}

	return eb
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	return eb.publisher.Publish(events.Topic, msg)
}

// Subscribe starts consuming the event topic in the background. A message is
// acked once a handler slot is free and the handler then runs in its own
// goroutine, at most concurrency at a time. Handler errors are logged.
func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	messages, err := eb.subscriber.Subscribe(ctx, events.Topic)
	if err != nil {
		return err
	}

	sem := make(chan struct{}, eb.concurrency)

	eb.wg.Add(1)

	go func() {
		defer eb.wg.Done()

		for msg := range messages {
			handler, event, ok := eb.decode(ctx, msg)
			if !ok {
				msg.Ack()

				continue
			}

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				msg.Nack()

				continue
			}

			msg.Ack()
			eb.wg.Add(1)

			go func() {
				defer func() {
					<-sem
					eb.wg.Done()
				}()

				err := handler(ctx, event)
				if err != nil {
					eb.logger.ErrorContext(ctx, "Event handler failed", "message_id", msg.UUID, "error", err)
				}
			}()
		}
	}()

	return nil
}

// decode returns the handler and the typed payload of msg. Messages without a
// handler or with a payload that cannot be decoded are reported as not ok.
func (eb *WatermillEventBus) decode(ctx context.Context, msg *message.Message) (EventHandler, any, bool) {
	eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

	eb.mu.RLock()
	handler, exists := eb.subscriptions[eventType]
	eb.mu.RUnlock()

	if !exists {
		return nil, nil, false
	}

	var event any

	switch eventType {
	case events.WorkflowExecutionRequestedEvent:
		event = &events.WorkflowExecutionRequested{}
	case events.WorkflowExecutionFinishedEvent:
		event = &events.WorkflowExecutionFinished{}
	default:
		return nil, nil, false
	}

	err := json.Unmarshal(msg.Payload, event)
	if err != nil {
		eb.logger.ErrorContext(ctx, "Dropping undecodable event", "event_type", eventType, "error", err)

		return nil, nil, false
	}

	return handler, event, true
}

func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscriptions[eventType] = handler

	return nil
}

// Close stops the publisher and the subscriber, then waits for running handlers.
func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	err = eb.subscriber.Close()

	eb.wg.Wait()

	return err
}
