package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/nodebase/pkg/channels/gochannel"
	"github.com/dukex/nodebase/pkg/channels/kafka"
	"github.com/dukex/nodebase/pkg/eventbus"
)

const serviceName = "nodebase"

// NewChannel creates the watermill publisher and subscriber of provider.
// "gochannel" keeps messages in process; "kafka" connects to brokers.
func NewChannel(provider, brokers string, logger *slog.Logger) (message.Publisher, message.Subscriber, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wmLogger, kafka.ParseBrokers(brokers), serviceName)
		if err != nil {
			return nil, nil, err
		}

		return pub, sub, nil
	case "gochannel", "":
		pub, sub, err := gochannel.CreateChannel(wmLogger)
		if err != nil {
			return nil, nil, err
		}

		return pub, sub, nil
	default:
		return nil, nil, fmt.Errorf("unsupported event bus provider: %s", provider)
	}
}

// NewEventBus creates the event bus of provider. The returned publisher is
// shared with the real-time status publisher.
func NewEventBus(provider, brokers string, concurrency int, logger *slog.Logger) (*eventbus.WatermillEventBus, message.Publisher) {
	pub, sub, err := NewChannel(provider, brokers, logger)
	if err != nil {
		panic(fmt.Errorf("failed to create %s pub/sub: %w", provider, err))
	}

	bus := eventbus.NewWatermillEventBus(pub, sub,
		eventbus.WithConcurrency(concurrency),
		eventbus.WithLogger(logger),
	)

	return bus, pub
}
