package realtime_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/nodebase/pkg/channels/gochannel"
	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisher_PublishFunc(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	defer func() {
		_ = pub.Close()
	}()

	messages, err := sub.Subscribe(ctx, "http-request-execution")
	require.NoError(t, err)

	publisher := realtime.NewPublisher(pub, slog.Default())
	publish := publisher.PublishFunc("node-1", "exec-1", models.NodeTypeHTTPRequest)

	publish(ctx, models.NodeStatusLoading)

	select {
	case msg := <-messages:
		msg.Ack()

		var event models.NodeStatusEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &event))

		assert.Equal(t, "node-1", event.NodeID)
		assert.Equal(t, "exec-1", event.ExecutionID)
		assert.Equal(t, models.NodeStatusLoading, event.Status)
		assert.False(t, event.Timestamp.IsZero())
		assert.Equal(t, "node-1", msg.Metadata.Get(realtime.NodeIDMetadataKey))
	case <-time.After(5 * time.Second):
		t.Fatal("status event was not delivered")
	}
}

type failingPublisher struct {
	calls int
}

func (f *failingPublisher) Publish(string, ...*message.Message) error {
	f.calls++

	return errors.New("broker down")
}

func (f *failingPublisher) Close() error {
	return nil
}

func TestPublisher_FailuresAreSwallowed(t *testing.T) {
	failing := &failingPublisher{}
	publisher := realtime.NewPublisher(failing, slog.Default())

	assert.NotPanics(t, func() {
		publisher.PublishFunc("node-1", "exec-1", models.NodeTypeLog)(context.Background(), models.NodeStatusError)
	})
	assert.Equal(t, 1, failing.calls)
}

type blockingPublisher struct {
	release chan struct{}
}

func (b *blockingPublisher) Publish(string, ...*message.Message) error {
	<-b.release

	return nil
}

func (b *blockingPublisher) Close() error {
	return nil
}

func TestPublisher_SlowBrokerDoesNotBlockNode(t *testing.T) {
	blocking := &blockingPublisher{release: make(chan struct{})}
	defer close(blocking.release)

	publisher := realtime.NewPublisher(blocking, slog.Default(), realtime.WithPublishTimeout(50*time.Millisecond))
	publish := publisher.PublishFunc("node-1", "exec-1", models.NodeTypeLog)

	returned := make(chan struct{})

	go func() {
		publish(context.Background(), models.NodeStatusLoading)
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("publish did not return after its timeout")
	}
}
