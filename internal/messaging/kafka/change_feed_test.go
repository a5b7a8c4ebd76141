package kafka

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/cartstore/internal/domain"
)

func cartMessage(t *testing.T, origin string, event domain.ChangeEvent) *sarama.ConsumerMessage {
	t.Helper()

	envelope, err := NewCartEvent(origin, event)
	require.NoError(t, err)
	value, err := json.Marshal(envelope)
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Topic: TopicCartEvents, Key: []byte(envelope.Key), Value: value}
}

func TestChangeFeed_DispatchesForeignEvents(t *testing.T) {
	feed := NewChangeFeed("ctx-a", log.WithField("test", "feed"))

	var changes []domain.StorageChange
	cancel := feed.Watch(func(change domain.StorageChange) { changes = append(changes, change) })
	defer cancel()

	require.NoError(t, feed.Handle(context.Background(), cartMessage(t, "ctx-a", sampleChangeEvent())))
	require.Empty(t, changes, "own events must be skipped")

	require.NoError(t, feed.Handle(context.Background(), cartMessage(t, "ctx-b", sampleChangeEvent())))
	require.Len(t, changes, 1)
	require.Equal(t, "cart_local_42", changes[0].Key)
	require.Equal(t, "ctx-b", changes[0].Origin)
	require.Equal(t, []domain.CartLine{{ProductID: "p1", Name: "Milk", Price: 40, Qty: 2}}, domain.DecodeCart(changes[0].NewValue))
}

func TestChangeFeed_MalformedMessageIsAcknowledged(t *testing.T) {
	feed := NewChangeFeed("ctx-a", nil)

	calls := 0
	feed.Watch(func(domain.StorageChange) { calls++ })

	require.NoError(t, feed.Handle(context.Background(), &sarama.ConsumerMessage{Value: []byte("not-json")}))
	require.Zero(t, calls)
}

func TestChangeFeed_WatchCancel(t *testing.T) {
	feed := NewChangeFeed("ctx-a", nil)

	calls := 0
	cancel := feed.Watch(func(domain.StorageChange) { calls++ })
	cancel()
	cancel()

	require.NoError(t, feed.Handle(context.Background(), cartMessage(t, "ctx-b", sampleChangeEvent())))
	require.Zero(t, calls)
}
