package kafka

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cartstore/internal/domain"
)

func sampleChangeEvent() domain.ChangeEvent {
	return domain.NewChangeEvent(
		"42",
		[]domain.CartLine{{ProductID: "p1", Name: "Milk", Price: 40, Qty: 2}},
		domain.EventSourceLocal,
		time.Date(2024, 5, 17, 10, 0, 0, 0, time.UTC),
	)
}

func TestParseBrokers(t *testing.T) {
	testCases := []struct {
		name    string
		brokers string
		want    []string
	}{
		{name: "empty", brokers: "", want: nil},
		{name: "single", brokers: "localhost:9092", want: []string{"localhost:9092"}},
		{name: "spaces", brokers: "broker1:9092, broker2:9092 ,broker3:9092", want: []string{"broker1:9092", "broker2:9092", "broker3:9092"}},
		{name: "empty elements", brokers: ",broker1:9092,, ", want: []string{"broker1:9092"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ParseBrokers(tc.brokers); !reflect.DeepEqual(got, tc.want) {
				t.Errorf("ParseBrokers(%q) = %v, want %v", tc.brokers, got, tc.want)
			}
		})
	}
}

func TestProducer_PublishEvent(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var event CartEvent
		if err := json.Unmarshal(value, &event); err != nil {
			return err
		}
		if event.Key != "cart_local_42" {
			t.Errorf("unexpected key in payload: %s", event.Key)
		}
		return nil
	})

	event, err := NewCartEvent("ctx-a", sampleChangeEvent())
	if err != nil {
		t.Fatalf("NewCartEvent failed: %v", err)
	}

	if err := producer.PublishEvent(TopicCartEvents, event.Key, event); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_Error(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := producer.PublishEvent(TopicCartEvents, "cart_local_anon", map[string]string{"k": "v"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEventNilProducer(t *testing.T) {
	var producer *Producer
	if err := producer.PublishEvent(TopicCartEvents, "k", nil); err == nil {
		t.Fatal("expected error for nil producer")
	}
}

func TestNewCartEvent(t *testing.T) {
	event, err := NewCartEvent("ctx-a", sampleChangeEvent())
	if err != nil {
		t.Fatalf("NewCartEvent failed: %v", err)
	}

	if event.Type != domain.CartUpdatedEvent {
		t.Errorf("expected type %s, got %s", domain.CartUpdatedEvent, event.Type)
	}
	if event.ID == "" {
		t.Error("event id should be set")
	}
	if event.Origin != "ctx-a" || event.Key != "cart_local_42" || event.Source != domain.EventSourceLocal {
		t.Errorf("unexpected envelope: %+v", event)
	}
	if event.Value != `[{"productId":"p1","name":"Milk","price":40,"image":"","qty":2}]` {
		t.Errorf("unexpected value: %s", event.Value)
	}
	if time.Since(event.PublishedAt) > time.Second {
		t.Error("published_at should be close to current time")
	}

	change := event.StorageChange()
	if change.Key != event.Key || change.NewValue != event.Value || change.Removed || change.Origin != "ctx-a" {
		t.Errorf("unexpected storage change: %+v", change)
	}
}

func TestCartEvent_DetailKeepsNotificationShape(t *testing.T) {
	event, err := NewCartEvent("ctx-a", sampleChangeEvent())
	if err != nil {
		t.Fatalf("NewCartEvent failed: %v", err)
	}
	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	var detail map[string]any
	if err := json.Unmarshal(raw["detail"], &detail); err != nil {
		t.Fatalf("unmarshal detail failed: %v", err)
	}
	if len(detail) != 3 || detail["userId"] != "42" {
		t.Fatalf("unexpected detail: %v", detail)
	}
	if _, ok := detail["at"].(float64); !ok {
		t.Fatalf("detail.at must be epoch milliseconds, got %v", detail["at"])
	}
}
