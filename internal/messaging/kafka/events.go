package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/cartstore/internal/domain"
)

// Topics для Kafka
const (
	TopicCartEvents      = "storefront.cart.events"
	TopicDeadLetterQueue = "storefront.cart.dlq"
)

// Kafka headers
const (
	HeaderRetryCount = "x-retry-count"
	HeaderOrigin     = "x-origin"
)

// CartEvent — конверт события cartUpdated в топике.
// Value несёт сохранённое значение корзины, Detail повторяет detail локального события.
type CartEvent struct {
	ID          string             `json:"id"`
	Type        string             `json:"type"`
	Origin      string             `json:"origin"`
	Key         string             `json:"key"`
	Source      domain.EventSource `json:"source"`
	Value       string             `json:"value"`
	Detail      domain.ChangeEvent `json:"detail"`
	PublishedAt time.Time          `json:"published_at"`
}

// NewCartEvent упаковывает локальное событие для публикации от имени origin.
func NewCartEvent(origin string, event domain.ChangeEvent) (*CartEvent, error) {
	value, err := domain.EncodeCart(event.Cart)
	if err != nil {
		return nil, fmt.Errorf("encode cart: %w", err)
	}
	key := event.Key
	if key == "" {
		key = domain.CartKey(event.UserID)
	}
	return &CartEvent{
		ID:          uuid.NewString(),
		Type:        domain.CartUpdatedEvent,
		Origin:      origin,
		Key:         key,
		Source:      event.Source,
		Value:       value,
		Detail:      event,
		PublishedAt: time.Now().UTC(),
	}, nil
}

// StorageChange превращает событие в сигнал хранилища для контекстов-получателей.
func (e *CartEvent) StorageChange() domain.StorageChange {
	return domain.StorageChange{
		Key:      e.Key,
		NewValue: e.Value,
		Origin:   e.Origin,
	}
}

// ParseCartEvent парсит CartEvent из сообщения
func ParseCartEvent(message *sarama.ConsumerMessage) (*CartEvent, error) {
	var event CartEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cart event: %w", err)
	}
	if event.Type != domain.CartUpdatedEvent {
		return nil, fmt.Errorf("unexpected event type %q", event.Type)
	}
	if event.Key == "" {
		return nil, fmt.Errorf("cart event %s has no key", event.ID)
	}
	if event.Origin == "" {
		event.Origin = headerValue(message, HeaderOrigin)
	}
	return &event, nil
}

func headerValue(message *sarama.ConsumerMessage, key string) string {
	for _, header := range message.Headers {
		if header != nil && string(header.Key) == key {
			return string(header.Value)
		}
	}
	return ""
}
