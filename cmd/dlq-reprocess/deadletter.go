package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/cartstore/internal/messaging/kafka"
)

// errForeignLetter — запись DLQ без исходного события корзины.
var errForeignLetter = errors.New("dlq record carries no cart event")

// deadLetter — конверт, который consumer кладёт в DLQ после исчерпания повторов.
type deadLetter struct {
	Topic      string `json:"original_topic"`
	Key        string `json:"original_key"`
	Value      string `json:"original_value"`
	Reason     string `json:"error_message"`
	RetryCount int    `json:"retry_count"`

	partition int32
	offset    int64
	event     *kafka.CartEvent
}

// decodeDeadLetter разбирает запись DLQ. Пустые поля топика и ключа берутся
// из defaultTopic и из самого события.
func decodeDeadLetter(msg *sarama.ConsumerMessage, defaultTopic string) (deadLetter, error) {
	var letter deadLetter
	if err := json.Unmarshal(msg.Value, &letter); err != nil || letter.Value == "" {
		return deadLetter{}, errForeignLetter
	}

	event, err := kafka.ParseCartEvent(&sarama.ConsumerMessage{Value: []byte(letter.Value)})
	if err != nil {
		return deadLetter{}, fmt.Errorf("decode original cart event: %w", err)
	}

	letter.Topic = strings.TrimSpace(letter.Topic)
	if letter.Topic == "" {
		letter.Topic = defaultTopic
	}
	if letter.Key == "" {
		letter.Key = event.Key
	}
	letter.partition = msg.Partition
	letter.offset = msg.Offset
	letter.event = event
	return letter, nil
}

// newerThan сравнивает снимки одной корзины: событие публикуется с полным значением,
// поэтому повторять имеет смысл только последнее.
func (d deadLetter) newerThan(other deadLetter) bool {
	if !d.event.PublishedAt.Equal(other.event.PublishedAt) {
		return d.event.PublishedAt.After(other.event.PublishedAt)
	}
	if d.partition != other.partition {
		return d.partition > other.partition
	}
	return d.offset > other.offset
}

// producerMessage собирает сообщение для повторной публикации.
// x-retry-count сбрасывается: событие снова проходит полный цикл обработки.
func (d deadLetter) producerMessage(now time.Time) *sarama.ProducerMessage {
	return &sarama.ProducerMessage{
		Topic: d.Topic,
		Key:   sarama.StringEncoder(d.Key),
		Value: sarama.StringEncoder(d.Value),
		Headers: []sarama.RecordHeader{
			{Key: []byte(kafka.HeaderRetryCount), Value: []byte("0")},
			{Key: []byte(kafka.HeaderOrigin), Value: []byte(d.event.Origin)},
		},
		Timestamp: now.UTC(),
	}
}
