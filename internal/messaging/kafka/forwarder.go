package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cartstore/internal/domain"
)

const defaultForwarderBuffer = 256

// ForwarderOption настраивает ChangeForwarder.
type ForwarderOption func(*ChangeForwarder)

// WithForwarderLogger задаёт logger.
func WithForwarderLogger(logger *log.Entry) ForwarderOption {
	return func(f *ChangeForwarder) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithForwarderBuffer задаёт размер очереди событий до отправки.
func WithForwarderBuffer(size int) ForwarderOption {
	return func(f *ChangeForwarder) {
		if size > 0 {
			f.queue = make(chan domain.ChangeEvent, size)
		}
	}
}

// ChangeForwarder публикует локальные изменения корзины в topic, чтобы другие процессы
// над тем же хранилищем получили сигнал. События из storage/remote не пересылаются.
// Отправка идёт из Run: подписчик шины только ставит событие в очередь.
type ChangeForwarder struct {
	producer *Producer
	topic    string
	origin   string
	logger   *log.Entry
	queue    chan domain.ChangeEvent
}

// NewChangeForwarder создаёт пересыльщик событий от имени origin.
func NewChangeForwarder(producer *Producer, topic, origin string, opts ...ForwarderOption) *ChangeForwarder {
	if topic == "" {
		topic = TopicCartEvents
	}
	f := &ChangeForwarder{
		producer: producer,
		topic:    topic,
		origin:   origin,
		logger:   log.WithField("component", "kafka-change-forwarder"),
		queue:    make(chan domain.ChangeEvent, defaultForwarderBuffer),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Attach подписывает пересыльщик на шину и возвращает отписку.
func (f *ChangeForwarder) Attach(subscriber domain.Subscriber) func() {
	return subscriber.Subscribe(f.Enqueue)
}

// Enqueue ставит событие в очередь. При переполненной очереди событие отбрасывается.
func (f *ChangeForwarder) Enqueue(event domain.ChangeEvent) {
	if !forwardable(event.Source) {
		return
	}
	select {
	case f.queue <- event:
	default:
		f.logger.WithField("key", event.Key).Warn("forwarder queue is full, dropping cart event")
	}
}

// Run отправляет события из очереди до отмены ctx.
func (f *ChangeForwarder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-f.queue:
			if err := f.Publish(event); err != nil {
				f.logger.WithError(err).WithField("key", event.Key).Warn("failed to forward cart event")
			}
		}
	}
}

// Publish синхронно отправляет одно событие.
func (f *ChangeForwarder) Publish(event domain.ChangeEvent) error {
	if f == nil || f.producer == nil {
		return fmt.Errorf("kafka change forwarder is not initialized")
	}

	envelope, err := NewCartEvent(f.origin, event)
	if err != nil {
		return err
	}
	return f.producer.PublishEvent(f.topic, envelope.Key, envelope, sarama.RecordHeader{
		Key:   []byte(HeaderOrigin),
		Value: []byte(f.origin),
	})
}

// Pending возвращает число событий в очереди.
func (f *ChangeForwarder) Pending() int {
	return len(f.queue)
}

func forwardable(source domain.EventSource) bool {
	return source == domain.EventSourceLocal || source == domain.EventSourceMerge
}
