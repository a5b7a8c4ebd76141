package app

import (
	"context"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cartstore/internal/domain"
	"github.com/vladislavdragonenkov/cartstore/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/cartstore/internal/service/cartsync"
)

// errKafkaNeedsSharedStorage: событие из топика только сигнализирует об изменении,
// сама корзина перечитывается из хранилища, поэтому оно должно быть общим у процессов.
var errKafkaNeedsSharedStorage = errors.New("kafka cart sync requires shared storage (file or postgres), got memory")

// kafkaSync — межпроцессная синхронизация через topic событий корзины.
type kafkaSync struct {
	producer  *kafka.Producer
	forwarder *kafka.ChangeForwarder
	feed      *kafka.ChangeFeed
	consumer  *kafka.Consumer
	bridge    *cartsync.StorageBridge

	detach        func()
	cancel        context.CancelFunc
	forwarderDone chan struct{}
}

// initKafkaProducer инициализирует Kafka producer если brokers не пустой.
// Возвращает nil, nil если brokers пустой.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	brokerList := kafka.ParseBrokers(brokers)
	if len(brokerList) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokerList)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

// initKafkaSync подключает пересылку локальных изменений в topic и приём чужих.
// Без брокеров возвращает nil, nil. Ошибка подключения не останавливает приложение.
// С хранилищем в памяти синхронизация не запускается: errKafkaNeedsSharedStorage.
func initKafkaSync(ctx context.Context, cfg Config, origin string, deps *Dependencies, logger *log.Entry) (*kafkaSync, error) {
	brokerList := kafka.ParseBrokers(cfg.KafkaBrokers)
	if len(brokerList) == 0 {
		return nil, nil
	}
	if driver := strings.ToLower(strings.TrimSpace(cfg.StorageDriver)); driver == "" || driver == StorageDriverMemory {
		return nil, errKafkaNeedsSharedStorage
	}

	producer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil {
		return nil, err
	}

	topic := cfg.KafkaTopic
	if topic == "" {
		topic = kafka.TopicCartEvents
	}

	feed := kafka.NewChangeFeed(origin, logger.WithField("component", "kafka-change-feed"))
	// У каждого процесса своя группа: событие должен получить каждый процесс.
	group := cfg.KafkaGroup + "-" + origin
	consumer, err := kafka.NewConsumerWithDLQ(brokerList, group, []string{topic}, feed.Handle, producer, cfg.KafkaMaxRetries)
	if err != nil {
		closeKafka(producer, logger)
		return nil, err
	}

	forwarder := kafka.NewChangeForwarder(producer, topic, origin,
		kafka.WithForwarderLogger(logger.WithField("component", "kafka-change-forwarder")),
	)
	bridge := cartsync.NewStorageBridge(feed, deps.Store, deps.Hub,
		cartsync.WithSource(domain.EventSourceRemote),
		cartsync.WithBridgeLogger(logger.WithField("component", "cart-remote-bridge")),
	)

	runCtx, cancel := context.WithCancel(ctx)
	ks := &kafkaSync{
		producer:      producer,
		forwarder:     forwarder,
		feed:          feed,
		consumer:      consumer,
		bridge:        bridge,
		detach:        forwarder.Attach(deps.Hub),
		cancel:        cancel,
		forwarderDone: make(chan struct{}),
	}
	go func() {
		defer close(ks.forwarderDone)
		forwarder.Run(runCtx)
	}()
	bridge.Start()

	if err := consumer.Start(runCtx); err != nil {
		ks.close(logger)
		return nil, err
	}

	logger.WithFields(log.Fields{
		"topic":  topic,
		"group":  group,
		"origin": origin,
	}).Info("kafka cart sync started")
	return ks, nil
}

// close останавливает приём и пересылку, дожидается forwarder и закрывает producer.
func (k *kafkaSync) close(logger *log.Entry) {
	if k == nil {
		return
	}
	k.bridge.Stop()
	if k.detach != nil {
		k.detach()
	}
	k.cancel()
	<-k.forwarderDone
	if err := k.consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop kafka consumer")
	}
	if pending := k.forwarder.Pending(); pending > 0 {
		logger.WithField("pending", pending).Warn("dropping unsent cart events on shutdown")
	}
	closeKafka(k.producer, logger)
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
