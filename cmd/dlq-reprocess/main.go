package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/cartstore/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
	envKafkaBrokers    = "CART_KAFKA_BROKERS"
)

// kafkaDeps — открытые подключения к брокерам; sender равен nil в dry-run.
type kafkaDeps struct {
	reader dlqReader
	sender messageSender
	close  func()
}

// openKafka подменяется в тестах.
var openKafka = func(brokers []string, execute bool) (kafkaDeps, error) {
	cfg := sarama.NewConfig()
	cfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return kafkaDeps{}, fmt.Errorf("create kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return kafkaDeps{}, fmt.Errorf("create kafka consumer: %w", err)
	}
	deps := kafkaDeps{
		reader: clientReader{client: client, consumer: consumer},
		close: func() {
			_ = consumer.Close()
			_ = client.Close()
		},
	}
	if !execute {
		return deps, nil
	}

	producer, err := kafka.NewSyncProducer(brokers)
	if err != nil {
		deps.close()
		return kafkaDeps{}, fmt.Errorf("create kafka producer: %w", err)
	}
	closeReader := deps.close
	deps.sender = producer
	deps.close = func() {
		_ = producer.Close()
		closeReader()
	}
	return deps, nil
}

// clientReader читает DLQ через sarama.Client и sarama.Consumer.
type clientReader struct {
	client   sarama.Client
	consumer sarama.Consumer
}

func (c clientReader) Partitions(topic string) ([]int32, error) {
	return c.client.Partitions(topic)
}

func (c clientReader) GetOffset(topic string, partition int32, time int64) (int64, error) {
	return c.client.GetOffset(topic, partition, time)
}

func (c clientReader) ConsumePartition(topic string, partition int32, offset int64) (partitionStream, error) {
	return c.consumer.ConsumePartition(topic, partition, offset)
}

func newRootCmd() *cobra.Command {
	opts := replayOptions{}
	var (
		brokersRaw string
		logLevel   string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:           "dlq-reprocess",
		Short:         "Replay cart events from the dead letter topic",
		Long:          "Without --execute the command only lists what would be replayed.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			level, err := log.ParseLevel(logLevel)
			if err != nil {
				return fmt.Errorf("invalid --log-level: %w", err)
			}
			log.SetLevel(level)
			log.SetOutput(cmd.ErrOrStderr())

			if strings.TrimSpace(brokersRaw) == "" {
				brokersRaw = os.Getenv(envKafkaBrokers)
			}
			brokers := kafka.ParseBrokers(brokersRaw)
			if len(brokers) == 0 {
				return errors.New("kafka brokers are required (--brokers or " + envKafkaBrokers + ")")
			}
			opts.sourceTopic = strings.TrimSpace(opts.sourceTopic)
			opts.targetTopic = strings.TrimSpace(opts.targetTopic)
			if err := opts.validate(); err != nil {
				return err
			}

			deps, err := openKafka(brokers, opts.execute)
			if err != nil {
				return err
			}
			defer deps.close()

			logger := log.WithFields(log.Fields{
				"component":    "dlq-reprocess",
				"source_topic": opts.sourceTopic,
				"cart_key":     opts.cartKey,
			})
			summary, err := newReplayer(deps.reader, deps.sender, opts, logger).Run(cmd.Context())
			if err != nil {
				return fmt.Errorf("dlq replay failed: %w", err)
			}
			return printSummary(cmd, summary, opts.execute, asJSON)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (env "+envKafkaBrokers+")")
	flags.StringVar(&opts.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ source topic")
	flags.StringVar(&opts.targetTopic, "target-topic", kafka.TopicCartEvents, "topic for records without original_topic")
	flags.IntVar(&opts.limit, "limit", defaultReplayLimit, "max number of DLQ records to scan")
	flags.BoolVar(&opts.execute, "execute", false, "publish events; default is dry-run")
	flags.BoolVar(&opts.fromNewest, "from-newest", false, "scan the newest records of each partition")
	flags.BoolVar(&opts.latestOnly, "latest-only", true, "replay only the newest snapshot of each cart")
	flags.DurationVar(&opts.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	flags.StringVar(&opts.cartKey, "cart-key", "", "replay only events of this cart key, e.g. cart_local_42")
	flags.StringVar(&logLevel, "log-level", "info", "logrus level")
	flags.BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}

func printSummary(cmd *cobra.Command, summary replaySummary, execute, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		return json.NewEncoder(out).Encode(summary)
	}
	mode := "dry-run"
	if execute {
		mode = "execute"
	}
	_, err := fmt.Fprintf(out, "%s: scanned=%d replayed=%d superseded=%d filtered=%d invalid=%d\n",
		mode, summary.Scanned, summary.Replayed, summary.Superseded, summary.Filtered, summary.Invalid)
	return err
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
