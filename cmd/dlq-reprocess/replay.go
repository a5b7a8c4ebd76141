package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// partitionStream — чтение одной партиции DLQ.
type partitionStream interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

// dlqReader открывает партиции топика DLQ.
type dlqReader interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, time int64) (int64, error)
	ConsumePartition(topic string, partition int32, offset int64) (partitionStream, error)
}

// messageSender публикует события обратно в топик корзин.
type messageSender interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
}

// replayOptions — что и как перечитывать из DLQ.
type replayOptions struct {
	sourceTopic string
	targetTopic string
	limit       int
	execute     bool
	fromNewest  bool
	latestOnly  bool
	idleTimeout time.Duration
	cartKey     string
}

func (o replayOptions) validate() error {
	switch {
	case o.sourceTopic == "":
		return errors.New("--source-topic is required")
	case o.targetTopic == "":
		return errors.New("--target-topic is required")
	case o.limit <= 0:
		return errors.New("--limit must be > 0")
	case o.idleTimeout <= 0:
		return errors.New("--idle-timeout must be > 0")
	}
	return nil
}

// replaySummary — итог прогона.
type replaySummary struct {
	Scanned    int `json:"scanned"`
	Replayed   int `json:"replayed"`
	Superseded int `json:"superseded"`
	Filtered   int `json:"filtered"`
	Invalid    int `json:"invalid"`
}

// replayer перечитывает DLQ в три шага: сбор записей, план повторов, публикация.
type replayer struct {
	reader dlqReader
	sender messageSender
	opts   replayOptions
	logger *log.Entry
	now    func() time.Time
}

func newReplayer(reader dlqReader, sender messageSender, opts replayOptions, logger *log.Entry) *replayer {
	if logger == nil {
		logger = log.WithField("component", "dlq-reprocess")
	}
	return &replayer{
		reader: reader,
		sender: sender,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// Run выполняет прогон. В dry-run режиме кандидаты только логируются.
func (r *replayer) Run(ctx context.Context) (replaySummary, error) {
	var summary replaySummary
	if r.reader == nil {
		return summary, errors.New("dlq reader is required")
	}
	if r.opts.execute && r.sender == nil {
		return summary, errors.New("producer is required in execute mode")
	}

	letters, err := r.collect(ctx, &summary)
	if err != nil {
		return summary, err
	}
	plan := r.plan(letters, &summary)
	if err := r.publish(plan, &summary); err != nil {
		return summary, err
	}

	r.logger.WithFields(log.Fields{
		"execute":    r.opts.execute,
		"scanned":    summary.Scanned,
		"replayed":   summary.Replayed,
		"superseded": summary.Superseded,
		"filtered":   summary.Filtered,
		"invalid":    summary.Invalid,
	}).Info("dlq replay finished")
	return summary, nil
}

func (r *replayer) collect(ctx context.Context, summary *replaySummary) ([]deadLetter, error) {
	partitions, err := r.reader.Partitions(r.opts.sourceTopic)
	if err != nil {
		return nil, fmt.Errorf("get partitions for topic %s: %w", r.opts.sourceTopic, err)
	}
	if len(partitions) == 0 {
		r.logger.WithField("topic", r.opts.sourceTopic).Warn("source topic has no partitions")
		return nil, nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	var letters []deadLetter
	for _, partition := range partitions {
		budget := r.opts.limit - summary.Scanned
		if budget <= 0 {
			break
		}
		batch, err := r.scanPartition(ctx, partition, budget, summary)
		if err != nil {
			return nil, err
		}
		letters = append(letters, batch...)
	}
	return letters, nil
}

// scanWindow возвращает диапазон смещений [start, end) не длиннее budget.
func scanWindow(oldest, newest int64, budget int, fromNewest bool) (int64, int64) {
	if newest <= oldest {
		return oldest, oldest
	}
	if !fromNewest {
		return oldest, newest
	}
	start := newest - int64(budget)
	if start < oldest {
		start = oldest
	}
	return start, newest
}

func (r *replayer) scanPartition(ctx context.Context, partition int32, budget int, summary *replaySummary) ([]deadLetter, error) {
	topic := r.opts.sourceTopic
	oldest, err := r.reader.GetOffset(topic, partition, sarama.OffsetOldest)
	if err != nil {
		return nil, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := r.reader.GetOffset(topic, partition, sarama.OffsetNewest)
	if err != nil {
		return nil, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	start, end := scanWindow(oldest, newest, budget, r.opts.fromNewest)
	if start >= end {
		return nil, nil
	}

	stream, err := r.reader.ConsumePartition(topic, partition, start)
	if err != nil {
		return nil, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = stream.Close() }()

	idle := time.NewTimer(r.opts.idleTimeout)
	defer idle.Stop()

	var letters []deadLetter
	for scanned := 0; scanned < budget; {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-idle.C:
			return letters, nil
		case consumeErr := <-stream.Errors():
			if consumeErr != nil {
				return nil, fmt.Errorf("partition %d consumer error: %w", partition, consumeErr)
			}
		case msg, ok := <-stream.Messages():
			if !ok || msg == nil || msg.Offset >= end {
				return letters, nil
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(r.opts.idleTimeout)

			scanned++
			summary.Scanned++
			if letter, keep := r.classify(msg, summary); keep {
				letters = append(letters, letter)
			}
			if msg.Offset+1 >= end {
				return letters, nil
			}
		}
	}
	return letters, nil
}

func (r *replayer) classify(msg *sarama.ConsumerMessage, summary *replaySummary) (deadLetter, bool) {
	letter, err := decodeDeadLetter(msg, r.opts.targetTopic)
	switch {
	case errors.Is(err, errForeignLetter):
		summary.Filtered++
		return deadLetter{}, false
	case err != nil:
		summary.Invalid++
		r.logger.WithError(err).WithFields(log.Fields{
			"partition": msg.Partition,
			"offset":    msg.Offset,
		}).Warn("skip unsupported dlq message")
		return deadLetter{}, false
	case r.opts.cartKey != "" && letter.Key != r.opts.cartKey:
		summary.Filtered++
		return deadLetter{}, false
	}
	return letter, true
}

// plan оставляет по одному, самому свежему, снимку на ключ корзины, если включён latestOnly.
// Порядок публикации совпадает с порядком событий.
func (r *replayer) plan(letters []deadLetter, summary *replaySummary) []deadLetter {
	if !r.opts.latestOnly {
		return letters
	}

	latest := make(map[string]deadLetter, len(letters))
	for _, letter := range letters {
		current, ok := latest[letter.Key]
		if !ok {
			latest[letter.Key] = letter
			continue
		}
		summary.Superseded++
		if letter.newerThan(current) {
			latest[letter.Key] = letter
		}
	}

	plan := make([]deadLetter, 0, len(latest))
	for _, letter := range latest {
		plan = append(plan, letter)
	}
	sort.Slice(plan, func(i, j int) bool { return plan[j].newerThan(plan[i]) })
	return plan
}

func (r *replayer) publish(plan []deadLetter, summary *replaySummary) error {
	for _, letter := range plan {
		fields := log.Fields{
			"partition":    letter.partition,
			"offset":       letter.offset,
			"target_topic": letter.Topic,
			"key":          letter.Key,
			"reason":       letter.Reason,
		}
		if !r.opts.execute {
			r.logger.WithFields(fields).Info("dlq replay candidate")
			summary.Replayed++
			continue
		}
		if _, _, err := r.sender.SendMessage(letter.producerMessage(r.now())); err != nil {
			return fmt.Errorf("publish replay of %s: %w", letter.Key, err)
		}
		r.logger.WithFields(fields).Debug("dlq record replayed")
		summary.Replayed++
	}
	return nil
}
