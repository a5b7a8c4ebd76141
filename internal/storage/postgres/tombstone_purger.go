package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

const (
	defaultPurgeInterval  = 10 * time.Minute
	defaultPurgeBatchSize = 500
	defaultTombstoneTTL   = time.Hour
)

var (
	tombstonePurgeRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_tombstone_purge_runs_total",
		Help: "Total number of cart_kv tombstone purge runs grouped by result.",
	}, []string{"result"})
	tombstonePurgeDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cart_tombstone_purge_deleted_total",
		Help: "Total number of purged cart_kv tombstones.",
	})
	tombstonePurgeLastDeleted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cart_tombstone_purge_last_deleted",
		Help: "Number of purged tombstones during the last run.",
	})
)

// TombstoneRepository удаляет устаревшие tombstone-записи.
type TombstoneRepository interface {
	PurgeTombstones(ctx context.Context, before time.Time, limit int) (int, error)
}

// PurgeOptions задаёт параметры TombstonePurger.
type PurgeOptions struct {
	Logger    *log.Entry
	Interval  time.Duration
	BatchSize int
	TTL       time.Duration
	Now       func() time.Time
}

// PurgeOption настраивает TombstonePurger.
type PurgeOption func(*PurgeOptions)

// WithPurgeLogger задаёт logger воркера.
func WithPurgeLogger(logger *log.Entry) PurgeOption {
	return func(opts *PurgeOptions) {
		opts.Logger = logger
	}
}

// WithPurgeInterval задаёт интервал между запусками.
func WithPurgeInterval(interval time.Duration) PurgeOption {
	return func(opts *PurgeOptions) {
		opts.Interval = interval
	}
}

// WithPurgeBatchSize задаёт размер batch для одного удаления.
func WithPurgeBatchSize(batchSize int) PurgeOption {
	return func(opts *PurgeOptions) {
		opts.BatchSize = batchSize
	}
}

// WithTombstoneTTL задаёт, сколько tombstone живёт до удаления.
// TTL должен быть заметно больше интервала опроса поллеров, иначе они пропустят удаление.
func WithTombstoneTTL(ttl time.Duration) PurgeOption {
	return func(opts *PurgeOptions) {
		opts.TTL = ttl
	}
}

// WithPurgeClock подменяет источник времени.
func WithPurgeClock(now func() time.Time) PurgeOption {
	return func(opts *PurgeOptions) {
		opts.Now = now
	}
}

// TombstonePurger периодически физически удаляет tombstone-записи cart_kv.
type TombstonePurger struct {
	repo      TombstoneRepository
	logger    *log.Entry
	interval  time.Duration
	batchSize int
	ttl       time.Duration
	now       func() time.Time
}

// NewTombstonePurger создаёт воркер очистки tombstone-записей.
func NewTombstonePurger(repo TombstoneRepository, options ...PurgeOption) *TombstonePurger {
	opts := PurgeOptions{
		Interval:  defaultPurgeInterval,
		BatchSize: defaultPurgeBatchSize,
		TTL:       defaultTombstoneTTL,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "tombstone-purger")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultPurgeInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultPurgeBatchSize
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTombstoneTTL
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &TombstonePurger{
		repo:      repo,
		logger:    logger,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		ttl:       opts.TTL,
		now:       opts.Now,
	}
}

// Run запускает периодическую очистку до отмены ctx.
func (w *TombstonePurger) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("tombstone purger is disabled: repo is nil")
		return
	}

	w.purge(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.purge(ctx)
		}
	}
}

func (w *TombstonePurger) purge(ctx context.Context) {
	deleted, err := w.PurgeExpired(ctx, w.now().Add(-w.ttl))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		tombstonePurgeRunsTotal.WithLabelValues("error").Inc()
		w.logger.WithError(err).Warn("tombstone purge run failed")
		return
	}

	tombstonePurgeRunsTotal.WithLabelValues("ok").Inc()
	tombstonePurgeLastDeleted.Set(float64(deleted))
	if deleted > 0 {
		w.logger.WithField("deleted", deleted).Info("tombstone purge completed")
	}
}

// PurgeExpired удаляет все tombstone-записи с updated_at <= before порциями batchSize.
func (w *TombstonePurger) PurgeExpired(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = w.now().Add(-w.ttl)
	}

	totalDeleted := 0
	for {
		if err := ctx.Err(); err != nil {
			return totalDeleted, err
		}

		deleted, err := w.repo.PurgeTombstones(ctx, before, w.batchSize)
		if err != nil {
			return totalDeleted, err
		}

		totalDeleted += deleted
		if deleted > 0 {
			tombstonePurgeDeletedTotal.Add(float64(deleted))
		}

		if deleted < w.batchSize {
			break
		}
	}

	return totalDeleted, nil
}
