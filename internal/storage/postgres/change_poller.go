package postgres

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cartstore/internal/domain"
)

const (
	defaultPollInterval  = 500 * time.Millisecond
	defaultPollBatchSize = 100
	defaultPollLookback  = 256
)

var (
	changePollRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_postgres_change_poll_runs_total",
		Help: "Total number of postgres change poll runs grouped by result.",
	}, []string{"result"})
	changePollDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cart_postgres_changes_dispatched_total",
		Help: "Total number of changes from other processes dispatched to watchers.",
	})
	changePollCursor = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cart_postgres_change_poll_cursor",
		Help: "Last revision of cart_kv seen by the change poller.",
	})
)

// ChangeLister — журнал изменений cart_kv.
type ChangeLister interface {
	LatestRevision(ctx context.Context) (int64, error)
	ChangesSince(ctx context.Context, after int64, limit int) ([]Change, error)
}

// Dispatcher доставляет сигнал изменения подписчикам.
type Dispatcher interface {
	Dispatch(change domain.StorageChange)
}

// PollerOptions задаёт параметры ChangePoller.
type PollerOptions struct {
	Logger       *log.Entry
	PollInterval time.Duration
	BatchSize    int
	Lookback     int64
}

// PollerOption настраивает ChangePoller.
type PollerOption func(*PollerOptions)

// WithPollerLogger задаёт logger поллера.
func WithPollerLogger(logger *log.Entry) PollerOption {
	return func(opts *PollerOptions) {
		opts.Logger = logger
	}
}

// WithPollInterval задаёт частоту опроса cart_kv.
func WithPollInterval(interval time.Duration) PollerOption {
	return func(opts *PollerOptions) {
		opts.PollInterval = interval
	}
}

// WithPollBatchSize задаёт размер страницы изменений.
func WithPollBatchSize(batchSize int) PollerOption {
	return func(opts *PollerOptions) {
		opts.BatchSize = batchSize
	}
}

// WithPollLookback задаёт, на сколько revision назад от курсора перечитывается cart_kv.
// revision выдаётся nextval до COMMIT, поэтому транзакция с меньшей revision может
// стать видимой позже большей; окно ловит такие записи. 0 использует значение по умолчанию.
func WithPollLookback(revisions int64) PollerOption {
	return func(opts *PollerOptions) {
		opts.Lookback = revisions
	}
}

// keyState — последнее обработанное состояние ключа.
type keyState struct {
	value    string
	revision int64
	deleted  bool
}

// ChangePoller опрашивает cart_kv по revision и превращает записи других процессов
// в нативные сигналы хранилища. Собственные записи (тот же origin) пропускаются.
type ChangePoller struct {
	lister       ChangeLister
	dispatcher   Dispatcher
	origin       string
	logger       *log.Entry
	pollInterval time.Duration
	batchSize    int
	lookback     int64

	cursor      int64
	start       int64
	initialized bool
	last        map[string]keyState
}

// NewChangePoller создаёт поллер изменений.
func NewChangePoller(lister ChangeLister, dispatcher Dispatcher, origin string, options ...PollerOption) *ChangePoller {
	opts := PollerOptions{
		PollInterval: defaultPollInterval,
		BatchSize:    defaultPollBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "postgres-change-poller")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultPollBatchSize
	}
	if opts.Lookback <= 0 {
		opts.Lookback = defaultPollLookback
	}

	return &ChangePoller{
		lister:       lister,
		dispatcher:   dispatcher,
		origin:       origin,
		logger:       logger,
		pollInterval: opts.PollInterval,
		batchSize:    opts.BatchSize,
		lookback:     opts.Lookback,
		last:         make(map[string]keyState),
	}
}

// Cursor возвращает наибольшую обработанную revision.
func (p *ChangePoller) Cursor() int64 {
	return p.cursor
}

// Run запускает периодический опрос до отмены ctx.
func (p *ChangePoller) Run(ctx context.Context) {
	if p.lister == nil || p.dispatcher == nil {
		p.logger.Warn("change poller is disabled: lister or dispatcher is nil")
		return
	}

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	p.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один цикл опроса. Первый цикл только запоминает текущую revision:
// история до старта процесса не воспроизводится. Каждый следующий цикл читает с cursor-lookback,
// пара (key, revision) доставляется не больше одного раза.
func (p *ChangePoller) ProcessOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	if !p.initialized {
		latest, err := p.lister.LatestRevision(ctx)
		if err != nil {
			changePollRuns.WithLabelValues("error").Inc()
			p.logger.WithError(err).Warn("failed to read latest cart_kv revision")
			return
		}
		p.cursor = latest
		p.start = latest
		p.initialized = true
		changePollCursor.Set(float64(latest))
		changePollRuns.WithLabelValues("ok").Inc()
		return
	}

	after := p.cursor - p.lookback
	if after < p.start {
		after = p.start
	}
	for {
		if ctx.Err() != nil {
			return
		}

		changes, err := p.lister.ChangesSince(ctx, after, p.batchSize)
		if err != nil {
			changePollRuns.WithLabelValues("error").Inc()
			p.logger.WithError(err).WithField("cursor", p.cursor).Warn("failed to pull cart_kv changes")
			return
		}

		for _, change := range changes {
			after = change.Revision
			if change.Revision > p.cursor {
				p.cursor = change.Revision
			}
			if state, ok := p.last[change.Key]; ok && state.revision >= change.Revision {
				continue
			}
			p.handle(change)
		}
		changePollCursor.Set(float64(p.cursor))

		if len(changes) < p.batchSize {
			break
		}
	}
	p.forgetDeleted()
	changePollRuns.WithLabelValues("ok").Inc()
}

// forgetDeleted убирает удалённые ключи, вышедшие за окно перечитывания.
func (p *ChangePoller) forgetDeleted() {
	horizon := p.cursor - p.lookback
	for key, state := range p.last {
		if state.deleted && state.revision <= horizon {
			delete(p.last, key)
		}
	}
}

func (p *ChangePoller) handle(change Change) {
	previous := p.last[change.Key].value
	state := keyState{revision: change.Revision, deleted: change.Deleted}
	if !change.Deleted {
		state.value = change.Value
	}
	p.last[change.Key] = state

	if change.Origin == p.origin {
		return
	}

	signal := domain.StorageChange{
		Key:      change.Key,
		OldValue: previous,
		Removed:  change.Deleted,
		Origin:   change.Origin,
	}
	if !change.Deleted {
		signal.NewValue = change.Value
	}

	p.logger.WithFields(log.Fields{
		"key":      change.Key,
		"revision": change.Revision,
		"origin":   change.Origin,
	}).Debug("dispatching cart_kv change")
	changePollDispatched.Inc()
	p.dispatcher.Dispatch(signal)
}
