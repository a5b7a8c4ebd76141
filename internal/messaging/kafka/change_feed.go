package kafka

import (
	"context"
	"sync"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cartstore/internal/domain"
)

// ChangeFeed превращает события из topic в сигналы хранилища.
// Реализует domain.ChangeSource; события собственного origin отбрасываются.
type ChangeFeed struct {
	origin string
	logger *log.Entry

	mu       sync.Mutex
	nextID   int
	watchers map[int]func(domain.StorageChange)
}

// NewChangeFeed создаёт ленту для процесса origin.
func NewChangeFeed(origin string, logger *log.Entry) *ChangeFeed {
	if logger == nil {
		logger = log.WithField("component", "kafka-change-feed")
	}
	return &ChangeFeed{
		origin:   origin,
		logger:   logger,
		watchers: make(map[int]func(domain.StorageChange)),
	}
}

// Watch подписывает fn на сигналы.
func (f *ChangeFeed) Watch(fn func(domain.StorageChange)) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.watchers[id] = fn
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.watchers, id)
			f.mu.Unlock()
		})
	}
}

// Handle — MessageHandler для Consumer. Неразборчивые сообщения пропускаются без ошибки:
// повторная обработка их не исправит.
func (f *ChangeFeed) Handle(_ context.Context, message *sarama.ConsumerMessage) error {
	event, err := ParseCartEvent(message)
	if err != nil {
		f.logger.WithError(err).WithField("offset", message.Offset).Warn("skipping malformed cart event")
		return nil
	}
	if event.Origin == f.origin {
		return nil
	}

	f.mu.Lock()
	fns := make([]func(domain.StorageChange), 0, len(f.watchers))
	for _, fn := range f.watchers {
		fns = append(fns, fn)
	}
	f.mu.Unlock()

	change := event.StorageChange()
	for _, fn := range fns {
		fn(change)
	}
	return nil
}

var _ domain.ChangeSource = (*ChangeFeed)(nil)
