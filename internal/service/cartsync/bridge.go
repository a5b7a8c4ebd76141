package cartsync

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cartstore/internal/domain"
)

// Cart — корзина, для которой мост фильтрует сигналы хранилища.
// *cart.Store удовлетворяет интерфейсу.
type Cart interface {
	Identity() domain.Identity
	Read() []domain.CartLine
}

// BridgeOption настраивает StorageBridge.
type BridgeOption func(*StorageBridge)

// WithSource задаёт источник, которым помечаются события (storage или remote).
func WithSource(source domain.EventSource) BridgeOption {
	return func(b *StorageBridge) {
		b.source = source
	}
}

// WithBridgeLogger задаёт логгер моста.
func WithBridgeLogger(logger *log.Entry) BridgeOption {
	return func(b *StorageBridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithBridgeClock подменяет источник времени событий.
func WithBridgeClock(now func() time.Time) BridgeOption {
	return func(b *StorageBridge) {
		if now != nil {
			b.now = now
		}
	}
}

// StorageBridge переводит нативные сигналы хранилища в уведомления cartUpdated.
// Сигнал пропускается только для ключа корзины текущей идентичности, вычисленной в момент сигнала.
// Изменение записи пользователя означает смену идентичности и тоже публикуется.
type StorageBridge struct {
	changes   domain.ChangeSource
	cart      Cart
	publisher domain.Publisher
	source    domain.EventSource
	logger    *log.Entry
	now       func() time.Time

	mu     sync.Mutex
	cancel func()
}

// NewStorageBridge создаёт мост между источником изменений и шиной.
func NewStorageBridge(changes domain.ChangeSource, cart Cart, publisher domain.Publisher, opts ...BridgeOption) *StorageBridge {
	b := &StorageBridge{
		changes:   changes,
		cart:      cart,
		publisher: publisher,
		source:    domain.EventSourceStorage,
		logger:    log.WithField("component", "cart-storage-bridge"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start подписывается на источник. Повторный вызов ничего не делает.
func (b *StorageBridge) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return
	}
	b.cancel = b.changes.Watch(b.handle)
}

// Stop снимает подписку с источника.
func (b *StorageBridge) Stop() {
	b.mu.Lock()
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (b *StorageBridge) handle(change domain.StorageChange) {
	identity := b.cart.Identity()
	key := domain.CartKey(identity)

	switch change.Key {
	case key:
		lines := []domain.CartLine{}
		if !change.Removed {
			lines = domain.DecodeCart(change.NewValue)
		}
		b.publisher.Publish(domain.NewChangeEvent(identity, lines, b.source, b.now()))
	case domain.UserRecordKey:
		b.logger.WithField("identity", identity.String()).Debug("user record changed in another context")
		b.publisher.Publish(domain.NewChangeEvent(identity, b.cart.Read(), b.source, b.now()))
	default:
		b.logger.WithField("key", change.Key).Trace("storage change ignored")
	}
}
