package cart

import (
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cartstore/internal/domain"
	"github.com/vladislavdragonenkov/cartstore/internal/metrics"
)

// Названия операций для метрик.
const (
	opWrite    = "write"
	opUpsert   = "upsert"
	opDecrease = "decrease"
	opRemove   = "remove"
	opClear    = "clear"
)

// Recorder принимает метрики операций корзины. *metrics.CartMetrics удовлетворяет интерфейсу.
type Recorder interface {
	RecordOperation(op, result string)
	RecordStorageWriteFailure()
	RecordMerge(result string)
	RecordNotification(source string)
	ObserveCartSize(lines int)
}

type noopRecorder struct{}

func (noopRecorder) RecordOperation(string, string) {}
func (noopRecorder) RecordStorageWriteFailure()     {}
func (noopRecorder) RecordMerge(string)             {}
func (noopRecorder) RecordNotification(string)      {}
func (noopRecorder) ObserveCartSize(int)            {}

type noopPublisher struct{}

func (noopPublisher) Publish(domain.ChangeEvent) {}

// Option настраивает Store.
type Option func(*Store)

// WithLogger задаёт логгер хранилища корзины.
func WithLogger(logger *log.Entry) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics включает запись метрик.
func WithMetrics(recorder Recorder) Option {
	return func(s *Store) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// WithClock подменяет источник времени для уведомлений.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store — локальная корзина текущей идентичности поверх key-value хранилища.
// Идентичность вычисляется заново в начале каждой операции.
// Мутации выполняются в порядке вызова; уведомление доставляется подписчикам до возврата из метода.
type Store struct {
	kv        domain.KeyValueStore
	resolver  domain.IdentityResolver
	publisher domain.Publisher
	logger    *log.Entry
	metrics   Recorder
	now       func() time.Time

	// mu сериализует read-modify-write. Публикация идёт после освобождения.
	mu sync.Mutex
}

// NewStore создаёт хранилище корзины.
func NewStore(kv domain.KeyValueStore, resolver domain.IdentityResolver, publisher domain.Publisher, opts ...Option) *Store {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	s := &Store{
		kv:        kv,
		resolver:  resolver,
		publisher: publisher,
		logger:    log.WithField("component", "cart-store"),
		metrics:   noopRecorder{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Identity возвращает текущую идентичность.
func (s *Store) Identity() domain.Identity {
	if s.resolver == nil {
		return domain.AnonymousIdentity
	}
	return s.resolver.CurrentIdentity()
}

// Key возвращает ключ корзины текущей идентичности.
func (s *Store) Key() string {
	return domain.CartKey(s.Identity())
}

// Read возвращает позиции корзины. Отсутствующее или повреждённое значение читается как [].
func (s *Store) Read() []domain.CartLine {
	return s.readFor(s.Identity())
}

// Count — сумма qty по позициям.
func (s *Store) Count() int {
	return domain.CountLines(s.Read())
}

// Total — сумма price * qty по позициям.
func (s *Store) Total() float64 {
	return domain.TotalLines(s.Read())
}

// Write целиком заменяет корзину и публикует уведомление.
// Некорректные позиции отбрасываются, дубликаты схлопываются.
func (s *Store) Write(lines []domain.CartLine) ([]domain.CartLine, error) {
	return s.mutate(opWrite, func([]domain.CartLine) []domain.CartLine {
		return lines
	})
}

// Upsert добавляет delta к количеству товара.
// Товар без идентификатора не меняет корзину: операция логируется и возвращает текущее состояние.
func (s *Store) Upsert(product domain.Product, delta int) ([]domain.CartLine, error) {
	id, err := domain.NormalizeProductID(product.ID)
	if err != nil {
		s.logger.WithError(err).Warn("upsert skipped: product id missing")
		s.metrics.RecordOperation(opUpsert, metrics.ResultNoop)
		return s.Read(), nil
	}
	product.ID = id
	op := opUpsert
	if delta < 0 {
		op = opDecrease
	}
	return s.mutate(op, func(current []domain.CartLine) []domain.CartLine {
		return ApplyDelta(current, product, delta)
	})
}

// UpsertValue принимает идентификатор или JSON-описание товара в сыром виде.
func (s *Store) UpsertValue(raw []byte, delta int) ([]domain.CartLine, error) {
	product, err := domain.DecodeProduct(raw)
	if err != nil {
		s.logger.WithError(err).Warn("upsert skipped: product descriptor not usable")
		s.metrics.RecordOperation(opUpsert, metrics.ResultNoop)
		return s.Read(), nil
	}
	return s.Upsert(product, delta)
}

// Decrease уменьшает количество товара на |qty|; qty == 0 считается единицей.
func (s *Store) Decrease(productID string, qty int) ([]domain.CartLine, error) {
	if qty == 0 {
		qty = 1
	}
	if qty > 0 {
		qty = -qty
	}
	return s.Upsert(domain.ProductRef(productID), qty)
}

// Remove удаляет позицию с указанным productId.
func (s *Store) Remove(productID string) ([]domain.CartLine, error) {
	id := strings.TrimSpace(productID)
	return s.mutate(opRemove, func(current []domain.CartLine) []domain.CartLine {
		next := make([]domain.CartLine, 0, len(current))
		for _, line := range current {
			if line.ProductID == id {
				continue
			}
			next = append(next, line)
		}
		return next
	})
}

// Clear записывает пустую корзину.
func (s *Store) Clear() ([]domain.CartLine, error) {
	return s.mutate(opClear, func([]domain.CartLine) []domain.CartLine {
		return nil
	})
}

// Notify повторно публикует текущее состояние корзины (например, после выхода пользователя).
func (s *Store) Notify() {
	identity := s.Identity()
	s.publish(domain.NewChangeEvent(identity, s.readFor(identity), domain.EventSourceLocal, s.now()))
}

// ApplyDelta вычисляет новое состояние корзины после изменения количества товара.
// Поля существующей позиции обновляются только непустыми значениями.
func ApplyDelta(current []domain.CartLine, product domain.Product, delta int) []domain.CartLine {
	next := domain.CloneLines(current)
	idx := domain.FindLine(next, product.ID)
	if idx < 0 {
		if delta <= 0 {
			return next
		}
		return append(next, domain.CartLine{
			ProductID: product.ID,
			Name:      product.Name,
			Price:     domain.SanitizePrice(product.Price),
			Image:     product.Image,
			Qty:       delta,
		})
	}

	line := next[idx]
	qty := line.Qty + delta
	if qty <= 0 {
		return append(next[:idx], next[idx+1:]...)
	}
	line.Qty = qty
	if product.Name != "" {
		line.Name = product.Name
	}
	if price := domain.SanitizePrice(product.Price); price > 0 {
		line.Price = price
	}
	if product.Image != "" {
		line.Image = product.Image
	}
	next[idx] = line
	return next
}

// mutate выполняет read-modify-write для текущей идентичности и публикует результат.
func (s *Store) mutate(op string, fn func(current []domain.CartLine) []domain.CartLine) ([]domain.CartLine, error) {
	s.mu.Lock()
	identity := s.Identity()
	current := s.readFor(identity)
	written, err := s.writeFor(identity, fn(domain.CloneLines(current)))
	s.mu.Unlock()

	if err != nil {
		s.metrics.RecordOperation(op, metrics.ResultFailed)
		return current, err
	}
	s.metrics.RecordOperation(op, metrics.ResultOK)
	s.publish(domain.NewChangeEvent(identity, written, domain.EventSourceLocal, s.now()))
	return written, nil
}

// readFor читает корзину явно указанной идентичности.
func (s *Store) readFor(identity domain.Identity) []domain.CartLine {
	key := domain.CartKey(identity)
	raw, ok, err := s.kv.Get(key)
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("cart unreadable, treating as empty")
		return []domain.CartLine{}
	}
	if !ok {
		return []domain.CartLine{}
	}
	return domain.DecodeCart(raw)
}

// writeFor сохраняет корзину явно указанной идентичности одной записью.
func (s *Store) writeFor(identity domain.Identity, lines []domain.CartLine) ([]domain.CartLine, error) {
	key := domain.CartKey(identity)
	sanitized := domain.SanitizeLines(lines)
	raw, err := domain.EncodeCart(sanitized)
	if err != nil {
		return nil, s.writeFailed(key, err)
	}
	if err := s.kv.Set(key, raw); err != nil {
		return nil, s.writeFailed(key, err)
	}
	s.metrics.ObserveCartSize(len(sanitized))
	return sanitized, nil
}

func (s *Store) writeFailed(key string, err error) error {
	s.metrics.RecordStorageWriteFailure()
	s.logger.WithError(err).WithField("key", key).Warn("cart write failed, keeping previous state")
	return fmt.Errorf("%w: %s: %w", domain.ErrStorageWrite, key, err)
}

func (s *Store) publish(event domain.ChangeEvent) {
	s.metrics.RecordNotification(string(event.Source))
	s.publisher.Publish(event)
}
