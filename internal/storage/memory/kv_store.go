package memory

import (
	"sync"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/cartstore/internal/domain"
)

// SharedStorage — in-memory аналог localStorage одного origin.
// Контексты выполнения (вкладки) получают собственные представления через Context();
// запись через одно представление порождает сигнал StorageChange во всех остальных.
type SharedStorage struct {
	mu       sync.RWMutex
	values   map[string]string
	quota    int
	contexts map[string]*contextStorage
}

// Option настраивает SharedStorage.
type Option func(*SharedStorage)

// WithQuota ограничивает суммарный размер ключей и значений в байтах (0 — без ограничения).
func WithQuota(bytes int) Option {
	return func(s *SharedStorage) {
		s.quota = bytes
	}
}

// NewSharedStorage создаёт пустое хранилище origin.
func NewSharedStorage(options ...Option) *SharedStorage {
	s := &SharedStorage{
		values:   make(map[string]string),
		contexts: make(map[string]*contextStorage),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// NewKeyValueStore возвращает хранилище с единственным контекстом (для локальной разработки и тестов).
func NewKeyValueStore() domain.Storage {
	return NewSharedStorage().Context()
}

// Context регистрирует новый контекст выполнения и возвращает его представление.
func (s *SharedStorage) Context() domain.Storage {
	ctx := &contextStorage{
		shared:   s,
		origin:   uuid.NewString(),
		watchers: make(map[int]func(domain.StorageChange)),
	}
	s.mu.Lock()
	s.contexts[ctx.origin] = ctx
	s.mu.Unlock()
	return ctx
}

// SetQuota меняет квоту во время работы (используется в тестах для имитации переполнения).
func (s *SharedStorage) SetQuota(bytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quota = bytes
}

// Len возвращает количество записей.
func (s *SharedStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

func (s *SharedStorage) get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[key]
	return value, ok
}

func (s *SharedStorage) set(origin, key, value string) error {
	s.mu.Lock()
	old, existed := s.values[key]
	if s.quota > 0 {
		size := s.sizeLocked() + len(key) + len(value)
		if existed {
			size -= len(key) + len(old)
		}
		if size > s.quota {
			s.mu.Unlock()
			return domain.ErrQuotaExceeded
		}
	}
	s.values[key] = value
	targets := s.othersLocked(origin)
	s.mu.Unlock()

	if existed && old == value {
		return nil
	}
	change := domain.StorageChange{Key: key, OldValue: old, NewValue: value, Origin: origin}
	for _, target := range targets {
		target.dispatch(change)
	}
	return nil
}

func (s *SharedStorage) remove(origin, key string) {
	s.mu.Lock()
	old, existed := s.values[key]
	delete(s.values, key)
	targets := s.othersLocked(origin)
	s.mu.Unlock()

	if !existed {
		return
	}
	change := domain.StorageChange{Key: key, OldValue: old, Removed: true, Origin: origin}
	for _, target := range targets {
		target.dispatch(change)
	}
}

func (s *SharedStorage) sizeLocked() int {
	var size int
	for k, v := range s.values {
		size += len(k) + len(v)
	}
	return size
}

func (s *SharedStorage) othersLocked(origin string) []*contextStorage {
	result := make([]*contextStorage, 0, len(s.contexts))
	for id, ctx := range s.contexts {
		if id == origin {
			continue
		}
		result = append(result, ctx)
	}
	return result
}

// contextStorage — представление SharedStorage для одного контекста выполнения.
type contextStorage struct {
	shared *SharedStorage
	origin string

	mu       sync.Mutex
	nextID   int
	watchers map[int]func(domain.StorageChange)
}

func (c *contextStorage) Get(key string) (string, bool, error) {
	value, ok := c.shared.get(key)
	return value, ok, nil
}

func (c *contextStorage) Set(key, value string) error {
	return c.shared.set(c.origin, key, value)
}

func (c *contextStorage) Remove(key string) error {
	c.shared.remove(c.origin, key)
	return nil
}

// Watch подписывает fn на изменения, сделанные другими контекстами.
func (c *contextStorage) Watch(fn func(domain.StorageChange)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.watchers[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.watchers, id)
			c.mu.Unlock()
		})
	}
}

func (c *contextStorage) dispatch(change domain.StorageChange) {
	c.mu.Lock()
	fns := make([]func(domain.StorageChange), 0, len(c.watchers))
	for _, fn := range c.watchers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(change)
	}
}

var _ domain.Storage = (*contextStorage)(nil)
