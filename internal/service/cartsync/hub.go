package cartsync

import (
	"sync"

	"github.com/vladislavdragonenkov/cartstore/internal/domain"
)

// Hub — in-process шина уведомлений cartUpdated.
// Publish синхронный: к возврату все подписчики получили событие.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(domain.ChangeEvent)
	order  []int
}

// NewHub создаёт пустую шину.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]func(domain.ChangeEvent))}
}

// Subscribe добавляет обработчик. Повторный вызов unsubscribe ничего не делает.
func (h *Hub) Subscribe(fn func(domain.ChangeEvent)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = fn
	h.order = append(h.order, id)
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			for i, existing := range h.order {
				if existing == id {
					h.order = append(h.order[:i], h.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish доставляет событие подписчикам в порядке подписки.
// Каждый подписчик получает собственную копию позиций.
func (h *Hub) Publish(event domain.ChangeEvent) {
	h.mu.RLock()
	handlers := make([]func(domain.ChangeEvent), 0, len(h.order))
	for _, id := range h.order {
		handlers = append(handlers, h.subs[id])
	}
	h.mu.RUnlock()

	for _, handler := range handlers {
		copied := event
		copied.Cart = domain.CloneLines(event.Cart)
		handler(copied)
	}
}

// Subscribers возвращает количество активных подписок.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

var _ domain.EventBus = (*Hub)(nil)
