package cartsync

import (
	"sync"

	"github.com/vladislavdragonenkov/cartstore/internal/domain"
)

// View — подписчик уровня страницы корзины.
// Полезная нагрузка события не используется: на каждое уведомление корзина перечитывается.
type View struct {
	reader     domain.CartReader
	subscriber domain.Subscriber
	onChange   func([]domain.CartLine)

	mu          sync.RWMutex
	lines       []domain.CartLine
	refreshes   int
	unsubscribe func()
}

// ViewOption настраивает View.
type ViewOption func(*View)

// WithOnChange вызывает fn после каждого перечитывания.
func WithOnChange(fn func([]domain.CartLine)) ViewOption {
	return func(v *View) {
		v.onChange = fn
	}
}

// NewView создаёт закрытое представление.
func NewView(reader domain.CartReader, subscriber domain.Subscriber, opts ...ViewOption) *View {
	v := &View{
		reader:     reader,
		subscriber: subscriber,
		lines:      []domain.CartLine{},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Open загружает корзину и подписывается на уведомления.
func (v *View) Open() {
	v.mu.Lock()
	if v.unsubscribe != nil {
		v.mu.Unlock()
		return
	}
	v.lines = v.reader.Read()
	v.unsubscribe = v.subscriber.Subscribe(v.refresh)
	v.mu.Unlock()
}

// Close отписывается от уведомлений.
func (v *View) Close() {
	v.mu.Lock()
	unsubscribe := v.unsubscribe
	v.unsubscribe = nil
	v.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// Lines возвращает копию последнего прочитанного состояния.
func (v *View) Lines() []domain.CartLine {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return domain.CloneLines(v.lines)
}

// Count — количество единиц товара в представлении.
func (v *View) Count() int {
	return domain.CountLines(v.Lines())
}

// Total — сумма корзины в представлении.
func (v *View) Total() float64 {
	return domain.TotalLines(v.Lines())
}

// Refreshes возвращает число перечитываний после Open.
func (v *View) Refreshes() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.refreshes
}

func (v *View) refresh(domain.ChangeEvent) {
	lines := v.reader.Read()

	v.mu.Lock()
	v.lines = lines
	v.refreshes++
	onChange := v.onChange
	v.mu.Unlock()

	if onChange != nil {
		onChange(domain.CloneLines(lines))
	}
}
