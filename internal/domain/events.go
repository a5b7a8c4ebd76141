package domain

import (
	"encoding/json"
	"time"
)

// CartUpdatedEvent — имя широковещательного события об изменении корзины.
const CartUpdatedEvent = "cartUpdated"

// EventSource указывает, откуда пришло уведомление.
type EventSource string

const (
	// EventSourceLocal — запись в этом же контексте выполнения.
	EventSourceLocal EventSource = "local"
	// EventSourceStorage — нативный сигнал хранилища: ключ изменил другой контекст.
	EventSourceStorage EventSource = "storage"
	// EventSourceRemote — сигнал пришёл через брокер от другого процесса.
	EventSourceRemote EventSource = "remote"
	// EventSourceMerge — слияние анонимной корзины при входе.
	EventSourceMerge EventSource = "merge"
)

// ChangeEvent — уведомление об изменении корзины.
// В JSON сериализуется как detail события cartUpdated: {at, cart, userId}.
type ChangeEvent struct {
	At     time.Time
	Key    string
	UserID Identity
	Cart   []CartLine
	Source EventSource
}

type changeEventDetail struct {
	At     int64      `json:"at"`
	Cart   []CartLine `json:"cart"`
	UserID string     `json:"userId"`
}

// NewChangeEvent собирает событие для ключа корзины идентичности.
func NewChangeEvent(identity Identity, lines []CartLine, source EventSource, at time.Time) ChangeEvent {
	return ChangeEvent{
		At:     at,
		Key:    CartKey(identity),
		UserID: identity,
		Cart:   CloneLines(lines),
		Source: source,
	}
}

// MarshalJSON формирует detail в формате {at: epoch-ms, cart, userId}.
func (e ChangeEvent) MarshalJSON() ([]byte, error) {
	cart := e.Cart
	if cart == nil {
		cart = []CartLine{}
	}
	return json.Marshal(changeEventDetail{
		At:     e.At.UnixMilli(),
		Cart:   cart,
		UserID: e.UserID.String(),
	})
}

// UnmarshalJSON восстанавливает событие из detail; Key вычисляется из userId.
func (e *ChangeEvent) UnmarshalJSON(data []byte) error {
	var detail changeEventDetail
	if err := json.Unmarshal(data, &detail); err != nil {
		return err
	}
	e.At = time.UnixMilli(detail.At).UTC()
	e.UserID = Identity(detail.UserID)
	e.Key = CartKey(e.UserID)
	e.Cart = SanitizeLines(detail.Cart)
	return nil
}

// StorageChange — нативный сигнал хранилища об изменении ключа другим контекстом.
type StorageChange struct {
	Key      string
	OldValue string
	NewValue string
	// Removed — ключ удалён; NewValue в этом случае пустой.
	Removed bool
	// Origin — идентификатор контекста, выполнившего запись (если известен).
	Origin string
}
