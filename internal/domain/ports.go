package domain

import (
	"context"
	"encoding/json"
)

// KeyValueStore — постоянное key-value хранилище устройства (аналог localStorage).
// Запись всегда заменяет значение целиком.
type KeyValueStore interface {
	// Get возвращает значение и признак наличия ключа.
	Get(key string) (string, bool, error)
	// Set атомарно заменяет значение ключа.
	Set(key, value string) error
	// Remove удаляет ключ; отсутствие ключа ошибкой не считается.
	Remove(key string) error
}

// ChangeSource — источник нативных сигналов об изменениях, сделанных другими контекстами.
type ChangeSource interface {
	// Watch подписывает fn; возвращённая функция отменяет подписку.
	Watch(fn func(StorageChange)) (cancel func())
}

// Storage объединяет хранилище и его сигнал изменений.
type Storage interface {
	KeyValueStore
	ChangeSource
}

// Publisher рассылает уведомления об изменении корзины.
type Publisher interface {
	Publish(event ChangeEvent)
}

// Subscriber позволяет подписаться на уведомления; отписка симметрична подписке.
type Subscriber interface {
	Subscribe(fn func(ChangeEvent)) (unsubscribe func())
}

// EventBus — in-process шина, объединяющая Publisher и Subscriber.
type EventBus interface {
	Publisher
	Subscriber
}

// IdentityResolver вычисляет текущую идентичность при каждом вызове.
type IdentityResolver interface {
	CurrentIdentity() Identity
}

// CartReader — минимальный интерфейс чтения корзины для подписчиков.
type CartReader interface {
	Read() []CartLine
}

// SortOrder — направление сортировки каталога.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// ProductQuery — запрос постраничной выдачи каталога. Page начинается с 1.
type ProductQuery struct {
	Page      int
	Limit     int
	Search    string
	Category  string
	SortField string
	SortOrder SortOrder
}

// CatalogProduct — товар каталога с категорией.
type CatalogProduct struct {
	Product
	Category    string `json:"category"`
	Description string `json:"description,omitempty"`
}

// ProductPage — страница выдачи каталога.
type ProductPage struct {
	Items []CatalogProduct `json:"items"`
	Total int              `json:"total"`
}

// CatalogService — внешний сервис каталога.
type CatalogService interface {
	QueryProducts(ctx context.Context, query ProductQuery) (ProductPage, error)
	GetProduct(ctx context.Context, id string) (CatalogProduct, error)
}

// Credentials — данные формы входа/регистрации.
type Credentials struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}

// UserRecord — пользователь, возвращённый сервисом аутентификации.
type UserRecord struct {
	ID       Identity
	Username string
	Email    string
	// Raw — исходный JSON пользователя, сохраняется под ключом "user" как есть.
	Raw json.RawMessage
}

// AuthService — внешний сервис аутентификации.
type AuthService interface {
	Login(ctx context.Context, creds Credentials) (UserRecord, error)
	Signup(ctx context.Context, creds Credentials) (UserRecord, error)
}
