package identity

import (
	"bytes"
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cartstore/internal/domain"
)

// userIDFields — поля записи пользователя в порядке приоритета.
var userIDFields = []string{"id", "userId", "_id"}

// Resolver вычисляет текущую идентичность по записи пользователя в хранилище.
// Кэша нет: запись перечитывается на каждый вызов, так как может смениться в любой момент.
type Resolver struct {
	kv     domain.KeyValueStore
	logger *log.Entry
}

// NewResolver создаёт резолвер поверх key-value хранилища.
func NewResolver(kv domain.KeyValueStore, logger *log.Entry) *Resolver {
	if logger == nil {
		logger = log.WithField("component", "identity-resolver")
	}
	return &Resolver{kv: kv, logger: logger}
}

// CurrentIdentity возвращает идентичность пользователя или AnonymousIdentity.
// Любая ошибка чтения или разбора деградирует до анонимной корзины.
func (r *Resolver) CurrentIdentity() domain.Identity {
	if r == nil || r.kv == nil {
		return domain.AnonymousIdentity
	}

	raw, ok, err := r.kv.Get(domain.UserRecordKey)
	if err != nil {
		r.logger.WithError(err).Debug("user record unreadable, using anonymous identity")
		return domain.AnonymousIdentity
	}
	if !ok {
		return domain.AnonymousIdentity
	}

	identity, ok := ParseUserRecord([]byte(raw))
	if !ok {
		return domain.AnonymousIdentity
	}
	return identity
}

// CurrentKey возвращает ключ корзины для текущей идентичности.
func (r *Resolver) CurrentKey() string {
	return domain.CartKey(r.CurrentIdentity())
}

// ParseUserRecord извлекает идентификатор из JSON записи пользователя (id, userId, _id).
func ParseUserRecord(raw []byte) (domain.Identity, bool) {
	var obj map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return domain.AnonymousIdentity, false
	}

	for _, field := range userIDFields {
		value, exists := obj[field]
		if !exists || value == nil {
			continue
		}
		id, ok := domain.ScalarString(value)
		if !ok || id == "" {
			continue
		}
		return domain.Identity(id), true
	}
	return domain.AnonymousIdentity, false
}

// SaveUserRecord сохраняет запись пользователя под ключом "user".
// Запись без идентификатора отклоняется с ErrUserRecordInvalid.
func SaveUserRecord(kv domain.KeyValueStore, raw []byte) (domain.Identity, error) {
	identity, ok := ParseUserRecord(raw)
	if !ok {
		return domain.AnonymousIdentity, domain.ErrUserRecordInvalid
	}
	if err := kv.Set(domain.UserRecordKey, string(raw)); err != nil {
		return domain.AnonymousIdentity, fmt.Errorf("save user record: %w", err)
	}
	return identity, nil
}

// ClearUserRecord удаляет запись пользователя (выход из системы).
func ClearUserRecord(kv domain.KeyValueStore) error {
	if err := kv.Remove(domain.UserRecordKey); err != nil {
		return fmt.Errorf("clear user record: %w", err)
	}
	return nil
}

var _ domain.IdentityResolver = (*Resolver)(nil)
