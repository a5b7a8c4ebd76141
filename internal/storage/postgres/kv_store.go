package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/cartstore/internal/domain"
)

const defaultQueryTimeout = 3 * time.Second

// Change — изменение ключа в таблице cart_kv.
type Change struct {
	Revision int64
	Key      string
	Value    string
	Deleted  bool
	Origin   string
}

// KVStore — key-value хранилище корзин в таблице cart_kv.
// Удаление оставляет tombstone, чтобы поллер других процессов увидел его по revision.
type KVStore struct {
	db      *sql.DB
	origin  string
	timeout time.Duration

	mu       sync.Mutex
	nextID   int
	watchers map[int]func(domain.StorageChange)
}

// KVOption настраивает KVStore.
type KVOption func(*KVStore)

// WithOrigin задаёт идентификатор процесса, которым помечаются записи.
func WithOrigin(origin string) KVOption {
	return func(s *KVStore) {
		if origin != "" {
			s.origin = origin
		}
	}
}

// WithQueryTimeout задаёт таймаут одного запроса.
func WithQueryTimeout(timeout time.Duration) KVOption {
	return func(s *KVStore) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// NewKVStore создаёт хранилище поверх подключения Store.
func NewKVStore(store *Store, opts ...KVOption) *KVStore {
	s := &KVStore{
		db:       store.DB(),
		origin:   uuid.NewString(),
		timeout:  defaultQueryTimeout,
		watchers: make(map[int]func(domain.StorageChange)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Origin возвращает идентификатор процесса.
func (s *KVStore) Origin() string {
	return s.origin
}

// Get читает значение ключа.
func (s *KVStore) Get(key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value
		FROM cart_kv
		WHERE key = $1 AND NOT deleted
	`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: select %s: %w", domain.ErrStorageRead, key, err)
	}
	return value, true, nil
}

// Set заменяет значение ключа целиком и присваивает новую revision.
func (s *KVStore) Set(key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO cart_kv (key, value, deleted, origin, revision, updated_at)
		VALUES ($1, $2, FALSE, $3, nextval('cart_kv_revision_seq'), NOW())
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			deleted = FALSE,
			origin = EXCLUDED.origin,
			revision = EXCLUDED.revision,
			updated_at = EXCLUDED.updated_at
	`, key, value, s.origin); err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

// Remove помечает ключ удалённым. Отсутствующий ключ ошибкой не считается.
func (s *KVStore) Remove(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `
		UPDATE cart_kv
		SET value = '', deleted = TRUE, origin = $2, revision = nextval('cart_kv_revision_seq'), updated_at = NOW()
		WHERE key = $1 AND NOT deleted
	`, key, s.origin); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// LatestRevision возвращает максимальную revision в таблице.
func (s *KVStore) LatestRevision(ctx context.Context) (int64, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var revision int64
	if err := s.db.QueryRowContext(queryCtx, `SELECT COALESCE(MAX(revision), 0) FROM cart_kv`).Scan(&revision); err != nil {
		return 0, fmt.Errorf("query latest revision: %w", err)
	}
	return revision, nil
}

// ChangesSince возвращает изменения с revision > after в порядке возрастания.
// revision берётся из sequence до COMMIT, поэтому строка с меньшей revision может появиться
// после уже прочитанной большей; ChangePoller перечитывает окно назад от курсора.
func (s *KVStore) ChangesSince(ctx context.Context, after int64, limit int) ([]Change, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(queryCtx, `
		SELECT revision, key, value, deleted, origin
		FROM cart_kv
		WHERE revision > $1
		ORDER BY revision ASC
		LIMIT $2
	`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("query changes since %d: %w", after, err)
	}
	defer rows.Close()

	changes := make([]Change, 0, limit)
	for rows.Next() {
		var change Change
		if err := rows.Scan(&change.Revision, &change.Key, &change.Value, &change.Deleted, &change.Origin); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		changes = append(changes, change)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changes: %w", err)
	}
	return changes, nil
}

// PurgeTombstones физически удаляет не более limit tombstone-записей старше before.
func (s *KVStore) PurgeTombstones(ctx context.Context, before time.Time, limit int) (int, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.db.ExecContext(queryCtx, `
		DELETE FROM cart_kv
		WHERE key IN (
			SELECT key
			FROM cart_kv
			WHERE deleted AND updated_at <= $1
			ORDER BY updated_at
			LIMIT $2
		)
	`, before, limit)
	if err != nil {
		return 0, fmt.Errorf("purge tombstones: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge tombstones rows affected: %w", err)
	}
	return int(affected), nil
}

// Watch подписывает fn на изменения других процессов. Сигналы доставляет ChangePoller.
func (s *KVStore) Watch(fn func(domain.StorageChange)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, id)
			s.mu.Unlock()
		})
	}
}

// Dispatch доставляет изменение подписчикам Watch.
func (s *KVStore) Dispatch(change domain.StorageChange) {
	s.mu.Lock()
	fns := make([]func(domain.StorageChange), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(change)
	}
}

var _ domain.Storage = (*KVStore)(nil)
