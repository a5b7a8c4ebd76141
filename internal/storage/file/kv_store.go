package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cartstore/internal/domain"
)

const (
	valueSuffix = ".kv"
	tempPrefix  = ".tmp-"
)

// Option настраивает Store.
type Option func(*Store)

// WithLogger задаёт логгер хранилища.
func WithLogger(logger *log.Entry) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// entry — последнее известное состояние ключа.
type entry struct {
	value  string
	exists bool
}

// Store — key-value хранилище в каталоге: один файл на ключ.
// Несколько процессов над одним каталогом видят записи друг друга через fsnotify.
// Запись атомарна: временный файл и rename.
type Store struct {
	dir    string
	logger *log.Entry

	mu       sync.Mutex
	known    map[string]entry
	watchers map[int]func(domain.StorageChange)
	nextID   int

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// Open создаёт каталог при необходимости и возвращает хранилище.
func Open(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("file store: %w: empty directory", domain.ErrStorageUnavailable)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file store: create %s: %w", dir, err)
	}
	s := &Store{
		dir:      dir,
		logger:   log.WithField("component", "file-kv-store"),
		known:    make(map[string]entry),
		watchers: make(map[int]func(domain.StorageChange)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir возвращает каталог хранилища.
func (s *Store) Dir() string {
	return s.dir
}

// Get читает значение ключа.
func (s *Store) Get(key string) (string, bool, error) {
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %s: %w", domain.ErrStorageRead, key, err)
	}
	return string(data), true, nil
}

// Set атомарно заменяет значение ключа.
func (s *Store) Set(key, value string) error {
	tmp, err := os.CreateTemp(s.dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("file store: create temp for %s: %w", key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(value); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("file store: write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("file store: close %s: %w", key, err)
	}

	s.mu.Lock()
	previous, hadPrevious := s.known[key]
	s.known[key] = entry{value: value, exists: true}
	s.mu.Unlock()

	if err := os.Rename(tmpName, s.path(key)); err != nil {
		_ = os.Remove(tmpName)
		s.mu.Lock()
		if hadPrevious {
			s.known[key] = previous
		} else {
			delete(s.known, key)
		}
		s.mu.Unlock()
		return fmt.Errorf("file store: replace %s: %w", key, err)
	}
	return nil
}

// Remove удаляет ключ; отсутствие файла ошибкой не считается.
func (s *Store) Remove(key string) error {
	s.mu.Lock()
	s.known[key] = entry{}
	s.mu.Unlock()

	err := os.Remove(s.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("file store: remove %s: %w", key, err)
	}
	return nil
}

// Watch подписывает fn на изменения, сделанные другими процессами.
// Сигналы приходят только после Start.
func (s *Store) Watch(fn func(domain.StorageChange)) func() {
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

// Start запускает наблюдение за каталогом в отдельной горутине.
func (s *Store) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("file store: create watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("file store: watch %s: %w", s.dir, err)
	}

	s.watcher = watcher
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.running = true

	go s.run(ctx, watcher, s.stopCh, s.doneCh)
	s.logger.WithField("dir", s.dir).Info("file store watcher started")
	return nil
}

// Stop останавливает наблюдение и дожидается завершения горутины.
func (s *Store) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	watcher, stopCh, doneCh := s.watcher, s.stopCh, s.doneCh
	s.watcher = nil
	s.mu.Unlock()

	close(stopCh)
	<-doneCh

	if err := watcher.Close(); err != nil {
		s.logger.WithError(err).Warn("close watcher")
	}
	s.logger.Info("file store watcher stopped")
}

// Close — то же, что Stop; нужен для io.Closer.
func (s *Store) Close() error {
	s.Stop()
	return nil
}

func (s *Store) run(ctx context.Context, watcher *fsnotify.Watcher, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			s.handleEvent(event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.WithError(err).Warn("file watcher error")
		}
	}
}

func (s *Store) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	key, ok := keyFromPath(event.Name)
	if !ok {
		return
	}

	value, exists, err := s.Get(key)
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Debug("changed file unreadable")
		return
	}
	current := entry{value: value, exists: exists}

	s.mu.Lock()
	previous := s.known[key]
	if previous == current {
		s.mu.Unlock()
		return
	}
	s.known[key] = current
	fns := make([]func(domain.StorageChange), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	change := domain.StorageChange{
		Key:      key,
		OldValue: previous.value,
		NewValue: current.value,
		Removed:  !current.exists,
	}
	for _, fn := range fns {
		fn(change)
	}
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, url.PathEscape(key)+valueSuffix)
}

func keyFromPath(path string) (string, bool) {
	name := filepath.Base(path)
	if strings.HasPrefix(name, tempPrefix) || !strings.HasSuffix(name, valueSuffix) {
		return "", false
	}
	key, err := url.PathUnescape(strings.TrimSuffix(name, valueSuffix))
	if err != nil || key == "" {
		return "", false
	}
	return key, true
}

var _ domain.Storage = (*Store)(nil)
