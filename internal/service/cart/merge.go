package cart

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cartstore/internal/domain"
	"github.com/vladislavdragonenkov/cartstore/internal/metrics"
)

// MergeEngine переносит анонимную корзину в корзину пользователя при входе.
type MergeEngine struct {
	store  *Store
	logger *log.Entry
}

// NewMergeEngine создаёт движок слияния поверх Store.
func NewMergeEngine(store *Store) *MergeEngine {
	return &MergeEngine{
		store:  store,
		logger: store.logger.WithField("component", "cart-merge"),
	}
}

// mergeResult — итог слияния под блокировкой Store.
type mergeResult struct {
	lines  []domain.CartLine
	target domain.Identity

	// Исходные значения записей до слияния, нужны для отката.
	anonymousRaw  string
	targetRaw     string
	targetExisted bool
	merged        bool
}

// MergeAnonymousInto складывает анонимную корзину с корзиной target и удаляет анонимную запись.
// Без анонимной записи возвращает корзину target без записи в хранилище.
func (m *MergeEngine) MergeAnonymousInto(target domain.Identity) ([]domain.CartLine, error) {
	result, err := m.merge(target)
	if err != nil {
		return result.lines, err
	}
	if result.merged {
		m.store.publish(domain.NewChangeEvent(target, result.lines, domain.EventSourceMerge, m.store.now()))
	}
	return result.lines, nil
}

// SignIn выполняет слияние, затем commit (сохранение записи пользователя), затем публикует корзину target.
// Так ни одно чтение под новой идентичностью не опережает слияние.
// Если commit вернул ошибку, обе корзины возвращаются в исходное состояние.
func (m *MergeEngine) SignIn(target domain.Identity, commit func() error) ([]domain.CartLine, error) {
	result, err := m.merge(target)
	if err != nil {
		return result.lines, err
	}

	if commit != nil {
		if err := commit(); err != nil {
			m.rollback(result)
			return result.lines, fmt.Errorf("commit identity %s: %w", target, err)
		}
	}

	m.store.publish(domain.NewChangeEvent(target, result.lines, domain.EventSourceMerge, m.store.now()))
	return result.lines, nil
}

func (m *MergeEngine) merge(target domain.Identity) (mergeResult, error) {
	if target.IsAnonymous() {
		m.store.metrics.RecordMerge(metrics.ResultFailed)
		return mergeResult{lines: []domain.CartLine{}}, domain.ErrIdentityRequired
	}

	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()

	targetKey := domain.CartKey(target)
	targetRaw, targetExisted, err := s.kv.Get(targetKey)
	if err != nil {
		// Без исходного значения target нельзя ни слить, ни откатить.
		s.metrics.RecordMerge(metrics.ResultFailed)
		m.logger.WithError(err).WithField("key", targetKey).Warn("target cart unreadable, merge aborted")
		return mergeResult{lines: []domain.CartLine{}}, fmt.Errorf("%w: %s: %w", domain.ErrStorageRead, targetKey, err)
	}
	existing := []domain.CartLine{}
	if targetExisted {
		existing = domain.DecodeCart(targetRaw)
	}

	anonKey := domain.AnonymousCartKey()
	raw, ok, err := s.kv.Get(anonKey)
	if err != nil {
		m.logger.WithError(err).Warn("anonymous cart unreadable, nothing to merge")
		ok = false
	}
	if !ok {
		s.metrics.RecordMerge(metrics.ResultSkipped)
		return mergeResult{lines: existing}, nil
	}

	anonymous := domain.DecodeCart(raw)
	merged := MergeLines(existing, anonymous)

	written, err := s.writeFor(target, merged)
	if err != nil {
		s.metrics.RecordMerge(metrics.ResultFailed)
		return mergeResult{lines: existing}, err
	}
	if err := s.kv.Remove(anonKey); err != nil {
		// Анонимная корзина осталась, поэтому target возвращается к исходному значению.
		s.metrics.RecordMerge(metrics.ResultFailed)
		m.logger.WithError(err).WithField("key", anonKey).Warn("anonymous cart not removed, merge reverted")
		m.restoreTarget(targetKey, targetRaw, targetExisted)
		return mergeResult{lines: existing}, fmt.Errorf("%w: remove %s: %w", domain.ErrStorageWrite, anonKey, err)
	}

	s.metrics.RecordMerge(metrics.ResultOK)
	m.logger.WithFields(log.Fields{
		"target":          target.String(),
		"anonymous_lines": len(anonymous),
		"merged_lines":    len(written),
	}).Info("anonymous cart merged")
	return mergeResult{
		lines:         written,
		target:        target,
		anonymousRaw:  raw,
		targetRaw:     targetRaw,
		targetExisted: targetExisted,
		merged:        true,
	}, nil
}

// rollback возвращает анонимную запись и корзину target в состояние до слияния.
func (m *MergeEngine) rollback(result mergeResult) {
	if !result.merged {
		return
	}
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Set(domain.AnonymousCartKey(), result.anonymousRaw); err != nil {
		m.logger.WithError(err).Error("anonymous cart not restored after failed sign-in")
	}
	m.restoreTarget(domain.CartKey(result.target), result.targetRaw, result.targetExisted)
}

// restoreTarget возвращает значение target до слияния. Вызывается под s.mu.
func (m *MergeEngine) restoreTarget(key, raw string, existed bool) {
	var err error
	if existed {
		err = m.store.kv.Set(key, raw)
	} else {
		err = m.store.kv.Remove(key)
	}
	if err != nil {
		m.logger.WithError(err).WithField("key", key).Error("target cart not restored after failed merge")
	}
}

// MergeLines складывает количество по productId.
// Сначала идут позиции target в их порядке, затем позиции только из anonymous.
// При конфликте name/price/image берутся из target; пустые поля target дополняются из anonymous.
func MergeLines(target, anonymous []domain.CartLine) []domain.CartLine {
	merged := domain.SanitizeLines(target)
	for _, line := range domain.SanitizeLines(anonymous) {
		idx := domain.FindLine(merged, line.ProductID)
		if idx < 0 {
			merged = append(merged, line)
			continue
		}
		existing := merged[idx]
		existing.Qty += line.Qty
		if existing.Name == "" {
			existing.Name = line.Name
		}
		if existing.Price == 0 {
			existing.Price = line.Price
		}
		if existing.Image == "" {
			existing.Image = line.Image
		}
		merged[idx] = existing
	}
	return merged
}
