package auth

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cartstore/internal/domain"
	"github.com/vladislavdragonenkov/cartstore/internal/identity"
	"github.com/vladislavdragonenkov/cartstore/internal/service/cart"
)

// Session связывает сервис аутентификации, запись пользователя в хранилище и корзину.
type Session struct {
	auth   domain.AuthService
	kv     domain.KeyValueStore
	store  *cart.Store
	merge  *cart.MergeEngine
	logger *log.Entry
}

// NewSession создаёт сессию поверх хранилища kv, в котором живёт корзина store.
func NewSession(auth domain.AuthService, kv domain.KeyValueStore, store *cart.Store, merge *cart.MergeEngine, logger *log.Entry) *Session {
	if logger == nil {
		logger = log.WithField("component", "auth-session")
	}
	return &Session{auth: auth, kv: kv, store: store, merge: merge, logger: logger}
}

// SignIn выполняет вход или регистрацию. Если до входа корзина была анонимной,
// она сливается с корзиной пользователя до сохранения записи пользователя.
func (s *Session) SignIn(ctx context.Context, mode Mode, creds domain.Credentials) (domain.UserRecord, []domain.CartLine, error) {
	if err := ValidateCredentials(mode, creds); err != nil {
		return domain.UserRecord{}, nil, err
	}

	var (
		user domain.UserRecord
		err  error
	)
	switch mode {
	case ModeLogin:
		user, err = s.auth.Login(ctx, creds)
	case ModeSignup:
		user, err = s.auth.Signup(ctx, creds)
	default:
		return domain.UserRecord{}, nil, fmt.Errorf("unsupported auth mode %q", mode)
	}
	if err != nil {
		return domain.UserRecord{}, nil, err
	}
	if user.ID.IsAnonymous() || len(user.Raw) == 0 {
		return domain.UserRecord{}, nil, domain.ErrUserRecordInvalid
	}

	commit := func() error {
		_, err := identity.SaveUserRecord(s.kv, user.Raw)
		return err
	}

	logger := s.logger.WithFields(log.Fields{"mode": mode, "user_id": user.ID})
	if s.store.Identity().IsAnonymous() {
		lines, err := s.merge.SignIn(user.ID, commit)
		if err != nil {
			logger.WithError(err).Warn("sign in with cart merge failed")
			return domain.UserRecord{}, lines, err
		}
		logger.WithField("lines", len(lines)).Info("signed in, anonymous cart merged")
		return user, lines, nil
	}

	if err := commit(); err != nil {
		logger.WithError(err).Warn("failed to persist user record")
		return domain.UserRecord{}, s.store.Read(), err
	}
	s.store.Notify()
	logger.Info("signed in")
	return user, s.store.Read(), nil
}

// SignOut удаляет запись пользователя и уведомляет подписчиков о теперь анонимной корзине.
func (s *Session) SignOut() error {
	if err := identity.ClearUserRecord(s.kv); err != nil {
		return err
	}
	s.store.Notify()
	s.logger.Info("signed out")
	return nil
}

// CurrentUser возвращает сохранённую запись пользователя.
func (s *Session) CurrentUser() (domain.UserRecord, bool) {
	raw, ok, err := s.kv.Get(domain.UserRecordKey)
	if err != nil || !ok {
		return domain.UserRecord{}, false
	}
	user, err := DecodeUser([]byte(raw))
	if err != nil {
		return domain.UserRecord{}, false
	}
	return user, true
}
