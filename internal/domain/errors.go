package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrProductIDMissing возвращается, если из дескриптора товара не удалось извлечь идентификатор.
	ErrProductIDMissing = errors.New("product id is required")
	// ErrIdentityRequired — операция требует конкретного пользователя, а не анонимную корзину.
	ErrIdentityRequired = errors.New("concrete identity is required")
	// ErrStorageWrite — ошибка записи в постоянное key-value хранилище.
	ErrStorageWrite = errors.New("cart storage write failed")
	// ErrStorageRead — ошибка чтения из key-value хранилища (не путать с повреждёнными данными).
	ErrStorageRead = errors.New("cart storage read failed")
	// ErrQuotaExceeded — хранилище отказало в записи из-за превышения квоты.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	// ErrStorageUnavailable — хранилище отключено или не инициализировано.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrCredentialsRequired — не заполнены обязательные поля логина/регистрации.
	ErrCredentialsRequired = errors.New("please fill in all required fields")
	// ErrAuthFailed — сервис аутентификации отклонил запрос.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrUserRecordInvalid — ответ сервиса аутентификации не содержит идентификатора пользователя.
	ErrUserRecordInvalid = errors.New("user record has no identifier")
	// ErrCatalogUnavailable — каталог вернул ошибку или недоступен.
	ErrCatalogUnavailable = errors.New("catalog unavailable")
	// ErrProductNotFound — товар отсутствует в каталоге.
	ErrProductNotFound = errors.New("product not found")
)

// FieldError описывает отсутствующее или некорректное поле во входных данных.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// IsStorageWriteFailure проверяет, относится ли ошибка к сбою записи в хранилище.
func IsStorageWriteFailure(err error) bool {
	return errors.Is(err, ErrStorageWrite)
}

// IsProductIDMissing проверяет, что ошибка вызвана отсутствием идентификатора товара.
func IsProductIDMissing(err error) bool {
	return errors.Is(err, ErrProductIDMissing)
}
