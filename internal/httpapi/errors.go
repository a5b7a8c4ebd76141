package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/cartstore/internal/auth"
	"github.com/vladislavdragonenkov/cartstore/internal/domain"
)

var (
	errCatalogDisabled = errors.New("catalog is not configured")
	errAuthDisabled    = errors.New("authentication is not configured")
	errEventsDisabled  = errors.New("event stream is not configured")
	errZeroQty         = errors.New("qty must not be zero")
)

// statusFor сопоставляет доменные ошибки HTTP-статусам.
func statusFor(err error) int {
	var rejected *auth.RejectedError
	switch {
	case errors.As(err, &rejected):
		if rejected.Status >= 400 && rejected.Status < 500 {
			return rejected.Status
		}
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrProductIDMissing),
		errors.Is(err, domain.ErrCredentialsRequired),
		errors.Is(err, errZeroQty):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrProductNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrQuotaExceeded):
		return http.StatusInsufficientStorage
	case errors.Is(err, domain.ErrCatalogUnavailable),
		errors.Is(err, domain.ErrAuthFailed),
		errors.Is(err, domain.ErrUserRecordInvalid):
		return http.StatusBadGateway
	case errors.Is(err, errCatalogDisabled),
		errors.Is(err, errAuthDisabled),
		errors.Is(err, errEventsDisabled),
		errors.Is(err, domain.ErrStorageUnavailable),
		errors.Is(err, domain.ErrStorageRead):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// abortWithError отвечает {"error": "..."} и сохраняет ошибку для логгера запросов.
// Состояние корзины после неудачной записи добавляется в ответ, если передано.
func abortWithError(c *gin.Context, err error, extra gin.H) {
	_ = c.Error(err)
	body := gin.H{"error": err.Error()}
	for k, v := range extra {
		body[k] = v
	}
	c.AbortWithStatusJSON(statusFor(err), body)
}
