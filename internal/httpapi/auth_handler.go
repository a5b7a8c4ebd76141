package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/cartstore/internal/auth"
	"github.com/vladislavdragonenkov/cartstore/internal/domain"
)

type signInResponse struct {
	User json.RawMessage `json:"user"`
	Cart cartResponse    `json:"cart"`
}

type meResponse struct {
	User   json.RawMessage `json:"user"`
	UserID string          `json:"userId"`
}

// Login выполняет вход; анонимная корзина сливается с корзиной пользователя.
func (h *Handler) Login(c *gin.Context) {
	h.signIn(c, auth.ModeLogin)
}

// Signup регистрирует пользователя и выполняет вход.
func (h *Handler) Signup(c *gin.Context) {
	h.signIn(c, auth.ModeSignup)
}

func (h *Handler) signIn(c *gin.Context, mode auth.Mode) {
	if h.session == nil {
		abortWithError(c, errAuthDisabled, nil)
		return
	}

	var creds domain.Credentials
	if err := c.ShouldBindJSON(&creds); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, lines, err := h.session.SignIn(c.Request.Context(), mode, creds)
	if err != nil {
		abortWithError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, signInResponse{User: user.Raw, Cart: h.view(lines)})
}

// Logout удаляет запись пользователя и возвращает анонимную корзину.
func (h *Handler) Logout(c *gin.Context) {
	if h.session == nil {
		abortWithError(c, errAuthDisabled, nil)
		return
	}

	if err := h.session.SignOut(); err != nil {
		abortWithError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, h.view(h.store.Read()))
}

// Me возвращает сохранённую запись пользователя или null.
func (h *Handler) Me(c *gin.Context) {
	resp := meResponse{User: json.RawMessage("null"), UserID: h.store.Identity().String()}
	if h.session != nil {
		if user, ok := h.session.CurrentUser(); ok {
			resp.User = user.Raw
		}
	}
	c.JSON(http.StatusOK, resp)
}
