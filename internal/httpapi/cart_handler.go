package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/cartstore/internal/domain"
)

// cartResponse — представление корзины текущей идентичности.
type cartResponse struct {
	UserID string            `json:"userId"`
	Items  []domain.CartLine `json:"items"`
	Count  int               `json:"count"`
	Total  float64           `json:"total"`
}

type summaryResponse struct {
	UserID string  `json:"userId"`
	Count  int     `json:"count"`
	Total  float64 `json:"total"`
}

type addItemRequest struct {
	// Product — идентификатор (строка или число) либо объект товара в любом из принятых форматов.
	Product json.RawMessage `json:"product"`
	Qty     *int            `json:"qty"`
}

type decreaseRequest struct {
	Qty int `json:"qty"`
}

func (h *Handler) view(lines []domain.CartLine) cartResponse {
	if lines == nil {
		lines = []domain.CartLine{}
	}
	return cartResponse{
		UserID: h.store.Identity().String(),
		Items:  lines,
		Count:  domain.CountLines(lines),
		Total:  domain.TotalLines(lines),
	}
}

// GetCart возвращает корзину текущей идентичности.
func (h *Handler) GetCart(c *gin.Context) {
	c.JSON(http.StatusOK, h.view(h.store.Read()))
}

// GetSummary возвращает количество единиц и сумму корзины.
func (h *Handler) GetSummary(c *gin.Context) {
	lines := h.store.Read()
	c.JSON(http.StatusOK, summaryResponse{
		UserID: h.store.Identity().String(),
		Count:  domain.CountLines(lines),
		Total:  domain.TotalLines(lines),
	})
}

// AddItem добавляет qty (по умолчанию 1) к количеству товара. Отрицательный qty уменьшает количество.
func (h *Handler) AddItem(c *gin.Context) {
	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	qty := 1
	if req.Qty != nil {
		qty = *req.Qty
	}
	if qty == 0 {
		abortWithError(c, errZeroQty, nil)
		return
	}

	product, err := domain.DecodeProduct(req.Product)
	if err != nil {
		abortWithError(c, err, nil)
		return
	}

	lines, err := h.store.Upsert(product, qty)
	if err != nil {
		abortWithError(c, err, gin.H{"cart": h.view(lines)})
		return
	}
	c.JSON(http.StatusOK, h.view(lines))
}

// DecreaseItem уменьшает количество товара; тело {"qty": n} необязательно.
func (h *Handler) DecreaseItem(c *gin.Context) {
	var req decreaseRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	lines, err := h.store.Decrease(c.Param("id"), req.Qty)
	if err != nil {
		abortWithError(c, err, gin.H{"cart": h.view(lines)})
		return
	}
	c.JSON(http.StatusOK, h.view(lines))
}

// RemoveItem удаляет позицию целиком.
func (h *Handler) RemoveItem(c *gin.Context) {
	lines, err := h.store.Remove(c.Param("id"))
	if err != nil {
		abortWithError(c, err, gin.H{"cart": h.view(lines)})
		return
	}
	c.JSON(http.StatusOK, h.view(lines))
}

// ClearCart очищает корзину (оформление заказа в локальном режиме).
func (h *Handler) ClearCart(c *gin.Context) {
	lines, err := h.store.Clear()
	if err != nil {
		abortWithError(c, err, gin.H{"cart": h.view(lines)})
		return
	}
	c.JSON(http.StatusOK, h.view(lines))
}
