package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/cartstore/internal/catalog"
	"github.com/vladislavdragonenkov/cartstore/internal/domain"
)

const defaultPageLimit = 20

type productsResponse struct {
	Items      []domain.CatalogProduct `json:"items"`
	Total      int                     `json:"total"`
	Page       int                     `json:"page"`
	Limit      int                     `json:"limit"`
	Categories []string                `json:"categories"`
}

// ListProducts проксирует постраничный запрос в каталог и повторяет фильтрацию и сортировку локально.
func (h *Handler) ListProducts(c *gin.Context) {
	if h.catalog == nil {
		abortWithError(c, errCatalogDisabled, nil)
		return
	}

	query, err := parseProductQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	page, err := h.catalog.QueryProducts(c.Request.Context(), query)
	if err != nil {
		h.logger.WithError(err).Warn("catalog query failed")
		abortWithError(c, err, nil)
		return
	}

	items := catalog.ApplyLocal(page.Items, query)
	c.JSON(http.StatusOK, productsResponse{
		Items:      items,
		Total:      page.Total,
		Page:       query.Page,
		Limit:      query.Limit,
		Categories: catalog.Categories(page.Items),
	})
}

// GetProduct возвращает карточку товара.
func (h *Handler) GetProduct(c *gin.Context) {
	if h.catalog == nil {
		abortWithError(c, errCatalogDisabled, nil)
		return
	}

	product, err := h.catalog.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, product)
}

func parseProductQuery(c *gin.Context) (domain.ProductQuery, error) {
	query := domain.ProductQuery{
		Page:      1,
		Limit:     defaultPageLimit,
		Search:    strings.TrimSpace(c.Query("search")),
		Category:  strings.TrimSpace(c.Query("category")),
		SortField: strings.TrimSpace(c.Query("sortField")),
		SortOrder: domain.SortOrder(strings.ToLower(strings.TrimSpace(c.Query("sortOrder")))),
	}

	if raw := c.Query("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return query, &domain.FieldError{Field: "page", Err: strconv.ErrSyntax}
		}
		query.Page = page
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return query, &domain.FieldError{Field: "limit", Err: strconv.ErrSyntax}
		}
		query.Limit = limit
	}
	switch query.SortOrder {
	case "", domain.SortAsc, domain.SortDesc:
	default:
		return query, &domain.FieldError{Field: "sortOrder", Err: strconv.ErrSyntax}
	}
	return query, nil
}
