package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cartstore/internal/domain"
)

const (
	defaultTimeout = 10 * time.Second
	productsPath   = "/cms/products"
	maxErrorBody   = 4096
)

const (
	// DefaultCategory присваивается товарам без категории.
	DefaultCategory = "Other"
	// PlaceholderImage подставляется, если у товара нет изображения.
	PlaceholderImage = "https://placehold.co/200x200"
)

var (
	itemsFields = []string{"products", "items", "results"}
	totalFields = []string{"totalResults", "total", "totalCount"}
)

// Option настраивает Client.
type Option func(*Client)

// WithHTTPClient подменяет HTTP-клиент.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithUserAgent задаёт заголовок User-Agent исходящих запросов.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// WithLogger задаёт логгер клиента.
func WithLogger(logger *log.Entry) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client — HTTP-клиент сервиса каталога.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *log.Entry
	userAgent  string
}

// NewClient создаёт клиент каталога с базовым адресом baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("catalog: empty base url")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("catalog: invalid base url %q", baseURL)
	}

	c := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     log.WithField("component", "catalog-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// QueryProducts запрашивает страницу каталога. Page начинается с 1; пустые параметры не передаются.
func (c *Client) QueryProducts(ctx context.Context, query domain.ProductQuery) (domain.ProductPage, error) {
	params := url.Values{}
	page := query.Page
	if page < 1 {
		page = 1
	}
	params.Set("page", strconv.Itoa(page))
	if query.Limit > 0 {
		params.Set("limit", strconv.Itoa(query.Limit))
	}
	if query.Search != "" {
		params.Set("search", query.Search)
	}
	if query.Category != "" {
		params.Set("category", query.Category)
	}
	if query.SortField != "" {
		params.Set("sortField", query.SortField)
	}
	if query.SortOrder != "" {
		params.Set("sortOrder", string(query.SortOrder))
	}

	body, err := c.get(ctx, productsPath, params)
	if err != nil {
		return domain.ProductPage{}, err
	}

	var payload map[string]any
	if err := decodeJSON(body, &payload); err != nil {
		return domain.ProductPage{}, fmt.Errorf("%w: decode products: %w", domain.ErrCatalogUnavailable, err)
	}

	items := c.mapItems(firstArray(payload, itemsFields...))
	total, ok := firstNumber(payload, totalFields...)
	if !ok {
		total = len(items)
	}
	return domain.ProductPage{Items: items, Total: total}, nil
}

// GetProduct запрашивает карточку товара. Принимается как сам объект, так и {"product": {...}}.
func (c *Client) GetProduct(ctx context.Context, id string) (domain.CatalogProduct, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.CatalogProduct{}, &domain.FieldError{Field: "productId", Err: domain.ErrProductIDMissing}
	}

	body, err := c.get(ctx, productsPath+"/"+url.PathEscape(id), nil)
	if err != nil {
		return domain.CatalogProduct{}, err
	}

	var payload map[string]any
	if err := decodeJSON(body, &payload); err != nil {
		return domain.CatalogProduct{}, fmt.Errorf("%w: decode product: %w", domain.ErrCatalogUnavailable, err)
	}
	if nested, ok := payload["product"].(map[string]any); ok {
		payload = nested
	}

	product, ok := mapProduct(payload)
	if !ok {
		return domain.CatalogProduct{}, fmt.Errorf("%w: %s", domain.ErrProductNotFound, id)
	}
	return product, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := c.baseURL.JoinPath(path)
	if len(params) > 0 {
		endpoint.RawQuery = params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCatalogUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", domain.ErrCatalogUnavailable, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		c.logger.WithFields(log.Fields{
			"path":   path,
			"status": resp.StatusCode,
		}).Warn("catalog request failed")
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrCatalogUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func (c *Client) mapItems(raw []any) []domain.CatalogProduct {
	items := make([]domain.CatalogProduct, 0, len(raw))
	for _, item := range raw {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		product, ok := mapProduct(obj)
		if !ok {
			c.logger.Debug("skipping catalog item without id")
			continue
		}
		items = append(items, product)
	}
	return items
}

func mapProduct(obj map[string]any) (domain.CatalogProduct, bool) {
	product, err := domain.ProductFromValue(obj)
	if err != nil {
		return domain.CatalogProduct{}, false
	}
	if product.Image == "" {
		product.Image = PlaceholderImage
	}

	category := DefaultCategory
	for _, field := range []string{"main_category", "category"} {
		if s, ok := obj[field].(string); ok && strings.TrimSpace(s) != "" {
			category = strings.TrimSpace(s)
			break
		}
	}
	description, _ := obj["description"].(string)

	return domain.CatalogProduct{
		Product:     product,
		Category:    category,
		Description: description,
	}, true
}

func decodeJSON(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(v)
}

func firstArray(obj map[string]any, fields ...string) []any {
	for _, field := range fields {
		if arr, ok := obj[field].([]any); ok {
			return arr
		}
	}
	return nil
}

func firstNumber(obj map[string]any, fields ...string) (int, bool) {
	for _, field := range fields {
		value, exists := obj[field]
		if !exists || value == nil {
			continue
		}
		return int(domain.CoerceNumber(value)), true
	}
	return 0, false
}

var _ domain.CatalogService = (*Client)(nil)
