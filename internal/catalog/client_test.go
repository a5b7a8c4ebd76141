package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/cartstore/internal/domain"
)

func loggerForTests() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger.WithField("component", "test")
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(server.URL+"/", WithHTTPClient(server.Client()), WithLogger(loggerForTests()))
	require.NoError(t, err)
	return client, server
}

func TestNewClient_ValidatesBaseURL(t *testing.T) {
	for _, raw := range []string{"", "   ", "not a url", "/relative"} {
		_, err := NewClient(raw)
		require.Error(t, err, raw)
	}
}

func TestClient_QueryProducts_SendsParams(t *testing.T) {
	var got url.Values
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/cms/products", r.URL.Path)
		got = r.URL.Query()
		_, _ = w.Write([]byte(`{"products":[],"totalResults":0}`))
	})

	_, err := client.QueryProducts(context.Background(), domain.ProductQuery{
		Page:      2,
		Limit:     20,
		Search:    "milk",
		Category:  "Dairy",
		SortField: "price",
		SortOrder: domain.SortAsc,
	})
	require.NoError(t, err)
	require.Equal(t, url.Values{
		"page":      {"2"},
		"limit":     {"20"},
		"search":    {"milk"},
		"category":  {"Dairy"},
		"sortField": {"price"},
		"sortOrder": {"asc"},
	}, got)
}

func TestClient_QueryProducts_OmitsEmptyParams(t *testing.T) {
	var got url.Values
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		_, _ = w.Write([]byte(`{}`))
	})

	page, err := client.QueryProducts(context.Background(), domain.ProductQuery{})
	require.NoError(t, err)
	require.Equal(t, url.Values{"page": {"1"}}, got)
	require.Empty(t, page.Items)
	require.Zero(t, page.Total)
}

func TestClient_QueryProducts_MapsTolerantPayload(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
			"items": [
				{"_id": "a1", "title": "Milk", "mrp": {"mrp": 40}, "images": {"front": "https://img/a1.png"}, "main_category": "Dairy"},
				{"sku_code": 77, "display_name": "Bread", "price": "25.5", "category": "Bakery"},
				{"id": "c3", "name": "Salt", "mrp": 12},
				{"name": "no id"},
				"junk"
			],
			"total": "120"
		}`))
	})

	page, err := client.QueryProducts(context.Background(), domain.ProductQuery{Page: 1})
	require.NoError(t, err)

	want := []domain.CatalogProduct{
		{Product: domain.Product{ID: "a1", Name: "Milk", Price: 40, Image: "https://img/a1.png"}, Category: "Dairy"},
		{Product: domain.Product{ID: "77", Name: "Bread", Price: 25.5, Image: PlaceholderImage}, Category: "Bakery"},
		{Product: domain.Product{ID: "c3", Name: "Salt", Price: 12, Image: PlaceholderImage}, Category: DefaultCategory},
	}
	if diff := cmp.Diff(want, page.Items); diff != "" {
		t.Fatalf("items mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, 120, page.Total)
}

func TestClient_QueryProducts_TotalFallsBackToItemCount(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"id":"x"},{"id":"y"}]}`))
	})

	page, err := client.QueryProducts(context.Background(), domain.ProductQuery{})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.Equal(t, 2, page.Total)
}

func TestClient_QueryProducts_Errors(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "boom", http.StatusBadGateway)
		})
		_, err := client.QueryProducts(context.Background(), domain.ProductQuery{})
		require.ErrorIs(t, err, domain.ErrCatalogUnavailable)
	})

	t.Run("malformed body", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`[1,2`))
		})
		_, err := client.QueryProducts(context.Background(), domain.ProductQuery{})
		require.ErrorIs(t, err, domain.ErrCatalogUnavailable)
	})

	t.Run("transport", func(t *testing.T) {
		client, server := newTestClient(t, func(http.ResponseWriter, *http.Request) {})
		server.Close()
		_, err := client.QueryProducts(context.Background(), domain.ProductQuery{})
		require.ErrorIs(t, err, domain.ErrCatalogUnavailable)
	})
}

func TestClient_GetProduct(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cms/products/a1":
			_, _ = w.Write([]byte(`{"id":"a1","name":"Milk","price":40,"description":"Fresh"}`))
		case "/cms/products/b2":
			_, _ = w.Write([]byte(`{"product":{"_id":"b2","title":"Tea","gs1_images":{"front":"https://img/b2.png"}}}`))
		case "/cms/products/empty":
			_, _ = w.Write([]byte(`{}`))
		default:
			http.NotFound(w, r)
		}
	})

	product, err := client.GetProduct(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, domain.CatalogProduct{
		Product:     domain.Product{ID: "a1", Name: "Milk", Price: 40, Image: PlaceholderImage},
		Category:    DefaultCategory,
		Description: "Fresh",
	}, product)

	product, err = client.GetProduct(context.Background(), "b2")
	require.NoError(t, err)
	require.Equal(t, "Tea", product.Name)
	require.Equal(t, "https://img/b2.png", product.Image)

	_, err = client.GetProduct(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrProductNotFound)

	_, err = client.GetProduct(context.Background(), "empty")
	require.ErrorIs(t, err, domain.ErrProductNotFound)

	_, err = client.GetProduct(context.Background(), " ")
	require.ErrorIs(t, err, domain.ErrProductIDMissing)
}
