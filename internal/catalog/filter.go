package catalog

import (
	"sort"
	"strings"

	"github.com/vladislavdragonenkov/cartstore/internal/domain"
)

// ApplyLocal повторяет фильтрацию и сортировку на стороне клиента поверх уже полученной страницы:
// поиск по вхождению в название без учёта регистра, точное совпадение категории,
// сортировка по цене численно, по остальным полям лексикографически.
// Исходный срез не изменяется.
func ApplyLocal(items []domain.CatalogProduct, query domain.ProductQuery) []domain.CatalogProduct {
	out := make([]domain.CatalogProduct, 0, len(items))
	search := strings.ToLower(query.Search)
	for _, item := range items {
		if search != "" && !strings.Contains(strings.ToLower(item.Name), search) {
			continue
		}
		if query.Category != "" && item.Category != query.Category {
			continue
		}
		out = append(out, item)
	}

	if query.SortField == "" {
		return out
	}
	desc := query.SortOrder == domain.SortDesc
	if query.SortField == "price" {
		sort.SliceStable(out, func(i, j int) bool {
			if desc {
				return out[i].Price > out[j].Price
			}
			return out[i].Price < out[j].Price
		})
		return out
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := sortKey(out[i], query.SortField), sortKey(out[j], query.SortField)
		if desc {
			return a > b
		}
		return a < b
	})
	return out
}

// Categories возвращает категории страницы в порядке первого появления.
func Categories(items []domain.CatalogProduct) []string {
	seen := make(map[string]struct{}, len(items))
	out := []string{}
	for _, item := range items {
		if item.Category == "" {
			continue
		}
		if _, ok := seen[item.Category]; ok {
			continue
		}
		seen[item.Category] = struct{}{}
		out = append(out, item.Category)
	}
	return out
}

func sortKey(item domain.CatalogProduct, field string) string {
	switch field {
	case "id":
		return item.ID
	case "name":
		return item.Name
	case "category":
		return item.Category
	case "image":
		return item.Image
	default:
		return ""
	}
}
