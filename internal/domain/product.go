package domain

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Product — нормализованный дескриптор товара на границе Cart Store.
type Product struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Image string  `json:"image"`
}

// ProductRef создаёт дескриптор только с идентификатором (голый id).
func ProductRef(id string) Product {
	return Product{ID: id}
}

// NormalizeProductID приводит кандидата (строку или число) к строковому productId.
// Пустой результат возвращает FieldError с ErrProductIDMissing.
func NormalizeProductID(candidate any) (string, error) {
	id, ok := ScalarString(candidate)
	if !ok || id == "" {
		return "", &FieldError{Field: "productId", Err: ErrProductIDMissing}
	}
	return id, nil
}

// ScalarString превращает строку или число в строку без лишних нулей.
// Остальные типы (nil, bool, объекты) не считаются идентификатором.
func ScalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return strconv.FormatInt(i, 10), true
		}
		f, err := t.Float64()
		if err != nil {
			return "", false
		}
		return formatFloat(f), true
	case float64:
		return formatFloat(t), true
	case float32:
		return formatFloat(float64(t)), true
	case int:
		return strconv.Itoa(t), true
	case int32:
		return strconv.FormatInt(int64(t), 10), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case uint:
		return strconv.FormatUint(uint64(t), 10), true
	case uint32:
		return strconv.FormatUint(uint64(t), 10), true
	case uint64:
		return strconv.FormatUint(t, 10), true
	default:
		return "", false
	}
}

func formatFloat(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return ""
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// CoerceNumber читает число из JSON-значения. Нечисловые и отсутствующие значения дают 0.
func CoerceNumber(v any) float64 {
	var f float64
	switch t := v.(type) {
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case float64:
		f = t
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// CoerceQty читает целое количество; дробная часть отбрасывается.
func CoerceQty(v any) int {
	f := CoerceNumber(v)
	if f > math.MaxInt32 {
		return math.MaxInt32
	}
	if f < math.MinInt32 {
		return math.MinInt32
	}
	return int(f)
}

// DecodeProduct разбирает JSON-дескриптор товара: голый id (строка/число) или объект.
func DecodeProduct(raw []byte) (Product, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return Product{}, &FieldError{Field: "product", Err: ErrProductIDMissing}
	}
	return ProductFromValue(v)
}

// ProductFromValue нормализует уже разобранное JSON-значение. Это единственное место,
// где перебираются альтернативные имена полей (id/_id/productId/sku_code и т.д.).
func ProductFromValue(v any) (Product, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		id, err := NormalizeProductID(v)
		return Product{ID: id}, err
	}

	var product Product
	for _, field := range []string{"id", "_id", "productId", "sku_code"} {
		if id, err := NormalizeProductID(obj[field]); err == nil {
			product.ID = id
			break
		}
	}
	product.Name = firstString(obj, "name", "title", "display_name")
	product.Price = productPrice(obj)
	product.Image = productImage(obj)

	if product.ID == "" {
		return product, &FieldError{Field: "productId", Err: ErrProductIDMissing}
	}
	return product, nil
}

func productPrice(obj map[string]any) float64 {
	if price := CoerceNumber(obj["price"]); price > 0 {
		return price
	}
	switch mrp := obj["mrp"].(type) {
	case map[string]any:
		return nonNegative(CoerceNumber(mrp["mrp"]))
	default:
		return nonNegative(CoerceNumber(mrp))
	}
}

func productImage(obj map[string]any) string {
	if s := firstString(obj, "image"); s != "" {
		return s
	}
	for _, field := range []string{"images", "gs1_images"} {
		switch images := obj[field].(type) {
		case map[string]any:
			if s := firstString(images, "front"); s != "" {
				return s
			}
		case []any:
			if len(images) > 0 {
				if s, ok := images[0].(string); ok && s != "" {
					return s
				}
			}
		}
	}
	return firstString(obj, "imageUrl")
}

func firstString(obj map[string]any, fields ...string) string {
	for _, field := range fields {
		if s, ok := obj[field].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func nonNegative(f float64) float64 {
	if f < 0 {
		return 0
	}
	return f
}
