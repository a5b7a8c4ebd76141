package domain

import "math"

// CartLine — одна позиция корзины: товар и его количество.
type CartLine struct {
	// ProductID уникален в пределах корзины.
	ProductID string `json:"productId"`
	// Name — подпись для отображения, может быть пустой.
	Name string `json:"name"`
	// Price — цена за единицу на момент добавления/обновления.
	Price float64 `json:"price"`
	// Image — URL изображения, может быть пустым.
	Image string `json:"image"`
	// Qty всегда >= 1, пока позиция существует.
	Qty int `json:"qty"`
}

// CloneLines возвращает независимую копию позиций. nil превращается в пустой срез.
func CloneLines(lines []CartLine) []CartLine {
	out := make([]CartLine, len(lines))
	copy(out, lines)
	return out
}

// CountLines суммирует количество по всем позициям.
func CountLines(lines []CartLine) int {
	var total int
	for _, line := range lines {
		total += line.Qty
	}
	return total
}

// TotalLines считает сумму price * qty по всем позициям.
func TotalLines(lines []CartLine) float64 {
	var total float64
	for _, line := range lines {
		total += line.Price * float64(line.Qty)
	}
	return total
}

// FindLine возвращает индекс позиции с заданным productId или -1.
func FindLine(lines []CartLine, productID string) int {
	for i := range lines {
		if lines[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// SanitizePrice возвращает 0 для отрицательной цены, NaN и бесконечности.
func SanitizePrice(price float64) float64 {
	if price < 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return 0
	}
	return price
}

// SanitizeLines приводит произвольный список к инвариантам корзины:
// пустые productId и qty <= 0 отбрасываются, дубликаты схлопываются в первую позицию с суммой qty,
// отрицательная или нечисловая (NaN, ±Inf) цена обнуляется.
func SanitizeLines(lines []CartLine) []CartLine {
	out := make([]CartLine, 0, len(lines))
	for _, line := range lines {
		id, err := NormalizeProductID(line.ProductID)
		if err != nil || line.Qty <= 0 {
			continue
		}
		line.ProductID = id
		line.Price = SanitizePrice(line.Price)
		if idx := FindLine(out, id); idx >= 0 {
			out[idx].Qty += line.Qty
			continue
		}
		out = append(out, line)
	}
	return out
}
