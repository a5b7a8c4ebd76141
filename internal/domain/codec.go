package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// DecodeCart разбирает сохранённое значение корзины.
// Поддерживаются массив позиций и устаревший формат map productId -> позиция.
// Повреждённые или неожиданные данные дают пустую корзину и никогда не приводят к ошибке.
func DecodeCart(raw string) []CartLine {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []CartLine{}
	}

	var lines []CartLine
	switch raw[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			return []CartLine{}
		}
		for _, item := range items {
			if line, ok := decodeLine(item, ""); ok {
				lines = append(lines, line)
			}
		}
	case '{':
		entries, err := decodeOrderedObject(raw)
		if err != nil {
			return []CartLine{}
		}
		for _, entry := range entries {
			if line, ok := decodeLine(entry.value, entry.key); ok {
				lines = append(lines, line)
			}
		}
	default:
		return []CartLine{}
	}

	return SanitizeLines(lines)
}

// EncodeCart сериализует позиции в JSON-массив; пустая корзина — "[]".
func EncodeCart(lines []CartLine) (string, error) {
	if lines == nil {
		lines = []CartLine{}
	}
	data, err := json.Marshal(lines)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

type objectEntry struct {
	key   string
	value json.RawMessage
}

// decodeOrderedObject читает JSON-объект, сохраняя порядок ключей из документа.
func decodeOrderedObject(raw string) ([]objectEntry, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("cart value is not an object")
	}

	var entries []objectEntry
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, errors.New("unexpected object key")
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		entries = append(entries, objectEntry{key: key, value: value})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after cart object")
	}
	return entries, nil
}

func decodeLine(raw json.RawMessage, fallbackID string) (CartLine, bool) {
	var obj map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return CartLine{}, false
	}

	id, err := NormalizeProductID(obj["productId"])
	if err != nil {
		if id, err = NormalizeProductID(fallbackID); err != nil {
			return CartLine{}, false
		}
	}

	line := CartLine{
		ProductID: id,
		Price:     nonNegative(CoerceNumber(obj["price"])),
		Qty:       CoerceQty(obj["qty"]),
	}
	if name, ok := obj["name"].(string); ok {
		line.Name = name
	}
	if image, ok := obj["image"].(string); ok {
		line.Image = image
	}
	return line, true
}
