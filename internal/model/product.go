package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Product is the catalog detail used to render a cart line (name, price, image).
// Price is in minor currency units.
type Product struct {
	ID       ProductID `json:"id"`
	Name     string    `json:"name"`
	Price    int64     `json:"price"`
	Currency string    `json:"currency,omitempty"`
	Image    string    `json:"image,omitempty"`
}

// productWire is the loose shape returned by GET /product/{id}.
// Some deployments wrap the product in a "data" envelope; price arrives either
// as a decimal string in major units or as a number.
type productWire struct {
	ID        ProductID       `json:"id"`
	ProductID ProductID       `json:"productId"`
	Name      string          `json:"name"`
	Title     string          `json:"title"`
	Price     json.RawMessage `json:"price"`
	Currency  string          `json:"currency"`
	Image     string          `json:"image"`
	Images    []string        `json:"images"`
}

// DecodeProduct parses a product detail response body.
// fallbackID is used when the body carries no id.
func DecodeProduct(body []byte, fallbackID ProductID) (*Product, error) {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("parsing product response: %w", err)
	}
	if d := bytes.TrimSpace(envelope.Data); len(d) > 0 && d[0] == '{' {
		body = d
	}

	var wire productWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("parsing product response: %w", err)
	}

	p := &Product{
		ID:       wire.ID,
		Name:     wire.Name,
		Currency: wire.Currency,
		Image:    wire.Image,
		Price:    parsePrice(wire.Price),
	}
	if p.ID == "" {
		p.ID = wire.ProductID
	}
	if p.ID == "" {
		p.ID = fallbackID
	}
	if p.Name == "" {
		p.Name = wire.Title
	}
	if p.Image == "" && len(wire.Images) > 0 {
		p.Image = wire.Images[0]
	}
	return p, nil
}

// parsePrice handles "19.99" (major units as string) and 19.99 (major units as number).
func parsePrice(raw json.RawMessage) int64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0
		}
		return ParseCents(strings.TrimSpace(s))
	}
	return ParseCents(string(raw))
}
