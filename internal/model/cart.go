// Package model defines the cart data types shared by the sync subsystem.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ProductID is an opaque catalog identifier.
// The storefront API is inconsistent about whether ids are numbers or strings,
// so both decode to the same value. Digit-only ids encode back as numbers.
type ProductID string

// String returns the id as-is.
func (id ProductID) String() string {
	return string(id)
}

// MarshalJSON encodes digit-only ids as JSON numbers, everything else as strings.
func (id ProductID) MarshalJSON() ([]byte, error) {
	if isDigits(string(id)) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// UnmarshalJSON accepts either a JSON number or a JSON string.
func (id *ProductID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ProductID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("product id must be a string or number: %w", err)
	}
	*id = ProductID(n.String())
	return nil
}

func isDigits(s string) bool {
	if s == "" || (len(s) > 1 && s[0] == '0') {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// LineItem is one product-and-quantity entry within a cart.
// CartItemID is assigned by the server; it is empty for lines that only
// exist locally and have not been synced yet.
type LineItem struct {
	ProductID  ProductID `json:"productId"`
	Quantity   int       `json:"quantity"`
	CartItemID string    `json:"cartItemId,omitempty"`
}

// Valid reports whether the line can be stored.
func (li LineItem) Valid() bool {
	return li.ProductID != "" && li.Quantity >= 1
}

// UnmarshalJSON accepts cartItemId as a string, a number or null.
func (li *LineItem) UnmarshalJSON(data []byte) error {
	var raw struct {
		ProductID  ProductID       `json:"productId"`
		Quantity   int             `json:"quantity"`
		CartItemID json.RawMessage `json:"cartItemId"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	li.ProductID = raw.ProductID
	li.Quantity = raw.Quantity
	li.CartItemID = ""

	cid := bytes.TrimSpace(raw.CartItemID)
	switch {
	case len(cid) == 0, bytes.Equal(cid, []byte("null")):
	case cid[0] == '"':
		if err := json.Unmarshal(cid, &li.CartItemID); err != nil {
			return err
		}
	default:
		li.CartItemID = strings.TrimSpace(string(cid))
	}
	return nil
}

// QuantityUpdate is the wire form of one entry in a batched quantity upsert.
type QuantityUpdate struct {
	ProductID ProductID `json:"productId"`
	Quantity  int       `json:"quantity"`
}

// BatchUpdateRequest is the body of PUT /cart/update.
type BatchUpdateRequest struct {
	Items []QuantityUpdate `json:"items"`
}

// NewBatchUpdate builds the full-snapshot update body from a cart.
func NewBatchUpdate(items []LineItem) BatchUpdateRequest {
	req := BatchUpdateRequest{Items: make([]QuantityUpdate, 0, len(items))}
	for _, item := range items {
		req.Items = append(req.Items, QuantityUpdate{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return req
}

// CloneItems returns a copy of items that shares no backing array.
// Always non-nil so JSON encodes an empty cart as [].
func CloneItems(items []LineItem) []LineItem {
	out := make([]LineItem, len(items))
	copy(out, items)
	return out
}

// IndexOf returns the position of the line for id, or -1.
func IndexOf(items []LineItem, id ProductID) int {
	for i, item := range items {
		if item.ProductID == id {
			return i
		}
	}
	return -1
}

// TotalQuantity sums quantities across lines.
func TotalQuantity(items []LineItem) int {
	total := 0
	for _, item := range items {
		total += item.Quantity
	}
	return total
}
