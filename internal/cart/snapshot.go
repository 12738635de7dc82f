package cart

import (
	"errors"
	"time"

	"cartsync/internal/model"
)

// Line is one rendered cart line.
type Line struct {
	ProductID    model.ProductID `json:"productId"`
	Quantity     int             `json:"quantity"`
	CartItemID   string          `json:"cartItemId,omitempty"`
	Product      *model.Product  `json:"product"`
	State        LineState       `json:"state"`
	PendingSince *time.Time      `json:"pendingSince,omitempty"`
	Subtotal     int64           `json:"subtotal"`
}

// Snapshot is a copy of a view for rendering. It shares nothing with the view.
type Snapshot struct {
	View          string `json:"view"`
	UserID        string `json:"userId,omitempty"`
	Status        Status `json:"status"`
	Error         string `json:"error,omitempty"`
	Lines         []Line `json:"lines"`
	Count         int    `json:"count"`
	TotalQuantity int    `json:"totalQuantity"`
	Subtotal      int64  `json:"subtotal"`
	Currency      string `json:"currency,omitempty"`
}

// Items returns the line items without render details.
func (s Snapshot) Items() []model.LineItem {
	items := make([]model.LineItem, 0, len(s.Lines))
	for _, l := range s.Lines {
		items = append(items, model.LineItem{ProductID: l.ProductID, Quantity: l.Quantity, CartItemID: l.CartItemID})
	}
	return items
}

// Line returns the line for id.
func (s Snapshot) Line(id model.ProductID) (Line, bool) {
	for _, l := range s.Lines {
		if l.ProductID == id {
			return l, true
		}
	}
	return Line{}, false
}

// Snapshot copies the view state. Subtotal only counts lines with a known price.
func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()

	snap := Snapshot{
		View:   v.name,
		UserID: v.deps.Store.Identity().UserID,
		Status: v.status,
		Lines:  make([]Line, 0, len(v.items)),
		Count:  len(v.items),
	}
	if v.lastErr != nil {
		snap.Error = userMessage(v.lastErr)
	}

	for _, item := range v.items {
		line := Line{
			ProductID:  item.ProductID,
			Quantity:   item.Quantity,
			CartItemID: item.CartItemID,
			State:      v.states[item.ProductID],
		}
		if p := v.products[item.ProductID]; p != nil {
			cp := *p
			line.Product = &cp
			line.Subtotal = model.LineSubtotal(p, item.Quantity)
			if snap.Currency == "" {
				snap.Currency = p.Currency
			}
		}
		if ts, ok := v.pendingSince[item.ProductID]; ok {
			line.PendingSince = &ts
		}
		snap.TotalQuantity += item.Quantity
		snap.Subtotal += line.Subtotal
		snap.Lines = append(snap.Lines, line)
	}
	return snap
}

// userMessage prefers the APIError message over the wrapped chain.
func userMessage(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}
