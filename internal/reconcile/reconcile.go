// Package reconcile merges a server cart snapshot with the locally persisted cart
// and measures the drift between the two.
//
// Merge is pure: no I/O, no clock, no logging. Everything with side effects
// lives in package cart.
package reconcile

import (
	"cartsync/internal/model"
)

// Merge combines server and local line items into one cart.
//
// Server items form the base, in server order, keeping their cart item ids.
// For each local item, a base line with the same product takes the local
// quantity (local wins). A local item with no match is appended verbatim.
// Lines with quantity < 1 are ignored, and the first occurrence of a product
// wins if either side repeats one, so the result never holds a product twice.
func Merge(server, local []model.LineItem) []model.LineItem {
	merged := make([]model.LineItem, 0, len(server)+len(local))
	index := make(map[model.ProductID]int, len(server)+len(local))

	for _, item := range server {
		if !item.Valid() {
			continue
		}
		if _, dup := index[item.ProductID]; dup {
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}

	// Lines appended from local are in the index too, so a repeated local
	// product collapses onto its first occurrence.
	seenLocal := make(map[model.ProductID]bool, len(local))
	for _, item := range local {
		if !item.Valid() || seenLocal[item.ProductID] {
			continue
		}
		seenLocal[item.ProductID] = true

		if i, ok := index[item.ProductID]; ok {
			if merged[i].Quantity != item.Quantity {
				merged[i].Quantity = item.Quantity
			}
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}

	return merged
}

// LineItemDiff describes the mutations that turn one cart into another.
// Apply in order Remove, Update, Add so an update never targets a removed line.
type LineItemDiff struct {
	ToAdd    []ItemToAdd    // Products in desired but not current
	ToRemove []ItemToRemove // Products in current but not desired
	ToUpdate []ItemToUpdate // Products in both with different quantities
}

// ItemToAdd is a product that must be added.
type ItemToAdd struct {
	ProductID model.ProductID
	Quantity  int
}

// ItemToRemove is a line that must be removed.
type ItemToRemove struct {
	ProductID  model.ProductID
	CartItemID string // server line id, empty if the line was local-only
}

// ItemToUpdate is a quantity change for an existing line.
type ItemToUpdate struct {
	ProductID   model.ProductID
	CartItemID  string
	OldQuantity int
	NewQuantity int
}

// IsEmpty returns true if no line item changes are needed.
func (d *LineItemDiff) IsEmpty() bool {
	return len(d.ToAdd) == 0 && len(d.ToRemove) == 0 && len(d.ToUpdate) == 0
}

// Changes is the total number of mutations in the diff.
func (d *LineItemDiff) Changes() int {
	return len(d.ToAdd) + len(d.ToRemove) + len(d.ToUpdate)
}

// DiffLineItems computes the delta between current and desired line items.
// Matching is by product id. Output follows input order so it is stable for
// logging and tests.
func DiffLineItems(current, desired []model.LineItem) *LineItemDiff {
	diff := &LineItemDiff{}

	currentByID := make(map[model.ProductID]model.LineItem, len(current))
	for _, item := range current {
		if _, dup := currentByID[item.ProductID]; !dup {
			currentByID[item.ProductID] = item
		}
	}

	desiredIDs := make(map[model.ProductID]bool, len(desired))
	for _, want := range desired {
		if desiredIDs[want.ProductID] {
			continue
		}
		desiredIDs[want.ProductID] = true

		have, exists := currentByID[want.ProductID]
		switch {
		case !exists:
			diff.ToAdd = append(diff.ToAdd, ItemToAdd{
				ProductID: want.ProductID,
				Quantity:  want.Quantity,
			})
		case have.Quantity != want.Quantity:
			diff.ToUpdate = append(diff.ToUpdate, ItemToUpdate{
				ProductID:   want.ProductID,
				CartItemID:  have.CartItemID,
				OldQuantity: have.Quantity,
				NewQuantity: want.Quantity,
			})
		}
	}

	removed := make(map[model.ProductID]bool)
	for _, have := range current {
		if desiredIDs[have.ProductID] || removed[have.ProductID] {
			continue
		}
		removed[have.ProductID] = true
		diff.ToRemove = append(diff.ToRemove, ItemToRemove{
			ProductID:  have.ProductID,
			CartItemID: have.CartItemID,
		})
	}

	return diff
}
