// Package remote talks to the server-side cart, the source of truth when reachable.
package remote

import (
	"context"

	"cartsync/internal/model"
)

// CartService is the Remote Cart Service contract.
// Every method needs a bearer credential and fails with model.ErrUnauthenticated
// without one, before any network I/O.
type CartService interface {
	// FetchCart returns the server's line items (GET /cart).
	FetchCart(ctx context.Context) ([]model.LineItem, error)

	// UpdateCart sends the full cart as one batched upsert (PUT /cart/update).
	UpdateCart(ctx context.Context, items []model.LineItem) error

	// DeleteItem removes one line by product (DELETE /cart/{productId}).
	DeleteItem(ctx context.Context, id model.ProductID) error

	// ClearCart removes every line (DELETE /cart/clear).
	ClearCart(ctx context.Context) error

	// FetchProduct returns render details for one product (GET /product/{productId}).
	FetchProduct(ctx context.Context, id model.ProductID) (*model.Product, error)
}

// Operation names used in logs and metrics.
const (
	OpFetchCart    = "fetch_cart"
	OpUpdateCart   = "update_cart"
	OpDeleteItem   = "delete_item"
	OpClearCart    = "clear_cart"
	OpFetchProduct = "fetch_product"
)
