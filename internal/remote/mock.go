package remote

import (
	"context"
	"sync"

	"cartsync/internal/model"
)

// Call is one recorded Mock invocation.
type Call struct {
	Op        string
	Items     []model.LineItem // UpdateCart payload
	ProductID model.ProductID  // DeleteItem / FetchProduct target
}

// Mock implements CartService for testing.
// Each method can be configured via function fields; every call is recorded.
type Mock struct {
	FetchCartFunc    func(ctx context.Context) ([]model.LineItem, error)
	UpdateCartFunc   func(ctx context.Context, items []model.LineItem) error
	DeleteItemFunc   func(ctx context.Context, id model.ProductID) error
	ClearCartFunc    func(ctx context.Context) error
	FetchProductFunc func(ctx context.Context, id model.ProductID) (*model.Product, error)

	mu    sync.Mutex
	calls []Call
}

func (m *Mock) record(c Call) {
	m.mu.Lock()
	m.calls = append(m.calls, c)
	m.mu.Unlock()
}

// Calls returns a copy of every recorded call, in order.
func (m *Mock) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallsTo returns the recorded calls for one operation.
func (m *Mock) CallsTo(op string) []Call {
	var out []Call
	for _, c := range m.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// FetchCart calls the configured FetchCartFunc or returns an empty cart.
func (m *Mock) FetchCart(ctx context.Context) ([]model.LineItem, error) {
	m.record(Call{Op: OpFetchCart})
	if m.FetchCartFunc != nil {
		return m.FetchCartFunc(ctx)
	}
	return []model.LineItem{}, nil
}

// UpdateCart calls the configured UpdateCartFunc or succeeds.
func (m *Mock) UpdateCart(ctx context.Context, items []model.LineItem) error {
	m.record(Call{Op: OpUpdateCart, Items: model.CloneItems(items)})
	if m.UpdateCartFunc != nil {
		return m.UpdateCartFunc(ctx, items)
	}
	return nil
}

// DeleteItem calls the configured DeleteItemFunc or succeeds.
func (m *Mock) DeleteItem(ctx context.Context, id model.ProductID) error {
	m.record(Call{Op: OpDeleteItem, ProductID: id})
	if m.DeleteItemFunc != nil {
		return m.DeleteItemFunc(ctx, id)
	}
	return nil
}

// ClearCart calls the configured ClearCartFunc or succeeds.
func (m *Mock) ClearCart(ctx context.Context) error {
	m.record(Call{Op: OpClearCart})
	if m.ClearCartFunc != nil {
		return m.ClearCartFunc(ctx)
	}
	return nil
}

// FetchProduct calls the configured FetchProductFunc or returns a stub product.
func (m *Mock) FetchProduct(ctx context.Context, id model.ProductID) (*model.Product, error) {
	m.record(Call{Op: OpFetchProduct, ProductID: id})
	if m.FetchProductFunc != nil {
		return m.FetchProductFunc(ctx, id)
	}
	return &model.Product{ID: id, Name: "Product " + id.String(), Price: 1000, Currency: "USD"}, nil
}
