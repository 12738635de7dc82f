// Package guestcart is the session-scoped cart used while browsing anonymously.
//
// It is deliberately simpler than package cart: a pure reducer over a list of
// lines, persisted under one global key, with no server sync and no per-user
// scoping.
package guestcart

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"cartsync/internal/cartstore"
	"cartsync/internal/model"
	"cartsync/internal/notify"
	"cartsync/internal/storage"
)

// State is the guest cart.
type State struct {
	Items []model.LineItem `json:"items"`
}

// Action is one reducer input. Exactly one of the concrete action types below.
type Action interface {
	apply(State) State
}

// Add puts Item in the cart, adding to the quantity of an existing line.
type Add struct {
	Item model.LineItem
}

// Remove drops the line for ProductID.
type Remove struct {
	ProductID model.ProductID
}

// UpdateQuantity sets a line's quantity; zero or less removes it.
type UpdateQuantity struct {
	ProductID model.ProductID
	Quantity  int
}

// Clear empties the cart.
type Clear struct{}

// Reduce returns the state after action. It never mutates s.
func Reduce(s State, action Action) State {
	if action == nil {
		return State{Items: model.CloneItems(s.Items)}
	}
	return action.apply(State{Items: model.CloneItems(s.Items)})
}

func (a Add) apply(s State) State {
	if !a.Item.Valid() {
		return s
	}
	if i := model.IndexOf(s.Items, a.Item.ProductID); i >= 0 {
		s.Items[i].Quantity += a.Item.Quantity
		return s
	}
	s.Items = append(s.Items, model.LineItem{ProductID: a.Item.ProductID, Quantity: a.Item.Quantity})
	return s
}

func (a Remove) apply(s State) State {
	i := model.IndexOf(s.Items, a.ProductID)
	if i < 0 {
		return s
	}
	s.Items = append(s.Items[:i], s.Items[i+1:]...)
	return s
}

func (a UpdateQuantity) apply(s State) State {
	if a.Quantity <= 0 {
		return Remove{ProductID: a.ProductID}.apply(s)
	}
	if i := model.IndexOf(s.Items, a.ProductID); i >= 0 {
		s.Items[i].Quantity = a.Quantity
	}
	return s
}

func (Clear) apply(State) State {
	return State{Items: []model.LineItem{}}
}

// Context holds the guest cart for the process and persists every change.
type Context struct {
	backend  storage.Backend
	logger   *slog.Logger
	notifier *notify.Notifier

	mu    sync.Mutex
	state State
}

// Option configures a Context.
type Option func(*Context)

// WithNotifier publishes CartChanged after every dispatch so badges and event
// streams pick up guest edits.
func WithNotifier(n *notify.Notifier) Option {
	return func(c *Context) {
		c.notifier = n
	}
}

// NewContext loads the guest cart from backend. A missing or corrupt value
// starts an empty cart.
func NewContext(ctx context.Context, backend storage.Backend, logger *slog.Logger, opts ...Option) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Context{
		backend: backend,
		logger:  logger,
		state:   State{Items: []model.LineItem{}},
	}
	for _, opt := range opts {
		opt(c)
	}

	data, found, err := backend.Get(ctx, cartstore.GuestContextKey)
	switch {
	case err != nil:
		logger.Warn("reading guest cart failed", slog.String("error", err.Error()))
	case found:
		var items []model.LineItem
		if err := json.Unmarshal(data, &items); err != nil {
			logger.Warn("discarding malformed guest cart",
				slog.String("key", cartstore.GuestContextKey),
				slog.String("error", err.Error()),
			)
			break
		}
		for _, item := range items {
			c.state = Reduce(c.state, Add{Item: model.LineItem{ProductID: item.ProductID, Quantity: item.Quantity}})
		}
	}
	return c
}

// State returns a copy of the current guest cart.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{Items: model.CloneItems(c.state.Items)}
}

// Dispatch applies action and persists the result.
// The in-memory state advances even if the write fails, and listeners are
// told either way since the badge counts the in-memory cart.
func (c *Context) Dispatch(ctx context.Context, action Action) (State, error) {
	out, err := c.apply(ctx, action)
	if c.notifier != nil {
		c.notifier.Publish(notify.CartChanged)
	}
	return out, err
}

func (c *Context) apply(ctx context.Context, action Action) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = Reduce(c.state, action)
	out := State{Items: model.CloneItems(c.state.Items)}

	data, err := json.Marshal(out.Items)
	if err != nil {
		return out, fmt.Errorf("encoding guest cart: %w", err)
	}
	if err := c.backend.Set(ctx, cartstore.GuestContextKey, data); err != nil {
		return out, fmt.Errorf("writing guest cart: %w", err)
	}
	return out, nil
}

// ParseAction decodes the wire form {"type": "...", ...} used by the local API.
func ParseAction(data []byte) (Action, error) {
	var wire struct {
		Type      string          `json:"type"`
		ProductID model.ProductID `json:"productId"`
		Quantity  int             `json:"quantity"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, model.NewValidationError("action", err.Error())
	}

	switch wire.Type {
	case "add":
		if wire.ProductID == "" || wire.Quantity < 1 {
			return nil, model.NewValidationError("action", "add needs productId and quantity >= 1")
		}
		return Add{Item: model.LineItem{ProductID: wire.ProductID, Quantity: wire.Quantity}}, nil
	case "remove":
		if wire.ProductID == "" {
			return nil, model.NewValidationError("action", "remove needs productId")
		}
		return Remove{ProductID: wire.ProductID}, nil
	case "update_quantity":
		if wire.ProductID == "" {
			return nil, model.NewValidationError("action", "update_quantity needs productId")
		}
		return UpdateQuantity{ProductID: wire.ProductID, Quantity: wire.Quantity}, nil
	case "clear":
		return Clear{}, nil
	default:
		return nil, model.NewValidationError("action", fmt.Sprintf("unknown type %q", wire.Type))
	}
}
