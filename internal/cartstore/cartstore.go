// Package cartstore is the per-user persistent cart record.
//
// A Store is bound to one identity at construction. It never looks the user up
// on its own; the Runtime creates a new Store whenever the identity changes.
package cartstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"cartsync/internal/auth"
	"cartsync/internal/metrics"
	"cartsync/internal/model"
	"cartsync/internal/notify"
	"cartsync/internal/storage"
)

// Well-known keys outside the per-user namespace.
const (
	// LegacyGuestKey held the unscoped cart of an earlier storefront release.
	// It is deleted on startup and must never be written again.
	LegacyGuestKey = "cart_guest"

	// GuestContextKey holds the session-scoped guest cart (see package guestcart).
	GuestContextKey = "cart"

	userKeyPrefix = "cart_user_"
)

// KeyFor returns the storage key for identity, or false for an anonymous visitor.
// The "cart_user_" prefix keeps every user key distinct from the guest keys,
// including for a user whose id is literally "guest".
func KeyFor(identity auth.Identity) (string, bool) {
	if identity.IsAnonymous() {
		return "", false
	}
	return userKeyPrefix + identity.UserID, true
}

// Option configures a Store.
type Option func(*Store)

// WithRecorder counts writes and corrupt reads.
func WithRecorder(r *metrics.Recorder) Option {
	return func(s *Store) {
		s.metrics = r
	}
}

// Store reads and writes one user's cart.
type Store struct {
	backend  storage.Backend
	identity auth.Identity
	notifier *notify.Notifier
	logger   *slog.Logger
	metrics  *metrics.Recorder
}

// New binds a Store to identity. notifier may be nil when nothing listens.
func New(backend storage.Backend, identity auth.Identity, notifier *notify.Notifier, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		backend:  backend,
		identity: identity,
		notifier: notifier,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Identity returns the identity the store is bound to.
func (s *Store) Identity() auth.Identity {
	return s.identity
}

// Save overwrites the user's cart with items.
// With broadcast set, CartChanged is published after the write succeeds.
func (s *Store) Save(ctx context.Context, items []model.LineItem, broadcast bool) error {
	key, ok := KeyFor(s.identity)
	if !ok {
		return model.NewUnauthenticatedError("cart storage requires a logged-in user")
	}

	for _, item := range items {
		if !item.Valid() {
			return model.NewValidationError("quantity", fmt.Sprintf("product %s must have quantity >= 1", item.ProductID))
		}
	}

	data, err := json.Marshal(model.CloneItems(items))
	if err != nil {
		return fmt.Errorf("encoding cart: %w", err)
	}
	if err := s.backend.Set(ctx, key, data); err != nil {
		return fmt.Errorf("writing cart %s: %w", key, err)
	}
	s.metrics.StoreWrite(broadcast)

	if broadcast && s.notifier != nil {
		s.notifier.Publish(notify.CartChanged)
	}
	return nil
}

// Load returns the persisted cart, or an empty slice when there is none.
// Read failures and undecodable data are logged and treated as an empty cart.
func (s *Store) Load(ctx context.Context) []model.LineItem {
	key, ok := KeyFor(s.identity)
	if !ok {
		return []model.LineItem{}
	}

	data, found, err := s.backend.Get(ctx, key)
	if err != nil {
		s.logger.Warn("reading local cart failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return []model.LineItem{}
	}
	if !found {
		return []model.LineItem{}
	}

	items, err := decode(data)
	if err != nil {
		malformed := model.NewMalformedLocalDataError(key, err)
		s.logger.Warn("discarding malformed local cart",
			slog.String("key", key),
			slog.String("error", malformed.Error()),
		)
		s.metrics.MalformedLocalData()
		return []model.LineItem{}
	}
	return items
}

// Remove deletes the user's cart key. The key is absent afterwards, not empty.
func (s *Store) Remove(ctx context.Context) error {
	key, ok := KeyFor(s.identity)
	if !ok {
		return nil
	}
	if err := s.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("deleting cart %s: %w", key, err)
	}
	return nil
}

// decode parses a stored cart. Lines that break the quantity invariant or
// repeat a product are corruption too, but only those lines are dropped.
func decode(data []byte) ([]model.LineItem, error) {
	var raw []model.LineItem
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	items := make([]model.LineItem, 0, len(raw))
	for _, item := range raw {
		if !item.Valid() || model.IndexOf(items, item.ProductID) >= 0 {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// PurgeLegacy deletes the unscoped guest cart left by older releases.
// Failure is logged; there is nothing a caller could do about it.
func PurgeLegacy(ctx context.Context, backend storage.Backend, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := backend.Delete(ctx, LegacyGuestKey); err != nil {
		logger.Warn("purging legacy guest cart failed",
			slog.String("key", LegacyGuestKey),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Debug("legacy guest cart purged", slog.String("key", LegacyGuestKey))
}
