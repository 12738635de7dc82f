// Package cart is the page-level cart: one View per mounted surface (cart page,
// order page, navbar badge).
//
// A View owns its in-memory items exclusively. It applies every mutation
// optimistically to memory and to the Local Cart Store, then lets the
// debouncer push the whole list to the server once edits go quiet. Remote
// write failures are logged and never rolled back.
//
// Every method takes the view mutex, which stands in for the browser's single
// event loop. Remote calls run outside it.
package cart

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"cartsync/internal/auth"
	"cartsync/internal/cartstore"
	"cartsync/internal/debounce"
	"cartsync/internal/metrics"
	"cartsync/internal/model"
	"cartsync/internal/notify"
	"cartsync/internal/reconcile"
	"cartsync/internal/remote"
)

// ErrClosed is returned by mutations on a view after Close.
var ErrClosed = errors.New("cart: view closed")

// Reconciliation outcomes recorded in metrics.
const (
	outcomeSynced          = "synced"
	outcomeDegraded        = "degraded"
	outcomeError           = "error"
	outcomeUnauthenticated = "unauthenticated"
)

// Deps are the collaborators a View needs. Store, Remote and Tokens are required.
type Deps struct {
	Store    *cartstore.Store
	Remote   remote.CartService
	Tokens   auth.TokenSource
	Notifier *notify.Notifier
	Logger   *slog.Logger
	Metrics  *metrics.Recorder

	// Clock drives the debounce timer. Defaults to the wall clock.
	Clock debounce.Clock
	// Now stamps pending markers. Defaults to time.Now.
	Now func() time.Time
}

// Options tune a View.
type Options struct {
	// Name identifies the surface in logs ("cart", "order", "navbar").
	Name string

	// DebounceWindow is the quiet period before a batch is sent.
	DebounceWindow time.Duration

	// ResyncAfterBatch runs Sync after every successful batch. Off by default:
	// drift left by a batch heals on the next mount.
	ResyncAfterBatch bool

	// ProductConcurrency bounds parallel product detail fetches.
	ProductConcurrency int
}

// View is one mounted cart surface.
type View struct {
	deps   Deps
	opts   Options
	name   string
	logger *slog.Logger

	mu           sync.Mutex
	items        []model.LineItem
	products     map[model.ProductID]*model.Product
	states       map[model.ProductID]LineState
	pendingSince map[model.ProductID]time.Time
	status       Status
	lastErr      error
	mounted      bool
	// resets counts Reset calls; a fetch that straddles one is discarded.
	resets uint64

	debouncer *debounce.Debouncer
	sub       *notify.Subscription

	// sendMu keeps batch sends from overlapping when a timer fires while the
	// previous batch is still in flight.
	sendMu sync.Mutex

	// bg outlives the request that triggered a fire-and-forget call.
	bg       context.Context
	inflight sync.WaitGroup
}

// Mount creates a view and subscribes it to the notifier.
// It does not touch the network; call Sync to fetch and reconcile.
func Mount(deps Deps, opts Options) *View {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if opts.Name == "" {
		opts.Name = "cart"
	}

	v := &View{
		deps:         deps,
		opts:         opts,
		name:         opts.Name,
		items:        []model.LineItem{},
		products:     make(map[model.ProductID]*model.Product),
		states:       make(map[model.ProductID]LineState),
		pendingSince: make(map[model.ProductID]time.Time),
		status:       StatusIdle,
		mounted:      true,
		bg:           context.Background(),
	}
	v.logger = deps.Logger.With(
		slog.String("view", v.name),
		slog.String("user_id", deps.Store.Identity().UserID),
	)

	debounceOpts := []debounce.Option{debounce.WithOnCoalesce(deps.Metrics.Coalesced)}
	if deps.Clock != nil {
		debounceOpts = append(debounceOpts, debounce.WithClock(deps.Clock))
	}
	v.debouncer = debounce.New(opts.DebounceWindow, v.flush, debounceOpts...)

	if deps.Notifier != nil {
		v.sub = deps.Notifier.Subscribe(v.onSignal)
	}
	return v
}

// Name returns the surface name given at mount.
func (v *View) Name() string {
	return v.name
}

// Identity returns the user the view's store is bound to.
func (v *View) Identity() auth.Identity {
	return v.deps.Store.Identity()
}

// Close deregisters the view and cancels its pending batch. Results of calls
// still in flight are discarded when they arrive.
func (v *View) Close() {
	v.mu.Lock()
	if !v.mounted {
		v.mu.Unlock()
		return
	}
	v.mounted = false
	v.debouncer.Cancel()
	v.mu.Unlock()

	if v.sub != nil {
		v.sub.Close()
	}
}

// Wait blocks until fire-and-forget remote calls started by this view finish.
func (v *View) Wait() {
	v.inflight.Wait()
}

// =============================================================================
// FETCH AND RECONCILE
// =============================================================================

// Sync fetches the server cart and merges it with the Local Cart Store.
//
//   - no credential: status Unauthenticated, nothing fetched
//   - fetch ok: merge (local wins), persist silently, load product details
//   - fetch failed, local items exist: show them, status Degraded, nil error
//   - fetch failed, no local items: status Error, the fetch error is returned
//
// Any caller may invoke Sync to heal drift, not just a page mount.
func (v *View) Sync(ctx context.Context) error {
	v.mu.Lock()
	epoch := v.resets
	v.mu.Unlock()

	if _, err := v.deps.Tokens.Token(ctx); err != nil {
		if !errors.Is(err, model.ErrUnauthenticated) {
			err = model.NewUnauthenticatedError(err.Error())
		}
		v.mu.Lock()
		if v.mounted {
			v.status = StatusUnauthenticated
			v.lastErr = err
		}
		v.mu.Unlock()
		v.deps.Metrics.Reconciled(outcomeUnauthenticated)
		return err
	}

	server, fetchErr := v.deps.Remote.FetchCart(ctx)

	v.mu.Lock()
	if !v.mounted || v.resets != epoch {
		v.mu.Unlock()
		return nil
	}

	// Load under the lock so edits made while the fetch was in flight are merged too.
	local := v.deps.Store.Load(ctx)

	if fetchErr != nil {
		if len(local) == 0 {
			v.status = StatusError
			v.lastErr = fetchErr
			v.mu.Unlock()
			v.logger.Warn("cart fetch failed with no local fallback", slog.String("error", fetchErr.Error()))
			v.deps.Metrics.Reconciled(outcomeError)
			return fetchErr
		}

		v.replaceItemsLocked(local, func(model.LineItem) LineState { return PendingLocal })
		v.status = StatusDegraded
		v.lastErr = fetchErr
		ids := productIDs(v.items)
		v.mu.Unlock()

		v.logger.Warn("cart fetch failed, showing local cart",
			slog.Int("lines", len(local)),
			slog.String("error", fetchErr.Error()),
		)
		v.deps.Metrics.Reconciled(outcomeDegraded)
		v.loadProducts(ctx, ids, true)
		return nil
	}

	merged := reconcile.Merge(server, local)
	if err := v.deps.Store.Save(ctx, merged, false); err != nil {
		v.logger.Warn("persisting reconciled cart failed", slog.String("error", err.Error()))
	}

	serverQty := make(map[model.ProductID]int, len(server))
	for _, item := range server {
		if _, dup := serverQty[item.ProductID]; !dup {
			serverQty[item.ProductID] = item.Quantity
		}
	}
	v.replaceItemsLocked(merged, func(item model.LineItem) LineState {
		if q, ok := serverQty[item.ProductID]; ok && q == item.Quantity {
			return Synced
		}
		return PendingLocal
	})
	v.status = StatusReady
	v.lastErr = nil
	ids := productIDs(v.items)
	v.mu.Unlock()

	if diff := reconcile.DiffLineItems(server, merged); !diff.IsEmpty() {
		v.logger.Info("local cart differs from server",
			slog.Int("to_add", len(diff.ToAdd)),
			slog.Int("to_update", len(diff.ToUpdate)),
			slog.Int("to_remove", len(diff.ToRemove)),
		)
	}
	v.deps.Metrics.Reconciled(outcomeSynced)

	v.loadProducts(ctx, ids, true)
	return nil
}

// replaceItemsLocked installs items, deriving each line's state with stateFor.
// Pending markers survive for lines that stay pending.
func (v *View) replaceItemsLocked(items []model.LineItem, stateFor func(model.LineItem) LineState) {
	now := v.deps.Now()
	states := make(map[model.ProductID]LineState, len(items))
	pending := make(map[model.ProductID]time.Time)

	for _, item := range items {
		st := stateFor(item)
		states[item.ProductID] = st
		if st == Synced {
			continue
		}
		if ts, ok := v.pendingSince[item.ProductID]; ok {
			pending[item.ProductID] = ts
		} else {
			pending[item.ProductID] = now
		}
	}

	v.items = model.CloneItems(items)
	v.states = states
	v.pendingSince = pending
}

// loadProducts fetches details outside the lock and installs them if the view
// is still mounted. With all set, ids without a detail entry are dropped.
func (v *View) loadProducts(ctx context.Context, ids []model.ProductID, all bool) {
	if len(ids) == 0 {
		return
	}
	fetched := remote.FetchProducts(ctx, v.deps.Remote, ids, v.opts.ProductConcurrency, v.logger)

	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.mounted {
		return
	}
	if all {
		v.products = make(map[model.ProductID]*model.Product, len(fetched))
	}
	for id, p := range fetched {
		v.products[id] = p
	}
}

func productIDs(items []model.LineItem) []model.ProductID {
	ids := make([]model.ProductID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	return ids
}

// =============================================================================
// MUTATIONS
// =============================================================================

// checkMutableLocked rejects mutations on a closed or logged-out view.
func (v *View) checkMutableLocked() error {
	if !v.mounted {
		return ErrClosed
	}
	if v.status == StatusUnauthenticated || v.deps.Store.Identity().IsAnonymous() {
		return model.NewUnauthenticatedError("log in to change the cart")
	}
	return nil
}

// markPendingLocked flags a line as changed on the device.
func (v *View) markPendingLocked(id model.ProductID) {
	v.states[id] = PendingLocal
	v.pendingSince[id] = v.deps.Now()
}

// SetQuantity sets a line's quantity. Zero removes the line; negative is invalid.
// The change is persisted without a broadcast and the batch timer restarts.
func (v *View) SetQuantity(ctx context.Context, id model.ProductID, quantity int) error {
	if quantity < 0 {
		return model.NewValidationError("quantity", "must not be negative")
	}
	if quantity == 0 {
		return v.Remove(ctx, id)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checkMutableLocked(); err != nil {
		return err
	}

	i := model.IndexOf(v.items, id)
	if i < 0 {
		v.logger.Error("quantity change for unknown line", slog.String("product_id", id.String()))
		return model.NewLineItemNotFoundError(id)
	}

	next := model.CloneItems(v.items)
	next[i].Quantity = quantity
	if err := v.persistLocked(ctx, next, false); err != nil {
		return err
	}

	v.items = next
	v.markPendingLocked(id)
	v.debouncer.Trigger()
	return nil
}

// Add puts quantity more of a product in the cart, creating a local-only line
// if needed. The write is broadcast so other surfaces (the navbar badge) refresh.
func (v *View) Add(ctx context.Context, id model.ProductID, quantity int) error {
	if id == "" {
		return model.NewValidationError("productId", "required")
	}
	if quantity < 1 {
		return model.NewValidationError("quantity", "must be at least 1")
	}

	v.mu.Lock()
	if err := v.checkMutableLocked(); err != nil {
		v.mu.Unlock()
		return err
	}

	next := model.CloneItems(v.items)
	_, known := v.products[id]
	if i := model.IndexOf(next, id); i >= 0 {
		next[i].Quantity += quantity
	} else {
		next = append(next, model.LineItem{ProductID: id, Quantity: quantity})
	}
	if err := v.persistLocked(ctx, next, true); err != nil {
		v.mu.Unlock()
		return err
	}

	v.items = next
	v.markPendingLocked(id)
	v.debouncer.Trigger()
	v.mu.Unlock()

	if !known {
		v.loadProducts(ctx, []model.ProductID{id}, false)
	}
	return nil
}

// persistLocked writes items to the Local Cart Store. Missing credentials are
// returned; a failing backend is logged and the optimistic change stands.
func (v *View) persistLocked(ctx context.Context, items []model.LineItem, broadcast bool) error {
	err := v.deps.Store.Save(ctx, items, broadcast)
	if err == nil {
		return nil
	}
	if errors.Is(err, model.ErrUnauthenticated) || errors.Is(err, model.ErrInvalidRequest) {
		return err
	}
	v.logger.Warn("persisting cart failed", slog.String("error", err.Error()))
	return nil
}

// Remove deletes a line locally, cancels any pending batch and fires a remote
// delete without waiting for it. A remote failure does not restore the line.
//
// Cancelling the timer keeps a batch built for the old list from going out.
// If other lines are still waiting to be sent, the timer is re-armed so the
// next batch carries the post-removal list.
func (v *View) Remove(ctx context.Context, id model.ProductID) error {
	v.mu.Lock()
	if err := v.checkMutableLocked(); err != nil {
		v.mu.Unlock()
		return err
	}

	i := model.IndexOf(v.items, id)
	if i < 0 {
		v.mu.Unlock()
		v.logger.Error("remove of unknown line", slog.String("product_id", id.String()))
		return model.NewLineItemNotFoundError(id)
	}

	next := make([]model.LineItem, 0, len(v.items)-1)
	next = append(next, v.items[:i]...)
	next = append(next, v.items[i+1:]...)

	if err := v.deps.Store.Save(ctx, next, true); err != nil {
		v.mu.Unlock()
		return v.recover(ctx, "remove", err)
	}

	v.items = next
	delete(v.states, id)
	delete(v.pendingSince, id)
	delete(v.products, id)

	v.debouncer.Cancel()
	if v.hasPendingLocalLocked() {
		v.debouncer.Trigger()
	}
	v.mu.Unlock()

	v.goRemote(remote.OpDeleteItem, func(ctx context.Context) error {
		return v.deps.Remote.DeleteItem(ctx, id)
	}, slog.String("product_id", id.String()))
	return nil
}

// Clear empties the cart locally, drops every pending marker and fires a
// remote clear without waiting for it.
func (v *View) Clear(ctx context.Context) error {
	v.mu.Lock()
	if err := v.checkMutableLocked(); err != nil {
		v.mu.Unlock()
		return err
	}

	if err := v.deps.Store.Save(ctx, []model.LineItem{}, true); err != nil {
		v.mu.Unlock()
		return v.recover(ctx, "clear", err)
	}

	v.items = []model.LineItem{}
	v.states = make(map[model.ProductID]LineState)
	v.pendingSince = make(map[model.ProductID]time.Time)
	v.debouncer.Cancel()
	v.mu.Unlock()

	v.goRemote(remote.OpClearCart, v.deps.Remote.ClearCart)
	return nil
}

// OrderPlaced destroys the cart after a successful order: memory is emptied,
// the store key is removed and other surfaces are told to reload.
func (v *View) OrderPlaced(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.mounted {
		return ErrClosed
	}

	v.debouncer.Cancel()
	v.items = []model.LineItem{}
	v.states = make(map[model.ProductID]LineState)
	v.pendingSince = make(map[model.ProductID]time.Time)
	v.products = make(map[model.ProductID]*model.Product)
	v.lastErr = nil

	if err := v.deps.Store.Remove(ctx); err != nil {
		return err
	}
	if v.deps.Notifier != nil {
		v.deps.Notifier.Publish(notify.CartChanged)
	}
	return nil
}

// recover restores a known-good state after the local half of a removal failed,
// then hands back the original error.
func (v *View) recover(ctx context.Context, op string, err error) error {
	v.logger.Warn("local cart write failed, resyncing",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	if syncErr := v.Sync(ctx); syncErr != nil {
		v.logger.Warn("resync after failed write failed", slog.String("error", syncErr.Error()))
	}
	return err
}

func (v *View) hasPendingLocalLocked() bool {
	for _, st := range v.states {
		if st == PendingLocal {
			return true
		}
	}
	return false
}

// goRemote runs a write-path call in the background. Its failure is logged only.
func (v *View) goRemote(op string, call func(ctx context.Context) error, attrs ...any) {
	v.inflight.Add(1)
	go func() {
		defer v.inflight.Done()
		if err := call(v.bg); err != nil {
			args := append([]any{slog.String("op", op), slog.String("error", err.Error())}, attrs...)
			v.logger.Warn("remote cart write failed", args...)
		}
	}()
}

// =============================================================================
// BATCH UPDATE
// =============================================================================

// flush is the debounce callback. It reads the cart as it is now, not as it
// was when the timer was armed.
func (v *View) flush() {
	if _, err := v.deps.Tokens.Token(v.bg); err != nil {
		v.logger.Debug("batch update skipped, no credential")
		v.deps.Metrics.BatchUpdate(metrics.ResultSkipped)
		return
	}

	v.sendMu.Lock()
	defer v.sendMu.Unlock()

	v.mu.Lock()
	if !v.mounted || len(v.items) == 0 {
		v.mu.Unlock()
		v.deps.Metrics.BatchUpdate(metrics.ResultSkipped)
		return
	}
	items := model.CloneItems(v.items)
	sent := make([]model.ProductID, 0, len(items))
	for id, st := range v.states {
		if st == PendingLocal {
			v.states[id] = PendingRemote
			sent = append(sent, id)
		}
	}
	v.mu.Unlock()

	err := v.deps.Remote.UpdateCart(v.bg, items)

	v.mu.Lock()
	if v.mounted {
		for _, id := range sent {
			if v.states[id] != PendingRemote {
				continue
			}
			if err == nil {
				v.states[id] = Synced
				delete(v.pendingSince, id)
			} else {
				v.states[id] = PendingLocal
			}
		}
	}
	v.mu.Unlock()

	if err != nil {
		v.logger.Warn("batch update failed",
			slog.Int("lines", len(items)),
			slog.String("error", err.Error()),
		)
		v.deps.Metrics.BatchUpdate(metrics.ResultError)
		return
	}
	v.logger.Debug("batch update sent", slog.Int("lines", len(items)))
	v.deps.Metrics.BatchUpdate(metrics.ResultOK)

	if v.opts.ResyncAfterBatch {
		if err := v.Sync(v.bg); err != nil {
			v.logger.Warn("resync after batch failed", slog.String("error", err.Error()))
		}
	}
}

// =============================================================================
// CROSS-VIEW SIGNALS
// =============================================================================

func (v *View) onSignal(sig notify.Signal) {
	switch sig {
	case notify.CartChanged:
		v.reload(v.bg)
	case notify.UserLoggedOut:
		v.Reset()
	}
}

// reload re-reads the Local Cart Store after another surface wrote it.
// It never calls the cart API; only products this view has not seen are fetched.
func (v *View) reload(ctx context.Context) {
	v.mu.Lock()
	if !v.mounted || v.status == StatusUnauthenticated {
		v.mu.Unlock()
		return
	}

	items := v.deps.Store.Load(ctx)
	prevQty := make(map[model.ProductID]int, len(v.items))
	for _, item := range v.items {
		prevQty[item.ProductID] = item.Quantity
	}
	prevStates := v.states

	v.replaceItemsLocked(items, func(item model.LineItem) LineState {
		if q, ok := prevQty[item.ProductID]; ok && q == item.Quantity {
			return prevStates[item.ProductID]
		}
		return PendingLocal
	})

	var unseen []model.ProductID
	for _, item := range v.items {
		if _, ok := v.products[item.ProductID]; !ok {
			unseen = append(unseen, item.ProductID)
		}
	}
	v.mu.Unlock()

	v.loadProducts(ctx, unseen, false)
}

// Reset drops all in-memory state after logout. The view stays mounted but
// refuses mutations until a new Sync finds a credential.
func (v *View) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.mounted {
		return
	}
	v.debouncer.Cancel()
	v.items = []model.LineItem{}
	v.products = make(map[model.ProductID]*model.Product)
	v.states = make(map[model.ProductID]LineState)
	v.pendingSince = make(map[model.ProductID]time.Time)
	v.lastErr = nil
	v.status = StatusUnauthenticated
	v.resets++
}
