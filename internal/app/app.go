// Package app is the composition root of the cart subsystem.
//
// A Runtime owns the process-wide pieces (credentials, notifier, guest cart)
// and hands out cart views bound to whoever is logged in right now.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cartsync/internal/auth"
	"cartsync/internal/cart"
	"cartsync/internal/cartstore"
	"cartsync/internal/debounce"
	"cartsync/internal/guestcart"
	"cartsync/internal/metrics"
	"cartsync/internal/model"
	"cartsync/internal/notify"
	"cartsync/internal/remote"
	"cartsync/internal/storage"
)

// legacyPurge guards the one-time removal of the unscoped guest cart key.
var legacyPurge sync.Once

// Deps wires a Runtime.
type Deps struct {
	// Persistent backs user carts, the guest cart and "remember me" credentials.
	Persistent storage.Backend
	// Credentials resolves the token and identity; the remote client reads it too.
	Credentials *auth.Credentials
	Remote      remote.CartService

	Logger  *slog.Logger
	Metrics *metrics.Recorder
	Clock   debounce.Clock

	DebounceWindow     time.Duration
	ResyncAfterBatch   bool
	ProductConcurrency int

	// PurgeOnce overrides the process-wide guard; tests pass a fresh one.
	PurgeOnce *sync.Once
}

// Badge is the navbar summary, read from local storage only.
type Badge struct {
	Count         int  `json:"count"`
	TotalQuantity int  `json:"totalQuantity"`
	Guest         bool `json:"guest"`
}

// Runtime is the live cart subsystem for one client process.
type Runtime struct {
	deps     Deps
	logger   *slog.Logger
	notifier *notify.Notifier
	guest    *guestcart.Context

	// session is held exclusively while the credential changes hands, so no
	// view can bind to a user whose login is being replaced or cleared.
	session sync.RWMutex

	mu    sync.Mutex
	views map[string]*cart.View
	// live holds every view this Runtime mounted and has not closed,
	// including ones still running their first Sync.
	live map[*cart.View]struct{}
}

// New creates a Runtime and purges the legacy guest key, once per process.
func New(ctx context.Context, deps Deps) (*Runtime, error) {
	if deps.Persistent == nil {
		return nil, fmt.Errorf("persistent storage is required")
	}
	if deps.Credentials == nil {
		return nil, fmt.Errorf("credentials are required")
	}
	if deps.Remote == nil {
		return nil, fmt.Errorf("remote cart service is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	once := deps.PurgeOnce
	if once == nil {
		once = &legacyPurge
	}
	once.Do(func() {
		cartstore.PurgeLegacy(ctx, deps.Persistent, deps.Logger)
	})

	notifier := notify.New()
	return &Runtime{
		deps:     deps,
		logger:   deps.Logger,
		notifier: notifier,
		guest:    guestcart.NewContext(ctx, deps.Persistent, deps.Logger, guestcart.WithNotifier(notifier)),
		views:    make(map[string]*cart.View),
		live:     make(map[*cart.View]struct{}),
	}, nil
}

// Notifier returns the process-wide cross-view channel.
func (r *Runtime) Notifier() *notify.Notifier {
	return r.notifier
}

// Guest returns the session-scoped guest cart.
func (r *Runtime) Guest() *guestcart.Context {
	return r.guest
}

// Identity resolves the user currently logged in.
func (r *Runtime) Identity(ctx context.Context) (auth.Identity, error) {
	return r.deps.Credentials.Identity(ctx)
}

// store builds a Local Cart Store bound to identity.
func (r *Runtime) store(identity auth.Identity) *cartstore.Store {
	return cartstore.New(r.deps.Persistent, identity, r.notifier, r.logger,
		cartstore.WithRecorder(r.deps.Metrics))
}

// Login stores the credential. Views bound to another user are closed so the
// next View call mounts fresh ones.
func (r *Runtime) Login(ctx context.Context, userID, token string, remember bool) error {
	r.session.Lock()
	if err := r.deps.Credentials.Login(ctx, userID, token, remember); err != nil {
		r.session.Unlock()
		return err
	}
	stale := r.detach(func(v *cart.View) bool { return v.Identity().UserID != userID })
	for _, v := range stale {
		v.Close()
	}
	r.session.Unlock()

	for _, v := range stale {
		v.Wait()
	}
	r.logger.Info("user logged in", slog.String("user_id", userID), slog.Bool("remember", remember))
	return nil
}

// Logout retires every view, clears the credential, deletes the user's cart key
// and tells every surface to drop its state. The next View call mounts a fresh
// view, even for the same user.
//
// Views are closed before the key is deleted: a fetch or mutation still in
// flight then finds its view unmounted and cannot write the cart back.
func (r *Runtime) Logout(ctx context.Context) error {
	r.session.Lock()
	identity, err := r.Identity(ctx)
	if err != nil {
		r.session.Unlock()
		return err
	}
	retired := r.detach(func(*cart.View) bool { return true })
	for _, v := range retired {
		v.Reset()
		v.Close()
	}
	err = r.deps.Credentials.Logout(ctx)
	r.session.Unlock()

	for _, v := range retired {
		v.Wait()
	}
	if err != nil {
		return err
	}
	if err := r.store(identity).Remove(ctx); err != nil {
		return err
	}
	r.notifier.Publish(notify.UserLoggedOut)
	r.logger.Info("user logged out", slog.String("user_id", identity.UserID))
	return nil
}

// MountView mounts a new view for the current identity and runs the initial
// fetch-and-reconcile. The view is returned even when Sync fails; its status
// tells the caller what to render.
func (r *Runtime) MountView(ctx context.Context, name string) (*cart.View, error) {
	r.session.RLock()
	identity, err := r.Identity(ctx)
	if err != nil {
		r.session.RUnlock()
		return nil, err
	}
	v := cart.Mount(cart.Deps{
		Store:    r.store(identity),
		Remote:   r.deps.Remote,
		Tokens:   r.deps.Credentials,
		Notifier: r.notifier,
		Logger:   r.logger,
		Metrics:  r.deps.Metrics,
		Clock:    r.deps.Clock,
	}, cart.Options{
		Name:               name,
		DebounceWindow:     r.deps.DebounceWindow,
		ResyncAfterBatch:   r.deps.ResyncAfterBatch,
		ProductConcurrency: r.deps.ProductConcurrency,
	})
	r.mu.Lock()
	r.live[v] = struct{}{}
	r.mu.Unlock()
	r.session.RUnlock()

	return v, v.Sync(ctx)
}

// View returns the mounted view called name, mounting one if there is none
// or the existing one belongs to another user.
func (r *Runtime) View(ctx context.Context, name string) (*cart.View, error) {
	identity, err := r.Identity(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	existing, ok := r.views[name]
	r.mu.Unlock()
	if ok && existing.Identity() == identity {
		return existing, nil
	}

	v, syncErr := r.MountView(ctx, name)
	if v == nil {
		return nil, syncErr
	}

	r.mu.Lock()
	if _, ok := r.live[v]; !ok {
		// Retired by a login or logout while its first Sync ran.
		r.mu.Unlock()
		return v, syncErr
	}
	if prev, ok := r.views[name]; ok && prev != existing {
		// Lost a race with another caller; keep theirs.
		delete(r.live, v)
		r.mu.Unlock()
		v.Close()
		return prev, nil
	}
	r.views[name] = v
	r.mu.Unlock()

	if existing != nil {
		r.closeViews(func(x *cart.View) bool { return x == existing })
	}
	return v, syncErr
}

// Badge counts the cart from local storage without any remote call.
// Anonymous visitors get the guest cart count.
func (r *Runtime) Badge(ctx context.Context) (Badge, error) {
	identity, err := r.Identity(ctx)
	if err != nil {
		return Badge{}, err
	}
	if identity.IsAnonymous() {
		items := r.guest.State().Items
		return Badge{Count: len(items), TotalQuantity: model.TotalQuantity(items), Guest: true}, nil
	}
	items := r.store(identity).Load(ctx)
	return Badge{Count: len(items), TotalQuantity: model.TotalQuantity(items)}, nil
}

// Close unmounts every view and waits for their background writes.
func (r *Runtime) Close() {
	r.closeViews(func(*cart.View) bool { return true })
}

// detach removes the views matching match from the Runtime and returns them.
// The caller closes them.
func (r *Runtime) detach(match func(*cart.View) bool) []*cart.View {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*cart.View
	for v := range r.live {
		if match(v) {
			out = append(out, v)
			delete(r.live, v)
		}
	}
	for name, v := range r.views {
		if _, ok := r.live[v]; !ok {
			delete(r.views, name)
		}
	}
	return out
}

func (r *Runtime) closeViews(match func(*cart.View) bool) {
	closing := r.detach(match)
	for _, v := range closing {
		v.Close()
	}
	for _, v := range closing {
		v.Wait()
	}
}
