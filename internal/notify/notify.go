// Package notify is the cross-view broadcast channel.
//
// Any mounted view that shows cart contents subscribes on mount and closes its
// subscription on teardown. The channel itself lives for the whole process.
package notify

import (
	"sync"
)

// Signal is a payload-free broadcast.
type Signal int

const (
	// CartChanged: the Local Cart Store was written with notify=true.
	// Listeners reload from the store; they never re-fetch from the remote.
	CartChanged Signal = iota + 1

	// UserLoggedOut: listeners drop all in-memory cart state.
	UserLoggedOut
)

func (s Signal) String() string {
	switch s {
	case CartChanged:
		return "cart_changed"
	case UserLoggedOut:
		return "user_logged_out"
	default:
		return "unknown"
	}
}

// Notifier fans signals out to subscriptions.
type Notifier struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// New creates a notifier with no subscribers.
func New() *Notifier {
	return &Notifier{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers fn. Each subscription delivers on its own goroutine, in
// publish order, so fn may freely call back into the store or the notifier.
func (n *Notifier) Subscribe(fn func(Signal)) *Subscription {
	s := &Subscription{
		notifier: n,
		fn:       fn,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}

	n.mu.Lock()
	n.subs[s] = struct{}{}
	n.mu.Unlock()

	go s.run()
	return s
}

// Publish queues sig on every live subscription and returns without waiting.
func (n *Notifier) Publish(sig Signal) {
	n.mu.Lock()
	subs := make([]*Subscription, 0, len(n.subs))
	for s := range n.subs {
		subs = append(subs, s)
	}
	n.mu.Unlock()

	for _, s := range subs {
		s.enqueue(sig)
	}
}

// Len reports the number of live subscriptions.
func (n *Notifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

func (n *Notifier) remove(s *Subscription) {
	n.mu.Lock()
	delete(n.subs, s)
	n.mu.Unlock()
}

// Subscription is the handle a view keeps between mount and teardown.
type Subscription struct {
	notifier *Notifier
	fn       func(Signal)

	mu     sync.Mutex
	queue  []Signal
	closed bool

	wake   chan struct{}
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
}

// enqueue appends sig unless it repeats the last queued signal; a second
// pending reload adds nothing to the first.
func (s *Subscription) enqueue(sig Signal) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if n := len(s.queue); n == 0 || s.queue[n-1] != sig {
		s.queue = append(s.queue, sig)
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) run() {
	defer close(s.exited)
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			if s.closed || len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			sig := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			s.fn(sig)
		}
	}
}

// Close deregisters the subscription and drops queued signals. A callback that
// is already running completes; views guard their state with their own mounted
// flag. Close may be called from inside the callback itself.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.notifier.remove(s)

		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()

		close(s.done)
	})
}

// Done is closed once the delivery goroutine has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.exited
}
