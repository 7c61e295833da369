package session

import (
	"sync"

	"go.uber.org/zap"
)

type Listener func(Session)

// Handle identifies one subscription. The zero Handle is never issued.
type Handle uint64

type subscription struct {
	listener Listener
	active   bool
}

// Watcher fans provider transitions out to listeners. Listeners are called
// one at a time, in the order the transitions were observed.
type Watcher struct {
	logger *zap.Logger

	mu      sync.Mutex
	current Session
	next    Handle
	subs    map[Handle]*subscription
	order   []Handle
	cancel  func()
	closed  bool

	notifyMu sync.Mutex
}

// NewWatcher starts observing p. A nil provider yields a watcher that is
// permanently signed out.
func NewWatcher(p Provider, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Watcher{
		logger: logger.Named("session"),
		subs:   make(map[Handle]*subscription),
	}

	if p == nil {
		w.current = Anonymous()
		w.logger.Info("identity provider unavailable, running signed out")
		return w
	}

	if u := p.CurrentUser(); u != nil {
		w.current = SignedInAs(*u)
	}
	w.cancel = p.OnSessionChange(func(u *User) {
		if u == nil {
			w.set(Anonymous())
			return
		}
		w.set(SignedInAs(*u))
	})
	return w
}

// Current returns the best-known session.
func (w *Watcher) Current() Session {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Subscribe registers l and calls it once with the current session before
// returning. Listeners must not call Subscribe from inside a notification.
func (w *Watcher) Subscribe(l Listener) Handle {
	w.notifyMu.Lock()
	defer w.notifyMu.Unlock()

	w.mu.Lock()
	w.next++
	h := w.next
	sub := &subscription{listener: l, active: true}
	w.subs[h] = sub
	w.order = append(w.order, h)
	current := w.current
	w.mu.Unlock()

	l(current)
	return h
}

// Unsubscribe stops notifications for h. Calling it more than once, or with
// an unknown handle, is a no-op.
func (w *Watcher) Unsubscribe(h Handle) {
	w.mu.Lock()
	defer w.mu.Unlock()

	sub, ok := w.subs[h]
	if !ok {
		return
	}
	sub.active = false
	delete(w.subs, h)
	for i, oh := range w.order {
		if oh == h {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
}

// Close detaches from the provider and drops every listener.
func (w *Watcher) Close() {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.closed = true
	for _, sub := range w.subs {
		sub.active = false
	}
	w.subs = make(map[Handle]*subscription)
	w.order = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (w *Watcher) set(s Session) {
	w.notifyMu.Lock()
	defer w.notifyMu.Unlock()

	w.mu.Lock()
	if w.closed || w.current.Equal(s) {
		w.mu.Unlock()
		return
	}
	w.current = s
	targets := make([]*subscription, 0, len(w.order))
	for _, h := range w.order {
		targets = append(targets, w.subs[h])
	}
	w.mu.Unlock()

	w.logger.Debug("session changed", zap.Stringer("state", s.State), zap.String("user_id", s.UserID()))

	for _, sub := range targets {
		w.mu.Lock()
		active := sub.active
		w.mu.Unlock()
		if active {
			sub.listener(s)
		}
	}
}
