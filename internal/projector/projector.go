// Package projector republishes a live per-user collection as ordered
// snapshots for a renderer.
package projector

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"devtoolkit/internal/docstore"
	"devtoolkit/internal/session"
)

type Item[T any] struct {
	ID        string
	Fields    T
	CreatedAt time.Time
}

// Snapshot is what the renderer sees. Err is set when the subscription
// failed; Items is then empty.
type Snapshot[T any] struct {
	Items []Item[T]
	AsOf  uint64
	Err   error
}

func (s Snapshot[T]) IDs() []string {
	ids := make([]string, len(s.Items))
	for i, it := range s.Items {
		ids[i] = it.ID
	}
	return ids
}

func (s Snapshot[T]) Has(id string) bool {
	for _, it := range s.Items {
		if it.ID == id {
			return true
		}
	}
	return false
}

// Decoder converts a document's fields; ok=false drops the document.
type Decoder[T any] func(docstore.Fields) (v T, ok bool)

type Renderer[T any] func(Snapshot[T])

type Option func(*options)

type options struct {
	logger *zap.Logger
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Projector owns at most one live subscription at a time. Deliveries from a
// subscription that has been replaced or stopped are dropped.
type Projector[T any] struct {
	backend    docstore.Backend
	collection string
	decode     Decoder[T]
	render     Renderer[T]
	logger     *zap.Logger

	mu      sync.Mutex
	gen     uint64
	sub     docstore.Subscription
	user    string
	current Snapshot[T]

	emitMu sync.Mutex

	bindMu     sync.Mutex
	unbind     func()
	bindCancel context.CancelFunc
}

func New[T any](b docstore.Backend, collection string, decode Decoder[T], render Renderer[T], opts ...Option) *Projector[T] {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if render == nil {
		render = func(Snapshot[T]) {}
	}
	return &Projector[T]{
		backend:    b,
		collection: collection,
		decode:     decode,
		render:     render,
		logger:     o.logger.Named("projector").With(zap.String("collection", collection)),
	}
}

// Start replaces any running subscription with one for sess. Signed-out
// sessions, or a missing backend, render an empty snapshot before Start
// returns and open nothing.
func (p *Projector[T]) Start(ctx context.Context, sess session.Session) error {
	p.Stop()

	p.mu.Lock()
	p.gen++
	gen := p.gen
	p.mu.Unlock()

	if !sess.SignedIn() || p.backend == nil {
		p.deliver(gen, Snapshot[T]{})
		return nil
	}

	uid := sess.UserID()
	c := docstore.CollectionPath{UserID: uid, Collection: p.collection}
	sub, err := p.backend.Watch(ctx, c,
		func(s docstore.Snapshot) { p.deliver(gen, p.project(s)) },
		func(err error) { p.fail(gen, err) },
	)
	if err != nil {
		p.fail(gen, err)
		return err
	}

	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		sub.Cancel()
		return nil
	}
	p.sub = sub
	p.user = uid
	p.mu.Unlock()
	return nil
}

// Stop cancels the live subscription, if any, and waits for an in-flight
// render to finish. It must not be called from the renderer.
func (p *Projector[T]) Stop() {
	p.mu.Lock()
	p.gen++
	sub := p.sub
	p.sub = nil
	p.user = ""
	p.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}

	p.emitMu.Lock()
	p.emitMu.Unlock()
}

// Current returns the last rendered snapshot.
func (p *Projector[T]) Current() Snapshot[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Active reports whether a live subscription is open.
func (p *Projector[T]) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sub != nil
}

func (p *Projector[T]) project(s docstore.Snapshot) Snapshot[T] {
	out := Snapshot[T]{AsOf: s.Seq, Items: make([]Item[T], 0, len(s.Docs))}
	seen := make(map[string]bool, len(s.Docs))
	for _, d := range s.Docs {
		if seen[d.ID] {
			continue
		}
		v, ok := p.decode(d.Fields)
		if !ok {
			p.logger.Debug("dropping malformed document", zap.String("id", d.ID))
			continue
		}
		seen[d.ID] = true
		out.Items = append(out.Items, Item[T]{ID: d.ID, Fields: v, CreatedAt: d.CreatedAt})
	}
	return out
}

func (p *Projector[T]) fail(gen uint64, err error) {
	p.mu.Lock()
	user := p.user
	if p.gen == gen {
		p.sub = nil
	}
	p.mu.Unlock()

	p.logger.Warn("live subscription failed", zap.String("user_id", user), zap.Error(err))
	p.deliver(gen, Snapshot[T]{Err: err})
}

func (p *Projector[T]) deliver(gen uint64, s Snapshot[T]) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		return
	}
	p.current = s
	p.mu.Unlock()

	p.render(s)
}

// Bind restarts the projector on every transition reported by w until Close.
func (p *Projector[T]) Bind(w *session.Watcher) {
	p.bindMu.Lock()
	defer p.bindMu.Unlock()
	if p.unbind != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.bindCancel = cancel
	h := w.Subscribe(func(sess session.Session) {
		if err := p.Start(ctx, sess); err != nil {
			p.logger.Info("live subscription not started", zap.Error(err))
		}
	})
	p.unbind = func() { w.Unsubscribe(h) }
}

// Close unbinds from the watcher and stops the subscription.
func (p *Projector[T]) Close() {
	p.bindMu.Lock()
	unbind, cancel := p.unbind, p.bindCancel
	p.unbind, p.bindCancel = nil, nil
	p.bindMu.Unlock()

	if unbind != nil {
		unbind()
	}
	p.Stop()
	if cancel != nil {
		cancel()
	}
}
