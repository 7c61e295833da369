package page

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"devtoolkit/internal/catalog"
	"devtoolkit/internal/docstore"
	"devtoolkit/internal/projector"
)

const favoritesCollection = "favorites"

type Favorite struct {
	Title string
	URL   string
}

func decodeFavorite(f docstore.Fields) (Favorite, bool) {
	return Favorite{Title: f.String("title"), URL: f.String("url")}, true
}

// Favorites tracks the signed-in user's favorited tools, newest first.
type Favorites struct {
	env     Env
	proj    *projector.Projector[Favorite]
	mutator *docstore.Mutator

	mu   sync.Mutex
	subs map[int]projector.Renderer[Favorite]
	next int

	first     chan struct{}
	firstOnce sync.Once
}

func NewFavorites(env Env) *Favorites {
	env = env.withDefaults()
	f := &Favorites{
		env:     env,
		mutator: docstore.NewMutator(env.Remote, favoritesCollection),
		subs:    make(map[int]projector.Renderer[Favorite]),
		first:   make(chan struct{}),
	}
	f.proj = projector.New[Favorite](env.Remote, favoritesCollection, decodeFavorite, f.render,
		projector.WithLogger(env.Logger.Named("favorites")))
	f.proj.Bind(env.Watcher)
	return f
}

func (f *Favorites) render(s projector.Snapshot[Favorite]) {
	f.firstOnce.Do(func() { close(f.first) })

	f.mu.Lock()
	fns := make([]projector.Renderer[Favorite], 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

// Subscribe delivers every snapshot after the current one.
func (f *Favorites) Subscribe(fn projector.Renderer[Favorite]) (cancel func()) {
	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = fn
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

// WaitSnapshot blocks until the page has rendered at least once.
func (f *Favorites) WaitSnapshot(ctx context.Context) (projector.Snapshot[Favorite], error) {
	select {
	case <-f.first:
		return f.proj.Current(), nil
	case <-ctx.Done():
		return projector.Snapshot[Favorite]{}, ctx.Err()
	}
}

func (f *Favorites) Snapshot() projector.Snapshot[Favorite] {
	return f.proj.Current()
}

func (f *Favorites) IsFavorite(toolID string) bool {
	return f.proj.Current().Has(toolID)
}

// Toggle adds the tool when it is not in the last snapshot and removes it
// otherwise. It reports the state the user asked for; on error the caller
// should restore the previous state.
func (f *Favorites) Toggle(ctx context.Context, t catalog.Tool) (favorited bool, err error) {
	uid, err := f.env.currentUser()
	if err != nil {
		return false, err
	}

	if f.IsFavorite(t.ID) {
		if err := f.mutator.Remove(ctx, uid, t.ID); err != nil {
			f.env.Logger.Warn("remove favorite failed", zap.String("tool_id", t.ID), zap.Error(err))
			return true, fmt.Errorf("could not update favorites: %w", err)
		}
		return false, nil
	}

	title, link := t.Title, t.URL
	if title == "" {
		title = t.ID
	}
	if err := f.mutator.Add(ctx, uid, t.ID, docstore.Fields{"title": title, "url": link}); err != nil {
		f.env.Logger.Warn("add favorite failed", zap.String("tool_id", t.ID), zap.Error(err))
		return false, fmt.Errorf("could not update favorites: %w", err)
	}
	return true, nil
}

// Remove deletes one favorite by id.
func (f *Favorites) Remove(ctx context.Context, toolID string) error {
	uid, err := f.env.currentUser()
	if err != nil {
		return err
	}
	return f.mutator.Remove(ctx, uid, toolID)
}

func (f *Favorites) Close() {
	f.proj.Close()
}
