package syncstore

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"devtoolkit/internal/docstore"
	"devtoolkit/internal/localstore"
	"devtoolkit/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// checklist is a set of checked item ids.
type checklist struct{}

func (checklist) Descriptor() Descriptor {
	return Descriptor{LocalKey: "test.checklist.v1", Collection: "learn", DocID: "checklist", ExportName: "checklist.txt"}
}

func (checklist) Default() []string { return []string{} }

func (checklist) Normalize(v []string) []string {
	seen := make(map[string]bool, len(v))
	out := make([]string, 0, len(v))
	for _, id := range v {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (checklist) Progress(v []string) int { return len(v) }

func (checklist) Encode(v []string) docstore.Fields {
	return docstore.Fields{"checked": append([]string(nil), v...)}
}

func (checklist) Decode(f docstore.Fields) []string { return f.Strings("checked") }

func (checklist) Render(v []string) string { return strings.Join(v, "\n") }

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fixedClock {
	return &fixedClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

var alice = session.SignedInAs(session.User{ID: "alice", Email: "alice@example.com"})

func newStore(local localstore.Storage, remote docstore.Backend, clock *fixedClock) *Store[[]string] {
	return New[[]string](checklist{}, local, remote, WithClock(clock.Now))
}

func seedRemote(t *testing.T, m *docstore.Memory, user string, checked []string, updatedAt int64) {
	t.Helper()
	p := docstore.Path{UserID: user, Collection: "learn", DocID: "checklist"}
	require.NoError(t, m.Set(context.Background(), p, docstore.Fields{"checked": checked, "updatedAt": updatedAt}, docstore.SetOptions{}))
}

func TestMutateSurvivesReload(t *testing.T) {
	ctx := context.Background()
	local := localstore.NewMemory()
	clock := newClock()

	s := newStore(local, nil, clock)
	s.Update(ctx, func(v []string) []string { return append(v, "git") })
	s.Update(ctx, func(v []string) []string { return append(v, "vite") })
	want := s.Update(ctx, func(v []string) []string { return append(v, "react") })

	reloaded := newStore(local, nil, clock).Value()
	assert.Equal(t, []string{"git", "react", "vite"}, reloaded.Payload)
	assert.Equal(t, want.UpdatedAt, reloaded.UpdatedAt)
	assert.Equal(t, want, reloaded)
}

func TestLoadDiscardsCorruptLocal(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "not json", raw: "{{{", want: []string{}},
		{name: "no payload", raw: `{"updatedAt": 3}`, want: []string{}},
		{name: "wrong types", raw: `{"payload": {"checked": [1, "git", null]}, "updatedAt": 3}`, want: []string{"git"}},
		{name: "missing field", raw: `{"payload": {}, "updatedAt": 3}`, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local := localstore.NewMemory()
			require.NoError(t, local.SetItem("test.checklist.v1", tt.raw))

			v := newStore(local, nil, newClock()).Value()
			assert.Equal(t, tt.want, v.Payload)
		})
	}
}

func TestUpdatedAtIsMonotonic(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	s := newStore(nil, nil, clock)

	first := s.Mutate(ctx, []string{"a"})
	second := s.Mutate(ctx, []string{"b"})
	assert.Greater(t, second.UpdatedAt, first.UpdatedAt)

	clock.Advance(-time.Hour)
	third := s.Mutate(ctx, []string{"c"})
	assert.Greater(t, third.UpdatedAt, second.UpdatedAt)
}

func TestPickByProgress(t *testing.T) {
	progress := func(v []string) int { return len(v) }
	items := func(n int) []string {
		out := make([]string, n)
		for i := range out {
			out[i] = string(rune('a' + i))
		}
		return out
	}

	tests := []struct {
		name       string
		local      SyncedValue[[]string]
		remote     SyncedValue[[]string]
		wantRemote bool
	}{
		{name: "remote has more progress", local: SyncedValue[[]string]{Payload: items(3), UpdatedAt: 10}, remote: SyncedValue[[]string]{Payload: items(5), UpdatedAt: 1, Source: Remote}, wantRemote: true},
		{name: "local has more progress", local: SyncedValue[[]string]{Payload: items(5), UpdatedAt: 1}, remote: SyncedValue[[]string]{Payload: items(3), UpdatedAt: 10, Source: Remote}},
		{name: "tie, local newer", local: SyncedValue[[]string]{Payload: items(3), UpdatedAt: 20}, remote: SyncedValue[[]string]{Payload: items(3), UpdatedAt: 10, Source: Remote}},
		{name: "tie, remote newer", local: SyncedValue[[]string]{Payload: items(3), UpdatedAt: 10}, remote: SyncedValue[[]string]{Payload: items(3), UpdatedAt: 20, Source: Remote}, wantRemote: true},
		{name: "full tie keeps local", local: SyncedValue[[]string]{Payload: items(2), UpdatedAt: 10}, remote: SyncedValue[[]string]{Payload: items(2), UpdatedAt: 10, Source: Remote}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PickByProgress(tt.local, tt.remote, progress)
			assert.Equal(t, tt.wantRemote, RemoteWins(tt.local, tt.remote, progress))
			if tt.wantRemote {
				assert.Equal(t, tt.remote, got)
			} else {
				assert.Equal(t, tt.local, got)
			}
		})
	}
}

func TestReconcileMostProgressWins(t *testing.T) {
	tests := []struct {
		name       string
		local      []string
		remote     []string
		remoteAt   int64
		want       []string
		wantPushed bool
	}{
		{name: "remote 5 beats local 3", local: []string{"a", "b", "c"}, remote: []string{"a", "b", "c", "d", "e"}, remoteAt: 1, want: []string{"a", "b", "c", "d", "e"}},
		{name: "local 5 beats remote 3", local: []string{"a", "b", "c", "d", "e"}, remote: []string{"x", "y", "z"}, remoteAt: 1, want: []string{"a", "b", "c", "d", "e"}, wantPushed: true},
		{name: "tie goes to newer local", local: []string{"a", "b", "c"}, remote: []string{"x", "y", "z"}, remoteAt: 1, want: []string{"a", "b", "c"}, wantPushed: true},
		{name: "tie goes to newer remote", local: []string{"a", "b", "c"}, remote: []string{"x", "y", "z"}, remoteAt: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(), want: []string{"x", "y", "z"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			remote := docstore.NewMemory()
			seedRemote(t, remote, "alice", tt.remote, tt.remoteAt)
			before := remote.Writes()

			s := newStore(nil, remote, newClock())
			s.Mutate(ctx, tt.local)

			require.NoError(t, s.OnSessionChange(ctx, alice))
			assert.Equal(t, tt.want, s.Value().Payload)
			assert.Equal(t, "alice", s.SignedInUser())

			doc, err := remote.Get(ctx, docstore.Path{UserID: "alice", Collection: "learn", DocID: "checklist"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, doc.Fields.Strings("checked"))
			assert.Equal(t, tt.wantPushed, remote.Writes() > before)
		})
	}
}

func TestFirstSyncPushesLocal(t *testing.T) {
	ctx := context.Background()
	remote := docstore.NewMemory()
	s := newStore(nil, remote, newClock())
	local := s.Mutate(ctx, []string{"git"})

	require.NoError(t, s.OnSessionChange(ctx, alice))

	doc, err := remote.Get(ctx, docstore.Path{UserID: "alice", Collection: "learn", DocID: "checklist"})
	require.NoError(t, err)
	assert.Equal(t, []string{"git"}, doc.Fields.Strings("checked"))
	n, _ := doc.Fields.Int64("updatedAt")
	assert.Equal(t, local.UpdatedAt, n)
	_, hasSavedAt := doc.Fields["savedAt"]
	assert.True(t, hasSavedAt)
}

func TestFirstSyncPullsRemoteIntoEmptyLocal(t *testing.T) {
	ctx := context.Background()
	remote := docstore.NewMemory()
	seedRemote(t, remote, "alice", []string{"i_fetch"}, 5)

	local := localstore.NewMemory()
	s := newStore(local, remote, newClock())
	require.NoError(t, s.OnSessionChange(ctx, alice))

	v := s.Value()
	assert.Equal(t, []string{"i_fetch"}, v.Payload)
	assert.Equal(t, Remote, v.Source)
	assert.Equal(t, int64(5), v.UpdatedAt)

	// The pulled value is now the local copy too.
	assert.Equal(t, []string{"i_fetch"}, newStore(local, nil, newClock()).Value().Payload)
}

func TestReconcileIsIdempotent(t *testing.T) {
	ctx := context.Background()
	for _, remoteFirst := range []bool{true, false} {
		remote := docstore.NewMemory()
		s := newStore(nil, remote, newClock())
		if remoteFirst {
			seedRemote(t, remote, "alice", []string{"a", "b"}, 7)
		} else {
			s.Mutate(ctx, []string{"a"})
		}

		require.NoError(t, s.OnSessionChange(ctx, alice))
		first := s.Value()
		require.NoError(t, s.OnSessionChange(ctx, alice))
		assert.Equal(t, first, s.Value())
	}
}

func TestNoRemoteWritesAfterSignOut(t *testing.T) {
	ctx := context.Background()
	remote := docstore.NewMemory()
	s := newStore(nil, remote, newClock())

	require.NoError(t, s.OnSessionChange(ctx, alice))
	s.Mutate(ctx, []string{"a"})
	writes := remote.Writes()

	require.NoError(t, s.OnSessionChange(ctx, session.Anonymous()))
	s.Mutate(ctx, []string{"a", "b"})
	s.Reset(ctx)
	s.Update(ctx, func(v []string) []string { return append(v, "c") })

	assert.Equal(t, writes, remote.Writes())
	assert.Equal(t, "", s.SignedInUser())
	assert.Equal(t, []string{"c"}, s.Value().Payload)
}

func TestAnonymousStoreNeverWritesRemote(t *testing.T) {
	ctx := context.Background()
	remote := docstore.NewMemory()
	s := newStore(nil, remote, newClock())

	require.NoError(t, s.OnSessionChange(ctx, session.Session{State: session.Unknown}))
	s.Mutate(ctx, []string{"a"})
	s.Reset(ctx)

	assert.Equal(t, 0, remote.Writes())
}

func TestRemoteWriteFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	remote := docstore.NewMemory()
	local := localstore.NewMemory()
	s := newStore(local, remote, newClock())
	require.NoError(t, s.OnSessionChange(ctx, alice))

	remote.SetFailure(docstore.ErrUnavailable)
	v := s.Mutate(ctx, []string{"a", "b"})

	assert.Equal(t, []string{"a", "b"}, v.Payload)
	assert.Equal(t, []string{"a", "b"}, newStore(local, nil, newClock()).Value().Payload)
}

func TestPushReportsRemoteErrors(t *testing.T) {
	ctx := context.Background()
	remote := docstore.NewMemory()
	clock := newClock()
	s := newStore(nil, remote, clock)
	before := s.Mutate(ctx, []string{"git"})

	assert.ErrorIs(t, s.Push(ctx, "alice"), ErrNotReconciled)
	require.NoError(t, s.OnSessionChange(ctx, alice))

	var mu sync.Mutex
	var pushed []Event[[]string]
	cancel := s.Subscribe(func(e Event[[]string]) {
		mu.Lock()
		pushed = append(pushed, e)
		mu.Unlock()
	})
	defer cancel()

	clock.Advance(time.Second)
	require.NoError(t, s.Push(ctx, "alice"))
	assert.Greater(t, s.Value().UpdatedAt, before.UpdatedAt)

	mu.Lock()
	require.Len(t, pushed, 1)
	assert.Equal(t, CausePush, pushed[0].Cause)
	assert.Equal(t, s.Value().UpdatedAt, pushed[0].Value.UpdatedAt)
	mu.Unlock()

	doc, err := remote.Get(ctx, docstore.Path{UserID: "alice", Collection: "learn", DocID: "checklist"})
	require.NoError(t, err)
	assert.Equal(t, []string{"git"}, doc.Fields.Strings("checked"))
	stamp, _ := doc.Fields.Int64("updatedAt")
	assert.Equal(t, s.Value().UpdatedAt, stamp)

	assert.ErrorIs(t, s.Push(ctx, "bob"), ErrNotReconciled)

	remote.SetFailure(docstore.ErrUnavailable)
	assert.ErrorIs(t, s.Push(ctx, "alice"), docstore.ErrUnavailable)

	assert.ErrorIs(t, newStore(nil, nil, clock).Push(ctx, "alice"), docstore.ErrUnavailable)
}

func TestUnavailableRemoteOnSignInStaysLocal(t *testing.T) {
	ctx := context.Background()
	remote := docstore.NewMemory()
	remote.SetFailure(docstore.ErrUnavailable)
	s := newStore(nil, remote, newClock())

	err := s.OnSessionChange(ctx, alice)
	assert.ErrorIs(t, err, docstore.ErrUnavailable)
	assert.Equal(t, "", s.SignedInUser())

	remote.SetFailure(nil)
	s.Mutate(ctx, []string{"a"})
	assert.Equal(t, 0, remote.Writes())
}

func TestMalformedRemoteIsFiltered(t *testing.T) {
	ctx := context.Background()
	remote := docstore.NewMemory()
	p := docstore.Path{UserID: "alice", Collection: "learn", DocID: "checklist"}
	require.NoError(t, remote.Set(ctx, p, docstore.Fields{"checked": []any{"a", 5, "b", map[string]any{}}, "updatedAt": "soon"}, docstore.SetOptions{}))

	s := newStore(nil, remote, newClock())
	require.NoError(t, s.OnSessionChange(ctx, alice))
	assert.Equal(t, []string{"a", "b"}, s.Value().Payload)
}

// gatedBackend blocks Get until released.
type gatedBackend struct {
	docstore.Backend
	entered chan struct{}
	release chan struct{}
}

func (g *gatedBackend) Get(ctx context.Context, p docstore.Path) (*docstore.Document, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.Backend.Get(ctx, p)
}

func TestStaleReconciliationIsDiscarded(t *testing.T) {
	ctx := context.Background()
	mem := docstore.NewMemory()
	seedRemote(t, mem, "alice", []string{"a", "b", "c"}, 1)
	gated := &gatedBackend{Backend: mem, entered: make(chan struct{}), release: make(chan struct{})}
	s := newStore(nil, gated, newClock())

	done := make(chan error, 1)
	go func() { done <- s.OnSessionChange(ctx, alice) }()
	<-gated.entered

	require.NoError(t, s.OnSessionChange(ctx, session.Anonymous()))
	close(gated.release)
	require.NoError(t, <-done)

	assert.Equal(t, "", s.SignedInUser())
	assert.Equal(t, []string{}, s.Value().Payload)
}

func TestReconcileUsesMutationMadeDuringFetch(t *testing.T) {
	ctx := context.Background()
	mem := docstore.NewMemory()
	seedRemote(t, mem, "alice", []string{"x"}, 1)
	gated := &gatedBackend{Backend: mem, entered: make(chan struct{}), release: make(chan struct{})}
	s := newStore(nil, gated, newClock())

	done := make(chan error, 1)
	go func() { done <- s.OnSessionChange(ctx, alice) }()
	<-gated.entered

	s.Mutate(ctx, []string{"a", "b"})
	before := mem.Writes()
	close(gated.release)
	require.NoError(t, <-done)

	assert.Equal(t, []string{"a", "b"}, s.Value().Payload)
	assert.Greater(t, mem.Writes(), before)
}

func TestPushWaitsForSignInReconciliation(t *testing.T) {
	ctx := context.Background()
	mem := docstore.NewMemory()
	seedRemote(t, mem, "alice", []string{"a", "b", "c", "d", "e"}, 1)
	gated := &gatedBackend{Backend: mem, entered: make(chan struct{}), release: make(chan struct{})}
	s := newStore(nil, gated, newClock())

	reconciled := make(chan error, 1)
	go func() { reconciled <- s.OnSessionChange(ctx, alice) }()
	<-gated.entered

	pushed := make(chan error, 1)
	go func() { pushed <- s.Push(ctx, "alice") }()
	select {
	case err := <-pushed:
		t.Fatalf("push returned before reconciliation finished: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	close(gated.release)
	require.NoError(t, <-reconciled)
	require.NoError(t, <-pushed)

	want := []string{"a", "b", "c", "d", "e"}
	assert.Equal(t, want, s.Value().Payload)
	doc, err := mem.Get(ctx, docstore.Path{UserID: "alice", Collection: "learn", DocID: "checklist"})
	require.NoError(t, err)
	assert.Equal(t, want, doc.Fields.Strings("checked"))
}

func TestPushGivesUpWithContext(t *testing.T) {
	mem := docstore.NewMemory()
	seedRemote(t, mem, "alice", []string{"a"}, 1)
	writes := mem.Writes()
	gated := &gatedBackend{Backend: mem, entered: make(chan struct{}), release: make(chan struct{})}
	s := newStore(nil, gated, newClock())

	reconciled := make(chan error, 1)
	go func() { reconciled <- s.OnSessionChange(context.Background(), alice) }()
	<-gated.entered

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Push(ctx, "alice"), context.DeadlineExceeded)

	close(gated.release)
	require.NoError(t, <-reconciled)
	assert.Equal(t, writes, mem.Writes())
}

func TestEventsAndExport(t *testing.T) {
	ctx := context.Background()
	s := newStore(nil, docstore.NewMemory(), newClock())

	var mu sync.Mutex
	var causes []Cause
	cancel := s.Subscribe(func(e Event[[]string]) {
		mu.Lock()
		causes = append(causes, e.Cause)
		mu.Unlock()
	})

	s.Mutate(ctx, []string{"b", "a", "a"})
	export := s.Export()
	require.NoError(t, s.OnSessionChange(ctx, alice))
	s.Reset(ctx)
	cancel()
	s.Mutate(ctx, []string{"z"})

	assert.Equal(t, []Cause{CauseMutate, CauseReconcile, CauseReset}, causes)

	assert.Equal(t, "checklist.txt", export.Filename)
	var buf bytes.Buffer
	_, err := export.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, "a\nb", buf.String())
}

func TestBindFollowsWatcher(t *testing.T) {
	provider := &switchProvider{}
	w := session.NewWatcher(provider, nil)
	defer w.Close()

	remote := docstore.NewMemory()
	seedRemote(t, remote, "alice", []string{"a", "b"}, 3)
	s := newStore(nil, remote, newClock())

	reconciled := make(chan SyncedValue[[]string], 4)
	cancel := s.Subscribe(func(e Event[[]string]) {
		if e.Cause == CauseReconcile {
			reconciled <- e.Value
		}
	})
	defer cancel()

	s.Bind(w)
	defer s.Close()

	provider.set(&session.User{ID: "alice"})
	select {
	case v := <-reconciled:
		assert.Equal(t, []string{"a", "b"}, v.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("store did not reconcile")
	}
	assert.Equal(t, "alice", s.SignedInUser())

	provider.set(nil)
	assert.Equal(t, "", s.SignedInUser())
}

type switchProvider struct {
	mu sync.Mutex
	fn func(*session.User)
}

func (p *switchProvider) CurrentUser() *session.User { return nil }

func (p *switchProvider) OnSessionChange(fn func(*session.User)) func() {
	p.mu.Lock()
	p.fn = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.fn = nil
		p.mu.Unlock()
	}
}

func (p *switchProvider) set(u *session.User) {
	p.mu.Lock()
	fn := p.fn
	p.mu.Unlock()
	if fn != nil {
		fn(u)
	}
}
