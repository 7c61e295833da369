package page

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"devtoolkit/internal/docstore"
	"devtoolkit/internal/projector"
	"devtoolkit/internal/session"
)

type Profile struct {
	SignedIn bool
	Name     string
	Email    string
}

// AccountView is everything the account page shows. Lists hold one label
// per document; Err is the last subscription failure, if any.
type AccountView struct {
	Profile     Profile
	Favorites   []string
	Suggestions []string
	Contacts    []string
	Err         error
}

func profileOf(s session.Session) Profile {
	if !s.SignedIn() {
		return Profile{Name: "Account"}
	}
	p := Profile{SignedIn: true, Name: s.User.DisplayName, Email: s.User.Email}
	if p.Name == "" {
		p.Name = p.Email
	}
	if p.Name == "" {
		p.Name = "Account"
	}
	return p
}

// labelDecoder labels a document with the first non-empty field of keys.
func labelDecoder(keys ...string) projector.Decoder[string] {
	return func(f docstore.Fields) (string, bool) {
		for _, k := range keys {
			if v := f.String(k); v != "" {
				return v, true
			}
		}
		return "", true
	}
}

func labels(s projector.Snapshot[string]) []string {
	out := make([]string, len(s.Items))
	for i, it := range s.Items {
		out[i] = it.Fields
		if out[i] == "" {
			out[i] = it.ID
		}
	}
	return out
}

// Account is the profile page with live lists of the user's favorites,
// suggestions and contact messages. Every session change tears down the
// previous user's subscriptions before any new ones open.
type Account struct {
	env      Env
	onChange func(AccountView)

	favorites   *projector.Projector[string]
	suggestions *projector.Projector[string]
	contacts    *projector.Projector[string]

	mu       sync.Mutex
	profile  Profile
	handle   session.Handle
	rendered [3]bool

	ready     chan struct{}
	readyOnce sync.Once
}

// NewAccount wires the page; onChange, when set, receives a fresh view
// after every update.
func NewAccount(env Env, onChange func(AccountView)) *Account {
	env = env.withDefaults()
	a := &Account{env: env, onChange: onChange, ready: make(chan struct{})}

	logger := projector.WithLogger(env.Logger.Named("account"))
	a.favorites = projector.New[string](env.Remote, favoritesCollection, labelDecoder("title"), a.changed(0), logger)
	a.suggestions = projector.New[string](env.Remote, "suggestions", labelDecoder("title", "message", "text"), a.changed(1), logger)
	a.contacts = projector.New[string](env.Remote, "contacts", labelDecoder("name"), a.changed(2), logger)

	a.handle = env.Watcher.Subscribe(a.transition)
	return a
}

// transition runs on the watcher's dispatch. Stopping all three projectors
// first guarantees nothing from the previous user renders afterwards.
func (a *Account) transition(s session.Session) {
	a.favorites.Stop()
	a.suggestions.Stop()
	a.contacts.Stop()

	a.mu.Lock()
	a.profile = profileOf(s)
	a.mu.Unlock()

	ctx := context.Background()
	for _, p := range []*projector.Projector[string]{a.favorites, a.suggestions, a.contacts} {
		if err := p.Start(ctx, s); err != nil {
			a.env.Logger.Info("account list not started", zap.Error(err))
		}
	}
}

func (a *Account) changed(list int) projector.Renderer[string] {
	return func(projector.Snapshot[string]) {
		a.mu.Lock()
		a.rendered[list] = true
		all := a.rendered[0] && a.rendered[1] && a.rendered[2]
		a.mu.Unlock()
		if all {
			a.readyOnce.Do(func() { close(a.ready) })
		}

		if a.onChange != nil {
			a.onChange(a.View())
		}
	}
}

// WaitReady blocks until each list has rendered at least once.
func (a *Account) WaitReady(ctx context.Context) (AccountView, error) {
	select {
	case <-a.ready:
		return a.View(), nil
	case <-ctx.Done():
		return AccountView{}, ctx.Err()
	}
}

func (a *Account) View() AccountView {
	a.mu.Lock()
	v := AccountView{Profile: a.profile}
	a.mu.Unlock()

	fav, sug, con := a.favorites.Current(), a.suggestions.Current(), a.contacts.Current()
	v.Favorites, v.Suggestions, v.Contacts = labels(fav), labels(sug), labels(con)
	for _, s := range []projector.Snapshot[string]{fav, sug, con} {
		if s.Err != nil {
			v.Err = s.Err
		}
	}
	return v
}

// Live reports how many of the page's subscriptions are open.
func (a *Account) Live() int {
	n := 0
	for _, p := range []*projector.Projector[string]{a.favorites, a.suggestions, a.contacts} {
		if p.Active() {
			n++
		}
	}
	return n
}

// SignOut signs the user out; the page resets through the session change.
func (a *Account) SignOut(ctx context.Context) error {
	if a.env.Identity == nil {
		return nil
	}
	if err := a.env.Identity.SignOut(ctx); err != nil {
		a.env.Logger.Warn("sign out failed", zap.Error(err))
		return err
	}
	return nil
}

func (a *Account) Close() {
	a.env.Watcher.Unsubscribe(a.handle)
	a.favorites.Stop()
	a.suggestions.Stop()
	a.contacts.Stop()
}
