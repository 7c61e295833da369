// Package page holds the controllers behind each DevToolkit page. They are
// headless: every controller exposes plain state and operations, and the
// host decides how to draw them.
package page

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"devtoolkit/internal/catalog"
	"devtoolkit/internal/docstore"
	"devtoolkit/internal/localstore"
	"devtoolkit/internal/session"
)

var ErrSignInRequired = errors.New("sign in required")

// UserError is a failure meant to be shown to the user as is.
type UserError struct {
	Code    string
	Message string
}

func (e *UserError) Error() string { return e.Message }

// Identity is the part of the identity client the pages drive.
type Identity interface {
	SignIn(ctx context.Context, email, password string) (*session.User, error)
	SignUp(ctx context.Context, displayName, email, password string) (*session.User, error)
	SignOut(ctx context.Context) error
	SendPasswordReset(ctx context.Context, email string) error
}

// Env is everything a page needs. Remote and Identity may be nil, in which
// case pages run local-only and signed out.
type Env struct {
	Watcher  *session.Watcher
	Identity Identity
	Local    localstore.Storage
	Remote   docstore.Backend
	Catalog  *catalog.Catalog
	Logger   *zap.Logger
	Now      func() time.Time
}

func (e Env) withDefaults() Env {
	if e.Logger == nil {
		e.Logger = zap.NewNop()
	}
	if e.Watcher == nil {
		e.Watcher = session.NewWatcher(nil, e.Logger)
	}
	if e.Local == nil {
		e.Local = localstore.NewMemory()
	}
	if e.Catalog == nil {
		e.Catalog = catalog.Empty()
	}
	if e.Now == nil {
		e.Now = time.Now
	}
	return e
}

// currentUser returns the signed-in user id or ErrSignInRequired.
func (e Env) currentUser() (string, error) {
	s := e.Watcher.Current()
	if !s.SignedIn() {
		return "", ErrSignInRequired
	}
	return s.UserID(), nil
}

// Progress is a done/total counter with a rounded percentage.
type Progress struct {
	Done    int
	Total   int
	Percent int
}

func newProgress(done, total int) Progress {
	p := Progress{Done: done, Total: total}
	if total > 0 {
		p.Percent = int(math.Round(float64(done) / float64(total) * 100))
	}
	return p
}
