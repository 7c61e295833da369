// Package session turns identity provider callbacks into a single stream of
// session transitions that the rest of the client subscribes to.
package session

type State int

const (
	Unknown State = iota
	SignedOut
	SignedIn
)

func (s State) String() string {
	switch s {
	case SignedOut:
		return "signed-out"
	case SignedIn:
		return "signed-in"
	default:
		return "unknown"
	}
}

type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
}

// Session is replaced wholesale on every transition.
type Session struct {
	State State
	User  *User
}

func SignedInAs(u User) Session {
	return Session{State: SignedIn, User: &u}
}

func Anonymous() Session {
	return Session{State: SignedOut}
}

func (s Session) SignedIn() bool {
	return s.State == SignedIn && s.User != nil && s.User.ID != ""
}

// UserID returns the signed-in user's id, or "" for any other state.
func (s Session) UserID() string {
	if !s.SignedIn() {
		return ""
	}
	return s.User.ID
}

func (s Session) Equal(o Session) bool {
	if s.State != o.State {
		return false
	}
	if s.User == nil || o.User == nil {
		return s.User == o.User
	}
	return *s.User == *o.User
}

// Provider is the identity provider surface the watcher depends on.
// OnSessionChange must call fn with nil when the user signs out.
type Provider interface {
	CurrentUser() *User
	OnSessionChange(fn func(*User)) (cancel func())
}
