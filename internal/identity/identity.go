// Package identity is the HTTP client of the DevToolkit auth endpoints. It
// keeps the signed-in session in local storage and hands out access tokens
// to the document store.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"devtoolkit/internal/domain"
	"devtoolkit/internal/localstore"
	"devtoolkit/internal/session"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// StorageKey holds the persisted session.
const StorageKey = "dt.auth.session.v1"

// refreshSkew renews access tokens slightly before they expire.
const refreshSkew = 30 * time.Second

var ErrNotSignedIn = errors.New("not signed in")

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

type storedSession struct {
	User         session.User `json:"user"`
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	ExpiresAt    time.Time    `json:"expiresAt"`
}

type Client struct {
	baseURL *url.URL
	local   localstore.Storage
	http    *http.Client
	logger  *zap.Logger
	now     func() time.Time

	mu        sync.Mutex
	current   *storedSession
	listeners map[int]func(*session.User)
	order     []int
	nextID    int
	pending   []*session.User
	draining  bool

	refresh singleflight.Group
}

// New restores any persisted session from local.
func New(baseURL string, local localstore.Storage, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}

	c := &Client{
		baseURL:   u,
		local:     local,
		http:      &http.Client{Timeout: 15 * time.Second},
		logger:    zap.NewNop(),
		now:       time.Now,
		listeners: make(map[int]func(*session.User)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("identity")
	c.restore()
	return c, nil
}

func (c *Client) restore() {
	if c.local == nil {
		return
	}
	raw, ok := c.local.GetItem(StorageKey)
	if !ok {
		return
	}
	var s storedSession
	if err := json.Unmarshal([]byte(raw), &s); err != nil || s.User.ID == "" || s.RefreshToken == "" {
		c.logger.Warn("discarding unreadable stored session", zap.Error(err))
		_ = c.local.RemoveItem(StorageKey)
		return
	}
	c.current = &s
}

// persist must be called with mu held.
func (c *Client) persist(s *storedSession) {
	if c.local == nil {
		return
	}
	var err error
	if s == nil {
		err = c.local.RemoveItem(StorageKey)
	} else {
		var raw []byte
		raw, err = json.Marshal(s)
		if err == nil {
			err = c.local.SetItem(StorageKey, string(raw))
		}
	}
	if err != nil {
		c.logger.Warn("failed to persist session", zap.Error(err))
	}
}

func (c *Client) CurrentUser() *session.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	u := c.current.User
	return &u
}

// OnSessionChange calls fn with the current user right away and then on
// every sign-in, sign-out and profile change.
func (c *Client) OnSessionChange(fn func(*session.User)) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	c.order = append(c.order, id)
	c.mu.Unlock()

	fn(c.CurrentUser())

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.listeners, id)
			for i, x := range c.order {
				if x == id {
					c.order = append(c.order[:i], c.order[i+1:]...)
					break
				}
			}
		})
	}
}

// install swaps and persists the session, then queues a notification. A nil
// session signs out.
func (c *Client) install(s *storedSession) {
	c.mu.Lock()
	c.current = s
	c.persist(s)
	var u *session.User
	if s != nil {
		copied := s.User
		u = &copied
	}
	c.pending = append(c.pending, u)
	c.mu.Unlock()

	c.drain()
}

// drain delivers queued transitions in order. Only one goroutine drains at a
// time, so a listener that signs out from inside a notification queues its
// transition behind the current one instead of deadlocking.
func (c *Client) drain() {
	c.mu.Lock()
	if c.draining {
		c.mu.Unlock()
		return
	}
	c.draining = true
	for len(c.pending) > 0 {
		u := c.pending[0]
		c.pending = c.pending[1:]
		fns := make([]func(*session.User), 0, len(c.order))
		for _, id := range c.order {
			fns = append(fns, c.listeners[id])
		}
		c.mu.Unlock()

		for _, fn := range fns {
			fn(u)
		}

		c.mu.Lock()
	}
	c.draining = false
	c.mu.Unlock()
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*session.User, error) {
	var resp domain.LoginResponse
	if err := c.call(ctx, http.MethodPost, "/auth/login", "", domain.LoginRequest{Email: email, Password: password}, &resp); err != nil {
		return nil, err
	}
	return c.signedIn(&resp), nil
}

// SignUp creates the account and leaves the new user signed in.
func (c *Client) SignUp(ctx context.Context, displayName, email, password string) (*session.User, error) {
	req := domain.RegisterRequest{DisplayName: displayName, Email: email, Password: password}
	var resp domain.LoginResponse
	if err := c.call(ctx, http.MethodPost, "/auth/register", "", req, &resp); err != nil {
		return nil, err
	}
	return c.signedIn(&resp), nil
}

func (c *Client) signedIn(resp *domain.LoginResponse) *session.User {
	s := c.fromLogin(resp)
	c.install(s)
	u := s.User
	return &u
}

func (c *Client) fromLogin(resp *domain.LoginResponse) *storedSession {
	s := &storedSession{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    c.now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}
	if resp.User != nil {
		s.User = session.User{ID: resp.User.ID, Email: resp.User.Email, DisplayName: resp.User.DisplayName}
	}
	return s
}

// SignOut forgets the local session. The server keeps no session state.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	had := c.current != nil
	token := ""
	if had {
		token = c.current.AccessToken
	}
	c.mu.Unlock()

	if had {
		if err := c.call(ctx, http.MethodPost, "/auth/logout", token, nil, nil); err != nil {
			c.logger.Debug("logout call failed", zap.Error(err))
		}
	}
	c.install(nil)
	return nil
}

func (c *Client) SendPasswordReset(ctx context.Context, email string) error {
	return c.call(ctx, http.MethodPost, "/auth/password-reset", "", domain.PasswordResetRequest{Email: email}, nil)
}

func (c *Client) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	req := domain.PasswordResetConfirmRequest{Token: token, NewPassword: newPassword}
	return c.call(ctx, http.MethodPost, "/auth/password-reset/confirm", "", req, nil)
}

// UpdateDisplayName changes the profile name and republishes the session.
func (c *Client) UpdateDisplayName(ctx context.Context, displayName string) (*session.User, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}

	var updated domain.User
	if err := c.call(ctx, http.MethodPut, "/users/me", token, domain.UpdateProfileRequest{DisplayName: displayName}, &updated); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.current == nil || c.current.User.ID != updated.ID {
		c.mu.Unlock()
		return nil, ErrNotSignedIn
	}
	next := *c.current
	c.mu.Unlock()

	next.User.DisplayName = updated.DisplayName
	c.install(&next)
	u := next.User
	return &u, nil
}

// Token returns a usable access token, refreshing it once per expiry. A
// rejected refresh signs the user out.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()

	if s == nil {
		return "", ErrNotSignedIn
	}
	if c.now().Add(refreshSkew).Before(s.ExpiresAt) {
		return s.AccessToken, nil
	}

	v, err, _ := c.refresh.Do(s.RefreshToken, func() (interface{}, error) {
		return c.doRefresh(ctx, s)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) doRefresh(ctx context.Context, s *storedSession) (string, error) {
	if tok, ok := c.superseded(s); ok {
		return tok, nil
	}

	var resp domain.LoginResponse
	err := c.call(ctx, http.MethodPost, "/auth/refresh", "", domain.RefreshTokenRequest{RefreshToken: s.RefreshToken}, &resp)
	if err != nil {
		if domain.AuthCode(err) == domain.CodeInvalidToken {
			c.logger.Info("refresh rejected, signing out", zap.String("user_id", s.User.ID))
			if c.replaceIfCurrent(s, nil) {
				return "", fmt.Errorf("%w: session expired", ErrNotSignedIn)
			}
			return "", ErrNotSignedIn
		}
		return "", err
	}

	next := c.fromLogin(&resp)
	if !c.replaceIfCurrent(s, next) {
		if tok, ok := c.superseded(s); ok {
			return tok, nil
		}
		return "", ErrNotSignedIn
	}
	return next.AccessToken, nil
}

// superseded reports the token of a session that already replaced s for the
// same user, as happens when a concurrent refresh finished first.
func (c *Client) superseded(s *storedSession) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.current
	if cur == nil || cur == s || cur.User.ID != s.User.ID {
		return "", false
	}
	return cur.AccessToken, true
}

// replaceIfCurrent installs next only when prev is still the active
// session, so a sign-out during a refresh wins. Listeners hear about it only
// when the visible user changed.
func (c *Client) replaceIfCurrent(prev, next *storedSession) bool {
	c.mu.Lock()
	if c.current != prev {
		c.mu.Unlock()
		return false
	}
	c.current = next
	c.persist(next)
	if next != nil && next.User == prev.User {
		c.mu.Unlock()
		return true
	}
	var u *session.User
	if next != nil {
		copied := next.User
		u = &copied
	}
	c.pending = append(c.pending, u)
	c.mu.Unlock()

	c.drain()
	return true
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Code    string          `json:"code,omitempty"`
}

func (c *Client) call(ctx context.Context, method, path, token string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	u := *c.baseURL
	u.Path = c.baseURL.Path + "/api/v1" + path
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return domain.NewAuthError(domain.CodeNetworkRequestFailed, err.Error())
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err != nil && !errors.Is(err, io.EOF) {
		return domain.NewAuthError(domain.CodeNetworkRequestFailed, "unreadable response: "+err.Error())
	}

	if resp.StatusCode >= 400 {
		if env.Code != "" {
			return domain.NewAuthError(env.Code, env.Error)
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return domain.NewAuthError(domain.CodeInvalidToken, env.Error)
		}
		return domain.NewAuthError(domain.CodeNetworkRequestFailed, fmt.Sprintf("status %d: %s", resp.StatusCode, env.Error))
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
