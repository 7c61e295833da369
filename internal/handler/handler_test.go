package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"devtoolkit/internal/catalog"
	"devtoolkit/internal/docstore"
	"devtoolkit/internal/domain"
	"devtoolkit/internal/middleware"
	"devtoolkit/internal/repository"
	"devtoolkit/internal/service"
	"devtoolkit/internal/websocket"
	"devtoolkit/pkg/response"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type captureMailer struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (m *captureMailer) SendPasswordReset(_ context.Context, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tokens == nil {
		m.tokens = map[string]string{}
	}
	m.tokens[email] = token
	return nil
}

func (m *captureMailer) token(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[email]
}

type testServer struct {
	*httptest.Server
	mailer  *captureMailer
	manager *websocket.Manager
}

func newTestServer(t *testing.T, limiter *middleware.RateLimiter) *testServer {
	t.Helper()
	logger := zap.NewNop()

	users := repository.NewMemoryUserRepository()
	docs := repository.NewMemoryDocumentRepository()
	mailer := &captureMailer{}

	authService := service.NewAuthService(users, mailer, nil, logger, service.AuthConfig{
		JWTSecret:         "test-secret",
		JWTExpiration:     15 * time.Minute,
		RefreshExpiration: time.Hour,
	})
	userService := service.NewUserService(users)
	docService := service.NewDocumentService(docs, nil, logger)

	manager := websocket.NewManager(websocket.Config{}, nil, logger)
	ctx, cancel := context.WithCancel(context.Background())
	go manager.Run(ctx)

	wsMessages := NewWebSocketMessageHandler(manager, docService, logger)
	manager.SetMessageHandler(wsMessages)
	docService.SetNotifier(wsMessages)

	cat, err := catalog.Parse([]byte(`[{"id":"tool_git","title":"Git"},{"id":"tool_vite","title":"Vite"}]`))
	require.NoError(t, err)

	router := NewRouter(RouterDeps{
		Auth:        NewAuthHandler(authService, logger),
		User:        NewUserHandler(userService, logger),
		Documents:   NewDocumentHandler(docService, logger),
		WebSocket:   NewWebSocketHandler(manager, authService, 1024, 1024, logger),
		Catalog:     NewCatalogHandler(cat),
		Tokens:      authService,
		AuthLimiter: limiter,
		Metrics:     http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("# metrics\n")) }),
		Logger:      logger,
		CORS:        CORSOptions{AllowedOrigins: "*", AllowedMethods: "GET,PUT,POST,DELETE", AllowedHeaders: "Authorization,Content-Type"},
	})

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-manager.Done()
	})
	return &testServer{Server: srv, mailer: mailer, manager: manager}
}

func (s *testServer) post(t *testing.T, path string, body interface{}) (*http.Response, response.Response) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := s.Client().Post(s.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()

	var env response.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp, env
}

func (s *testServer) register(t *testing.T, name, email, password string) domain.LoginResponse {
	t.Helper()
	resp, env := s.post(t, "/api/v1/auth/register", domain.RegisterRequest{DisplayName: name, Email: email, Password: password})
	require.Equal(t, http.StatusCreated, resp.StatusCode, env.Error)

	var out domain.LoginResponse
	raw, _ := json.Marshal(env.Data)
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

type staticToken string

func (s staticToken) Token(context.Context) (string, error) { return string(s), nil }

func (s *testServer) remote(t *testing.T, token string) *docstore.Remote {
	t.Helper()
	r, err := docstore.NewRemote(s.URL, staticToken(token), docstore.WithHTTPClient(s.Client()))
	require.NoError(t, err)
	return r
}

func TestAuthFlow(t *testing.T) {
	srv := newTestServer(t, nil)

	login := srv.register(t, "Ada", "ada@example.com", "secret1")
	assert.NotEmpty(t, login.AccessToken)
	assert.Equal(t, "Ada", login.User.DisplayName)
	assert.Empty(t, login.User.Password)

	tests := []struct {
		name   string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{"duplicate email", "/api/v1/auth/register", domain.RegisterRequest{DisplayName: "A", Email: "ADA@example.com", Password: "secret1"}, http.StatusConflict, domain.CodeEmailInUse},
		{"weak password", "/api/v1/auth/register", domain.RegisterRequest{DisplayName: "B", Email: "b@example.com", Password: "123"}, http.StatusBadRequest, domain.CodeWeakPassword},
		{"bad email", "/api/v1/auth/register", domain.RegisterRequest{DisplayName: "B", Email: "nope", Password: "secret1"}, http.StatusBadRequest, domain.CodeInvalidEmail},
		{"missing fields", "/api/v1/auth/login", domain.LoginRequest{Email: "ada@example.com"}, http.StatusBadRequest, domain.CodeMissingFields},
		{"wrong password", "/api/v1/auth/login", domain.LoginRequest{Email: "ada@example.com", Password: "wrong!"}, http.StatusUnauthorized, domain.CodeInvalidCredential},
		{"unknown user", "/api/v1/auth/login", domain.LoginRequest{Email: "who@example.com", Password: "secret1"}, http.StatusUnauthorized, domain.CodeInvalidCredential},
		{"bad refresh", "/api/v1/auth/refresh", domain.RefreshTokenRequest{RefreshToken: login.AccessToken}, http.StatusUnauthorized, domain.CodeInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, env := srv.post(t, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, env.Code)
			assert.False(t, env.Success)
		})
	}

	resp, env := srv.post(t, "/api/v1/auth/login", domain.LoginRequest{Email: "ada@example.com", Password: "secret1"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, env.Success)

	resp, _ = srv.post(t, "/api/v1/auth/refresh", domain.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPasswordResetFlow(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.register(t, "Ada", "ada@example.com", "secret1")

	_, known := srv.post(t, "/api/v1/auth/password-reset", domain.PasswordResetRequest{Email: "ada@example.com"})
	_, unknown := srv.post(t, "/api/v1/auth/password-reset", domain.PasswordResetRequest{Email: "ghost@example.com"})
	assert.Equal(t, known, unknown, "outcome must not reveal whether the account exists")

	token := srv.mailer.token("ada@example.com")
	require.NotEmpty(t, token)

	resp, env := srv.post(t, "/api/v1/auth/password-reset/confirm", domain.PasswordResetConfirmRequest{Token: token, NewPassword: "newsecret"})
	require.Equal(t, http.StatusOK, resp.StatusCode, env.Error)

	resp, _ = srv.post(t, "/api/v1/auth/login", domain.LoginRequest{Email: "ada@example.com", Password: "newsecret"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProfileEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)
	login := srv.register(t, "Ada", "ada@example.com", "secret1")

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/v1/users/me", bytes.NewBufferString(`{"display_name":"Countess"}`))
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/api/v1/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	resp, err = srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env struct {
		Data domain.User `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.Equal(t, "Countess", env.Data.DisplayName)

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/api/v1/users/me", nil)
	resp, err = srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestDocumentsOverRemote(t *testing.T) {
	srv := newTestServer(t, nil)
	ada := srv.register(t, "Ada", "ada@example.com", "secret1")
	bob := srv.register(t, "Bob", "bob@example.com", "secret1")

	ctx := context.Background()
	remote := srv.remote(t, ada.AccessToken)
	favs := docstore.CollectionPath{UserID: ada.User.ID, Collection: "favorites"}

	require.NoError(t, remote.Set(ctx, favs.Doc("tool_git"), docstore.Fields{"toolId": "tool_git", "title": "Git <3 & co"}, docstore.SetOptions{Merge: true, StampCreated: true}))
	require.NoError(t, remote.Set(ctx, favs.Doc("tool_git"), docstore.Fields{"url": "https://git-scm.com"}, docstore.SetOptions{Merge: true, StampCreated: true}))

	doc, err := remote.Get(ctx, favs.Doc("tool_git"))
	require.NoError(t, err)
	assert.Equal(t, "Git <3 & co", doc.Fields.String("title"), "text is stored as sent")
	assert.Equal(t, "https://git-scm.com", doc.Fields.String("url"), "merge keeps both writes")
	assert.False(t, doc.CreatedAt.IsZero())

	err = remote.Set(ctx, favs.Doc("tool_bad"), docstore.Fields{"url": "javascript:alert(1)"}, docstore.SetOptions{})
	assert.ErrorIs(t, err, docstore.ErrInvalidPath)

	listed, err := remote.List(ctx, favs)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	require.NoError(t, remote.Delete(ctx, favs.Doc("tool_git")))
	assert.ErrorIs(t, remote.Delete(ctx, favs.Doc("tool_git")), docstore.ErrNotFound)
	_, err = remote.Get(ctx, favs.Doc("tool_git"))
	assert.ErrorIs(t, err, docstore.ErrNotFound)

	other := srv.remote(t, bob.AccessToken)
	_, err = other.Get(ctx, favs.Doc("tool_git"))
	assert.ErrorIs(t, err, docstore.ErrPermission)

	err = remote.Set(ctx, docstore.Path{UserID: ada.User.ID, Collection: "secrets", DocID: "x"}, docstore.Fields{}, docstore.SetOptions{})
	assert.ErrorIs(t, err, docstore.ErrInvalidPath)

	_, err = srv.remote(t, "garbage").Get(ctx, favs.Doc("tool_git"))
	assert.ErrorIs(t, err, docstore.ErrUnauthenticated)
}

func TestLiveSnapshots(t *testing.T) {
	srv := newTestServer(t, nil)
	ada := srv.register(t, "Ada", "ada@example.com", "secret1")
	bob := srv.register(t, "Bob", "bob@example.com", "secret1")

	ctx := context.Background()
	remote := srv.remote(t, ada.AccessToken)
	favs := docstore.CollectionPath{UserID: ada.User.ID, Collection: "favorites"}

	snaps := make(chan docstore.Snapshot, 8)
	sub, err := remote.Watch(ctx, favs, func(s docstore.Snapshot) { snaps <- s }, func(err error) { t.Errorf("unexpected watch error: %v", err) })
	require.NoError(t, err)
	defer sub.Cancel()

	next := func() docstore.Snapshot {
		select {
		case s := <-snaps:
			return s
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for snapshot")
			return docstore.Snapshot{}
		}
	}

	initial := next()
	assert.Empty(t, initial.Docs)

	require.NoError(t, remote.Set(ctx, favs.Doc("tool_vite"), docstore.Fields{"toolId": "tool_vite"}, docstore.SetOptions{Merge: true, StampCreated: true}))
	updated := next()
	require.Len(t, updated.Docs, 1)
	assert.Equal(t, "tool_vite", updated.Docs[0].ID)
	assert.Greater(t, updated.Seq, initial.Seq)

	denied := make(chan error, 1)
	intruder := srv.remote(t, bob.AccessToken)
	bobSub, err := intruder.Watch(ctx, favs, func(docstore.Snapshot) { t.Error("snapshot leaked to another user") }, func(err error) { denied <- err })
	require.NoError(t, err)
	defer bobSub.Cancel()

	select {
	case err := <-denied:
		assert.ErrorIs(t, err, docstore.ErrPermission)
	case <-time.After(2 * time.Second):
		t.Fatal("expected permission error")
	}
}

func TestAuthRoutesAreRateLimited(t *testing.T) {
	limiter := middleware.NewRateLimiter("auth", middleware.RateLimiterConfig{RequestsPerMinute: 1, Burst: 1}, nil, nil)
	defer limiter.Stop()
	srv := newTestServer(t, limiter)

	resp, _ := srv.post(t, "/api/v1/auth/login", domain.LoginRequest{Email: "a@example.com", Password: "secret1"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, env := srv.post(t, "/api/v1/auth/login", domain.LoginRequest{Email: "a@example.com", Password: "secret1"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, domain.CodeTooManyRequests, env.Code)
}

func TestStaticEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)

	cat, err := catalog.Fetch(context.Background(), srv.Client(), srv.URL+"/data/tools.json")
	require.NoError(t, err)
	assert.Equal(t, 2, cat.Len())

	for _, path := range []string{"/health", "/metrics", "/"} {
		resp, err := srv.Client().Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}
