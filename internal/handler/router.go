package handler

import (
	"net/http"

	"devtoolkit/internal/metrics"
	"devtoolkit/internal/middleware"
	"devtoolkit/pkg/response"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type CORSOptions struct {
	AllowedOrigins string
	AllowedMethods string
	AllowedHeaders string
}

type RouterDeps struct {
	Auth      *AuthHandler
	User      *UserHandler
	Documents *DocumentHandler
	WebSocket *WebSocketHandler
	Catalog   *CatalogHandler

	Tokens middleware.TokenValidator
	// AuthLimiter throttles the credential routes when set.
	AuthLimiter *middleware.RateLimiter
	// Metrics serves /metrics when set.
	Metrics  http.Handler
	Recorder metrics.Recorder
	Logger   *zap.Logger
	CORS     CORSOptions
}

func NewRouter(d RouterDeps) *mux.Router {
	if d.Recorder == nil {
		d.Recorder = metrics.Nop{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}

	r := mux.NewRouter()

	r.Use(middleware.LoggerMiddleware(d.Logger.Named("http"), d.Recorder))
	r.Use(middleware.CORSMiddleware(
		d.CORS.AllowedOrigins,
		d.CORS.AllowedMethods,
		d.CORS.AllowedHeaders,
	))

	api := r.PathPrefix("/api/v1").Subrouter()

	credentials := api.PathPrefix("/auth").Subrouter()
	if d.AuthLimiter != nil {
		credentials.Use(d.AuthLimiter.Middleware)
	}
	credentials.HandleFunc("/register", d.Auth.Register).Methods("POST", "OPTIONS")
	credentials.HandleFunc("/login", d.Auth.Login).Methods("POST", "OPTIONS")
	credentials.HandleFunc("/password-reset", d.Auth.RequestPasswordReset).Methods("POST", "OPTIONS")
	credentials.HandleFunc("/password-reset/confirm", d.Auth.ConfirmPasswordReset).Methods("POST", "OPTIONS")
	api.HandleFunc("/auth/refresh", d.Auth.Refresh).Methods("POST", "OPTIONS")
	api.HandleFunc("/auth/logout", d.Auth.Logout).Methods("POST", "OPTIONS")

	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.AuthMiddleware(d.Tokens))

	protected.HandleFunc("/users/me", d.User.GetMe).Methods("GET", "OPTIONS")
	protected.HandleFunc("/users/me", d.User.UpdateMe).Methods("PUT", "OPTIONS")

	protected.HandleFunc("/users/{userId}/{collection}", d.Documents.List).Methods("GET", "OPTIONS")
	protected.HandleFunc("/users/{userId}/{collection}/{docId}", d.Documents.Get).Methods("GET", "OPTIONS")
	protected.HandleFunc("/users/{userId}/{collection}/{docId}", d.Documents.Set).Methods("PUT", "OPTIONS")
	protected.HandleFunc("/users/{userId}/{collection}/{docId}", d.Documents.Delete).Methods("DELETE", "OPTIONS")

	r.HandleFunc("/ws", d.WebSocket.HandleConnection)
	r.HandleFunc("/data/tools.json", d.Catalog.Tools).Methods("GET")

	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics).Methods("GET")
	}
	r.HandleFunc("/health", healthHandler).Methods("GET")
	r.HandleFunc("/", rootHandler).Methods("GET")

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	response.Raw(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "devtoolkit-server",
	})
}

func rootHandler(w http.ResponseWriter, r *http.Request) {
	response.Raw(w, http.StatusOK, map[string]interface{}{
		"message": "DevToolkit API",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"/api/v1/auth/register":                    "POST",
			"/api/v1/auth/login":                       "POST",
			"/api/v1/auth/refresh":                     "POST",
			"/api/v1/auth/password-reset":              "POST",
			"/api/v1/users/me":                         "GET, PUT (protected)",
			"/api/v1/users/{userId}/{collection}/{id}": "GET, PUT, DELETE (protected)",
			"/ws":              "WebSocket (token)",
			"/data/tools.json": "GET",
		},
	})
}
