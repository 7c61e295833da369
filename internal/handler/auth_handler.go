package handler

import (
	"encoding/json"
	"net/http"

	"devtoolkit/internal/domain"
	"devtoolkit/internal/service"
	"devtoolkit/pkg/response"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

type AuthHandler struct {
	authService *service.AuthService
	validator   *validator.Validate
	logger      *zap.Logger
}

func NewAuthHandler(authService *service.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		validator:   validator.New(),
		logger:      logger,
	}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		writeValidationError(w, err)
		return
	}

	loginResp, err := h.authService.Register(r.Context(), &req)
	if err != nil {
		writeAuthError(w, h.logger, err)
		return
	}

	response.Created(w, loginResp)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		writeValidationError(w, err)
		return
	}

	loginResp, err := h.authService.Login(r.Context(), &req)
	if err != nil {
		writeAuthError(w, h.logger, err)
		return
	}

	response.Success(w, loginResp)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req domain.RefreshTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		writeValidationError(w, err)
		return
	}

	tokenResp, err := h.authService.RefreshToken(r.Context(), &req)
	if err != nil {
		writeAuthError(w, h.logger, err)
		return
	}

	response.Success(w, tokenResp)
}

// RequestPasswordReset answers the same way whether or not the account
// exists.
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req domain.PasswordResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		writeValidationError(w, err)
		return
	}

	if err := h.authService.RequestPasswordReset(r.Context(), &req); err != nil {
		writeAuthError(w, h.logger, err)
		return
	}

	response.Message(w, "If an account exists for that email, a reset link has been sent")
}

func (h *AuthHandler) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req domain.PasswordResetConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		writeValidationError(w, err)
		return
	}

	if err := h.authService.ConfirmPasswordReset(r.Context(), &req); err != nil {
		writeAuthError(w, h.logger, err)
		return
	}

	response.Message(w, "Password updated")
}

// Logout is stateless; clients drop their tokens.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	response.Message(w, "Logged out successfully")
}
