package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"devtoolkit/internal/domain"
	"devtoolkit/internal/middleware"
	"devtoolkit/internal/service"
	"devtoolkit/pkg/response"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

type UserHandler struct {
	userService *service.UserService
	validator   *validator.Validate
	logger      *zap.Logger
}

func NewUserHandler(userService *service.UserService, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		userService: userService,
		validator:   validator.New(),
		logger:      logger,
	}
}

func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		response.Unauthorized(w, "Unauthorized")
		return
	}

	user, err := h.userService.GetByID(r.Context(), userID)
	if err != nil {
		h.writeUserError(w, err)
		return
	}

	response.Success(w, user)
}

func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		response.Unauthorized(w, "Unauthorized")
		return
	}

	var req domain.UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		writeValidationError(w, err)
		return
	}

	user, err := h.userService.UpdateDisplayName(r.Context(), userID, req.DisplayName)
	if err != nil {
		h.writeUserError(w, err)
		return
	}

	response.Success(w, user)
}

func (h *UserHandler) writeUserError(w http.ResponseWriter, err error) {
	if errors.Is(err, service.ErrNotFound) {
		response.NotFound(w, "User not found")
		return
	}
	h.logger.Error("user request failed", zap.Error(err))
	response.InternalError(w, "Internal server error")
}
