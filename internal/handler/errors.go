package handler

import (
	"errors"
	"fmt"
	"net/http"

	"devtoolkit/internal/domain"
	"devtoolkit/internal/service"
	"devtoolkit/pkg/response"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

func authStatus(code string) int {
	switch code {
	case domain.CodeInvalidEmail, domain.CodeMissingFields, domain.CodeWeakPassword:
		return http.StatusBadRequest
	case domain.CodeEmailInUse:
		return http.StatusConflict
	case domain.CodeInvalidCredential, domain.CodeInvalidToken:
		return http.StatusUnauthorized
	case domain.CodeTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeAuthError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var ae *domain.AuthError
	if errors.As(err, &ae) {
		response.CodedError(w, authStatus(ae.Code), ae.Code, ae.Message)
		return
	}
	logger.Error("auth request failed", zap.Error(err))
	response.InternalError(w, "Internal server error")
}

// writeValidationError reports the first failing field. Auth requests get
// the matching auth/* code.
func writeValidationError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		response.BadRequest(w, err.Error())
		return
	}

	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		response.CodedError(w, http.StatusBadRequest, domain.CodeMissingFields, fmt.Sprintf("%s is required", fe.Field()))
	case "email":
		response.CodedError(w, http.StatusBadRequest, domain.CodeInvalidEmail, "the email address is badly formatted")
	default:
		response.BadRequest(w, fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag()))
	}
}

func writeDocumentError(w http.ResponseWriter, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrForbidden):
		response.Forbidden(w, "Missing or insufficient permissions")
	case errors.Is(err, service.ErrInvalidCollection), errors.Is(err, service.ErrInvalidDocument):
		response.BadRequest(w, err.Error())
	case errors.Is(err, service.ErrNotFound):
		response.NotFound(w, "Document not found")
	default:
		logger.Error("document request failed", zap.Error(err))
		response.InternalError(w, "Internal server error")
	}
}
