package domain

import "errors"

// Identity error codes returned to clients in the response envelope.
const (
	CodeInvalidEmail         = "auth/invalid-email"
	CodeEmailInUse           = "auth/email-already-in-use"
	CodeWeakPassword         = "auth/weak-password"
	CodeInvalidCredential    = "auth/invalid-credential"
	CodeTooManyRequests      = "auth/too-many-requests"
	CodeInvalidToken         = "auth/invalid-token"
	CodeMissingFields        = "auth/missing-fields"
	CodeNetworkRequestFailed = "auth/network-request-failed"
)

type AuthError struct {
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	return e.Code + ": " + e.Message
}

func NewAuthError(code, message string) *AuthError {
	return &AuthError{Code: code, Message: message}
}

// AuthCode extracts the code from an *AuthError anywhere in err's chain.
func AuthCode(err error) string {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}
