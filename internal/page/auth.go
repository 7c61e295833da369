package page

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"devtoolkit/internal/domain"
	"devtoolkit/internal/session"
)

const minPasswordLength = 6

// ResetSentMessage is shown after every reset request, whatever happened,
// so the page never reveals whether an account exists.
const ResetSentMessage = "If an account exists, a reset link was sent. Check your inbox."

var authMessages = map[string]string{
	domain.CodeInvalidEmail:         "That email looks invalid.",
	domain.CodeInvalidCredential:    "Incorrect email or password.",
	domain.CodeTooManyRequests:      "Too many attempts. Try again later.",
	domain.CodeWeakPassword:         "Password is too weak. Use at least 6 characters.",
	domain.CodeEmailInUse:           "That email is already in use. Try signing in instead.",
	domain.CodeMissingFields:        "Please fill in all required fields.",
	domain.CodeNetworkRequestFailed: "Could not reach the server. Check your connection and try again.",
}

// userAuthError maps a provider failure to the message for its code, or to
// fallback when the code is unknown.
func userAuthError(err error, fallback string) *UserError {
	code := domain.AuthCode(err)
	if msg, ok := authMessages[code]; ok {
		return &UserError{Code: code, Message: msg}
	}
	return &UserError{Code: code, Message: fallback}
}

var errAuthUnavailable = &UserError{Code: "unavailable", Message: "Sign-in is not available right now. Please try again later."}

// Auth drives the sign-in, sign-up, password reset and sign-out flows.
type Auth struct {
	env Env
}

func NewAuth(env Env) *Auth {
	return &Auth{env: env.withDefaults()}
}

func (a *Auth) Session() session.Session {
	return a.env.Watcher.Current()
}

func (a *Auth) SignIn(ctx context.Context, email, password string) (*session.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, &UserError{Code: domain.CodeMissingFields, Message: "Please enter your email and password."}
	}
	if a.env.Identity == nil {
		return nil, errAuthUnavailable
	}

	u, err := a.env.Identity.SignIn(ctx, email, password)
	if err != nil {
		a.env.Logger.Info("sign in failed", zap.String("code", domain.AuthCode(err)), zap.Error(err))
		return nil, userAuthError(err, "Sign in failed. Please try again.")
	}
	return u, nil
}

// SignUp creates an account; the new user stays signed in.
func (a *Auth) SignUp(ctx context.Context, name, email, password string) (*session.User, error) {
	name, email = strings.TrimSpace(name), strings.TrimSpace(email)
	switch {
	case name == "":
		return nil, &UserError{Code: domain.CodeMissingFields, Message: "Please enter your name."}
	case email == "":
		return nil, &UserError{Code: domain.CodeMissingFields, Message: "Please enter your email."}
	case len(password) < minPasswordLength:
		return nil, &UserError{Code: domain.CodeWeakPassword, Message: "Password must be at least 6 characters."}
	}
	if a.env.Identity == nil {
		return nil, errAuthUnavailable
	}

	u, err := a.env.Identity.SignUp(ctx, name, email, password)
	if err != nil {
		a.env.Logger.Info("sign up failed", zap.String("code", domain.AuthCode(err)), zap.Error(err))
		return nil, userAuthError(err, "Failed to create account. Please try again.")
	}
	return u, nil
}

// ResetPassword asks for a reset link. Only a malformed email is reported;
// every other outcome returns ResetSentMessage.
func (a *Auth) ResetPassword(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(email)
	if err := validate.Var(email, "required,email"); err != nil {
		return "", &UserError{Code: domain.CodeInvalidEmail, Message: "Please enter a valid email address."}
	}

	if a.env.Identity == nil {
		a.env.Logger.Warn("password reset requested without an identity provider")
		return ResetSentMessage, nil
	}
	if err := a.env.Identity.SendPasswordReset(ctx, email); err != nil {
		a.env.Logger.Warn("password reset request failed", zap.Error(err))
	}
	return ResetSentMessage, nil
}

func (a *Auth) SignOut(ctx context.Context) error {
	if a.env.Identity == nil {
		return nil
	}
	if err := a.env.Identity.SignOut(ctx); err != nil {
		a.env.Logger.Warn("sign out failed", zap.Error(err))
		return err
	}
	return nil
}
