package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"devtoolkit/internal/domain"
	"devtoolkit/internal/metrics"
	"devtoolkit/internal/repository"
	"devtoolkit/pkg/hash"
	"devtoolkit/pkg/jwt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type AuthService struct {
	userRepo          repository.UserRepository
	mailer            Mailer
	metrics           metrics.Recorder
	logger            *zap.Logger
	validate          *validator.Validate
	jwtSecret         string
	jwtExpiration     time.Duration
	refreshExpiration time.Duration
	resetExpiration   time.Duration
}

type AuthConfig struct {
	JWTSecret         string
	JWTExpiration     time.Duration
	RefreshExpiration time.Duration
	ResetExpiration   time.Duration
}

func NewAuthService(userRepo repository.UserRepository, mailer Mailer, rec metrics.Recorder, logger *zap.Logger, cfg AuthConfig) *AuthService {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResetExpiration == 0 {
		cfg.ResetExpiration = 30 * time.Minute
	}
	return &AuthService{
		userRepo:          userRepo,
		mailer:            mailer,
		metrics:           rec,
		logger:            logger.Named("auth"),
		validate:          validator.New(),
		jwtSecret:         cfg.JWTSecret,
		jwtExpiration:     cfg.JWTExpiration,
		refreshExpiration: cfg.RefreshExpiration,
		resetExpiration:   cfg.ResetExpiration,
	}
}

func (s *AuthService) checkEmail(email string) error {
	if s.validate.Var(email, "required,email") != nil {
		return domain.NewAuthError(domain.CodeInvalidEmail, "the email address is badly formatted")
	}
	return nil
}

func (s *AuthService) record(op string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
		if code := domain.AuthCode(err); code != "" {
			result = strings.TrimPrefix(code, "auth/")
		}
	}
	s.metrics.RecordAuth(op, result)
}

// Register creates the account and signs the new user in.
func (s *AuthService) Register(ctx context.Context, req *domain.RegisterRequest) (resp *domain.LoginResponse, err error) {
	defer func() { s.record("register", err) }()

	email := strings.TrimSpace(req.Email)
	if err := s.checkEmail(email); err != nil {
		return nil, err
	}

	hashedPassword, err := hash.Hash(req.Password)
	if err != nil {
		if errors.Is(err, hash.ErrPasswordTooShort) {
			return nil, domain.NewAuthError(domain.CodeWeakPassword, err.Error())
		}
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	emailExists, err := s.userRepo.EmailExists(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check email existence: %w", err)
	}
	if emailExists {
		return nil, domain.NewAuthError(domain.CodeEmailInUse, "the email address is already in use")
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:          uuid.New().String(),
		DisplayName: strings.TrimSpace(req.DisplayName),
		Email:       email,
		Password:    hashedPassword,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return nil, domain.NewAuthError(domain.CodeEmailInUse, "the email address is already in use")
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info("user registered", zap.String("user_id", user.ID))
	return s.issueTokens(user)
}

// Login never reveals whether the email or the password was wrong.
func (s *AuthService) Login(ctx context.Context, req *domain.LoginRequest) (resp *domain.LoginResponse, err error) {
	defer func() { s.record("login", err) }()

	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return nil, domain.NewAuthError(domain.CodeMissingFields, "email and password are required")
	}
	if err := s.checkEmail(strings.TrimSpace(req.Email)); err != nil {
		return nil, err
	}

	invalid := domain.NewAuthError(domain.CodeInvalidCredential, "invalid email or password")

	user, err := s.userRepo.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, invalid
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if err := hash.Compare(user.Password, req.Password); err != nil {
		return nil, invalid
	}

	return s.issueTokens(user)
}

func (s *AuthService) issueTokens(user *domain.User) (*domain.LoginResponse, error) {
	accessToken, err := jwt.GenerateToken(user.ID, s.jwtExpiration, s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshToken, err := jwt.GenerateRefreshToken(user.ID, s.refreshExpiration, s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	out := *user
	out.Password = ""

	return &domain.LoginResponse{
		User:         &out,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.jwtExpiration.Seconds()),
	}, nil
}

// RefreshToken rotates both tokens for a still-existing user.
func (s *AuthService) RefreshToken(ctx context.Context, req *domain.RefreshTokenRequest) (resp *domain.LoginResponse, err error) {
	defer func() { s.record("refresh", err) }()

	claims, err := jwt.ValidateTokenOfType(req.RefreshToken, s.jwtSecret, jwt.TypeRefresh)
	if err != nil {
		return nil, domain.NewAuthError(domain.CodeInvalidToken, "invalid refresh token")
	}

	user, err := s.userRepo.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NewAuthError(domain.CodeInvalidToken, "invalid refresh token")
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	return s.issueTokens(user)
}

func (s *AuthService) ValidateToken(token string) (*jwt.Claims, error) {
	claims, err := jwt.ValidateTokenOfType(token, s.jwtSecret, jwt.TypeAccess)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return claims, nil
}

// RequestPasswordReset only fails on a malformed email. Unknown accounts and
// delivery failures look like success to the caller.
func (s *AuthService) RequestPasswordReset(ctx context.Context, req *domain.PasswordResetRequest) error {
	email := strings.TrimSpace(req.Email)
	if err := s.checkEmail(email); err != nil {
		s.record("reset_request", err)
		return err
	}
	s.record("reset_request", nil)

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("password reset lookup failed", zap.Error(err))
		}
		return nil
	}

	token, err := jwt.GenerateResetToken(user.ID, s.resetExpiration, s.jwtSecret)
	if err != nil {
		s.logger.Error("failed to generate reset token", zap.Error(err))
		return nil
	}

	if err := s.mailer.SendPasswordReset(ctx, user.Email, token); err != nil {
		s.logger.Warn("password reset delivery failed", zap.String("user_id", user.ID), zap.Error(err))
	}
	return nil
}

func (s *AuthService) ConfirmPasswordReset(ctx context.Context, req *domain.PasswordResetConfirmRequest) (err error) {
	defer func() { s.record("reset_confirm", err) }()

	claims, err := jwt.ValidateTokenOfType(req.Token, s.jwtSecret, jwt.TypeReset)
	if err != nil {
		return domain.NewAuthError(domain.CodeInvalidToken, "the reset link is invalid or has expired")
	}

	hashedPassword, err := hash.Hash(req.NewPassword)
	if err != nil {
		if errors.Is(err, hash.ErrPasswordTooShort) {
			return domain.NewAuthError(domain.CodeWeakPassword, err.Error())
		}
		return fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.userRepo.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.NewAuthError(domain.CodeInvalidToken, "the reset link is invalid or has expired")
		}
		return fmt.Errorf("failed to find user: %w", err)
	}

	user.Password = hashedPassword
	user.UpdatedAt = time.Now().UTC()
	if err := s.userRepo.Update(ctx, user); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	s.logger.Info("password reset", zap.String("user_id", user.ID))
	return nil
}
