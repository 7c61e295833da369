package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type TokenType string

const (
	TypeAccess  TokenType = "access"
	TypeRefresh TokenType = "refresh"
	TypeReset   TokenType = "reset"
)

var ErrWrongTokenType = errors.New("token has the wrong type")

type Claims struct {
	UserID string    `json:"user_id"`
	Type   TokenType `json:"typ"`
	jwt.RegisteredClaims
}

func GenerateToken(userID string, expiration time.Duration, secret string) (string, error) {
	return generate(userID, TypeAccess, expiration, secret)
}

func GenerateRefreshToken(userID string, expiration time.Duration, secret string) (string, error) {
	return generate(userID, TypeRefresh, expiration, secret)
}

// GenerateResetToken issues a single-purpose token for the password reset flow.
func GenerateResetToken(userID string, expiration time.Duration, secret string) (string, error) {
	return generate(userID, TypeReset, expiration, secret)
}

func generate(userID string, typ TokenType, expiration time.Duration, secret string) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Type:   typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiration)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, nil
}

func ValidateToken(tokenString, secret string) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New("empty token")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	return claims, nil
}

// ValidateTokenOfType validates the token and rejects it unless it was issued for typ.
func ValidateTokenOfType(tokenString, secret string, typ TokenType) (*Claims, error) {
	claims, err := ValidateToken(tokenString, secret)
	if err != nil {
		return nil, err
	}
	if claims.Type != typ {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}
