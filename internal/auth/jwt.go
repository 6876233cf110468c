package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenClaims is the claim set embedded in every issued token.
type TokenClaims struct {
	UserID uuid.UUID `json:"sub"`
	jwt.RegisteredClaims
}

// TokenService issues and decodes signed bearer tokens. Operations are pure
// functions of input, signing key and wall-clock time; safe for concurrent use.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a token service with the given signing secret and
// validity window.
func NewTokenService(secret string, ttl time.Duration) *TokenService {
	return &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
	}
}

// Issue creates a signed HS256 token whose subject is userID, expiring after
// the configured validity window.
func (s *TokenService) Issue(userID uuid.UUID) (string, error) {
	now := time.Now()
	claims := &TokenClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// Decode verifies the signature and expiry of a token string and returns its
// claims. Rejections are reported as *InvalidTokenError with the reason
// (malformed, bad signature, or expired) preserved for logging.
func (s *TokenService) Decode(tokenString string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, &InvalidTokenError{Reason: TokenExpired}
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, &InvalidTokenError{Reason: TokenBadSignature}
		default:
			return nil, &InvalidTokenError{Reason: TokenMalformed}
		}
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, &InvalidTokenError{Reason: TokenMalformed}
	}

	return claims, nil
}
