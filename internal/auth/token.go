// ABOUTME: JWT session issuing and verification for authenticated users
// ABOUTME: HS256 with a configurable secret; also mints short-lived recovery tokens

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/2389/fold-auth/internal/recovery"
	"github.com/2389/fold-auth/internal/webauthn"
)

// Token errors
var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrExpiredToken   = errors.New("token expired")
	ErrMissingClaim   = errors.New("missing required claim")
	ErrSecretTooShort = errors.New("jwt secret too short")
)

// MinSecretLength is the minimum JWT secret size in bytes.
const MinSecretLength = 32

// DefaultSessionTTL applies when no session TTL is configured.
const DefaultSessionTTL = 12 * time.Hour

const recoveryPurpose = "recovery"

// TokenService issues and verifies HS256 JWTs. It serves as the Session
// Issuer for verified assertions and mints the recovery-authentication
// tokens a consumed recovery code yields.
type TokenService struct {
	secret     []byte
	sessionTTL time.Duration
	role       string
}

// NewTokenService creates a token service. role is the role claim stamped
// into sessions; role management itself lives outside this service.
func NewTokenService(secret []byte, sessionTTL time.Duration, role string) (*TokenService, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: %d bytes, need %d", ErrSecretTooShort, len(secret), MinSecretLength)
	}
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	if role == "" {
		role = "user"
	}
	return &TokenService{secret: secret, sessionTTL: sessionTTL, role: role}, nil
}

// Issue creates a session for a verified identity.
func (s *TokenService) Issue(_ context.Context, username, method string) (*webauthn.Session, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":    username,
		"method": method,
		"role":   s.role,
		"iat":    now.Unix(),
		"exp":    now.Add(s.sessionTTL).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("signing session token: %w", err)
	}

	return &webauthn.Session{
		Token:     signed,
		Role:      s.role,
		ExpiresIn: s.sessionTTL,
	}, nil
}

// Verify validates a session token and returns the username from the "sub"
// claim. Recovery tokens are not sessions and are rejected here.
func (s *TokenService) Verify(tokenString string) (string, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return "", err
	}

	if purpose, _ := claims["purpose"].(string); purpose == recoveryPurpose {
		return "", ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return sub, nil
}

// IssueRecoveryToken mints the short-lived token a consumed recovery code
// yields, bound to the account and the consumed code index. It is redeemed
// by an external reset flow, never exchanged directly for a session.
func (s *TokenService) IssueRecoveryToken(username string, codeIndex int) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":        username,
		"purpose":    recoveryPurpose,
		"code_index": codeIndex,
		"iat":        now.Unix(),
		"exp":        now.Add(recovery.TokenTTL).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// VerifyRecoveryToken validates a recovery token and returns the bound
// account and code index.
func (s *TokenService) VerifyRecoveryToken(tokenString string) (string, int, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return "", 0, err
	}

	if purpose, _ := claims["purpose"].(string); purpose != recoveryPurpose {
		return "", 0, fmt.Errorf("%w: purpose", ErrMissingClaim)
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", 0, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	index, ok := claims["code_index"].(float64)
	if !ok {
		return "", 0, fmt.Errorf("%w: code_index", ErrMissingClaim)
	}

	return sub, int(index), nil
}

// parse validates the signature and standard claims.
func (s *TokenService) parse(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

var (
	_ webauthn.SessionIssuer = (*TokenService)(nil)
	_ recovery.TokenIssuer   = (*TokenService)(nil)
)
