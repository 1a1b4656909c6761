package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/user"
)

// TokenKind discriminates access from refresh tokens; a refresh token is
// never accepted where an access token is expected, and vice versa.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// Claims represents the authorization claims transmitted via a JWT.
// Role is a snapshot taken at issuance; the request guard always re-derives
// the authoritative role from the stored account.
type Claims struct {
	jwt.RegisteredClaims
	Kind     TokenKind `json:"kind"`
	Role     user.Role `json:"role,omitempty"`
	Username string    `json:"username,omitempty"`
}

// TokenManager issues and verifies the signed access and refresh tokens.
// Access and refresh tokens are signed with distinct secrets, so rotating
// one class does not invalidate the other.
type TokenManager struct {
	conf    *core.Config
	nowFunc func() time.Time // mockable
}

func NewTokenManager(conf *core.Config) *TokenManager {
	return &TokenManager{
		conf:    conf,
		nowFunc: time.Now,
	}
}

// IssueAccessToken generates a signed, short-lived access token for usr.
func (tm *TokenManager) IssueAccessToken(usr user.User) (string, error) {
	now := tm.nowFunc().UTC()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tm.conf.AppName,
			Subject:   usr.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.conf.Auth.AccessTokenTTL)),
		},
		Kind:     TokenKindAccess,
		Role:     usr.Role,
		Username: usr.Username,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(tm.conf.Auth.AccessTokenSecret))
}

// IssueRefreshToken generates a signed refresh token for usr. The returned
// claims carry the jti the session store is keyed by.
func (tm *TokenManager) IssueRefreshToken(usr user.User) (string, *Claims, error) {
	now := tm.nowFunc().UTC()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tm.conf.AppName,
			Subject:   usr.ID,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.conf.Auth.RefreshTokenTTL)),
		},
		Kind: TokenKindRefresh,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(tm.conf.Auth.RefreshTokenSecret))
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// VerifyAccessToken verifies an access token string. Verification fails
// closed: expiry, signature mismatch, wrong kind and malformed payloads all
// yield ErrInvalidToken.
func (tm *TokenManager) VerifyAccessToken(token string) (*Claims, error) {
	return tm.verify(token, TokenKindAccess, tm.conf.Auth.AccessTokenSecret)
}

// VerifyRefreshToken verifies a refresh token string; failures yield
// ErrInvalidRefreshToken.
func (tm *TokenManager) VerifyRefreshToken(token string) (*Claims, error) {
	claims, err := tm.verify(token, TokenKindRefresh, tm.conf.Auth.RefreshTokenSecret)
	if err != nil {
		return nil, ErrInvalidRefreshToken
	}
	return claims, nil
}

func (tm *TokenManager) verify(token string, kind TokenKind, secret string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(
		token,
		new(Claims),
		func(t *jwt.Token) (interface{}, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(tm.nowFunc),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Kind != kind || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// HashToken returns the digest under which a refresh token is persisted;
// the raw token string never touches storage.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
