package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jun/secondbrain/internal/model"
)

// Token types carried in the "typ" claim.
const (
	TokenTypeAccess  = "ACCESS"
	TokenTypeRefresh = "REFRESH"
)

var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrWrongTokenType = errors.New("wrong token type")
)

// Claims are the JWT claims of access and refresh tokens. Subject is the
// user id and ID is the token id (jti).
type Claims struct {
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 session tokens.
type Issuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewIssuer(secret []byte, accessTTL, refreshTTL time.Duration) *Issuer {
	return &Issuer{
		secret:     secret,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

func (i *Issuer) AccessTTL() time.Duration  { return i.accessTTL }
func (i *Issuer) RefreshTTL() time.Duration { return i.refreshTTL }

// IssueAccess returns a signed access token for user.
func (i *Issuer) IssueAccess(user *model.User) (string, error) {
	signed, _, err := i.issue(user, TokenTypeAccess, i.accessTTL)
	return signed, err
}

// IssueRefresh returns a signed refresh token and its id.
func (i *Issuer) IssueRefresh(user *model.User) (token, tokenID string, err error) {
	return i.issue(user, TokenTypeRefresh, i.refreshTTL)
}

func (i *Issuer) issue(user *model.User, tokenType string, ttl time.Duration) (string, string, error) {
	now := i.now()
	id := uuid.NewString()
	claims := Claims{
		Email:     user.Email,
		Name:      user.Name,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ID:        id,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", "", fmt.Errorf("sign %s token: %w", tokenType, err)
	}
	return signed, id, nil
}

// Parse verifies tokenString and checks that it is of wantType.
func (i *Issuer) Parse(tokenString, wantType string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if claims.TokenType != wantType {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrWrongTokenType, claims.TokenType, wantType)
	}
	return claims, nil
}

// User returns the profile embedded in the claims.
func (c *Claims) User() *model.User {
	return &model.User{ID: c.Subject, Email: c.Email, Name: c.Name}
}
