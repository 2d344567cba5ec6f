// Package auth issues and verifies the admin bearer tokens guarding the
// billing API.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// RoleAdmin is the role carried by every token issued by Login.
const RoleAdmin = "admin"

// Set of errors for the auth API.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMissingToken       = errors.New("authorization token required")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrForbidden          = errors.New("attempted action is not allowed")
)

// Claims represents the authorization claims transmitted via a JWT.
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Config holds the signing secret and the admin credentials. AdminPass may
// be a bcrypt hash.
type Config struct {
	Secret    string
	TokenTTL  time.Duration
	Issuer    string
	AdminUser string
	AdminPass string
}

// Auth is used to authenticate the admin and verify its tokens.
type Auth struct {
	secret    []byte
	ttl       time.Duration
	issuer    string
	adminUser string
	adminPass string
	now       func() time.Time
}

// New creates an Auth. The secret must not be empty.
func New(cfg Config) (*Auth, error) {
	if cfg.Secret == "" {
		return nil, errors.New("auth: secret is required")
	}
	if cfg.AdminUser == "" || cfg.AdminPass == "" {
		return nil, errors.New("auth: admin credentials are required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}

	a := Auth{
		secret:    []byte(cfg.Secret),
		ttl:       cfg.TokenTTL,
		issuer:    cfg.Issuer,
		adminUser: cfg.AdminUser,
		adminPass: cfg.AdminPass,
		now:       time.Now,
	}
	return &a, nil
}

// Login checks the admin credentials and returns a signed token.
func (a *Auth) Login(username, password string) (string, error) {
	if !a.checkCredentials(username, password) {
		return "", ErrInvalidCredentials
	}

	return a.GenerateToken(username)
}

func (a *Auth) checkCredentials(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.adminUser)) == 1

	var passOK bool
	if strings.HasPrefix(a.adminPass, "$2") {
		passOK = bcrypt.CompareHashAndPassword([]byte(a.adminPass), []byte(password)) == nil
	} else {
		passOK = subtle.ConstantTimeCompare([]byte(password), []byte(a.adminPass)) == 1
	}

	return userOK && passOK
}

// GenerateToken signs an admin token for username valid for the configured
// TTL.
func (a *Auth) GenerateToken(username string) (string, error) {
	now := a.now()
	claims := Claims{
		Username: username,
		Role:     RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			Issuer:    a.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	str, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}

	return str, nil
}

// Authenticate verifies the value of an Authorization header and returns the
// claims of its bearer token.
func (a *Auth) Authenticate(bearerToken string) (Claims, error) {
	if bearerToken == "" {
		return Claims{}, ErrMissingToken
	}

	parts := strings.Fields(bearerToken)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return Claims{}, fmt.Errorf("%w: expected authorization header format: Bearer <token>", ErrInvalidToken)
	}

	return a.Validate(parts[1])
}

// Validate parses and validates a token, returning its claims.
func (a *Auth) Validate(tokenStr string) (Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenStr, &claims,
		func(*jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Claims{}, ErrInvalidToken
	}

	return claims, nil
}

// Authorize checks the claims carry the admin role.
func Authorize(claims Claims) error {
	if claims.Role != RoleAdmin {
		return ErrForbidden
	}
	return nil
}

type ctxKey int

const claimKey ctxKey = 1

// SetClaims stores the claims in the context.
func SetClaims(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, claimKey, claims)
}

// GetClaims returns the claims from the context.
func GetClaims(ctx context.Context) (Claims, bool) {
	v, ok := ctx.Value(claimKey).(Claims)
	return v, ok
}
