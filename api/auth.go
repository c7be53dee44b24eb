/*
auth.go - Bearer token authentication and role checks

PURPOSE:
  Identifies the caller of every non-public endpoint. Tokens are HS256
  JWTs carrying the resident's user id and role. Issuing tokens to end
  users is someone else's job; Generate exists for the CLI and tests.

ROLES:
  RESIDENT  may list and pay their own invoices
  ADMIN     may administer transactions, settings and jobs

SEE ALSO:
  - server.go: Which route groups require which role
  - cmd/server/main.go: "token" subcommand
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/billing-engine/billing"
)

// Role is the caller's permission level.
type Role string

const (
	RoleResident Role = "RESIDENT"
	RoleAdmin    Role = "ADMIN"
)

// Claims is the JWT payload.
type Claims struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller.
type Principal struct {
	UserID billing.UserID
	Role   Role
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the authenticated caller, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Authenticator signs and verifies access tokens.
type Authenticator struct {
	secret []byte
	now    func() time.Time
}

// NewAuthenticator creates an authenticator. An empty secret is rejected.
func NewAuthenticator(secret string) (*Authenticator, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: jwt secret is empty", billing.ErrInvalidInput)
	}
	return &Authenticator{secret: []byte(secret), now: time.Now}, nil
}

// Generate issues a token for userID with the given role.
func (a *Authenticator) Generate(userID billing.UserID, role Role, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: user id is required", billing.ErrInvalidInput)
	}
	if role != RoleResident && role != RoleAdmin {
		return "", fmt.Errorf("%w: unknown role %q", billing.ErrInvalidInput, role)
	}
	now := a.now()
	claims := Claims{
		UserID: string(userID),
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Parse validates a token and returns its principal.
func (a *Authenticator) Parse(tokenString string) (Principal, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil {
		return Principal{}, err
	}
	if claims.UserID == "" {
		return Principal{}, errors.New("token has no user_id")
	}
	if claims.Role != RoleResident && claims.Role != RoleAdmin {
		return Principal{}, fmt.Errorf("token has unknown role %q", claims.Role)
	}
	return Principal{UserID: billing.UserID(claims.UserID), Role: claims.Role}, nil
}

// RequireAuth rejects requests without a valid bearer token.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token", nil)
			return
		}
		p, err := a.Parse(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// RequireRole rejects authenticated callers whose role is not in roles.
// It must run after RequireAuth.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", nil)
				return
			}
			for _, role := range roles {
				if p.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "forbidden", nil)
		})
	}
}
