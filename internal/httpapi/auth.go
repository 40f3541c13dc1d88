package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role is the caller's role carried in the token.
type Role string

const (
	RoleCashier Role = "cashier"
	RoleAdmin   Role = "admin"
	RoleBuyer   Role = "buyer"
	RoleDisplay Role = "display"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleCashier, RoleAdmin, RoleBuyer, RoleDisplay:
		return true
	}
	return false
}

// Principal is the authenticated caller.
type Principal struct {
	Subject string
	Name    string
	Role    Role
}

type principalKey struct{}

// PrincipalFrom returns the principal attached by Authenticator.Middleware.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

var errUnauthenticated = errors.New("missing or invalid token")

// Authenticator issues and verifies HS256 tokens.
type Authenticator struct {
	secret []byte
	now    func() time.Time
}

// NewAuthenticator creates an Authenticator for the shared secret.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret), now: time.Now}
}

// Issue signs a token for p that expires after ttl.
func (a *Authenticator) Issue(p Principal, ttl time.Duration) (string, error) {
	if p.Subject == "" {
		return "", fmt.Errorf("issue token: subject is required")
	}
	if !p.Role.Valid() {
		return "", fmt.Errorf("issue token: unknown role %q", p.Role)
	}
	now := a.now()
	claims := jwt.MapClaims{
		"sub":  p.Subject,
		"name": p.Name,
		"role": string(p.Role),
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return signed, nil
}

// Verify parses token and returns its principal.
func (a *Authenticator) Verify(token string) (Principal, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return Principal{}, errUnauthenticated
	}
	m, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Principal{}, errUnauthenticated
	}
	sub, _ := m["sub"].(string)
	name, _ := m["name"].(string)
	role, _ := m["role"].(string)
	p := Principal{Subject: sub, Name: name, Role: Role(role)}
	if p.Subject == "" || !p.Role.Valid() {
		return Principal{}, errUnauthenticated
	}
	return p, nil
}

// Middleware authenticates every request. The token comes from the
// Authorization bearer header, or from the access_token query parameter for
// websocket clients that cannot set headers.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			respondError(w, r, unauthenticated())
			return
		}
		p, err := a.Verify(token)
		if err != nil {
			respondError(w, r, unauthenticated())
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// RequireRole rejects callers whose role is not in roles with FORBIDDEN.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				respondError(w, r, unauthenticated())
				return
			}
			if !slices.Contains(roles, p.Role) {
				respondError(w, r, forbidden(p.Role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}
