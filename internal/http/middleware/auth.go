package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rehabflow/clinic-platform/internal/identity"
)

// ActorClaims are the custom JWT claims carried by every API token. Role and
// OrgID feed the permission checks downstream.
type ActorClaims struct {
	Name  string `json:"name,omitempty"`
	Role  string `json:"role"`
	OrgID string `json:"org_id,omitempty"`
	jwt.RegisteredClaims
}

// Auth enforces an HMAC-signed JWT and places the resolved actor in the
// request context.
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "auth disabled", http.StatusUnauthorized)
				return
			}
			auth := r.Header.Get("Authorization")
			if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}
			tokenString := strings.TrimPrefix(auth, "Bearer ")
			claims := ActorClaims{}
			token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			role, err := identity.ParseRole(claims.Role)
			if err != nil {
				http.Error(w, "unknown role", http.StatusForbidden)
				return
			}
			actor := identity.Actor{
				ID:    claims.Subject,
				Name:  claims.Name,
				Role:  role,
				OrgID: claims.OrgID,
			}
			next.ServeHTTP(w, r.WithContext(identity.WithActor(r.Context(), actor)))
		})
	}
}

// RequireAdmin restricts a route group to admin actors. It must run after
// Auth so the actor is already in the request context.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := identity.ActorFromContext(r.Context())
		if !ok || actor.Role != identity.RoleAdmin {
			http.Error(w, "admin role required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
