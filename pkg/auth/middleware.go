package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type contextKey string

const (
	tokenHeader                = "Authorization"
	tokenPrefix                = "Bearer "
	tokenQueryParam            = "token"
	IdentityKey     contextKey = "identity"
)

// TokenFromRequest extracts a bearer token from the Authorization header or the token query parameter.
// Browsers cannot set headers on WebSocket upgrades, hence the query fallback.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get(tokenHeader); strings.HasPrefix(h, tokenPrefix) {
		return strings.TrimPrefix(h, tokenPrefix)
	}
	return r.URL.Query().Get(tokenQueryParam)
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, id)
}

// IdentityFromContext retrieves the identity stored by the middleware.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(IdentityKey).(*Identity)
	return id, ok && id != nil
}

// Middleware resolves the caller's identity on every request.
// With required set, requests without a valid token are aborted with 401;
// otherwise they continue anonymously.
func Middleware(resolver IdentityResolver, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := TokenFromRequest(c.Request)
		if token == "" {
			if required {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
				return
			}
			c.Next()
			return
		}

		id, err := resolver.ResolveIdentity(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}
