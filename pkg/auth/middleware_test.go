package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		header string
		want   string
	}{
		{name: "bearer header", url: "/ws", header: "Bearer abc", want: "abc"},
		{name: "query parameter", url: "/ws?token=xyz", want: "xyz"},
		{name: "header wins over query", url: "/ws?token=xyz", header: "Bearer abc", want: "abc"},
		{name: "non bearer header falls back to query", url: "/ws?token=xyz", header: "Basic abc", want: "xyz"},
		{name: "nothing", url: "/ws", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, TokenFromRequest(req))
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	privPEM, pubPEM := generateTestKeys(t)
	signer, err := NewSigner(privPEM, pubPEM, "test-issuer")
	require.NoError(t, err)

	userID := uuid.New()
	token, _, err := signer.GenerateAccessToken(userID, "user@example.com", "User", nil)
	require.NoError(t, err)

	newRouter := func(required bool) *gin.Engine {
		r := gin.New()
		r.Use(Middleware(signer, required))
		r.GET("/me", func(c *gin.Context) {
			id, ok := IdentityFromContext(c.Request.Context())
			if !ok {
				c.String(http.StatusOK, "anonymous")
				return
			}
			c.String(http.StatusOK, id.UserID.String())
		})
		return r
	}

	tests := []struct {
		name     string
		required bool
		header   string
		wantCode int
		wantBody string
	}{
		{name: "valid token", required: true, header: "Bearer " + token, wantCode: http.StatusOK, wantBody: userID.String()},
		{name: "missing token required", required: true, wantCode: http.StatusUnauthorized},
		{name: "missing token optional", required: false, wantCode: http.StatusOK, wantBody: "anonymous"},
		{name: "invalid token optional still rejected", required: false, header: "Bearer garbage", wantCode: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			newRouter(tt.required).ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, w.Body.String())
			}
		})
	}
}
