package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpgateway/backend/internal/infrastructure/auth"
	"github.com/xpgateway/backend/internal/infrastructure/config"
	"github.com/xpgateway/backend/internal/infrastructure/logger"
)

const testSecret = "test-secret-key-that-is-at-least-32-chars"

type failingBlacklist struct {
	auth.TokenBlacklist
}

func (failingBlacklist) IsBlacklisted(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func (failingBlacklist) IsUserTokenInvalidated(context.Context, string, time.Time) (bool, error) {
	return false, errors.New("redis down")
}

func adminEngine(t *testing.T, bl auth.TokenBlacklist) (*gin.Engine, *auth.JWTService) {
	t.Helper()
	svc := auth.NewJWTService(config.JWTConfig{Secret: testSecret, Issuer: "xpgateway"})
	r := gin.New()
	r.Use(RequestID(), AdminAuth(AdminAuthConfig{Verifier: svc, Blacklist: bl, RequiredScope: "gateway:admin"}))
	r.GET("/admin", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"subject": GetAdminSubject(c),
			"user":    c.GetString(logger.GinUserIDKey),
			"claims":  GetAdminClaims(c) != nil,
		})
	})
	return r, svc
}

func issue(t *testing.T, svc *auth.JWTService, scopes ...string) (string, *auth.Claims) {
	t.Helper()
	token, claims, err := svc.Issue(auth.IssueInput{Subject: "ops-1", Scopes: scopes, TTL: time.Hour})
	require.NoError(t, err)
	return token, claims
}

func doAdmin(r *gin.Engine, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAdminAuth(t *testing.T) {
	r, svc := adminEngine(t, nil)

	t.Run("missing token", func(t *testing.T) {
		w := doAdmin(r, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), `"code":"ERR_UNAUTHORIZED"`)
		assert.Contains(t, w.Body.String(), `"request_id"`)
	})

	t.Run("garbage token", func(t *testing.T) {
		w := doAdmin(r, "Bearer not.a.jwt")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("token without admin scope", func(t *testing.T) {
		token, _ := issue(t, svc, "orders:read")
		w := doAdmin(r, "Bearer "+token)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), `"code":"ERR_FORBIDDEN"`)
	})

	t.Run("admin token", func(t *testing.T) {
		token, _ := issue(t, svc, "gateway:admin")
		w := doAdmin(r, "bearer "+token)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"subject":"ops-1","user":"ops-1","claims":true}`, w.Body.String())
	})

	t.Run("expired token", func(t *testing.T) {
		token, _, err := svc.Issue(auth.IssueInput{Subject: "ops-1", Scopes: []string{"gateway:admin"}, TTL: -time.Minute})
		require.NoError(t, err)
		w := doAdmin(r, "Bearer "+token)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "expired")
	})
}

func TestAdminAuth_Blacklist(t *testing.T) {
	bl := auth.NewInMemoryTokenBlacklist()
	r, svc := adminEngine(t, bl)

	token, claims := issue(t, svc, "gateway:admin")
	require.Equal(t, http.StatusOK, doAdmin(r, "Bearer "+token).Code)

	require.NoError(t, bl.AddToBlacklist(context.Background(), claims.ID, time.Hour))
	w := doAdmin(r, "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "revoked")
}

func TestAdminAuth_BlacklistErrorAdmits(t *testing.T) {
	r, svc := adminEngine(t, failingBlacklist{})

	token, _ := issue(t, svc, "gateway:admin")
	assert.Equal(t, http.StatusOK, doAdmin(r, "Bearer "+token).Code)
}

func TestAdminAuth_DefaultScope(t *testing.T) {
	svc := auth.NewJWTService(config.JWTConfig{Secret: testSecret})
	r := gin.New()
	r.Use(AdminAuth(AdminAuthConfig{Verifier: svc}))
	r.GET("/admin", func(c *gin.Context) { c.Status(http.StatusOK) })

	token, _ := issue(t, svc, DefaultAdminScope)
	assert.Equal(t, http.StatusOK, doAdmin(r, "Bearer "+token).Code)
}
