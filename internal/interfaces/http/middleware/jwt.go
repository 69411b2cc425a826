package middleware

import (
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xpgateway/backend/internal/infrastructure/auth"
	"github.com/xpgateway/backend/internal/infrastructure/logger"
	"github.com/xpgateway/backend/internal/interfaces/http/dto"
)

// Admin auth context keys
const (
	AdminClaimsKey  = "admin_claims"
	AdminSubjectKey = "admin_subject"
	AuthHeaderKey   = "Authorization"
	BearerPrefix    = "Bearer "
)

// DefaultAdminScope is required on admin tokens when none is configured
const DefaultAdminScope = "gateway:admin"

// TokenVerifier validates a bearer token
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// AdminAuthConfig holds configuration for the admin JWT middleware
type AdminAuthConfig struct {
	// Verifier is required
	Verifier TokenVerifier
	// Blacklist is optional; lookups that fail are logged and admitted
	Blacklist auth.TokenBlacklist
	// RequiredScope defaults to DefaultAdminScope
	RequiredScope string
	Logger        *zap.Logger
}

// AdminAuth authenticates the admin API with a bearer JWT carrying the
// admin scope. Missing or invalid tokens get 401, valid tokens without the
// scope get 403.
func AdminAuth(cfg AdminAuthConfig) gin.HandlerFunc {
	if cfg.RequiredScope == "" {
		cfg.RequiredScope = DefaultAdminScope
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	log := cfg.Logger.Named("admin_auth")

	return func(c *gin.Context) {
		header := c.GetHeader(AuthHeaderKey)
		if len(header) < len(BearerPrefix) || !strings.EqualFold(header[:len(BearerPrefix)], BearerPrefix) {
			abortAuth(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, "Missing bearer token")
			return
		}
		token := strings.TrimSpace(header[len(BearerPrefix):])

		claims, err := cfg.Verifier.Verify(token)
		if err != nil {
			log.Warn("Admin token rejected", zap.Error(err), zap.String("path", c.Request.URL.Path))
			message := "Invalid token"
			if errors.Is(err, auth.ErrExpiredToken) {
				message = "Token has expired"
			}
			abortAuth(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, message)
			return
		}

		if cfg.Blacklist != nil && revoked(c, cfg.Blacklist, claims, log) {
			abortAuth(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, "Token has been revoked")
			return
		}

		if !slices.Contains(claims.AllScopes(), cfg.RequiredScope) {
			abortAuth(c, http.StatusForbidden, dto.ErrCodeForbidden, "Token lacks the "+cfg.RequiredScope+" scope")
			return
		}

		c.Set(AdminClaimsKey, claims)
		c.Set(AdminSubjectKey, claims.Subject)
		c.Set(logger.GinUserIDKey, claims.Subject)
		c.Next()
	}
}

func revoked(c *gin.Context, bl auth.TokenBlacklist, claims *auth.Claims, log *zap.Logger) bool {
	ctx := c.Request.Context()
	if claims.ID != "" {
		hit, err := bl.IsBlacklisted(ctx, claims.ID)
		if err != nil {
			log.Error("Failed to check token blacklist", zap.String("jti", claims.ID), zap.Error(err))
		} else if hit {
			return true
		}
	}
	invalidated, err := bl.IsUserTokenInvalidated(ctx, claims.Subject, claims.IssuedAtTime())
	if err != nil {
		log.Error("Failed to check subject revocation", zap.String("subject", claims.Subject), zap.Error(err))
		return false
	}
	return invalidated
}

func abortAuth(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, dto.NewErrorResponseWithRequestID(code, message, GetRequestID(c)))
}

// GetAdminClaims returns the verified admin claims, nil before AdminAuth ran
func GetAdminClaims(c *gin.Context) *auth.Claims {
	if v, ok := c.Get(AdminClaimsKey); ok {
		if claims, ok := v.(*auth.Claims); ok {
			return claims
		}
	}
	return nil
}

// GetAdminSubject returns the admin token subject
func GetAdminSubject(c *gin.Context) string {
	return c.GetString(AdminSubjectKey)
}
