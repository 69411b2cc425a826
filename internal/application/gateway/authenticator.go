package gateway

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/zeebo/xxh3"
	"go.uber.org/zap"

	"github.com/xpgateway/backend/internal/domain/gateway"
	"github.com/xpgateway/backend/internal/infrastructure/auth"
	"github.com/xpgateway/backend/internal/infrastructure/config"
)

// TokenVerifier checks bearer JWTs
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// TokenIntrospector validates opaque OAuth tokens
type TokenIntrospector interface {
	Enabled() bool
	Introspect(ctx context.Context, token string) (*auth.Introspection, error)
}

// AuthenticatorDeps are the credential sources of the authenticator. Any of
// Blacklist, Introspector and the caches may be nil.
type AuthenticatorDeps struct {
	Tokens       TokenVerifier
	Users        gateway.UserRepository
	APIKeys      gateway.APIKeyRepository
	Blacklist    auth.TokenBlacklist
	Introspector TokenIntrospector
	UserCache    *auth.CredentialCache[*gateway.User]
	KeyCache     *auth.CredentialCache[*gateway.APIKey]
	OAuthCache   *auth.CredentialCache[*auth.Introspection]
}

// Authenticator resolves the caller's principal. It tries, in order, a
// bearer JWT, an API key, an OAuth token and finally the public allow-list.
// It never writes shared state.
type Authenticator struct {
	deps          AuthenticatorDeps
	publicPaths   []string
	lookupTimeout time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

// NewAuthenticator creates an authenticator
func NewAuthenticator(deps AuthenticatorDeps, cfg config.AuthConfig, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.LookupTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Authenticator{
		deps:          deps,
		publicPaths:   cfg.PublicPaths,
		lookupTimeout: timeout,
		logger:        logger.Named("authenticator"),
		now:           time.Now,
	}
}

// Authenticate returns the principal for rc. route may be nil when the
// route is not resolved yet; scope checks are then skipped.
func (a *Authenticator) Authenticate(ctx context.Context, rc gateway.RequestContext, route *gateway.RouteInfo) (gateway.AuthResult, error) {
	authz := strings.TrimSpace(rc.Header("authorization"))

	if token, ok := cutScheme(authz, "Bearer"); ok {
		return a.authenticateJWT(ctx, token, route)
	}
	if key := a.apiKey(rc); key != "" {
		return a.authenticateAPIKey(ctx, key, rc.ClientIP, route)
	}
	if token, ok := cutScheme(authz, "OAuth"); ok {
		return a.authenticateOAuth(ctx, token, route)
	}
	if a.isPublic(rc.Path, route) {
		return gateway.PublicResult(), nil
	}
	return gateway.AuthResult{}, gateway.NewUnauthorized("authentication required", nil)
}

func (a *Authenticator) apiKey(rc gateway.RequestContext) string {
	if k := strings.TrimSpace(rc.Header("x-api-key")); k != "" {
		return k
	}
	return strings.TrimSpace(rc.Query.Get("api_key"))
}

func (a *Authenticator) isPublic(path string, route *gateway.RouteInfo) bool {
	if route != nil && route.Public {
		return true
	}
	for _, prefix := range a.publicPaths {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (a *Authenticator) authenticateJWT(ctx context.Context, token string, route *gateway.RouteInfo) (gateway.AuthResult, error) {
	if a.deps.Tokens == nil {
		return gateway.AuthResult{}, gateway.NewUnauthorized("bearer tokens are not accepted", nil)
	}
	claims, err := a.deps.Tokens.Verify(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			e := gateway.NewUnauthorized("token has expired", err)
			e.Code = gateway.CodeTokenExpired
			return gateway.AuthResult{}, e
		}
		return gateway.AuthResult{}, gateway.NewUnauthorized("invalid bearer token", err)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, a.lookupTimeout)
	defer cancel()

	if bl := a.deps.Blacklist; bl != nil {
		if claims.ID != "" {
			revoked, err := bl.IsBlacklisted(lookupCtx, claims.ID)
			if err != nil {
				return gateway.AuthResult{}, a.lookupFailure("token blacklist", err)
			}
			if revoked {
				return gateway.AuthResult{}, gateway.NewUnauthorized("token has been revoked", auth.ErrTokenBlacklisted)
			}
		}
		invalidated, err := bl.IsUserTokenInvalidated(lookupCtx, claims.Subject, claims.IssuedAtTime())
		if err != nil {
			return gateway.AuthResult{}, a.lookupFailure("token blacklist", err)
		}
		if invalidated {
			return gateway.AuthResult{}, gateway.NewUnauthorized("token has been revoked", auth.ErrTokenBlacklisted)
		}
	}

	if a.deps.Users == nil {
		return gateway.AuthResult{}, gateway.NewUnauthorized("bearer tokens are not accepted", nil)
	}
	user, err := a.deps.UserCache.GetOrLoad(lookupCtx, "user:"+claims.Subject, func(ctx context.Context) (*gateway.User, error) {
		return a.deps.Users.FindByID(ctx, claims.Subject)
	})
	if err != nil {
		if errors.Is(err, gateway.ErrCredentialNotFound) {
			return gateway.AuthResult{}, gateway.NewUnauthorized("unknown token subject", err)
		}
		return gateway.AuthResult{}, a.lookupFailure("user", err)
	}
	if !user.Active {
		return gateway.AuthResult{}, gateway.NewUnauthorized("user is inactive", nil)
	}

	result := gateway.AuthResult{
		Kind:    gateway.AuthJWT,
		UserID:  user.ID,
		Scopes:  claims.AllScopes(),
		Tier:    claims.Tier,
		TokenID: claims.ID,
	}
	return result, checkScopes(result, route)
}

func (a *Authenticator) authenticateAPIKey(ctx context.Context, rawKey, clientIP string, route *gateway.RouteInfo) (gateway.AuthResult, error) {
	if a.deps.APIKeys == nil {
		return gateway.AuthResult{}, gateway.NewUnauthorized("API keys are not accepted", nil)
	}
	lookupCtx, cancel := context.WithTimeout(ctx, a.lookupTimeout)
	defer cancel()

	key, err := a.deps.KeyCache.GetOrLoad(lookupCtx, "key:"+fingerprint(rawKey), func(ctx context.Context) (*gateway.APIKey, error) {
		return a.deps.APIKeys.FindByKey(ctx, rawKey)
	})
	if err != nil {
		if errors.Is(err, gateway.ErrCredentialNotFound) {
			return gateway.AuthResult{}, gateway.NewUnauthorized("invalid API key", nil)
		}
		return gateway.AuthResult{}, a.lookupFailure("api key", err)
	}

	switch {
	case !key.IsActive():
		return gateway.AuthResult{}, gateway.NewUnauthorized("API key is "+string(key.Status), nil)
	case key.IsExpired(a.now()):
		e := gateway.NewUnauthorized("API key has expired", nil)
		e.Code = gateway.CodeTokenExpired
		return gateway.AuthResult{}, e
	case !key.AllowsIP(clientIP):
		a.logger.Warn("API key used from a disallowed address",
			zap.String("key_id", key.ID),
			zap.String("client_ip", clientIP),
		)
		return gateway.AuthResult{}, gateway.NewUnauthorized("API key is not allowed from this address", nil)
	}

	result := gateway.AuthResult{
		Kind:   gateway.AuthAPIKey,
		UserID: key.UserID,
		Scopes: key.Permissions,
		Tier:   key.Tier,
		KeyID:  key.ID,
	}
	return result, checkScopes(result, route)
}

func (a *Authenticator) authenticateOAuth(ctx context.Context, token string, route *gateway.RouteInfo) (gateway.AuthResult, error) {
	if a.deps.Introspector == nil || !a.deps.Introspector.Enabled() {
		return gateway.AuthResult{}, gateway.NewUnauthorized("OAuth tokens are not accepted", nil)
	}
	lookupCtx, cancel := context.WithTimeout(ctx, a.lookupTimeout)
	defer cancel()

	info, err := a.deps.OAuthCache.GetOrLoad(lookupCtx, "oauth:"+fingerprint(token), func(ctx context.Context) (*auth.Introspection, error) {
		return a.deps.Introspector.Introspect(ctx, token)
	})
	if err != nil {
		if errors.Is(err, auth.ErrInactiveToken) {
			return gateway.AuthResult{}, gateway.NewUnauthorized("OAuth token is not active", err)
		}
		a.logger.Warn("Token introspection failed", zap.Error(err))
		return gateway.AuthResult{}, gateway.NewUnauthorized("OAuth token could not be verified", err)
	}
	// cached introspections may outlive the token
	if exp := info.Expiry(); !exp.IsZero() && !a.now().Before(exp) {
		return gateway.AuthResult{}, gateway.NewUnauthorized("OAuth token has expired", nil)
	}

	result := gateway.AuthResult{
		Kind:    gateway.AuthOAuth,
		UserID:  info.Principal(),
		Scopes:  info.Scopes(),
		Tier:    info.Tier,
		TokenID: info.TokenID,
	}
	if result.UserID == "" {
		return gateway.AuthResult{}, gateway.NewUnauthorized("OAuth token has no subject", nil)
	}
	return result, checkScopes(result, route)
}

// lookupFailure converts a store error into Unauthorized; the credential
// could not be proven valid
func (a *Authenticator) lookupFailure(source string, err error) error {
	a.logger.Error("Credential lookup failed", zap.String("source", source), zap.Error(err))
	return gateway.NewUnauthorized("credential could not be verified", err)
}

func checkScopes(result gateway.AuthResult, route *gateway.RouteInfo) error {
	if route == nil || result.HasScopes(route.RequiredScopes) {
		return nil
	}
	return gateway.NewUnauthorized("insufficient scope", nil)
}

func cutScheme(header, scheme string) (string, bool) {
	if len(header) <= len(scheme)+1 || !strings.EqualFold(header[:len(scheme)], scheme) || header[len(scheme)] != ' ' {
		return "", false
	}
	token := strings.TrimSpace(header[len(scheme)+1:])
	return token, token != ""
}

func fingerprint(secret string) string {
	sum := xxh3.HashString128(secret).Bytes()
	return hex.EncodeToString(sum[:])
}
