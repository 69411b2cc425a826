package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/xpgateway/backend/internal/infrastructure/config"
)

// Common errors
var (
	ErrMalformedToken   = errors.New("token must have three segments")
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrMissingExpiry    = errors.New("token has no expiry")
	ErrTokenNotYetValid = errors.New("token is not yet valid")
	ErrMissingSubject   = errors.New("missing subject in claims")
	ErrTokenBlacklisted = errors.New("token has been revoked")
)

// Claims are the bearer token claims the gateway understands.
type Claims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes,omitempty"`
	Scope  string   `json:"scope,omitempty"` // space separated, OAuth style
	Tier   string   `json:"tier,omitempty"`
}

// AllScopes merges the list and space-separated scope claims.
func (c *Claims) AllScopes() []string {
	scopes := append([]string(nil), c.Scopes...)
	for _, s := range strings.Fields(c.Scope) {
		scopes = append(scopes, s)
	}
	return scopes
}

// IssuedAtTime returns the token's issued-at time, zero when absent.
func (c *Claims) IssuedAtTime() time.Time {
	if c.IssuedAt != nil {
		return c.IssuedAt.Time
	}
	return time.Time{}
}

// RemainingTTL returns the time until the token expires.
func (c *Claims) RemainingTTL() time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	return max(time.Until(c.ExpiresAt.Time), 0)
}

// JWTService verifies HMAC-signed bearer tokens and issues admin tokens.
type JWTService struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// NewJWTService creates a new JWT service
func NewJWTService(cfg config.JWTConfig) *JWTService {
	return &JWTService{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		leeway: cfg.Leeway,
		now:    time.Now,
	}
}

// IssueInput contains input for token generation
type IssueInput struct {
	Subject string
	Scopes  []string
	Tier    string
	TTL     time.Duration
}

// Issue signs an HS256 token for the given subject.
func (s *JWTService) Issue(input IssueInput) (string, *Claims, error) {
	now := s.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   input.Subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(input.TTL)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Scopes: input.Scopes,
		Tier:   input.Tier,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, err
	}
	return token, claims, nil
}

// Verify checks structure, signature and expiry of a bearer token.
// Only HS256, HS384 and HS512 are accepted; exp is mandatory.
func (s *JWTService) Verify(tokenString string) (*Claims, error) {
	if strings.Count(tokenString, ".") != 2 {
		return nil, ErrMalformedToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
			return nil, ErrMissingExpiry
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			return nil, ErrTokenNotYetValid
		default:
			return nil, ErrInvalidToken
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}
	return claims, nil
}
