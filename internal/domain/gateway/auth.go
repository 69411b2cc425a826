package gateway

// AuthKind identifies which credential admitted the request
type AuthKind string

const (
	// AuthPublic marks an anonymous caller on a public route
	AuthPublic AuthKind = "public"
	// AuthJWT marks a bearer JWT principal
	AuthJWT AuthKind = "jwt"
	// AuthAPIKey marks an API key principal
	AuthAPIKey AuthKind = "api_key"
	// AuthOAuth marks an OAuth access token principal
	AuthOAuth AuthKind = "oauth"
)

// AnonymousUserID is the user id carried by public results
const AnonymousUserID = "anonymous"

// TierAnonymous is the rate-limit tier of public callers
const TierAnonymous = "anonymous"

// AuthResult is the closed set of principals the authenticator can produce.
// Kind selects which optional fields are populated.
type AuthResult struct {
	Kind   AuthKind
	UserID string
	Scopes []string
	// Tier is the rate-limit tier; set for API keys and optionally OAuth
	Tier string
	// KeyID is set for API key principals
	KeyID string
	// TokenID is the jti of a JWT principal
	TokenID string
}

// PublicResult returns the anonymous principal
func PublicResult() AuthResult {
	return AuthResult{Kind: AuthPublic, UserID: AnonymousUserID, Tier: TierAnonymous}
}

// IsAnonymous reports whether the principal is unauthenticated
func (a AuthResult) IsAnonymous() bool {
	return a.Kind == AuthPublic
}

// HasScopes reports whether the principal holds every required scope.
// A "*" scope grants everything.
func (a AuthResult) HasScopes(required []string) bool {
	if len(required) == 0 {
		return true
	}
	held := make(map[string]struct{}, len(a.Scopes))
	for _, s := range a.Scopes {
		if s == "*" {
			return true
		}
		held[s] = struct{}{}
	}
	for _, r := range required {
		if _, ok := held[r]; !ok {
			return false
		}
	}
	return true
}
