package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var (
	ErrIntrospectionDisabled = errors.New("token introspection endpoint not configured")
	ErrInactiveToken         = errors.New("token is not active")
)

// Introspection is the subset of an RFC 7662 introspection response the gateway uses.
type Introspection struct {
	Active    bool   `json:"active"`
	Subject   string `json:"sub"`
	ClientID  string `json:"client_id"`
	Username  string `json:"username"`
	Scope     string `json:"scope"`
	Tier      string `json:"tier"`
	ExpiresAt int64  `json:"exp"`
	IssuedAt  int64  `json:"iat"`
	TokenID   string `json:"jti"`
}

// Principal returns the best identifier for the token owner.
func (i *Introspection) Principal() string {
	switch {
	case i.Subject != "":
		return i.Subject
	case i.Username != "":
		return i.Username
	default:
		return i.ClientID
	}
}

// Scopes splits the space-separated scope claim.
func (i *Introspection) Scopes() []string {
	return strings.Fields(i.Scope)
}

// Expiry returns the exp claim as time, zero when absent.
func (i *Introspection) Expiry() time.Time {
	if i.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(i.ExpiresAt, 0)
}

// Introspector validates opaque OAuth access tokens against an authorization server.
type Introspector struct {
	endpoint     string
	clientID     string
	clientSecret string
	client       *http.Client
}

// NewIntrospector creates an introspector. An empty endpoint yields an
// introspector that always returns ErrIntrospectionDisabled.
func NewIntrospector(endpoint, clientID, clientSecret string, timeout time.Duration) *Introspector {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Introspector{
		endpoint:     endpoint,
		clientID:     clientID,
		clientSecret: clientSecret,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Enabled reports whether an introspection endpoint is configured.
func (i *Introspector) Enabled() bool {
	return i != nil && i.endpoint != ""
}

// Introspect asks the authorization server about token. Inactive tokens
// return ErrInactiveToken.
func (i *Introspector) Introspect(ctx context.Context, token string) (*Introspection, error) {
	if !i.Enabled() {
		return nil, ErrIntrospectionDisabled
	}

	form := url.Values{}
	form.Set("token", token)
	form.Set("token_type_hint", "access_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build introspection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if i.clientID != "" {
		req.SetBasicAuth(i.clientID, i.clientSecret)
	}

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("introspection request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("introspection endpoint returned status %d", resp.StatusCode)
	}

	var result Introspection
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode introspection response: %w", err)
	}
	if !result.Active {
		return nil, ErrInactiveToken
	}
	if exp := result.Expiry(); !exp.IsZero() && !time.Now().Before(exp) {
		return nil, ErrInactiveToken
	}
	return &result, nil
}
