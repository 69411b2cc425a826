package gateway

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

// ErrCredentialNotFound is returned when a user or API key does not exist
var ErrCredentialNotFound = errors.New("gateway: credential not found")

// APIKeyStatus is the lifecycle state of an API key
type APIKeyStatus string

const (
	APIKeyActive    APIKeyStatus = "active"
	APIKeyRevoked   APIKeyStatus = "revoked"
	APIKeySuspended APIKeyStatus = "suspended"
)

// APIKey is the stored record behind an X-API-Key credential
type APIKey struct {
	ID          string
	UserID      string
	Name        string
	Status      APIKeyStatus
	Tier        string
	Permissions []string
	// AllowedIPs holds exact addresses or CIDR ranges; empty allows any caller
	AllowedIPs []string
	ExpiresAt  *time.Time
}

// IsActive reports whether the key status permits use
func (k APIKey) IsActive() bool {
	return k.Status == APIKeyActive
}

// IsExpired reports whether the key has expired at now
func (k APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}

// AllowsIP reports whether ip is inside the allow-list
func (k APIKey) AllowsIP(ip string) bool {
	if len(k.AllowedIPs) == 0 {
		return true
	}
	parsed := net.ParseIP(ip)
	for _, entry := range k.AllowedIPs {
		if strings.Contains(entry, "/") {
			_, network, err := net.ParseCIDR(entry)
			if err == nil && parsed != nil && network.Contains(parsed) {
				return true
			}
			continue
		}
		if entry == ip {
			return true
		}
		if allowed := net.ParseIP(entry); allowed != nil && parsed != nil && allowed.Equal(parsed) {
			return true
		}
	}
	return false
}

// User is a gateway principal referenced by JWT subjects
type User struct {
	ID       string
	Username string
	Active   bool
	Scopes   []string
}

// APIKeyRepository looks up API keys by their raw value
type APIKeyRepository interface {
	// FindByKey returns ErrCredentialNotFound when no key matches
	FindByKey(ctx context.Context, rawKey string) (*APIKey, error)
}

// UserRepository resolves users referenced by tokens
type UserRepository interface {
	// FindByID returns ErrCredentialNotFound when the user does not exist
	FindByID(ctx context.Context, id string) (*User, error)
}
