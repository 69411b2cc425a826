package gateway

import (
	"net/http"
	"slices"
	"strings"

	"github.com/xpgateway/backend/internal/domain/gateway"
	"github.com/xpgateway/backend/internal/infrastructure/config"
)

// SecurityValidator rejects requests the gateway never forwards
type SecurityValidator struct {
	maxBodyBytes      int64
	contentTypes      []string
	supportedVersions []string
}

// NewSecurityValidator builds a validator from the security config section
func NewSecurityValidator(cfg config.SecurityConfig) *SecurityValidator {
	v := &SecurityValidator{
		maxBodyBytes:      cfg.MaxBodyBytes,
		contentTypes:      make([]string, 0, len(cfg.AllowedContentTypes)),
		supportedVersions: cfg.SupportedVersions,
	}
	for _, ct := range cfg.AllowedContentTypes {
		v.contentTypes = append(v.contentTypes, strings.ToLower(strings.TrimSpace(ct)))
	}
	if v.maxBodyBytes <= 0 {
		v.maxBodyBytes = 10 << 20
	}
	if len(v.contentTypes) == 0 {
		v.contentTypes = []string{"application/json", "application/x-www-form-urlencoded", "multipart/form-data"}
	}
	if len(v.supportedVersions) == 0 {
		v.supportedVersions = []string{"v1", "v2", "v3"}
	}
	return v
}

// MaxBodyBytes returns the body size limit
func (v *SecurityValidator) MaxBodyBytes() int64 {
	return v.maxBodyBytes
}

// Validate checks API version, body size and content type
func (v *SecurityValidator) Validate(rc gateway.RequestContext) error {
	if !slices.Contains(v.supportedVersions, rc.APIVersion) {
		return gateway.NewBadRequest(gateway.CodeUnsupportedVersion,
			"API version "+rc.APIVersion+" is not supported")
	}
	if int64(len(rc.Body)) > v.maxBodyBytes {
		return gateway.NewPayloadTooLarge(v.maxBodyBytes)
	}
	if rc.Method != http.MethodGet && rc.Method != http.MethodHead && len(rc.Body) > 0 {
		ct := rc.ContentType()
		if ct == "" || !slices.Contains(v.contentTypes, ct) {
			return gateway.NewBadRequest(gateway.CodeUnsupportedMedia,
				"content type "+quoteOrNone(ct)+" is not accepted")
		}
	}
	return nil
}

func quoteOrNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return `"` + s + `"`
}
