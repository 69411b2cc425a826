package gateway

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xpgateway/backend/internal/domain/gateway"
	"github.com/xpgateway/backend/internal/infrastructure/config"
)

func TestSecurityValidator_Validate(t *testing.T) {
	v := NewSecurityValidator(config.SecurityConfig{
		MaxBodyBytes:        16,
		AllowedContentTypes: []string{"application/json", "Multipart/Form-Data"},
	})

	tests := []struct {
		name     string
		rc       gateway.RequestContext
		wantCode string
	}{
		{
			name: "plain get",
			rc:   newRequest("GET", "/api/v2/orders", nil, nil),
		},
		{
			name: "default version",
			rc:   newRequest("GET", "/orders", nil, nil),
		},
		{
			name:     "unsupported version",
			rc:       newRequest("GET", "/api/v9/orders", nil, nil),
			wantCode: gateway.CodeUnsupportedVersion,
		},
		{
			name:     "body too large",
			rc:       newRequest("POST", "/api/v3/orders", map[string]string{"Content-Type": "application/json"}, []byte(strings.Repeat("x", 17))),
			wantCode: gateway.CodePayloadTooLarge,
		},
		{
			name: "json with charset",
			rc:   newRequest("POST", "/api/v3/orders", map[string]string{"Content-Type": "application/json; charset=utf-8"}, []byte(`{}`)),
		},
		{
			name: "configured types are case-insensitive",
			rc:   newRequest("PUT", "/api/v3/files", map[string]string{"Content-Type": "multipart/form-data; boundary=x"}, []byte(`--x`)),
		},
		{
			name:     "disallowed content type",
			rc:       newRequest("POST", "/api/v3/orders", map[string]string{"Content-Type": "text/xml"}, []byte(`<a/>`)),
			wantCode: gateway.CodeUnsupportedMedia,
		},
		{
			name:     "missing content type",
			rc:       newRequest("POST", "/api/v3/orders", nil, []byte(`{}`)),
			wantCode: gateway.CodeUnsupportedMedia,
		},
		{
			name: "bodyless post",
			rc:   newRequest("POST", "/api/v3/orders/1/cancel", nil, nil),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.rc)
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.wantCode, gateway.AsError(err).Code)
		})
	}
}

func TestSecurityValidator_Defaults(t *testing.T) {
	v := NewSecurityValidator(config.SecurityConfig{})
	assert.Equal(t, int64(10<<20), v.MaxBodyBytes())
	assert.NoError(t, v.Validate(newRequest("GET", "/api/v1/x", nil, nil)))
	assert.Error(t, v.Validate(newRequest("GET", "/api/v4/x", nil, nil)))
}
