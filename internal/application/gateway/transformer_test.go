package gateway

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpgateway/backend/internal/domain/gateway"
)

func routed(rc gateway.RequestContext, route gateway.RouteInfo) gateway.RequestContext {
	return rc.WithRoute(route)
}

func TestTransformRequest_StageOrder(t *testing.T) {
	rc := newRequest("POST", "/api/v3/users/7/orders?debug=1&page=2", map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "Bearer secret",
		"X-Legacy":      "1",
	}, []byte(`{"qty":2,"customer":{"name":"ann"},"note":"x"}`))
	rc = rc.WithAuth(gateway.AuthResult{Kind: gateway.AuthJWT, UserID: "u1", Scopes: []string{"a", "b"}})
	rc = routed(rc, gateway.RouteInfo{
		Params: map[string]string{"user": "7"},
		Transformations: []gateway.Transformation{
			// declared out of stage order on purpose
			{Type: gateway.TransformSetQuery, Target: "page", Value: "1"},
			{Type: gateway.TransformRenameField, Target: "qty", Value: "quantity"},
			{Type: gateway.TransformStripPrefix, Target: "/api/v3"},
			{Type: gateway.TransformRemoveHeader, Target: "X-Legacy"},
			{Type: gateway.TransformAddPrefix, Target: "internal"},
			{Type: gateway.TransformSetHeader, Target: "X-Tenant", Value: "acme"},
			{Type: gateway.TransformRemoveField, Target: "note"},
			{Type: gateway.TransformSetField, Target: "customer.tier", Value: `"gold"`},
			{Type: gateway.TransformSetField, Target: "priority", Value: "3"},
			{Type: gateway.TransformRemoveQuery, Target: "debug"},
		},
		Middleware: []string{MiddlewareForwardIdentity, MiddlewareStripCredentials, MiddlewareAPIVersionHeader, MiddlewareRequestID},
	})

	out, err := NewTransformer().TransformRequest(rc)
	require.NoError(t, err)

	assert.Equal(t, "POST", out.Method)
	assert.Equal(t, "/internal/users/7/orders", out.Path)
	assert.Equal(t, map[string][]string{"page": {"1"}}, out.Query)

	assert.Empty(t, out.Headers.Get("X-Legacy"))
	assert.Empty(t, out.Headers.Get("Authorization"))
	assert.Equal(t, "acme", out.Headers.Get("X-Tenant"))
	assert.Equal(t, "u1", out.Headers.Get(HeaderUserID))
	assert.Equal(t, "jwt", out.Headers.Get(HeaderAuthKind))
	assert.Equal(t, "a,b", out.Headers.Get(HeaderUserScopes))
	assert.Equal(t, "v3", out.Headers.Get(HeaderAPIVersion))
	assert.Equal(t, "req-1", out.Headers.Get(HeaderRequestID))

	assert.JSONEq(t, `{"quantity":2,"customer":{"name":"ann","tier":"gold"},"priority":3}`, string(out.Body))
}

func TestTransformRequest_RewritePath(t *testing.T) {
	rc := routed(newRequest("GET", "/v1/accounts/42/files/a/b", nil, nil), gateway.RouteInfo{
		Params: map[string]string{"account": "42", "*": "a/b"},
		Transformations: []gateway.Transformation{
			{Type: gateway.TransformRewritePath, Value: "/storage/{account}/{*}"},
		},
	})
	out, err := NewTransformer().TransformRequest(rc)
	require.NoError(t, err)
	assert.Equal(t, "/storage/42/a/b", out.Path)
}

func TestTransformRequest_StripPrefixBoundaries(t *testing.T) {
	tests := []struct{ path, prefix, want string }{
		{"/api/orders", "/api", "/orders"},
		{"/api", "/api", "/"},
		{"/apix/orders", "/api", "/apix/orders"},
		{"/other", "api/", "/other"},
	}
	for _, tt := range tests {
		got := rewritePath(tt.path, gateway.Transformation{Type: gateway.TransformStripPrefix, Target: tt.prefix}, nil)
		assert.Equal(t, tt.want, got, tt.path)
	}
}

func TestTransformRequest_BodyRules(t *testing.T) {
	rules := []gateway.Transformation{{Type: gateway.TransformRemoveField, Target: "secret"}}

	// non-JSON bodies are untouched
	rc := routed(newRequest("POST", "/x", map[string]string{"Content-Type": "application/x-www-form-urlencoded"}, []byte("secret=1")),
		gateway.RouteInfo{Transformations: rules})
	out, err := NewTransformer().TransformRequest(rc)
	require.NoError(t, err)
	assert.Equal(t, "secret=1", string(out.Body))

	// a JSON array cannot be reshaped
	rc = routed(newRequest("POST", "/x", map[string]string{"Content-Type": "application/json"}, []byte(`[1,2]`)),
		gateway.RouteInfo{Transformations: rules})
	_, err = NewTransformer().TransformRequest(rc)
	require.Error(t, err)
	assert.Equal(t, gateway.CodeBadRequest, gateway.AsError(err).Code)
}

func TestTransformRequest_ConvertBody(t *testing.T) {
	route := gateway.RouteInfo{Transformations: []gateway.Transformation{
		{Type: gateway.TransformRemoveField, Target: "secret"},
		{Type: gateway.TransformConvertBody, Target: "order", Value: "xml"},
	}}
	rc := routed(newRequest("POST", "/x", map[string]string{
		"Content-Type":   "application/json; charset=utf-8",
		"Content-Length": "40",
	}, []byte(`{"sku":"a-1","qty":2,"secret":"s"}`)), route)

	out, err := NewTransformer().TransformRequest(rc)
	require.NoError(t, err)
	assert.Equal(t, `<?xml version="1.0" encoding="UTF-8"?>`+"\n"+`<order><qty>2</qty><sku>a-1</sku></order>`, string(out.Body))
	assert.Equal(t, "application/xml", out.Headers.Get("Content-Type"))
	assert.Empty(t, out.Headers.Get("Content-Length"))

	// a body of unknown type cannot be converted
	rc = routed(newRequest("POST", "/x", map[string]string{"Content-Type": "application/octet-stream"}, []byte{0x01}), route)
	_, err = NewTransformer().TransformRequest(rc)
	require.Error(t, err)
	assert.Equal(t, gateway.CodeBadRequest, gateway.AsError(err).Code)

	// nothing to convert
	rc = routed(newRequest("GET", "/x", nil, nil), route)
	out, err = NewTransformer().TransformRequest(rc)
	require.NoError(t, err)
	assert.Empty(t, out.Body)
}

func TestTransformResponse_ConvertBody(t *testing.T) {
	rc := routed(newRequest("GET", "/x", nil, nil), gateway.RouteInfo{
		Transformations: []gateway.Transformation{{Type: gateway.TransformConvertResponse, Value: "csv"}},
	})
	upstream := gateway.Response{
		Status:  http.StatusOK,
		Headers: http.Header{"Content-Type": {"application/json"}},
		Body:    []byte(`[{"id":1,"name":"ann"},{"id":2,"name":"bo"}]`),
	}

	out := NewTransformer().TransformResponse(rc, upstream)
	assert.Equal(t, "id,name\n1,ann\n2,bo\n", string(out.Body))
	assert.Equal(t, "text/csv", out.Headers.Get("Content-Type"))

	// errors keep the upstream body
	upstream.Status = http.StatusBadGateway
	out = NewTransformer().TransformResponse(rc, upstream)
	assert.Equal(t, string(upstream.Body), string(out.Body))
	assert.Equal(t, "application/json", out.Headers.Get("Content-Type"))
}

func TestTransformRequest_ForwardIdentityDropsSpoofedHeaders(t *testing.T) {
	rc := newRequest("GET", "/x", map[string]string{"X-User-ID": "admin"}, nil)
	rc = rc.WithAuth(gateway.PublicResult())
	rc = routed(rc, gateway.RouteInfo{Middleware: []string{MiddlewareForwardIdentity}})

	out, err := NewTransformer().TransformRequest(rc)
	require.NoError(t, err)
	assert.Empty(t, out.Headers.Get(HeaderUserID))
}

func TestTransformRequest_StripCredentialsQuery(t *testing.T) {
	rc := routed(newRequest("GET", "/x?api_key=gk_1&q=a", map[string]string{"X-API-Key": "gk_1"}, nil),
		gateway.RouteInfo{Middleware: []string{MiddlewareStripCredentials}})

	out, err := NewTransformer().TransformRequest(rc)
	require.NoError(t, err)
	assert.Empty(t, out.Headers.Get("X-API-Key"))
	assert.Equal(t, map[string][]string{"q": {"a"}}, out.Query)
}

func TestTransformResponse(t *testing.T) {
	rc := routed(newRequest("GET", "/x", nil, nil), gateway.RouteInfo{
		Transformations: []gateway.Transformation{
			{Type: gateway.TransformResponseHeader, Target: "Cache-Control", Value: "no-store"},
			{Type: gateway.TransformResponseRemove, Target: "Server"},
		},
	})
	upstream := gateway.Response{
		Status:  http.StatusOK,
		Headers: http.Header{"Server": {"nginx"}, "Content-Type": {"application/json"}},
		Body:    []byte(`{}`),
	}

	out := NewTransformer().TransformResponse(rc, upstream)
	assert.Equal(t, http.StatusOK, out.Status)
	assert.Equal(t, "no-store", out.Headers.Get("Cache-Control"))
	assert.Empty(t, out.Headers.Get("Server"))
	assert.Equal(t, gateway.Version, out.Headers.Get(HeaderGatewayVersion))
	assert.Equal(t, "req-1", out.Headers.Get(HeaderRequestID))
	assert.Equal(t, "nginx", upstream.Headers.Get("Server"), "upstream headers are not mutated")
}

func TestIsKnownMiddleware(t *testing.T) {
	for _, name := range []string{"forward_identity", "strip_credentials", "api_version_header", "request_id"} {
		assert.True(t, IsKnownMiddleware(name), name)
	}
	assert.False(t, IsKnownMiddleware("gzip"))
}
