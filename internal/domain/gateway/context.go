package gateway

import (
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Version is the gateway version advertised in the X-Gateway-Version header
const Version = "3.0.0"

// DefaultAPIVersion is used when the path carries no /vN/ segment
const DefaultAPIVersion = "v3"

var versionPattern = regexp.MustCompile(`/v(\d+)/`)

// RequestContext is the per-request record threaded through the pipeline.
// Stages never mutate it; WithAuth and WithRoute return enriched copies.
type RequestContext struct {
	RequestID  string
	ReceivedAt time.Time
	Method     string
	Path       string
	// Headers holds lower-cased header names with their first value
	Headers    map[string]string
	Body       []byte
	Query      url.Values
	APIVersion string
	ClientIP   string
	UserAgent  string

	Auth  *AuthResult
	Route *RouteInfo
}

// RequestContextBuilder assembles a RequestContext from an inbound request.
type RequestContextBuilder struct {
	rc RequestContext
}

// NewRequestContextBuilder starts a builder for the given request id and arrival time
func NewRequestContextBuilder(requestID string, receivedAt time.Time) *RequestContextBuilder {
	return &RequestContextBuilder{rc: RequestContext{
		RequestID:  requestID,
		ReceivedAt: receivedAt,
		Headers:    map[string]string{},
		Query:      url.Values{},
	}}
}

// Method sets the upper-cased HTTP method
func (b *RequestContextBuilder) Method(method string) *RequestContextBuilder {
	b.rc.Method = strings.ToUpper(method)
	return b
}

// Path sets the request path and derives the API version from it
func (b *RequestContextBuilder) Path(path string) *RequestContextBuilder {
	if path == "" {
		path = "/"
	}
	b.rc.Path = path
	b.rc.APIVersion = ExtractAPIVersion(path)
	return b
}

// Headers copies the header set, lower-casing every name
func (b *RequestContextBuilder) Headers(h http.Header) *RequestContextBuilder {
	for name, values := range h {
		if len(values) == 0 {
			continue
		}
		b.rc.Headers[strings.ToLower(name)] = values[0]
	}
	b.rc.UserAgent = b.rc.Headers["user-agent"]
	return b
}

// Body sets the raw request body
func (b *RequestContextBuilder) Body(body []byte) *RequestContextBuilder {
	b.rc.Body = body
	return b
}

// Query sets the query parameters
func (b *RequestContextBuilder) Query(q url.Values) *RequestContextBuilder {
	if q != nil {
		b.rc.Query = q
	}
	return b
}

// ClientIP records the caller address as resolved by the transport. Forwarding
// headers are not consulted here; the HTTP layer only honours them for
// trusted proxies. A port suffix is dropped.
func (b *RequestContextBuilder) ClientIP(addr string) *RequestContextBuilder {
	b.rc.ClientIP = normalizeClientIP(addr)
	return b
}

// Build returns the finished context
func (b *RequestContextBuilder) Build() RequestContext {
	if b.rc.APIVersion == "" {
		b.rc.APIVersion = DefaultAPIVersion
	}
	return b.rc
}

// WithAuth returns a copy carrying the authentication result
func (rc RequestContext) WithAuth(auth AuthResult) RequestContext {
	rc.Auth = &auth
	return rc
}

// WithRoute returns a copy carrying the resolved route
func (rc RequestContext) WithRoute(route RouteInfo) RequestContext {
	rc.Route = &route
	return rc
}

// Header returns a header value by case-insensitive name
func (rc RequestContext) Header(name string) string {
	return rc.Headers[strings.ToLower(name)]
}

// ContentType returns the media type without parameters
func (rc RequestContext) ContentType() string {
	ct := rc.Header("content-type")
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// Principal returns the identity used for per-caller keys: the user id when
// authenticated, the client IP otherwise.
func (rc RequestContext) Principal() string {
	if rc.Auth != nil && !rc.Auth.IsAnonymous() {
		return rc.Auth.UserID
	}
	return rc.ClientIP
}

// ExtractAPIVersion returns "vN" for the first /vN/ segment of path, or the default
func ExtractAPIVersion(path string) string {
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	m := versionPattern.FindStringSubmatch(path)
	if len(m) < 2 {
		return DefaultAPIVersion
	}
	return "v" + m[1]
}

func normalizeClientIP(addr string) string {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	if addr != "" {
		return addr
	}
	return "127.0.0.1"
}
