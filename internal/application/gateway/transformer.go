package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/xpgateway/backend/internal/domain/gateway"
)

// Named middleware a route may list
const (
	MiddlewareForwardIdentity  = "forward_identity"
	MiddlewareStripCredentials = "strip_credentials"
	MiddlewareAPIVersionHeader = "api_version_header"
	MiddlewareRequestID        = "request_id"
)

// Headers the gateway writes on outbound requests and client responses
const (
	HeaderRequestID      = "X-Request-ID"
	HeaderGatewayVersion = "X-Gateway-Version"
	HeaderAPIVersion     = "X-API-Version"
	HeaderUserID         = "X-User-ID"
	HeaderAuthKind       = "X-Auth-Kind"
	HeaderUserScopes     = "X-User-Scopes"
)

type requestMiddleware func(rc gateway.RequestContext, out *gateway.TransformedRequest)

var requestMiddlewares = map[string]requestMiddleware{
	MiddlewareForwardIdentity:  forwardIdentity,
	MiddlewareStripCredentials: stripCredentials,
	MiddlewareAPIVersionHeader: func(rc gateway.RequestContext, out *gateway.TransformedRequest) {
		out.Headers.Set(HeaderAPIVersion, rc.APIVersion)
	},
	MiddlewareRequestID: func(rc gateway.RequestContext, out *gateway.TransformedRequest) {
		out.Headers.Set(HeaderRequestID, rc.RequestID)
	},
}

// IsKnownMiddleware reports whether a route may reference name
func IsKnownMiddleware(name string) bool {
	_, ok := requestMiddlewares[name]
	return ok
}

// Transformer rewrites requests before execution and responses after it.
// It is stateless.
type Transformer struct{}

// NewTransformer creates a transformer
func NewTransformer() *Transformer {
	return &Transformer{}
}

// TransformRequest applies the route's rules to rc in stage order (path,
// header, body, query) and then its middleware chain. rc must carry a route.
func (t *Transformer) TransformRequest(rc gateway.RequestContext) (gateway.TransformedRequest, error) {
	out := gateway.TransformedRequest{
		Method:  rc.Method,
		Path:    rc.Path,
		Headers: make(http.Header, len(rc.Headers)),
		Body:    rc.Body,
		Query:   make(map[string][]string, len(rc.Query)),
	}
	for name, value := range rc.Headers {
		out.Headers.Set(name, value)
	}
	for name, values := range rc.Query {
		out.Query[name] = append([]string(nil), values...)
	}
	if rc.Route == nil {
		return out, nil
	}
	route := rc.Route

	for _, stage := range []gateway.TransformStage{gateway.StagePath, gateway.StageHeader, gateway.StageBody, gateway.StageQuery} {
		var (
			fields  []gateway.Transformation
			convert *gateway.Transformation
		)
		for _, tr := range route.Transformations {
			if tr.Type.Stage() != stage {
				continue
			}
			switch stage {
			case gateway.StagePath:
				out.Path = rewritePath(out.Path, tr, route.Params)
			case gateway.StageHeader:
				rewriteHeader(out.Headers, tr)
			case gateway.StageBody:
				if tr.Type == gateway.TransformConvertBody {
					convert = &tr
					continue
				}
				fields = append(fields, tr)
			case gateway.StageQuery:
				rewriteQuery(out.Query, tr)
			}
		}
		if len(fields) > 0 {
			body, err := reshapeBody(rc, out.Body, fields)
			if err != nil {
				return gateway.TransformedRequest{}, err
			}
			out.Body = body
		}
		if convert != nil {
			if err := convertRequestBody(rc, &out, *convert); err != nil {
				return gateway.TransformedRequest{}, err
			}
		}
	}

	for _, name := range route.Middleware {
		if mw, ok := requestMiddlewares[name]; ok {
			mw(rc, &out)
		}
	}
	if out.Body != nil && len(out.Body) != len(rc.Body) {
		out.Headers.Del("Content-Length")
	}
	return out, nil
}

// TransformResponse applies the route's response rules and the gateway headers
func (t *Transformer) TransformResponse(rc gateway.RequestContext, resp gateway.Response) gateway.Response {
	out := gateway.Response{Status: resp.Status, Body: resp.Body, Headers: resp.Headers.Clone()}
	if out.Headers == nil {
		out.Headers = http.Header{}
	}
	if rc.Route != nil {
		for _, tr := range rc.Route.Transformations {
			switch tr.Type {
			case gateway.TransformResponseHeader:
				out.Headers.Set(tr.Target, tr.Value)
			case gateway.TransformResponseRemove:
				out.Headers.Del(tr.Target)
			case gateway.TransformConvertResponse:
				convertResponseBody(&out, tr)
			}
		}
	}
	out.Headers.Set(HeaderGatewayVersion, gateway.Version)
	out.Headers.Set(HeaderRequestID, rc.RequestID)
	return out
}

func rewritePath(path string, tr gateway.Transformation, params map[string]string) string {
	switch tr.Type {
	case gateway.TransformStripPrefix:
		prefix := "/" + strings.Trim(tr.Target, "/")
		if rest, ok := strings.CutPrefix(path, prefix); ok && (rest == "" || rest[0] == '/') {
			path = rest
		}
	case gateway.TransformAddPrefix:
		path = "/" + strings.Trim(tr.Target, "/") + path
	case gateway.TransformRewritePath:
		tpl := tr.Value
		if tpl == "" {
			tpl = tr.Target
		}
		pairs := make([]string, 0, 2*len(params))
		for name, value := range params {
			pairs = append(pairs, "{"+name+"}", value)
		}
		path = strings.NewReplacer(pairs...).Replace(tpl)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

func rewriteHeader(h http.Header, tr gateway.Transformation) {
	switch tr.Type {
	case gateway.TransformSetHeader:
		h.Set(tr.Target, tr.Value)
	case gateway.TransformRemoveHeader:
		h.Del(tr.Target)
	}
}

func rewriteQuery(q map[string][]string, tr gateway.Transformation) {
	switch tr.Type {
	case gateway.TransformSetQuery:
		q[tr.Target] = []string{tr.Value}
	case gateway.TransformRemoveQuery:
		delete(q, tr.Target)
	}
}

// reshapeBody applies field rules to a JSON object body. Targets are dotted
// paths; rename_field moves Target to Value. Non-JSON and empty bodies pass
// through untouched.
func reshapeBody(rc gateway.RequestContext, body []byte, rules []gateway.Transformation) ([]byte, error) {
	if len(bytes.TrimSpace(body)) == 0 || !isJSON(rc.ContentType()) {
		return body, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, gateway.NewBadRequest(gateway.CodeBadRequest, "request body is not a JSON object")
	}
	for _, tr := range rules {
		switch tr.Type {
		case gateway.TransformRenameField:
			if v, ok := removeField(doc, tr.Target); ok {
				setField(doc, tr.Value, v)
			}
		case gateway.TransformRemoveField:
			removeField(doc, tr.Target)
		case gateway.TransformSetField:
			setField(doc, tr.Target, literal(tr.Value))
		}
	}
	return json.Marshal(doc)
}

// convertRequestBody re-encodes a non-empty body from its declared content
// type into the format named by tr.Value
func convertRequestBody(rc gateway.RequestContext, out *gateway.TransformedRequest, tr gateway.Transformation) error {
	if len(bytes.TrimSpace(out.Body)) == 0 {
		return nil
	}
	to, err := ParseBodyFormat(tr.Value)
	if err != nil {
		return err
	}
	from, ok := FormatFromContentType(rc.ContentType())
	if !ok {
		return gateway.NewBadRequest(gateway.CodeBadRequest, "request body format cannot be converted")
	}
	body, err := ConvertBody(out.Body, from, to, tr.Target)
	if err != nil {
		return gateway.NewBadRequest(gateway.CodeBadRequest, "request body cannot be converted to "+string(to))
	}
	out.Body = body
	out.Headers.Set("Content-Type", to.ContentType())
	out.Headers.Del("Content-Length")
	return nil
}

// convertResponseBody re-encodes successful responses only. Bodies that
// cannot be converted are passed through unchanged.
func convertResponseBody(out *gateway.Response, tr gateway.Transformation) {
	if out.Status < http.StatusOK || out.Status >= http.StatusMultipleChoices || len(bytes.TrimSpace(out.Body)) == 0 {
		return
	}
	to, err := ParseBodyFormat(tr.Value)
	if err != nil {
		return
	}
	from, ok := FormatFromContentType(mediaType(out.Headers.Get("Content-Type")))
	if !ok {
		return
	}
	body, err := ConvertBody(out.Body, from, to, tr.Target)
	if err != nil {
		return
	}
	out.Body = body
	out.Headers.Set("Content-Type", to.ContentType())
	out.Headers.Del("Content-Length")
}

func mediaType(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

func isJSON(contentType string) bool {
	return contentType == "application/json" || strings.HasSuffix(contentType, "+json")
}

// literal decodes v as JSON when it is valid JSON and keeps it a string otherwise
func literal(v string) any {
	var decoded any
	if err := json.Unmarshal([]byte(v), &decoded); err == nil {
		return decoded
	}
	return v
}

func removeField(doc map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	m := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			return nil, false
		}
		m = next
	}
	last := parts[len(parts)-1]
	v, ok := m[last]
	if ok {
		delete(m, last)
	}
	return v, ok
}

func setField(doc map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	m := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[p] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = value
}

func forwardIdentity(rc gateway.RequestContext, out *gateway.TransformedRequest) {
	// callers cannot assert an identity of their own
	out.Headers.Del(HeaderUserID)
	out.Headers.Del(HeaderAuthKind)
	out.Headers.Del(HeaderUserScopes)
	if rc.Auth == nil || rc.Auth.IsAnonymous() {
		return
	}
	out.Headers.Set(HeaderUserID, rc.Auth.UserID)
	out.Headers.Set(HeaderAuthKind, string(rc.Auth.Kind))
	if len(rc.Auth.Scopes) > 0 {
		out.Headers.Set(HeaderUserScopes, strings.Join(rc.Auth.Scopes, ","))
	}
}

func stripCredentials(_ gateway.RequestContext, out *gateway.TransformedRequest) {
	out.Headers.Del("Authorization")
	out.Headers.Del("X-API-Key")
	delete(out.Query, "api_key")
}
