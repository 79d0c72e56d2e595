package result

import (
	"net/http"

	"github.com/vektah/gqlparser/v2/gqlerror"
)

// HTTPExtension is the error extension key describing how an error maps to
// the HTTP response: {"status": int, "spec": bool, "headers": {name: value}}.
// spec marks statuses mandated by the GraphQL over HTTP specification, which
// legacy application/json clients do not expect.
const HTTPExtension = "http"

// Extension codes set by the HTTP layer.
const (
	CodeParseFailed           = "GRAPHQL_PARSE_FAILED"
	CodeValidationFailed      = "GRAPHQL_VALIDATION_FAILED"
	CodeIntrospectionDisabled = "INTROSPECTION_DISABLED"
	CodeInternal              = "INTERNAL_SERVER_ERROR"
)

// TagHTTP records status on err. It overwrites any previous tag.
func TagHTTP(err *gqlerror.Error, status int, spec bool) *gqlerror.Error {
	if err.Extensions == nil {
		err.Extensions = map[string]any{}
	}
	ext, _ := err.Extensions[HTTPExtension].(map[string]any)
	if ext == nil {
		ext = map[string]any{}
	}
	ext["status"] = status
	if spec {
		ext["spec"] = true
	} else {
		delete(ext, "spec")
	}
	err.Extensions[HTTPExtension] = ext
	return err
}

// SetCode sets extensions.code unless err already has one.
func SetCode(err *gqlerror.Error, code string) *gqlerror.Error {
	if err.Extensions == nil {
		err.Extensions = map[string]any{}
	}
	if _, ok := err.Extensions["code"]; !ok {
		err.Extensions["code"] = code
	}
	return err
}

// HTTPStatus returns the status tagged on err and whether it is a spec
// status. It returns 0 when err carries no tag.
func HTTPStatus(err *gqlerror.Error) (status int, spec bool) {
	if err == nil {
		return 0, false
	}
	ext, ok := err.Extensions[HTTPExtension].(map[string]any)
	if !ok {
		return 0, false
	}
	switch v := ext["status"].(type) {
	case int:
		status = v
	case int64:
		status = int(v)
	case float64:
		status = int(v)
	}
	spec, _ = ext["spec"].(bool)
	return status, spec
}

// HTTPHeaders returns the response headers requested by err.
func HTTPHeaders(err *gqlerror.Error) http.Header {
	if err == nil {
		return nil
	}
	ext, ok := err.Extensions[HTTPExtension].(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := ext["headers"].(map[string]any)
	if !ok || len(raw) == 0 {
		return nil
	}
	h := http.Header{}
	for name, v := range raw {
		switch vv := v.(type) {
		case string:
			h.Add(name, vv)
		case []string:
			for _, s := range vv {
				h.Add(name, s)
			}
		case []any:
			for _, s := range vv {
				if str, ok := s.(string); ok {
					h.Add(name, str)
				}
			}
		}
	}
	return h
}
