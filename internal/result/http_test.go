package result

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

func TestTagHTTP(t *testing.T) {
	err := gqlerror.Errorf("bad")
	status, spec := HTTPStatus(err)
	require.Zero(t, status)
	require.False(t, spec)

	TagHTTP(err, http.StatusBadRequest, true)
	status, spec = HTTPStatus(err)
	require.Equal(t, http.StatusBadRequest, status)
	require.True(t, spec)

	TagHTTP(err, http.StatusUnauthorized, false)
	status, spec = HTTPStatus(err)
	require.Equal(t, http.StatusUnauthorized, status)
	require.False(t, spec)
}

func TestHTTPStatusFromDecodedJSON(t *testing.T) {
	err := &gqlerror.Error{Message: "x", Extensions: map[string]any{
		"http": map[string]any{"status": float64(401), "headers": map[string]any{
			"WWW-Authenticate": "Bearer",
			"X-Multi":          []any{"a", "b"},
		}},
	}}
	status, _ := HTTPStatus(err)
	require.Equal(t, 401, status)

	h := HTTPHeaders(err)
	require.Equal(t, "Bearer", h.Get("WWW-Authenticate"))
	require.Equal(t, []string{"a", "b"}, h.Values("X-Multi"))
}

func TestSetCodeKeepsExisting(t *testing.T) {
	err := &gqlerror.Error{Message: "x", Extensions: map[string]any{"code": "MINE"}}
	SetCode(err, CodeInternal)
	require.Equal(t, "MINE", err.Extensions["code"])
	require.Equal(t, CodeParseFailed, SetCode(gqlerror.Errorf("y"), CodeParseFailed).Extensions["code"])
}
