package request

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// NewGET builds a GET request carrying p in the query string of target.
func NewGET(ctx context.Context, target string, p Params) (*http.Request, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, errors.Wrap(err, "parse target")
	}
	values, err := toValues(p)
	if err != nil {
		return nil, err
	}
	u.RawQuery = values.Encode()
	return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
}

// NewJSON builds an application/json POST request. Batched values are sent
// as a JSON array.
func NewJSON(ctx context.Context, target string, parsed Parsed) (*http.Request, error) {
	var v any = parsed.Operations
	if !parsed.Batched {
		if len(parsed.Operations) != 1 {
			return nil, errors.Errorf("single request needs exactly one operation, got %d", len(parsed.Operations))
		}
		v = parsed.Operations[0]
	}
	body, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encode operations")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// NewGraphQL builds an application/graphql POST request. Only the query
// travels in this shape.
func NewGraphQL(ctx context.Context, target, query string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(query))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/graphql")
	return req, nil
}

// NewForm builds an application/x-www-form-urlencoded POST request.
func NewForm(ctx context.Context, target string, p Params) (*http.Request, error) {
	values, err := toValues(p)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

// NewMultipart builds a multipart/form-data POST request following the
// GraphQL multipart request convention. Every *Upload found in variables is
// replaced by null and sent as its own file part.
func NewMultipart(ctx context.Context, target string, parsed Parsed) (*http.Request, error) {
	var (
		ops     = make([]Params, len(parsed.Operations))
		uploads []*Upload
		fileMap = map[string][]string{}
	)
	for i, p := range parsed.Operations {
		prefix := "variables"
		if parsed.Batched {
			prefix = strconv.Itoa(i) + ".variables"
		}
		vars := collectUploads(p.Variables, prefix, func(path string, u *Upload) {
			key := strconv.Itoa(len(uploads))
			uploads = append(uploads, u)
			fileMap[key] = []string{path}
		})
		ops[i] = p
		if vars != nil {
			ops[i].Variables = vars.(map[string]any)
		}
	}

	var operations any = ops
	if !parsed.Batched {
		if len(ops) != 1 {
			return nil, errors.Errorf("single request needs exactly one operation, got %d", len(ops))
		}
		operations = ops[0]
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := writeJSONField(mw, "operations", operations); err != nil {
		return nil, err
	}
	if err := writeJSONField(mw, "map", fileMap); err != nil {
		return nil, err
	}
	for i, u := range uploads {
		if err := writeFilePart(mw, strconv.Itoa(i), u); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, errors.Wrap(err, "close multipart body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req, nil
}

// HasUploads reports whether any operation carries an *Upload variable.
func HasUploads(parsed Parsed) bool {
	found := false
	for _, p := range parsed.Operations {
		collectUploads(p.Variables, "", func(string, *Upload) { found = true })
	}
	return found
}

// collectUploads returns a copy of v where uploads are replaced by nil,
// reporting each replaced upload with its dotted path. Maps are visited in
// key order so paths are deterministic.
func collectUploads(v any, path string, visit func(string, *Upload)) any {
	switch node := v.(type) {
	case *Upload:
		visit(path, node)
		return nil
	case map[string]any:
		if node == nil {
			return nil
		}
		out := make(map[string]any, len(node))
		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out[k] = collectUploads(node[k], path+"."+k, visit)
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, e := range node {
			out[i] = collectUploads(e, path+"."+strconv.Itoa(i), visit)
		}
		return out
	default:
		return v
	}
}

func writeJSONField(mw *multipart.Writer, name string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s", name)
	}
	return errors.Wrapf(mw.WriteField(name, string(b)), "write %s", name)
}

func writeFilePart(mw *multipart.Writer, field string, u *Upload) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+escapeQuotes(u.Filename)+`"`)
	ct := u.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)
	w, err := mw.CreatePart(h)
	if err != nil {
		return errors.Wrap(err, "create file part")
	}
	rc, err := u.Open()
	if err != nil {
		return errors.Wrapf(err, "open upload %q", u.Filename)
	}
	defer rc.Close()
	_, err = io.Copy(w, rc)
	return errors.Wrapf(err, "copy upload %q", u.Filename)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string { return quoteEscaper.Replace(s) }

func toValues(p Params) (url.Values, error) {
	values := url.Values{}
	if p.Query != "" {
		values.Set("query", p.Query)
	}
	if p.OperationName != "" {
		values.Set("operationName", p.OperationName)
	}
	if p.Variables != nil {
		b, err := json.Marshal(p.Variables)
		if err != nil {
			return nil, errors.Wrap(err, "encode variables")
		}
		values.Set("variables", string(b))
	}
	if p.Extensions != nil {
		b, err := json.Marshal(p.Extensions)
		if err != nil {
			return nil, errors.Wrap(err, "encode extensions")
		}
		values.Set("extensions", string(b))
	}
	return values, nil
}
