package request

import (
	"bytes"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"github.com/hanpama/gqlhttp/internal/httperr"
	"github.com/hanpama/gqlhttp/internal/mediatype"
)

// Built-in parser names.
const (
	ParserGETEventStream = "get-event-stream"
	ParserGET            = "get"
	ParserPOSTJSON       = "post-json"
	ParserPOSTGraphQL    = "post-graphql"
	ParserPOSTForm       = "post-form"
	ParserPOSTMultipart  = "post-multipart"
)

// Builtins returns the built-in parsers, most specific first.
func Builtins(opt Options) []Parser {
	if opt.MaxUploadMemory <= 0 {
		opt.MaxUploadMemory = defaultMaxUploadMemory
	}
	isGET := func(r *http.Request) bool { return r.Method == http.MethodGet }
	isPOST := func(r *http.Request, types ...mediatype.MediaType) bool {
		return r.Method == http.MethodPost && contentTypeIs(r, types...)
	}
	return []Parser{
		NewParser(ParserGETEventStream,
			func(r *http.Request) bool { return isGET(r) && acceptsEventStream(r) },
			parseGET),
		NewParser(ParserGET, isGET, parseGET),
		NewParser(ParserPOSTJSON,
			func(r *http.Request) bool {
				return isPOST(r, mediatype.JSON, mediatype.GraphQLResponseJSON)
			},
			func(r *http.Request) (Parsed, error) { return parseJSON(r, opt.MaxBodyBytes) }),
		NewParser(ParserPOSTGraphQL,
			func(r *http.Request) bool { return isPOST(r, mediatype.GraphQL) },
			func(r *http.Request) (Parsed, error) { return parseGraphQL(r, opt.MaxBodyBytes) }),
		NewParser(ParserPOSTForm,
			func(r *http.Request) bool { return isPOST(r, mediatype.FormURLEncoded) },
			func(r *http.Request) (Parsed, error) { return parseForm(r, opt.MaxBodyBytes) }),
		NewParser(ParserPOSTMultipart,
			func(r *http.Request) bool { return isPOST(r, mediatype.MultipartFormData) },
			func(r *http.Request) (Parsed, error) { return parseMultipart(r, opt) }),
	}
}

func parseGET(r *http.Request) (Parsed, error) {
	values, err := url.ParseQuery(r.URL.RawQuery)
	if err != nil {
		return Parsed{}, httperr.Parse(err, "invalid query string")
	}
	p, err := paramsFromValues(values)
	if err != nil {
		return Parsed{}, err
	}
	return Single(p), nil
}

func parseJSON(r *http.Request, limit int64) (Parsed, error) {
	body, err := readBody(r, limit)
	if err != nil {
		return Parsed{}, err
	}
	return decodeOperations(body)
}

// decodeOperations reads a JSON object (single operation) or a JSON array of
// objects (batch).
func decodeOperations(body []byte) (Parsed, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return Parsed{}, httperr.Parse(nil, "request body is empty")
	}
	switch body[0] {
	case '[':
		var raw []map[string]any
		if err := json.Unmarshal(body, &raw); err != nil {
			return Parsed{}, httperr.Parse(err, "batched request body must be an array of objects")
		}
		if len(raw) == 0 {
			return Parsed{}, httperr.Parse(nil, "batched request body is an empty array")
		}
		return fromMaps(raw)
	case '{':
		var raw map[string]any
		if err := json.Unmarshal(body, &raw); err != nil {
			return Parsed{}, httperr.Parse(err, "invalid JSON request body")
		}
		p, err := paramsFromMap(raw)
		if err != nil {
			return Parsed{}, httperr.Parse(err, "invalid GraphQL parameters")
		}
		return Single(p), nil
	default:
		return Parsed{}, httperr.Parse(nil, "request body must be a JSON object or array")
	}
}

func fromMaps(raw []map[string]any) (Parsed, error) {
	ops := make([]Params, len(raw))
	for i, m := range raw {
		if m == nil {
			return Parsed{}, httperr.Parse(nil, "batch element %d is not an object", i)
		}
		p, err := paramsFromMap(m)
		if err != nil {
			return Parsed{}, httperr.Parse(errors.Wrapf(err, "batch element %d", i), "invalid GraphQL parameters")
		}
		ops[i] = p
	}
	return Batch(ops...), nil
}

func parseGraphQL(r *http.Request, limit int64) (Parsed, error) {
	body, err := readBody(r, limit)
	if err != nil {
		return Parsed{}, err
	}
	return Single(Params{Query: string(body)}), nil
}

func parseForm(r *http.Request, limit int64) (Parsed, error) {
	body, err := readBody(r, limit)
	if err != nil {
		return Parsed{}, err
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return Parsed{}, httperr.Parse(err, "invalid form body")
	}
	p, err := paramsFromValues(values)
	if err != nil {
		return Parsed{}, err
	}
	return Single(p), nil
}

// getOneValue returns the single value of key; repeated keys are an error.
func getOneValue(values url.Values, key string) (string, error) {
	v := values[key]
	switch len(v) {
	case 0:
		return "", nil
	case 1:
		return v[0], nil
	default:
		return "", httperr.Parse(nil, "multiple values are provided to %q, but only one expected", key)
	}
}

func paramsFromValues(values url.Values) (Params, error) {
	var (
		p   Params
		err error
	)
	if p.Query, err = getOneValue(values, "query"); err != nil {
		return Params{}, err
	}
	if p.OperationName, err = getOneValue(values, "operationName"); err != nil {
		return Params{}, err
	}
	if p.Variables, err = jsonObjectValue(values, "variables"); err != nil {
		return Params{}, err
	}
	if p.Extensions, err = jsonObjectValue(values, "extensions"); err != nil {
		return Params{}, err
	}
	return p, nil
}

func jsonObjectValue(values url.Values, key string) (map[string]any, error) {
	s, err := getOneValue(values, key)
	if err != nil {
		return nil, err
	}
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return nil, nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, httperr.Parse(err, "%q must be a JSON object", key)
	}
	return obj, nil
}
