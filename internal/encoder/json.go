package encoder

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	mediatype "github.com/hanpama/gqlhttp/internal/mediatype"
	result "github.com/hanpama/gqlhttp/internal/result"
)

// JSON writes synchronous results as one JSON document, or a JSON array for
// batches.
type JSON struct {
	Pretty bool
	Gzip   bool
}

var jsonMediaTypes = []mediatype.MediaType{mediatype.GraphQLResponseJSON, mediatype.JSON}

func (*JSON) MediaTypes() []mediatype.MediaType { return jsonMediaTypes }
func (*JSON) Streaming() bool                   { return false }

func (e *JSON) Encode(w http.ResponseWriter, r *http.Request, resp result.Response, mt mediatype.MediaType) error {
	defer resp.Close()

	results := make([]*result.ExecutionResult, len(resp.Outcomes))
	for i, o := range resp.Outcomes {
		if o.Stream != nil {
			return errors.New("json encoder cannot write a streamed result")
		}
		results[i] = o.Result
	}
	var v any = results
	if !resp.Batched {
		if len(results) != 1 {
			return errors.Errorf("single response needs exactly one result, got %d", len(results))
		}
		v = results[0]
	}
	body, err := e.marshal(v)
	if err != nil {
		return errors.Wrap(err, "encode result")
	}

	legacy := mt == mediatype.JSON
	status, extra := statusAndHeaders(results, legacy)
	h := w.Header()
	for name, values := range extra {
		for _, value := range values {
			h.Add(name, value)
		}
	}
	h.Set("Content-Type", mt.String()+"; charset=utf-8")

	if e.Gzip && acceptsGzip(r) {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			return errors.Wrap(err, "compress result")
		}
		if err := zw.Close(); err != nil {
			return errors.Wrap(err, "compress result")
		}
		body = buf.Bytes()
		h.Set("Content-Encoding", "gzip")
		h.Add("Vary", "Accept-Encoding")
	}
	h.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	_, err = w.Write(body)
	return err
}

func (e *JSON) marshal(v any) ([]byte, error) {
	if e.Pretty {
		return json.MarshalIndent(v, "", "  ")
	}
	return json.Marshal(v)
}

// statusAndHeaders computes the response status: 200 unless an error carries
// extensions.http.status, in which case the highest such status wins.
// Statuses tagged as spec statuses are ignored for legacy clients.
func statusAndHeaders(results []*result.ExecutionResult, legacy bool) (int, http.Header) {
	status := 0
	var h http.Header
	for _, res := range results {
		if res == nil {
			continue
		}
		for _, ge := range res.Errors {
			s, spec := result.HTTPStatus(ge)
			if s != 0 && s < 100 {
				continue
			}
			if spec && legacy {
				continue
			}
			if s > status && s < 600 {
				status = s
			}
			for name, values := range result.HTTPHeaders(ge) {
				if h == nil {
					h = http.Header{}
				}
				h[name] = append(h[name], values...)
			}
		}
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, h
}

func acceptsGzip(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		if enc, _, _ := strings.Cut(strings.TrimSpace(part), ";"); strings.EqualFold(enc, "gzip") {
			return true
		}
	}
	return false
}
