package request

import (
	"io"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	"github.com/hanpama/gqlhttp/internal/httperr"
)

type gzipReadCloser struct {
	*gzip.Reader
	io.Closer
}

func (gz gzipReadCloser) Close() error {
	if err := gz.Reader.Close(); err != nil {
		return err
	}
	return gz.Closer.Close()
}

// bodyReader returns the request body, decompressed when the client sent
// Content-Encoding: gzip and capped at limit bytes when limit > 0.
func bodyReader(r *http.Request, limit int64) (io.ReadCloser, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return http.NoBody, nil
	}
	body := r.Body
	if strings.EqualFold(strings.TrimSpace(r.Header.Get("Content-Encoding")), "gzip") {
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			return nil, httperr.Parse(err, "unable to decode gzip request body")
		}
		body = gzipReadCloser{zr, r.Body}
	}
	if limit > 0 {
		body = http.MaxBytesReader(nil, body, limit)
	}
	return body, nil
}

// readBody reads the whole request body through bodyReader.
func readBody(r *http.Request, limit int64) ([]byte, error) {
	body, err := bodyReader(r, limit)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	b, err := io.ReadAll(body)
	if err != nil {
		return nil, readError(err, limit)
	}
	return b, nil
}

func readError(err error, limit int64) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return httperr.BodyTooLarge(limit)
	}
	return httperr.Parse(err, "failed to read request body")
}

func hasBody(r *http.Request) bool {
	if r.Body == nil || r.Body == http.NoBody {
		return false
	}
	return r.ContentLength != 0
}
