// Package request extracts GraphQL operations from HTTP requests.
//
// A Registry holds an ordered list of Parsers; the first one whose Match
// accepts the request parses it. The built-in parsers cover GET query
// strings, JSON bodies (single and batched), raw application/graphql bodies,
// urlencoded forms and the multipart file-upload convention.
package request

import (
	"bytes"
	"io"
	"mime/multipart"
	"sort"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Params is one GraphQL operation as sent by the client.
type Params struct {
	OperationName string         `json:"operationName,omitempty"`
	Query         string         `json:"query,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

// Parsed is the result of parsing one HTTP request: a single operation or an
// ordered batch.
type Parsed struct {
	Operations []Params
	Batched    bool

	form *multipart.Form
}

// Single wraps one operation.
func Single(p Params) Parsed { return Parsed{Operations: []Params{p}} }

// Batch wraps an ordered list of operations.
func Batch(ps ...Params) Parsed { return Parsed{Operations: ps, Batched: true} }

// Len returns the number of operations.
func (p Parsed) Len() int { return len(p.Operations) }

// Cleanup releases temporary files held for uploads. It is safe to call on
// any Parsed value.
func (p Parsed) Cleanup() error {
	if p.form == nil {
		return nil
	}
	return p.form.RemoveAll()
}

// Upload is a file-valued variable received through a multipart request.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64

	open func() (io.ReadCloser, error)
}

// NewUpload creates an in-memory upload, mostly useful to forward files.
func NewUpload(filename, contentType string, content []byte) *Upload {
	return &Upload{
		Filename:    filename,
		ContentType: contentType,
		Size:        int64(len(content)),
		open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(content)), nil
		},
	}
}

func uploadFromHeader(fh *multipart.FileHeader) *Upload {
	return &Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

// Open returns the upload content.
func (u *Upload) Open() (io.ReadCloser, error) {
	if u == nil || u.open == nil {
		return nil, errors.New("upload has no content")
	}
	return u.open()
}

// MarshalJSON encodes uploads as null, the placeholder used on the wire.
func (u *Upload) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// paramsFromMap converts a decoded JSON object into Params. Values that were
// replaced by uploads stay in place.
func paramsFromMap(m map[string]any) (Params, error) {
	var p Params
	for _, key := range sortedKeys(m) {
		v := m[key]
		switch key {
		case "query":
			s, ok := v.(string)
			if !ok && v != nil {
				return Params{}, errors.Errorf("expected \"query\" to be a string, got %T", v)
			}
			p.Query = s
		case "operationName":
			s, ok := v.(string)
			if !ok && v != nil {
				return Params{}, errors.Errorf("expected \"operationName\" to be a string, got %T", v)
			}
			p.OperationName = s
		case "variables":
			obj, ok := v.(map[string]any)
			if !ok && v != nil {
				return Params{}, errors.Errorf("expected \"variables\" to be an object, got %T", v)
			}
			p.Variables = obj
		case "extensions":
			obj, ok := v.(map[string]any)
			if !ok && v != nil {
				return Params{}, errors.Errorf("expected \"extensions\" to be an object, got %T", v)
			}
			p.Extensions = obj
		}
	}
	return p, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
