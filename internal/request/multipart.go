package request

import (
	"mime"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/hanpama/gqlhttp/internal/httperr"
)

// parseMultipart implements the GraphQL multipart request convention: an
// "operations" field with null placeholders, a "map" field assigning file
// fields to placeholder paths, and one part per file.
func parseMultipart(r *http.Request, opt Options) (Parsed, error) {
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return Parsed{}, httperr.Parse(err, "invalid multipart content type")
	}
	boundary := params["boundary"]
	if boundary == "" {
		return Parsed{}, httperr.Parse(nil, "multipart content type has no boundary")
	}
	body, err := bodyReader(r, opt.MaxBodyBytes)
	if err != nil {
		return Parsed{}, err
	}
	defer body.Close()

	form, err := multipart.NewReader(body, boundary).ReadForm(opt.MaxUploadMemory)
	if err != nil {
		return Parsed{}, readError(err, opt.MaxBodyBytes)
	}
	parsed, err := assembleUploads(form)
	if err != nil {
		_ = form.RemoveAll()
		return Parsed{}, err
	}
	parsed.form = form
	return parsed, nil
}

func assembleUploads(form *multipart.Form) (Parsed, error) {
	opsField, err := singleField(form, "operations")
	if err != nil {
		return Parsed{}, err
	}
	mapField, err := singleField(form, "map")
	if err != nil {
		return Parsed{}, err
	}

	var operations any
	if err := json.Unmarshal([]byte(opsField), &operations); err != nil {
		return Parsed{}, httperr.Parse(err, "invalid JSON in multipart field \"operations\"")
	}
	var fileMap map[string][]string
	if err := json.Unmarshal([]byte(mapField), &fileMap); err != nil {
		return Parsed{}, httperr.Parse(err, "invalid JSON in multipart field \"map\"")
	}

	for _, field := range sortedMapKeys(fileMap) {
		files := form.File[field]
		if len(files) != 1 {
			return Parsed{}, httperr.Parse(nil, "missing file part %q", field)
		}
		upload := uploadFromHeader(files[0])
		for _, path := range fileMap[field] {
			if err := setPlaceholder(operations, path, upload); err != nil {
				return Parsed{}, httperr.Parse(err, "invalid upload path %q", path)
			}
		}
	}

	switch ops := operations.(type) {
	case map[string]any:
		p, err := paramsFromMap(ops)
		if err != nil {
			return Parsed{}, httperr.Parse(err, "invalid GraphQL parameters")
		}
		return Single(p), nil
	case []any:
		if len(ops) == 0 {
			return Parsed{}, httperr.Parse(nil, "batched operations is an empty array")
		}
		raw := make([]map[string]any, len(ops))
		for i, op := range ops {
			m, ok := op.(map[string]any)
			if !ok {
				return Parsed{}, httperr.Parse(nil, "batch element %d is not an object", i)
			}
			raw[i] = m
		}
		return fromMaps(raw)
	default:
		return Parsed{}, httperr.Parse(nil, "multipart field \"operations\" must be an object or array")
	}
}

func singleField(form *multipart.Form, name string) (string, error) {
	v := form.Value[name]
	if len(v) != 1 {
		return "", httperr.Parse(nil, "multipart request must contain exactly one %q field", name)
	}
	return v[0], nil
}

// setPlaceholder walks a dotted path ("variables.file", "0.variables.files.1")
// through decoded JSON and replaces the null found there with upload.
func setPlaceholder(root any, path string, upload *Upload) error {
	segs := strings.Split(path, ".")
	cur := root
	for i, seg := range segs {
		last := i == len(segs)-1
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return errors.Errorf("segment %q not found", seg)
			}
			if last {
				if v != nil {
					return errors.Errorf("segment %q is not a null placeholder", seg)
				}
				node[seg] = upload
				return nil
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return errors.Errorf("segment %q is not a valid index", seg)
			}
			if last {
				if node[idx] != nil {
					return errors.Errorf("index %d is not a null placeholder", idx)
				}
				node[idx] = upload
				return nil
			}
			cur = node[idx]
		default:
			return errors.Errorf("segment %q cannot be traversed", seg)
		}
	}
	return errors.New("empty path")
}

func sortedMapKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
