package upstream

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"mime"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	result "github.com/hanpama/gqlhttp/internal/result"
)

// multipartStream reads an incremental delivery multipart/mixed body. Parts
// with a Content-Length are returned as soon as their body arrived; parts
// without one end at the first line that completes a JSON value.
type multipartStream struct {
	body      io.ReadCloser
	br        *bufio.Reader
	delimiter string
	once      sync.Once
}

func newMultipartStream(resp *http.Response) (*multipartStream, error) {
	_, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, errors.Wrap(err, "upstream multipart content type")
	}
	boundary := params["boundary"]
	if boundary == "" {
		boundary = "-"
	}
	return &multipartStream{
		body:      resp.Body,
		br:        bufio.NewReader(resp.Body),
		delimiter: "--" + boundary,
	}, nil
}

func (s *multipartStream) Next(ctx context.Context) (*result.ExecutionResult, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.skipToPart(); err != nil {
			return nil, err
		}
		header, err := textproto.NewReader(s.br).ReadMIMEHeader()
		if err != nil {
			return nil, errors.Wrap(err, "read upstream part header")
		}
		body, err := s.readPartBody(header)
		if err != nil {
			return nil, err
		}
		body = bytes.TrimSpace(body)
		if len(body) == 0 || string(body) == "{}" {
			continue
		}
		var res result.ExecutionResult
		if err := json.Unmarshal(body, &res); err != nil {
			return nil, errors.Wrap(err, "decode upstream part")
		}
		return &res, nil
	}
}

// skipToPart consumes input up to and including the next delimiter line. It
// returns io.EOF at the closing delimiter or the end of the body.
func (s *multipartStream) skipToPart() error {
	for {
		line, err := s.br.ReadString('\n')
		trimmed := strings.TrimRight(line, " \t\r\n")
		switch trimmed {
		case s.delimiter + "--":
			return io.EOF
		case s.delimiter:
			if err == nil {
				return nil
			}
		}
		if err == io.EOF {
			return io.EOF
		}
		if err != nil {
			return errors.Wrap(err, "read upstream multipart body")
		}
	}
}

func (s *multipartStream) readPartBody(header textproto.MIMEHeader) ([]byte, error) {
	if cl := header.Get("Content-Length"); cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 {
			return nil, errors.Errorf("invalid part Content-Length %q", cl)
		}
		body := make([]byte, n)
		if _, err := io.ReadFull(s.br, body); err != nil {
			return nil, errors.Wrap(err, "read upstream part")
		}
		return body, nil
	}
	var body []byte
	for {
		line, err := s.br.ReadString('\n')
		if strings.HasPrefix(line, s.delimiter) {
			return nil, errors.New("upstream part is not a complete JSON value")
		}
		body = append(body, line...)
		if json.Valid(bytes.TrimSpace(body)) {
			return body, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, "read upstream part")
		}
	}
}

func (s *multipartStream) Close() error {
	var err error
	s.once.Do(func() { err = s.body.Close() })
	return err
}

// sseStream reads a text/event-stream body. "next" events and events without
// a name carry results; a "complete" event ends the stream.
type sseStream struct {
	body io.ReadCloser
	br   *bufio.Reader
	once sync.Once
}

func newSSEStream(body io.ReadCloser) *sseStream {
	return &sseStream{body: body, br: bufio.NewReader(body)}
}

func (s *sseStream) Next(ctx context.Context) (*result.ExecutionResult, error) {
	var (
		event string
		data  []string
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, err := s.br.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, errors.Wrap(err, "read upstream event stream")
		}
		eof := err == io.EOF
		line = strings.TrimRight(line, "\r\n")
		if line != "" && !strings.HasPrefix(line, ":") {
			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "event":
				event = value
			case "data":
				data = append(data, value)
			}
		}
		if line != "" && !eof {
			continue
		}
		// a blank line or the end of the body dispatches the event
		if event == "complete" {
			return nil, io.EOF
		}
		if len(data) > 0 {
			var res result.ExecutionResult
			if err := json.Unmarshal([]byte(strings.Join(data, "\n")), &res); err != nil {
				return nil, errors.Wrap(err, "decode upstream event")
			}
			return &res, nil
		}
		if eof {
			return nil, io.EOF
		}
		event, data = "", nil
	}
}

func (s *sseStream) Close() error {
	var err error
	s.once.Do(func() { err = s.body.Close() })
	return err
}
