package commands

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sugar-network/node/pkg/errs"
	"github.com/sugar-network/node/pkg/schema"
)

// Request is one incoming operation. Args hold query-style arguments;
// the payload is either a decoded JSON value in Content or a bounded
// byte stream.
type Request struct {
	Method   string
	Cmd      string
	Document string
	GUID     string
	Prop     string

	Args map[string]any

	Content       any
	Stream        io.Reader
	ContentLength int64
	ContentType   string

	AccessLevel     schema.Access
	AcceptLanguage  []string
	Principal       string
	IfModifiedSince time.Time
}

// Clone copies the routing and identity fields without the payload,
// for internal sub-calls that must not leak it.
func (r *Request) Clone() *Request {
	clone := *r
	clone.Content = nil
	clone.Stream = nil
	clone.ContentLength = 0
	clone.ContentType = ""
	clone.Args = make(map[string]any, len(r.Args))
	for name, value := range r.Args {
		clone.Args[name] = value
	}
	return &clone
}

// SetStream attaches a payload stream bounded to length bytes; reading
// past it returns EOF.
func (r *Request) SetStream(stream io.Reader, length int64) {
	r.Stream = io.LimitReader(stream, length)
	r.ContentLength = length
}

// String returns the named argument as a string; empty when absent.
func (r *Request) String(name string) string {
	switch value := r.Args[name].(type) {
	case string:
		return value
	case []any:
		if len(value) > 0 {
			if s, ok := value[0].(string); ok {
				return s
			}
		}
	}
	return ""
}

// Int returns the named argument as an integer, def when absent.
func (r *Request) Int(name string, def int) (int, error) {
	value, ok := r.Args[name]
	if !ok {
		return def, nil
	}
	switch x := value.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		return int(x), nil
	case string:
		n, err := strconv.Atoi(x)
		if err != nil {
			return 0, errs.Newf(errs.BadRequest, "argument %q is not an integer", name)
		}
		return n, nil
	}
	return 0, errs.Newf(errs.BadRequest, "argument %q is not an integer", name)
}

// Bool returns the named argument as a boolean, def when absent.
func (r *Request) Bool(name string, def bool) (bool, error) {
	value, ok := r.Args[name]
	if !ok {
		return def, nil
	}
	switch x := value.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(x)
		if err != nil {
			return false, errs.Newf(errs.BadRequest, "argument %q is not a boolean", name)
		}
		return b, nil
	case float64:
		return x != 0, nil
	}
	return false, errs.Newf(errs.BadRequest, "argument %q is not a boolean", name)
}

// List returns the named argument as a list of strings. Comma-separated
// scalars are split, matching the query-string convention.
func (r *Request) List(name string) []string {
	value, ok := r.Args[name]
	if !ok {
		return nil
	}
	return toStringList(value)
}

// DecodeContent unmarshals the JSON payload into a generic value. The
// stream form is decoded lazily here.
func (r *Request) DecodeContent() (any, error) {
	if r.Content != nil {
		return r.Content, nil
	}
	if r.Stream == nil {
		return nil, nil
	}
	var value any
	if err := json.NewDecoder(r.Stream).Decode(&value); err != nil {
		return nil, errs.Newf(errs.BadRequest, "malformed JSON payload: %s", err)
	}
	r.Content = value
	return value, nil
}

// ContentMap returns the payload as a JSON object.
func (r *Request) ContentMap() (map[string]any, error) {
	value, err := r.DecodeContent()
	if err != nil {
		return nil, err
	}
	m, ok := value.(map[string]any)
	if !ok {
		return nil, errs.New(errs.BadRequest, "JSON object payload expected")
	}
	return m, nil
}

// Response is the reply side of one operation.
type Response struct {
	Status        int
	Header        http.Header
	ContentType   string
	ContentLength int64
	LastModified  time.Time
}

// NewResponse returns an empty 200 response.
func NewResponse() *Response {
	return &Response{Status: http.StatusOK, Header: make(http.Header)}
}
