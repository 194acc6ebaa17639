package httpd

import (
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/sugar-network/node/pkg/commands"
	"github.com/sugar-network/node/pkg/errs"
	"github.com/sugar-network/node/pkg/schema"
)

// principalHeader names the authenticated user GUID.
const principalHeader = "sugar_user"

// buildRequest maps an HTTP call onto a command request. The returned
// closer, when non-nil, must be closed after dispatch; it holds an
// open multipart file.
func (s *Server) buildRequest(c echo.Context) (*commands.Request, io.Closer, error) {
	request := &commands.Request{
		Method:      c.Request().Method,
		Document:    c.Param("document"),
		GUID:        c.Param("guid"),
		Prop:        c.Param("prop"),
		Args:        make(map[string]any),
		AccessLevel: s.level,
	}
	for name, values := range c.QueryParams() {
		if name == "cmd" {
			request.Cmd = values[0]
			continue
		}
		if len(values) == 1 {
			request.Args[name] = values[0]
			continue
		}
		items := make([]any, len(values))
		for i, value := range values {
			items[i] = value
		}
		request.Args[name] = items
	}

	header := c.Request().Header
	request.Principal = header.Get(principalHeader)
	request.AcceptLanguage = acceptLanguages(header.Get("Accept-Language"))
	if since := header.Get("If-Modified-Since"); since != "" {
		if t, err := http.ParseTime(since); err == nil {
			request.IfModifiedSince = t
		}
	}

	if request.Method != http.MethodPost && request.Method != http.MethodPut {
		return request, nil, nil
	}
	contentType := header.Get(echo.HeaderContentType)
	if strings.HasPrefix(contentType, echo.MIMEMultipartForm) {
		closer, err := attachMultipart(c, request)
		return request, closer, err
	}
	body := c.Request().Body
	if body == nil || c.Request().ContentLength == 0 {
		return request, nil, nil
	}
	length := c.Request().ContentLength
	if length < 0 {
		length = math.MaxInt64
	}
	request.SetStream(body, length)
	request.ContentType = contentType
	return request, nil, nil
}

// attachMultipart accepts a form carrying exactly one file and makes
// it the request payload.
func attachMultipart(c echo.Context, request *commands.Request) (io.Closer, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, errs.Newf(errs.BadRequest, "malformed multipart form: %s", err)
	}
	var file *multipart.FileHeader
	count := 0
	for _, files := range form.File {
		for _, f := range files {
			file = f
			count++
		}
	}
	if count != 1 {
		return nil, errs.New(errs.BadRequest, "multipart form must carry exactly one file")
	}
	f, err := file.Open()
	if err != nil {
		return nil, errs.Newf(errs.BadRequest, "cannot read multipart file: %s", err)
	}
	request.SetStream(f, file.Size)
	request.ContentType = file.Header.Get(echo.HeaderContentType)
	return f, nil
}

// authenticate verifies a first-seen principal against the user
// directory. User creation itself is exempt so accounts can register.
func (s *Server) authenticate(request *commands.Request) error {
	principal := request.Principal
	if principal == "" {
		return nil
	}
	if request.Method == http.MethodPost && request.Document == "user" {
		return nil
	}
	s.authMu.RLock()
	known := s.authed[principal]
	s.authMu.RUnlock()
	if known {
		return nil
	}
	probe := &commands.Request{
		Method:      http.MethodGet,
		Cmd:         "exists",
		Document:    "user",
		GUID:        principal,
		AccessLevel: schema.AccessLocal,
	}
	if _, err := s.registry.Call(probe, commands.NewResponse()); err != nil {
		return errs.Newf(errs.Unauthorized, "principal %q is unknown", principal)
	}
	s.authMu.Lock()
	s.authed[principal] = true
	s.authMu.Unlock()
	return nil
}

// acceptLanguages strips weights from an Accept-Language header and
// keeps the tag order.
func acceptLanguages(header string) []string {
	if header == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(header, ",") {
		tag := strings.TrimSpace(part)
		if i := strings.IndexByte(tag, ';'); i >= 0 {
			tag = strings.TrimSpace(tag[:i])
		}
		if tag != "" && tag != "*" {
			out = append(out, tag)
		}
	}
	return out
}
