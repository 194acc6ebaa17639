package httpd

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sugar-network/node/pkg/commands"
	"github.com/sugar-network/node/pkg/errs"
	"github.com/sugar-network/node/pkg/storage"
)

func (s *Server) writeResult(c echo.Context, request *commands.Request,
	response *commands.Response, result any) error {
	if meta, ok := result.(*storage.Meta); ok {
		return s.writeBlob(c, request, response, meta)
	}
	if result == nil {
		return c.NoContent(response.Status)
	}
	return c.JSON(response.Status, result)
}

// writeBlob streams a property sidecar, honoring If-Modified-Since
// against the property mtime.
func (s *Server) writeBlob(c echo.Context, request *commands.Request,
	response *commands.Response, meta *storage.Meta) error {
	mtime := time.Unix(meta.Mtime, 0)
	if !request.IfModifiedSince.IsZero() && !mtime.After(request.IfModifiedSince) {
		return c.NoContent(http.StatusNotModified)
	}
	file, err := os.Open(meta.Path)
	if err != nil {
		return s.writeError(c, errs.Newf(errs.NotFound, "BLOB %q is not readable", request.Prop))
	}
	defer file.Close()

	contentType := response.ContentType
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	header := c.Response().Header()
	header.Set("Last-Modified", mtime.UTC().Format(http.TimeFormat))
	header.Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", blobFilename(request, contentType)))
	if info, err := file.Stat(); err == nil {
		header.Set(echo.HeaderContentLength, strconv.FormatInt(info.Size(), 10))
	}
	return c.Stream(http.StatusOK, contentType, file)
}

func blobFilename(request *commands.Request, contentType string) string {
	name := request.GUID
	if request.Prop != "" {
		name += "_" + request.Prop
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		name += exts[0]
	}
	return name
}

func (s *Server) writeError(c echo.Context, err error) error {
	if location := errs.RedirectLocation(err); location != "" {
		return c.Redirect(http.StatusSeeOther, location)
	}
	status := errs.HTTPStatus(err)
	if status == http.StatusNotModified {
		return c.NoContent(status)
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).
			Str("method", c.Request().Method).
			Str("uri", c.Request().RequestURI).
			Msg("request failed")
	}
	return c.JSON(status, map[string]string{
		"error":   err.Error(),
		"request": c.Request().Method + " " + c.Request().RequestURI,
	})
}
