package httpd

import (
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
)

// cors echoes the origin back for requests coming from a local page
// (null or file:// origin) or from a host that resolves to the same
// address as the request host.
func (s *Server) cors(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		origin := c.Request().Header.Get(echo.HeaderOrigin)
		if origin == "" {
			return next(c)
		}
		if !originAllowed(c.Request(), origin) {
			if c.Request().Method == http.MethodOptions {
				return c.NoContent(http.StatusForbidden)
			}
			return next(c)
		}
		header := c.Response().Header()
		header.Set(echo.HeaderAccessControlAllowOrigin, origin)
		header.Set(echo.HeaderAccessControlAllowCredentials, "true")
		if c.Request().Method == http.MethodOptions {
			request := c.Request().Header
			header.Set(echo.HeaderAccessControlAllowMethods,
				request.Get(echo.HeaderAccessControlRequestMethod))
			header.Set(echo.HeaderAccessControlAllowHeaders,
				request.Get(echo.HeaderAccessControlRequestHeaders))
			return c.NoContent(http.StatusNoContent)
		}
		return next(c)
	}
}

func originAllowed(r *http.Request, origin string) bool {
	if origin == "null" || strings.HasPrefix(origin, "file://") {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	originHost := u.Hostname()
	requestHost := r.Host
	if host, _, err := net.SplitHostPort(requestHost); err == nil {
		requestHost = host
	}
	if strings.EqualFold(originHost, requestHost) {
		return true
	}
	originAddrs, err := net.LookupHost(originHost)
	if err != nil {
		return false
	}
	requestAddrs, err := net.LookupHost(requestHost)
	if err != nil {
		return false
	}
	for _, a := range originAddrs {
		for _, b := range requestAddrs {
			if a == b {
				return true
			}
		}
	}
	return false
}
