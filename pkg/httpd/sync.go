package httpd

import (
	"net/http"
	"os"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/sugar-network/node/pkg/errs"
	"github.com/sugar-network/node/pkg/sync"
)

// delayCookie carries the retry hint while a pull packet is still
// being generated.
const delayCookie = "sugar_network_delay"

// push ingests a client packet and streams the acknowledgement packet
// back. The ack file is one-shot and removed after serving.
func (s *Server) push(c echo.Context) error {
	result, err := s.master.Push(c.Request().Body, s.requestCookie(c))
	if err != nil {
		return s.writeError(c, err)
	}
	s.setSyncCookie(c, result.Cookie)

	file, err := os.Open(result.Ack)
	if err != nil {
		return s.writeError(c, err)
	}
	defer func() {
		file.Close()
		os.Remove(result.Ack)
	}()
	if info, err := file.Stat(); err == nil {
		c.Response().Header().Set(echo.HeaderContentLength,
			strconv.FormatInt(info.Size(), 10))
	}
	return c.Stream(http.StatusOK, echo.MIMEOctetStream, file)
}

// pull serves a cached pull packet, or a delay hint while one is
// still being generated for the cookie.
func (s *Server) pull(c echo.Context) error {
	var acceptLength int64
	if value := c.QueryParam("accept_length"); value != "" {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil || n < 0 {
			return s.writeError(c,
				errs.Newf(errs.BadRequest, "accept_length %q is not a size", value))
		}
		acceptLength = n
	}
	result, err := s.master.Pull(s.requestCookie(c), acceptLength)
	if err != nil {
		return s.writeError(c, err)
	}
	s.setSyncCookie(c, result.Cookie)
	if result.Packet == "" {
		c.SetCookie(&http.Cookie{
			Name:  delayCookie,
			Value: strconv.Itoa(result.Delay),
			Path:  "/",
		})
		return c.NoContent(http.StatusOK)
	}

	file, err := os.Open(result.Packet)
	if err != nil {
		return s.writeError(c, err)
	}
	defer file.Close()
	c.Response().Header().Set(echo.HeaderContentLength,
		strconv.FormatInt(result.Length, 10))
	return c.Stream(http.StatusOK, echo.MIMEOctetStream, file)
}

func (s *Server) requestCookie(c echo.Context) sync.Cookie {
	raw := ""
	if ck, err := c.Cookie(sync.CookieName); err == nil {
		raw = ck.Value
	}
	cookie, err := sync.DecodeCookie(raw)
	if err != nil {
		s.logger.Warn().Err(err).Msg("dropping malformed sync cookie")
		return sync.NewCookie()
	}
	return cookie
}

func (s *Server) setSyncCookie(c echo.Context, cookie sync.Cookie) {
	c.SetCookie(&http.Cookie{
		Name:  sync.CookieName,
		Value: cookie.Encode(),
		Path:  "/",
	})
}
