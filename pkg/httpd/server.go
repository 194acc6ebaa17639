package httpd

import (
	"context"
	"net/http"
	"strconv"
	stdsync "sync"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/sugar-network/node/pkg/commands"
	"github.com/sugar-network/node/pkg/document"
	"github.com/sugar-network/node/pkg/log"
	"github.com/sugar-network/node/pkg/metrics"
	"github.com/sugar-network/node/pkg/schema"
	"github.com/sugar-network/node/pkg/sync"
)

// Config tunes the HTTP frontend.
type Config struct {
	// AccessLevel is stamped on every request built from an HTTP call;
	// zero means AccessRemote.
	AccessLevel schema.Access
}

// Server is the HTTP frontend over a volume and its command registry.
// Master is nil on nodes that only sync outward.
type Server struct {
	echo     *echo.Echo
	registry *commands.Registry
	volume   *document.Volume
	master   *sync.Master
	level    schema.Access
	logger   zerolog.Logger

	authMu stdsync.RWMutex
	authed map[string]bool
}

// New wires the routes and returns the server.
func New(volume *document.Volume, registry *commands.Registry, master *sync.Master, cfg Config) *Server {
	s := &Server{
		echo:     echo.New(),
		registry: registry,
		volume:   volume,
		master:   master,
		level:    cfg.AccessLevel,
		logger:   log.WithComponent("httpd"),
		authed:   make(map[string]bool),
	}
	if s.level == 0 {
		s.level = schema.AccessRemote
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.Pre(s.cors)
	e.Use(requestMetrics)

	e.GET("/robots.txt", robots)
	e.GET("/favicon.ico", func(c echo.Context) error {
		return c.NoContent(http.StatusNotFound)
	})
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	e.GET("/healthz", echo.WrapHandler(metrics.HealthHandler()))
	e.GET("/readyz", echo.WrapHandler(metrics.ReadyHandler()))
	e.GET("/livez", echo.WrapHandler(metrics.LivenessHandler()))

	e.GET("/", s.root)
	e.POST("/", s.root)
	e.Any("/:document", s.dispatch)
	e.Any("/:document/:guid", s.dispatch)
	e.Any("/:document/:guid/:prop", s.dispatch)

	return s
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	metrics.RegisterComponent("api", true, "")
	s.logger.Info().Str("addr", addr).Msg("serving")
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// root multiplexes the volume-scope endpoints that bypass the command
// registry; everything else falls through to dispatch.
func (s *Server) root(c echo.Context) error {
	switch c.QueryParam("cmd") {
	case "subscribe":
		if c.Request().Method == http.MethodGet {
			return s.subscribe(c)
		}
	case "push":
		if c.Request().Method == http.MethodPost && s.master != nil {
			return s.push(c)
		}
	case "pull":
		if c.Request().Method == http.MethodGet && s.master != nil {
			return s.pull(c)
		}
	}
	return s.dispatch(c)
}

func (s *Server) dispatch(c echo.Context) error {
	request, closer, err := s.buildRequest(c)
	if closer != nil {
		defer closer.Close()
	}
	if err != nil {
		return s.writeError(c, err)
	}
	if err := s.authenticate(request); err != nil {
		return s.writeError(c, err)
	}
	response := commands.NewResponse()
	result, err := s.registry.Call(request, response)
	if err != nil {
		return s.writeError(c, err)
	}
	return s.writeResult(c, request, response, result)
}

func robots(c echo.Context) error {
	return c.String(http.StatusOK, "User-agent: *\nDisallow: /\n")
}

func requestMetrics(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		timer := metrics.NewTimer()
		err := next(c)
		method := c.Request().Method
		timer.ObserveDuration(metrics.APIRequestDuration.WithLabelValues(method))
		metrics.APIRequestsTotal.WithLabelValues(method,
			strconv.Itoa(c.Response().Status)).Inc()
		return err
	}
}
