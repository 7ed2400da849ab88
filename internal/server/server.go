// Package server exposes the drive over HTTP: a browsable listing endpoint
// that redirects file requests to their download URL, and a minimal WebDAV
// endpoint answering with a multistatus listing.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/onedrive-serve/internal/config"
	"github.com/tonimelisma/onedrive-serve/internal/graph"
	"github.com/tonimelisma/onedrive-serve/internal/metrics"
	"github.com/tonimelisma/onedrive-serve/internal/protect"
)

// RequestIDHeader carries the per-request correlation ID in both directions.
const RequestIDHeader = "X-Request-ID"

const loggerKey = "logger"

// Drive is the subset of the Graph client the handlers need.
type Drive interface {
	GetItemByPath(ctx context.Context, apiPath string) (*graph.Item, error)
	ListChildren(ctx context.Context, childrenPath string, pageSize int) ([]graph.Item, error)
	ReadContent(ctx context.Context, apiPath string, limit int64) ([]byte, error)
}

// TokenProvider yields the current bearer token.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// Server wires the handlers to a gin engine.
type Server struct {
	cfg     *config.Holder
	tokens  TokenProvider
	drive   Drive
	metrics *metrics.Metrics
	logger  *slog.Logger
	engine  *gin.Engine
}

// Deps are the collaborators of a Server. Metrics may be nil.
type Deps struct {
	Config  *config.Holder
	Tokens  TokenProvider
	Drive   Drive
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// New builds the engine. Route prefixes are read once here; everything else
// is read from the holder on each request so that reloads apply without a
// restart.
func New(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:     d.Config,
		tokens:  d.Tokens,
		drive:   d.Drive,
		metrics: d.Metrics,
		logger:  logger,
	}

	cfg := d.Config.Config()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())

	if s.metrics != nil {
		r.Use(s.metrics.Middleware())

		if cfg.Metrics.Enabled {
			r.GET(cfg.Metrics.Path, gin.WrapH(s.metrics.Handler()))
		}
	}

	files := r.Group(cfg.Server.FilesPrefix)
	files.GET("/*path", s.handleFiles)
	files.OPTIONS("/*path", preflight)

	// Any covers the standard methods only. WebDAV verbs such as PROPFIND
	// have no route tree and land in NoRoute.
	r.Any(cfg.Server.WebDAVPrefix+"/*path", s.handleWebDAV)
	r.NoRoute(s.webDAVFallback(cfg.Server.WebDAVPrefix))

	s.engine = r

	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Listen opens the configured listen address.
func (s *Server) Listen() (net.Listener, error) {
	addr := s.cfg.Config().Server.ListenAddr

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("server: listening on %s: %w", addr, err)
	}

	return ln, nil
}

// Serve handles requests on ln until ctx is canceled, then drains in-flight
// requests for at most the configured shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("server listening",
			slog.String("addr", ln.Addr().String()),
			slog.String("files", s.cfg.Config().Server.FilesPrefix),
			slog.String("webdav", s.cfg.Config().Server.WebDAVPrefix),
		)

		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: serving: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		timeout := s.cfg.Config().ShutdownTimeout()
		s.logger.Info("shutting down server", slog.Duration("timeout", timeout))

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: shutdown: %w", err)
		}

		return nil
	})

	return g.Wait()
}

// requestLogger tags each request with an ID, stores a request-scoped
// logger on the context, and logs the outcome.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		c.Header(RequestIDHeader, id)

		logger := s.logger.With(slog.String("request_id", id))
		c.Set(loggerKey, logger)

		start := time.Now()

		c.Next()

		logger.Info("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
}

func (s *Server) loggerFor(c *gin.Context) *slog.Logger {
	if l, ok := c.Get(loggerKey); ok {
		if logger, ok := l.(*slog.Logger); ok {
			return logger
		}
	}

	return s.logger
}

func setCORSHeaders(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
	c.Header("Access-Control-Allow-Headers", "Content-Type, "+protect.HeaderName)
}

func preflight(c *gin.Context) {
	setCORSHeaders(c)
	c.AbortWithStatus(http.StatusNoContent)
}

func (s *Server) recordTokenUnavailable() {
	if s.metrics != nil {
		s.metrics.RecordTokenUnavailable()
	}
}

func (s *Server) recordGuardCheck(status int) {
	if s.metrics != nil {
		s.metrics.RecordGuardCheck(status)
	}
}

func (s *Server) recordListing(entries int) {
	if s.metrics != nil {
		s.metrics.RecordListing(entries)
	}
}
