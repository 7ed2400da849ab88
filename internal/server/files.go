package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tonimelisma/onedrive-serve/internal/config"
	"github.com/tonimelisma/onedrive-serve/internal/drivepath"
	"github.com/tonimelisma/onedrive-serve/internal/fileserver"
	"github.com/tonimelisma/onedrive-serve/internal/graph"
	"github.com/tonimelisma/onedrive-serve/internal/protect"
	"github.com/tonimelisma/onedrive-serve/internal/tokencache"
	"github.com/tonimelisma/onedrive-serve/internal/vfs"
)

// Client-facing error messages.
const (
	msgNoToken       = "No access token."
	msgNoDownloadURL = "No download url found."
	msgInternal      = "Internal server error."
	msgBadUpstream   = "Malformed response from drive."
)

const noCache = "no-cache"

// handleFiles serves GET {files_prefix}/*path. Folders are answered with a
// listing built from all of their children; files redirect to their
// pre-authenticated download URL.
func (s *Server) handleFiles(c *gin.Context) {
	cfg := s.cfg.Config()
	logger := s.loggerFor(c)
	res := drivepath.Resolve(cfg.Drive.BaseDirectory, c.Param("path"))

	guard, ok := s.authorize(c, cfg, res.Path, c.GetHeader(protect.HeaderName))
	if !ok {
		return
	}

	c.Header("Cache-Control", cacheControl(guard, cfg.Cache.ControlHeader))

	ctx := c.Request.Context()

	item, err := s.drive.GetItemByPath(ctx, res.APIPath())
	if err != nil {
		s.writeDriveError(c, err)
		return
	}

	if !item.IsFolder {
		serveDownload(c, item)
		return
	}

	items, err := s.drive.ListChildren(ctx, res.ChildrenPath(), cfg.Drive.MaxItems)
	if err != nil {
		s.writeDriveError(c, err)
		return
	}

	listing := vfs.NewListing(res.Path, items)
	s.recordListing(listing.Len())

	logger.Debug("serving listing",
		slog.String("path", res.Path),
		slog.Int("entries", listing.Len()),
	)

	fileserver.Serve(c.Writer, c.Request, fileserver.Options{
		Rewrites:  []fileserver.Rewrite{{Source: fileserver.MatchAll, Destination: res.Path}},
		CleanURLs: false,
		Logger:    logger,
	}, listing.FS())
}

// authorize runs the token and protected-route checks shared by both
// endpoints. When it returns false the response has been written.
func (s *Server) authorize(c *gin.Context, cfg *config.Config, p, header string) (protect.Result, bool) {
	ctx := c.Request.Context()

	if _, err := s.tokens.Token(ctx); err != nil {
		s.writeTokenError(c, err)
		return protect.Result{}, false
	}

	checker := protect.New(cfg.Protection.Routes, cfg.Protection.PasswordFile, cfg.Drive.BaseDirectory, s.drive, s.loggerFor(c))

	guard := checker.Check(ctx, p, header)
	if checker.Route(p) != "" {
		s.recordGuardCheck(guard.Code)
	}

	if !guard.OK() {
		c.JSON(guard.Code, gin.H{"error": guard.Message})
		return guard, false
	}

	return guard, true
}

// cacheControl picks the Cache-Control value: protected content is never
// cached by intermediaries.
func cacheControl(guard protect.Result, configured string) string {
	if guard.Protected() {
		return noCache
	}

	return configured
}

func serveDownload(c *gin.Context, item *graph.Item) {
	setCORSHeaders(c)
	c.Header("Cache-Control", noCache)

	if item.DownloadURL == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": msgNoDownloadURL})
		return
	}

	c.Redirect(http.StatusFound, item.DownloadURL)
}

func (s *Server) writeTokenError(c *gin.Context, err error) {
	if errors.Is(err, tokencache.ErrNoToken) {
		s.recordTokenUnavailable()
		c.JSON(http.StatusForbidden, gin.H{"error": msgNoToken})

		return
	}

	s.loggerFor(c).Error("reading access token failed", slog.String("error", err.Error()))
	c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
}

// writeDriveError maps a Graph failure to a response. Upstream HTTP errors
// surface as 500 carrying the upstream status and body.
func (s *Server) writeDriveError(c *gin.Context, err error) {
	logger := s.loggerFor(c)

	if errors.Is(err, tokencache.ErrNoToken) {
		s.writeTokenError(c, err)
		return
	}

	if errors.Is(err, graph.ErrMalformedNextLink) {
		logger.Error("listing abandoned", slog.String("error", err.Error()))
		c.JSON(http.StatusBadGateway, gin.H{"error": msgBadUpstream})

		return
	}

	var ge *graph.GraphError
	if errors.As(err, &ge) {
		logger.Warn("drive request failed",
			slog.Int("status", ge.StatusCode),
			slog.String("request_id", ge.RequestID),
		)

		c.JSON(http.StatusInternalServerError, gin.H{"error": upstreamBody(ge.Message), "status": ge.StatusCode})

		return
	}

	logger.Error("drive request failed", slog.String("error", err.Error()))
	c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
}

// upstreamBody embeds a JSON upstream body as-is and anything else as a
// string.
func upstreamBody(body string) any {
	if body != "" && json.Valid([]byte(body)) {
		return json.RawMessage(body)
	}

	return body
}
