package server

import (
	"encoding/xml"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tonimelisma/onedrive-serve/internal/drivepath"
	"github.com/tonimelisma/onedrive-serve/internal/graph"
)

const (
	davNamespace   = "DAV:"
	davContentType = `application/xml; charset="utf-8"`
	davStatusOK    = "HTTP/1.1 200 OK"

	msgMethodNotAllowed = "Method Not Allowed"
)

type davMultistatus struct {
	XMLName   xml.Name      `xml:"d:multistatus"`
	Namespace string        `xml:"xmlns:d,attr"`
	Responses []davResponse `xml:"d:response"`
}

type davResponse struct {
	Href     string      `xml:"d:href"`
	Propstat davPropstat `xml:"d:propstat"`
}

type davPropstat struct {
	Prop   davProp `xml:"d:prop"`
	Status string  `xml:"d:status"`
}

type davProp struct {
	DisplayName  string          `xml:"d:displayname"`
	ResourceType davResourceType `xml:"d:resourcetype"`
}

type davResourceType struct {
	Collection *struct{} `xml:"d:collection"`
}

// handleWebDAV answers GET {webdav_prefix}/*path with a multistatus body
// listing the folder's immediate children. Every other method is refused.
func (s *Server) handleWebDAV(c *gin.Context) {
	if c.Request.Method != http.MethodGet {
		c.Header("Allow", http.MethodGet)
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": msgMethodNotAllowed})

		return
	}

	cfg := s.cfg.Config()
	res := drivepath.Resolve(cfg.Drive.BaseDirectory, c.Param("path"))

	// WebDAV clients cannot send the protection header.
	guard, ok := s.authorize(c, cfg, res.Path, "")
	if !ok {
		return
	}

	if guard.Protected() {
		c.Header("Cache-Control", noCache)
	}

	items, err := s.drive.ListChildren(c.Request.Context(), res.ChildrenPath(), cfg.Drive.MaxItems)
	if err != nil {
		s.writeDriveError(c, err)
		return
	}

	body, err := renderMultistatus(cfg.Server.WebDAVPrefix, res.Path, items)
	if err != nil {
		s.loggerFor(c).Error("rendering multistatus failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternal})

		return
	}

	s.recordListing(len(items))
	c.Data(http.StatusMultiStatus, davContentType, body)
}

func renderMultistatus(prefix, dir string, items []graph.Item) ([]byte, error) {
	ms := davMultistatus{
		Namespace: davNamespace,
		Responses: make([]davResponse, 0, len(items)),
	}

	for i := range items {
		ms.Responses = append(ms.Responses, davEntry(prefix, dir, &items[i]))
	}

	out, err := xml.MarshalIndent(ms, "", "  ")
	if err != nil {
		return nil, err
	}

	return append([]byte(xml.Header), out...), nil
}

// davEntry describes one child. The href is the whole path escaped as a
// single component, slashes included.
func davEntry(prefix, dir string, item *graph.Item) davResponse {
	r := davResponse{
		Href: escapeComponent(path.Join(prefix, dir, item.Name)),
		Propstat: davPropstat{
			Prop:   davProp{DisplayName: item.Name},
			Status: davStatusOK,
		},
	}

	if item.IsFolder {
		r.Propstat.Prop.ResourceType.Collection = &struct{}{}
	}

	return r
}

// escapeComponent percent-encodes every byte except the unreserved set
// A-Z a-z 0-9 and - _ . ! ~ * ' ( ), the same set JavaScript's
// encodeURIComponent leaves alone.
func escapeComponent(s string) string {
	const hex = "0123456789ABCDEF"

	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		ch := s[i]
		if isUnreservedComponent(ch) {
			b.WriteByte(ch)
			continue
		}

		b.WriteByte('%')
		b.WriteByte(hex[ch>>4])
		b.WriteByte(hex[ch&0x0f])
	}

	return b.String()
}

func isUnreservedComponent(ch byte) bool {
	switch {
	case 'a' <= ch && ch <= 'z', 'A' <= ch && ch <= 'Z', '0' <= ch && ch <= '9':
		return true
	}

	return strings.IndexByte("-_.!~*'()", ch) >= 0
}

// webDAVFallback refuses methods gin has no route for when the path is
// under prefix. Other unmatched requests get gin's default 404.
func (s *Server) webDAVFallback(prefix string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := c.Request.URL.Path
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			s.handleWebDAV(c)
		}
	}
}
