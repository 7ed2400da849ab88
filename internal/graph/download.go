package graph

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// ReadContent fetches the content of the file addressed by apiPath, reading
// at most limit bytes. It resolves the item's pre-authenticated download URL
// first and then reads from that URL directly (bypassing the Graph API).
// Used for small control files such as folder passwords; nothing is cached.
func (c *Client) ReadContent(ctx context.Context, apiPath string, limit int64) ([]byte, error) {
	item, err := c.GetItemByPath(ctx, apiPath)
	if err != nil {
		return nil, err
	}

	if item.DownloadURL == "" {
		c.logger.Warn("item has no download URL",
			slog.String("api_path", apiPath),
			slog.Bool("is_folder", item.IsFolder),
			slog.Bool("is_package", item.IsPackage),
		)

		return nil, ErrNoDownloadURL
	}

	// The URL is pre-authenticated: no bearer token, and it is never logged.
	resp, err := c.do(ctx, http.MethodGet, item.DownloadURL, "(download url)", false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("graph: reading download content: %w", err)
	}

	c.logger.Debug("read item content",
		slog.String("api_path", apiPath),
		slog.Int("bytes", len(data)),
	)

	return data, nil
}
