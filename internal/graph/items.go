package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// MaxPageSize is the largest $top the Graph API accepts for drive item
// collections.
const MaxPageSize = 200

// Field selections. The children selection omits the download URL: links
// are resolved per item when a file is actually requested.
const (
	itemSelect     = "id,name,size,file,folder,package,createdDateTime,lastModifiedDateTime,@microsoft.graph.downloadUrl"
	childrenSelect = "id,name,size,file,folder,package,createdDateTime,lastModifiedDateTime"
)

// Timestamp validation bounds. Timestamps outside this range are replaced
// with the current time and a warning is logged.
const (
	minValidYear = 1970
	maxValidYear = 2100
)

// driveItemResponse mirrors the Graph API driveItem JSON.
// Unexported; callers use Item via toItem() normalization.
type driveItemResponse struct {
	ID                   string           `json:"id"`
	Name                 string           `json:"name"`
	Size                 int64            `json:"size"`
	CreatedDateTime      string           `json:"createdDateTime"`
	LastModifiedDateTime string           `json:"lastModifiedDateTime"`
	File                 *json.RawMessage `json:"file"`
	Folder               *json.RawMessage `json:"folder"`
	Package              *json.RawMessage `json:"package"`
	DownloadURL          string           `json:"@microsoft.graph.downloadUrl"` //nolint:tagliatelle // Graph API annotation key
}

type listChildrenResponse struct {
	Value    []driveItemResponse `json:"value"`
	NextLink string              `json:"@odata.nextLink"` //nolint:tagliatelle // OData annotation key
}

// toItem normalizes a Graph API driveItem response into our Item type.
func (d *driveItemResponse) toItem(logger *slog.Logger) Item {
	return Item{
		ID:          d.ID,
		Name:        d.Name,
		Size:        d.Size,
		IsFile:      d.File != nil,
		IsFolder:    d.Folder != nil,
		IsPackage:   d.Package != nil,
		CreatedAt:   parseTimestamp(d.CreatedDateTime, "createdDateTime", d.ID, logger),
		ModifiedAt:  parseTimestamp(d.LastModifiedDateTime, "lastModifiedDateTime", d.ID, logger),
		DownloadURL: d.DownloadURL,
	}
}

// parseTimestamp parses an RFC3339 timestamp and validates the year range.
// Invalid or out-of-range timestamps are replaced with time.Now().UTC() and logged.
func parseTimestamp(raw, field, itemID string, logger *slog.Logger) time.Time {
	if raw == "" {
		logger.Warn("empty timestamp, using current time",
			slog.String("field", field),
			slog.String("item_id", itemID),
		)

		return time.Now().UTC()
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		logger.Warn("invalid timestamp, using current time",
			slog.String("field", field),
			slog.String("item_id", itemID),
			slog.String("raw", raw),
			slog.String("error", err.Error()),
		)

		return time.Now().UTC()
	}

	if t.Year() < minValidYear || t.Year() > maxValidYear {
		logger.Warn("timestamp out of valid range, using current time",
			slog.String("field", field),
			slog.String("item_id", itemID),
			slog.String("raw", raw),
		)

		return time.Now().UTC()
	}

	return t
}

// GetItemByPath retrieves the drive item addressed by apiPath, the fragment
// that follows "/root" ("" for the root, ":/a/b" otherwise; see
// drivepath.Resolved.APIPath). The download URL is included for files.
func (c *Client) GetItemByPath(ctx context.Context, apiPath string) (*Item, error) {
	c.logger.Debug("getting item by path", slog.String("api_path", apiPath))

	q := url.Values{"$select": {itemSelect}}

	resp, err := c.Do(ctx, http.MethodGet, "/root"+apiPath+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var dir driveItemResponse
	if err := json.NewDecoder(resp.Body).Decode(&dir); err != nil {
		return nil, fmt.Errorf("graph: decoding item response: %w", err)
	}

	item := dir.toItem(c.logger)

	return &item, nil
}

// ListChildren returns every child of the folder addressed by childrenPath
// (see drivepath.Resolved.ChildrenPath), following skiptoken cursors until
// the listing is exhausted. pageSize is sent as $top on every request. A
// failure on any page fails the whole listing.
func (c *Client) ListChildren(ctx context.Context, childrenPath string, pageSize int) ([]Item, error) {
	if pageSize <= 0 || pageSize > MaxPageSize {
		return nil, fmt.Errorf("graph: page size %d outside 1..%d", pageSize, MaxPageSize)
	}

	c.logger.Info("listing children",
		slog.String("children_path", childrenPath),
		slog.Int("page_size", pageSize),
	)

	var (
		items     []Item
		skipToken string
	)

	for page := 1; ; page++ {
		q := url.Values{
			"$select": {childrenSelect},
			"$top":    {strconv.Itoa(pageSize)},
		}

		if skipToken != "" {
			q.Set("$skiptoken", skipToken)
		}

		pageItems, nextLink, err := c.listChildrenPage(ctx, "/root"+childrenPath+"?"+q.Encode(), page)
		if err != nil {
			return nil, err
		}

		items = append(items, pageItems...)

		if nextLink == "" {
			break
		}

		skipToken, err = ParseSkipToken(nextLink)
		if err != nil {
			c.logger.Error("children page has unusable nextLink",
				slog.String("children_path", childrenPath),
				slog.Int("page", page),
			)

			return nil, err
		}
	}

	items = normalizeChildren(items, c.logger)

	c.logger.Info("listed children complete",
		slog.String("children_path", childrenPath),
		slog.Int("total_items", len(items)),
	)

	return items, nil
}

// listChildrenPage fetches a single page of children and returns the items
// and the raw nextLink (empty if no more pages).
func (c *Client) listChildrenPage(ctx context.Context, path string, page int) ([]Item, string, error) {
	resp, err := c.Do(ctx, http.MethodGet, path)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	var lcr listChildrenResponse
	if err := json.NewDecoder(resp.Body).Decode(&lcr); err != nil {
		return nil, "", fmt.Errorf("graph: decoding children response: %w", err)
	}

	items := make([]Item, 0, len(lcr.Value))
	for i := range lcr.Value {
		items = append(items, lcr.Value[i].toItem(c.logger))
	}

	c.logger.Debug("fetched children page",
		slog.Int("page", page),
		slog.Int("count", len(items)),
		slog.Bool("has_next", lcr.NextLink != ""),
	)

	return items, lcr.NextLink, nil
}

// ParseSkipToken extracts the pagination cursor from an @odata.nextLink by
// reading its $skiptoken query parameter (key matched case-insensitively,
// with or without the "$"). A link without one yields ErrMalformedNextLink.
func ParseSkipToken(nextLink string) (string, error) {
	u, err := url.Parse(nextLink)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedNextLink, err)
	}

	for key, values := range u.Query() {
		if !strings.EqualFold(strings.TrimPrefix(key, "$"), "skiptoken") {
			continue
		}

		for _, v := range values {
			if v != "" {
				return v, nil
			}
		}
	}

	return "", ErrMalformedNextLink
}
