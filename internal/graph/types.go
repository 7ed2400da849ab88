package graph

import "time"

// Item represents a OneDrive drive item (file, folder, or package).
// Fields are normalized from the Graph API response; callers never see raw
// API data.
type Item struct {
	ID          string
	Name        string
	Size        int64
	IsFile      bool
	IsFolder    bool
	IsPackage   bool // OneNote packages have neither a file nor a folder facet
	CreatedAt   time.Time
	ModifiedAt  time.Time
	DownloadURL string // pre-authenticated, ephemeral; NEVER log
}
