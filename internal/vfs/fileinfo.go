package vfs

import (
	"io/fs"
	"time"

	"github.com/tonimelisma/onedrive-serve/internal/graph"
)

// FileInfo is the fs.FileInfo of a listing entry. Besides the standard
// methods it carries the creation time and a regular-file flag, since a
// drive item can be neither file nor folder.
type FileInfo struct {
	name      string
	size      int64
	mode      fs.FileMode
	modTime   time.Time
	birth     time.Time
	isRegular bool
}

var _ fs.FileInfo = (*FileInfo)(nil)

func infoFromItem(item *graph.Item) *FileInfo {
	fi := &FileInfo{
		name:      item.Name,
		size:      item.Size,
		modTime:   item.ModifiedAt,
		birth:     item.CreatedAt,
		isRegular: item.IsFile,
	}

	if item.IsFolder {
		fi.mode = fs.ModeDir
	}

	return fi
}

func (fi *FileInfo) Name() string       { return fi.name }
func (fi *FileInfo) Size() int64        { return fi.size }
func (fi *FileInfo) Mode() fs.FileMode  { return fi.mode }
func (fi *FileInfo) ModTime() time.Time { return fi.modTime }
func (fi *FileInfo) IsDir() bool        { return fi.mode.IsDir() }
func (fi *FileInfo) Sys() any           { return nil }

// Birth returns the creation time. The synthetic root has none.
func (fi *FileInfo) Birth() time.Time { return fi.birth }

// IsRegular reports whether the entry is a file.
func (fi *FileInfo) IsRegular() bool { return fi.isRegular }
