package remote

import (
	"context"
	"errors"
	"path"
	"time"
)

// ErrConnect wraps failures establishing a remote session.
var ErrConnect = errors.New("remote connection failed")

// Entry is one remote directory listing item.
type Entry struct {
	Name    string
	ModTime float64 // seconds since the Unix epoch
	Size    int64
	IsDir   bool
}

// ModTimeOf converts a time to the watermark representation.
func ModTimeOf(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Source lists and downloads feed files from a remote location.
// A Source is used by one goroutine and must be closed.
type Source interface {
	List(ctx context.Context, dir string) ([]Entry, error)
	Fetch(ctx context.Context, remotePath, localPath string) error
	Close() error
}

// Join builds a remote path from a folder and a file name.
func Join(dir, name string) string {
	return path.Join(dir, name)
}
