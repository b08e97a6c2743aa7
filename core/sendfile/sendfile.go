//go:build linux

package sendfile

import (
	"container/list"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/searchktools/shard-server/core/http"
)

// FileCache caches open file descriptors using LRU
type FileCache struct {
	mu       sync.Mutex
	cache    map[string]*cacheEntry
	lruList  *list.List
	maxFiles int
}

type cacheEntry struct {
	file    *os.File
	size    int64
	element *list.Element
}

// NewFileCache creates a new file cache
func NewFileCache(maxFiles int) *FileCache {
	return &FileCache{
		cache:    make(map[string]*cacheEntry),
		lruList:  list.New(),
		maxFiles: maxFiles,
	}
}

// Get gets a file from cache or opens it, returning its descriptor and size.
func (fc *FileCache) Get(path string) (int, int64, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	if entry, ok := fc.cache[path]; ok {
		fc.lruList.MoveToFront(entry.element)
		return int(entry.file.Fd()), entry.size, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return -1, 0, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return -1, 0, err
	}

	element := fc.lruList.PushFront(path)
	fc.cache[path] = &cacheEntry{
		file:    file,
		size:    info.Size(),
		element: element,
	}

	// Evict oldest if over limit
	if fc.lruList.Len() > fc.maxFiles {
		oldest := fc.lruList.Back()
		if oldest != nil {
			oldPath := oldest.Value.(string)
			if oldEntry, ok := fc.cache[oldPath]; ok {
				oldEntry.file.Close()
				delete(fc.cache, oldPath)
			}
			fc.lruList.Remove(oldest)
		}
	}

	return int(file.Fd()), info.Size(), nil
}

// Close closes all cached files
func (fc *FileCache) Close() {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	for _, entry := range fc.cache {
		entry.file.Close()
	}
	fc.cache = make(map[string]*cacheEntry)
	fc.lruList.Init()
}

// send copies the file to the socket with the zero-copy sendfile syscall,
// retrying on EAGAIN since the socket is non-blocking.
func send(connFd, fileFd int, size int64) error {
	var offset int64
	remaining := size
	for remaining > 0 {
		n, err := unix.Sendfile(connFd, fileFd, &offset, int(remaining))
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			return err
		}
		if n == 0 {
			break
		}
		remaining -= int64(n)
	}
	return nil
}

// Handler returns a prefix handler that serves files under root with
// zero-copy sendfile and extension-based MIME types. The remaining path
// past the matched route prefix selects the file.
func Handler(root string, cache *FileCache) func(ctx *http.Context) {
	return func(ctx *http.Context) {
		rel := path.Clean("/" + ctx.RemainingPath())
		if strings.Contains(rel, "..") {
			ctx.Error(http.StatusForbidden, "Forbidden")
			return
		}

		name := filepath.Join(root, filepath.FromSlash(rel))
		fd, size, err := cache.Get(name)
		if err != nil {
			ctx.Error(http.StatusNotFound, "Not Found")
			return
		}

		if err := ctx.Head(http.StatusOK, ContentTypeByExt(name), int(size)); err != nil {
			return
		}
		send(ctx.FD(), fd, size)
	}
}

// ContentTypeByExt returns the MIME type for a file name's extension.
func ContentTypeByExt(filename string) string {
	ext := filepath.Ext(filename)
	switch ext {
	case ".html", ".htm":
		return "text/html; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".js":
		return "application/javascript; charset=utf-8"
	case ".json":
		return "application/json; charset=utf-8"
	case ".xml":
		return "application/xml; charset=utf-8"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".svg":
		return "image/svg+xml"
	case ".ico":
		return "image/x-icon"
	case ".pdf":
		return "application/pdf"
	case ".zip":
		return "application/zip"
	case ".gz":
		return "application/gzip"
	case ".txt":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
