package cache

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/samber/mo"

	appLog "caldavics/internal/log"
)

// FileStore persists the payload in one file. The file's modification time
// is the only freshness signal; no metadata is stored beside it.
type FileStore struct {
	path string
	ttl  time.Duration
	now  Clock
}

// NewFileStore creates a FileStore at path. A non-positive ttl falls back to
// DefaultTTL; a nil clock uses time.Now.
func NewFileStore(path string, ttl time.Duration, now Clock) *FileStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &FileStore{path: path, ttl: ttl, now: now}
}

// Path returns the cache file location.
func (s *FileStore) Path() string {
	return s.path
}

// Read returns the cached payload if it is no older than the TTL, else "".
func (s *FileStore) Read(_ context.Context) string {
	res := s.load()
	if res.IsError() {
		err := res.Error()
		switch {
		case errors.Is(err, fs.ErrNotExist):
			appLog.Info("cache file does not exist", "path", s.path)
		case errors.Is(err, ErrExpired):
			appLog.Info("cache has expired", "path", s.path, "ttl", s.ttl)
		default:
			appLog.Info("cache read failed; treating as miss", "path", s.path, "err", err)
		}
	}
	return res.OrElse("")
}

func (s *FileStore) load() mo.Result[string] {
	info, err := os.Stat(s.path)
	if err != nil {
		return mo.Err[string](err)
	}
	if !fresh(s.now(), info.ModTime(), s.ttl) {
		return mo.Err[string](ErrExpired)
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return mo.Err[string](err)
	}
	appLog.Debug("reading file cache", "path", s.path, "bytes", len(data))
	return mo.Ok(string(data))
}

// Write replaces the cached payload. The new content lands via a temp file
// and rename so readers never observe a partial file.
func (s *FileStore) Write(_ context.Context, payload string) {
	appLog.Debug("writing cache file", "path", s.path, "bytes", len(payload))
	if err := s.write([]byte(payload)); err != nil {
		appLog.Error("cache write failed", err, "path", s.path)
	}
}

func (s *FileStore) write(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}

var _ Store = (*FileStore)(nil)
