package source

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Cache is a key->artifact file store. Keys are fingerprints of the request
// parameters, so identical requests always resolve to the same file and a
// parameter change can never serve another request's artifact. Entries are
// replaced wholesale, never mutated.
type Cache struct {
	dir string
}

// NewCache opens (creating if needed) a cache rooted at dir.
func NewCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// Get returns the cached artifact for key and the time it was stored.
func (c *Cache) Get(key string) ([]byte, time.Time, bool) {
	path := c.path(key)
	info, err := os.Stat(path)
	if err != nil {
		return nil, time.Time{}, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, false
	}
	return data, info.ModTime(), true
}

// Put stores an artifact under key. The write is atomic (temp file plus
// rename) so a crashed build never leaves a truncated entry behind.
func (c *Cache) Put(key string, data []byte) error {
	tmp, err := os.CreateTemp(c.dir, "cache-*")
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("cache put: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("cache put: %w", err)
	}
	if err := os.Rename(tmpName, c.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+".artifact")
}
