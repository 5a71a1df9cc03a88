package runtime

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tjfontaine/deep-interviewer/internal/archive"
	"github.com/tjfontaine/deep-interviewer/internal/config"
	"github.com/tjfontaine/deep-interviewer/internal/storage"
	"github.com/tjfontaine/deep-interviewer/internal/storage/cached"
	"github.com/tjfontaine/deep-interviewer/internal/storage/memory"
	"github.com/tjfontaine/deep-interviewer/internal/storage/sqldb"
)

// OpenStore opens the configured checkpoint and invite store, behind a read
// cache when storage.cache_size is positive.
func OpenStore(cfg config.StorageConfig) (storage.Store, error) {
	var store storage.Store
	switch cfg.Driver {
	case "memory":
		store = memory.New()
	case "sqlite", "postgres":
		if cfg.Driver == "sqlite" {
			if err := ensureDir(cfg.DSN); err != nil {
				return nil, err
			}
		}
		s, err := sqldb.New(sqldb.Config{Driver: cfg.Driver, DSN: cfg.DSN})
		if err != nil {
			return nil, fmt.Errorf("open %s storage: %w", cfg.Driver, err)
		}
		store = s
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}

	if cfg.CacheSize <= 0 {
		return store, nil
	}
	c, err := cached.New(store, cfg.CacheSize)
	if err != nil {
		store.Close()
		return nil, err
	}
	return c, nil
}

// ensureDir creates the parent directory of a file-backed SQLite DSN.
func ensureDir(dsn string) error {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	return nil
}

func (a *App) initArchiver() error {
	if a.archiver != nil || !a.cfg.Archive.Enabled {
		return nil
	}
	arc, err := archive.New(archive.Config{
		Endpoint:  a.cfg.Archive.Endpoint,
		Region:    a.cfg.Archive.Region,
		AccessKey: a.cfg.Archive.AccessKey,
		SecretKey: a.cfg.Archive.SecretKey,
		Bucket:    a.cfg.Archive.Bucket,
		Prefix:    a.cfg.Archive.Prefix,
		UseSSL:    a.cfg.Archive.UseSSL,
	})
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	a.archiver = arc
	return nil
}
