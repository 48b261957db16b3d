package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"forgefuzz/config"
	"forgefuzz/internal/utils"
)

const (
	targetFileName   = "target"
	workspaceDirName = "workspace"
)

// Fetcher streams a remote target blob to a local file.
type Fetcher interface {
	Fetch(ctx context.Context, targetID, destPath string) error
}

// Cache materializes remote targets under a shared root, one directory per
// target id. Same-id callers are serialized; distinct ids proceed in
// parallel.
type Cache struct {
	logger  *zap.Logger
	root    string
	maxSize int64
	fetcher Fetcher

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewCache(logger *zap.Logger, appConfig *config.AppConfig, fetcher Fetcher) (*Cache, error) {
	root, err := filepath.Abs(appConfig.Cache.Root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache root: %w", err)
	}
	return &Cache{
		logger:  logger,
		root:    root,
		maxSize: appConfig.Cache.MaxSizeBytes,
		fetcher: fetcher,
		locks:   make(map[string]*sync.Mutex),
	}, nil
}

func (c *Cache) lockFor(targetID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[targetID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[targetID] = lock
	}
	return lock
}

// Get returns the local path for a target, downloading and extracting it on
// first use. Archives yield the extracted workspace directory; plain blobs
// yield the raw file. A hit refreshes the entry's access time.
func (c *Cache) Get(ctx context.Context, targetID string) (string, error) {
	lock := c.lockFor(targetID)
	lock.Lock()
	defer lock.Unlock()

	entryDir := filepath.Join(c.root, targetID)
	targetFile := filepath.Join(entryDir, targetFileName)
	workspaceDir := filepath.Join(entryDir, workspaceDirName)

	if _, err := os.Stat(targetFile); err == nil {
		c.touch(entryDir, targetFile)
		if info, err := os.Stat(workspaceDir); err == nil && info.IsDir() {
			c.logger.Debug("cache hit", zap.String("target_id", targetID), zap.String("path", workspaceDir))
			return workspaceDir, nil
		}
		c.logger.Debug("cache hit", zap.String("target_id", targetID), zap.String("path", targetFile))
		return targetFile, nil
	}

	c.logger.Info("cache miss, downloading target", zap.String("target_id", targetID))
	if err := os.MkdirAll(entryDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create cache entry: %w", err)
	}
	if err := c.fetcher.Fetch(ctx, targetID, targetFile); err != nil {
		os.RemoveAll(entryDir)
		return "", &DownloadError{TargetID: targetID, Err: err}
	}

	kind := detectArchive(targetFile)
	if kind == archiveNone {
		return targetFile, nil
	}
	if err := os.MkdirAll(workspaceDir, 0755); err != nil {
		os.RemoveAll(entryDir)
		return "", err
	}
	var err error
	switch kind {
	case archiveTarGz:
		err = utils.UnpackTarGz(targetFile, workspaceDir)
	case archiveZip:
		err = utils.Unzip(targetFile, workspaceDir)
	default:
		err = utils.UnpackTar(targetFile, workspaceDir)
	}
	if err != nil {
		os.RemoveAll(entryDir)
		return "", &DownloadError{TargetID: targetID, Err: fmt.Errorf("extract: %w", err)}
	}
	c.logger.Info("target extracted", zap.String("target_id", targetID), zap.String("workspace", workspaceDir))
	return workspaceDir, nil
}

// Cleanup removes the cache entry owning localPath. Paths outside the cache
// root are logged and skipped.
func (c *Cache) Cleanup(localPath string) {
	abs, err := filepath.Abs(localPath)
	if err != nil {
		c.logger.Warn("cleanup got unresolvable path", zap.String("path", localPath), zap.Error(err))
		return
	}
	rel, err := filepath.Rel(c.root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		c.logger.Warn("cleanup path not under cache root, skipping",
			zap.String("path", localPath),
			zap.String("root", c.root),
		)
		return
	}
	// first path element under the root is the entry directory
	entryDir := filepath.Join(c.root, strings.Split(rel, string(filepath.Separator))[0])
	if err := os.RemoveAll(entryDir); err != nil {
		c.logger.Warn("failed to remove cache entry", zap.String("dir", entryDir), zap.Error(err))
		return
	}
	c.logger.Debug("cache entry removed", zap.String("dir", entryDir))
}

// Size sums the on-disk bytes under the cache root.
func (c *Cache) Size() (int64, error) {
	var total int64
	err := filepath.Walk(c.root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

type cacheEntry struct {
	dir   string
	mtime time.Time
	size  int64
}

// Evict removes least-recently used entries until the cache is under
// budget. Best effort; a failed removal is logged and the pass continues.
func (c *Cache) Evict() {
	total, err := c.Size()
	if err != nil || total <= c.maxSize {
		return
	}
	entries, err := c.listEntries()
	if err != nil {
		c.logger.Warn("eviction scan failed", zap.Error(err))
		return
	}
	for _, entry := range entries {
		if total <= c.maxSize {
			break
		}
		lock := c.lockFor(filepath.Base(entry.dir))
		lock.Lock()
		err := os.RemoveAll(entry.dir)
		lock.Unlock()
		if err != nil {
			c.logger.Warn("failed to evict cache entry", zap.String("dir", entry.dir), zap.Error(err))
			continue
		}
		total -= entry.size
		c.logger.Info("evicted cache entry",
			zap.String("dir", entry.dir),
			zap.Int64("freed_bytes", entry.size),
		)
	}
}

// listEntries returns one record per target directory, least recently
// accessed first, using mtime as the access-time proxy.
func (c *Cache) listEntries() ([]cacheEntry, error) {
	dirEntries, err := os.ReadDir(c.root)
	if err != nil {
		return nil, err
	}
	var entries []cacheEntry
	for _, de := range dirEntries {
		if !de.IsDir() {
			continue
		}
		dir := filepath.Join(c.root, de.Name())
		info, err := os.Stat(dir)
		if err != nil {
			continue
		}
		size := dirSize(dir)
		entries = append(entries, cacheEntry{dir: dir, mtime: info.ModTime(), size: size})
	}
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].mtime.Before(entries[j-1].mtime); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
	return entries, nil
}

func dirSize(dir string) int64 {
	var total int64
	filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total
}

func (c *Cache) touch(paths ...string) {
	now := time.Now()
	for _, p := range paths {
		if err := os.Chtimes(p, now, now); err != nil {
			c.logger.Debug("failed to refresh access time", zap.String("path", p), zap.Error(err))
		}
	}
}

type archiveKind int

const (
	archiveNone archiveKind = iota
	archiveTar
	archiveTarGz
	archiveZip
)

func detectArchive(path string) archiveKind {
	if utils.IsTarGz(path) {
		return archiveTarGz
	}
	if utils.IsZip(path) {
		return archiveZip
	}
	f, err := os.Open(path)
	if err != nil {
		return archiveNone
	}
	defer f.Close()
	// ustar magic at offset 257
	magic := make([]byte, 5)
	if _, err := f.ReadAt(magic, 257); err != nil {
		return archiveNone
	}
	if string(magic) == "ustar" {
		return archiveTar
	}
	return archiveNone
}
