package io

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/OFFIS-RIT/medgraph/pkg/loader"

	"golang.org/x/sync/singleflight"
)

// IOGraphFileLoader loads markdown files from a local directory tree with
// caching.
type IOGraphFileLoader struct {
	root string

	cache   map[string][]byte
	cacheMu sync.RWMutex
	group   singleflight.Group
}

// NewIOGraphFileLoader creates a loader rooted at dir. A single file path
// is accepted as well.
func NewIOGraphFileLoader(root string) *IOGraphFileLoader {
	return &IOGraphFileLoader{
		root:  root,
		cache: make(map[string][]byte),
	}
}

var _ loader.Source = (*IOGraphFileLoader)(nil)

// ListFiles walks the root and returns all markdown files sorted by path.
func (l *IOGraphFileLoader) ListFiles(ctx context.Context) ([]loader.GraphFile, error) {
	info, err := os.Stat(l.root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", l.root, err)
	}
	if !info.IsDir() {
		return []loader.GraphFile{{ID: l.root, FilePath: l.root, Loader: l}}, nil
	}

	var files []loader.GraphFile
	err = filepath.WalkDir(l.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !loader.IsMarkdown(p) {
			return nil
		}
		files = append(files, loader.GraphFile{ID: p, FilePath: p, Loader: l})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", l.root, err)
	}
	loader.SortFiles(files)
	return files, nil
}

// GetFileText reads the file content from the filesystem. Results are cached.
func (l *IOGraphFileLoader) GetFileText(ctx context.Context, file loader.GraphFile) ([]byte, error) {
	key := loader.CacheKey(file)

	l.cacheMu.RLock()
	if cached, ok := l.cache[key]; ok {
		l.cacheMu.RUnlock()
		return cached, nil
	}
	l.cacheMu.RUnlock()

	result, err, _ := l.group.Do(key, func() (any, error) {
		l.cacheMu.RLock()
		if cached, ok := l.cache[key]; ok {
			l.cacheMu.RUnlock()
			return cached, nil
		}
		l.cacheMu.RUnlock()

		result, err := os.ReadFile(file.FilePath)
		if err != nil {
			return nil, err
		}

		l.cacheMu.Lock()
		l.cache[key] = result
		l.cacheMu.Unlock()

		return result, nil
	})
	if err != nil {
		return nil, err
	}

	return result.([]byte), nil
}
