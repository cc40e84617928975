package loader

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
)

// GraphFile is one markdown source to ingest. The content is fetched
// lazily through the associated GraphFileLoader.
type GraphFile struct {
	ID       string
	FilePath string
	Loader   GraphFileLoader
}

// GetText retrieves the raw text content of the file using its Loader.
func (f *GraphFile) GetText(ctx context.Context) ([]byte, error) {
	if f.Loader == nil {
		return nil, fmt.Errorf("file %s has no loader", f.FilePath)
	}
	return f.Loader.GetFileText(ctx, *f)
}

// GraphFileLoader defines the interface for loading the contents of a GraphFile.
// Implementations may load files from disk, cloud storage, or other sources.
type GraphFileLoader interface {
	GetFileText(ctx context.Context, file GraphFile) ([]byte, error)
}

// Source lists the markdown files of an ingestion run, in a stable order.
type Source interface {
	GraphFileLoader
	ListFiles(ctx context.Context) ([]GraphFile, error)
}

// IsMarkdown reports whether p names a markdown file.
func IsMarkdown(p string) bool {
	switch strings.ToLower(path.Ext(p)) {
	case ".md", ".markdown":
		return true
	}
	return false
}

// SortFiles orders files by path.
func SortFiles(files []GraphFile) {
	sort.Slice(files, func(i, j int) bool { return files[i].FilePath < files[j].FilePath })
}

func CacheKey(file GraphFile) string {
	if file.ID != "" {
		return file.ID + ":" + file.FilePath
	}
	return file.FilePath
}

// Location is a parsed ingestion target: a local directory or an S3 prefix.
type Location struct {
	Bucket string
	Prefix string
	Dir    string
}

// IsS3 reports whether the location points at object storage.
func (l Location) IsS3() bool { return l.Bucket != "" }

// ParseLocation accepts "s3://bucket/prefix" or a filesystem path.
func ParseLocation(target string) (Location, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return Location{}, fmt.Errorf("empty ingestion target")
	}
	rest, ok := strings.CutPrefix(target, "s3://")
	if !ok {
		return Location{Dir: target}, nil
	}
	bucket, prefix, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return Location{}, fmt.Errorf("missing bucket in %q", target)
	}
	return Location{Bucket: bucket, Prefix: prefix}, nil
}
