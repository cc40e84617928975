package io

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestListFiles_MarkdownOnlySorted(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string]string{
		"b.md":        "# B",
		"a.md":        "# A",
		"notes.txt":   "skip",
		"sub/c.md":    "# C",
		"sub/img.png": "skip",
	} {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	l := NewIOGraphFileLoader(dir)
	files, err := l.ListFiles(context.Background())
	if err != nil {
		t.Fatalf("ListFiles() error = %v", err)
	}
	want := []string{filepath.Join(dir, "a.md"), filepath.Join(dir, "b.md"), filepath.Join(dir, "sub", "c.md")}
	if len(files) != len(want) {
		t.Fatalf("got %d files, want %d", len(files), len(want))
	}
	for i, f := range files {
		if f.FilePath != want[i] {
			t.Fatalf("file %d = %s, want %s", i, f.FilePath, want[i])
		}
	}

	text, err := files[0].GetText(context.Background())
	if err != nil {
		t.Fatalf("GetText() error = %v", err)
	}
	if string(text) != "# A" {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestListFiles_SingleFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "paper.md")
	if err := os.WriteFile(p, []byte("# Paper"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	files, err := NewIOGraphFileLoader(p).ListFiles(context.Background())
	if err != nil {
		t.Fatalf("ListFiles() error = %v", err)
	}
	if len(files) != 1 || files[0].FilePath != p {
		t.Fatalf("unexpected files %+v", files)
	}
}

func TestGetFileText_Missing(t *testing.T) {
	l := NewIOGraphFileLoader(t.TempDir())
	files, err := l.ListFiles(context.Background())
	if err != nil || len(files) != 0 {
		t.Fatalf("expected empty listing, got %v, %v", files, err)
	}
	if _, err := NewIOGraphFileLoader("/does/not/exist").ListFiles(context.Background()); err == nil {
		t.Fatalf("expected error for missing root")
	}
}
