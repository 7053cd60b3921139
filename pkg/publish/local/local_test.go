package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPublishDirSingleFileIsLandingObject(t *testing.T) {
	src := t.TempDir()
	os.WriteFile(filepath.Join(src, "only.log"), []byte("hi"), 0o644)

	root := t.TempDir()
	p := New(root)

	url, err := p.PublishDir(context.Background(), src, "repo/123")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !strings.HasSuffix(url, "only.log") {
		t.Errorf("expected landing url to point at the sole file, got %s", url)
	}
	if _, err := os.Stat(filepath.Join(root, "repo/123/only.log")); err != nil {
		t.Errorf("expected file copied into root: %v", err)
	}
}

func TestPublishDirMultiFileLandsOnIndex(t *testing.T) {
	src := t.TempDir()
	os.WriteFile(filepath.Join(src, "a.log"), []byte("a"), 0o644)
	os.WriteFile(filepath.Join(src, "index.html"), []byte("<html/>"), 0o644)

	root := t.TempDir()
	p := New(root)

	url, err := p.PublishDir(context.Background(), src, "repo/456")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !strings.HasSuffix(url, "index.html") {
		t.Errorf("expected landing url to be index.html, got %s", url)
	}
}

func TestPublishBlob(t *testing.T) {
	root := t.TempDir()
	p := New(root)
	url, err := p.PublishBlob(context.Background(), []byte("data"), "repo/blob.txt", "text/plain")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !strings.HasSuffix(url, "blob.txt") {
		t.Errorf("unexpected url: %s", url)
	}
	got, err := os.ReadFile(filepath.Join(root, "repo/blob.txt"))
	if err != nil || string(got) != "data" {
		t.Errorf("unexpected file contents: %q, err=%v", got, err)
	}
}
