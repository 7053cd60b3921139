// Package local implements publish.Publisher against a plain local
// filesystem tree, reproducing papr/publishers.py's LocalPublisher;
// useful for single-host deployments and for integration tests that
// don't want to talk to S3.
package local

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/projectatomic/papr/pkg/publish"
)

// Publisher copies staging directories into a root directory served
// however the site operator chooses (e.g. a web server document root).
type Publisher struct {
	RootDir string
}

func New(rootDir string) *Publisher {
	return &Publisher{RootDir: rootDir}
}

func (p *Publisher) PublishDir(ctx context.Context, dir, destKey string) (string, error) {
	finalDir := filepath.Join(p.RootDir, destKey)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", errors.Wrapf(err, "reading %q", dir)
	}
	if len(entries) == 0 {
		return "", errors.Errorf("publish: %q is empty", dir)
	}

	if err := copyTree(dir, finalDir); err != nil {
		return "", errors.Wrapf(err, "copying %q to %q", dir, finalDir)
	}

	landing := "index.html"
	if len(entries) == 1 {
		landing = entries[0].Name()
	}

	abs, err := filepath.Abs(filepath.Join(finalDir, landing))
	if err != nil {
		return "", err
	}
	return "file://" + abs, nil
}

func (p *Publisher) PublishBlob(ctx context.Context, data []byte, destKey, contentType string) (string, error) {
	full := filepath.Join(p.RootDir, destKey)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", errors.Wrapf(err, "creating parent of %q", full)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", errors.Wrapf(err, "writing %q", full)
	}
	abs, err := filepath.Abs(full)
	if err != nil {
		return "", err
	}
	return "file://" + abs, nil
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
