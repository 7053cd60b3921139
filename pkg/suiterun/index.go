package suiterun

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/projectatomic/papr/pkg/templates"
)

// ensureIndexes walks dir and writes an index.html into it and every
// subdirectory that holds more than one entry and doesn't already have
// one, reproducing utils/indexer.py's recursive listing generator. Both
// publishers fall back to "index.html" as the landing object whenever a
// directory holds more than one entry; without this, that link would be
// dead. A directory with a single entry is left as is, so that entry
// stays the landing object.
func ensureIndexes(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrapf(err, "reading %q", dir)
	}

	if len(entries) > 1 && !hasIndex(entries) {
		if err := writeIndex(dir, entries); err != nil {
			return err
		}
	}

	for _, e := range entries {
		if e.IsDir() {
			if err := ensureIndexes(filepath.Join(dir, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

func hasIndex(entries []os.DirEntry) bool {
	for _, e := range entries {
		if e.Name() == "index.html" || e.Name() == "index.htm" {
			return true
		}
	}
	return false
}

func writeIndex(dir string, entries []os.DirEntry) error {
	list := make([]templates.IndexEntry, 0, len(entries))
	for _, e := range entries {
		href := e.Name()
		if e.IsDir() {
			href += "/"
		}
		list = append(list, templates.IndexEntry{Name: e.Name(), Href: href})
	}
	body, err := templates.RenderDirIndex(list)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "index.html"), body, 0o644)
}
