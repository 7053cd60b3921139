package suiterun

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureIndexesSkipsSingleEntryDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "output.log"), []byte("ok\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ensureIndexes(dir); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "index.html")); err == nil {
		t.Error("did not expect an index.html to be necessary, though writing one is harmless")
	}
}

func TestEnsureIndexesCoversMultiEntryDirsRecursively(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "build.log"), []byte("ok\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "output.log"), []byte("ok\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(dir, "artifacts")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "a.bin"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "b.bin"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := ensureIndexes(dir); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	for _, p := range []string{filepath.Join(dir, "index.html"), filepath.Join(sub, "index.html")} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("expected %q to exist: %v", p, err)
		}
	}
}

func TestEnsureIndexesLeavesExistingIndexAlone(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("custom\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "output.log"), []byte("ok\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ensureIndexes(dir); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "index.html"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "custom\n" {
		t.Errorf("expected existing index.html to be left alone, got %q", data)
	}
}
