package migrate

import (
	"io/fs"
	"path/filepath"
	"testing"
)

func TestResolveSourceEmbedded(t *testing.T) {
	source, dir, err := resolveSource("")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if source == nil || dir != "." {
		t.Fatalf("expected embedded source, got %v %q", source, dir)
	}
	files, err := fs.Glob(source, "*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(files) < 2 {
		t.Fatalf("expected embedded migrations, got %v", files)
	}
}

func TestResolveSourceDirectory(t *testing.T) {
	dir := t.TempDir()
	source, resolved, err := resolveSource(dir)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if source != nil || resolved != dir {
		t.Fatalf("expected directory source, got %v %q", source, resolved)
	}
	if _, _, err := resolveSource(filepath.Join(dir, "missing")); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestNewValidatesArguments(t *testing.T) {
	if _, err := New(nil, "postgres://localhost/db", "", nil); err == nil {
		t.Fatal("expected error for nil pool")
	}
}
