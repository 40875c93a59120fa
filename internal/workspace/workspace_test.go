package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInitializeCreatesLayout(t *testing.T) {
	root := filepath.Join(t.TempDir(), "artifacts")

	if err := Initialize(root); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	for _, dir := range RequiredDirectories() {
		info, err := os.Stat(filepath.Join(root, dir))
		if err != nil {
			t.Fatalf("stat %s: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("%s is not a directory", dir)
		}
	}

	ok, err := IsInitialized(root)
	if err != nil {
		t.Fatalf("IsInitialized: %v", err)
	}
	if !ok {
		t.Fatal("expected initialized workspace")
	}
}

func TestInitializeIsIdempotent(t *testing.T) {
	root := t.TempDir()

	if err := Initialize(root); err != nil {
		t.Fatalf("first Initialize: %v", err)
	}
	if err := Initialize(root); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
}

func TestIsInitializedDetectsMissingDir(t *testing.T) {
	root := t.TempDir()

	if err := Initialize(root); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := os.RemoveAll(StateDir(root)); err != nil {
		t.Fatalf("remove state dir: %v", err)
	}

	ok, err := IsInitialized(root)
	if err != nil {
		t.Fatalf("IsInitialized: %v", err)
	}
	if ok {
		t.Fatal("expected uninitialized workspace after removal")
	}
}

func TestIsInitializedRejectsFileAsDir(t *testing.T) {
	root := t.TempDir()

	if err := Initialize(root); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := os.RemoveAll(LogsDir(root)); err != nil {
		t.Fatalf("remove logs dir: %v", err)
	}
	if err := os.WriteFile(LogsDir(root), []byte("not a dir"), 0600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	ok, err := IsInitialized(root)
	if err != nil {
		t.Fatalf("IsInitialized: %v", err)
	}
	if ok {
		t.Fatal("expected uninitialized workspace when entry is a file")
	}
}
