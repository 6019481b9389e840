package blobstore

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/hszk-dev/mediacache/internal/domain/repository"
)

func writeBlob(t *testing.T, s *Store, data string) string {
	t.Helper()

	w, err := s.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := w.Write([]byte(data)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if w.Size() != int64(len(data)) {
		t.Fatalf("Size() = %d, want %d", w.Size(), len(data))
	}
	id, err := w.Commit()
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	return id
}

func TestStore_CommitAndOpen(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	id := writeBlob(t, s, "hello world")
	if !s.Exists(id) {
		t.Fatalf("Exists(%s) = false after commit", id)
	}

	r, err := s.Open(id)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()

	buf := make([]byte, 5)
	if _, err := r.ReadAt(buf, 6); err != nil && err != io.EOF {
		t.Fatalf("ReadAt() error = %v", err)
	}
	if string(buf) != "world" {
		t.Errorf("ReadAt() got %q, want %q", buf, "world")
	}

	if _, err := os.Stat(filepath.Join(s.Dir(), id[:2], id)); err != nil {
		t.Errorf("blob not stored under shard dir: %v", err)
	}
}

func TestStore_DiscardLeavesNothing(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	w, err := s.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	_, _ = w.Write([]byte("partial"))
	if err := w.Discard(); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}

	ids, err := s.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("List() = %v, want empty", ids)
	}
	entries, _ := os.ReadDir(filepath.Join(s.Dir(), tmpDirName))
	if len(entries) != 0 {
		t.Errorf("temp dir has %d entries after discard", len(entries))
	}
}

func TestStore_ListAndRemove(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	a := writeBlob(t, s, "a")
	b := writeBlob(t, s, "b")

	// An in-flight writer must not show up in List.
	w, err := s.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer w.Discard()

	ids, err := s.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("List() returned %d ids, want 2", len(ids))
	}

	if err := s.Remove(a); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := s.Remove(a); err != nil {
		t.Errorf("Remove() of missing blob error = %v, want nil", err)
	}
	if s.Exists(a) {
		t.Error("blob still exists after Remove")
	}
	if !s.Exists(b) {
		t.Error("unrelated blob removed")
	}
}

func TestStore_OpenMissing(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = s.Open("0b8f4f3e-6d8e-4a53-9a43-0b1e3a1a8f00")
	if !errors.Is(err, repository.ErrBlobNotFound) {
		t.Errorf("Open() error = %v, want ErrBlobNotFound", err)
	}
}

func TestStore_RejectsInvalidIDs(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for _, id := range []string{"", "../escape", "a/b", "x.y"} {
		if _, err := s.Open(id); err == nil {
			t.Errorf("Open(%q) expected error", id)
		}
	}
}

func TestNew_ClearsStaleTempFiles(t *testing.T) {
	dir := t.TempDir()
	tmp := filepath.Join(dir, tmpDirName)
	if err := os.MkdirAll(tmp, 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tmp, "blob-stale"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := New(dir); err != nil {
		t.Fatalf("New() error = %v", err)
	}

	entries, _ := os.ReadDir(tmp)
	if len(entries) != 0 {
		t.Errorf("stale temp files survived: %d", len(entries))
	}
}
