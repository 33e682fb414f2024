package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStore_LoadMissing_ReturnsNil(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, "test")

	m, err := s.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if m != nil {
		t.Errorf("Load() of missing manifest = %+v, want nil", m)
	}
}

func TestStore_SaveThenLoad_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, "v1.0.0")

	if _, err := s.Load(); err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	entry := FileEntry{Path: "main.go", LastModified: time.Now().Truncate(time.Second), ContentHash: "abc123", ChunkCount: 2}
	if err := s.UpdateFile(entry); err != nil {
		t.Fatalf("UpdateFile() failed: %v", err)
	}

	s2 := NewStore(dir, "v1.0.0")
	m, err := s2.Load()
	if err != nil {
		t.Fatalf("second Load() failed: %v", err)
	}
	if m == nil {
		t.Fatal("Load() after save = nil, want populated manifest")
	}
	got, ok := m.Files["main.go"]
	if !ok {
		t.Fatal("manifest missing main.go entry")
	}
	if got.ContentHash != "abc123" || got.ChunkCount != 2 {
		t.Errorf("round-tripped entry = %+v, want hash=abc123 chunkCount=2", got)
	}
	if m.FormatVersion != FormatVersion {
		t.Errorf("FormatVersion = %d, want %d", m.FormatVersion, FormatVersion)
	}
	if m.HashAlgorithm != HashAlgorithm {
		t.Errorf("HashAlgorithm = %q, want %q", m.HashAlgorithm, HashAlgorithm)
	}
}

func TestStore_Load_HashAlgorithmMismatch_DeletesAndReturnsNil(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	seed := `{"formatVersion":1,"hashAlgorithm":"md5-8","files":{}}`
	if err := os.WriteFile(path, []byte(seed), 0o644); err != nil {
		t.Fatalf("seed manifest: %v", err)
	}

	s := NewStore(dir, "test")
	m, err := s.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if m != nil {
		t.Errorf("Load() with stale HashAlgorithm = %+v, want nil", m)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("stale manifest should have been deleted")
	}
}

func TestStore_Load_FormatVersionMismatch_DeletesAndReturnsNil(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	if err := os.WriteFile(path, []byte(`{"formatVersion":999,"files":{}}`), 0o644); err != nil {
		t.Fatalf("seed manifest: %v", err)
	}

	s := NewStore(dir, "test")
	m, err := s.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if m != nil {
		t.Errorf("Load() with stale FormatVersion = %+v, want nil", m)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("stale manifest should have been deleted")
	}
}

func TestStore_Load_CorruptJSON_ReturnsNil(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	if err := os.WriteFile(path, []byte(`not json`), 0o644); err != nil {
		t.Fatalf("seed manifest: %v", err)
	}

	s := NewStore(dir, "test")
	m, err := s.Load()
	if err != nil {
		t.Fatalf("Load() on corrupt manifest returned error, want nil error + nil manifest: %v", err)
	}
	if m != nil {
		t.Errorf("Load() on corrupt manifest = %+v, want nil", m)
	}
}

func TestStore_RemoveFile(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, "test")
	_, _ = s.Load()

	if err := s.UpdateFile(FileEntry{Path: "a.go", ContentHash: "h1"}); err != nil {
		t.Fatalf("UpdateFile: %v", err)
	}
	if err := s.RemoveFile("a.go"); err != nil {
		t.Fatalf("RemoveFile: %v", err)
	}

	files, err := s.GetIndexedFiles()
	if err != nil {
		t.Fatalf("GetIndexedFiles: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("GetIndexedFiles() after RemoveFile = %v, want empty", files)
	}
}

func TestStore_UpdateGitState(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, "test")
	_, _ = s.Load()

	if err := s.UpdateGitState("deadbeef", "main"); err != nil {
		t.Fatalf("UpdateGitState: %v", err)
	}

	s2 := NewStore(dir, "test")
	m, err := s2.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.GitState == nil || m.GitState.Commit != "deadbeef" || m.GitState.Branch != "main" {
		t.Errorf("GitState = %+v, want {deadbeef main}", m.GitState)
	}
}

func TestStore_GetChangedFiles_SkipsUnchangedMtime(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, "test")
	_, _ = s.Load()

	mtime := time.Now().Truncate(time.Second)
	if err := s.UpdateFile(FileEntry{Path: "a.go", LastModified: mtime, ContentHash: "h1"}); err != nil {
		t.Fatalf("UpdateFile: %v", err)
	}

	result, err := s.GetChangedFiles([]CurrentFile{{Path: "a.go", LastModified: mtime}})
	if err != nil {
		t.Fatalf("GetChangedFiles: %v", err)
	}
	if len(result.Added) != 0 || len(result.Modified) != 0 || len(result.Deleted) != 0 {
		t.Errorf("GetChangedFiles() = %+v, want no changes", result)
	}
}

func TestStore_GetChangedFiles_TouchedButSameHash_UpdatesMtimeSilently(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, "test")
	_, _ = s.Load()

	oldMtime := time.Now().Add(-time.Hour).Truncate(time.Second)
	newMtime := time.Now().Truncate(time.Second)
	if err := s.UpdateFile(FileEntry{Path: "a.go", LastModified: oldMtime, ContentHash: "h1"}); err != nil {
		t.Fatalf("UpdateFile: %v", err)
	}

	result, err := s.GetChangedFiles([]CurrentFile{{
		Path:         "a.go",
		LastModified: newMtime,
		ContentHash:  func() (string, error) { return "h1", nil },
	}})
	if err != nil {
		t.Fatalf("GetChangedFiles: %v", err)
	}
	if len(result.Modified) != 0 {
		t.Errorf("GetChangedFiles() marked touched-but-unchanged file as Modified: %+v", result)
	}

	files, _ := s.GetIndexedFiles()
	if len(files) != 1 {
		t.Fatalf("expected one indexed file, got %v", files)
	}
}

func TestStore_GetChangedFiles_HashMismatch_Modified(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, "test")
	_, _ = s.Load()

	oldMtime := time.Now().Add(-time.Hour).Truncate(time.Second)
	newMtime := time.Now().Truncate(time.Second)
	if err := s.UpdateFile(FileEntry{Path: "a.go", LastModified: oldMtime, ContentHash: "h1"}); err != nil {
		t.Fatalf("UpdateFile: %v", err)
	}

	result, err := s.GetChangedFiles([]CurrentFile{{
		Path:         "a.go",
		LastModified: newMtime,
		ContentHash:  func() (string, error) { return "h2", nil },
	}})
	if err != nil {
		t.Fatalf("GetChangedFiles: %v", err)
	}
	if len(result.Modified) != 1 || result.Modified[0] != "a.go" {
		t.Errorf("GetChangedFiles() = %+v, want Modified=[a.go]", result)
	}
}

func TestStore_GetChangedFiles_AddedAndDeleted(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, "test")
	_, _ = s.Load()

	if err := s.UpdateFile(FileEntry{Path: "old.go", ContentHash: "h1"}); err != nil {
		t.Fatalf("UpdateFile: %v", err)
	}

	result, err := s.GetChangedFiles([]CurrentFile{{Path: "new.go", LastModified: time.Now()}})
	if err != nil {
		t.Fatalf("GetChangedFiles: %v", err)
	}
	if len(result.Added) != 1 || result.Added[0] != "new.go" {
		t.Errorf("Added = %v, want [new.go]", result.Added)
	}
	if len(result.Deleted) != 1 || result.Deleted[0] != "old.go" {
		t.Errorf("Deleted = %v, want [old.go]", result.Deleted)
	}
}

func TestStore_Clear(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, "test")
	_, _ = s.Load()

	if err := s.UpdateFile(FileEntry{Path: "a.go", ContentHash: "h1"}); err != nil {
		t.Fatalf("UpdateFile: %v", err)
	}
	if err := s.UpdateGitState("abc", "main"); err != nil {
		t.Fatalf("UpdateGitState: %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	files, _ := s.GetIndexedFiles()
	if len(files) != 0 {
		t.Errorf("GetIndexedFiles() after Clear = %v, want empty", files)
	}

	s2 := NewStore(dir, "test")
	m, _ := s2.Load()
	if m.GitState != nil {
		t.Errorf("GitState after Clear = %+v, want nil", m.GitState)
	}
}

func TestStore_Save_NoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, "test")
	_, _ = s.Load()
	if err := s.UpdateFile(FileEntry{Path: "a.go", ContentHash: "h1"}); err != nil {
		t.Fatalf("UpdateFile: %v", err)
	}

	if _, err := os.Stat(s.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp manifest file should not remain after a successful save")
	}
}
