package changedetect

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/semindex/semindex/internal/manifest"
	"github.com/semindex/semindex/internal/scanner"
)

func mustScanner(t *testing.T) *scanner.Scanner {
	t.Helper()
	sc, err := scanner.New()
	if err != nil {
		t.Fatalf("scanner.New() failed: %v", err)
	}
	return sc
}

func TestDetect_NoManifest_ReturnsFull(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := manifest.NewStore(dir, "test")
	det := New(dir, mustScanner(t), store, dir)

	result, err := det.Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect() failed: %v", err)
	}
	if result.Reason != ReasonFull {
		t.Errorf("Reason = %q, want %q", result.Reason, ReasonFull)
	}
	if len(result.Added) != 1 || result.Added[0] != "a.go" {
		t.Errorf("Added = %v, want [a.go]", result.Added)
	}
}

func TestDetect_Mtime_NoGitState_DetectsModified(t *testing.T) {
	dir := t.TempDir()
	aPath := filepath.Join(dir, "a.go")
	if err := os.WriteFile(aPath, []byte("package a\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := manifest.NewStore(dir, "test")
	if _, err := store.Load(); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(aPath)
	if err != nil {
		t.Fatal(err)
	}
	// Stored mtime deliberately predates the file's actual mtime so the
	// two-stage check falls through to the hash comparison instead of
	// short-circuiting on an mtime match.
	if err := store.UpdateFile(manifest.FileEntry{
		Path:         "a.go",
		LastModified: info.ModTime().Add(-time.Hour),
		ContentHash:  "stale-hash",
	}); err != nil {
		t.Fatal(err)
	}

	det := New(dir, mustScanner(t), store, dir)
	result, err := det.Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect() failed: %v", err)
	}
	if result.Reason != ReasonMtime {
		t.Errorf("Reason = %q, want %q", result.Reason, ReasonMtime)
	}
	if len(result.Modified) != 1 || result.Modified[0] != "a.go" {
		t.Errorf("Modified = %v, want [a.go] (stored mtime predates the file and the stored hash is stale)", result.Modified)
	}
}

func TestDetect_GitState_Unchanged_FallsBackToMtime(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	w, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Add("a.go"); err != nil {
		t.Fatal(err)
	}
	commit, err := w.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "Test", Email: "test@example.com", When: time.Now()},
	})
	if err != nil {
		t.Fatal(err)
	}

	store := manifest.NewStore(dir, "test")
	if _, err := store.Load(); err != nil {
		t.Fatal(err)
	}
	if err := store.UpdateGitState(commit.String(), "master"); err != nil {
		t.Fatal(err)
	}

	det := New(dir, mustScanner(t), store, dir)
	result, err := det.Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect() failed: %v", err)
	}
	// HEAD hasn't moved since the recorded git state, so this should fall
	// back to the mtime strategy rather than attempt a (no-op) git diff.
	if result.Reason != ReasonMtime {
		t.Errorf("Reason = %q, want %q", result.Reason, ReasonMtime)
	}
}

func TestDetect_GitState_Changed_DiffsCommits(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	w, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Add("a.go"); err != nil {
		t.Fatal(err)
	}
	commit1, err := w.Commit("commit 1", &git.CommitOptions{
		Author: &object.Signature{Name: "Test", Email: "test@example.com", When: time.Now()},
	})
	if err != nil {
		t.Fatal(err)
	}

	store := manifest.NewStore(dir, "test")
	if _, err := store.Load(); err != nil {
		t.Fatal(err)
	}
	if err := store.UpdateGitState(commit1.String(), "master"); err != nil {
		t.Fatal(err)
	}

	// Second commit adds b.go and modifies a.go.
	if err := os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\n\nfunc F() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.go"), []byte("package a\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Add("a.go"); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Add("b.go"); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Commit("commit 2", &git.CommitOptions{
		Author: &object.Signature{Name: "Test", Email: "test@example.com", When: time.Now()},
	}); err != nil {
		t.Fatal(err)
	}

	det := New(dir, mustScanner(t), store, dir)
	result, err := det.Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect() failed: %v", err)
	}
	if result.Reason != ReasonGitStateChanged {
		t.Errorf("Reason = %q, want %q", result.Reason, ReasonGitStateChanged)
	}
	if !contains(result.Added, "b.go") {
		t.Errorf("Added = %v, want to contain b.go", result.Added)
	}
	if !contains(result.Modified, "a.go") {
		t.Errorf("Modified = %v, want to contain a.go", result.Modified)
	}
}

func TestCommitAndBranch_NonGitDir(t *testing.T) {
	dir := t.TempDir()
	_, _, ok := CommitAndBranch(dir)
	if ok {
		t.Error("CommitAndBranch() on a non-git directory should return ok=false")
	}
}

func TestCommitAndBranch_GitRepo(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	w, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Add("a.go"); err != nil {
		t.Fatal(err)
	}
	commit, err := w.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "Test", Email: "test@example.com", When: time.Now()},
	})
	if err != nil {
		t.Fatal(err)
	}

	gotCommit, _, ok := CommitAndBranch(dir)
	if !ok {
		t.Fatal("CommitAndBranch() on a git repo with a commit should return ok=true")
	}
	if gotCommit != commit.String() {
		t.Errorf("commit = %q, want %q", gotCommit, commit.String())
	}
}

func contains(xs []string, target string) bool {
	for _, x := range xs {
		if x == target {
			return true
		}
	}
	return false
}
