// Package changedetect decides, at the start of an index run, which files
// need (re)chunking and embedding. It layers two strategies from cheapest
// to most expensive:
//
//  1. git-state diff: if the manifest recorded a HEAD commit/branch and the
//     working tree is still a git repository, and HEAD has moved, a tree
//     diff between the old and new commit (github.com/go-git/go-git/v5)
//     gives an exact added/modified/deleted set in one pass.
//  2. mtime+hash fallback: otherwise (no recorded git state, not a git repo,
//     HEAD unresolvable, or HEAD unchanged) every current file is checked
//     against the manifest's recorded mtime and content hash.
//
// A missing manifest yields a full index (every file added); a git diff
// that fails after HEAD moved yields a full rescan tagged git-state-changed.
//
// Grounded on internal/index/coordinator.go's scanCurrentFiles/
// detectFileChanges/applyFileChanges reconciliation shape (delete-before-
// modify-before-add ordering, map[path]->info comparison) and on
// sevigo-code-warden's internal/gitutil/cloner.go Diff method, which is the
// pack's working example of object.DiffTree + merkletrie.Action classifying
// a git commit-to-commit diff into added/modified/deleted name lists.
package changedetect

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"

	"github.com/semindex/semindex/internal/manifest"
	"github.com/semindex/semindex/internal/scanner"
)

// Reason identifies which strategy produced a Result.
type Reason string

const (
	ReasonFull            Reason = "full"
	ReasonMtime           Reason = "mtime"
	ReasonGitStateChanged Reason = "git-state-changed"
)

// Result is the reconciled change set for one detection pass. All paths
// are repository-relative, matching the Manifest's FileEntry.Path.
type Result struct {
	Added    []string
	Modified []string
	Deleted  []string
	Reason   Reason
}

// Detector scans a project root and reconciles it against a Manifest Store.
type Detector struct {
	rootPath string
	scanner  *scanner.Scanner
	store    *manifest.Store
	scanOpts scanner.ScanOptions
}

// New returns a Detector for rootPath, backed by the given scanner and
// manifest store. indexRoot is passed to scanner.BuildScanOptions so the
// detector's own rescans honor the same ecosystem preset include/exclude
// globs (internal/scanner/preset.go) the Orchestrator's full-index path
// uses, instead of a bare RespectGitignore-only scan.
func New(rootPath string, sc *scanner.Scanner, store *manifest.Store, indexRoot string) *Detector {
	opts := scanner.BuildScanOptions(rootPath, indexRoot, scanner.ScanOptions{RespectGitignore: true})
	return &Detector{rootPath: rootPath, scanner: sc, store: store, scanOpts: opts}
}

// Detect runs the decision procedure from spec.md §4.I:
//  1. no manifest -> ReasonFull, everything added.
//  2. manifest has gitState, rootPath is a git repo, and HEAD/branch moved
//     -> diff the two commits; ReasonGitStateChanged. If the diff itself
//     fails, every current file is reported as added, still tagged
//     git-state-changed (it is a git-state failure, not an mtime miss).
//     If the repo cannot be opened or HEAD cannot be resolved, step 3 applies.
//  3. otherwise -> mtime+hash reconciliation via the manifest, ReasonMtime.
func (d *Detector) Detect(ctx context.Context) (Result, error) {
	m, err := d.store.Load()
	if err != nil {
		return Result{}, fmt.Errorf("load manifest: %w", err)
	}
	if m == nil {
		paths, err := d.scanPaths(ctx)
		if err != nil {
			return Result{}, err
		}
		return Result{Added: paths, Reason: ReasonFull}, nil
	}

	if m.GitState != nil {
		if result, ok, err := d.detectViaGit(ctx, *m.GitState); err != nil {
			return Result{}, err
		} else if ok {
			return result, nil
		}
		// not a repo, HEAD unresolvable, or HEAD unchanged: fall through to mtime.
	}

	return d.detectViaMtime(ctx)
}

// detectViaGit attempts the git-state diff strategy. ok=false means "this
// strategy doesn't apply here" (not a git repo, HEAD unresolvable, or
// HEAD/branch unchanged), and the caller should fall back to mtime
// reconciliation. When git state changed but the diff itself fails, the
// result is a full rescan (every current file added) tagged
// git-state-changed rather than a silent mtime fallback; a non-nil error
// means that rescan failed as well.
func (d *Detector) detectViaGit(ctx context.Context, prev manifest.GitState) (Result, bool, error) {
	repo, err := git.PlainOpen(d.rootPath)
	if err != nil {
		return Result{}, false, nil
	}

	head, err := repo.Head()
	if err != nil {
		return Result{}, false, nil
	}
	branch := head.Name().Short()
	commit := head.Hash().String()

	if commit == prev.Commit && branch == prev.Branch {
		return Result{}, false, nil
	}

	added, modified, deleted, err := diffCommits(repo, prev.Commit, commit)
	if err != nil {
		// git state changed but we can't trust a partial diff: fall back
		// to a full reindex rather than risk missing files.
		paths, scanErr := d.scanPaths(ctx)
		if scanErr != nil {
			return Result{}, true, fmt.Errorf("git diff failed (%w) and full rescan failed: %w", err, scanErr)
		}
		return Result{Added: paths, Reason: ReasonGitStateChanged}, true, nil
	}

	// Any file newer than the manifest that the diff didn't mention is
	// added too (untracked files, or files changed outside of commits).
	extra, err := d.findUntrackedNewer(ctx, append(append([]string{}, added...), modified...))
	if err == nil {
		added = append(added, extra...)
	}

	sort.Strings(added)
	sort.Strings(modified)
	sort.Strings(deleted)
	return Result{Added: added, Modified: modified, Deleted: deleted, Reason: ReasonGitStateChanged}, true, nil
}

// diffCommits walks the tree diff between oldSHA and newSHA, classifying
// each change by merkletrie.Action the way sevigo-code-warden's
// gitutil.Client.Diff does.
func diffCommits(repo *git.Repository, oldSHA, newSHA string) (added, modified, deleted []string, err error) {
	oldCommit, err := repo.CommitObject(plumbing.NewHash(oldSHA))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("resolve old commit %s: %w", oldSHA, err)
	}
	newCommit, err := repo.CommitObject(plumbing.NewHash(newSHA))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("resolve new commit %s: %w", newSHA, err)
	}
	oldTree, err := oldCommit.Tree()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("tree for old commit: %w", err)
	}
	newTree, err := newCommit.Tree()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("tree for new commit: %w", err)
	}

	changes, err := object.DiffTree(oldTree, newTree)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("diff trees: %w", err)
	}

	for _, change := range changes {
		action, err := change.Action()
		if err != nil {
			continue
		}
		switch action {
		case merkletrie.Insert:
			added = append(added, change.To.Name)
		case merkletrie.Modify:
			modified = append(modified, change.To.Name)
		case merkletrie.Delete:
			deleted = append(deleted, change.From.Name)
		}
	}
	return added, modified, deleted, nil
}

// findUntrackedNewer scans the working tree for files newer than the
// manifest's LastIndexed timestamp that the git diff didn't already
// report, e.g. untracked files or files touched outside of a commit.
func (d *Detector) findUntrackedNewer(ctx context.Context, alreadyReported []string) ([]string, error) {
	m, err := d.store.Load()
	if err != nil || m == nil {
		return nil, err
	}
	already := make(map[string]bool, len(alreadyReported))
	for _, p := range alreadyReported {
		already[p] = true
	}

	current, err := d.scanCurrent(ctx)
	if err != nil {
		return nil, err
	}

	var extra []string
	for path, info := range current {
		if already[path] {
			continue
		}
		if info.ModTime.After(m.LastIndexed) {
			extra = append(extra, path)
		}
	}
	return extra, nil
}

// detectViaMtime applies the manifest's two-stage mtime+hash check to
// every file currently on disk.
func (d *Detector) detectViaMtime(ctx context.Context) (Result, error) {
	current, err := d.scanCurrent(ctx)
	if err != nil {
		return Result{}, err
	}

	currentFiles := make([]manifest.CurrentFile, 0, len(current))
	for path, info := range current {
		path, info := path, info
		currentFiles = append(currentFiles, manifest.CurrentFile{
			Path:         path,
			LastModified: info.ModTime,
			ContentHash: func() (string, error) {
				return hashFile(info.AbsPath)
			},
		})
	}

	changes, err := d.store.GetChangedFiles(currentFiles)
	if err != nil {
		return Result{}, fmt.Errorf("reconcile manifest: %w", err)
	}

	sort.Strings(changes.Added)
	sort.Strings(changes.Modified)
	sort.Strings(changes.Deleted)
	return Result{
		Added:    changes.Added,
		Modified: changes.Modified,
		Deleted:  changes.Deleted,
		Reason:   ReasonMtime,
	}, nil
}

// scanCurrent runs a full filesystem scan and returns indexable files
// keyed by repository-relative path, mirroring coordinator.go's
// scanCurrentFiles.
func (d *Detector) scanCurrent(ctx context.Context) (map[string]*scanner.FileInfo, error) {
	opts := d.scanOpts
	results, err := d.scanner.Scan(ctx, &opts)
	if err != nil {
		return nil, fmt.Errorf("scan project: %w", err)
	}

	current := make(map[string]*scanner.FileInfo)
	for result := range results {
		if result.Error != nil || result.File == nil {
			continue
		}
		ct := scanner.DetectContentType(result.File.Language)
		if ct == scanner.ContentTypeCode || ct == scanner.ContentTypeMarkdown {
			current[result.File.Path] = result.File
		}
	}
	return current, nil
}

// scanPaths is scanCurrent narrowed to just the path list, for the
// full-reindex case where per-file metadata isn't needed yet.
func (d *Detector) scanPaths(ctx context.Context) ([]string, error) {
	current, err := d.scanCurrent(ctx)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(current))
	for p := range current {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

// CommitAndBranch returns the working tree's current HEAD commit and
// branch name, used by the orchestrator to call Manifest.UpdateGitState
// after a successful run. ok is false when rootPath is not a git
// repository or has no commits yet.
func CommitAndBranch(rootPath string) (commit, branch string, ok bool) {
	repo, err := git.PlainOpen(rootPath)
	if err != nil {
		return "", "", false
	}
	head, err := repo.Head()
	if err != nil {
		return "", "", false
	}
	return head.Hash().String(), head.Name().Short(), true
}

// hashFile computes the same content hash the manifest stores: the first
// 16 hex characters of the sha256 digest (manifest.HashAlgorithm).
func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16], nil
}
