package store

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/semindex/semindex/internal/chunk"
)

// toolDirName is the directory segment under the user's home directory
// that every on-disk index lives beneath, per spec.md §6's layout:
// <home>/<tool>/indices/<projectName>-<8hexPathHash>/.
const toolDirName = ".amanmcp"

// IndexRoot returns the on-disk directory for one project's embedded
// index: <home>/.amanmcp/indices/<projectName>-<8hexPathHash>/. The hash
// disambiguates two checkouts that happen to share a directory basename
// (e.g. two clones of the same repo on one machine).
func IndexRoot(projectRoot string) (string, error) {
	abs, err := filepath.Abs(projectRoot)
	if err != nil {
		return "", err
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	name := filepath.Base(abs)
	sum := sha256.Sum256([]byte(abs))
	hash := hex.EncodeToString(sum[:])[:8]
	return filepath.Join(home, toolDirName, "indices", name+"-"+hash), nil
}

// SynthesizeTenant derives a stable local tenant quadruple for the
// embedded backend from the project root path alone, per spec.md §3's
// "synthesized (stable from project root path) for the embedded backend"
// rule. It never consults git; callers that have git state layer it in
// separately via the git-state-aware commit/branch recorded in the
// manifest.
func SynthesizeTenant(projectRoot string) chunk.Tenant {
	abs, err := filepath.Abs(projectRoot)
	if err != nil {
		abs = projectRoot
	}
	sum := sha256.Sum256([]byte(abs))
	hash := hex.EncodeToString(sum[:])[:16]
	return chunk.Tenant{
		OrgID:     "local",
		RepoID:    "repo-" + hash,
		Branch:    "local",
		CommitSha: "local",
	}
}
