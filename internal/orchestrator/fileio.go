package orchestrator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"
)

// readFileWithMtime reads a file's content and its on-disk modification
// time in one stat+read pass, mirroring the mtime bookkeeping
// internal/index/coordinator.go keeps alongside each indexed file.
func readFileWithMtime(path string) ([]byte, time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("stat %s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("read %s: %w", path, err)
	}
	return data, info.ModTime(), nil
}

// hashBytes computes the manifest's content hash: the first 16 hex
// characters of the sha256 digest (manifest.HashAlgorithm "sha256-16").
func hashBytes(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])[:16]
}
