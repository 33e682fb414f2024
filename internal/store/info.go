package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FormatBytes renders a byte count in human-readable units, used by the
// status command to report index and cache sizes.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	units := []string{"KB", "MB", "GB", "TB"}
	return fmt.Sprintf("%.1f %s", float64(bytes)/float64(div), units[exp])
}

// FormatTime renders a timestamp for display, reporting "unknown" for the
// zero value rather than the year-1 placeholder.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func containsAny(s string, substrings []string) bool {
	for _, sub := range substrings {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// inferBackendFromModel guesses the embedding backend from a model
// identifier: the static backend's models are named literally "static"
// (optionally with a dimension suffix); everything else is served by Ollama.
func inferBackendFromModel(model string) string {
	if model == "static" || strings.HasPrefix(model, "static") {
		return "static"
	}
	return "ollama"
}

// getDirSize recursively sums file sizes under root, returning 0 for a
// path that doesn't exist.
func getDirSize(root string) int64 {
	var size int64
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size
}
