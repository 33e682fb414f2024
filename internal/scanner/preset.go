package scanner

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Preset is a literal data table describing one recognized project
// ecosystem: the marker files that identify it, and the include/exclude
// globs it contributes once matched. Presets carry no logic of their own;
// DetectPresets and BuildScanOptions are the only code that interprets
// them, per spec.md §4.A's "presets are data only" rule.
type Preset struct {
	Name    string
	Markers []string
	Include []string
	Exclude []string
}

// frameworkPresets is the closed set of recognized ecosystem presets,
// excluding the extension catch-all (which is not marker-gated).
var frameworkPresets = []Preset{
	{
		Name:    "node",
		Markers: []string{"package.json"},
		Include: []string{"**/*.js", "**/*.jsx", "**/*.mjs", "**/*.ts", "**/*.tsx", "**/*.vue", "**/*.svelte", "**/*.json"},
		Exclude: []string{"**/dist/**", "**/build/**", "**/.next/**", "**/coverage/**", "**/out/**"},
	},
	{
		Name:    "python",
		Markers: []string{"pyproject.toml", "setup.py", "setup.cfg", "requirements.txt", "Pipfile"},
		Include: []string{"**/*.py", "**/*.pyi"},
		Exclude: []string{"**/.venv/**", "**/venv/**", "**/.tox/**", "**/*.egg-info/**"},
	},
	{
		Name:    "php",
		Markers: []string{"composer.json"},
		Include: []string{"**/*.php"},
		Exclude: nil,
	},
	{
		Name:    "laravel",
		Markers: []string{"artisan"},
		Include: []string{"**/*.php", "**/*.blade.php"},
		Exclude: []string{"**/storage/**", "**/bootstrap/cache/**"},
	},
}

// catchAllPreset is the fallback member of the closed set: every extension
// the scanner recognizes (types.go's languageMap), used only when no
// framework preset's markers were found anywhere the probe looked.
var catchAllPreset = Preset{
	Name:    "catch-all",
	Include: catchAllIncludePatterns(),
}

func catchAllIncludePatterns() []string {
	exts := make([]string, 0, len(languageMap))
	for ext := range languageMap {
		exts = append(exts, ext)
	}
	sort.Strings(exts)

	patterns := make([]string, 0, len(exts))
	for _, ext := range exts {
		if strings.HasPrefix(ext, ".") {
			patterns = append(patterns, "**/*"+ext)
		} else {
			patterns = append(patterns, "**/"+ext)
		}
	}
	return patterns
}

// DetectPresets probes rootDir and one level of subdirectories for marker
// files (monorepo packages keep their own package.json/composer.json
// alongside a root that may carry none), returning every framework preset
// whose markers were found. An empty result means no framework preset
// matched and the caller should fall back to the catch-all.
func DetectPresets(rootDir string) []Preset {
	probeDirs := []string{rootDir}
	if entries, err := os.ReadDir(rootDir); err == nil {
		for _, e := range entries {
			if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
				probeDirs = append(probeDirs, filepath.Join(rootDir, e.Name()))
			}
		}
	}

	var matched []Preset
	for _, preset := range frameworkPresets {
		for _, dir := range probeDirs {
			if hasAnyMarker(dir, preset.Markers) {
				matched = append(matched, preset)
				break
			}
		}
	}
	return matched
}

func hasAnyMarker(dir string, markers []string) bool {
	for _, marker := range markers {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	return false
}

// BuildScanOptions detects ecosystem presets under rootDir and merges
// their include/exclude globs into base, per spec.md §4.A: "the union of
// include patterns and union of exclude patterns applies". indexRoot, if
// non-empty, is excluded unconditionally regardless of preset (it holds
// the manifest, version file, and vector store, none of which are
// indexable source). Default safety excludes (node_modules, vendor, .git)
// are already unconditional in shouldExcludeDir and need no preset entry.
func BuildScanOptions(rootDir, indexRoot string, base ScanOptions) ScanOptions {
	base.RootDir = rootDir

	matched := DetectPresets(rootDir)
	if len(matched) == 0 {
		matched = []Preset{catchAllPreset}
	}

	includeSet := make(map[string]bool)
	excludeSet := make(map[string]bool)
	for _, p := range matched {
		for _, inc := range p.Include {
			includeSet[inc] = true
		}
		for _, exc := range p.Exclude {
			excludeSet[exc] = true
		}
	}

	base.IncludePatterns = append(base.IncludePatterns, sortedKeys(includeSet)...)
	base.ExcludePatterns = append(base.ExcludePatterns, sortedKeys(excludeSet)...)

	if indexRoot != "" {
		rel, err := filepath.Rel(rootDir, indexRoot)
		if err == nil && !strings.HasPrefix(rel, "..") {
			base.ExcludePatterns = append(base.ExcludePatterns, "**/"+filepath.ToSlash(rel)+"/**")
		}
	}

	return base
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
