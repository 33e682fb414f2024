// Package complexity reports per-file complexity violations and risk
// levels by scanning a store.CodeStore, never recomputing metrics itself:
// every metric is already carried on the chunk by internal/chunk at
// parse time. The reporting shape (a Check* result with a severity
// breakdown and a Duration) is grounded on internal/index/consistency.go's
// ConsistencyChecker, generalized from cross-store orphan detection to
// per-chunk threshold violations.
package complexity

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/semindex/semindex/internal/chunk"
	"github.com/semindex/semindex/internal/store"
)

// MetricType identifies which of a chunk's complexity metrics a
// Violation was raised against.
type MetricType string

const (
	MetricCyclomatic    MetricType = "cyclomatic"
	MetricCognitive     MetricType = "cognitive"
	MetricHalsteadEffort MetricType = "halstead_effort"
	MetricHalsteadBugs  MetricType = "halstead_bugs"
)

// Severity is error (>= 2x threshold) or warning (>= threshold).
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// RiskLevel is the file-level rollup of its violations and dependents.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Thresholds configures the violation/risk rules. Zero-value fields take
// the package defaults.
type Thresholds struct {
	TestPaths               []string // path substrings treated as test files for TestAssociations
	MentalLoad              int      // cyclomatic+cognitive threshold; 0 uses DefaultMentalLoad
	TimeToUnderstandMinutes int      // 0 uses DefaultTimeToUnderstandMinutes
	EstimatedBugs           float64  // 0 uses DefaultEstimatedBugs
}

const (
	DefaultMentalLoad              = 15
	DefaultTimeToUnderstandMinutes = 60
	DefaultEstimatedBugs           = 0.5

	// criticalDependentCount boosts a file's risk to critical regardless
	// of its own violation severity, per spec.md §4.L.
	criticalDependentCount = 30

	// effortToSecondsFactor is the standard Halstead time factor (effort
	// seconds = effort / 18); combined with a minutes threshold this gives
	// effortThreshold = timeToUnderstandMinutes * 60 * 18, per the Open
	// Question resolution recorded in SPEC_FULL.md §5.1.
	effortToSecondsFactor = 18
)

func (t Thresholds) normalized() Thresholds {
	if t.MentalLoad <= 0 {
		t.MentalLoad = DefaultMentalLoad
	}
	if t.TimeToUnderstandMinutes <= 0 {
		t.TimeToUnderstandMinutes = DefaultTimeToUnderstandMinutes
	}
	if t.EstimatedBugs <= 0 {
		t.EstimatedBugs = DefaultEstimatedBugs
	}
	return t
}

func (t Thresholds) effortThreshold() float64 {
	return float64(t.TimeToUnderstandMinutes) * 60 * effortToSecondsFactor
}

// Violation is one (chunk, metricType) pair exceeding its threshold.
type Violation struct {
	ChunkID    string
	SymbolName string
	StartLine  int
	Metric     MetricType
	Value      float64
	Threshold  float64
	Severity   Severity
}

// FileReport is the per-file entry of a Report.
type FileReport struct {
	Violations                []Violation
	Dependents                 []string
	DependentCount             int
	DependentAvgComplexity     float64
	DependentMaxComplexity     int
	TestAssociations           []string
	RiskLevel                  RiskLevel
}

// Summary rolls the report up across every analyzed file.
type Summary struct {
	FilesAnalyzed   int
	TotalViolations int
	BySeverity      map[Severity]int
	AvgComplexity   float64
	MaxComplexity   int
}

// Report is the full output of Analyze, matching spec.md §6's
// complexity.analyze(files?) -> ComplexityReport contract.
type Report struct {
	Summary  Summary
	Files    map[string]FileReport
	Duration time.Duration
}

// Analyze scans codeStore for every chunk (optionally restricted to
// files), groups by file, and emits violations and a risk rollup per
// spec.md §4.L.
func Analyze(ctx context.Context, codeStore store.CodeStore, files []string, thresholds Thresholds) (*Report, error) {
	start := time.Now()
	thresholds = thresholds.normalized()

	byFile, err := groupChunksByFile(ctx, codeStore, files)
	if err != nil {
		return nil, fmt.Errorf("scan chunks for complexity analysis: %w", err)
	}

	report := &Report{
		Files: make(map[string]FileReport, len(byFile)),
		Summary: Summary{
			BySeverity: map[Severity]int{SeverityError: 0, SeverityWarning: 0},
		},
	}

	var complexitySum, complexityCount float64
	for path, chunks := range byFile {
		violations := violationsForFile(chunks, thresholds)
		fr := FileReport{
			Violations:       violations,
			TestAssociations: testAssociations(path, thresholds.TestPaths),
		}

		if err := enrichDependents(ctx, codeStore, path, &fr); err != nil {
			return nil, fmt.Errorf("enrich dependents for %s: %w", path, err)
		}
		fr.RiskLevel = riskLevel(violations, fr.DependentCount)

		report.Files[path] = fr
		report.Summary.FilesAnalyzed++
		report.Summary.TotalViolations += len(violations)
		for _, v := range violations {
			report.Summary.BySeverity[v.Severity]++
		}
		for _, c := range chunks {
			complexitySum += float64(c.Complexity)
			complexityCount++
			if c.Complexity > report.Summary.MaxComplexity {
				report.Summary.MaxComplexity = c.Complexity
			}
		}
	}

	if complexityCount > 0 {
		report.Summary.AvgComplexity = complexitySum / complexityCount
	}
	report.Duration = time.Since(start)
	return report, nil
}

func groupChunksByFile(ctx context.Context, codeStore store.CodeStore, files []string) (map[string][]*chunk.Chunk, error) {
	byFile := make(map[string][]*chunk.Chunk)
	if len(files) == 0 {
		all, err := codeStore.ScanAll(ctx, store.ScanFilter{})
		if err != nil {
			return nil, err
		}
		for _, c := range all {
			byFile[c.File] = append(byFile[c.File], c)
		}
		return byFile, nil
	}

	for _, f := range files {
		rows, err := codeStore.ScanWithFilter(ctx, store.ScanFilter{File: f})
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			byFile[f] = rows
		}
	}
	return byFile, nil
}

func violationsForFile(chunks []*chunk.Chunk, t Thresholds) []Violation {
	var out []Violation
	mentalLoad := float64(t.MentalLoad)
	effortThreshold := t.effortThreshold()

	for _, c := range chunks {
		out = append(out, checkMetric(c, MetricCyclomatic, float64(c.Complexity), mentalLoad)...)
		out = append(out, checkMetric(c, MetricCognitive, float64(c.CognitiveComplexity), mentalLoad)...)
		out = append(out, checkMetric(c, MetricHalsteadEffort, c.HalsteadEffort, effortThreshold)...)
		out = append(out, checkMetric(c, MetricHalsteadBugs, c.HalsteadBugs, t.EstimatedBugs)...)
	}
	return out
}

func checkMetric(c *chunk.Chunk, metric MetricType, value, threshold float64) []Violation {
	if threshold <= 0 || value < threshold {
		return nil
	}
	sev := SeverityWarning
	if value >= 2*threshold {
		sev = SeverityError
	}
	return []Violation{{
		ChunkID:    c.ID,
		SymbolName: c.SymbolName,
		StartLine:  c.StartLine,
		Metric:     metric,
		Value:      value,
		Threshold:  threshold,
		Severity:   sev,
	}}
}

// enrichDependents finds chunks elsewhere in the store whose imports
// reference path, per spec.md §4.L's dependency enrichment rule (fuzzy
// match, same resolution family as internal/depgraph).
func enrichDependents(ctx context.Context, codeStore store.CodeStore, path string, fr *FileReport) error {
	all, err := codeStore.ScanAll(ctx, store.ScanFilter{})
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	var sum float64
	var max int
	for _, c := range all {
		if c.File == path {
			continue
		}
		if !importsFile(c.Imports, path) || seen[c.File] {
			continue
		}
		seen[c.File] = true
		fr.Dependents = append(fr.Dependents, c.File)
		sum += float64(c.Complexity)
		if c.Complexity > max {
			max = c.Complexity
		}
	}

	sort.Strings(fr.Dependents)
	fr.DependentCount = len(fr.Dependents)
	if fr.DependentCount > 0 {
		fr.DependentAvgComplexity = sum / float64(fr.DependentCount)
		fr.DependentMaxComplexity = max
	}
	return nil
}

// importsFile reports whether any import string in imports fuzzily
// resolves to target: an exact match, a basename match, or a suffix
// match after stripping a leading "./" or "../" run.
func importsFile(imports []string, target string) bool {
	base := filepath.Base(target)
	for _, imp := range imports {
		clean := strings.TrimPrefix(imp, "./")
		clean = strings.TrimLeft(clean, "./")
		if clean == target || filepath.Base(clean) == base {
			return true
		}
		if strings.HasSuffix(target, clean) || strings.HasSuffix(clean, target) {
			return true
		}
	}
	return false
}

func testAssociations(path string, testPaths []string) []string {
	var out []string
	for _, tp := range testPaths {
		if strings.Contains(path, tp) {
			out = append(out, tp)
		}
	}
	return out
}

// riskLevel implements spec.md §4.L's rollup: high if any error
// violation, medium if >= 2 warnings, low otherwise, boosted to
// critical when dependentCount exceeds the critical threshold.
func riskLevel(violations []Violation, dependentCount int) RiskLevel {
	errors, warnings := 0, 0
	for _, v := range violations {
		if v.Severity == SeverityError {
			errors++
		} else {
			warnings++
		}
	}

	level := RiskLow
	switch {
	case errors > 0:
		level = RiskHigh
	case warnings >= 2:
		level = RiskMedium
	}
	if dependentCount > criticalDependentCount {
		level = RiskCritical
	}
	return level
}
