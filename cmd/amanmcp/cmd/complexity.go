package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/semindex/semindex/internal/complexity"
	"github.com/semindex/semindex/internal/output"
)

func newComplexityCmd() *cobra.Command {
	var (
		format string
		failOn string
		files  []string
	)

	cmd := &cobra.Command{
		Use:   "complexity",
		Short: "Report complexity violations for indexed files",
		Long:  "Analyze previously indexed chunks for complexity, cognitive load, and Halstead-effort violations, optionally restricted to --files. Exits non-zero when a violation at or above --fail-on is found.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runComplexity(cmd.Context(), cmd, format, failOn, files)
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "Output format: text, json, or sarif")
	cmd.Flags().StringVar(&failOn, "fail-on", "error", "Minimum violation severity that trips exit code 1: error or warning")
	cmd.Flags().StringSliceVar(&files, "files", nil, "Restrict analysis to these repository-relative paths (default: every indexed file)")

	return cmd
}

func runComplexity(ctx context.Context, cmd *cobra.Command, format, failOn string, files []string) error {
	switch format {
	case "text", "json", "sarif":
	default:
		return exitErrorf(2, fmt.Errorf("invalid --format %q: want text, json, or sarif", format))
	}

	var failSeverity complexity.Severity
	switch failOn {
	case "error":
		failSeverity = complexity.SeverityError
	case "warning":
		failSeverity = complexity.SeverityWarning
	default:
		return exitErrorf(2, fmt.Errorf("invalid --fail-on %q: want error or warning", failOn))
	}

	w := output.New(cmd.OutOrStdout())

	root, err := projectRoot("")
	if err != nil {
		return exitErrorf(1, fmt.Errorf("resolve project root: %w", err))
	}

	comps, err := newComponents(ctx, root)
	if err != nil {
		return exitErrorf(1, err)
	}
	defer comps.Close()

	report, err := complexity.Analyze(ctx, comps.codeStore, files, complexity.Thresholds{})
	if err != nil {
		return exitErrorf(1, fmt.Errorf("analyze complexity: %w", err))
	}

	switch format {
	case "json":
		if err := writeComplexityJSON(cmd, report); err != nil {
			return exitErrorf(1, err)
		}
	case "sarif":
		if err := writeComplexitySARIF(cmd, report); err != nil {
			return exitErrorf(1, err)
		}
	default:
		writeComplexityText(w, report)
	}

	if tripped(report, failSeverity) {
		return exitErrorf(1, fmt.Errorf("complexity threshold tripped: %d %s-or-above violation(s)", countAtOrAbove(report, failSeverity), failSeverity))
	}
	return nil
}

// tripped reports whether report contains any violation at or above
// minSeverity, per spec.md §6's --fail-on contract (error is the stricter
// threshold: only errors trip it; warning trips on either severity).
func tripped(report *complexity.Report, minSeverity complexity.Severity) bool {
	return countAtOrAbove(report, minSeverity) > 0
}

func countAtOrAbove(report *complexity.Report, minSeverity complexity.Severity) int {
	if minSeverity == complexity.SeverityWarning {
		return report.Summary.BySeverity[complexity.SeverityError] + report.Summary.BySeverity[complexity.SeverityWarning]
	}
	return report.Summary.BySeverity[complexity.SeverityError]
}

func sortedFiles(report *complexity.Report) []string {
	paths := make([]string, 0, len(report.Files))
	for p := range report.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func writeComplexityText(w *output.Writer, report *complexity.Report) {
	w.Statusf("📊", "analyzed %d file(s), %d violation(s) (%d error, %d warning)",
		report.Summary.FilesAnalyzed, report.Summary.TotalViolations,
		report.Summary.BySeverity[complexity.SeverityError], report.Summary.BySeverity[complexity.SeverityWarning])

	for _, path := range sortedFiles(report) {
		fr := report.Files[path]
		if len(fr.Violations) == 0 {
			continue
		}
		w.Newline()
		w.Statusf("📄", "%s [%s risk]", path, fr.RiskLevel)
		for _, v := range fr.Violations {
			icon := "⚠️ "
			if v.Severity == complexity.SeverityError {
				icon = "❌"
			}
			w.Statusf(icon, "%s:%d %s=%.1f (threshold %.1f) in %s", path, v.StartLine, v.Metric, v.Value, v.Threshold, v.SymbolName)
		}
		if fr.DependentCount > 0 {
			w.Statusf("  ", "%d dependent file(s), avg complexity %.1f, max %d", fr.DependentCount, fr.DependentAvgComplexity, fr.DependentMaxComplexity)
		}
	}
}

// complexityJSON mirrors complexity.Report with a stable, explicitly
// ordered shape for external consumers (spec.md §6's ComplexityReport).
type complexityJSON struct {
	Summary complexity.Summary               `json:"summary"`
	Files   map[string]complexity.FileReport `json:"files"`
}

func writeComplexityJSON(cmd *cobra.Command, report *complexity.Report) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(complexityJSON{Summary: report.Summary, Files: report.Files})
}

// SARIF (Static Analysis Results Interchange Format) structs, minimal
// subset of the 2.1.0 schema: one run, one tool driver, one result per
// violation. Encoded directly with encoding/json since the result pack
// carries no SARIF-writing library for any language to ground this on;
// the format itself is a fixed JSON schema, not a concern a dependency
// would materially simplify.
type sarifLog struct {
	Schema  string     `json:"$schema"`
	Version string     `json:"version"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool    sarifTool    `json:"tool"`
	Results []sarifResult `json:"results"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type sarifResult struct {
	RuleID    string         `json:"ruleId"`
	Level     string         `json:"level"`
	Message   sarifMessage   `json:"message"`
	Locations []sarifLocation `json:"locations"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifLocation struct {
	PhysicalLocation sarifPhysicalLocation `json:"physicalLocation"`
}

type sarifPhysicalLocation struct {
	ArtifactLocation sarifArtifactLocation `json:"artifactLocation"`
	Region           sarifRegion           `json:"region"`
}

type sarifArtifactLocation struct {
	URI string `json:"uri"`
}

type sarifRegion struct {
	StartLine int `json:"startLine"`
}

func writeComplexitySARIF(cmd *cobra.Command, report *complexity.Report) error {
	log := sarifLog{
		Schema:  "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/master/Schemata/sarif-schema-2.1.0.json",
		Version: "2.1.0",
		Runs: []sarifRun{{
			Tool:    sarifTool{Driver: sarifDriver{Name: "semindex", Version: toolVersion()}},
			Results: []sarifResult{},
		}},
	}

	for _, path := range sortedFiles(report) {
		fr := report.Files[path]
		for _, v := range fr.Violations {
			level := "warning"
			if v.Severity == complexity.SeverityError {
				level = "error"
			}
			log.Runs[0].Results = append(log.Runs[0].Results, sarifResult{
				RuleID:  "complexity." + string(v.Metric),
				Level:   level,
				Message: sarifMessage{Text: fmt.Sprintf("%s=%.1f exceeds threshold %.1f in %s", v.Metric, v.Value, v.Threshold, v.SymbolName)},
				Locations: []sarifLocation{{
					PhysicalLocation: sarifPhysicalLocation{
						ArtifactLocation: sarifArtifactLocation{URI: path},
						Region:           sarifRegion{StartLine: v.StartLine},
					},
				}},
			})
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(log)
}
