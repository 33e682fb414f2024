package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/semindex/semindex/internal/manifest"
	"github.com/semindex/semindex/internal/output"
	"github.com/semindex/semindex/internal/store"
	"github.com/semindex/semindex/internal/versionfile"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index status for the current project",
		Long:  "Report the last indexed time, file and chunk counts, and the current Version File counter for this project's index.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd)
		},
	}
	return cmd
}

func runStatus(cmd *cobra.Command) error {
	w := output.New(cmd.OutOrStdout())

	root, err := projectRoot("")
	if err != nil {
		return exitErrorf(1, fmt.Errorf("resolve project root: %w", err))
	}

	indexRoot, err := store.IndexRoot(root)
	if err != nil {
		return exitErrorf(1, fmt.Errorf("resolve index root: %w", err))
	}

	m, err := manifest.NewStore(indexRoot, toolVersion()).Load()
	if err != nil {
		return exitErrorf(1, fmt.Errorf("load manifest: %w", err))
	}
	if m == nil {
		w.Warning("no index found; run 'semindex index' to create one")
		return nil
	}

	version, err := versionfile.New(indexRoot).Current()
	if err != nil {
		return exitErrorf(1, fmt.Errorf("read version file: %w", err))
	}

	chunkCount := 0
	for _, entry := range m.Files {
		chunkCount += entry.ChunkCount
	}

	w.Statusf("📁", "project: %s", root)
	w.Statusf("🗂", "index root: %s", indexRoot)
	w.Statusf("📄", "files indexed: %d", len(m.Files))
	w.Statusf("🧩", "chunks indexed: %d", chunkCount)
	w.Statusf("🕒", "last indexed: %s", m.LastIndexed.Format("2006-01-02 15:04:05"))
	w.Statusf("🔖", "version: %d (tool %s)", version, m.ToolVersion)
	if m.GitState != nil {
		w.Statusf("🌿", "git state: %s@%s", m.GitState.Branch, m.GitState.Commit)
	}
	return nil
}
