package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/semindex/semindex/internal/orchestrator"
	"github.com/semindex/semindex/internal/output"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the index for the current project",
		Long:  "Create the index root, verify the embedder is reachable, and run a first full index of the project.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd.Context(), cmd)
		},
	}
	return cmd
}

func runInit(ctx context.Context, cmd *cobra.Command) error {
	w := output.New(cmd.OutOrStdout())

	root, err := projectRoot("")
	if err != nil {
		return exitErrorf(1, fmt.Errorf("resolve project root: %w", err))
	}

	comps, err := newComponents(ctx, root)
	if err != nil {
		return exitErrorf(1, fmt.Errorf("initialize: %w", err))
	}
	defer comps.Close()

	if !comps.embedder.Available(ctx) {
		return exitErrorf(1, fmt.Errorf("embedder %s is not reachable; is it running?", comps.embedder.ModelName()))
	}
	w.Statusf("🔌", "embedder %s (%d dims) reachable", comps.embedder.ModelName(), comps.embedder.Dimensions())

	if _, err := os.Stat(comps.indexRoot); err != nil {
		return exitErrorf(1, fmt.Errorf("index root %s: %w", comps.indexRoot, err))
	}
	w.Statusf("🗂", "index root: %s", comps.indexRoot)

	orch := orchestrator.New(root, comps.scanner, comps.chunker, comps.embedder, comps.cache, comps.codeStore, comps.indexRoot, toolVersion(), orchestrator.Config{Force: true})

	result, err := orch.Run(ctx, nil)
	if err != nil {
		w.Errorf("initial index failed: %v", err)
		return exitErrorf(1, err)
	}

	w.Successf("initialized: %d files, %d chunks indexed (version %d)", result.FilesAdded, result.ChunksIndexed, result.Version)
	return nil
}
