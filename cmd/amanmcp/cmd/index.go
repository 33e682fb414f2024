package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/semindex/semindex/internal/orchestrator"
	"github.com/semindex/semindex/internal/output"
)

func newIndexCmd() *cobra.Command {
	var (
		verbose bool
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index the current project",
		Long:  "Scan, chunk, and embed the project, writing the result into the local vector index. Reuses the existing manifest to index only what changed unless --force is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), cmd, verbose, force)
		},
	}

	cmd.Flags().BoolVar(&verbose, "verbose", false, "Print per-phase progress")
	cmd.Flags().BoolVar(&force, "force", false, "Force a full reindex regardless of manifest state")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, verbose, force bool) error {
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

	orch := orchestrator.New(root, comps.scanner, comps.chunker, comps.embedder, comps.cache, comps.codeStore, comps.indexRoot, toolVersion(), orchestrator.Config{Force: force})

	var progress chan orchestrator.ProgressEvent
	done := make(chan struct{})
	if verbose {
		progress = make(chan orchestrator.ProgressEvent, 16)
		go func() {
			defer close(done)
			for ev := range progress {
				w.Statusf("→", "%s: %s", ev.Phase, ev.Message)
			}
		}()
	}

	result, err := orch.Run(ctx, progress)
	if progress != nil {
		close(progress)
		<-done
	}
	if err != nil {
		w.Errorf("index failed: %v", err)
		return exitErrorf(1, err)
	}

	w.Successf("indexed %d added, %d modified, %d deleted, %d chunks (version %d)",
		result.FilesAdded, result.FilesModified, result.FilesDeleted, result.ChunksIndexed, result.Version)
	if result.FilesFailed > 0 {
		w.Warningf("%d file(s) failed to index", result.FilesFailed)
	}
	return nil
}
