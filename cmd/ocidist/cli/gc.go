package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meigma/ocidist"
)

var gcCmd = &cobra.Command{
	Use:   "gc <layout-dir>",
	Short: "Remove blobs unreachable from any tagged manifest in a layout directory",
	Long: `Gc walks every tagged manifest in the OCI Image Layout at layout-dir and
deletes blobs no longer reachable from any of them. In-progress pushes are
tracked only within one process, so a push running in another ocidist
process against the same layout is not detected.

Examples:
  ocidist gc ./layout`,
	Args: cobra.ExactArgs(1),
	RunE: runGC,
}

func init() {
	rootCmd.AddCommand(gcCmd)
}

func runGC(_ *cobra.Command, args []string) error {
	layoutDir := args[0]

	layout, err := ocidist.OpenLayout(layoutDir)
	if err != nil {
		return fmt.Errorf("open layout: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	removed, err := layout.GC(ctx)
	if err != nil {
		return err
	}

	for _, digest := range removed {
		fmt.Println(digest)
	}
	return nil
}
