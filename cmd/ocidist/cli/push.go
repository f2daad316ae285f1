package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meigma/ocidist"
)

var pushCmd = &cobra.Command{
	Use:   "push <layout-dir> <reference>",
	Short: "Push a locally tagged image from a layout directory to an OCI registry",
	Long: `Push resolves reference against the OCI Image Layout at layout-dir and
uploads its manifest, config, and every layer to the registry named by
reference, skipping any blob the registry already has.

Examples:
  ocidist push ./layout registry.example.com/app:v1`,
	Args: cobra.ExactArgs(2),
	RunE: runPush,
}

func init() {
	rootCmd.AddCommand(pushCmd)
}

func runPush(_ *cobra.Command, args []string) error {
	layoutDir := args[0]
	ref := args[1]

	layout, err := ocidist.OpenLayout(layoutDir)
	if err != nil {
		return fmt.Errorf("open layout: %w", err)
	}

	client, err := newClient(registryHost(ref), "", "")
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	var opts []ocidist.PushOption
	progress, finish := newProgressCallback("Uploading")
	if progress != nil {
		opts = append(opts, ocidist.WithPushProgress(progress))
	}

	desc, err := client.Push(ctx, layout, ref, opts...)
	finish()
	if err != nil {
		return err
	}

	fmt.Println(desc.Digest)
	return nil
}
