package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/meigma/ocidist"
)

var pullPlatform string

var pullCmd = &cobra.Command{
	Use:   "pull <reference> <layout-dir>",
	Short: "Pull an image from an OCI registry into a local layout directory",
	Long: `Pull resolves reference against its registry and publishes the manifest,
config, and every layer into the OCI Image Layout at layout-dir, creating it
if it does not already exist.

A second pull of the same reference only transfers blobs missing locally.

Examples:
  ocidist pull registry.example.com/app:v1 ./layout
  ocidist pull registry.example.com/app:v1 ./layout --platform linux/arm64`,
	Args: cobra.ExactArgs(2),
	RunE: runPull,
}

func init() {
	pullCmd.Flags().StringVar(&pullPlatform, "platform", "", "platform to select from a multi-platform index, as os/arch (default: the host platform)")
	rootCmd.AddCommand(pullCmd)
}

func runPull(_ *cobra.Command, args []string) error {
	ref := args[0]
	layoutDir := args[1]

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

	opts := []ocidist.PullOption{}
	if pullPlatform != "" {
		osName, arch, err := parsePlatform(pullPlatform)
		if err != nil {
			return err
		}
		opts = append(opts, ocidist.WithPlatform(ocidist.MatchPlatform(osName, arch)))
	}

	progress, finish := newProgressCallback("Downloading")
	if progress != nil {
		opts = append(opts, ocidist.WithPullProgress(progress))
	}

	desc, err := client.Pull(ctx, layout, ref, opts...)
	finish()
	if err != nil {
		return err
	}

	fmt.Println(desc.Digest)
	return nil
}

// parsePlatform splits a "os/arch" flag value into its two components.
func parsePlatform(s string) (osName, arch string, err error) {
	osName, arch, ok := strings.Cut(s, "/")
	if !ok {
		return "", "", fmt.Errorf("invalid platform %q: expected os/arch", s)
	}
	return osName, arch, nil
}
