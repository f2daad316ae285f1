package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:     "ls <reference>",
	Aliases: []string{"list"},
	Short:   "List tags in an OCI registry repository",
	Long: `Ls lists every tag in the repository named by reference. The reference's
own tag or digest segment, if any, is ignored.

Examples:
  ocidist ls registry.example.com/app`,
	Args: cobra.ExactArgs(1),
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(_ *cobra.Command, args []string) error {
	ref := args[0]

	client, err := newClient(registryHost(ref), "", "")
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	for tag, err := range client.ListTags(ctx, ref) {
		if err != nil {
			return err
		}
		fmt.Println(tag)
	}
	return nil
}
