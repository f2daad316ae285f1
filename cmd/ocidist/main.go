// Command ocidist provides a CLI for pulling and pushing OCI images between
// registries and a local OCI Image Layout directory.
package main

import (
	"os"

	"github.com/meigma/ocidist/cmd/ocidist/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
