// Command duxnet is the local CLI client: thin cobra subcommands wired
// directly to a node's component methods (no network round trip), for
// operating a node from the same machine it runs on.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"duxnet.io/node/cmd/cli"
)

func main() {
	root := &cobra.Command{Use: "duxnet", Short: "duxnet marketplace node CLI"}
	cli.RegisterRoutes(root)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
