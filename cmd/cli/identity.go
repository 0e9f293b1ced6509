package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var identityRootCmd = &cobra.Command{Use: "identity", Short: "Inspect the local node's DID", PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return ensureNode() }}

var identityWhoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Print the local node's DID",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(string(n.Identity.LocalDID()))
		return nil
	},
}

func init() {
	identityRootCmd.AddCommand(identityWhoamiCmd)
}

// IdentityCmd exposes the root command for registration by RegisterRoutes in index.go.
var IdentityCmd = identityRootCmd
