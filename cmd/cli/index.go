package cli

import "github.com/spf13/cobra"

// RegisterRoutes attaches every command group defined in the cli package
// to root. Each module exposes its own root command (e.g. EscrowCmd)
// aggregating its own subcommands, so the main binary can invoke them as
// `duxnet escrow create ...`.
func RegisterRoutes(root *cobra.Command) {
	root.AddCommand(
		IdentityCmd,
		ServiceCmd,
		EscrowCmd,
		TaskCmd,
		ReputationCmd,
		FundCmd,
		MessagingCmd,
		WalletCmd,
	)
}
