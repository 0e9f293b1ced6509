package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"duxnet.io/node/internal/wallet"
	"duxnet.io/node/pkg/retry"
)

var walletRootCmd = &cobra.Command{Use: "wallet", Short: "Inspect balances and send funds through the wallet collaborator", PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return ensureNode() }}

var walletBalanceCmd = &cobra.Command{
	Use:   "balance [currency]",
	Short: "Print the local node's balance in currency",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bal, err := n.Wallet.GetBalance(args[0])
		if err != nil {
			return err
		}
		fmt.Println(bal)
		return nil
	},
}

var walletSendCmd = &cobra.Command{
	Use:   "send [to] [amount] [currency]",
	Short: "Send amount of currency to an address",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid amount: %w", err)
		}
		var res wallet.SendResult
		err = retry.Do(context.Background(), retry.Default, func(ctx context.Context) error {
			sent, sendErr := n.Wallet.Send(args[0], amount, args[2], "", 0)
			if sendErr != nil {
				return sendErr
			}
			res = sent
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Println(res.TransactionID)
		return nil
	},
}

func init() {
	walletRootCmd.AddCommand(walletBalanceCmd, walletSendCmd)
}

// WalletCmd exposes the root command for registration by RegisterRoutes in index.go.
var WalletCmd = walletRootCmd
