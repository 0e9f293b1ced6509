package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"duxnet.io/node/internal/escrow"
)

var escrowRootCmd = &cobra.Command{Use: "escrow", Short: "Manage multi-party escrow contracts", PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return ensureNode() }}

var escrowCreateCmd = &cobra.Command{
	Use:   "create [buyer_did] [seller_did] [arbiter_dids_csv] [amount]",
	Short: "Create a new escrow contract",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.ParseUint(args[3], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid amount: %w", err)
		}
		arbiters := strings.Split(args[2], ",")
		c, err := n.Escrow.Create(args[0], args[1], arbiters, amount)
		if err != nil {
			return err
		}
		raw, _ := json.MarshalIndent(c, "", "  ")
		fmt.Println(string(raw))
		return nil
	},
}

var escrowFundCmd = &cobra.Command{
	Use:   "fund [escrow_id]",
	Short: "Mark a contract Funded once the buyer's deposit confirms",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return n.Escrow.Fund(args[0])
	},
}

var escrowSignCmd = &cobra.Command{
	Use:   "sign [escrow_id] [intent:release|refund]",
	Short: "Sign and submit a release or refund vote as the local node",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := n.Escrow.Get(args[0])
		if err != nil {
			return err
		}
		intent := escrow.Intent(args[1])
		var payload []byte
		switch intent {
		case escrow.IntentRelease:
			payload = escrow.ReleasePayload(c.ID, c.Amount)
		case escrow.IntentRefund:
			payload = escrow.RefundPayload(c.ID, c.Amount)
		default:
			return fmt.Errorf("intent must be release or refund")
		}
		sig := n.Identity.Sign(payload)
		c, err = n.Escrow.AddSignature(args[0], string(n.Identity.LocalDID()), sig, intent)
		if err != nil {
			return err
		}
		raw, _ := json.MarshalIndent(c, "", "  ")
		fmt.Println(string(raw))
		return nil
	},
}

var escrowGetCmd = &cobra.Command{
	Use:   "get [escrow_id]",
	Short: "Print an escrow contract",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := n.Escrow.Get(args[0])
		if err != nil {
			return err
		}
		raw, _ := json.MarshalIndent(c, "", "  ")
		fmt.Println(string(raw))
		return nil
	},
}

func init() {
	escrowRootCmd.AddCommand(escrowCreateCmd, escrowFundCmd, escrowSignCmd, escrowGetCmd)
}

// EscrowCmd exposes the root command for registration by RegisterRoutes in index.go.
var EscrowCmd = escrowRootCmd
