package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"duxnet.io/node/internal/config"
	"duxnet.io/node/pkg/retry"
)

var fundRootCmd = &cobra.Command{Use: "fund", Short: "Inspect and trigger community fund distribution", PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return ensureNode() }}

var fundStatsCmd = &cobra.Command{
	Use:   "stats [currency]",
	Short: "Print a currency's community fund state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := n.CommunityFund.Get(args[0])
		if err != nil {
			return err
		}
		raw, _ := json.MarshalIndent(f, "", "  ")
		fmt.Println(string(raw))
		return nil
	},
}

var fundDistributeCmd = &cobra.Command{
	Use:   "distribute [currency]",
	Short: "Distribute a currency's accumulated tax equally to active DIDs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		interval := config.Duration(n.Config.CommunityFund.DistributionPeriod, 12*time.Hour)
		rec, err := n.CommunityFund.Distribute(args[0], time.Now().UTC(), interval, func(currency, did string, amount uint64) (string, error) {
			var id string
			err := retry.Do(context.Background(), retry.Default, func(ctx context.Context) error {
				receipt, err := n.Wallet.CreateTransaction(did, amount, currency)
				if err != nil {
					return err
				}
				id = receipt.ID
				return nil
			})
			if err != nil {
				return "", err
			}
			return id, nil
		})
		if err != nil {
			return err
		}
		raw, _ := json.MarshalIndent(rec, "", "  ")
		fmt.Println(string(raw))
		return nil
	},
}

func init() {
	fundRootCmd.AddCommand(fundStatsCmd, fundDistributeCmd)
}

// FundCmd exposes the root command for registration by RegisterRoutes in index.go.
var FundCmd = fundRootCmd
