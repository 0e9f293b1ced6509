package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var serviceRootCmd = &cobra.Command{Use: "service", Short: "Advertise and discover marketplace services", PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return ensureNode() }}

var serviceRegisterCmd = &cobra.Command{
	Use:   "register [name] [description] [endpoint] [price]",
	Short: "Advertise a new service",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		price, err := strconv.ParseUint(args[3], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid price: %w", err)
		}
		m, err := n.Service.Register(uuid.New().String(), string(n.Identity.LocalDID()), args[0], args[1], args[2], price)
		if err != nil {
			return err
		}
		raw, _ := json.MarshalIndent(m, "", "  ")
		fmt.Println(string(raw))
		return nil
	},
}

var serviceSearchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search advertised services",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := ""
		if len(args) == 1 {
			q = args[0]
		}
		for _, m := range n.Service.Search(q) {
			fmt.Printf("%s\t%s\t%s\t%d\t%.2f\n", m.ID, m.Name, m.ProviderDID, m.Price, m.ReputationScore)
		}
		return nil
	},
}

func init() {
	serviceRootCmd.AddCommand(serviceRegisterCmd, serviceSearchCmd)
}

// ServiceCmd exposes the root command for registration by RegisterRoutes in index.go.
var ServiceCmd = serviceRootCmd
