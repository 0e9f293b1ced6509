package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"duxnet.io/node/internal/reputation"
)

var reputationRootCmd = &cobra.Command{Use: "reputation", Short: "Inspect and record reputation attestations", PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return ensureNode() }}

var reputationScoreCmd = &cobra.Command{
	Use:   "score [did]",
	Short: "Print a DID's fixed-window mean reputation score",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(n.Reputation.GetScore(args[0]))
		return nil
	},
}

var reputationAttestCmd = &cobra.Command{
	Use:   "attest [target_did] [score] [interaction_type]",
	Short: "Sign and submit an attestation about target_did as the local node",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		score, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid score: %w", err)
		}
		att := reputation.Attestation{
			AttesterDID:     string(n.Identity.LocalDID()),
			TargetDID:       args[0],
			Score:           score,
			InteractionType: args[2],
			Timestamp:       time.Now().UTC().Unix(),
		}
		att.Signature = n.Identity.Sign(att.CanonicalBytes())
		return n.Reputation.AddAttestation(att)
	},
}

func init() {
	reputationRootCmd.AddCommand(reputationScoreCmd, reputationAttestCmd)
}

// ReputationCmd exposes the root command for registration by RegisterRoutes in index.go.
var ReputationCmd = reputationRootCmd
