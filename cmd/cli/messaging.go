package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"duxnet.io/node/internal/messaging"
)

var messagingRootCmd = &cobra.Command{Use: "message", Short: "Send and inspect direct messages", PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return ensureNode() }}

var messagingSendCmd = &cobra.Command{
	Use:   "send [to_did] [content]",
	Short: "Send a signed text message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		msg, err := n.Messaging.Send(args[0], args[1], messaging.TypeText, "")
		if err != nil {
			return err
		}
		raw, _ := json.MarshalIndent(msg, "", "  ")
		fmt.Println(string(raw))
		return nil
	},
}

var messagingConversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List conversations, most recently active first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, c := range n.Messaging.Conversations() {
			fmt.Printf("%s\t%d messages\t%d unread\t%s\n", c.PeerDID, c.MessageCount, c.UnreadCount, c.LastPreview)
		}
		return nil
	},
}

func init() {
	messagingRootCmd.AddCommand(messagingSendCmd, messagingConversationsCmd)
}

// MessagingCmd exposes the root command for registration by RegisterRoutes in index.go.
var MessagingCmd = messagingRootCmd
