package main

import (
	"context"
	"fmt"

	"github.com/matheus3301/parley/internal/chat"
	"github.com/matheus3301/parley/internal/rpc"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(conversationsCmd, showCmd, openCmd, pullCmd)
}

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"ls"},
	Short:   "List conversations, most recently active first",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(func(ctx context.Context, c *rpc.Client) error {
			list, err := c.Conversations(ctx)
			if err != nil {
				return err
			}
			if jsonFlag {
				return printJSON(cmd.OutOrStdout(), list)
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no conversations")
				return nil
			}
			for _, conv := range list {
				printConversationLine(cmd.OutOrStdout(), conv)
			}
			return nil
		})
	},
}

var showCmd = &cobra.Command{
	Use:   "show <conversation-id>",
	Short: "Show the messages of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *rpc.Client) error {
			conv, err := c.Conversation(ctx, chat.ID(args[0]))
			if err != nil {
				return err
			}
			if jsonFlag {
				return printJSON(cmd.OutOrStdout(), conv)
			}
			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			var self chat.ID
			if st.User != nil {
				self = st.User.ID
			}
			printConversationHeader(cmd.OutOrStdout(), conv, self)
			for _, m := range conv.Messages {
				printMessage(cmd.OutOrStdout(), m)
			}
			return nil
		})
	},
}

var openCmd = &cobra.Command{
	Use:   "open <user-id>",
	Short: "Get or create the one-to-one conversation with a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *rpc.Client) error {
			conv, err := c.Open(ctx, chat.ID(args[0]))
			if err != nil {
				return err
			}
			if jsonFlag {
				return printJSON(cmd.OutOrStdout(), conv)
			}
			printConversationLine(cmd.OutOrStdout(), conv)
			return nil
		})
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Replace the local conversation list with the backend's",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(func(ctx context.Context, c *rpc.Client) error {
			resp, err := c.Pull(ctx)
			if err != nil {
				return err
			}
			if jsonFlag {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pulled %d conversations\n", resp.Count)
			return nil
		})
	},
}
