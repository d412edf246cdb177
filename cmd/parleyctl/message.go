package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/matheus3301/parley/internal/chat"
	"github.com/matheus3301/parley/internal/rpc"
	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func init() {
	sendCmd.Flags().StringArray("media", nil, "attach a file (repeatable)")
	watchCmd.Flags().StringSlice("kind", nil, "only show events whose kind starts with this prefix")
	rootCmd.AddCommand(sendCmd, watchCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> [text]",
	Short: "Send a message; returns once it is pending",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mediaFlags, _ := cmd.Flags().GetStringArray("media")
		req := rpc.SendRequest{ConversationID: chat.ID(args[0])}
		if len(args) == 2 {
			req.Text = args[1]
		}
		// The daemon resolves paths on its own filesystem view.
		for _, p := range mediaFlags {
			abs, err := filepath.Abs(p)
			if err != nil {
				return err
			}
			req.MediaPaths = append(req.MediaPaths, abs)
		}

		return withClient(func(ctx context.Context, c *rpc.Client) error {
			msg, err := c.Send(ctx, req)
			if err != nil {
				return err
			}
			if jsonFlag {
				return printJSON(cmd.OutOrStdout(), msg)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pending %s in conversation %s\n", msg.ID, msg.ConversationID)
			return nil
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream daemon events until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		kinds, _ := cmd.Flags().GetStringSlice("kind")

		c, _, err := connect()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		w, err := c.Watch(ctx, kinds...)
		if err != nil {
			return err
		}
		for {
			env, err := w.Recv()
			switch {
			case errors.Is(err, io.EOF), status.Code(err) == codes.Canceled:
				return nil
			case err != nil:
				return err
			}
			if jsonFlag {
				if err := printJSON(cmd.OutOrStdout(), env); err != nil {
					return err
				}
				continue
			}
			printEnvelope(cmd.OutOrStdout(), env)
		}
	},
}
