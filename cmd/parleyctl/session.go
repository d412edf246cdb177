package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/matheus3301/parley/internal/rpc"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func init() {
	signInCmd.Flags().Bool("password-stdin", false, "read the password from stdin")
	rootCmd.AddCommand(statusCmd, signInCmd, signOutCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(func(ctx context.Context, c *rpc.Client) error {
			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			if jsonFlag {
				return printJSON(cmd.OutOrStdout(), st)
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		})
	},
}

var signInCmd = &cobra.Command{
	Use:   "signin <email>",
	Short: "Sign in to the backend",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fromStdin, _ := cmd.Flags().GetBool("password-stdin")
		password, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr(), fromStdin)
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		return withClient(func(ctx context.Context, c *rpc.Client) error {
			user, err := c.SignIn(ctx, args[0], password)
			if err != nil {
				return err
			}
			if jsonFlag {
				return printJSON(cmd.OutOrStdout(), user)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s (%s)\n", displayName(user), user.ID)
			return nil
		})
	},
}

var signOutCmd = &cobra.Command{
	Use:   "signout",
	Short: "Sign out and clear the local cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(func(ctx context.Context, c *rpc.Client) error {
			if err := c.SignOut(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return nil
		})
	},
}

// readPassword prompts with masked input on a terminal. With fromStdin, or
// when stdin is not a terminal, it reads one line instead.
func readPassword(in io.Reader, prompt io.Writer, fromStdin bool) (string, error) {
	if f, ok := in.(*os.File); ok && !fromStdin && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Password: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", fmt.Errorf("empty password")
	}
	return pw, nil
}

func printStatus(w io.Writer, st *rpc.StatusReply) {
	fmt.Fprintf(w, "Session:       %s\n", st.Session)
	fmt.Fprintf(w, "Status:        %s\n", st.Status)
	fmt.Fprintf(w, "Token refresh: %s\n", st.Refresh)
	if st.User != nil {
		fmt.Fprintf(w, "User:          %s (%s)\n", displayName(*st.User), st.User.ID)
	}
	if st.TokenExpiresAtUnixMs > 0 {
		fmt.Fprintf(w, "Token expires: %s\n", time.UnixMilli(st.TokenExpiresAtUnixMs).Format(time.RFC3339))
	}
	fmt.Fprintf(w, "Uptime:        %s\n", (time.Duration(st.UptimeMs) * time.Millisecond).Round(time.Second))
	fmt.Fprintf(w, "Conversations: %d\n", st.Conversations)
	fmt.Fprintf(w, "Messages:      %d\n", st.Messages)
	fmt.Fprintf(w, "Pending sends: %d\n", st.PendingSends)
	if st.LastPullUnixMs > 0 {
		fmt.Fprintf(w, "Last pull:     %s\n", time.UnixMilli(st.LastPullUnixMs).Format(time.RFC3339))
	}
}
