package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var logoutAll bool

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session on the server and forget its cookies",
	Long: `End the session on the configured server. With --all, every server
that still has unexpired cookies in the cookie file is signed out.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(os.Stderr)
		if err != nil {
			return err
		}
		if logoutAll {
			return a.logoutAll(cmd.Context(), cmd.OutOrStdout())
		}
		a.store.Logout(cmd.Context())
		a.store.Wait()
		fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
		return nil
	},
}

func init() {
	logoutCmd.Flags().BoolVar(&logoutAll, "all", false, "Sign out of every server in the cookie file")
	rootCmd.AddCommand(logoutCmd)
}

// logoutAll signs out of each saved server. Cookies are forgotten even when
// the server cannot be reached.
func (a *app) logoutAll(ctx context.Context, out io.Writer) error {
	if a.cookies == nil {
		return errors.New("--all needs a cookie file")
	}
	servers, err := a.cookies.ListServers()
	if err != nil {
		return fmt.Errorf("failed to list saved servers: %w", err)
	}
	if len(servers) == 0 {
		fmt.Fprintln(out, "No saved sessions")
		return nil
	}

	var failed int
	for _, server := range servers {
		if err := a.newClient(server).Logout(ctx); err != nil {
			failed++
			a.logger.Warn("server logout failed", "server", server, "error", err)
			fmt.Fprintf(out, "%s: cookies forgotten, server said: %v\n", server, err)
			continue
		}
		fmt.Fprintf(out, "%s: signed out\n", server)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d servers did not confirm the logout", failed, len(servers))
	}
	return nil
}
