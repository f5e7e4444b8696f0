package main

import (
	"fmt"
	"os"

	"github.com/panyam/authgate"
	"github.com/spf13/cobra"
)

var (
	loginEmail    string
	loginPassword string
	loginRemember bool
	loginGoogle   bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with email and password, or with Google",
	Long: `Sign in and store the session cookie.

Examples:
  # Prompt for the password
  authgate login --email pat@example.com

  # Keep the session after the browser session ends
  authgate login --email pat@example.com --remember

  # Sign in through the Google account chooser
  authgate login --google
`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "Account email")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Account password (prompted when empty)")
	loginCmd.Flags().BoolVar(&loginRemember, "remember", false, "Ask the server for a persistent session")
	loginCmd.Flags().BoolVar(&loginGoogle, "google", false, "Sign in with Google instead of a password")
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	a, err := newApp(os.Stderr)
	if err != nil {
		return err
	}
	flow := &authgate.LoginFlow{Store: a.store, API: a.client, Logger: a.logger}
	ctx := cmd.Context()

	var dest string
	if loginGoogle {
		if err := a.requireProvider(); err != nil {
			return err
		}
		cred, err := authgate.RequestCredential(ctx, a.provider, a.cfg.ProviderConfig())
		if err != nil {
			return fmt.Errorf("%s: %w", authgate.MsgGoogleLoginFailed, err)
		}
		dest, err = flow.LoginWithFederatedCredential(ctx, cred)
		if err != nil {
			return fmt.Errorf("%s", authgate.UserMessage(err))
		}
	} else {
		p := newPrompter(cmd.ErrOrStderr())
		email, err := p.valueOr(loginEmail, "Email", false)
		if err != nil {
			return err
		}
		password, err := p.valueOr(loginPassword, "Password", true)
		if err != nil {
			return err
		}
		dest, err = flow.Login(ctx, email, password, loginRemember)
		if err != nil {
			return fmt.Errorf("%s", authgate.UserMessage(err))
		}
	}

	out := cmd.OutOrStdout()
	printIdentity(out, a.store.Get().Identity)
	fmt.Fprintf(out, "Signed in. Continue at %s\n", dest)
	return nil
}
