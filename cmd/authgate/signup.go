package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/panyam/authgate"
	"github.com/spf13/cobra"
)

var (
	signupBusiness string
	signupEmail    string
	signupPassword string
	signupGoogle   bool
)

var signupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create a buyer account with an emailed code, or with Google",
	Long: `Create a buyer account. The server emails a 6-digit code which is
entered at the prompt. Type "r" at the code prompt to have it sent again
once the cooldown has passed.`,
	Args: cobra.NoArgs,
	RunE: runSignup,
}

func init() {
	signupCmd.Flags().StringVar(&signupBusiness, "business", "", "Business name")
	signupCmd.Flags().StringVar(&signupEmail, "email", "", "Account email")
	signupCmd.Flags().StringVar(&signupPassword, "password", "", "Account password (prompted twice when empty)")
	signupCmd.Flags().BoolVar(&signupGoogle, "google", false, "Sign up with Google instead of a code")
	rootCmd.AddCommand(signupCmd)
}

func runSignup(cmd *cobra.Command, args []string) error {
	a, err := newApp(os.Stderr)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	history := authgate.NewHistory(authgate.PathGate)
	flow := authgate.NewSignupFlow(a.store, a.client, history, a.signupOptions()...)
	defer flow.Close()

	if signupGoogle {
		if err := a.requireProvider(); err != nil {
			return err
		}
		cred, err := authgate.RequestCredential(ctx, a.provider, a.cfg.ProviderConfig())
		if err != nil {
			return fmt.Errorf("%s: %w", authgate.MsgGoogleSignupFail, err)
		}
		dest, err := flow.SignupWithFederatedCredential(ctx, cred)
		if err != nil {
			return fmt.Errorf("%s", authgate.UserMessage(err))
		}
		printIdentity(out, a.store.Get().Identity)
		fmt.Fprintf(out, "Account ready. Continue at %s\n", dest)
		return nil
	}

	p := newPrompter(cmd.ErrOrStderr())
	draft := authgate.SignupDraft{}
	if draft.BusinessName, err = p.valueOr(signupBusiness, "Business name", false); err != nil {
		return err
	}
	if draft.Email, err = p.valueOr(signupEmail, "Email", false); err != nil {
		return err
	}
	if draft.Password, err = p.valueOr(signupPassword, "Password", true); err != nil {
		return err
	}
	draft.ConfirmPassword = signupPassword
	if signupPassword == "" {
		if draft.ConfirmPassword, err = p.secret("Confirm password"); err != nil {
			return err
		}
	}

	if err := flow.Submit(ctx, draft); err != nil {
		return fmt.Errorf("%s", authgate.UserMessage(err))
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "We sent a code to %s\n", draft.Email)

	for flow.State().Phase == authgate.PhaseOTPPending {
		code, err := p.line("Code")
		if err != nil {
			return err
		}
		if strings.EqualFold(code, "r") {
			if err := flow.Resend(ctx); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s (%ds left)\n", authgate.UserMessage(err), flow.State().Cooldown)
				continue
			}
			fmt.Fprintln(cmd.ErrOrStderr(), "Code sent again")
			continue
		}
		if err := flow.Verify(ctx, code); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), authgate.UserMessage(err))
			continue
		}
		if flow.State().Phase != authgate.PhaseVerified {
			// Accepted, but no session could be found
			break
		}
	}

	id := a.store.Get().Identity
	printIdentity(out, id)
	if id == nil {
		return fmt.Errorf("signup finished without a session")
	}
	fmt.Fprintf(out, "Account ready. Continue at %s\n", authgate.DestinationForRole(id.Role))
	return nil
}
