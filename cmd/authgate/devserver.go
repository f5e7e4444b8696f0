package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/panyam/authgate"
	"github.com/panyam/authgate/authtest"
	"github.com/spf13/cobra"
)

var (
	devAddr   string
	devData   string
	devSecret string
	devIssue  string
	devRole   string
)

var devserverCmd = &cobra.Command{
	Use:   "devserver",
	Short: "Run a local session server for development",
	Long: `Run an in-process session server implementing the endpoints the
client expects. Signup codes are printed to the console instead of being
emailed. With --data, accounts are kept as JSON files in that directory.

Credentials for the federated endpoint can be minted with
"authgate devserver credential"; with --google-client-id real Google ID
tokens are accepted too.`,
	Args: cobra.NoArgs,
	RunE: runDevserver,
}

var devCredentialCmd = &cobra.Command{
	Use:   "credential",
	Short: "Mint a development federated credential",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if devIssue == "" {
			return errors.New("--email is required")
		}
		cred, err := authtest.IssueCredential([]byte(devSecret), devIssue, authgate.Role(devRole))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), cred)
		return nil
	},
}

func init() {
	devserverCmd.PersistentFlags().StringVar(&devSecret, "secret", "authgate-dev-secret", "Signing key for development credentials")
	devserverCmd.Flags().StringVar(&devAddr, "addr", "127.0.0.1:8080", "Listen address")
	devserverCmd.Flags().StringVar(&devData, "data", "", "Directory for account files (in memory when empty)")

	devCredentialCmd.Flags().StringVar(&devIssue, "email", "", "Email in the credential")
	devCredentialCmd.Flags().StringVar(&devRole, "role", "", "Role for accounts created from the credential")

	devserverCmd.AddCommand(devCredentialCmd)
	rootCmd.AddCommand(devserverCmd)
}

func runDevserver(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}

	srv := &authtest.Server{
		Secret:    []byte(devSecret),
		OTPSender: &authtest.ConsoleOTPSender{},
		Logger:    logger,
	}
	if devData != "" {
		if err := os.MkdirAll(devData, 0o700); err != nil {
			return fmt.Errorf("failed to create data dir: %w", err)
		}
		srv.Users = authtest.NewFSUserStore(devData)
	}
	if cfg.FederatedEnabled() {
		srv.Verifier = authtest.AnyCredentialVerifier(
			authtest.HS256CredentialVerifier(srv.Secret),
			authtest.GoogleCredentialVerifier(cfg.GoogleClientID),
		)
	}
	srv.EnsureDefaults()

	httpSrv := &http.Server{
		Addr:              devAddr,
		Handler:           logRequests(logger, srv.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("devserver listening", "addr", devAddr, "data", devData, "google", cfg.FederatedEnabled())
		errc <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-cmd.Context().Done():
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info("devserver shutting down")
	return httpSrv.Shutdown(ctx)
}

func logRequests(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("request", "method", r.Method, "path", r.URL.Path, "took", time.Since(start))
	})
}
