package main

import (
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/panyam/authgate"
	"github.com/panyam/authgate/oauth2"
	"github.com/panyam/authgate/tui"
	"github.com/spf13/cobra"
)

var (
	uiLogFile string
	uiStart   string
)

var uiCmd = &cobra.Command{
	Use:   "ui",
	Short: "Open the interactive sign-in gate",
	Long: `Open the interactive gate. An existing session is discovered first;
without one, and with Google configured, a silent account prompt is tried
once before the signup and login forms are shown.`,
	RunE: runUI,
}

func init() {
	uiCmd.Flags().StringVar(&uiLogFile, "log-file", "", "Write logs to this file (logs are discarded otherwise)")
	uiCmd.Flags().StringVar(&uiStart, "path", authgate.PathGate, "Route to open first")
	rootCmd.AddCommand(uiCmd)
}

func runUI(cmd *cobra.Command, args []string) error {
	var logOut io.Writer = io.Discard
	if uiLogFile != "" {
		f, err := os.OpenFile(uiLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}

	a, err := newApp(logOut)
	if err != nil {
		return err
	}
	defer a.store.Wait()

	boot := &authgate.Bootstrapper{
		Store:          a.store,
		API:            a.client,
		Provider:       a.provider,
		ProviderConfig: a.cfg.ProviderConfig(),
		Logger:         a.logger,
	}
	model := tui.New(tui.Options{
		Store:          a.store,
		API:            a.client,
		History:        authgate.NewHistory(uiStart),
		Bootstrapper:   boot,
		Provider:       a.provider,
		ProviderConfig: a.cfg.ProviderConfig(),
		SignupOptions:  a.signupOptions(),
		Logger:         a.logger,
	})
	defer model.Close()

	// The alternate screen hides stderr, so the consent URL goes on screen
	var p *tea.Program
	showConsentURL(a.provider, func(msg tea.Msg) { p.Send(msg) })

	p = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(cmd.Context()))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("ui: %w", err)
	}
	return nil
}

// showConsentURL routes the loopback provider's consent URL to send
func showConsentURL(provider authgate.FederatedProvider, send func(tea.Msg)) {
	lp, ok := provider.(*oauth2.LoopbackProvider)
	if !ok {
		return
	}
	lp.OpenURL = func(url string) error {
		send(tui.ConsentURLMsg{URL: url})
		return nil
	}
}
