package tui

// changedMsg means the session, history or signup flow changed
type changedMsg struct{}

// bootDoneMsg is sent when session discovery and the silent prompt settle
type bootDoneMsg struct {
	err error
}

// loginDoneMsg carries the result of a password or federated login
type loginDoneMsg struct {
	dest string
	err  error
}

// signupDoneMsg is sent when a signup flow request completes. The outcome
// is read back from the flow's state.
type signupDoneMsg struct {
	op  string
	err error
}

// ConsentURLMsg asks the model to show the identity provider's consent URL.
// Programs send it from the provider's URL opener.
type ConsentURLMsg struct {
	URL string
}
