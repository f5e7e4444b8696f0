// Package authgate is the client side of a cookie-session authentication
// front-end: session bootstrap, password and federated login, signup with
// one-time passcode verification, and role-based route gating.
//
// # Architecture
//
// SessionStore: The single owner of the session state (identity plus a
// bootstrap loading flag). Everything else reads snapshots through Get or
// Subscribe and writes through its methods.
//
// Bootstrapper: Discovers an existing session on startup, clears the loading
// flag, and makes one silent federated sign-in attempt when no session exists.
//
// LoginFlow and SignupFlow: Submit credentials to the server through the API
// contract and install the resulting identity. SignupFlow is a two-phase
// state machine (credentials, then OTP) with a resend cooldown.
//
// FederatedProvider: The identity provider's account chooser. RequestCredential
// runs one prompt and always cancels and unloads the provider afterwards. The
// oauth2 package has a loopback implementation for Google.
//
// Router and guards: Decide, for a path and a session state, whether to
// render, wait, or redirect. DestinationForRole is the only place roles map
// to home paths.
//
// # Basic Usage
//
//	api := client.NewAPIClient(cfg.ServerURL)
//	store := authgate.NewSessionStore(api)
//	boot := &authgate.Bootstrapper{Store: store, API: api}
//	go boot.Run(ctx)
//
//	router := authgate.DefaultRouter()
//	res := router.Resolve("/buyer-dashboard", store.Get())
//
// While the store is loading every guard returns Wait, so a front-end never
// redirects before bootstrap has settled.
//
// # Failure Semantics
//
// Session discovery and refresh fail closed: any error leaves the user
// signed out. Logout clears local state first and tells the server in the
// background. No request is retried automatically.
//
// # Testing
//
// The authtest package provides an in-memory server implementing the request
// contract and a scripted FederatedProvider, so flows can be exercised end to
// end with httptest.
package authgate
