// Package auth establishes an authenticated broadcast.Session for one run.
//
// The provider handshake lives behind Connector. This package owns the
// confirmation-code challenge: the prompt, the single-slot CodeBox that the
// control surface fills, and the bounded wait on it.
package auth
