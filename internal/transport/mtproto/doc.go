// Package mtproto provides the broadcast.Session over a Telegram user account
// (MTProto, github.com/gotd/td).
//
// A Provider creates one client per run. The client's connection loop runs on
// its own goroutine for the lifetime of the session and is torn down by
// Disconnect. Authorization keys persist in a session file between runs, so the
// confirmation code is only needed on the first login.
package mtproto
