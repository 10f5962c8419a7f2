// Package broadcast implements the rebroadcast cycle: fetch the newest Saved
// Messages entry, enumerate dialogs, classify them, and send the template to
// every eligible one with pacing, until the run is stopped.
//
// The package only depends on the Session capability; the transport lives in
// internal/transport/mtproto and the run lifecycle in internal/control.
package broadcast
