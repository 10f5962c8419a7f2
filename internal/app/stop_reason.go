package app

// StopReason is recorded in the shutdown log line.
type StopReason string

const (
	StopSignal      StopReason = "signal"
	StopSurfaceExit StopReason = "surface_exit"
	StopFatalError  StopReason = "fatal_error"
)
