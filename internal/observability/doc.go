// Package observability exposes broadcast metrics and an optional debug HTTP
// server (/healthz, /metrics, pprof).
package observability
