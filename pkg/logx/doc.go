// Package logx configures castbot's structured logging.
//
// Components log through logx.Logger, a thin layer over zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Sinks swappable at runtime (config hot reload) without rebuilding component loggers
package logx
