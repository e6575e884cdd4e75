// Package logx configures chime's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Log level/output swappable at runtime via Service.Apply()
//
// The zero value of Logger is a safe no-op, so components can hold a Logger
// by value without nil checks.
package logx
