// Package logx configures bulksender's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional chat sink (min-level + rate limiting) that forwards warnings
//     to a WhatsApp chat through the live session
package logx
