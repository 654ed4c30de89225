// Package logx configures the mailer's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional separate error-log sink (min-level + rate limiting), so a
//     flapping mail transport cannot flood the disk
package logx
