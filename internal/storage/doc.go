// Package storage provides the durable persistence layer behind mail
// dispatch.
//
// It currently supports:
//   - Staged mail rows (messages deferred until the enclosing
//     transaction commits)
//   - Per-recipient send timestamps (rate-window counting)
//   - A process-wide transaction scope with after-commit hooks
package storage
