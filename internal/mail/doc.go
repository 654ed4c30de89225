// Package mail dispatches generated notification messages to a
// mail-transfer backend.
//
// The dispatcher guarantees three things:
//   - mail is never sent for work whose enclosing transaction rolls back
//     (deferred into the staging table, drained after commit)
//   - a recipient is never flooded past the configured per-minute and
//     per-hour windows
//   - the delivery backend is swappable via configuration without
//     touching callers
//
// Rendering the message body/subject is the caller's job; this package
// consumes finished messages only.
package mail
