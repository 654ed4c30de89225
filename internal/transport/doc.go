// Package transport hands a serialized message to a mail-transfer backend.
//
// The closed set of backends:
//   - disabled:      no-op
//   - local-agent:   pipe to a sendmail-compatible executable
//   - network-relay: SMTP relay over a cached, reused connection
//   - file-sink:     append to a local mbox file
//   - test-sink:     file-sink variant meant for test inspection
package transport
