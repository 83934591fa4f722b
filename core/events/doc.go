// Package events defines the typed stream event contract produced by the frame
// parser and consumed by the widget coordinator.
//
// Event kinds:
//
//   - Status (stream.status): transient progress text shown next to the
//     in-flight reply; never stored in a message.
//   - Token (stream.token): append-only reply text segment, in stream order.
//   - Media (stream.media): raw markup that becomes a separate message once
//     sanitized.
//   - Done (stream.done): terminal; the reply text is complete.
//   - Error (stream.error): terminal; the backend gave up. Handled like Done
//     with no further text.
//
// Each event is produced exactly once by the parser and consumed once.
// Unknown or malformed frames never become events.
package events
