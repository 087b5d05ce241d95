// Package sshaudit provides audit logging for all remote-execution
// operations.
//
// It records security-relevant events to the database and standard
// logger, enabling compliance monitoring, incident investigation, and
// operational visibility into remote shell activity.
//
// # Event Types
//
// The following events are tracked:
//   - [EventSessionOpened] / [EventSessionClosed]: deliberate session lifecycle.
//   - [EventSessionLost]: a session died underneath a running command.
//   - [EventCommandStarted]: a command was written to a remote shell.
//   - [EventCommandCompleted] / [EventCommandFailed]: terminal command outcomes.
//   - [EventCommandPromoted]: a synchronous call timed out and went async.
//   - [EventCommandInterrupted] / [EventInterruptRequested]: Ctrl-C handling.
//   - [EventInputSent]: text delivered to a running command's stdin.
//   - [EventFileRead] / [EventFileWritten]: file transfer operations.
//   - [EventPermissionDenied]: an operation rejected by the permission gate
//     or by the remote sudo policy.
//
// # Architecture
//
// [Auditor] is the core type. It wraps a GORM database connection and
// writes to the audit_logs table. Each entry carries a unique event ID,
// the session key ("user@host:port"), event type, username, source IP,
// free-form details, and duration.
//
// The package uses a global singleton: [InitGlobal] creates the Auditor
// during startup, and [GetAuditor] returns it for use elsewhere. The
// command engine and file service do not import this package directly;
// they expose an Audit hook that main wires to [LogEvent].
//
// # Retention and Purging
//
// Entries are retained for [DefaultRetentionDays] (90 days) by default.
// [Auditor.PurgeOlderThan] removes entries beyond the retention period
// and is invoked by the scheduled purge job.
//
// # Querying
//
// [Auditor.Query] retrieves entries newest first with filtering by
// session key, event type, username, and time range. Results include
// pagination metadata and back the GET /api/audit endpoint.
//
// Audit log lines use the [ssh-audit] prefix for easy filtering.
package sshaudit
