package sshaudit

import (
	"net/http"
	"strings"
)

// LogEvent records an event through the global auditor. Its signature
// matches the Audit hook on the command engine and the file service, so
// it can be wired directly at startup. Safe to call before InitGlobal;
// events are silently dropped when no auditor is configured.
func LogEvent(eventType, sessionKey, details string) {
	if a := GetAuditor(); a != nil {
		a.Record(Entry{
			EventType:  eventType,
			SessionKey: sessionKey,
			Details:    details,
		})
	}
}

// LogSessionOpened records a session establishment with the requesting
// user and source address.
func LogSessionOpened(sessionKey, username, sourceIP string) {
	if a := GetAuditor(); a != nil {
		a.Record(Entry{
			EventType:  EventSessionOpened,
			SessionKey: sessionKey,
			Username:   username,
			SourceIP:   sourceIP,
		})
	}
}

// LogSessionClosed records a deliberate session teardown.
func LogSessionClosed(sessionKey, username, sourceIP string, durationMs int64) {
	if a := GetAuditor(); a != nil {
		a.Record(Entry{
			EventType:  EventSessionClosed,
			SessionKey: sessionKey,
			Username:   username,
			SourceIP:   sourceIP,
			DurationMs: durationMs,
		})
	}
}

// LogPermissionDenied records a rejected operation with the requesting
// user and source address, which the hook-based path cannot carry.
func LogPermissionDenied(sessionKey, username, sourceIP, details string) {
	if a := GetAuditor(); a != nil {
		a.Record(Entry{
			EventType:  EventPermissionDenied,
			SessionKey: sessionKey,
			Username:   username,
			SourceIP:   sourceIP,
			Details:    details,
		})
	}
}

// ExtractSourceIP extracts the client IP from an HTTP request,
// preferring X-Forwarded-For and X-Real-IP headers.
func ExtractSourceIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	// Fall back to remote address (strip port)
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}
