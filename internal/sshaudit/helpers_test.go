package sshaudit

import (
	"net/http/httptest"
	"testing"
)

func setupGlobalAuditor(t *testing.T) *Auditor {
	t.Helper()
	a := NewAuditor(setupTestDB(t), 0)
	SetGlobalForTest(a)
	t.Cleanup(ResetGlobalForTest)
	return a
}

func TestLogEventRecordsThroughGlobal(t *testing.T) {
	a := setupGlobalAuditor(t)

	LogEvent(EventCommandStarted, "alice@web-1:22", "ls -la")

	res, err := a.Query(QueryOptions{EventType: EventCommandStarted})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Total != 1 {
		t.Fatalf("expected 1 entry, got %d", res.Total)
	}
	e := res.Entries[0]
	if e.SessionKey != "alice@web-1:22" {
		t.Errorf("session key = %q", e.SessionKey)
	}
	if e.Details != "ls -la" {
		t.Errorf("details = %q", e.Details)
	}
}

func TestLogSessionOpened(t *testing.T) {
	a := setupGlobalAuditor(t)

	LogSessionOpened("alice@web-1:22", "alice", "10.0.0.5")

	res, err := a.Query(QueryOptions{EventType: EventSessionOpened})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Total != 1 {
		t.Fatalf("expected 1 entry, got %d", res.Total)
	}
	e := res.Entries[0]
	if e.Username != "alice" || e.SourceIP != "10.0.0.5" {
		t.Errorf("user/ip = %q/%q", e.Username, e.SourceIP)
	}
}

func TestLogSessionClosedStoresDuration(t *testing.T) {
	a := setupGlobalAuditor(t)

	LogSessionClosed("alice@web-1:22", "alice", "10.0.0.5", 90000)

	res, err := a.Query(QueryOptions{EventType: EventSessionClosed})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Total != 1 {
		t.Fatalf("expected 1 entry, got %d", res.Total)
	}
	if res.Entries[0].Duration != 90000 {
		t.Errorf("duration = %d, want 90000", res.Entries[0].Duration)
	}
}

func TestLogPermissionDenied(t *testing.T) {
	a := setupGlobalAuditor(t)

	LogPermissionDenied("bob@db-1:22", "bob", "10.0.0.9", "write /etc/shadow")

	res, err := a.Query(QueryOptions{EventType: EventPermissionDenied})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Total != 1 {
		t.Fatalf("expected 1 entry, got %d", res.Total)
	}
	if res.Entries[0].Details != "write /etc/shadow" {
		t.Errorf("details = %q", res.Entries[0].Details)
	}
}

func TestHelpers_NilAuditor(t *testing.T) {
	ResetGlobalForTest()
	// These should not panic when no auditor is configured
	LogEvent(EventCommandStarted, "u@h:22", "ls")
	LogSessionOpened("u@h:22", "admin", "10.0.0.1")
	LogSessionClosed("u@h:22", "admin", "10.0.0.1", 0)
	LogPermissionDenied("u@h:22", "admin", "10.0.0.1", "nope")
}

func TestExtractSourceIP_XForwardedFor(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.50, 70.41.3.18")
	ip := ExtractSourceIP(r)
	if ip != "203.0.113.50" {
		t.Errorf("expected '203.0.113.50', got %q", ip)
	}
}

func TestExtractSourceIP_XRealIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Real-Ip", "198.51.100.10")
	ip := ExtractSourceIP(r)
	if ip != "198.51.100.10" {
		t.Errorf("expected '198.51.100.10', got %q", ip)
	}
}

func TestExtractSourceIP_RemoteAddr(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.1:12345"
	ip := ExtractSourceIP(r)
	if ip != "192.0.2.1" {
		t.Errorf("expected '192.0.2.1', got %q", ip)
	}
}

func TestExtractSourceIP_Priority(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.50")
	r.Header.Set("X-Real-Ip", "198.51.100.10")
	r.RemoteAddr = "192.0.2.1:12345"
	// X-Forwarded-For should take priority
	ip := ExtractSourceIP(r)
	if ip != "203.0.113.50" {
		t.Errorf("expected '203.0.113.50', got %q", ip)
	}
}
