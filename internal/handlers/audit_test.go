package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gluk-w/remsh/internal/database"
	"github.com/gluk-w/remsh/internal/sshaudit"
)

func setupAuditor(t *testing.T) *sshaudit.Auditor {
	t.Helper()
	setupTestDB(t)
	a := sshaudit.NewAuditor(database.DB, 90)
	sshaudit.SetGlobalForTest(a)
	t.Cleanup(sshaudit.ResetGlobalForTest)
	return a
}

// seedAuditRow inserts an audit entry with an explicit timestamp so the
// time-window filters have something deterministic to match against.
func seedAuditRow(t *testing.T, sessionKey, eventType, username string, createdAt time.Time) {
	t.Helper()
	row := database.AuditLog{
		EventID:    uuid.NewString(),
		SessionKey: sessionKey,
		EventType:  eventType,
		Username:   username,
		SourceIP:   "127.0.0.1",
		CreatedAt:  createdAt,
	}
	if err := database.DB.Create(&row).Error; err != nil {
		t.Fatalf("failed to seed audit row: %v", err)
	}
}

func getAudit(t *testing.T, query string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := buildRequest(t, "GET", "/api/audit"+query, nil, nil)
	w := httptest.NewRecorder()
	GetAuditLogs(w, req)
	return w, parseResponse(t, w)
}

func purgeAudit(t *testing.T, query string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := buildRequest(t, "POST", "/api/audit/purge"+query, nil, nil)
	w := httptest.NewRecorder()
	PurgeAuditLogs(w, req)
	return w, parseResponse(t, w)
}

// --- tests ---

func TestGetAuditLogs_NoAuditor(t *testing.T) {
	sshaudit.ResetGlobalForTest()

	w, _ := getAudit(t, "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without an auditor, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetAuditLogs_NewestFirst(t *testing.T) {
	setupAuditor(t)
	now := time.Now()

	seedAuditRow(t, "alice@web1:22", "command_started", "alice", now.Add(-3*time.Hour))
	seedAuditRow(t, "alice@web1:22", "command_completed", "alice", now.Add(-2*time.Hour))
	seedAuditRow(t, "bob@db1:22", "session_opened", "bob", now.Add(-1*time.Hour))

	w, result := getAudit(t, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if result["total"].(float64) != 3 {
		t.Errorf("expected total 3, got %v", result["total"])
	}
	if result["limit"].(float64) != 50 {
		t.Errorf("expected default limit 50, got %v", result["limit"])
	}
	entries := result["entries"].([]interface{})
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	first := entries[0].(map[string]interface{})
	if first["session_key"] != "bob@db1:22" {
		t.Errorf("expected newest entry first, got session %v", first["session_key"])
	}
	if first["event_type"] != "session_opened" {
		t.Errorf("expected event_type session_opened, got %v", first["event_type"])
	}
	if first["source_ip"] != "127.0.0.1" {
		t.Errorf("expected source_ip to round-trip, got %v", first["source_ip"])
	}
}

func TestGetAuditLogs_Filters(t *testing.T) {
	setupAuditor(t)
	now := time.Now()

	seedAuditRow(t, "alice@web1:22", "command_started", "alice", now.Add(-3*time.Hour))
	seedAuditRow(t, "alice@web1:22", "command_completed", "alice", now.Add(-2*time.Hour))
	seedAuditRow(t, "bob@db1:22", "session_opened", "bob", now.Add(-1*time.Hour))

	cases := []struct {
		name  string
		query string
		total float64
	}{
		{"by session", "?session=alice@web1:22", 2},
		{"by event type", "?event_type=session_opened", 1},
		{"by username", "?username=bob", 1},
		{"since window", "?since=" + now.Add(-90*time.Minute).UTC().Format(time.RFC3339), 1},
		{"until window", "?until=" + now.Add(-150*time.Minute).UTC().Format(time.RFC3339), 1},
		{"no match", "?username=mallory", 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, result := getAudit(t, tc.query)
			if w.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
			}
			if result["total"].(float64) != tc.total {
				t.Errorf("expected total %v, got %v", tc.total, result["total"])
			}
			if len(result["entries"].([]interface{})) != int(tc.total) {
				t.Errorf("expected %v entries, got %d", tc.total, len(result["entries"].([]interface{})))
			}
		})
	}
}

func TestGetAuditLogs_Pagination(t *testing.T) {
	setupAuditor(t)
	now := time.Now()

	seedAuditRow(t, "alice@web1:22", "command_started", "alice", now.Add(-3*time.Hour))
	seedAuditRow(t, "alice@web1:22", "command_completed", "alice", now.Add(-2*time.Hour))
	seedAuditRow(t, "bob@db1:22", "session_opened", "bob", now.Add(-1*time.Hour))

	w, result := getAudit(t, "?limit=1&offset=1")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if result["total"].(float64) != 3 {
		t.Errorf("expected total to count all matches, got %v", result["total"])
	}
	if result["limit"].(float64) != 1 || result["offset"].(float64) != 1 {
		t.Errorf("expected limit/offset echoed back, got %v/%v", result["limit"], result["offset"])
	}
	entries := result["entries"].([]interface{})
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].(map[string]interface{})["event_type"] != "command_completed" {
		t.Errorf("expected second-newest entry, got %v", entries[0].(map[string]interface{})["event_type"])
	}
}

func TestGetAuditLogs_InvalidParams(t *testing.T) {
	setupAuditor(t)

	for _, query := range []string{
		"?since=yesterday",
		"?until=not-a-time",
		"?limit=0",
		"?limit=abc",
		"?offset=-1",
	} {
		w, _ := getAudit(t, query)
		if w.Code != http.StatusBadRequest {
			t.Errorf("query %q: expected 400, got %d", query, w.Code)
		}
	}
}

func TestPurgeAuditLogs_DropsOldEntries(t *testing.T) {
	setupAuditor(t)
	now := time.Now()

	seedAuditRow(t, "old@host:22", "session_closed", "old", now.AddDate(0, 0, -200))
	seedAuditRow(t, "old@host:22", "session_opened", "old", now.AddDate(0, 0, -120))
	seedAuditRow(t, "new@host:22", "session_opened", "new", now.Add(-time.Hour))

	w, result := purgeAudit(t, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if result["deleted"].(float64) != 2 {
		t.Errorf("expected 2 deleted, got %v", result["deleted"])
	}
	if result["retention_days"].(float64) != 90 {
		t.Errorf("expected retention_days 90, got %v", result["retention_days"])
	}

	_, remaining := getAudit(t, "")
	if remaining["total"].(float64) != 1 {
		t.Errorf("expected 1 surviving entry, got %v", remaining["total"])
	}
}

func TestPurgeAuditLogs_DaysOverride(t *testing.T) {
	setupAuditor(t)
	now := time.Now()

	seedAuditRow(t, "a@host:22", "session_opened", "a", now.AddDate(0, 0, -10))
	seedAuditRow(t, "b@host:22", "session_opened", "b", now.AddDate(0, 0, -2))

	w, result := purgeAudit(t, "?days=5")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if result["deleted"].(float64) != 1 {
		t.Errorf("expected 1 deleted with days=5, got %v", result["deleted"])
	}
}

func TestPurgeAuditLogs_InvalidDays(t *testing.T) {
	setupAuditor(t)

	for _, query := range []string{"?days=abc", "?days=0", "?days=-7"} {
		w, _ := purgeAudit(t, query)
		if w.Code != http.StatusBadRequest {
			t.Errorf("query %q: expected 400, got %d", query, w.Code)
		}
	}
}

func TestPurgeAuditLogs_NoAuditor(t *testing.T) {
	sshaudit.ResetGlobalForTest()

	w, _ := purgeAudit(t, "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without an auditor, got %d: %s", w.Code, w.Body.String())
	}
}
