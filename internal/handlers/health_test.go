package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gluk-w/remsh/internal/database"
)

func checkHealth(t *testing.T) map[string]interface{} {
	t.Helper()
	req := buildRequest(t, "GET", "/health", nil, nil)
	w := httptest.NewRecorder()
	HealthCheck(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("HealthCheck = %d: %s", w.Code, w.Body.String())
	}
	return parseResponse(t, w)
}

func TestHealthCheck_Healthy(t *testing.T) {
	setupTestDB(t)
	bareEngine(t)

	result := checkHealth(t)
	if result["status"] != "healthy" {
		t.Errorf("expected status healthy, got %v", result["status"])
	}
	if result["database"] != "connected" {
		t.Errorf("expected database connected, got %v", result["database"])
	}
	if result["sessions"].(float64) != 0 {
		t.Errorf("expected 0 sessions, got %v", result["sessions"])
	}
	if result["running_commands"].(float64) != 0 {
		t.Errorf("expected 0 running commands, got %v", result["running_commands"])
	}
}

func TestHealthCheck_DatabaseDown(t *testing.T) {
	savedDB := database.DB
	savedPool, savedEng := Pool, Eng
	database.DB = nil
	Pool = nil
	Eng = nil
	t.Cleanup(func() {
		database.DB = savedDB
		Pool, Eng = savedPool, savedEng
	})

	result := checkHealth(t)
	if result["status"] != "unhealthy" {
		t.Errorf("expected status unhealthy, got %v", result["status"])
	}
	if result["database"] != "disconnected" {
		t.Errorf("expected database disconnected, got %v", result["database"])
	}
	if result["sessions"].(float64) != 0 || result["running_commands"].(float64) != 0 {
		t.Errorf("expected zero gauges without pool and engine, got %v/%v",
			result["sessions"], result["running_commands"])
	}
}

func TestHealthCheck_CountsActiveWork(t *testing.T) {
	setupTestDB(t)
	f := newAPIFixture(t)

	req := buildRequest(t, "POST", "/api/execute/async", f.params(map[string]interface{}{"command": "spin"}), nil)
	w := httptest.NewRecorder()
	ExecuteCommandAsync(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("ExecuteCommandAsync = %d: %s", w.Code, w.Body.String())
	}
	id := parseResponse(t, w)["command_id"].(string)
	waitCommandOutput(t, id, "tick 1", 5*time.Second)

	result := checkHealth(t)
	if result["sessions"].(float64) != 1 {
		t.Errorf("expected 1 session while command runs, got %v", result["sessions"])
	}
	if result["running_commands"].(float64) != 1 {
		t.Errorf("expected 1 running command, got %v", result["running_commands"])
	}

	ireq := buildRequest(t, "POST", "/api/commands/"+id+"/interrupt", nil, map[string]string{"id": id})
	iw := httptest.NewRecorder()
	InterruptCommand(iw, ireq)
	if iw.Code != http.StatusOK {
		t.Fatalf("InterruptCommand = %d: %s", iw.Code, iw.Body.String())
	}
	waitCommandStatus(t, id, "interrupted", 5*time.Second)

	result = checkHealth(t)
	if result["running_commands"].(float64) != 0 {
		t.Errorf("expected running gauge to drain after interrupt, got %v", result["running_commands"])
	}
}
