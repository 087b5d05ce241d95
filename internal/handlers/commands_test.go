package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gluk-w/remsh/internal/sshexec"
	"github.com/gluk-w/remsh/internal/sshpool"
)

// bareEngine wires an engine with no reachable host, enough for the
// registry-only paths.
func bareEngine(t *testing.T) {
	t.Helper()
	Pool = sshpool.NewManager(sshpool.Config{DialTimeout: time.Second})
	t.Cleanup(Pool.CloseAll)
	Eng = sshexec.New(Pool, nil, sshexec.Config{})
}

func listCommands(t *testing.T, query string) []interface{} {
	t.Helper()
	req := buildRequest(t, "GET", "/api/commands"+query, nil, nil)
	w := httptest.NewRecorder()
	ListCommands(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("ListCommands = %d: %s", w.Code, w.Body.String())
	}
	result := parseResponse(t, w)
	commands, ok := result["commands"].([]interface{})
	if !ok {
		t.Fatalf("commands is not an array: %v", result)
	}
	return commands
}

func TestGetCommand_NotFound(t *testing.T) {
	bareEngine(t)

	code, result := getCommand(t, "no-such-id")
	if code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
	if result["code"] != "not_found" {
		t.Errorf("code = %v, want not_found", result["code"])
	}
}

func TestInterruptCommand_NotFound(t *testing.T) {
	bareEngine(t)

	req := buildRequest(t, "POST", "/api/commands/ghost/interrupt", nil, map[string]string{"id": "ghost"})
	w := httptest.NewRecorder()
	InterruptCommand(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestSendCommandInput_NotFound(t *testing.T) {
	bareEngine(t)

	req := buildRequest(t, "POST", "/api/commands/ghost/input",
		map[string]string{"input": "y"}, map[string]string{"id": "ghost"})
	w := httptest.NewRecorder()
	SendCommandInput(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestSendCommandInput_InvalidBody(t *testing.T) {
	bareEngine(t)

	req := buildRequest(t, "POST", "/api/commands/x/input", []byte("nope"), map[string]string{"id": "x"})
	w := httptest.NewRecorder()
	SendCommandInput(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestSendCommandInput_ForwardsToShell(t *testing.T) {
	f := newAPIFixture(t)

	req := buildRequest(t, "POST", "/api/execute/async", f.params(map[string]interface{}{
		"command": "readline",
	}), nil)
	w := httptest.NewRecorder()
	ExecuteCommandAsync(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("ExecuteCommandAsync = %d: %s", w.Code, w.Body.String())
	}
	id := parseResponse(t, w)["command_id"].(string)

	waitCommandOutput(t, id, "enter value:", 3*time.Second)

	ireq := buildRequest(t, "POST", "/api/commands/"+id+"/input",
		map[string]string{"input": "blue"}, map[string]string{"id": id})
	iw := httptest.NewRecorder()
	SendCommandInput(iw, ireq)
	if iw.Code != http.StatusOK {
		t.Fatalf("SendCommandInput = %d: %s", iw.Code, iw.Body.String())
	}
	ack := parseResponse(t, iw)
	if ack["status"] != "sent" || ack["command_id"] != id {
		t.Errorf("ack = %v, want sent with the command id", ack)
	}

	snap := waitCommandStatus(t, id, "completed", 5*time.Second)
	if out, _ := snap["output"].(string); !strings.Contains(out, "got: blue") {
		t.Errorf("output = %q, want the forwarded input echoed", out)
	}
}

func TestListCommands_Empty(t *testing.T) {
	bareEngine(t)

	if commands := listCommands(t, ""); len(commands) != 0 {
		t.Errorf("expected no commands, got %v", commands)
	}
}

func TestListCommands_StatusFilter(t *testing.T) {
	f := newAPIFixture(t)

	req := buildRequest(t, "POST", "/api/execute/async", f.params(map[string]interface{}{
		"command": "spin",
	}), nil)
	w := httptest.NewRecorder()
	ExecuteCommandAsync(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("ExecuteCommandAsync = %d", w.Code)
	}
	id := parseResponse(t, w)["command_id"].(string)
	waitCommandOutput(t, id, "tick 0", 3*time.Second)

	// Running is the default filter.
	running := listCommands(t, "")
	if len(running) != 1 {
		t.Fatalf("List() = %d commands, want the running one", len(running))
	}
	if running[0].(map[string]interface{})["command_id"] != id {
		t.Errorf("listed command = %v, want %s", running[0], id)
	}
	if len(listCommands(t, "?status=completed")) != 0 {
		t.Error("completed filter should not match a running command")
	}

	ireq := buildRequest(t, "POST", "/api/commands/"+id+"/interrupt", nil, map[string]string{"id": id})
	iw := httptest.NewRecorder()
	InterruptCommand(iw, ireq)
	if iw.Code != http.StatusOK {
		t.Fatalf("InterruptCommand = %d", iw.Code)
	}

	if len(listCommands(t, "")) != 0 {
		t.Error("interrupted command still shows under the running filter")
	}
	if len(listCommands(t, "?status=interrupted")) != 1 {
		t.Error("interrupted filter missed the command")
	}
	if len(listCommands(t, "?status=all")) != 1 {
		t.Error("all filter missed the command")
	}
}

func TestListHistory_ReturnsTerminalRecords(t *testing.T) {
	f := newAPIFixture(t)

	req := buildRequest(t, "POST", "/api/execute/async", f.params(map[string]interface{}{
		"command": "echo remembered",
	}), nil)
	w := httptest.NewRecorder()
	ExecuteCommandAsync(w, req)
	id := parseResponse(t, w)["command_id"].(string)
	waitCommandStatus(t, id, "completed", 5*time.Second)

	hreq := buildRequest(t, "GET", "/api/history", nil, nil)
	hw := httptest.NewRecorder()
	ListHistory(hw, hreq)
	if hw.Code != http.StatusOK {
		t.Fatalf("ListHistory = %d", hw.Code)
	}
	history := parseResponse(t, hw)["history"].([]interface{})
	if len(history) != 1 {
		t.Fatalf("history has %d records, want 1", len(history))
	}
	if history[0].(map[string]interface{})["command_id"] != id {
		t.Errorf("history entry = %v, want command %s", history[0], id)
	}
}

func TestListHistory_InvalidLimit(t *testing.T) {
	bareEngine(t)

	for _, q := range []string{"?limit=abc", "?limit=0", "?limit=-3"} {
		req := buildRequest(t, "GET", "/api/history"+q, nil, nil)
		w := httptest.NewRecorder()
		ListHistory(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, w.Code)
		}
	}
}
