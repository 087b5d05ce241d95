package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gluk-w/remsh/internal/sshexec"
)

// executeRequest mirrors the execute operation parameters. Timeout is in
// seconds; zero falls back to the server default.
type executeRequest struct {
	hostParams
	Command        string  `json:"command"`
	TimeoutSeconds float64 `json:"timeout_seconds,omitempty"`
}

// syncResult is a completed command plus its wall-clock duration.
type syncResult struct {
	*sshexec.Result
	DurationMs int64 `json:"duration_ms"`
}

func buildExecRequest(req executeRequest) (sshexec.Request, error) {
	key, creds, err := resolveTarget(req.hostParams)
	if err != nil {
		return sshexec.Request{}, err
	}
	return sshexec.Request{
		Alias:   req.Host,
		Key:     key,
		Creds:   creds,
		Command: req.Command,
		Timeout: time.Duration(req.TimeoutSeconds * float64(time.Second)),
	}, nil
}

// ExecuteCommand runs a command on the target host and waits for
// completion up to the timeout. A command that outlives its timeout is
// promoted instead of killed: the response switches to 202 with a
// command ID to poll.
func ExecuteCommand(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Host == "" || req.Command == "" {
		writeError(w, http.StatusBadRequest, "host and command are required")
		return
	}

	ereq, err := buildExecRequest(req)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	res, handle, err := Eng.Execute(r.Context(), ereq)
	if err != nil {
		writeErr(w, err)
		return
	}
	if handle != nil {
		writeJSON(w, http.StatusAccepted, handle)
		return
	}
	writeJSON(w, http.StatusOK, syncResult{Result: res, DurationMs: res.Duration.Milliseconds()})
}

// ExecuteCommandAsync starts a command without waiting. The command is
// tracked immediately; poll it via GET /api/commands/{id}.
func ExecuteCommandAsync(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Host == "" || req.Command == "" {
		writeError(w, http.StatusBadRequest, "host and command are required")
		return
	}

	ereq, err := buildExecRequest(req)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	handle, err := Eng.ExecuteAsync(r.Context(), ereq)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, handle)
}
