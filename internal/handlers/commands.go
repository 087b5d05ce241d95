package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/gluk-w/remsh/internal/sshexec"
)

// GetCommand returns the current snapshot of a tracked command.
// GET /api/commands/{id}
func GetCommand(w http.ResponseWriter, r *http.Request) {
	snap, err := Eng.Status(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// InterruptCommand sends Ctrl-C to a running command and waits briefly
// for it to stop. The response carries the record as it stood when the
// wait ended; a stubborn command may still be running in it.
// POST /api/commands/{id}/interrupt
func InterruptCommand(w http.ResponseWriter, r *http.Request) {
	snap, err := Eng.Interrupt(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type inputRequest struct {
	Input string `json:"input"`
}

// SendCommandInput writes a line of text to a running command's shell,
// for interactive prompts that are not privilege-password prompts.
// POST /api/commands/{id}/input
func SendCommandInput(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req inputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := Eng.SendInput(id, req.Input); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent", "command_id": id})
}

// ListCommands lists running commands by default. ?status= selects
// another status; ?status=all disables the filter.
// GET /api/commands
func ListCommands(w http.ResponseWriter, r *http.Request) {
	status := sshexec.StatusRunning
	switch v := r.URL.Query().Get("status"); v {
	case "":
	case "all":
		status = ""
	default:
		status = sshexec.Status(v)
	}
	writeJSON(w, http.StatusOK, map[string][]sshexec.Snapshot{"commands": Eng.List(status)})
}

// ListHistory returns terminal command records, most recent first.
// GET /api/history?limit=
func ListHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, map[string][]sshexec.Snapshot{"history": Eng.History(limit)})
}
