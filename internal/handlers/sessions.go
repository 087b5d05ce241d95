package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gluk-w/remsh/internal/sshaudit"
	"github.com/gluk-w/remsh/internal/sshpool"
)

// ListSessions returns every pooled session with its status and
// elevation level.
// GET /api/sessions
func ListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]sshpool.Info{"sessions": Pool.List()})
}

type closeSessionRequest struct {
	Host     string `json:"host"`
	Username string `json:"username,omitempty"`
	Port     int    `json:"port,omitempty"`
}

// CloseSession tears down the pooled session for a host. Closing a
// session that does not exist is not an error.
// POST /api/sessions/close
func CloseSession(w http.ResponseWriter, r *http.Request) {
	var req closeSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Host == "" {
		writeError(w, http.StatusBadRequest, "host is required")
		return
	}

	key, _, err := resolveTarget(hostParams{Host: req.Host, Username: req.Username, Port: req.Port})
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	var openedAt time.Time
	for _, info := range Pool.List() {
		if info.Key == key.String() {
			openedAt = info.ConnectedAt
			break
		}
	}

	closed := Pool.Close(key)
	if closed {
		var durMs int64
		if !openedAt.IsZero() {
			durMs = time.Since(openedAt).Milliseconds()
		}
		sshaudit.LogSessionClosed(key.String(), key.User, sshaudit.ExtractSourceIP(r), durMs)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"closed": closed, "session": key.String()})
}

// CloseAllSessions tears down every pooled session.
// POST /api/sessions/close-all
func CloseAllSessions(w http.ResponseWriter, r *http.Request) {
	infos := Pool.List()
	Pool.CloseAll()

	ip := sshaudit.ExtractSourceIP(r)
	for _, info := range infos {
		sshaudit.LogSessionClosed(info.Key, info.User, ip, time.Since(info.ConnectedAt).Milliseconds())
	}
	writeJSON(w, http.StatusOK, map[string]int{"closed": len(infos)})
}
