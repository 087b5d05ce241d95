package handlers

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/gluk-w/remsh/internal/sshfiles"
)

type fileReadRequest struct {
	hostParams
	Path     string `json:"path"`
	MaxBytes int64  `json:"max_bytes,omitempty"`
	UseSudo  bool   `json:"use_sudo,omitempty"`
}

// ReadFile fetches a remote file. Content comes back base64 encoded;
// truncated is set when the size cap cut it short.
// POST /api/files/read
func ReadFile(w http.ResponseWriter, r *http.Request) {
	var req fileReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Host == "" || req.Path == "" {
		writeError(w, http.StatusBadRequest, "host and path are required")
		return
	}

	key, creds, err := resolveTarget(req.hostParams)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	res, err := Files.Read(r.Context(), sshfiles.ReadRequest{
		Alias:    req.Host,
		Key:      key,
		Creds:    creds,
		Path:     req.Path,
		MaxBytes: req.MaxBytes,
		UseSudo:  req.UseSudo,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type fileWriteRequest struct {
	hostParams
	Path        string `json:"path"`
	Content     []byte `json:"content"` // base64 on the wire
	Append      bool   `json:"append,omitempty"`
	MakeDirs    bool   `json:"make_dirs,omitempty"`
	Permissions int    `json:"permissions,omitempty"`
	UseSudo     bool   `json:"use_sudo,omitempty"`
}

// WriteFile writes content to a remote file. The size cap is enforced
// before any network traffic.
// POST /api/files/write
func WriteFile(w http.ResponseWriter, r *http.Request) {
	var req fileWriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Host == "" || req.Path == "" {
		writeError(w, http.StatusBadRequest, "host and path are required")
		return
	}

	key, creds, err := resolveTarget(req.hostParams)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if err := Files.Write(r.Context(), sshfiles.WriteRequest{
		Alias:    req.Host,
		Key:      key,
		Creds:    creds,
		Path:     req.Path,
		Content:  req.Content,
		Append:   req.Append,
		MakeDirs: req.MakeDirs,
		Perm:     os.FileMode(req.Permissions),
		UseSudo:  req.UseSudo,
	}); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "written",
		"path":   req.Path,
		"bytes":  len(req.Content),
	})
}

type fileListRequest struct {
	hostParams
	Path string `json:"path"`
}

// ListFiles returns a remote directory listing.
// POST /api/files/list
func ListFiles(w http.ResponseWriter, r *http.Request) {
	var req fileListRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Host == "" || req.Path == "" {
		writeError(w, http.StatusBadRequest, "host and path are required")
		return
	}

	key, creds, err := resolveTarget(req.hostParams)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	entries, err := Files.List(r.Context(), req.Host, key, creds, req.Path)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"path":    req.Path,
		"entries": entries,
	})
}
