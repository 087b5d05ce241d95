package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gluk-w/remsh/internal/crypto"
	"github.com/gluk-w/remsh/internal/database"
)

type hostUpsertRequest struct {
	Alias          string `json:"alias"`
	Hostname       string `json:"hostname"`
	Port           int    `json:"port,omitempty"`
	Username       string `json:"username,omitempty"`
	KeyPath        string `json:"key_path,omitempty"`
	Password       string `json:"password,omitempty"`
	EnablePassword string `json:"enable_password,omitempty"`
	SudoPassword   string `json:"sudo_password,omitempty"`
}

// hostResponse is a registered host with its secrets masked for display.
type hostResponse struct {
	Alias          string `json:"alias"`
	Hostname       string `json:"hostname"`
	Port           int    `json:"port"`
	Username       string `json:"username,omitempty"`
	KeyPath        string `json:"key_path,omitempty"`
	Password       string `json:"password,omitempty"`
	EnablePassword string `json:"enable_password,omitempty"`
	SudoPassword   string `json:"sudo_password,omitempty"`
}

func maskedSecret(enc string) string {
	if enc == "" {
		return ""
	}
	plain, err := crypto.Decrypt(enc)
	if err != nil {
		return "****"
	}
	return crypto.Mask(plain)
}

func toHostResponse(h database.Host) hostResponse {
	return hostResponse{
		Alias:          h.Alias,
		Hostname:       h.Hostname,
		Port:           h.Port,
		Username:       h.Username,
		KeyPath:        h.KeyPath,
		Password:       maskedSecret(h.EncPassword),
		EnablePassword: maskedSecret(h.EncEnable),
		SudoPassword:   maskedSecret(h.EncSudo),
	}
}

// ListHosts returns all registered hosts with masked secrets.
// GET /api/hosts
func ListHosts(w http.ResponseWriter, r *http.Request) {
	rows, err := database.ListHosts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list hosts")
		return
	}
	out := make([]hostResponse, 0, len(rows))
	for _, h := range rows {
		out = append(out, toHostResponse(h))
	}
	writeJSON(w, http.StatusOK, map[string][]hostResponse{"hosts": out})
}

// UpsertHost registers a host or updates an existing registration.
// Omitted fields keep their stored values; provided secrets are
// encrypted at rest.
// POST /api/hosts
func UpsertHost(w http.ResponseWriter, r *http.Request) {
	var req hostUpsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Alias == "" {
		writeError(w, http.StatusBadRequest, "alias is required")
		return
	}

	row := &database.Host{Alias: req.Alias, Port: 22}
	if existing, err := database.GetHostByAlias(req.Alias); err == nil {
		row = existing
	} else if !database.IsNotFoundErr(err) {
		writeError(w, http.StatusInternalServerError, "Failed to look up host")
		return
	}

	if req.Hostname != "" {
		row.Hostname = req.Hostname
	}
	if row.Hostname == "" {
		row.Hostname = req.Alias
	}
	if req.Port != 0 {
		row.Port = req.Port
	}
	if req.Username != "" {
		row.Username = req.Username
	}
	if req.KeyPath != "" {
		row.KeyPath = req.KeyPath
	}

	for _, secret := range []struct {
		value string
		dst   *string
	}{
		{req.Password, &row.EncPassword},
		{req.EnablePassword, &row.EncEnable},
		{req.SudoPassword, &row.EncSudo},
	} {
		if secret.value == "" {
			continue
		}
		enc, err := crypto.Encrypt(secret.value)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to encrypt secret")
			return
		}
		*secret.dst = enc
	}

	if err := database.UpsertHost(row); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save host")
		return
	}
	writeJSON(w, http.StatusOK, toHostResponse(*row))
}

// DeleteHost removes a host registration.
// DELETE /api/hosts/{alias}
func DeleteHost(w http.ResponseWriter, r *http.Request) {
	alias := chi.URLParam(r, "alias")
	if err := database.DeleteHost(alias); err != nil {
		if database.IsNotFoundErr(err) {
			writeError(w, http.StatusNotFound, "Host not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete host")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "alias": alias})
}
