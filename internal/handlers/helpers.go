package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gluk-w/remsh/internal/errdefs"
	"github.com/gluk-w/remsh/internal/hostcfg"
	"github.com/gluk-w/remsh/internal/sshexec"
	"github.com/gluk-w/remsh/internal/sshfiles"
	"github.com/gluk-w/remsh/internal/sshpool"
)

// Wiring singletons, set from main.go during init.
var (
	Pool     *sshpool.Manager
	Eng      *sshexec.Engine
	Files    *sshfiles.Service
	Resolver *hostcfg.Resolver
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeErr maps a classified error to its HTTP status and stable code.
func writeErr(w http.ResponseWriter, err error) {
	if sshexec.IsValidationErr(err) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"detail": err.Error(),
			"code":   "validation_error",
		})
		return
	}
	writeJSON(w, statusFor(err), map[string]string{
		"detail": err.Error(),
		"code":   errdefs.Code(err),
	})
}

func statusFor(err error) int {
	switch {
	case errdefs.IsConnection(err), errdefs.IsSessionLost(err):
		return http.StatusBadGateway
	case errdefs.IsNotFound(err):
		return http.StatusNotFound
	case errdefs.IsPermissionByUser(err), errdefs.IsPermission(err):
		return http.StatusForbidden
	case errdefs.IsTooLarge(err):
		return http.StatusRequestEntityTooLarge
	case errdefs.IsPath(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// hostParams are the connection fields shared by every request that
// addresses a remote host. Explicit values win over every other
// credential source.
type hostParams struct {
	Host           string `json:"host"`
	Username       string `json:"username,omitempty"`
	Password       string `json:"password,omitempty"`
	KeyPath        string `json:"key_path,omitempty"`
	Port           int    `json:"port,omitempty"`
	EnablePassword string `json:"enable_password,omitempty"`
	SudoPassword   string `json:"sudo_password,omitempty"`
}

// resolveTarget merges the credential chain for p.Host and returns the
// pool key the resulting session lives under.
func resolveTarget(p hostParams) (sshpool.Key, hostcfg.Credentials, error) {
	creds, err := Resolver.Resolve(p.Host, hostcfg.Credentials{
		Port:           p.Port,
		User:           p.Username,
		Password:       p.Password,
		KeyPath:        p.KeyPath,
		EnablePassword: p.EnablePassword,
		SudoPassword:   p.SudoPassword,
	})
	if err != nil {
		return sshpool.Key{}, hostcfg.Credentials{}, err
	}
	return sshpool.Key{User: creds.User, Host: creds.Host, Port: creds.Port}, creds, nil
}
