package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gluk-w/remsh/internal/database"
	"github.com/gluk-w/remsh/internal/errdefs"
	"github.com/gluk-w/remsh/internal/hostcfg"
	"github.com/gluk-w/remsh/internal/sshexec"
)

// setupTestDB points the package at a fresh in-memory SQLite database.
func setupTestDB(t *testing.T) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	database.DB = db
	if err := db.AutoMigrate(&database.Setting{}, &database.Host{}, &database.CommandArchive{}, &database.AuditLog{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

// buildRequest creates an HTTP request with an optional JSON body and chi
// URL params. A []byte body is sent raw, anything else non-nil is marshaled.
func buildRequest(t *testing.T, method, url string, body interface{}, chiParams map[string]string) *http.Request {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, url, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if len(chiParams) > 0 {
		rctx := chi.NewRouteContext()
		for k, v := range chiParams {
			rctx.URLParams.Add(k, v)
		}
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	}
	return req
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var result map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal response: %v (body: %s)", err, w.Body.String())
	}
	return result
}

// --- tests ---

func TestWriteErrStatusAndCode(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"connection", errdefs.Connectionf("dial tcp: refused"), http.StatusBadGateway, "connection_error"},
		{"session lost", errdefs.SessionLostf("write on closed channel"), http.StatusBadGateway, "session_lost"},
		{"not found", errdefs.NotFoundf("unknown command abc"), http.StatusNotFound, "not_found"},
		{"denied by user", errdefs.PermissionByUserf("operator declined"), http.StatusForbidden, "permission_denied_by_user"},
		{"permission", errdefs.Permissionf("sudo authentication failed"), http.StatusForbidden, "permission_denied"},
		{"too large", errdefs.TooLargef("content exceeds cap"), http.StatusRequestEntityTooLarge, "payload_too_large"},
		{"path", errdefs.Pathf("no such file"), http.StatusUnprocessableEntity, "path_error"},
		{"validation", sshexec.ValidateCommand("./job.sh &", false), http.StatusUnprocessableEntity, "validation_error"},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeErr(w, tt.err)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			result := parseResponse(t, w)
			if result["code"] != tt.wantCode {
				t.Errorf("code = %v, want %s", result["code"], tt.wantCode)
			}
			if result["detail"] != tt.err.Error() {
				t.Errorf("detail = %v, want the error text %q", result["detail"], tt.err.Error())
			}
		})
	}
}

func TestResolveTargetExplicitParams(t *testing.T) {
	Resolver = hostcfg.NewResolver("")
	t.Setenv("USER", "fallback")

	key, creds, err := resolveTarget(hostParams{
		Host:         "10.0.0.9",
		Username:     "deploy",
		Password:     "pw",
		Port:         2222,
		SudoPassword: "sudopw",
	})
	if err != nil {
		t.Fatalf("resolveTarget: %v", err)
	}
	if key.String() != "deploy@10.0.0.9:2222" {
		t.Errorf("key = %s, want deploy@10.0.0.9:2222", key)
	}
	if creds.Password != "pw" || creds.SudoPassword != "sudopw" {
		t.Error("explicit credentials were not carried through")
	}
}

func TestResolveTargetDefaults(t *testing.T) {
	Resolver = hostcfg.NewResolver("")
	t.Setenv("USER", "localuser")

	key, _, err := resolveTarget(hostParams{Host: "bare-hostname"})
	if err != nil {
		t.Fatalf("resolveTarget: %v", err)
	}
	if key.String() != "localuser@bare-hostname:22" {
		t.Errorf("key = %s, want the alias with port 22 and the local user", key)
	}
}

func TestResolveTargetNoUsername(t *testing.T) {
	Resolver = hostcfg.NewResolver("")
	t.Setenv("USER", "")

	if _, _, err := resolveTarget(hostParams{Host: "somewhere"}); err == nil {
		t.Fatal("resolveTarget with no resolvable user should fail")
	}
}
