package handlers

import (
	"net/http"

	"github.com/gluk-w/remsh/internal/database"
	"github.com/gluk-w/remsh/internal/sshexec"
)

// HealthCheck reports service liveness plus pool and registry gauges.
// GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "disconnected"
	if database.DB != nil {
		sqlDB, err := database.DB.DB()
		if err == nil {
			if err := sqlDB.Ping(); err == nil {
				dbStatus = "connected"
			}
		}
	}

	status := "healthy"
	if dbStatus != "connected" {
		status = "unhealthy"
	}

	sessions := 0
	if Pool != nil {
		sessions = len(Pool.List())
	}
	running := 0
	if Eng != nil {
		running = len(Eng.List(sshexec.StatusRunning))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           status,
		"database":         dbStatus,
		"sessions":         sessions,
		"running_commands": running,
	})
}
