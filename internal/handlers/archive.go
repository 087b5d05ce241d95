package handlers

import (
	"net/http"
	"strconv"

	"github.com/gluk-w/remsh/internal/database"
)

// GetArchive returns persisted terminal command records, newest first.
// The in-memory history window is bounded; the archive keeps everything
// until retention purge.
// GET /api/archive?limit=&session=
func GetArchive(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	rows, err := database.QueryArchive(r.URL.Query().Get("session"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query archive")
		return
	}
	writeJSON(w, http.StatusOK, map[string][]database.CommandArchive{"archive": rows})
}
