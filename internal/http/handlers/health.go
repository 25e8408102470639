package handlers

import (
	"net/http"
)

// Health is the liveness probe. It reports the process is up without
// touching the database or cache.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok", "service": "iconforge"})
}
