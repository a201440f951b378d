package handler

import (
	"net/http"
	"time"
)

// Watchlist reports which token addresses currently have a monitor attached.
type Watchlist interface {
	Active() []string
}

// StatusHandler serves the bot status for the dashboard.
type StatusHandler struct {
	mode      string
	watchlist Watchlist
	startedAt time.Time
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, watchlist Watchlist) *StatusHandler {
	return &StatusHandler{mode: mode, watchlist: watchlist, startedAt: time.Now().UTC()}
}

// GetStatus responds with the current mode and the monitored addresses.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	watched := h.watchlist.Active()
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"watched":        watched,
		"watched_count":  len(watched),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}
