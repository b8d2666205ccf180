package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/ride-tracking/internal/auth"
	"github.com/example/ride-tracking/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients connect from app origins we don't enumerate here;
	// access control happens per-session against the ride record.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleRideWS upgrades the connection and hands it to the session runner.
// The upgrade is accepted before authentication so rejected peers receive a
// structured error frame and an application close code.
func (s *Server) handleRideWS(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	rideID := vars["ride_id"]
	channel, err := models.ParseChannel(vars["channel"])
	if err != nil {
		http.NotFound(w, r)
		return
	}

	token := auth.BearerToken(r)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		s.logger.Warn("websocket upgrade failed", "ride_id", rideID, "error", err)
		return
	}

	s.sessions.Run(r.Context(), conn, rideID, channel, token)
}
