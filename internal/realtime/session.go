package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-tracking/internal/auth"
	"github.com/example/ride-tracking/internal/models"
	"github.com/example/ride-tracking/internal/observability"
	"github.com/example/ride-tracking/internal/storage"
)

// Heartbeat and backpressure behavior.
const (
	DefaultPingInterval = 20 * time.Second
	DefaultSendTimeout  = 3 * time.Second
)

// LocationSink receives accepted driver location updates, typically a Kafka
// producer. Publishing is fire-and-forget on the session hot path.
type LocationSink interface {
	PublishLocation(ctx context.Context, loc models.LastLocation) error
}

type SessionConfig struct {
	PingInterval time.Duration
	SendTimeout  time.Duration
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	return c
}

// SessionRunner drives one connection through its full lifecycle:
// authenticate, authorize, hydrate, message loop with heartbeat, teardown.
type SessionRunner struct {
	Broker    *Broker
	Store     storage.RideStore
	Gateway   auth.Gateway
	Locations LocationSink // optional
	Logger    *slog.Logger
	Config    SessionConfig
}

// Run owns sock from the moment it is called: every exit path releases the
// transport exactly once. The caller has already completed the websocket
// upgrade, so rejected peers receive a structured error frame and an
// application close code instead of a bare connection drop.
func (s *SessionRunner) Run(ctx context.Context, sock Socket, rideID string, channel models.Channel, token string) {
	defer func() {
		if rec := recover(); rec != nil {
			s.Logger.Error("session panic", "ride_id", rideID, "panic", rec)
			closeSocket(sock, CloseInternalError, "internal server error")
		}
	}()

	cfg := s.Config.withDefaults()

	// Authenticating
	identity, err := s.Gateway.Authenticate(ctx, token)
	if err != nil {
		s.reject(sock, cfg, ClosePolicyViolation, authErrorMessage(err))
		return
	}

	// Authorizing
	ride, err := s.Store.GetRide(ctx, rideID)
	if errors.Is(err, storage.ErrNotFound) {
		s.reject(sock, cfg, CloseNotFound, "ride not found")
		return
	}
	if err != nil {
		s.Logger.Error("ride load failed", "ride_id", rideID, "error", err)
		s.reject(sock, cfg, CloseInternalError, "internal server error")
		return
	}
	if err := authorizeChannel(identity, ride, channel); err != nil {
		s.reject(sock, cfg, CloseForbidden, err.Error())
		return
	}

	// Hydrated
	conn := NewConnection(sock, identity.UserID, string(identity.Role), cfg.SendTimeout)
	room := s.Broker.Room(rideID)
	room.Add(conn, channel)
	observability.ConnectionsActive.Inc()

	sessCtx, cancel := context.WithCancel(ctx)
	defer func() {
		// Teardown runs exactly once regardless of which path got us here:
		// stop the heartbeat, leave the room, retire the room if empty,
		// release the transport.
		cancel()
		room.Remove(conn.UserID)
		s.Broker.CleanupIfEmpty(rideID)
		observability.ConnectionsActive.Dec()
		_ = sock.Close()
		s.Logger.Info("session closed", "ride_id", rideID, "user_id", conn.UserID, "channel", string(channel))
	}()

	snap := room.Snapshot()
	_ = conn.Send(models.ConnectedMessage{
		Type:         "connected",
		RideID:       rideID,
		Channel:      channel,
		UserID:       identity.UserID,
		Role:         identity.Role,
		RideStatus:   ride.Status,
		DriverID:     ride.DriverID,
		RiderID:      ride.RiderID,
		LastLocation: snap.LastLocation,
	})
	s.Logger.Info("session connected", "ride_id", rideID, "user_id", identity.UserID, "channel", string(channel))

	// Active: heartbeat runs beside the read loop. A failed ping closes the
	// socket, which in turn unblocks ReadMessage below.
	go s.heartbeat(sessCtx, conn, cfg.PingInterval, func() {
		cancel()
		_ = sock.Close()
	})

	s.readLoop(sessCtx, conn, room, channel)
}

func (s *SessionRunner) heartbeat(ctx context.Context, conn *Connection, interval time.Duration, onFailure func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Send(models.PingMessage{Type: "ping", TS: time.Now().Unix()}); err != nil {
				onFailure()
				return
			}
		}
	}
}

func (s *SessionRunner) readLoop(ctx context.Context, conn *Connection, room *Room, channel models.Channel) {
	for {
		_, data, err := conn.sock.ReadMessage()
		if err != nil {
			// Peer disconnect, or the heartbeat closed the socket.
			return
		}
		if ctx.Err() != nil {
			return
		}

		var msg models.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = conn.Send(models.ErrorMessage{Type: "error", Message: "invalid message format; expected JSON"})
			continue
		}

		switch {
		case msg.Type == "pong":
			// Heartbeat acknowledged; nothing to reply.
		case msg.Type == "location" && channel == models.ChannelDriver:
			s.handleLocation(ctx, conn, room, msg)
		default:
			// Unknown types are acknowledged, never fatal.
			_ = conn.Send(models.AckMessage{Type: "ack", ReceivedType: msg.Type})
		}
	}
}

func (s *SessionRunner) handleLocation(ctx context.Context, conn *Connection, room *Room, msg models.ClientMessage) {
	if msg.Lat == nil || msg.Lng == nil {
		_ = conn.Send(models.ErrorMessage{Type: "error", Message: "missing lat/lng"})
		return
	}
	ts := msg.TS
	if ts == 0 {
		ts = time.Now().Unix()
	}
	loc := models.LastLocation{
		Type:     models.EventDriverLocation,
		RideID:   room.RideID,
		DriverID: conn.UserID,
		Lat:      *msg.Lat,
		Lng:      *msg.Lng,
		TS:       ts,
	}
	room.SetLastLocation(loc)
	observability.LocationUpdates.Inc()

	// The audit write and the ingest publish are fire-and-forget relative to
	// the broadcast: a failure on this high-frequency stream is logged and
	// counted but must not hold back delivery.
	if err := s.Store.AppendEvent(ctx, room.RideID, models.EventDriverLocation, map[string]any{
		"driver_id": conn.UserID, "lat": loc.Lat, "lng": loc.Lng,
	}); err != nil {
		observability.EventWriteErrors.Inc()
		s.Logger.Error("location event write failed", "ride_id", room.RideID, "error", err)
	}
	if s.Locations != nil {
		if err := s.Locations.PublishLocation(ctx, loc); err != nil {
			s.Logger.Warn("location publish failed", "ride_id", room.RideID, "error", err)
		}
	}

	s.Broker.Broadcast(room.RideID, loc, ToAll)
}

// reject sends one structured error frame over the still-open channel, then
// closes with the application code. Used before a connection joins a room.
func (s *SessionRunner) reject(sock Socket, cfg SessionConfig, code int, message string) {
	if b, err := json.Marshal(models.ErrorMessage{Type: "error", Message: message}); err == nil {
		_ = sock.SetWriteDeadline(time.Now().Add(cfg.SendTimeout))
		_ = sock.WriteMessage(websocket.TextMessage, b)
	}
	closeSocket(sock, code, message)
}

func authErrorMessage(err error) string {
	if errors.Is(err, auth.ErrMissingToken) {
		return "missing authentication token (use Authorization: Bearer ... or ?token=...)"
	}
	return "invalid or expired token"
}

// authorizeChannel applies the per-channel access rules against the ride
// record. The observer rule (drivers only) is a placeholder carried over
// from the ops tooling and is expected to tighten.
func authorizeChannel(id models.Identity, ride *models.Ride, ch models.Channel) error {
	switch ch {
	case models.ChannelDriver:
		if id.Role != models.RoleDriver {
			return errors.New("driver role required")
		}
		if ride.DriverID == "" || ride.DriverID != id.UserID {
			return errors.New("not the assigned driver for this ride")
		}
	case models.ChannelRider:
		if id.Role != models.RoleRider {
			return errors.New("rider role required")
		}
		if ride.RiderID != id.UserID {
			return errors.New("not the rider for this ride")
		}
	case models.ChannelObserver:
		if id.Role != models.RoleDriver {
			return errors.New("observer channel not allowed")
		}
	default:
		return fmt.Errorf("unknown channel %q", ch)
	}
	return nil
}
