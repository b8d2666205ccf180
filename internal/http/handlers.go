// Package httpapi exposes the REST lifecycle endpoints and the realtime
// websocket entry point.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-tracking/internal/auth"
	"github.com/example/ride-tracking/internal/models"
	"github.com/example/ride-tracking/internal/payments"
	"github.com/example/ride-tracking/internal/presence"
	"github.com/example/ride-tracking/internal/realtime"
	"github.com/example/ride-tracking/internal/ride"
	"github.com/example/ride-tracking/internal/storage"
)

type Server struct {
	store    storage.RideStore
	gateway  auth.Gateway
	broker   *realtime.Broker
	sessions *realtime.SessionRunner
	presence presence.Store
	payments *payments.StripeClient // nil disables the fare flow
	logger   *slog.Logger
	mux      *mux.Router
}

// NewServer wires the REST and websocket surface. All collaborators are
// constructed by the caller and injected; the broker in particular is the
// single process-wide instance shared with every session.
func NewServer(
	logger *slog.Logger,
	store storage.RideStore,
	gateway auth.Gateway,
	broker *realtime.Broker,
	sessions *realtime.SessionRunner,
	pres presence.Store,
	stripeClient *payments.StripeClient,
) *Server {
	s := &Server{
		store:    store,
		gateway:  gateway,
		broker:   broker,
		sessions: sessions,
		presence: pres,
		payments: stripeClient,
		logger:   logger,
		mux:      mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Use(s.recoverMiddleware)

	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(s.requestIDMiddleware)
	api.Use(s.observabilityMiddleware)

	api.HandleFunc("/rides", s.requireAuth(s.handleCreateRide)).Methods("POST")
	api.HandleFunc("/rides", s.requireAuth(s.handleListRides)).Methods("GET")
	api.HandleFunc("/rides/{ride_id}", s.requireAuth(s.handleGetRide)).Methods("GET")
	api.HandleFunc("/rides/{ride_id}/assign", s.requireAuth(s.handleAssignDriver)).Methods("POST")
	api.HandleFunc("/rides/{ride_id}/status", s.requireAuth(s.handleUpdateStatus)).Methods("PATCH")
	api.HandleFunc("/rides/{ride_id}/history", s.requireAuth(s.handleRideHistory)).Methods("GET")
	api.HandleFunc("/drivers/availability", s.requireAuth(s.handleDriverAvailability)).Methods("PUT")

	s.mux.HandleFunc("/ws/rides/{ride_id}/{channel}", s.handleRideWS)

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type createRideRequest struct {
	OriginLat float64 `json:"origin_lat"`
	OriginLng float64 `json:"origin_lng"`
	DestLat   float64 `json:"dest_lat"`
	DestLng   float64 `json:"dest_lng"`
	FareCents int64   `json:"fare_cents,omitempty"` // quoted upstream, optional
}

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	if identity.Role != models.RoleRider {
		writeError(w, http.StatusForbidden, "rider role required to create a ride booking")
		return
	}
	var req createRideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FareCents < 0 {
		writeError(w, http.StatusBadRequest, "fare_cents must not be negative")
		return
	}

	now := time.Now().UTC()
	newRide := &models.Ride{
		ID:        uuid.NewString(),
		RiderID:   identity.UserID,
		OriginLat: req.OriginLat,
		OriginLng: req.OriginLng,
		DestLat:   req.DestLat,
		DestLng:   req.DestLng,
		Status:    models.StatusRequested,
		FareCents: req.FareCents,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateRide(r.Context(), newRide); err != nil {
		s.logger.Error("create ride failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not create ride")
		return
	}
	writeJSON(w, http.StatusCreated, newRide)
}

type assignRequest struct {
	DriverID string `json:"driver_id"`
}

func (s *Server) handleAssignDriver(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	if identity.Role != models.RoleDriver {
		writeError(w, http.StatusForbidden, "driver role required")
		return
	}
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DriverID != identity.UserID {
		writeError(w, http.StatusForbidden, "drivers can only assign themselves to rides")
		return
	}

	rideID := mux.Vars(r)["ride_id"]
	current, err := s.store.GetRide(r.Context(), rideID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if err := ride.CanAssign(current, identity.UserID); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	available, err := s.presence.Available(r.Context(), identity.UserID)
	if err != nil {
		s.logger.Error("presence lookup failed", "driver_id", identity.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "availability check failed")
		return
	}
	if !available {
		writeError(w, http.StatusConflict, "driver is not available for assignment")
		return
	}

	updated, err := s.store.AssignDriver(r.Context(), rideID, identity.UserID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.holdFare(r, updated)
	s.broadcastStatus(updated)
	writeJSON(w, http.StatusOK, updated)
}

type statusUpdateRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	var req statusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	desired, err := models.ParseRideStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rideID := mux.Vars(r)["ride_id"]
	current, err := s.store.GetRide(r.Context(), rideID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if !canViewRide(identity, current) {
		writeError(w, http.StatusForbidden, "you do not have access to this ride")
		return
	}
	if err := ride.AuthorizeTransition(identity, current, desired); err != nil {
		s.writePolicyError(w, err)
		return
	}
	if err := ride.ValidateTransition(current.Status, desired); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if desired == current.Status {
		// idempotent no-op; no event, no broadcast
		writeJSON(w, http.StatusOK, current)
		return
	}

	updated, err := s.store.UpdateStatus(r.Context(), rideID, current.Status, desired, identity.UserID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.settleFare(r, updated)
	s.broadcastStatus(updated)
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	current, err := s.store.GetRide(r.Context(), mux.Vars(r)["ride_id"])
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if !canViewRide(identity, current) {
		writeError(w, http.StatusForbidden, "you do not have access to this ride")
		return
	}
	writeJSON(w, http.StatusOK, current)
}

func (s *Server) handleListRides(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())

	roleParam := r.URL.Query().Get("role")
	if roleParam == "" {
		roleParam = string(identity.Role)
	}
	if roleParam != string(identity.Role) {
		writeError(w, http.StatusForbidden, "requested role does not match current user's role")
		return
	}

	q := storage.RideQuery{Limit: 50}
	switch identity.Role {
	case models.RoleRider:
		q.RiderID = identity.UserID
	case models.RoleDriver:
		q.DriverID = identity.UserID
	}
	if sp := r.URL.Query().Get("status"); sp != "" {
		status, err := models.ParseRideStatus(sp)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		q.Status = status
	}
	if lp := r.URL.Query().Get("limit"); lp != "" {
		n, err := strconv.Atoi(lp)
		if err != nil || n < 1 || n > 200 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		q.Limit = n
	}
	if op := r.URL.Query().Get("offset"); op != "" {
		n, err := strconv.Atoi(op)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "offset must be >= 0")
			return
		}
		q.Offset = n
	}

	rides, err := s.store.ListRides(r.Context(), q)
	if err != nil {
		s.logger.Error("list rides failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not list rides")
		return
	}
	if rides == nil {
		rides = []*models.Ride{}
	}
	writeJSON(w, http.StatusOK, rides)
}

func (s *Server) handleRideHistory(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	rideID := mux.Vars(r)["ride_id"]
	current, err := s.store.GetRide(r.Context(), rideID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if !canViewRide(identity, current) {
		writeError(w, http.StatusForbidden, "you do not have access to this ride")
		return
	}
	events, err := s.store.ListEvents(r.Context(), rideID)
	if err != nil {
		s.logger.Error("list events failed", "ride_id", rideID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not load ride history")
		return
	}
	if events == nil {
		events = []*models.RideEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ride_id": rideID, "events": events})
}

type availabilityRequest struct {
	Available bool `json:"available"`
}

func (s *Server) handleDriverAvailability(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	if identity.Role != models.RoleDriver {
		writeError(w, http.StatusForbidden, "driver role required")
		return
	}
	var req availabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.presence.SetAvailable(r.Context(), identity.UserID, req.Available); err != nil {
		s.logger.Error("availability update failed", "driver_id", identity.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not update availability")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// broadcastStatus pushes a lifecycle change into the ride's room. Best-effort
// by design; the REST path never blocks on or retries delivery.
func (s *Server) broadcastStatus(r *models.Ride) {
	s.broker.Broadcast(r.ID, models.RideStatusMessage{
		Type:     "ride_status",
		RideID:   r.ID,
		Status:   r.Status,
		RiderID:  r.RiderID,
		DriverID: r.DriverID,
	}, realtime.ToAll)
}

// holdFare places a manual-capture hold for the quoted fare at assignment.
// Failures are logged and never block the assignment.
func (s *Server) holdFare(r *http.Request, updated *models.Ride) {
	if s.payments == nil || updated.FareCents <= 0 {
		return
	}
	ref, err := s.payments.HoldFare(r.Context(), updated.FareCents, "usd")
	if err != nil {
		s.logger.Error("fare hold failed", "ride_id", updated.ID, "error", err)
		return
	}
	updated.PaymentRef = ref
	if err := s.store.SetPaymentRef(r.Context(), updated.ID, ref); err != nil {
		s.logger.Error("payment ref persist failed", "ride_id", updated.ID, "error", err)
	}
}

// settleFare captures the hold on completion and releases it on cancellation.
func (s *Server) settleFare(r *http.Request, updated *models.Ride) {
	if s.payments == nil || updated.PaymentRef == "" {
		return
	}
	var err error
	switch updated.Status {
	case models.StatusCompleted:
		err = s.payments.CaptureFare(r.Context(), updated.PaymentRef)
	case models.StatusCanceled:
		err = s.payments.ReleaseFare(r.Context(), updated.PaymentRef)
	default:
		return
	}
	if err != nil {
		s.logger.Error("fare settlement failed", "ride_id", updated.ID, "status", string(updated.Status), "error", err)
	}
}

func canViewRide(id models.Identity, r *models.Ride) bool {
	if r.RiderID == id.UserID {
		return true
	}
	return r.DriverID != "" && r.DriverID == id.UserID
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "ride not found")
	case errors.Is(err, storage.ErrConflict):
		writeError(w, http.StatusConflict, "ride state changed concurrently")
	default:
		s.logger.Error("store error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writePolicyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ride.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ride.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
