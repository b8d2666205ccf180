// Package storage persists rides and their append-only event history.
package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-tracking/internal/models"
)

// ErrNotFound is returned when a ride does not exist.
var ErrNotFound = errors.New("ride not found")

// ErrConflict is returned when a conditional update loses a race, e.g. two
// drivers assigning themselves to the same ride.
var ErrConflict = errors.New("ride state conflict")

// RideQuery filters ListRides. Exactly one of RiderID/DriverID is set.
type RideQuery struct {
	RiderID  string
	DriverID string
	Status   models.RideStatus // empty means any
	Limit    int
	Offset   int
}

// RideStore defines persistence operations for rides and ride events.
// Status-changing operations commit the ride row update and its audit event
// in one transaction; AppendEvent is a standalone write used by the
// high-frequency location stream.
type RideStore interface {
	CreateRide(ctx context.Context, r *models.Ride) error
	GetRide(ctx context.Context, id string) (*models.Ride, error)
	AssignDriver(ctx context.Context, rideID, driverID string) (*models.Ride, error)
	UpdateStatus(ctx context.Context, rideID string, from, to models.RideStatus, actorID string) (*models.Ride, error)
	SetPaymentRef(ctx context.Context, rideID, ref string) error
	AppendEvent(ctx context.Context, rideID, eventType string, payload map[string]any) error
	ListRides(ctx context.Context, q RideQuery) ([]*models.Ride, error)
	ListEvents(ctx context.Context, rideID string) ([]*models.RideEvent, error)
}

// MemoryStore is the in-process fallback used when PG_DSN is unset, and the
// store of choice in tests.
type MemoryStore struct {
	mu     sync.RWMutex
	rides  map[string]*models.Ride
	events map[string][]*models.RideEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:  make(map[string]*models.Ride),
		events: make(map[string][]*models.RideEvent),
	}
}

func (m *MemoryStore) CreateRide(ctx context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.rides[r.ID] = &cp
	m.appendEventLocked(r.ID, models.EventRideCreated, map[string]any{
		"rider_id":    r.RiderID,
		"origin":      map[string]any{"lat": r.OriginLat, "lng": r.OriginLng},
		"destination": map[string]any{"lat": r.DestLat, "lng": r.DestLng},
	})
	return nil
}

func (m *MemoryStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) AssignDriver(ctx context.Context, rideID, driverID string) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Status != models.StatusRequested || r.DriverID != "" {
		return nil, ErrConflict
	}
	r.DriverID = driverID
	r.Status = models.StatusAssigned
	r.UpdatedAt = time.Now().UTC()
	m.appendEventLocked(rideID, models.EventDriverAssigned, map[string]any{"driver_id": driverID})
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, rideID string, from, to models.RideStatus, actorID string) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Status != from {
		return nil, ErrConflict
	}
	if from != to {
		r.Status = to
		r.UpdatedAt = time.Now().UTC()
		m.appendEventLocked(rideID, models.EventStatusChanged, map[string]any{
			"from": string(from), "to": string(to), "by_user_id": actorID,
		})
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) SetPaymentRef(ctx context.Context, rideID, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return ErrNotFound
	}
	r.PaymentRef = ref
	return nil
}

func (m *MemoryStore) AppendEvent(ctx context.Context, rideID, eventType string, payload map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[rideID]; !ok {
		return ErrNotFound
	}
	m.appendEventLocked(rideID, eventType, payload)
	return nil
}

func (m *MemoryStore) appendEventLocked(rideID, eventType string, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	m.events[rideID] = append(m.events[rideID], &models.RideEvent{
		ID:        uuid.NewString(),
		RideID:    rideID,
		EventType: eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
}

func (m *MemoryStore) ListRides(ctx context.Context, q RideQuery) ([]*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Ride, 0)
	for _, r := range m.rides {
		if q.RiderID != "" && r.RiderID != q.RiderID {
			continue
		}
		if q.DriverID != "" && r.DriverID != q.DriverID {
			continue
		}
		if q.Status != "" && r.Status != q.Status {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return nil, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *MemoryStore) ListEvents(ctx context.Context, rideID string) ([]*models.RideEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	evs := m.events[rideID]
	out := make([]*models.RideEvent, len(evs))
	copy(out, evs)
	return out, nil
}
