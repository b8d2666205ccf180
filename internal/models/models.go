package models

import (
	"fmt"
	"time"
)

// Role is the authenticated user's role as carried in their token.
type Role string

const (
	RoleRider  Role = "rider"
	RoleDriver Role = "driver"
)

func (r Role) Valid() bool {
	return r == RoleRider || r == RoleDriver
}

// Channel is the subscriber kind a connection joins a ride room as.
// Parsed once at the edge; everything past the handler works with the
// typed value, so an unknown channel is not a reachable runtime path.
type Channel string

const (
	ChannelRider    Channel = "rider"
	ChannelDriver   Channel = "driver"
	ChannelObserver Channel = "observer"
)

func ParseChannel(s string) (Channel, error) {
	switch Channel(s) {
	case ChannelRider, ChannelDriver, ChannelObserver:
		return Channel(s), nil
	}
	return "", fmt.Errorf("unknown channel %q", s)
}

// RideStatus values match the Postgres enum ride_status.
type RideStatus string

const (
	StatusRequested RideStatus = "requested"
	StatusAssigned  RideStatus = "assigned"
	StatusEnroute   RideStatus = "enroute"
	StatusStarted   RideStatus = "started"
	StatusCompleted RideStatus = "completed"
	StatusCanceled  RideStatus = "canceled"
)

func ParseRideStatus(s string) (RideStatus, error) {
	switch RideStatus(s) {
	case StatusRequested, StatusAssigned, StatusEnroute, StatusStarted, StatusCompleted, StatusCanceled:
		return RideStatus(s), nil
	}
	return "", fmt.Errorf("unknown ride status %q", s)
}

// Terminal reports whether no further transitions are possible.
func (s RideStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// Identity is the subject resolved from a bearer credential.
type Identity struct {
	UserID string
	Role   Role
}

type Ride struct {
	ID       string `json:"id"`
	RiderID  string `json:"rider_id"`
	DriverID string `json:"driver_id,omitempty"` // empty until assignment

	OriginLat float64 `json:"origin_lat"`
	OriginLng float64 `json:"origin_lng"`
	DestLat   float64 `json:"dest_lat"`
	DestLng   float64 `json:"dest_lng"`

	Status     RideStatus `json:"status"`
	FareCents  int64      `json:"fare_cents,omitempty"`
	PaymentRef string     `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RideEvent is an immutable audit record appended to a ride's history.
type RideEvent struct {
	ID        string         `json:"id"`
	RideID    string         `json:"ride_id"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// Well-known ride event types. The column itself is free-form text.
const (
	EventRideCreated    = "ride_created"
	EventDriverAssigned = "driver_assigned"
	EventStatusChanged  = "status_changed"
	EventDriverLocation = "driver_location"
)

// LastLocation is the per-room snapshot of the most recent driver position.
// The same shape is broadcast as a driver_location frame and published to
// the ingest topic.
type LastLocation struct {
	Type     string  `json:"type"` // always "driver_location" on the wire
	RideID   string  `json:"ride_id"`
	DriverID string  `json:"driver_id"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	TS       int64   `json:"ts"` // unix seconds
}
