package models

// Wire messages exchanged over the realtime channel. Every frame is a JSON
// object with a "type" discriminator; unknown fields are never fatal.

// ClientMessage is the decoded shape of any inbound frame. Lat/Lng are
// pointers so a missing coordinate is distinguishable from zero.
type ClientMessage struct {
	Type string   `json:"type"`
	Lat  *float64 `json:"lat,omitempty"`
	Lng  *float64 `json:"lng,omitempty"`
	TS   int64    `json:"ts,omitempty"`
}

// ConnectedMessage hydrates a freshly authorized subscriber.
type ConnectedMessage struct {
	Type         string        `json:"type"` // "connected"
	RideID       string        `json:"ride_id"`
	Channel      Channel       `json:"channel"`
	UserID       string        `json:"user_id"`
	Role         Role          `json:"role"`
	RideStatus   RideStatus    `json:"ride_status"`
	DriverID     string        `json:"driver_id,omitempty"`
	RiderID      string        `json:"rider_id"`
	LastLocation *LastLocation `json:"last_location"`
}

// RideStatusMessage is broadcast on every accepted lifecycle transition.
type RideStatusMessage struct {
	Type     string     `json:"type"` // "ride_status"
	RideID   string     `json:"ride_id"`
	Status   RideStatus `json:"status"`
	RiderID  string     `json:"rider_id"`
	DriverID string     `json:"driver_id,omitempty"`
}

type PingMessage struct {
	Type string `json:"type"` // "ping"
	TS   int64  `json:"ts"`
}

// ErrorMessage reports a non-fatal problem back to one client.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

// AckMessage acknowledges a recognized-but-unhandled message type.
type AckMessage struct {
	Type         string `json:"type"` // "ack"
	ReceivedType string `json:"received_type"`
}
