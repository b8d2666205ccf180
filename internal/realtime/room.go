package realtime

import (
	"sync"

	"github.com/example/ride-tracking/internal/models"
)

// Room holds the live subscribers of one ride, partitioned by channel, plus
// the last-known driver location so new subscribers hydrate immediately.
// All state is guarded by the room's own mutex; callers never hold it across
// socket I/O.
type Room struct {
	RideID string

	mu           sync.Mutex
	riders       map[string]*Connection
	drivers      map[string]*Connection
	observers    map[string]*Connection
	lastLocation *models.LastLocation
}

func newRoom(rideID string) *Room {
	return &Room{
		RideID:    rideID,
		riders:    make(map[string]*Connection),
		drivers:   make(map[string]*Connection),
		observers: make(map[string]*Connection),
	}
}

// RoomSnapshot is a consistent point-in-time view of a room.
type RoomSnapshot struct {
	RideID        string
	RiderCount    int
	DriverCount   int
	ObserverCount int
	LastLocation  *models.LastLocation
}

// Add registers conn under the given channel. A user id lives in at most one
// channel map at a time, so any previous entry is dropped first.
func (r *Room) Add(conn *Connection, ch models.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(conn.UserID)
	switch ch {
	case models.ChannelRider:
		r.riders[conn.UserID] = conn
	case models.ChannelDriver:
		r.drivers[conn.UserID] = conn
	case models.ChannelObserver:
		r.observers[conn.UserID] = conn
	}
}

// Remove drops the user from every channel map. Removing an absent user is
// a no-op.
func (r *Room) Remove(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(userID)
}

func (r *Room) removeLocked(userID string) {
	delete(r.riders, userID)
	delete(r.drivers, userID)
	delete(r.observers, userID)
}

func (r *Room) Snapshot() RoomSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := RoomSnapshot{
		RideID:        r.RideID,
		RiderCount:    len(r.riders),
		DriverCount:   len(r.drivers),
		ObserverCount: len(r.observers),
	}
	if r.lastLocation != nil {
		loc := *r.lastLocation
		snap.LastLocation = &loc
	}
	return snap
}

// SetLastLocation caches the most recent driver position.
func (r *Room) SetLastLocation(loc models.LastLocation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastLocation = &loc
}

// connections copies the subscriber set for the requested channels so the
// caller can send without holding the room lock.
func (r *Room) connections(toRiders, toDrivers, toObservers bool) []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Connection, 0, len(r.riders)+len(r.drivers)+len(r.observers))
	if toRiders {
		for _, c := range r.riders {
			out = append(out, c)
		}
	}
	if toDrivers {
		for _, c := range r.drivers {
			out = append(out, c)
		}
	}
	if toObservers {
		for _, c := range r.observers {
			out = append(out, c)
		}
	}
	return out
}
