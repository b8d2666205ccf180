package realtime

import (
	"log/slog"
	"sync"

	"github.com/example/ride-tracking/internal/observability"
)

// Default backpressure limit: a connection that fails this many consecutive
// sends is evicted from its room.
const DefaultMaxSendFailures = 3

// Broker is the process-wide registry of ride rooms. It is constructed once
// at startup and injected into every session and REST handler that needs to
// fan out updates. Registry mutation sits behind one coarse lock; room
// internals have their own finer lock.
type Broker struct {
	mu    sync.Mutex
	rooms map[string]*Room

	maxSendFailures int
	logger          *slog.Logger
}

func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		rooms:           make(map[string]*Room),
		maxSendFailures: DefaultMaxSendFailures,
		logger:          logger,
	}
}

// SetMaxSendFailures overrides the eviction threshold. Zero or negative
// keeps the default.
func (b *Broker) SetMaxSendFailures(n int) {
	if n > 0 {
		b.maxSendFailures = n
	}
}

// Room returns the ride's room, creating and registering it on first use.
// Exactly one room instance exists per ride id at a time.
func (b *Broker) Room(rideID string) *Room {
	b.mu.Lock()
	defer b.mu.Unlock()
	room, ok := b.rooms[rideID]
	if !ok {
		room = newRoom(rideID)
		b.rooms[rideID] = room
	}
	return room
}

// CleanupIfEmpty retires the ride's room when no subscribers remain. Called
// opportunistically after disconnects and broadcasts rather than on a timer;
// a room recreated immediately after removal is a benign race.
func (b *Broker) CleanupIfEmpty(rideID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room, ok := b.rooms[rideID]
	if !ok {
		return
	}
	snap := room.Snapshot()
	if snap.RiderCount == 0 && snap.DriverCount == 0 && snap.ObserverCount == 0 {
		delete(b.rooms, rideID)
	}
}

// RoomCount reports the number of live rooms, for health reporting.
func (b *Broker) RoomCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rooms)
}

// BroadcastFlags selects which channels of a room receive a message.
type BroadcastFlags struct {
	ToRiders    bool
	ToDrivers   bool
	ToObservers bool
}

// ToAll targets every channel of a room.
var ToAll = BroadcastFlags{ToRiders: true, ToDrivers: true, ToObservers: true}

// Broadcast fans message out to the selected channels of the ride's room.
// Delivery is best-effort: each send is individually bounded, a failed send
// bumps that connection's consecutive-failure counter, and a connection that
// crosses the limit is evicted as a side effect. Errors never reach the
// caller.
func (b *Broker) Broadcast(rideID string, message any, flags BroadcastFlags) {
	room := b.Room(rideID)
	conns := room.connections(flags.ToRiders, flags.ToDrivers, flags.ToObservers)
	observability.BroadcastsTotal.Inc()

	var stale []string
	for _, c := range conns {
		if err := c.Send(message); err != nil {
			observability.SendFailuresTotal.Inc()
			if c.Fail() >= b.maxSendFailures {
				stale = append(stale, c.UserID)
			}
		}
	}

	for _, userID := range stale {
		room.Remove(userID)
		observability.EvictionsTotal.Inc()
		b.logger.Warn("connection evicted after repeated send failures",
			"ride_id", rideID, "user_id", userID)
	}
	b.CleanupIfEmpty(rideID)
}
