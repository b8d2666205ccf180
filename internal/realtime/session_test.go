package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/example/ride-tracking/internal/auth"
	"github.com/example/ride-tracking/internal/models"
	"github.com/example/ride-tracking/internal/storage"
)

// fakeGateway resolves fixed tokens to identities.
type fakeGateway struct {
	identities map[string]models.Identity
}

func (g *fakeGateway) Authenticate(_ context.Context, token string) (models.Identity, error) {
	if token == "" {
		return models.Identity{}, auth.ErrMissingToken
	}
	id, ok := g.identities[token]
	if !ok {
		return models.Identity{}, auth.ErrInvalidToken
	}
	return id, nil
}

type capturedLocation struct {
	loc models.LastLocation
}

type fakeSink struct {
	ch chan capturedLocation
}

func (s *fakeSink) PublishLocation(_ context.Context, loc models.LastLocation) error {
	select {
	case s.ch <- capturedLocation{loc}:
	default:
	}
	return nil
}

func newTestRunner(t *testing.T) (*SessionRunner, *storage.MemoryStore, *fakeGateway) {
	t.Helper()
	store := storage.NewMemoryStore()
	gw := &fakeGateway{identities: map[string]models.Identity{
		"tok-rider":  {UserID: "R1", Role: models.RoleRider},
		"tok-driver": {UserID: "D1", Role: models.RoleDriver},
		"tok-other":  {UserID: "D2", Role: models.RoleDriver},
	}}
	runner := &SessionRunner{
		Broker:  NewBroker(testLogger()),
		Store:   store,
		Gateway: gw,
		Logger:  testLogger(),
		Config:  SessionConfig{PingInterval: time.Hour, SendTimeout: 100 * time.Millisecond},
	}
	return runner, store, gw
}

func seedAssignedRide(t *testing.T, store *storage.MemoryStore) *models.Ride {
	t.Helper()
	ride := &models.Ride{
		ID: "ride-1", RiderID: "R1",
		OriginLat: 12.9, OriginLng: 77.6, DestLat: 12.95, DestLng: 77.65,
		Status:    models.StatusRequested,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	if err := store.CreateRide(context.Background(), ride); err != nil {
		t.Fatal(err)
	}
	if _, err := store.AssignDriver(context.Background(), ride.ID, "D1"); err != nil {
		t.Fatal(err)
	}
	ride.DriverID = "D1"
	ride.Status = models.StatusAssigned
	return ride
}

func TestSessionRejectsMissingToken(t *testing.T) {
	runner, store, _ := newTestRunner(t)
	seedAssignedRide(t, store)

	sock := newFakeSocket()
	runner.Run(context.Background(), sock, "ride-1", models.ChannelDriver, "")

	if got := sock.lastCloseCode(); got != ClosePolicyViolation {
		t.Fatalf("expected close code %d, got %d", ClosePolicyViolation, got)
	}
	if len(sock.framesOfType("error")) != 1 {
		t.Fatal("expected one structured error frame before close")
	}
	if len(sock.framesOfType("connected")) != 0 {
		t.Fatal("unauthenticated session must never hydrate")
	}
	if runner.Broker.RoomCount() != 0 {
		t.Fatal("no room should exist for a rejected session")
	}
}

func TestSessionRejectsUnknownRide(t *testing.T) {
	runner, _, _ := newTestRunner(t)

	sock := newFakeSocket()
	runner.Run(context.Background(), sock, "ride-missing", models.ChannelDriver, "tok-driver")

	if got := sock.lastCloseCode(); got != CloseNotFound {
		t.Fatalf("expected close code %d, got %d", CloseNotFound, got)
	}
}

func TestSessionChannelAuthorization(t *testing.T) {
	runner, store, _ := newTestRunner(t)
	seedAssignedRide(t, store)

	cases := []struct {
		name    string
		token   string
		channel models.Channel
		want    int // 0 means accepted
	}{
		{"rider on rider channel", "tok-rider", models.ChannelRider, 0},
		{"driver on driver channel", "tok-driver", models.ChannelDriver, 0},
		{"rider on driver channel", "tok-rider", models.ChannelDriver, CloseForbidden},
		{"unassigned driver on driver channel", "tok-other", models.ChannelDriver, CloseForbidden},
		{"driver on rider channel", "tok-driver", models.ChannelRider, CloseForbidden},
		{"driver on observer channel", "tok-driver", models.ChannelObserver, 0},
		{"rider on observer channel", "tok-rider", models.ChannelObserver, CloseForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sock := newFakeSocket()
			done := make(chan struct{})
			go func() {
				runner.Run(context.Background(), sock, "ride-1", tc.channel, tc.token)
				close(done)
			}()

			if tc.want == 0 {
				waitFor(t, "hydration frame", func() bool {
					return len(sock.framesOfType("connected")) == 1
				})
				_ = sock.Close()
				<-done
				return
			}
			<-done
			if got := sock.lastCloseCode(); got != tc.want {
				t.Fatalf("expected close code %d, got %d", tc.want, got)
			}
			if len(sock.framesOfType("connected")) != 0 {
				t.Fatal("forbidden session must never hydrate")
			}
		})
	}
}

func TestSessionDriverLocationFlow(t *testing.T) {
	runner, store, _ := newTestRunner(t)
	seedAssignedRide(t, store)
	sink := &fakeSink{ch: make(chan capturedLocation, 1)}
	runner.Locations = sink

	// A rider subscriber is already present in the room.
	riderConn, riderSock := testConn("R1")
	runner.Broker.Room("ride-1").Add(riderConn, models.ChannelRider)

	driverSock := newFakeSocket()
	done := make(chan struct{})
	go func() {
		runner.Run(context.Background(), driverSock, "ride-1", models.ChannelDriver, "tok-driver")
		close(done)
	}()

	waitFor(t, "driver hydration", func() bool {
		return len(driverSock.framesOfType("connected")) == 1
	})

	driverSock.inbound <- []byte(`{"type":"location","lat":12.91,"lng":77.61}`)

	waitFor(t, "rider broadcast", func() bool {
		return len(riderSock.framesOfType("driver_location")) == 1
	})

	frame := riderSock.framesOfType("driver_location")[0]
	if frame["driver_id"] != "D1" || frame["lat"].(float64) != 12.91 {
		t.Fatalf("unexpected broadcast frame %+v", frame)
	}

	snap := runner.Broker.Room("ride-1").Snapshot()
	if snap.LastLocation == nil || snap.LastLocation.Lat != 12.91 || snap.LastLocation.Lng != 77.61 {
		t.Fatalf("room cache not updated: %+v", snap.LastLocation)
	}

	events, _ := store.ListEvents(context.Background(), "ride-1")
	var locEvents int
	for _, ev := range events {
		if ev.EventType == models.EventDriverLocation {
			locEvents++
		}
	}
	if locEvents != 1 {
		t.Fatalf("expected one driver_location event, got %d", locEvents)
	}

	select {
	case got := <-sink.ch:
		if got.loc.DriverID != "D1" {
			t.Fatalf("unexpected published location %+v", got.loc)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("location was not published to the sink")
	}

	// Peer disconnect: the room empties once the rider leaves too.
	_ = driverSock.Close()
	<-done
	runner.Broker.Room("ride-1").Remove("R1")
	runner.Broker.CleanupIfEmpty("ride-1")
	if runner.Broker.RoomCount() != 0 {
		t.Fatal("room should be retired after all subscribers left")
	}
}

func TestSessionLocationValidationAndUnknownTypes(t *testing.T) {
	runner, store, _ := newTestRunner(t)
	seedAssignedRide(t, store)

	sock := newFakeSocket()
	done := make(chan struct{})
	go func() {
		runner.Run(context.Background(), sock, "ride-1", models.ChannelDriver, "tok-driver")
		close(done)
	}()
	waitFor(t, "hydration", func() bool { return len(sock.framesOfType("connected")) == 1 })

	sock.inbound <- []byte(`not json at all`)
	waitFor(t, "malformed-frame error", func() bool { return len(sock.framesOfType("error")) == 1 })

	sock.inbound <- []byte(`{"type":"location","lat":12.9}`)
	waitFor(t, "missing-lng error", func() bool { return len(sock.framesOfType("error")) == 2 })

	sock.inbound <- []byte(`{"type":"pong"}`)
	sock.inbound <- []byte(`{"type":"subscribe_extras"}`)
	waitFor(t, "generic ack", func() bool { return len(sock.framesOfType("ack")) == 1 })

	if ack := sock.framesOfType("ack")[0]; ack["received_type"] != "subscribe_extras" {
		t.Fatalf("ack should echo the received type, got %+v", ack)
	}
	// pong is acknowledged silently
	if len(sock.framesOfType("pong")) != 0 {
		t.Fatal("pong must not produce a reply")
	}
	// the session survived every malformed frame
	if sock.isClosed() {
		t.Fatal("session should still be active")
	}

	_ = sock.Close()
	<-done
}

func TestSessionHeartbeatFailureClosesSession(t *testing.T) {
	runner, store, _ := newTestRunner(t)
	seedAssignedRide(t, store)
	runner.Config.PingInterval = 10 * time.Millisecond

	sock := newFakeSocket()
	done := make(chan struct{})
	go func() {
		runner.Run(context.Background(), sock, "ride-1", models.ChannelRider, "tok-rider")
		close(done)
	}()
	waitFor(t, "hydration", func() bool { return len(sock.framesOfType("connected")) == 1 })

	sock.setSendErr(errTimeout{})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat failure should have torn the session down")
	}
	if runner.Broker.RoomCount() != 0 {
		t.Fatal("room should be cleaned up after teardown")
	}
}

type errTimeout struct{}

func (errTimeout) Error() string { return "i/o timeout" }
