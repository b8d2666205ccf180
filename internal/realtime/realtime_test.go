package realtime

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-tracking/internal/models"
)

// fakeSocket is an in-memory Socket. Inbound frames are fed through a
// channel; written frames and the close code are recorded for assertions.
type fakeSocket struct {
	mu          sync.Mutex
	writes      [][]byte
	sendErr     error
	closeCode   int
	closeReason string
	closed      bool

	closeOnce sync.Once
	inbound   chan []byte
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{inbound: make(chan []byte, 16)}
}

func (f *fakeSocket) ReadMessage() (int, []byte, error) {
	b, ok := <-f.inbound
	if !ok {
		return 0, nil, errors.New("connection closed")
	}
	return websocket.TextMessage, b, nil
}

func (f *fakeSocket) WriteMessage(mt int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.writes = append(f.writes, append([]byte(nil), data...))
	return nil
}

func (f *fakeSocket) WriteControl(mt int, data []byte, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if mt == websocket.CloseMessage && len(data) >= 2 {
		f.closeCode = int(binary.BigEndian.Uint16(data[:2]))
		f.closeReason = string(data[2:])
	}
	return nil
}

func (f *fakeSocket) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeSocket) Close() error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		close(f.inbound)
	})
	return nil
}

func (f *fakeSocket) setSendErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *fakeSocket) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeSocket) lastCloseCode() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCode
}

// framesOfType decodes every written frame and returns those whose "type"
// field matches.
func (f *fakeSocket) framesOfType(t string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]any
	for _, w := range f.writes {
		var m map[string]any
		if json.Unmarshal(w, &m) == nil && m["type"] == t {
			out = append(out, m)
		}
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConn(userID string) (*Connection, *fakeSocket) {
	sock := newFakeSocket()
	return NewConnection(sock, userID, "rider", 50*time.Millisecond), sock
}

func TestRoomMembershipAndSnapshot(t *testing.T) {
	room := newRoom("ride-1")

	rider, _ := testConn("R1")
	driver, _ := testConn("D1")
	obs, _ := testConn("O1")
	room.Add(rider, models.ChannelRider)
	room.Add(driver, models.ChannelDriver)
	room.Add(obs, models.ChannelObserver)

	snap := room.Snapshot()
	if snap.RiderCount != 1 || snap.DriverCount != 1 || snap.ObserverCount != 1 {
		t.Fatalf("unexpected counts %+v", snap)
	}

	// Re-adding the same user under another channel moves, not duplicates.
	room.Add(rider, models.ChannelObserver)
	snap = room.Snapshot()
	if snap.RiderCount != 0 || snap.ObserverCount != 2 {
		t.Fatalf("expected membership to move channels, got %+v", snap)
	}

	room.Remove("R1")
	room.Remove("R1") // idempotent
	room.Remove("absent")
	snap = room.Snapshot()
	if snap.ObserverCount != 1 {
		t.Fatalf("expected one observer left, got %+v", snap)
	}
}

func TestRoomLastLocationSnapshotIsCopy(t *testing.T) {
	room := newRoom("ride-1")
	room.SetLastLocation(models.LastLocation{Type: "driver_location", RideID: "ride-1", DriverID: "D1", Lat: 1, Lng: 2, TS: 3})

	snap := room.Snapshot()
	if snap.LastLocation == nil || snap.LastLocation.Lat != 1 {
		t.Fatalf("expected cached location, got %+v", snap.LastLocation)
	}
	snap.LastLocation.Lat = 99
	if room.Snapshot().LastLocation.Lat != 1 {
		t.Fatal("snapshot must not alias room state")
	}
}
