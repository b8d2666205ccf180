package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/example/ride-tracking/internal/models"
)

// PostgresStore persists rides and ride_events via lib/pq.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

const rideColumns = `id, rider_id, driver_id, origin_lat, origin_lng, dest_lat, dest_lng, status, fare_cents, payment_ref, created_at, updated_at`

func scanRide(row interface{ Scan(...any) error }) (*models.Ride, error) {
	var (
		r        models.Ride
		driverID sql.NullString
		fare     sql.NullInt64
		payRef   sql.NullString
		status   string
	)
	err := row.Scan(&r.ID, &r.RiderID, &driverID, &r.OriginLat, &r.OriginLng,
		&r.DestLat, &r.DestLng, &status, &fare, &payRef, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.DriverID = driverID.String
	r.FareCents = fare.Int64
	r.PaymentRef = payRef.String
	r.Status = models.RideStatus(status)
	return &r, nil
}

func (p *PostgresStore) CreateRide(ctx context.Context, r *models.Ride) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO rides(id, rider_id, driver_id, origin_lat, origin_lng, dest_lat, dest_lng, status, fare_cents, created_at, updated_at)
		 VALUES($1,$2,NULL,$3,$4,$5,$6,$7,NULLIF($8,0),$9,$10)`,
		r.ID, r.RiderID, r.OriginLat, r.OriginLng, r.DestLat, r.DestLng,
		string(r.Status), r.FareCents, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return err
	}
	if err := insertEvent(ctx, tx, r.ID, models.EventRideCreated, map[string]any{
		"rider_id":    r.RiderID,
		"origin":      map[string]any{"lat": r.OriginLat, "lng": r.OriginLng},
		"destination": map[string]any{"lat": r.DestLat, "lng": r.DestLng},
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id=$1`, id)
	r, err := scanRide(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return r, err
}

// AssignDriver moves a requested, unassigned ride to assigned. The WHERE
// clause carries the precondition so a concurrent assign loses cleanly.
func (p *PostgresStore) AssignDriver(ctx context.Context, rideID, driverID string) (*models.Ride, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`UPDATE rides SET driver_id=$1, status=$2, updated_at=$3
		 WHERE id=$4 AND status=$5 AND driver_id IS NULL
		 RETURNING `+rideColumns,
		driverID, string(models.StatusAssigned), time.Now().UTC(), rideID, string(models.StatusRequested))
	r, err := scanRide(row)
	if err == sql.ErrNoRows {
		if exists, eerr := p.rideExists(ctx, rideID); eerr == nil && !exists {
			return nil, ErrNotFound
		}
		return nil, ErrConflict
	}
	if err != nil {
		return nil, err
	}
	if err := insertEvent(ctx, tx, rideID, models.EventDriverAssigned, map[string]any{"driver_id": driverID}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return r, nil
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, rideID string, from, to models.RideStatus, actorID string) (*models.Ride, error) {
	if from == to {
		return p.GetRide(ctx, rideID)
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`UPDATE rides SET status=$1, updated_at=$2 WHERE id=$3 AND status=$4 RETURNING `+rideColumns,
		string(to), time.Now().UTC(), rideID, string(from))
	r, err := scanRide(row)
	if err == sql.ErrNoRows {
		if exists, eerr := p.rideExists(ctx, rideID); eerr == nil && !exists {
			return nil, ErrNotFound
		}
		return nil, ErrConflict
	}
	if err != nil {
		return nil, err
	}
	if err := insertEvent(ctx, tx, rideID, models.EventStatusChanged,
		map[string]any{"from": string(from), "to": string(to), "by_user_id": actorID}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return r, nil
}

func (p *PostgresStore) SetPaymentRef(ctx context.Context, rideID, ref string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE rides SET payment_ref=$1 WHERE id=$2`, ref, rideID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) AppendEvent(ctx context.Context, rideID, eventType string, payload map[string]any) error {
	return insertEvent(ctx, p.db, rideID, eventType, payload)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertEvent(ctx context.Context, db execer, rideID, eventType string, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO ride_events(id, ride_id, event_type, payload, created_at) VALUES($1,$2,$3,$4,$5)`,
		uuid.NewString(), rideID, eventType, b, time.Now().UTC())
	return err
}

func (p *PostgresStore) ListRides(ctx context.Context, q RideQuery) ([]*models.Ride, error) {
	query := `SELECT ` + rideColumns + ` FROM rides WHERE 1=1`
	args := []any{}
	if q.RiderID != "" {
		args = append(args, q.RiderID)
		query += fmt.Sprintf(" AND rider_id=$%d", len(args))
	}
	if q.DriverID != "" {
		args = append(args, q.DriverID)
		query += fmt.Sprintf(" AND driver_id=$%d", len(args))
	}
	if q.Status != "" {
		args = append(args, string(q.Status))
		query += fmt.Sprintf(" AND status=$%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ListEvents(ctx context.Context, rideID string) ([]*models.RideEvent, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, ride_id, event_type, payload, created_at FROM ride_events WHERE ride_id=$1 ORDER BY created_at ASC`,
		rideID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.RideEvent
	for rows.Next() {
		var (
			ev  models.RideEvent
			raw []byte
		)
		if err := rows.Scan(&ev.ID, &ev.RideID, &ev.EventType, &raw, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &ev.Payload); err != nil {
				return nil, fmt.Errorf("decode event payload: %w", err)
			}
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func (p *PostgresStore) rideExists(ctx context.Context, rideID string) (bool, error) {
	var one int
	err := p.db.QueryRowContext(ctx, `SELECT 1 FROM rides WHERE id=$1`, rideID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (p *PostgresStore) Close() error { return p.db.Close() }
