package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/example/route-watch/internal/apperr"
	"github.com/example/route-watch/internal/config"
	"github.com/example/route-watch/internal/models"
)

const uniqueViolation = "23505"

// OpenPostgres opens a pool against dsn and verifies it answers.
func OpenPostgres(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdle)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

type PostgresLedger struct {
	db *sql.DB
}

func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (p *PostgresLedger) Has(ctx context.Context, rideID string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM notified_rides WHERE ride_id = $1)`, rideID).Scan(&exists)
	if err != nil {
		return false, apperr.NewStoreError("ledger lookup", err)
	}
	return exists, nil
}

// Record inserts the ride. The primary key on ride_id is what guarantees a
// single record per ride across concurrent writers.
func (p *PostgresLedger) Record(ctx context.Context, r models.NotifiedRide) error {
	var travel sql.NullInt64
	if r.TravelTime != nil {
		travel = sql.NullInt64{Int64: int64(*r.TravelTime), Valid: true}
	}
	res, err := p.db.ExecContext(ctx, `INSERT INTO notified_rides
		(ride_id, notified_at, pickup_location_name, return_location_name, distance, available_at, latest_return, travel_time, car_type)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (ride_id) DO NOTHING`,
		r.RideID, r.NotifiedAt, r.PickupLocationName, r.ReturnLocationName, r.Distance, r.AvailableAt, r.LatestReturn, travel, r.CarType)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return conflict(r.RideID)
		}
		return apperr.NewStoreError("ledger insert", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.NewStoreError("ledger insert", err)
	}
	if n == 0 {
		return conflict(r.RideID)
	}
	return nil
}

func (p *PostgresLedger) Recent(ctx context.Context, limit int) ([]models.NotifiedRide, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT ride_id, notified_at, pickup_location_name, return_location_name, distance, available_at, latest_return, travel_time, car_type
		FROM notified_rides ORDER BY notified_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, apperr.NewStoreError("ledger history", err)
	}
	defer rows.Close()

	var out []models.NotifiedRide
	for rows.Next() {
		var (
			r      models.NotifiedRide
			travel sql.NullInt64
		)
		if err := rows.Scan(&r.RideID, &r.NotifiedAt, &r.PickupLocationName, &r.ReturnLocationName, &r.Distance, &r.AvailableAt, &r.LatestReturn, &travel, &r.CarType); err != nil {
			return nil, apperr.NewStoreError("ledger history", err)
		}
		if travel.Valid {
			minutes := int(travel.Int64)
			r.TravelTime = &minutes
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.NewStoreError("ledger history", err)
	}
	return out, nil
}

func (p *PostgresLedger) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

type PostgresSearchStore struct {
	db *sql.DB
}

func NewPostgresSearchStore(db *sql.DB) *PostgresSearchStore {
	return &PostgresSearchStore{db: db}
}

const searchColumns = `id, owner_id, date_from, date_to, origin, destination, created_at`

func (p *PostgresSearchStore) List(ctx context.Context) ([]models.SavedSearch, error) {
	return p.query(ctx, `SELECT `+searchColumns+` FROM saved_searches ORDER BY id`)
}

func (p *PostgresSearchStore) ListByOwner(ctx context.Context, ownerID string) ([]models.SavedSearch, error) {
	return p.query(ctx, `SELECT `+searchColumns+` FROM saved_searches WHERE owner_id = $1 ORDER BY id`, ownerID)
}

func (p *PostgresSearchStore) query(ctx context.Context, q string, args ...interface{}) ([]models.SavedSearch, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apperr.NewStoreError("list searches", err)
	}
	defer rows.Close()

	var out []models.SavedSearch
	for rows.Next() {
		var s models.SavedSearch
		if err := rows.Scan(&s.ID, &s.OwnerID, &s.DateFrom, &s.DateTo, &s.OriginPattern, &s.DestinationPattern, &s.CreatedAt); err != nil {
			return nil, apperr.NewStoreError("list searches", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.NewStoreError("list searches", err)
	}
	return out, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS saved_searches (
		id          BIGSERIAL PRIMARY KEY,
		owner_id    TEXT NOT NULL,
		date_from   DATE NOT NULL,
		date_to     DATE NOT NULL,
		origin      TEXT NOT NULL,
		destination TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		CHECK (date_from <= date_to)
	)`,
	`CREATE INDEX IF NOT EXISTS saved_searches_owner_idx ON saved_searches (owner_id)`,
	`CREATE TABLE IF NOT EXISTS notified_rides (
		ride_id              TEXT PRIMARY KEY,
		notified_at          TIMESTAMPTZ NOT NULL,
		pickup_location_name TEXT NOT NULL DEFAULT '',
		return_location_name TEXT NOT NULL DEFAULT '',
		distance             DOUBLE PRECISION NOT NULL DEFAULT 0,
		available_at         TIMESTAMPTZ,
		latest_return        TIMESTAMPTZ,
		travel_time          INTEGER,
		car_type             TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS notified_rides_notified_at_idx ON notified_rides (notified_at DESC)`,
}

// Migrate creates the tables the stores need if they are missing.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i, err)
		}
	}
	return nil
}
