package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/route-watch/internal/apperr"
	"github.com/example/route-watch/internal/models"
)

// ErrAlreadyExists is returned by Ledger.Record when the ride already has a
// record. It is expected under concurrency and is never fatal.
var ErrAlreadyExists = errors.New("ride already recorded")

// Ledger is the durable set of rides that have been notified.
type Ledger interface {
	Has(ctx context.Context, rideID string) (bool, error)
	Record(ctx context.Context, ride models.NotifiedRide) error
	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]models.NotifiedRide, error)
	Ping(ctx context.Context) error
}

// SearchStore is the read side of the criteria store.
type SearchStore interface {
	List(ctx context.Context) ([]models.SavedSearch, error)
	ListByOwner(ctx context.Context, ownerID string) ([]models.SavedSearch, error)
}

func conflict(rideID string) error {
	return fmt.Errorf("%w: %w", ErrAlreadyExists, apperr.NewLedgerConflictError(rideID))
}
