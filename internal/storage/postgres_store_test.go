package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/route-watch/internal/apperr"
	"github.com/example/route-watch/internal/models"
)

func TestPostgresLedger_Has(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM notified_rides WHERE ride_id = \$1\)`).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	has, err := NewPostgresLedger(db).Has(context.Background(), "r1")
	require.NoError(t, err)
	assert.True(t, has)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedger_Record(t *testing.T) {
	minutes := 95
	r := models.NotifiedRide{
		RideID:             "r1",
		NotifiedAt:         time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
		PickupLocationName: "Stockholm",
		ReturnLocationName: "Malmo",
		Distance:           612,
		TravelTime:         &minutes,
		CarType:            "Volvo",
	}

	tests := []struct {
		name      string
		setup     func(sqlmock.Sqlmock)
		wantErr   bool
		conflict  bool
		storeFail bool
	}{
		{
			name: "inserted",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectExec(`INSERT INTO notified_rides`).
					WithArgs("r1", sqlmock.AnyArg(), "Stockholm", "Malmo", 612.0, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "Volvo").
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "on conflict do nothing",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectExec(`ON CONFLICT \(ride_id\) DO NOTHING`).WillReturnResult(sqlmock.NewResult(0, 0))
			},
			wantErr:  true,
			conflict: true,
		},
		{
			name: "unique violation",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectExec(`INSERT INTO notified_rides`).WillReturnError(&pq.Error{Code: "23505"})
			},
			wantErr:  true,
			conflict: true,
		},
		{
			name: "connection lost",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectExec(`INSERT INTO notified_rides`).WillReturnError(errors.New("connection reset"))
			},
			wantErr:   true,
			storeFail: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()
			tt.setup(mock)

			err = NewPostgresLedger(db).Record(context.Background(), r)
			if !tt.wantErr {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Equal(t, tt.conflict, errors.Is(err, ErrAlreadyExists))
				assert.Equal(t, tt.storeFail, apperr.CodeOf(err) == apperr.CodeStoreFailed)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresLedger_Recent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2024, 6, 2, 9, 0, 0, 0, time.UTC)
	cols := []string{"ride_id", "notified_at", "pickup_location_name", "return_location_name", "distance", "available_at", "latest_return", "travel_time", "car_type"}
	mock.ExpectQuery(`FROM notified_rides ORDER BY notified_at DESC LIMIT \$1`).
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("r2", now, "Lund", "Kalmar", 250.0, now, now, nil, "Polo").
			AddRow("r1", now.Add(-time.Hour), "Stockholm", "Malmo", 612.0, now, now, int64(95), "Volvo"))

	got, err := NewPostgresLedger(db).Recent(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "r2", got[0].RideID)
	assert.Nil(t, got[0].TravelTime)
	require.NotNil(t, got[1].TravelTime)
	assert.Equal(t, 95, *got[1].TravelTime)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSearchStore_ListByOwner(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	from := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`FROM saved_searches WHERE owner_id = \$1 ORDER BY id`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "date_from", "date_to", "origin", "destination", "created_at"}).
			AddRow(int64(7), "alice", from, from.AddDate(0, 0, 29), "Stockholm*", "*", from))

	got, err := NewPostgresSearchStore(db).ListByOwner(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(7), got[0].ID)
	assert.Equal(t, "Stockholm*", got[0].OriginPattern)
	assert.Equal(t, 30, got[0].DateTo.Day())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSearchStore_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM saved_searches ORDER BY id`).WillReturnError(errors.New("relation does not exist"))

	_, err = NewPostgresSearchStore(db).List(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperr.CodeStoreFailed, apperr.CodeOf(err))
}

func TestMigrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for range schema {
		mock.ExpectExec(`CREATE`).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	require.NoError(t, Migrate(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchema_UnboundedTextColumns(t *testing.T) {
	for _, stmt := range schema {
		assert.NotContains(t, stmt, "VARCHAR", "upstream values have no length limit")
	}
	assert.Contains(t, schema[2], "ride_id              TEXT PRIMARY KEY")
}

func TestPostgresLedger_RecordLongValuesUntouched(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	id := strings.Repeat("9", 120)
	place := strings.Repeat("Stockholm Arlanda Terminal 5 ", 8)
	car := strings.Repeat("Volvo XC40 Recharge Twin ", 6)
	mock.ExpectExec(`INSERT INTO notified_rides`).
		WithArgs(id, sqlmock.AnyArg(), place, place, 0.0, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), car).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = NewPostgresLedger(db).Record(context.Background(), models.NotifiedRide{
		RideID:             id,
		NotifiedAt:         time.Now(),
		PickupLocationName: place,
		ReturnLocationName: place,
		CarType:            car,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
