package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestSavedSearch_Validate(t *testing.T) {
	ok := SavedSearch{OriginPattern: "*", DestinationPattern: "*", DateFrom: date(2024, 1, 1), DateTo: date(2024, 1, 1)}
	assert.NoError(t, ok.Validate())

	inverted := ok
	inverted.DateFrom = date(2024, 1, 2)
	assert.ErrorIs(t, inverted.Validate(), ErrInvertedWindow)

	blank := ok
	blank.DestinationPattern = "  "
	assert.ErrorIs(t, blank.Validate(), ErrEmptyPattern)
}

func TestDayOf_UsesLiteralDate(t *testing.T) {
	ts, err := time.Parse(time.RFC3339, "2024-06-10T23:30:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, 20240610, DayOf(ts))
}

func TestNewNotifiedRide_SnapshotsRoute(t *testing.T) {
	minutes := 95
	r := Route{
		RideID:            "42",
		Origin:            "Stockholm",
		Destination:       "Malmo",
		AvailableAt:       date(2024, 6, 10),
		LatestReturn:      date(2024, 6, 12),
		CarModel:          "Volvo XC40",
		DistanceKm:        612,
		TravelTimeMinutes: &minutes,
	}
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	n := NewNotifiedRide(r, now)

	assert.Equal(t, "42", n.RideID)
	assert.Equal(t, "Stockholm", n.PickupLocationName)
	assert.Equal(t, "Malmo", n.ReturnLocationName)
	assert.Equal(t, "Volvo XC40", n.CarType)
	assert.Equal(t, now, n.NotifiedAt)
	require.NotNil(t, n.TravelHours())
	assert.Equal(t, 1.6, *n.TravelHours())
}

func TestRoute_TravelHoursAbsent(t *testing.T) {
	assert.Nil(t, Route{}.TravelHours())
}
