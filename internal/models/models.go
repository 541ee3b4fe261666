package models

import (
	"errors"
	"math"
	"strings"
	"time"
)

// SavedSearch is a user's subscription criteria. DateFrom and DateTo are
// calendar dates; only their year, month and day are meaningful.
type SavedSearch struct {
	ID                 int64     `json:"id"`
	OwnerID            string    `json:"owner_id"`
	DateFrom           time.Time `json:"date_from"`
	DateTo             time.Time `json:"date_to"`
	OriginPattern      string    `json:"origin"`
	DestinationPattern string    `json:"destination"`
	CreatedAt          time.Time `json:"created_at"`
}

var (
	ErrInvertedWindow = errors.New("date_from is after date_to")
	ErrEmptyPattern   = errors.New("origin and destination patterns are required")
)

func (s SavedSearch) Validate() error {
	if strings.TrimSpace(s.OriginPattern) == "" || strings.TrimSpace(s.DestinationPattern) == "" {
		return ErrEmptyPattern
	}
	if DayOf(s.DateFrom) > DayOf(s.DateTo) {
		return ErrInvertedWindow
	}
	return nil
}

// Route is one normalized upstream listing. It lives for a single fetch cycle.
type Route struct {
	RideID            string    `json:"ride_id"`
	Origin            string    `json:"origin"`
	Destination       string    `json:"destination"`
	AvailableAt       time.Time `json:"available_at"`
	LatestReturn      time.Time `json:"latest_return"`
	CarModel          string    `json:"car_model,omitempty"`
	DistanceKm        float64   `json:"distance_km"`
	TravelTimeMinutes *int      `json:"travel_time_minutes,omitempty"`
}

// TravelHours returns the travel time in hours rounded to one decimal, or nil
// when upstream did not provide one.
func (r Route) TravelHours() *float64 {
	return travelHours(r.TravelTimeMinutes)
}

// NotifiedRide is the dedup record written once per ride, carrying a snapshot
// of the route as it looked when the notification went out.
type NotifiedRide struct {
	RideID             string    `json:"ride_id"`
	NotifiedAt         time.Time `json:"notified_at"`
	PickupLocationName string    `json:"pickup_location_name"`
	ReturnLocationName string    `json:"return_location_name"`
	Distance           float64   `json:"distance"`
	AvailableAt        time.Time `json:"available_at"`
	LatestReturn       time.Time `json:"latest_return"`
	TravelTime         *int      `json:"travel_time,omitempty"`
	CarType            string    `json:"car_type"`
}

func NewNotifiedRide(r Route, now time.Time) NotifiedRide {
	return NotifiedRide{
		RideID:             r.RideID,
		NotifiedAt:         now.UTC(),
		PickupLocationName: r.Origin,
		ReturnLocationName: r.Destination,
		Distance:           r.DistanceKm,
		AvailableAt:        r.AvailableAt,
		LatestReturn:       r.LatestReturn,
		TravelTime:         r.TravelTimeMinutes,
		CarType:            r.CarModel,
	}
}

func (n NotifiedRide) TravelHours() *float64 {
	return travelHours(n.TravelTime)
}

// LiveRoute is a route annotated for the live availability view.
type LiveRoute struct {
	Route
	TravelHours *float64 `json:"travel_hours,omitempty"`
	Matches     []int64  `json:"matches"`
	Notified    bool     `json:"notified"`
}

// DayOf collapses a timestamp to a comparable yyyymmdd integer using the
// date as written in the timestamp's own location.
func DayOf(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}

func travelHours(minutes *int) *float64 {
	if minutes == nil || *minutes <= 0 {
		return nil
	}
	h := math.Round(float64(*minutes)/60*10) / 10
	return &h
}
