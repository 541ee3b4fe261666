package source

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/example/route-watch/internal/apperr"
	"github.com/example/route-watch/internal/models"
)

// rawEntry is one route record as found in the payload, plus the location
// pair group it was nested in, if any.
type rawEntry struct {
	fields map[string]interface{}
	group  map[string]interface{}
}

var (
	idKeys           = []string{"id", "rideId", "ride_id", "routeId", "route_id"}
	originKeys       = []string{"pickupLocation.name", "pickupLocationName", "start_city", "fromLocation", "origin", "from"}
	destinationKeys  = []string{"returnLocation.name", "returnLocationName", "end_city", "toLocation", "destination", "to"}
	availableAtKeys  = []string{"availableAt", "available_at", "startDate", "start_date", "pickupDate"}
	latestReturnKeys = []string{"latestReturn", "latest_return", "endDate", "end_date", "returnDate"}
	carKeys          = []string{"carModel", "car_model", "carType", "vehicle"}
	distanceKeys     = []string{"distance", "distanceKm", "distance_km"}
	travelTimeKeys   = []string{"travelTime", "travel_time", "travelTimeMinutes"}

	containerKeys = []string{"results", "routes", "data"}

	dateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02"}
)

// extract walks the supported payload shapes: a list of location-pair
// groups each holding routes, an object keyed by a container field, or a
// flat list of route records.
func extract(doc interface{}) ([]rawEntry, error) {
	switch v := doc.(type) {
	case []interface{}:
		if isGrouped(v) {
			return grouped(v), nil
		}
		return flat(v, nil), nil
	case map[string]interface{}:
		for _, k := range containerKeys {
			switch inner := v[k].(type) {
			case []interface{}, map[string]interface{}:
				return extract(inner)
			}
		}
		return nil, apperr.NewParseError("object payload has none of results, routes, data")
	default:
		return nil, apperr.NewParseError(fmt.Sprintf("unsupported top-level %T", doc))
	}
}

func isGrouped(list []interface{}) bool {
	for _, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if _, ok := m["routes"].([]interface{}); ok {
			return true
		}
	}
	return false
}

func grouped(groups []interface{}) []rawEntry {
	var out []rawEntry
	for _, item := range groups {
		g, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		routes, _ := g["routes"].([]interface{})
		out = append(out, flat(routes, g)...)
	}
	return out
}

func flat(list []interface{}, group map[string]interface{}) []rawEntry {
	out := make([]rawEntry, 0, len(list))
	for _, item := range list {
		m, _ := item.(map[string]interface{})
		out = append(out, rawEntry{fields: m, group: group})
	}
	return out
}

func normalize(e rawEntry) (models.Route, error) {
	if e.fields == nil {
		return models.Route{}, apperr.NewMalformedEntryError("entry is not an object")
	}

	id := first(e.fields, idKeys)
	if id == "" {
		return models.Route{}, apperr.NewMalformedEntryError("missing id")
	}

	origin := first(e.fields, originKeys)
	if origin == "" && e.group != nil {
		origin = first(e.group, []string{"pickupLocationName"})
	}
	destination := first(e.fields, destinationKeys)
	if destination == "" && e.group != nil {
		destination = first(e.group, []string{"returnLocationName"})
	}
	if origin == "" || destination == "" {
		return models.Route{}, apperr.NewMalformedEntryError("ride " + id + ": missing origin or destination")
	}

	availableAt, err := parseDate(first(e.fields, availableAtKeys))
	if err != nil {
		return models.Route{}, apperr.NewMalformedEntryError("ride " + id + ": availableAt: " + err.Error())
	}
	latestReturn, err := parseDate(first(e.fields, latestReturnKeys))
	if err != nil {
		return models.Route{}, apperr.NewMalformedEntryError("ride " + id + ": latestReturn: " + err.Error())
	}
	if models.DayOf(availableAt) > models.DayOf(latestReturn) {
		return models.Route{}, apperr.NewMalformedEntryError("ride " + id + ": availableAt after latestReturn")
	}

	r := models.Route{
		RideID:       id,
		Origin:       origin,
		Destination:  destination,
		AvailableAt:  availableAt,
		LatestReturn: latestReturn,
		CarModel:     first(e.fields, carKeys),
	}
	if d, ok := number(e.fields, distanceKeys); ok {
		r.DistanceKm = d
	}
	if t, ok := number(e.fields, travelTimeKeys); ok {
		minutes := int(math.Round(t))
		r.TravelTimeMinutes = &minutes
	}
	return r, nil
}

// lookup resolves a dotted path through nested objects.
func lookup(m map[string]interface{}, path string) (interface{}, bool) {
	var cur interface{} = m
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// first returns the first alias holding a non-empty scalar, as a string.
func first(m map[string]interface{}, keys []string) string {
	for _, k := range keys {
		v, ok := lookup(m, k)
		if !ok {
			continue
		}
		switch s := v.(type) {
		case string:
			if t := strings.TrimSpace(s); t != "" {
				return t
			}
		case json.Number:
			return s.String()
		}
	}
	return ""
}

func number(m map[string]interface{}, keys []string) (float64, bool) {
	for _, k := range keys {
		v, ok := lookup(m, k)
		if !ok {
			continue
		}
		switch n := v.(type) {
		case json.Number:
			if f, err := n.Float64(); err == nil {
				return f, true
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// parseDate accepts full timestamps or bare dates. A timestamp with a
// suffix none of the layouts know still yields its leading date.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("missing")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	if len(s) > 10 {
		if t, err := time.Parse("2006-01-02", s[:10]); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable date %q", s)
}
