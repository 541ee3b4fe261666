package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/route-watch/internal/apperr"
	"github.com/example/route-watch/internal/config"
	"github.com/example/route-watch/internal/logging"
	"github.com/example/route-watch/internal/observability"
)

const groupedPayload = `[
  {
    "pickupLocationName": "Stockholm",
    "returnLocationName": "Malmo",
    "routes": [
      {
        "id": 101,
        "pickupLocation": {"name": "Stockholm Arlanda"},
        "returnLocation": {"name": "Malmo C"},
        "availableAt": "2024-06-10T08:00:00",
        "latestReturn": "2024-06-12T18:00:00",
        "carModel": "Volvo XC40",
        "distance": 612.4,
        "travelTime": 95
      },
      {
        "pickupLocation": {"name": "Stockholm"},
        "returnLocation": {"name": "Malmo"},
        "availableAt": "2024-06-10",
        "latestReturn": "2024-06-12"
      },
      {
        "id": "102",
        "availableAt": "2024-06-11",
        "latestReturn": "2024-06-13"
      }
    ]
  }
]`

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewClient(config.SourceConfig{BaseURL: srv.URL, Country: "SWEDEN", Timeout: time.Second}, logging.NewTest(t))
	return c
}

func TestFetch_GroupedShape(t *testing.T) {
	var gotQuery string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		assert.Equal(t, "/api/transport-routes/", r.URL.Path)
		_, _ = w.Write([]byte(groupedPayload))
	})

	routes, err := c.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "country=SWEDEN", gotQuery)

	// the entry without an id is dropped, its siblings survive
	require.Len(t, routes, 2)
	first := routes[0]
	assert.Equal(t, "101", first.RideID)
	assert.Equal(t, "Stockholm Arlanda", first.Origin)
	assert.Equal(t, "Malmo C", first.Destination)
	assert.Equal(t, "Volvo XC40", first.CarModel)
	assert.InDelta(t, 612.4, first.DistanceKm, 0.001)
	require.NotNil(t, first.TravelTimeMinutes)
	assert.Equal(t, 95, *first.TravelTimeMinutes)
	assert.Equal(t, 2024, first.AvailableAt.Year())

	// group-level names fill in for a route without location objects
	assert.Equal(t, "102", routes[1].RideID)
	assert.Equal(t, "Stockholm", routes[1].Origin)
	assert.Equal(t, "Malmo", routes[1].Destination)
	assert.Nil(t, routes[1].TravelTimeMinutes)
}

func TestFetch_CountsByCaller(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(groupedPayload))
	})
	fetched := func(caller string) float64 {
		return testutil.ToFloat64(observability.RoutesFetched.WithLabelValues(caller))
	}
	malformed := func(caller string) float64 {
		return testutil.ToFloat64(observability.RoutesMalformed.WithLabelValues(caller))
	}
	cycleBefore, cycleBad := fetched(observability.CallerCycle), malformed(observability.CallerCycle)
	liveBefore, liveBad := fetched(observability.CallerLive), malformed(observability.CallerLive)

	_, err := c.Fetch(observability.WithCaller(context.Background(), observability.CallerLive))
	require.NoError(t, err)
	assert.Equal(t, liveBefore+2, fetched(observability.CallerLive))
	assert.Equal(t, liveBad+1, malformed(observability.CallerLive))
	assert.Equal(t, cycleBefore, fetched(observability.CallerCycle), "dashboard reads leave cycle counters alone")
	assert.Equal(t, cycleBad, malformed(observability.CallerCycle))

	_, err = c.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cycleBefore+2, fetched(observability.CallerCycle))
}

func TestParse_KeyedShape(t *testing.T) {
	body := `{"count": 2, "results": [
	  {"rideId": "a1", "start_city": "Oslo", "end_city": "Bergen", "start_date": "2024-03-01", "end_date": "2024-03-04", "distance_km": "480"},
	  {"ride_id": "a2", "fromLocation": "Oslo", "toLocation": "Trondheim", "startDate": "2024-03-02T10:00:00Z", "endDate": "2024-03-05T10:00:00Z", "vehicle": "Tesla"}
	]}`

	routes, err := Parse([]byte(body), logging.NewNop())
	require.NoError(t, err)
	require.Len(t, routes, 2)
	assert.Equal(t, "Bergen", routes[0].Destination)
	assert.InDelta(t, 480, routes[0].DistanceKm, 0.001)
	assert.Equal(t, "Trondheim", routes[1].Destination)
	assert.Equal(t, "Tesla", routes[1].CarModel)
}

func TestParse_KeyedWrappingGroups(t *testing.T) {
	body := `{"data": ` + groupedPayload + `}`
	routes, err := Parse([]byte(body), logging.NewNop())
	require.NoError(t, err)
	assert.Len(t, routes, 2)
}

func TestParse_FlatShape(t *testing.T) {
	body := `[
	  {"id": "f1", "origin": "Lund", "destination": "Kalmar", "availableAt": "2024-05-01", "latestReturn": "2024-05-02"},
	  {"id": "f2", "origin": "Lund", "destination": "Kalmar", "availableAt": "2024-05-09", "latestReturn": "2024-05-02"},
	  {"id": "f3", "origin": "Lund", "destination": "Kalmar", "availableAt": "not a date", "latestReturn": "2024-05-02"},
	  "garbage"
	]`
	routes, err := Parse([]byte(body), logging.NewNop())
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, "f1", routes[0].RideID)
}

func TestParse_DuplicateRideIDsCollapse(t *testing.T) {
	body := `[
	  {"id": "d1", "origin": "A", "destination": "B", "availableAt": "2024-05-01", "latestReturn": "2024-05-02", "carModel": "first"},
	  {"id": "d1", "origin": "A", "destination": "B", "availableAt": "2024-05-01", "latestReturn": "2024-05-02", "carModel": "second"}
	]`
	routes, err := Parse([]byte(body), logging.NewNop())
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, "first", routes[0].CarModel)
}

func TestParse_UnrecognizedShapes(t *testing.T) {
	for name, body := range map[string]string{
		"string":        `"maintenance"`,
		"number":        `42`,
		"object":        `{"message": "nope"}`,
		"invalid json":  `[{"id":`,
		"empty payload": ``,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body), logging.NewNop())
			require.Error(t, err)
			assert.True(t, apperr.IsParseError(err))
		})
	}
}

func TestParse_EmptyList(t *testing.T) {
	routes, err := Parse([]byte(`[]`), logging.NewNop())
	require.NoError(t, err)
	assert.Empty(t, routes)
}

func TestFetch_Non2xx(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	})
	_, err := c.Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.IsFetchError(err))
}

func TestFetch_Timeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`[]`))
	})
	c.Client.Timeout = 20 * time.Millisecond

	_, err := c.Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.IsFetchError(err))
}

func TestParseDate(t *testing.T) {
	for _, s := range []string{"2024-06-10", "2024-06-10T08:00", "2024-06-10T08:00:00", "2024-06-10T08:00:00+02:00", "2024-06-10T08:00:00.123456"} {
		d, err := parseDate(s)
		require.NoError(t, err, s)
		assert.Equal(t, 10, d.Day(), s)
	}
	_, err := parseDate("")
	assert.Error(t, err)
	_, err = parseDate("10/06/2024")
	assert.Error(t, err)
}
