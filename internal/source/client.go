package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/example/route-watch/internal/apperr"
	"github.com/example/route-watch/internal/config"
	"github.com/example/route-watch/internal/logging"
	"github.com/example/route-watch/internal/models"
	"github.com/example/route-watch/internal/observability"
)

// maxBody bounds how much of an upstream response is read.
const maxBody = 16 << 20

// Client fetches the current listings from the relocation marketplace.
type Client struct {
	Endpoint string
	Client   *http.Client
	log      logging.Logger
}

func NewClient(cfg config.SourceConfig, log logging.Logger) *Client {
	return &Client{
		Endpoint: cfg.Endpoint(),
		Client:   &http.Client{Timeout: cfg.Timeout},
		log:      log.With(map[string]interface{}{"component": "source"}),
	}
}

// Fetch returns the normalized routes currently published upstream. Entries
// that cannot be normalized are dropped; the rest of the payload survives.
func (c *Client) Fetch(ctx context.Context) ([]models.Route, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint, http.NoBody)
	if err != nil {
		return nil, apperr.NewFetchError(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, apperr.NewFetchError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, apperr.NewFetchError(fmt.Errorf("upstream returned %s", resp.Status))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, apperr.NewFetchError(err)
	}
	routes, dropped, err := parse(body, c.log)
	if err != nil {
		return nil, err
	}
	caller := observability.CallerOf(ctx)
	observability.RoutesMalformed.WithLabelValues(caller).Add(float64(dropped))
	observability.RoutesFetched.WithLabelValues(caller).Add(float64(len(routes)))
	return routes, nil
}

// Parse decodes an upstream payload of any supported shape into routes.
func Parse(body []byte, log logging.Logger) ([]models.Route, error) {
	routes, _, err := parse(body, log)
	return routes, err
}

func parse(body []byte, log logging.Logger) ([]models.Route, int, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, 0, apperr.NewParseError(err.Error())
	}

	entries, err := extract(doc)
	if err != nil {
		return nil, 0, err
	}

	routes := make([]models.Route, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	dropped := 0
	for i, e := range entries {
		r, err := normalize(e)
		if err != nil {
			dropped++
			log.Debug("dropping upstream entry", map[string]interface{}{"index": i, "error": err})
			continue
		}
		if _, dup := seen[r.RideID]; dup {
			log.Debug("duplicate ride in payload", map[string]interface{}{"ride_id": r.RideID})
			continue
		}
		seen[r.RideID] = struct{}{}
		routes = append(routes, r)
	}
	return routes, dropped, nil
}
