package engine

import (
	"context"

	"github.com/example/route-watch/internal/models"
	"github.com/example/route-watch/internal/observability"
)

// Live returns the routes currently published upstream, each annotated with
// the IDs of ownerID's searches it matches and whether it was already
// notified. An empty ownerID matches against every saved search.
func (e *Engine) Live(ctx context.Context, ownerID string) ([]models.LiveRoute, error) {
	var (
		searches []models.SavedSearch
		err      error
	)
	if ownerID == "" {
		searches, err = e.Searches.List(ctx)
	} else {
		searches, err = e.Searches.ListByOwner(ctx, ownerID)
	}
	if err != nil {
		return nil, err
	}

	routes, err := e.Source.Fetch(observability.WithCaller(ctx, observability.CallerLive))
	if err != nil {
		return nil, err
	}

	out := make([]models.LiveRoute, 0, len(routes))
	for _, r := range routes {
		lr := models.LiveRoute{Route: r, TravelHours: r.TravelHours(), Matches: []int64{}}
		for _, s := range searches {
			if s.Validate() == nil && e.matcher.Matches(s, r) {
				lr.Matches = append(lr.Matches, s.ID)
			}
		}
		notified, err := e.has(ctx, r.RideID)
		if err != nil {
			e.Logger.WithError(err).Warn("ledger lookup failed for live view", map[string]interface{}{"ride_id": r.RideID})
		}
		lr.Notified = notified
		out = append(out, lr)
	}
	return out, nil
}
