package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/example/route-watch/internal/config"
	"github.com/example/route-watch/internal/logging"
	"github.com/example/route-watch/internal/models"
)

// Status is the outcome of one notification attempt.
type Status string

const (
	StatusSent     Status = "sent"
	StatusDisabled Status = "disabled"
	StatusFailed   Status = "failed"
)

// Notifier delivers one push message about a route that matched a search.
// Only StatusSent allows the caller to record the ride as notified.
type Notifier interface {
	Notify(ctx context.Context, route models.Route, search models.SavedSearch) (Status, error)
}

// New picks the notifier for the configured provider.
func New(ctx context.Context, cfg config.PushConfig, log logging.Logger) (Notifier, error) {
	switch cfg.Provider {
	case config.ProviderSNS:
		return NewSNSNotifier(ctx, cfg, log)
	default:
		return NewPushoverNotifier(cfg, log), nil
	}
}

const dayLayout = "Mon 02/01/2006"

// FormatMessage renders the push body for a route.
func FormatMessage(r models.Route) string {
	car := r.CarModel
	if car == "" {
		car = "Unknown car"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🚗 %s → %s\n\n", r.Origin, r.Destination)
	fmt.Fprintf(&b, "📅 %s - %s\n", r.AvailableAt.Format(dayLayout), r.LatestReturn.Format(dayLayout))
	fmt.Fprintf(&b, "🚙 %s\n", car)
	fmt.Fprintf(&b, "📍 %.0f km", r.DistanceKm)
	return b.String()
}
