// Package engine runs the fetch, match and notify cycle.
package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/example/route-watch/internal/apperr"
	"github.com/example/route-watch/internal/config"
	"github.com/example/route-watch/internal/dispatch"
	"github.com/example/route-watch/internal/logging"
	"github.com/example/route-watch/internal/matcher"
	"github.com/example/route-watch/internal/models"
	"github.com/example/route-watch/internal/observability"
	"github.com/example/route-watch/internal/storage"
)

type Fetcher interface {
	Fetch(ctx context.Context) ([]models.Route, error)
}

type EventPublisher interface {
	PublishNotified(ctx context.Context, cycleID string, ride models.NotifiedRide) error
}

type Broadcaster interface {
	Broadcast(ride models.NotifiedRide)
}

// Deps are the collaborators of an Engine. Publisher and Hub are optional.
type Deps struct {
	Source    Fetcher
	Searches  storage.SearchStore
	Ledger    storage.Ledger
	Notifier  dispatch.Notifier
	Publisher EventPublisher
	Hub       Broadcaster
	Logger    logging.Logger
}

type Engine struct {
	Deps
	matcher       matcher.Matcher
	workers       int
	ledgerTimeout time.Duration
	now           func() time.Time
}

func New(cfg config.SchedulerConfig, d Deps) *Engine {
	policy, _ := matcher.ParsePolicy(cfg.MatchPolicy)
	if d.Logger == nil {
		d.Logger = logging.NewNop()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	timeout := cfg.LedgerTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Engine{
		Deps:          d,
		matcher:       matcher.New(policy),
		workers:       workers,
		ledgerTimeout: timeout,
		now:           time.Now,
	}
}

// CycleReport summarizes one cycle.
type CycleReport struct {
	CycleID         string        `json:"cycle_id"`
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration"`
	Searches        int           `json:"searches"`
	Fetched         int           `json:"fetched"`
	Matched         int64         `json:"matched"`
	Notified        int64         `json:"notified"`
	AlreadyNotified int64         `json:"already_notified"`
	Disabled        int64         `json:"disabled"`
	Failed          int64         `json:"failed"`
}

type counters struct {
	matched, notified, already, disabled, failed atomic.Int64
}

// RunCycle performs one pass: load searches, fetch routes, and notify each
// newly matching ride at most once. A fetch or store failure aborts only
// this cycle. Routes are processed in parallel and a failure on one never
// affects its siblings.
func (e *Engine) RunCycle(ctx context.Context) (rep CycleReport, err error) {
	rep = CycleReport{CycleID: uuid.NewString(), StartedAt: e.now()}
	log := e.Logger.With(map[string]interface{}{"cycle_id": rep.CycleID})
	start := time.Now()
	defer func() {
		rep.Duration = time.Since(start)
		observability.CycleDuration.Observe(rep.Duration.Seconds())
	}()

	searches, err := e.loadSearches(ctx, log)
	if err != nil {
		observability.CyclesTotal.WithLabelValues("store_failed").Inc()
		log.WithError(err).Error("loading saved searches failed", nil)
		return rep, err
	}
	rep.Searches = len(searches)
	if len(searches) == 0 {
		observability.CyclesTotal.WithLabelValues("idle").Inc()
		log.Debug("no saved searches, skipping fetch", nil)
		return rep, nil
	}

	routes, err := e.Source.Fetch(ctx)
	if err != nil {
		observability.CyclesTotal.WithLabelValues(resultFor(err)).Inc()
		log.WithError(err).Error("fetching routes failed", map[string]interface{}{"code": string(apperr.CodeOf(err))})
		return rep, err
	}
	rep.Fetched = len(routes)

	var c counters
	var g errgroup.Group
	g.SetLimit(e.workers)
	for _, r := range routes {
		r := r
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			e.processRoute(ctx, log, rep.CycleID, r, searches, &c)
			return nil
		})
	}
	_ = g.Wait()

	rep.Matched = c.matched.Load()
	rep.Notified = c.notified.Load()
	rep.AlreadyNotified = c.already.Load()
	rep.Disabled = c.disabled.Load()
	rep.Failed = c.failed.Load()

	observability.CyclesTotal.WithLabelValues("ok").Inc()
	log.Info("cycle complete", map[string]interface{}{
		"searches":         rep.Searches,
		"fetched":          rep.Fetched,
		"matched":          rep.Matched,
		"notified":         rep.Notified,
		"already_notified": rep.AlreadyNotified,
		"failed":           rep.Failed,
	})
	return rep, nil
}

func (e *Engine) loadSearches(ctx context.Context, log logging.Logger) ([]models.SavedSearch, error) {
	all, err := e.Searches.List(ctx)
	if err != nil {
		return nil, err
	}
	valid := all[:0:0]
	for _, s := range all {
		if err := s.Validate(); err != nil {
			log.Warn("skipping invalid saved search", map[string]interface{}{"search_id": s.ID, "error": err})
			continue
		}
		valid = append(valid, s)
	}
	return valid, nil
}

// processRoute makes at most one notification attempt for r. Notify and
// record run on a context detached from cycle cancellation so a shutdown
// does not separate a sent push from its ledger row.
func (e *Engine) processRoute(ctx context.Context, log logging.Logger, cycleID string, r models.Route, searches []models.SavedSearch, c *counters) {
	var hit *models.SavedSearch
	for i := range searches {
		if e.matcher.Matches(searches[i], r) {
			hit = &searches[i]
			break
		}
	}
	if hit == nil {
		return
	}
	c.matched.Add(1)
	observability.MatchesTotal.Inc()

	rlog := log.With(map[string]interface{}{"ride_id": r.RideID, "search_id": hit.ID})

	seen, err := e.has(ctx, r.RideID)
	if err != nil {
		c.failed.Add(1)
		rlog.WithError(err).Error("ledger lookup failed, skipping ride this cycle", nil)
		return
	}
	if seen {
		c.already.Add(1)
		return
	}

	detached := context.WithoutCancel(ctx)
	status, err := e.Notifier.Notify(detached, r, *hit)
	observability.NotificationsTotal.WithLabelValues(string(status)).Inc()
	switch status {
	case dispatch.StatusSent:
	case dispatch.StatusDisabled:
		c.disabled.Add(1)
		return
	default:
		c.failed.Add(1)
		rlog.WithError(err).Warn("notification failed, will retry next cycle", nil)
		return
	}

	ride := models.NewNotifiedRide(r, e.now())
	if err := e.record(detached, ride); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			observability.LedgerConflicts.Inc()
			c.already.Add(1)
			rlog.Info("ride recorded concurrently", nil)
			return
		}
		c.failed.Add(1)
		rlog.WithError(err).Error("recording notified ride failed; it may be notified again", nil)
		return
	}
	c.notified.Add(1)
	rlog.Info("ride notified", map[string]interface{}{"origin": r.Origin, "destination": r.Destination})

	if e.Publisher != nil {
		if err := e.Publisher.PublishNotified(detached, cycleID, ride); err != nil {
			rlog.WithError(err).Warn("publishing notified event failed", nil)
		}
	}
	if e.Hub != nil {
		e.Hub.Broadcast(ride)
	}
}

func (e *Engine) has(ctx context.Context, rideID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, e.ledgerTimeout)
	defer cancel()
	return e.Ledger.Has(ctx, rideID)
}

func (e *Engine) record(ctx context.Context, ride models.NotifiedRide) error {
	ctx, cancel := context.WithTimeout(ctx, e.ledgerTimeout)
	defer cancel()
	return e.Ledger.Record(ctx, ride)
}

func resultFor(err error) string {
	switch {
	case apperr.IsFetchError(err):
		return "fetch_failed"
	case apperr.IsParseError(err):
		return "parse_failed"
	default:
		return "error"
	}
}
