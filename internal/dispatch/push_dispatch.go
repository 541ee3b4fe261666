package dispatch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/example/route-watch/internal/apperr"
	"github.com/example/route-watch/internal/config"
	"github.com/example/route-watch/internal/logging"
	"github.com/example/route-watch/internal/models"
)

// PushoverNotifier posts form-encoded messages to the Pushover API.
type PushoverNotifier struct {
	cfg    config.PushConfig
	Client *http.Client
	log    logging.Logger

	warnOnce sync.Once
}

func NewPushoverNotifier(cfg config.PushConfig, log logging.Logger) *PushoverNotifier {
	return &PushoverNotifier{
		cfg:    cfg,
		Client: &http.Client{Timeout: cfg.Timeout},
		log:    log.With(map[string]interface{}{"component": "notifier", "provider": config.ProviderPushover}),
	}
}

func (p *PushoverNotifier) Notify(ctx context.Context, r models.Route, s models.SavedSearch) (Status, error) {
	if p.cfg.Token == "" || p.cfg.User == "" {
		p.warnOnce.Do(func() {
			p.log.WithError(apperr.NewNotConfiguredError("pushover token/user")).Warn("push credentials missing, notifications disabled", nil)
		})
		return StatusDisabled, nil
	}

	form := url.Values{}
	form.Set("token", p.cfg.Token)
	form.Set("user", p.cfg.User)
	form.Set("message", FormatMessage(r))
	form.Set("title", p.cfg.Title)
	form.Set("priority", strconv.Itoa(p.cfg.Priority))
	if p.cfg.LinkURL != "" {
		form.Set("url", p.cfg.LinkURL)
		form.Set("url_title", p.cfg.LinkText)
	}
	if p.cfg.HTML {
		form.Set("html", "1")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return StatusFailed, apperr.NewNotifyError(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.Client.Do(req)
	if err != nil {
		return StatusFailed, apperr.NewNotifyError(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return StatusFailed, apperr.NewNotifyError(fmt.Errorf("pushover returned %s: %s", resp.Status, strings.TrimSpace(string(body))))
	}

	p.log.Debug("push sent", map[string]interface{}{"ride_id": r.RideID, "search_id": s.ID})
	return StatusSent, nil
}
