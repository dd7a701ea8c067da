package client

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// Poller periodically asks the server for its current change marker
// and triggers a session refresh whenever it has advanced past the
// card store's. Ticks are strictly sequential: the next one is
// scheduled only after the previous round-trip (and any refresh it
// triggered) completes, so a slow or failed request simply delays the
// schedule rather than piling up.
type Poller struct {
	session *Session
	logger  *log.Logger
}

// NewPoller creates a poller for the given session.
func NewPoller(session *Session, logger *log.Logger) *Poller {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Poller{session: session, logger: logger}
}

// Run polls until ctx is cancelled. The first check happens one
// interval in; the interval is re-read from the session each cycle so
// it follows the server-configured refresh time.
func (p *Poller) Run(ctx context.Context) {
	timer := time.NewTimer(p.session.RefreshInterval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		p.tick(ctx)
		timer.Reset(p.session.RefreshInterval())
	}
}

// tick performs one poll cycle. A failed marker request is a skipped
// tick, never a crash and never a faster retry.
func (p *Poller) tick(ctx context.Context) {
	remote, err := p.session.api.LastChange(ctx)
	if err != nil {
		p.logger.WithError(err).Warn("change poll failed, skipping tick")
		return
	}
	local := p.session.Store().Marker()
	if !remote.After(local) {
		return
	}
	p.logger.WithFields(log.Fields{"local": local, "remote": remote}).Info("remote changes detected")
	if err := p.session.Refresh(ctx); err != nil {
		p.logger.WithError(err).Warn("card refresh failed")
	}
}
