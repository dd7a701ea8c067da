package client

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"storyboard/domain"
)

const defaultRefreshInterval = 5 * time.Second

// QueryOptions is the session-scoped view filter. It round-trips
// through the navigable URL so a reload reproduces the same view.
type QueryOptions struct {
	Product string
	Sprint  string
}

// Encode renders the options as URL query parameters.
func (q QueryOptions) Encode() string {
	v := url.Values{}
	v.Set("product", q.Product)
	v.Set("sprint", q.Sprint)
	return v.Encode()
}

// ParseQueryOptions restores view options from a URL query string. A
// missing sprint selects the "all" view.
func ParseQueryOptions(raw string) QueryOptions {
	v, _ := url.ParseQuery(strings.TrimPrefix(raw, "?"))
	q := QueryOptions{Product: v.Get("product"), Sprint: v.Get("sprint")}
	if q.Sprint == "" {
		q.Sprint = "all"
	}
	return q
}

// Session is one board client instance: the card store, the constraint
// set, the active view and the auth state, with the coordinator
// operations hanging off it. Construct as many independent sessions as
// needed; there is no shared global state.
type Session struct {
	api      API
	store    *CardStore
	renderer Renderer
	logger   *log.Logger

	mu          sync.Mutex
	constraints domain.ConstraintSet
	refresh     time.Duration
	products    []string
	sprints     []string
	query       QueryOptions
	authed      bool
	authedUser  string

	// generation invalidates in-flight responses across reloads so a
	// superseded query cannot write into the fresh view.
	generation atomic.Uint64
}

// NewSession creates a board session talking to api. renderer may be
// nil for a headless session.
func NewSession(api API, renderer Renderer, logger *log.Logger) *Session {
	if renderer == nil {
		renderer = NopRenderer{}
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Session{
		api:      api,
		store:    NewCardStore(logger),
		renderer: renderer,
		logger:   logger,
		refresh:  defaultRefreshInterval,
		query:    QueryOptions{Sprint: "all"},
	}
}

// Store exposes the session's card store.
func (s *Session) Store() *CardStore {
	return s.store
}

// Constraints returns the constraint set loaded at session start.
func (s *Session) Constraints() domain.ConstraintSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.constraints
}

// RefreshInterval is the polling period the server configured.
func (s *Session) RefreshInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refresh
}

// Query returns the active view filter.
func (s *Session) Query() QueryOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query
}

// UseQuery seeds the view filter, typically from the page URL, before
// Init runs.
func (s *Session) UseQuery(q QueryOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q.Sprint == "" {
		q.Sprint = "all"
	}
	s.query = q
}

// Authed reports whether the session is authenticated and as whom.
func (s *Session) Authed() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authed, s.authedUser
}

// Products lists the products the server knows about.
func (s *Session) Products() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.products...)
}

// Sprints lists the sprints of the active product.
func (s *Session) Sprints() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sprints...)
}

// Init loads the server settings (constraints, default product, poll
// interval, products) and performs the initial card load for the
// active view.
func (s *Session) Init(ctx context.Context) error {
	settings, err := s.api.Settings(ctx)
	if err != nil {
		s.surface(err)
		return err
	}

	s.mu.Lock()
	s.constraints = settings.Constraints.Statuses
	s.products = append([]string(nil), settings.Products...)
	if settings.RefreshTime > 0 {
		s.refresh = time.Duration(settings.RefreshTime) * time.Millisecond
	}
	if s.query.Product == "" {
		s.query.Product = settings.DefaultProduct
	}
	s.mu.Unlock()

	return s.Reload(ctx, "", "")
}

// Reload switches the view to the given product and sprint (empty
// product keeps the current one, empty sprint selects "all") and
// replaces the card store with a fresh server snapshot. Responses of
// superseded reloads are dropped.
func (s *Session) Reload(ctx context.Context, product, sprint string) error {
	s.renderer.SetSaving(true)
	defer s.renderer.SetSaving(false)

	s.mu.Lock()
	if product != "" {
		s.query.Product = product
	}
	if sprint != "" {
		s.query.Sprint = sprint
	} else {
		s.query.Sprint = "all"
	}
	q := s.query
	s.mu.Unlock()

	gen := s.generation.Add(1)
	s.logger.WithFields(log.Fields{"product": q.Product, "sprint": q.Sprint}).Info("loading cards")

	list, err := s.api.List(ctx, q.Product, q.Sprint)
	if err != nil {
		s.surface(err)
		return err
	}
	if s.generation.Load() != gen {
		s.logger.Debug("reload superseded, dropping response")
		return nil
	}

	s.store.ReplaceAll(list.Data, list.Loaded)

	s.mu.Lock()
	s.authed = list.Authed == 1
	s.authedUser = list.AuthedUser
	s.sprints = append([]string(nil), list.Sprints...)
	s.mu.Unlock()
	return nil
}

// Login authenticates and reloads the board under the new identity.
func (s *Session) Login(ctx context.Context, username, password string) error {
	s.renderer.SetSaving(true)
	defer s.renderer.SetSaving(false)
	if err := s.api.Login(ctx, username, password); err != nil {
		s.surface(err)
		return err
	}
	return s.Reload(ctx, "", "")
}

// Logout drops the authenticated identity and reloads.
func (s *Session) Logout(ctx context.Context) error {
	if err := s.api.Logout(ctx); err != nil {
		s.surface(err)
		return err
	}
	return s.Reload(ctx, "", "")
}

// surface routes critical server payloads to the renderer as blocking
// alerts; everything else is just logged by the caller.
func (s *Session) surface(err error) {
	var srvErr *ServerError
	if errors.As(err, &srvErr) {
		s.renderer.Alert("Server error", srvErr.Message)
	}
}
