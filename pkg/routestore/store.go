package routestore

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"adaptive-proxy/pkg/models"
)

// DefaultTTL is how long a chosen route stays fresh.
const DefaultTTL = time.Hour

const writeTimeout = 10 * time.Second

// Backend is the durable side of the store. database.DB implements it.
type Backend interface {
	LoadRoutes(ctx context.Context) ([]models.Route, error)
	UpsertRoute(ctx context.Context, route *models.Route) error
	DeleteRoutesExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type key struct {
	site    models.Site
	profile string
}

// Entry is one cached route, as listed by Routes.
type Entry struct {
	Site    models.Site
	Profile string
	models.RouteRecord
}

// Store is the persisted route cache. Reads are served from memory and never
// wait for the backend. Writes update memory at once and are queued for a
// single writer goroutine, which applies them to the backend in order.
type Store struct {
	backend Backend
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger

	mu     sync.RWMutex
	routes map[key]models.RouteRecord

	pendingMu sync.Mutex
	pending   []models.Route
	closed    bool
	signal    chan struct{}
	done      chan struct{}
}

type Option func(*Store)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New preloads every route from backend and starts the writer. A nil backend
// keeps routes in memory only.
func New(ctx context.Context, backend Backend, ttl time.Duration, opts ...Option) (*Store, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Store{
		backend: backend,
		ttl:     ttl,
		now:     time.Now,
		logger:  slog.Default(),
		routes:  make(map[key]models.RouteRecord),
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "routestore")

	if backend != nil {
		routes, err := backend.LoadRoutes(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to preload routes: %w", err)
		}
		for _, r := range routes {
			s.routes[key{site: models.NewSite(r.Site), profile: r.Profile}] = models.RouteRecord{
				Configuration: r.Configuration,
				ValidUntil:    r.ValidUntil,
			}
		}
		s.logger.Debug("Routes preloaded", "count", len(routes))
	}

	go s.writeLoop()
	return s, nil
}

// TryGetRoute returns the record for (site, profile), fresh or not.
func (s *Store) TryGetRoute(site models.Site, profile models.NetworkProfile) (models.RouteRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.routes[key{site: site, profile: profile.Name}]
	return r, ok
}

// SaveRoute records configuration as the route for (site, profile), valid for
// the store's TTL from now. It never blocks on the backend.
func (s *Store) SaveRoute(site models.Site, profile models.NetworkProfile, configuration string) {
	record := models.RouteRecord{Configuration: configuration, ValidUntil: s.now().Add(s.ttl)}

	s.mu.Lock()
	s.routes[key{site: site, profile: profile.Name}] = record
	s.mu.Unlock()

	if s.backend == nil {
		return
	}

	s.pendingMu.Lock()
	if s.closed {
		s.pendingMu.Unlock()
		s.logger.Warn("Route saved after close, not persisted", "site", site, "profile", profile)
		return
	}
	s.pending = append(s.pending, models.Route{
		Site:          string(site),
		Profile:       profile.Name,
		Configuration: record.Configuration,
		ValidUntil:    record.ValidUntil,
	})
	select {
	case s.signal <- struct{}{}:
	default:
	}
	s.pendingMu.Unlock()
}

func (s *Store) writeLoop() {
	defer close(s.done)
	for range s.signal {
		s.flush()
	}
	s.flush()
}

func (s *Store) flush() {
	s.pendingMu.Lock()
	batch := s.pending
	s.pending = nil
	s.pendingMu.Unlock()

	for i := range batch {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := s.backend.UpsertRoute(ctx, &batch[i])
		cancel()
		if err != nil {
			s.logger.Error("Failed to persist route", "site", batch[i].Site, "profile", batch[i].Profile, "error", err)
		}
	}
}

// Routes lists every cached route sorted by profile then site.
func (s *Store) Routes() []Entry {
	s.mu.RLock()
	entries := make([]Entry, 0, len(s.routes))
	for k, r := range s.routes {
		entries = append(entries, Entry{Site: k.site, Profile: k.profile, RouteRecord: r})
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Profile != entries[j].Profile {
			return entries[i].Profile < entries[j].Profile
		}
		return entries[i].Site < entries[j].Site
	})
	return entries
}

// Prune drops routes that expired more than retention ago, from memory and
// from the backend, and returns how many the backend removed (or memory, when
// there is no backend).
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().Add(-retention)

	var removed int64
	s.mu.Lock()
	for k, r := range s.routes {
		if r.ValidUntil.Before(cutoff) {
			delete(s.routes, k)
			removed++
		}
	}
	s.mu.Unlock()

	if s.backend == nil {
		return removed, nil
	}
	n, err := s.backend.DeleteRoutesExpiredBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune routes: %w", err)
	}
	return n, nil
}

// Close applies every queued write and stops the writer.
func (s *Store) Close() error {
	s.pendingMu.Lock()
	if s.closed {
		s.pendingMu.Unlock()
		<-s.done
		return nil
	}
	s.closed = true
	close(s.signal)
	s.pendingMu.Unlock()

	<-s.done
	return nil
}
