package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc/iter"

	"adaptive-proxy/pkg/metrics"
	"adaptive-proxy/pkg/models"
	"adaptive-proxy/pkg/probe"
)

// StalePolicy selects what an expired record yields while it is being
// re-probed.
type StalePolicy string

const (
	// StaleRecorded keeps using the recorded configuration.
	StaleRecorded StalePolicy = "stale"
	// StaleFallback uses the last configuration of the queue.
	StaleFallback StalePolicy = "fallback"
)

var (
	// ErrClosed is returned by Refresh after Close.
	ErrClosed = errors.New("router closed")
	// ErrInFlight is returned by Refresh while another cycle is deciding the
	// same (profile, site).
	ErrInFlight = errors.New("route decision already in progress")
)

type Catalog interface {
	GetConfiguration(name string) (models.NetClientConfiguration, error)
	GetConfigurationQueue(name string) (models.ClientConfigurationQueue, error)
	GetCategoryForDomain(site models.Site) models.DomainCategory
	GetConfigurationQueueName(profile models.NetworkProfile, category models.DomainCategory) (string, error)
}

type Cache interface {
	TryGetRoute(site models.Site, profile models.NetworkProfile) (models.RouteRecord, bool)
	SaveRoute(site models.Site, profile models.NetworkProfile, configuration string)
}

type Prober interface {
	Probe(ctx context.Context, site models.Site, cfg models.NetClientConfiguration) (probe.Result, error)
}

// Decision is the outcome of probing a queue for one site.
type Decision struct {
	Queue models.ClientConfigurationQueue
	// Results is aligned with Queue.Configurations. It is empty when the
	// queue has a single configuration, which wins without probing.
	Results []probe.Result
	// Winner indexes Queue.Configurations, or is -1 when nothing succeeded.
	Winner int
}

// Configuration returns the winning configuration.
func (d Decision) Configuration() (models.NetClientConfiguration, bool) {
	if d.Winner < 0 || d.Winner >= len(d.Queue.Configurations) {
		return models.NetClientConfiguration{}, false
	}
	return d.Queue.Configurations[d.Winner], true
}

type flightKey struct {
	profile string
	site    models.Site
}

// Engine is the route decision engine.
type Engine struct {
	catalog Catalog
	cache   Cache
	prober  Prober
	policy  StalePolicy
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Collector

	ctx    context.Context
	cancel context.CancelFunc
	cycles sync.WaitGroup

	mu       sync.Mutex
	inFlight map[flightKey]struct{}
	closed   bool
}

type Option func(*Engine)

func WithStalePolicy(policy StalePolicy) Option {
	return func(e *Engine) { e.policy = policy }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

func New(catalog Catalog, cache Cache, prober Prober, opts ...Option) *Engine {
	e := &Engine{
		catalog:  catalog,
		cache:    cache,
		prober:   prober,
		policy:   StaleRecorded,
		now:      time.Now,
		logger:   slog.Default(),
		inFlight: make(map[flightKey]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "router")
	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e
}

// RouteRequest returns the configurations to try, in order, for a request to
// site from a host on profile. It never waits for probing.
func (e *Engine) RouteRequest(site models.Site, profile models.NetworkProfile) ([]models.NetClientConfiguration, error) {
	record, found := e.cache.TryGetRoute(site, profile)
	var recorded models.NetClientConfiguration
	if found {
		cfg, err := e.catalog.GetConfiguration(record.Configuration)
		if err != nil {
			e.logger.Warn("Cached route names an unknown configuration",
				"site", site, "profile", profile, "configuration", record.Configuration)
			found = false
		} else {
			recorded = cfg
		}
	}

	if found && record.Valid(e.now()) {
		e.metrics.RouteLookup("fresh")
		return []models.NetClientConfiguration{recorded}, nil
	}

	queue, err := e.queueFor(site, profile)
	if err != nil {
		if found {
			e.metrics.RouteLookup("stale")
			e.logger.Warn("Cannot re-probe expired route, using it as is",
				"site", site, "profile", profile, "configuration", recorded.Name, "error", err)
			return []models.NetClientConfiguration{recorded}, nil
		}
		return nil, err
	}
	e.startCycle(site, profile, queue)

	if found {
		e.metrics.RouteLookup("stale")
		if e.policy != StaleFallback {
			return []models.NetClientConfiguration{recorded}, nil
		}
	} else {
		e.metrics.RouteLookup("miss")
	}
	return []models.NetClientConfiguration{queue.Last()}, nil
}

func (e *Engine) queueFor(site models.Site, profile models.NetworkProfile) (models.ClientConfigurationQueue, error) {
	category := e.catalog.GetCategoryForDomain(site)
	name, err := e.catalog.GetConfigurationQueueName(profile, category)
	if err != nil {
		return models.ClientConfigurationQueue{}, fmt.Errorf("route grid for %s: %w", site, err)
	}
	queue, err := e.catalog.GetConfigurationQueue(name)
	if err != nil {
		return models.ClientConfigurationQueue{}, fmt.Errorf("queue for %s: %w", site, err)
	}
	if len(queue.Configurations) == 0 {
		return models.ClientConfigurationQueue{}, fmt.Errorf("queue %q is empty", queue.Name)
	}
	return queue, nil
}

// startCycle launches a background decision for (profile, site) unless one is
// already running.
func (e *Engine) startCycle(site models.Site, profile models.NetworkProfile, queue models.ClientConfigurationQueue) {
	k := flightKey{profile: profile.Name, site: site}
	if e.claim(k) != nil {
		return
	}

	go func() {
		defer e.cycles.Done()
		defer e.release(k)
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("Probe cycle panicked", "site", site, "profile", profile, "panic", r)
			}
		}()

		logger := e.logger.With("site", site, "profile", profile, "queue", queue.Name)
		logger.Debug("Probe cycle started")
		d, err := e.decide(e.ctx, site, queue)
		if err != nil {
			e.metrics.ProbeCycle("cancelled")
			logger.Debug("Probe cycle cancelled", "error", err)
			return
		}
		e.commit(logger, site, profile, d)
	}()
}

// claim marks k in flight and counts it as a running cycle.
func (e *Engine) claim(k flightKey) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if _, running := e.inFlight[k]; running {
		return ErrInFlight
	}
	e.inFlight[k] = struct{}{}
	e.cycles.Add(1)
	return nil
}

func (e *Engine) release(k flightKey) {
	e.mu.Lock()
	delete(e.inFlight, k)
	e.mu.Unlock()
}

// decide probes every configuration of queue concurrently and picks the
// winner. A single-configuration queue wins without probing.
func (e *Engine) decide(ctx context.Context, site models.Site, queue models.ClientConfigurationQueue) (Decision, error) {
	d := Decision{Queue: queue, Winner: -1}
	if len(queue.Configurations) == 1 {
		d.Winner = 0
		return d, nil
	}

	mapper := iter.Mapper[models.NetClientConfiguration, probe.Result]{MaxGoroutines: len(queue.Configurations)}
	results, err := mapper.MapErr(queue.Configurations, func(cfg *models.NetClientConfiguration) (probe.Result, error) {
		return e.prober.Probe(ctx, site, *cfg)
	})
	if err != nil {
		return d, err
	}
	d.Results = results
	d.Winner = probe.ChooseBestRoute(results)
	return d, nil
}

func (e *Engine) commit(logger *slog.Logger, site models.Site, profile models.NetworkProfile, d Decision) {
	cfg, ok := d.Configuration()
	if !ok {
		e.metrics.ProbeCycle("abandoned")
		logger.Info("No configuration reached the site, keeping current route")
		return
	}
	e.cache.SaveRoute(site, profile, cfg.Name)
	e.metrics.ProbeCycle("saved")
	logger.Info("Route decided", "configuration", cfg.Name)
}

// Decide probes the queue for (site, profile) and reports the outcome without
// recording it.
func (e *Engine) Decide(ctx context.Context, site models.Site, profile models.NetworkProfile) (Decision, error) {
	queue, err := e.queueFor(site, profile)
	if err != nil {
		return Decision{}, err
	}
	return e.decide(ctx, site, queue)
}

// Refresh runs one decision cycle synchronously and records the winner. It
// fails with ErrInFlight if a cycle for (profile, site) is already running.
func (e *Engine) Refresh(ctx context.Context, site models.Site, profile models.NetworkProfile) (Decision, error) {
	k := flightKey{profile: profile.Name, site: site}
	if err := e.claim(k); err != nil {
		return Decision{}, err
	}
	defer e.cycles.Done()
	defer e.release(k)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(e.ctx, cancel)
	defer stop()

	d, err := e.Decide(ctx, site, profile)
	if err != nil {
		return d, err
	}
	e.commit(e.logger.With("site", site, "profile", profile, "queue", d.Queue.Name), site, profile, d)
	return d, nil
}

// Wait blocks until every running cycle, including Refresh, has finished.
func (e *Engine) Wait() {
	e.cycles.Wait()
}

// Close cancels running cycles, waits for them and stops new ones.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cancel()
	e.cycles.Wait()
}
