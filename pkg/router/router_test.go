package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"adaptive-proxy/pkg/models"
	"adaptive-proxy/pkg/probe"
	"adaptive-proxy/pkg/routestore"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var (
	cfgA = models.NetClientConfiguration{Name: "a"}
	cfgB = models.NetClientConfiguration{Name: "b"}
	cfgC = models.NetClientConfiguration{Name: "c"}
)

type fakeCatalog struct {
	queue models.ClientConfigurationQueue
}

func (c fakeCatalog) GetConfiguration(name string) (models.NetClientConfiguration, error) {
	for _, cfg := range c.queue.Configurations {
		if cfg.Name == name {
			return cfg, nil
		}
	}
	return models.NetClientConfiguration{}, fmt.Errorf("unknown configuration %q", name)
}

func (c fakeCatalog) GetConfigurationQueue(name string) (models.ClientConfigurationQueue, error) {
	if name != c.queue.Name {
		return models.ClientConfigurationQueue{}, fmt.Errorf("unknown queue %q", name)
	}
	return c.queue, nil
}

func (c fakeCatalog) GetCategoryForDomain(site models.Site) models.DomainCategory {
	return models.DomainCategory{Name: "default"}
}

func (c fakeCatalog) GetConfigurationQueueName(profile models.NetworkProfile, category models.DomainCategory) (string, error) {
	return c.queue.Name, nil
}

// brokenGrid fails every route grid lookup.
type brokenGrid struct {
	fakeCatalog
}

func (brokenGrid) GetConfigurationQueueName(profile models.NetworkProfile, category models.DomainCategory) (string, error) {
	return "", errors.New("no grid entry")
}

// fakeProber answers from results; when gate is set every probe waits for it
// to close or for ctx to end.
type fakeProber struct {
	results map[string]probe.Result
	gate    chan struct{}

	mu    sync.Mutex
	calls map[string]int
}

func (p *fakeProber) Probe(ctx context.Context, site models.Site, cfg models.NetClientConfiguration) (probe.Result, error) {
	p.mu.Lock()
	if p.calls == nil {
		p.calls = make(map[string]int)
	}
	p.calls[cfg.Name]++
	p.mu.Unlock()

	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return probe.Result{}, ctx.Err()
		}
	}
	return p.results[cfg.Name], nil
}

func (p *fakeProber) count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[name]
}

func (p *fakeProber) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		n += c
	}
	return n
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var (
	site    = models.Site("example.com")
	profile = models.NetworkProfile{Name: "home"}
	queue   = models.ClientConfigurationQueue{Name: "main", Configurations: []models.NetClientConfiguration{cfgA, cfgB, cfgC}}
)

func successes() map[string]probe.Result {
	return map[string]probe.Result{
		"a": {Kind: probe.Failure, Errors: []error{errors.New("reset")}},
		"b": {Kind: probe.Success, AverageLatency: 80 * time.Millisecond},
		"c": {Kind: probe.Success, AverageLatency: 20 * time.Millisecond},
	}
}

func newEngine(t *testing.T, catalog Catalog, prober Prober, clk *clock, opts ...Option) (*Engine, *routestore.Store) {
	t.Helper()
	store, err := routestore.New(context.Background(), nil, time.Hour, routestore.WithClock(clk.Now), routestore.WithLogger(discardLogger))
	if err != nil {
		t.Fatal(err)
	}
	opts = append([]Option{WithClock(clk.Now), WithLogger(discardLogger)}, opts...)
	e := New(catalog, store, prober, opts...)
	t.Cleanup(func() {
		e.Close()
		store.Close()
	})
	return e, store
}

func names(cfgs []models.NetClientConfiguration) []string {
	out := make([]string, len(cfgs))
	for i, c := range cfgs {
		out[i] = c.Name
	}
	return out
}

func TestRouteRequestMissIsSingleFlight(t *testing.T) {
	clk := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	prober := &fakeProber{results: successes(), gate: make(chan struct{})}
	e, store := newEngine(t, fakeCatalog{queue: queue}, prober, clk)

	var wg sync.WaitGroup
	got := make([][]string, 10)
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			cfgs, err := e.RouteRequest(site, profile)
			if err != nil {
				t.Errorf("RouteRequest() error = %v", err)
				return
			}
			got[i] = names(cfgs)
		}()
	}
	wg.Wait()

	for i, g := range got {
		if len(g) != 1 || g[0] != "c" {
			t.Errorf("request %d got %v, want [c]", i, g)
		}
	}

	close(prober.gate)
	e.Wait()

	for _, name := range []string{"a", "b", "c"} {
		if n := prober.count(name); n != 1 {
			t.Errorf("configuration %s probed %d times, want 1", name, n)
		}
	}
	record, ok := store.TryGetRoute(site, profile)
	if !ok || record.Configuration != "b" {
		t.Errorf("saved route = %+v, %v; want b", record, ok)
	}
}

func TestRouteRequestTTL(t *testing.T) {
	tests := []struct {
		name       string
		policy     StalePolicy
		advance    time.Duration
		want       string
		wantProbes int
	}{
		{name: "fresh", policy: StaleRecorded, advance: 30 * time.Minute, want: "b", wantProbes: 0},
		{name: "expired keeps stale record", policy: StaleRecorded, advance: 61 * time.Minute, want: "b", wantProbes: 3},
		{name: "expired falls back", policy: StaleFallback, advance: 61 * time.Minute, want: "c", wantProbes: 3},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			clk := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
			prober := &fakeProber{results: successes()}
			e, store := newEngine(t, fakeCatalog{queue: queue}, prober, clk, WithStalePolicy(tt.policy))

			store.SaveRoute(site, profile, "b")
			clk.Advance(tt.advance)

			cfgs, err := e.RouteRequest(site, profile)
			if err != nil {
				t.Fatal(err)
			}
			if g := names(cfgs); len(g) != 1 || g[0] != tt.want {
				t.Errorf("RouteRequest() = %v, want [%s]", g, tt.want)
			}
			e.Wait()
			if n := prober.total(); n != tt.wantProbes {
				t.Errorf("probes = %d, want %d", n, tt.wantProbes)
			}
		})
	}
}

func TestRouteRequestUnknownCachedConfiguration(t *testing.T) {
	clk := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	prober := &fakeProber{results: successes()}
	e, store := newEngine(t, fakeCatalog{queue: queue}, prober, clk)

	store.SaveRoute(site, profile, "removed")

	cfgs, err := e.RouteRequest(site, profile)
	if err != nil {
		t.Fatal(err)
	}
	if g := names(cfgs); len(g) != 1 || g[0] != "c" {
		t.Errorf("RouteRequest() = %v, want [c]", g)
	}
	e.Wait()
	if record, _ := store.TryGetRoute(site, profile); record.Configuration != "b" {
		t.Errorf("route after cycle = %q, want b", record.Configuration)
	}
}

func TestCycleAbandonsWithoutSuccess(t *testing.T) {
	clk := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	prober := &fakeProber{results: map[string]probe.Result{
		"a": {Kind: probe.Timeout},
		"b": {Kind: probe.Inconsistent},
		"c": {Kind: probe.Failure},
	}}
	e, store := newEngine(t, fakeCatalog{queue: queue}, prober, clk)

	if _, err := e.RouteRequest(site, profile); err != nil {
		t.Fatal(err)
	}
	e.Wait()
	if _, ok := store.TryGetRoute(site, profile); ok {
		t.Error("abandoned cycle wrote a route")
	}
}

func TestSingleConfigurationQueueSkipsProbing(t *testing.T) {
	clk := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	prober := &fakeProber{}
	single := models.ClientConfigurationQueue{Name: "only", Configurations: []models.NetClientConfiguration{cfgA}}
	e, store := newEngine(t, fakeCatalog{queue: single}, prober, clk)

	cfgs, err := e.RouteRequest(site, profile)
	if err != nil {
		t.Fatal(err)
	}
	if g := names(cfgs); len(g) != 1 || g[0] != "a" {
		t.Errorf("RouteRequest() = %v, want [a]", g)
	}
	e.Wait()
	if prober.total() != 0 {
		t.Errorf("probes = %d, want 0", prober.total())
	}
	if record, ok := store.TryGetRoute(site, profile); !ok || record.Configuration != "a" {
		t.Errorf("saved route = %+v, %v; want a", record, ok)
	}
}

func TestCloseCancelsCycles(t *testing.T) {
	clk := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	prober := &fakeProber{results: successes(), gate: make(chan struct{})}
	e, store := newEngine(t, fakeCatalog{queue: queue}, prober, clk)

	if _, err := e.RouteRequest(site, profile); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		e.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close() did not return")
	}
	if _, ok := store.TryGetRoute(site, profile); ok {
		t.Error("cancelled cycle wrote a route")
	}
	if _, err := e.Refresh(context.Background(), site, profile); !errors.Is(err, ErrClosed) {
		t.Errorf("Refresh() after Close error = %v, want ErrClosed", err)
	}
}

func TestRefresh(t *testing.T) {
	clk := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	prober := &fakeProber{results: successes()}
	e, store := newEngine(t, fakeCatalog{queue: queue}, prober, clk)

	d, err := e.Refresh(context.Background(), site, profile)
	if err != nil {
		t.Fatal(err)
	}
	if d.Winner != 1 || len(d.Results) != 3 {
		t.Errorf("Refresh() = %+v, want winner 1 of 3 results", d)
	}
	cfg, ok := d.Configuration()
	if !ok || cfg.Name != "b" {
		t.Errorf("Configuration() = %v, %v", cfg, ok)
	}
	if record, ok := store.TryGetRoute(site, profile); !ok || record.Configuration != "b" {
		t.Errorf("saved route = %+v, %v; want b", record, ok)
	}
}

func TestRouteRequestExpiredWithoutQueue(t *testing.T) {
	tests := []struct {
		name    string
		policy  StalePolicy
		saved   bool
		want    string
		wantErr bool
	}{
		{name: "expired keeps record", policy: StaleRecorded, saved: true, want: "b"},
		{name: "fallback policy keeps record", policy: StaleFallback, saved: true, want: "b"},
		{name: "miss fails", policy: StaleRecorded, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			clk := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
			prober := &fakeProber{results: successes()}
			e, store := newEngine(t, brokenGrid{fakeCatalog{queue: queue}}, prober, clk, WithStalePolicy(tt.policy))

			if tt.saved {
				store.SaveRoute(site, profile, "b")
			}
			clk.Advance(61 * time.Minute)

			cfgs, err := e.RouteRequest(site, profile)
			if tt.wantErr {
				if err == nil {
					t.Errorf("RouteRequest() = %v, want error", names(cfgs))
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if g := names(cfgs); len(g) != 1 || g[0] != tt.want {
				t.Errorf("RouteRequest() = %v, want [%s]", g, tt.want)
			}
			e.Wait()
			if n := prober.total(); n != 0 {
				t.Errorf("probes = %d, want 0", n)
			}
		})
	}
}

func TestRefreshWhileCycleRunning(t *testing.T) {
	clk := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	prober := &fakeProber{results: successes(), gate: make(chan struct{})}
	e, store := newEngine(t, fakeCatalog{queue: queue}, prober, clk)

	if _, err := e.RouteRequest(site, profile); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Refresh(context.Background(), site, profile); !errors.Is(err, ErrInFlight) {
		t.Fatalf("Refresh() during cycle error = %v, want ErrInFlight", err)
	}

	close(prober.gate)
	e.Wait()
	if n := prober.total(); n != 3 {
		t.Errorf("probes = %d, want 3", n)
	}
	if record, ok := store.TryGetRoute(site, profile); !ok || record.Configuration != "b" {
		t.Errorf("saved route = %+v, %v; want b", record, ok)
	}

	if _, err := e.Refresh(context.Background(), site, profile); err != nil {
		t.Fatalf("Refresh() after cycle: %v", err)
	}
	if n := prober.total(); n != 6 {
		t.Errorf("probes = %d, want 6", n)
	}
}

func TestRouteRequestWhileRefreshRunning(t *testing.T) {
	clk := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	prober := &fakeProber{results: successes(), gate: make(chan struct{})}
	e, _ := newEngine(t, fakeCatalog{queue: queue}, prober, clk)

	refreshed := make(chan error, 1)
	go func() {
		_, err := e.Refresh(context.Background(), site, profile)
		refreshed <- err
	}()

	deadline := time.Now().Add(5 * time.Second)
	for prober.total() < 3 {
		if time.Now().After(deadline) {
			t.Fatal("Refresh() did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cfgs, err := e.RouteRequest(site, profile)
	if err != nil {
		t.Fatal(err)
	}
	if g := names(cfgs); len(g) != 1 || g[0] != "c" {
		t.Errorf("RouteRequest() = %v, want [c]", g)
	}

	close(prober.gate)
	if err := <-refreshed; err != nil {
		t.Fatalf("Refresh(): %v", err)
	}
	e.Wait()
	if n := prober.total(); n != 3 {
		t.Errorf("probes = %d, want 3", n)
	}
}

func TestCloseCancelsRefresh(t *testing.T) {
	clk := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	prober := &fakeProber{results: successes(), gate: make(chan struct{})}
	e, store := newEngine(t, fakeCatalog{queue: queue}, prober, clk)

	refreshed := make(chan error, 1)
	go func() {
		_, err := e.Refresh(context.Background(), site, profile)
		refreshed <- err
	}()
	deadline := time.Now().Add(5 * time.Second)
	for prober.total() < 3 {
		if time.Now().After(deadline) {
			t.Fatal("Refresh() did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}

	e.Close()
	select {
	case err := <-refreshed:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Refresh() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Refresh() did not return after Close")
	}
	if _, ok := store.TryGetRoute(site, profile); ok {
		t.Error("cancelled refresh wrote a route")
	}
}
