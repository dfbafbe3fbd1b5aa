package routestore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"adaptive-proxy/pkg/models"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeBackend struct {
	mu      sync.Mutex
	routes  map[string]models.Route
	upserts []string
	loadErr error
	block   chan struct{}
}

func newFakeBackend(routes ...models.Route) *fakeBackend {
	b := &fakeBackend{routes: make(map[string]models.Route)}
	for _, r := range routes {
		b.routes[r.Profile+"/"+r.Site] = r
	}
	return b
}

func (b *fakeBackend) LoadRoutes(ctx context.Context) ([]models.Route, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loadErr != nil {
		return nil, b.loadErr
	}
	var out []models.Route
	for _, r := range b.routes {
		out = append(out, r)
	}
	return out, nil
}

func (b *fakeBackend) UpsertRoute(ctx context.Context, route *models.Route) error {
	if b.block != nil {
		<-b.block
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.routes[route.Profile+"/"+route.Site] = *route
	b.upserts = append(b.upserts, route.Configuration)
	return nil
}

func (b *fakeBackend) DeleteRoutesExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var n int64
	for k, r := range b.routes {
		if r.ValidUntil.Before(cutoff) {
			delete(b.routes, k)
			n++
		}
	}
	return n, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var home = models.NetworkProfile{Name: "home"}

func TestStoreTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	s, err := New(context.Background(), nil, time.Hour, WithClock(clock.Now), WithLogger(discardLogger))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, ok := s.TryGetRoute("example.com", home); ok {
		t.Fatal("TryGetRoute() found a route in an empty store")
	}

	s.SaveRoute("example.com", home, "fast")

	tests := []struct {
		at        time.Duration
		wantValid bool
	}{
		{at: 30 * time.Minute, wantValid: true},
		{at: 31 * time.Minute, wantValid: false},
	}
	for _, tt := range tests {
		clock.Advance(tt.at)
		r, ok := s.TryGetRoute("example.com", home)
		if !ok {
			t.Fatalf("TryGetRoute() missing after %v", tt.at)
		}
		if r.Configuration != "fast" {
			t.Errorf("Configuration = %q, want fast", r.Configuration)
		}
		if got := r.Valid(clock.Now()); got != tt.wantValid {
			t.Errorf("Valid() at +%v = %v, want %v", tt.at, got, tt.wantValid)
		}
	}
}

func TestStorePreloadAndPersist(t *testing.T) {
	until := time.Now().Add(time.Hour)
	backend := newFakeBackend(models.Route{Site: "old.example", Profile: "home", Configuration: "slow", ValidUntil: until})

	s, err := New(context.Background(), backend, time.Hour, WithLogger(discardLogger))
	if err != nil {
		t.Fatal(err)
	}

	r, ok := s.TryGetRoute("old.example", home)
	if !ok || r.Configuration != "slow" || !r.ValidUntil.Equal(until) {
		t.Errorf("preloaded route = %+v, %v", r, ok)
	}

	s.SaveRoute("new.example", home, "a")
	s.SaveRoute("new.example", home, "b")
	if r, _ := s.TryGetRoute("new.example", home); r.Configuration != "b" {
		t.Errorf("in-memory view = %q, want b", r.Configuration)
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if got := backend.routes["home/new.example"].Configuration; got != "b" {
		t.Errorf("persisted configuration = %q, want b", got)
	}
	if len(backend.upserts) != 2 || backend.upserts[0] != "a" || backend.upserts[1] != "b" {
		t.Errorf("upserts = %v, want [a b]", backend.upserts)
	}
}

func TestSaveRouteDoesNotWaitForBackend(t *testing.T) {
	backend := newFakeBackend()
	backend.block = make(chan struct{})
	s, err := New(context.Background(), backend, time.Hour, WithLogger(discardLogger))
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			s.SaveRoute("example.com", home, "direct")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("SaveRoute blocked on a stalled backend")
	}

	close(backend.block)
	s.Close()
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.upserts) != 100 {
		t.Errorf("upserts = %d, want 100", len(backend.upserts))
	}
}

func TestStorePreloadError(t *testing.T) {
	backend := newFakeBackend()
	backend.loadErr = errors.New("disk gone")
	if _, err := New(context.Background(), backend, time.Hour); err == nil {
		t.Error("New() expected preload error")
	}
}

func TestStorePrune(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	backend := newFakeBackend()
	s, err := New(context.Background(), backend, time.Hour, WithClock(clock.Now), WithLogger(discardLogger))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	s.SaveRoute("a.example", home, "x")
	clock.Advance(48 * time.Hour)
	s.SaveRoute("b.example", home, "y")
	s.Close()

	n, err := s.Prune(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Prune() = %d, want 1", n)
	}
	entries := s.Routes()
	if len(entries) != 1 || entries[0].Site != "b.example" {
		t.Errorf("Routes() = %+v", entries)
	}
}

func TestPrunerRejectsBadSchedule(t *testing.T) {
	s, _ := New(context.Background(), nil, time.Hour)
	defer s.Close()

	p := NewPruner(s, "every tuesday", time.Hour, discardLogger)
	if err := p.Start(context.Background()); err == nil {
		t.Error("Start() expected error for invalid schedule")
	}

	p = NewPruner(s, "@hourly", time.Hour, discardLogger)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	p.Stop()
}
