package tester

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"

	"adaptive-proxy/pkg/models"
	"adaptive-proxy/pkg/router"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestReadSites(t *testing.T) {
	input := `# sites to warm
example.com
Example.COM.
  news.example.org   # inline comment

blocked.example
`
	got, err := ReadSites(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	want := []models.Site{"example.com", "news.example.org", "blocked.example"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ReadSites() = %v, want %v", got, want)
	}
}

type fakeRefresher struct {
	mu    sync.Mutex
	calls []models.Site
}

func (f *fakeRefresher) Refresh(ctx context.Context, site models.Site, profile models.NetworkProfile) (router.Decision, error) {
	f.mu.Lock()
	f.calls = append(f.calls, site)
	f.mu.Unlock()

	queue := models.ClientConfigurationQueue{Name: "q", Configurations: []models.NetClientConfiguration{{Name: "direct"}, {Name: "proxy"}}}
	switch site {
	case "broken.example":
		return router.Decision{}, errors.New("no route grid entry")
	case "blocked.example":
		return router.Decision{Queue: queue, Winner: -1}, nil
	default:
		return router.Decision{Queue: queue, Winner: 1}, nil
	}
}

func TestWarmUp(t *testing.T) {
	sites := []models.Site{"a.example", "b.example", "blocked.example", "broken.example", "c.example"}
	r := &fakeRefresher{}

	summary, err := WarmUp(context.Background(), r, models.NetworkProfile{Name: "home"}, sites, 2, discardLogger)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Decided != 3 || summary.Undecided != 1 || summary.Failed != 1 {
		t.Errorf("summary = %+v", summary)
	}
	for _, res := range summary.Results {
		if res.Site == "a.example" && res.Configuration != "proxy" {
			t.Errorf("a.example decided %q, want proxy", res.Configuration)
		}
	}

	called := make([]string, len(r.calls))
	for i, s := range r.calls {
		called[i] = string(s)
	}
	sort.Strings(called)
	if len(called) != len(sites) {
		t.Errorf("refreshed %v, want every site once", called)
	}
}

func TestWarmUpCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &fakeRefresher{}

	summary, err := WarmUp(ctx, r, models.NetworkProfile{Name: "home"}, []models.Site{"a.example", "b.example"}, 1, discardLogger)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("WarmUp() error = %v, want context.Canceled", err)
	}
	if summary.Failed != 2 || len(r.calls) != 0 {
		t.Errorf("summary = %+v, refresh calls = %d", summary, len(r.calls))
	}
}
