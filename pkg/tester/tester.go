package tester

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"adaptive-proxy/pkg/models"
	"adaptive-proxy/pkg/router"
)

const DefaultWorkers = 4

// Refresher runs one synchronous route decision.
type Refresher interface {
	Refresh(ctx context.Context, site models.Site, profile models.NetworkProfile) (router.Decision, error)
}

// SiteResult is the outcome of warming one site.
type SiteResult struct {
	Site models.Site
	// Configuration is the recorded winner, empty when nothing succeeded.
	Configuration string
	Err           error
}

// Summary counts warm-up outcomes.
type Summary struct {
	Decided   int
	Undecided int
	Failed    int
	Results   []SiteResult
}

// ReadSitesFile reads one site per line; blank lines and # comments are skipped.
func ReadSitesFile(filename string) ([]models.Site, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()
	return ReadSites(file)
}

func ReadSites(r io.Reader) ([]models.Site, error) {
	var sites []models.Site
	seen := make(map[models.Site]bool)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		site := models.NewSite(line)
		if seen[site] {
			continue
		}
		seen[site] = true
		sites = append(sites, site)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading sites: %w", err)
	}
	return sites, nil
}

// WarmUp decides routes for sites on profile with a pool of workers. Failing
// sites are logged and counted; only ctx cancellation stops the run early.
func WarmUp(ctx context.Context, r Refresher, profile models.NetworkProfile, sites []models.Site, workers int, logger *slog.Logger) (Summary, error) {
	if workers < 1 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "warmup", "profile", profile)

	jobs := make(chan models.Site, len(sites))
	results := make(chan SiteResult, len(sites))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go worker(ctx, r, profile, logger, &wg, jobs, results)
	}

	for _, site := range sites {
		jobs <- site
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	var summary Summary
	for res := range results {
		switch {
		case res.Err != nil:
			summary.Failed++
		case res.Configuration == "":
			summary.Undecided++
		default:
			summary.Decided++
		}
		summary.Results = append(summary.Results, res)
	}

	logger.Info("Warm-up finished",
		"decided", summary.Decided,
		"undecided", summary.Undecided,
		"failed", summary.Failed)
	return summary, ctx.Err()
}

func worker(ctx context.Context, r Refresher, profile models.NetworkProfile, logger *slog.Logger, wg *sync.WaitGroup, jobs <-chan models.Site, results chan<- SiteResult) {
	defer wg.Done()
	for site := range jobs {
		if ctx.Err() != nil {
			results <- SiteResult{Site: site, Err: ctx.Err()}
			continue
		}
		res := SiteResult{Site: site}
		d, err := r.Refresh(ctx, site, profile)
		if err != nil {
			logger.Error("Error warming site", "site", site, "error", err)
			res.Err = err
		} else if cfg, ok := d.Configuration(); ok {
			res.Configuration = cfg.Name
			logger.Debug("Site warmed", "site", site, "configuration", cfg.Name)
		} else {
			logger.Warn("No configuration reached site", "site", site)
		}
		results <- res
	}
}
