package probe

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"adaptive-proxy/pkg/dialer"
	"adaptive-proxy/pkg/metrics"
	"adaptive-proxy/pkg/models"
)

// HitFunc issues one request to site through cfg. It never fails; errors are
// reported in the returned Hit.
type HitFunc func(ctx context.Context, site models.Site, cfg models.NetClientConfiguration) Hit

// Prober measures whether a site is reachable through a configuration.
type Prober struct {
	dialer    *dialer.Dialer
	tlsConfig *tls.Config
	metrics   *metrics.Collector
	logger    *slog.Logger
	hit       HitFunc

	mu      sync.Mutex
	clients map[string]*http.Client
}

type Option func(*Prober)

// WithHitFunc replaces the HTTPS request, for tests.
func WithHitFunc(hit HitFunc) Option {
	return func(p *Prober) { p.hit = hit }
}

// WithTLSConfig sets the TLS configuration used for hits.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(p *Prober) { p.tlsConfig = cfg }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(p *Prober) { p.metrics = c }
}

func NewProber(d *dialer.Dialer, logger *slog.Logger, opts ...Option) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Prober{
		dialer:  d,
		logger:  logger.With("component", "prober"),
		clients: make(map[string]*http.Client),
	}
	p.hit = p.httpsHit
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe issues up to cfg.MaxHits sequential hits spaced by cfg.HitInterval
// and stops as soon as the trailing run of same-kind hits reaches
// cfg.MinConsistentHits. The verdict uses only that run. If the budget runs
// out first the result is Inconsistent.
//
// A hit in flight is not interrupted by ctx; cancellation is noticed between
// hits and is the only error Probe returns.
func (p *Prober) Probe(ctx context.Context, site models.Site, cfg models.NetClientConfiguration) (Result, error) {
	start := time.Now()
	hitCtx := context.WithoutCancel(ctx)
	minHits := cfg.MinConsistentHits
	if minHits < 1 {
		minHits = 1
	}

	var run []Hit
	for i := 0; i < cfg.MaxHits; i++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		h := p.hit(hitCtx, site, cfg)
		p.logger.Debug("Probe hit",
			"site", site,
			"configuration", cfg.Name,
			"hit", i+1,
			"kind", h.Kind.String(),
			"latency", h.Latency,
			"error", baseError(h.Err))

		if len(run) > 0 && run[len(run)-1].Kind != h.Kind {
			run = run[:0]
		}
		run = append(run, h)
		if len(run) >= minHits {
			return p.done(site, cfg, finalize(run, i+1), start), nil
		}

		if i < cfg.MaxHits-1 && cfg.HitInterval > 0 {
			timer := time.NewTimer(cfg.HitInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return Result{}, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return p.done(site, cfg, Result{Kind: Inconsistent, Hits: cfg.MaxHits}, start), nil
}

func (p *Prober) done(site models.Site, cfg models.NetClientConfiguration, result Result, start time.Time) Result {
	p.metrics.ProbeCompleted(cfg.Name, result.Kind.String(), time.Since(start))
	p.logger.Debug("Probe finished", "site", site, "configuration", cfg.Name, "result", result.String())
	return result
}

// httpsHit fetches https://<site>/ through cfg. Any HTTP response counts as
// success; only the time to the response header is measured.
func (p *Prober) httpsHit(ctx context.Context, site models.Site, cfg models.NetClientConfiguration) Hit {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://"+string(site)+"/", nil)
	if err != nil {
		return Hit{Kind: Failure, Err: err}
	}

	start := time.Now()
	resp, err := p.client(cfg).Do(req)
	if err != nil {
		return Hit{Kind: classify(err), Err: err}
	}
	latency := time.Since(start)
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	resp.Body.Close()

	return Hit{Kind: Success, Latency: latency}
}

func (p *Prober) client(cfg models.NetClientConfiguration) *http.Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[cfg.Name]; ok {
		return c
	}
	c := &http.Client{
		Transport: &http.Transport{
			DialContext:       p.dialer.DialContext(cfg),
			TLSClientConfig:   p.tlsConfig,
			DisableKeepAlives: true,
		},
		Timeout: cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	p.clients[cfg.Name] = c
	return c
}
