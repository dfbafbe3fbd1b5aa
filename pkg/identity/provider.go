package identity

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"adaptive-proxy/pkg/models"
)

// DefaultDebounce is how long ScheduleRefresh waits for a burst of network
// change signals to settle.
const DefaultDebounce = 3 * time.Second

// Fingerprinter computes the identity of the network the host is on.
type Fingerprinter interface {
	Fingerprint() (models.NetworkIdentity, error)
}

// Provider caches the current network identity. The first call to
// CurrentIdentity computes it; afterwards it only changes through Refresh or
// a debounced ScheduleRefresh. Safe for concurrent use.
type Provider struct {
	fingerprinter Fingerprinter
	debounce      time.Duration
	logger        *slog.Logger

	current atomic.Pointer[models.NetworkIdentity]
	initMu  sync.Mutex

	refreshing atomic.Bool
	timerMu    sync.Mutex
	timer      *time.Timer
	closed     bool
}

// NewProvider returns a Provider over f. A non-positive debounce uses
// DefaultDebounce.
func NewProvider(f Fingerprinter, debounce time.Duration, logger *slog.Logger) *Provider {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		fingerprinter: f,
		debounce:      debounce,
		logger:        logger.With("component", "identity"),
	}
}

// CurrentIdentity returns the cached identity, computing it on first use.
// A failure of that first computation is returned to the caller.
func (p *Provider) CurrentIdentity() (models.NetworkIdentity, error) {
	if id := p.current.Load(); id != nil {
		return *id, nil
	}

	p.initMu.Lock()
	defer p.initMu.Unlock()
	if id := p.current.Load(); id != nil {
		return *id, nil
	}

	id, err := p.fingerprinter.Fingerprint()
	if err != nil {
		return models.NetworkIdentity{}, fmt.Errorf("failed to compute network identity: %w", err)
	}
	p.current.Store(&id)
	p.logger.Info("Network identity computed", "identity", id.String())
	return id, nil
}

// Refresh recomputes the identity now. On failure the previous identity is
// kept and the error returned.
func (p *Provider) Refresh() error {
	id, err := p.fingerprinter.Fingerprint()
	if err != nil {
		return fmt.Errorf("failed to compute network identity: %w", err)
	}

	old := p.current.Swap(&id)
	if old == nil || !old.Equal(id) {
		p.logger.Info("Network identity changed", "identity", id.String())
	} else {
		p.logger.Debug("Network identity unchanged", "identity", id.String())
	}
	return nil
}

// ScheduleRefresh is the network-changed signal. It (re)arms the debounce
// timer, so a burst of calls results in one refresh.
func (p *Provider) ScheduleRefresh() {
	p.timerMu.Lock()
	defer p.timerMu.Unlock()

	if p.closed {
		return
	}
	if p.timer == nil {
		p.timer = time.AfterFunc(p.debounce, p.runScheduled)
		return
	}
	p.timer.Reset(p.debounce)
}

func (p *Provider) runScheduled() {
	if !p.refreshing.CompareAndSwap(false, true) {
		// a refresh is still running; try again after another debounce period
		p.ScheduleRefresh()
		return
	}
	defer p.refreshing.Store(false)

	if err := p.Refresh(); err != nil {
		p.logger.Warn("Scheduled identity refresh failed, keeping previous identity", "error", err)
	}
}

// Close stops any pending refresh. ScheduleRefresh is a no-op afterwards.
func (p *Provider) Close() {
	p.timerMu.Lock()
	defer p.timerMu.Unlock()

	p.closed = true
	if p.timer != nil {
		p.timer.Stop()
	}
}
