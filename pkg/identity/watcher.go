package identity

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultPollInterval is how often the interface table is compared when no
// file event arrives.
const DefaultPollInterval = 30 * time.Second

// Watcher turns OS-level hints into network-changed signals. It watches files
// that change when the network does (resolv.conf by default) and also polls
// the interface table, so a missed file event only delays the signal.
type Watcher struct {
	paths        []string
	pollInterval time.Duration
	logger       *slog.Logger
	snapshot     func() (string, error)
}

// NewWatcher watches paths and polls every pollInterval; a non-positive
// interval uses DefaultPollInterval.
func NewWatcher(paths []string, pollInterval time.Duration, logger *slog.Logger) *Watcher {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		paths:        paths,
		pollInterval: pollInterval,
		logger:       logger.With("component", "identity-watcher"),
		snapshot:     interfaceSnapshot,
	}
}

// Watch calls onChange for every detected change until ctx is done. Callers
// pass Provider.ScheduleRefresh, which absorbs bursts.
func (w *Watcher) Watch(ctx context.Context, onChange func()) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fw.Close()

	// Files like resolv.conf are replaced rather than written, so the
	// directory is watched and events are filtered by name.
	names := make(map[string]bool)
	for _, path := range w.paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			w.logger.Warn("Skipping watch path", "path", path, "error", err)
			continue
		}
		if err := fw.Add(filepath.Dir(abs)); err != nil {
			w.logger.Warn("Skipping watch path", "path", path, "error", err)
			continue
		}
		names[abs] = true
	}

	last, err := w.snapshot()
	if err != nil {
		w.logger.Warn("Failed to read interface table", "error", err)
	}
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Debug("Network watcher started", "paths", w.paths, "poll_interval", w.pollInterval)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if !names[filepath.Clean(event.Name)] {
				continue
			}
			w.logger.Debug("Network file changed", "path", event.Name, "op", event.Op.String())
			onChange()

		case err, ok := <-fw.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("File watcher error", "error", err)

		case <-ticker.C:
			current, err := w.snapshot()
			if err != nil {
				w.logger.Warn("Failed to read interface table", "error", err)
				continue
			}
			if current != last {
				w.logger.Debug("Interface table changed")
				last = current
				onChange()
			}
		}
	}
}

// interfaceSnapshot renders every interface with its hardware address and
// addresses, sorted by name, so any change shows up as a different string.
func interfaceSnapshot() (string, error) {
	infos, err := listInterfaces()
	if err != nil {
		return "", err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	var sb strings.Builder
	for _, info := range infos {
		fmt.Fprintf(&sb, "%s-%s", info.Name, info.HardwareAddr)
		for _, addr := range info.Addrs {
			fmt.Fprintf(&sb, "-%s", addr)
		}
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}
