package models

import (
	"net/url"
	"time"
)

// Defaults applied to configurations that leave a field unset.
const (
	DefaultTimeout           = 10 * time.Second
	DefaultHitInterval       = 3 * time.Second
	DefaultMinConsistentHits = 3
	DefaultMaxHits           = 5
)

// NetClientConfiguration is a named outbound connection policy.
type NetClientConfiguration struct {
	Name string
	// Upstream is the proxy to go through; nil means a direct connection.
	Upstream          *url.URL
	Timeout           time.Duration
	HitInterval       time.Duration
	MinConsistentHits int
	MaxHits           int
}

// IsDirect reports whether the configuration connects without an upstream proxy.
func (c NetClientConfiguration) IsDirect() bool {
	return c.Upstream == nil
}

// UpstreamString renders the upstream for logs, "direct" when there is none.
func (c NetClientConfiguration) UpstreamString() string {
	if c.Upstream == nil {
		return "direct"
	}
	return c.Upstream.Redacted()
}

// ClientConfigurationQueue is the try order for a category/profile pair. By
// convention the last entry is the most conservative fallback.
type ClientConfigurationQueue struct {
	Name           string
	Configurations []NetClientConfiguration
}

// Last returns the conservative fallback configuration.
func (q ClientConfigurationQueue) Last() NetClientConfiguration {
	return q.Configurations[len(q.Configurations)-1]
}

// Names lists the configuration names in order.
func (q ClientConfigurationQueue) Names() []string {
	names := make([]string, len(q.Configurations))
	for i, c := range q.Configurations {
		names[i] = c.Name
	}
	return names
}
