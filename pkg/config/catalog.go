package config

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"go.uber.org/multierr"

	"adaptive-proxy/pkg/httpwire"
	"adaptive-proxy/pkg/models"
)

var (
	ErrUnknownConfiguration = errors.New("unknown configuration")
	ErrUnknownQueue         = errors.New("unknown configuration queue")
	ErrUnknownProfile       = errors.New("unknown network profile")
	ErrUnknownCategory      = errors.New("unknown domain category")
)

// upstreamSchemes are the proxy protocols accepted in a configuration's proxy field.
var upstreamSchemes = map[string]bool{
	"http":   true,
	"socks5": true,
}

type category struct {
	category models.DomainCategory
	patterns []DomainPattern
}

// Inbound is a validated listening endpoint.
type Inbound struct {
	Name     string
	Protocol string
	Address  string
}

// Catalog resolves configurations, queues, domain categories and the route
// grid. It is read-only once built and safe for concurrent use.
type Catalog struct {
	configurations  map[string]models.NetClientConfiguration
	queues          map[string]models.ClientConfigurationQueue
	categories      []category
	defaultCategory models.DomainCategory
	// grid maps category then profile to a queue name.
	grid           map[string]map[string]string
	profiles       map[string]models.NetworkProfile
	networks       map[string]models.NetworkProfile
	defaultProfile models.NetworkProfile
	inbounds       []Inbound
}

// NewCatalog validates s and builds the catalog. Every problem found is
// reported, not only the first.
func NewCatalog(ctx context.Context, s *Settings) (*Catalog, error) {
	c := &Catalog{
		configurations: make(map[string]models.NetClientConfiguration),
		queues:         make(map[string]models.ClientConfigurationQueue),
		grid:           make(map[string]map[string]string),
		profiles:       make(map[string]models.NetworkProfile),
		networks:       make(map[string]models.NetworkProfile),
	}

	var errs error
	errs = multierr.Append(errs, c.loadInbounds(s.Inbounds))
	errs = multierr.Append(errs, c.loadConfigurations(ctx, s.Configurations))
	errs = multierr.Append(errs, c.loadQueues(s.Queues))
	errs = multierr.Append(errs, c.loadProfiles(s.Profiles, s.DefaultProfile))
	errs = multierr.Append(errs, c.loadCategories(s.Categories))
	errs = multierr.Append(errs, c.loadRouteGrid(s.RouteGrid))
	if s.Routes.StalePolicy != StalePolicyStale && s.Routes.StalePolicy != StalePolicyFallback {
		errs = multierr.Append(errs, fmt.Errorf("routes.stale_policy must be %q or %q, got %q",
			StalePolicyStale, StalePolicyFallback, s.Routes.StalePolicy))
	}
	if s.Routes.TTL <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("routes.ttl must be positive"))
	}

	if errs != nil {
		return nil, fmt.Errorf("invalid configuration: %w", errs)
	}
	return c, nil
}

func (c *Catalog) loadInbounds(inbounds map[string]InboundSettings) error {
	var errs error
	for name, in := range inbounds {
		protocol := normalizeName(in.Protocol)
		if protocol == "" {
			protocol = "http"
		}
		if protocol != "http" {
			errs = multierr.Append(errs, fmt.Errorf("inbound %s: unsupported protocol %q", name, in.Protocol))
			continue
		}
		endpoint, err := httpwire.ParseEndPoint(in.Endpoint, -1)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("inbound %s: %w", name, err))
			continue
		}
		c.inbounds = append(c.inbounds, Inbound{Name: name, Protocol: protocol, Address: endpoint.String()})
	}
	sort.Slice(c.inbounds, func(i, j int) bool { return c.inbounds[i].Name < c.inbounds[j].Name })
	return errs
}

func (c *Catalog) loadConfigurations(ctx context.Context, configurations map[string]ConfigurationSettings) error {
	if len(configurations) == 0 {
		return fmt.Errorf("no configurations defined")
	}

	var errs error
	for name, cs := range configurations {
		cfg, err := buildConfiguration(ctx, name, cs)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("configuration %s: %w", name, err))
			continue
		}
		c.configurations[name] = cfg
	}
	return errs
}

func buildConfiguration(ctx context.Context, name string, cs ConfigurationSettings) (models.NetClientConfiguration, error) {
	cfg := models.NetClientConfiguration{
		Name:              name,
		Timeout:           models.DefaultTimeout,
		HitInterval:       models.DefaultHitInterval,
		MinConsistentHits: models.DefaultMinConsistentHits,
		MaxHits:           models.DefaultMaxHits,
	}
	if cs.Timeout != 0 {
		cfg.Timeout = cs.Timeout
	}
	if cs.HitInterval != 0 {
		cfg.HitInterval = cs.HitInterval
	}
	if cs.MinConsistentHits != 0 {
		cfg.MinConsistentHits = cs.MinConsistentHits
	}
	if cs.MaxHits != 0 {
		cfg.MaxHits = cs.MaxHits
	}

	var errs error
	if cfg.Timeout < 0 || cfg.HitInterval < 0 {
		errs = multierr.Append(errs, fmt.Errorf("timeout and hit_interval must not be negative"))
	}
	if cfg.MinConsistentHits < 1 || cfg.MaxHits < 1 {
		errs = multierr.Append(errs, fmt.Errorf("min_consistent_hits and max_hits must be at least 1"))
	}
	if cfg.MinConsistentHits > cfg.MaxHits {
		errs = multierr.Append(errs, fmt.Errorf("min_consistent_hits %d exceeds max_hits %d", cfg.MinConsistentHits, cfg.MaxHits))
	}

	upstream, err := upstreamURL(ctx, cs)
	if err != nil {
		errs = multierr.Append(errs, err)
	}
	cfg.Upstream = upstream
	return cfg, errs
}

func upstreamURL(ctx context.Context, cs ConfigurationSettings) (*url.URL, error) {
	set := 0
	for _, present := range []bool{cs.Proxy != "", cs.Transport != "", cs.Shadowsocks != nil} {
		if present {
			set++
		}
	}
	if set > 1 {
		return nil, fmt.Errorf("only one of proxy, transport and shadowsocks may be set")
	}

	switch {
	case cs.Proxy != "":
		u, err := url.Parse(cs.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		if !upstreamSchemes[u.Scheme] {
			return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
		}
		if u.Hostname() == "" || u.Port() == "" {
			return nil, fmt.Errorf("proxy URL %s needs host and port", u.Redacted())
		}
		return u, nil
	case strings.HasPrefix(cs.Transport, "ssconfig://"):
		return FetchSSConfig(ctx, http.DefaultClient, cs.Transport)
	case cs.Transport != "":
		u, err := url.Parse(cs.Transport)
		if err != nil {
			return nil, fmt.Errorf("invalid transport: %w", err)
		}
		if u.Scheme == "" {
			return nil, fmt.Errorf("transport %q has no scheme", cs.Transport)
		}
		return u, nil
	case cs.Shadowsocks != nil:
		return cs.Shadowsocks.BuildURL()
	}
	return nil, nil
}

func (c *Catalog) loadQueues(queues map[string][]string) error {
	var errs error
	for name, names := range queues {
		if len(names) == 0 {
			errs = multierr.Append(errs, fmt.Errorf("queue %s is empty", name))
			continue
		}
		queue := models.ClientConfigurationQueue{Name: name}
		for _, cfgName := range names {
			cfg, ok := c.configurations[cfgName]
			if !ok {
				errs = multierr.Append(errs, fmt.Errorf("queue %s: %w %q", name, ErrUnknownConfiguration, cfgName))
				continue
			}
			queue.Configurations = append(queue.Configurations, cfg)
		}
		if len(queue.Configurations) == len(names) {
			c.queues[name] = queue
		}
	}
	return errs
}

func (c *Catalog) loadProfiles(profiles map[string]ProfileSettings, defaultProfile string) error {
	if defaultProfile == "" {
		return fmt.Errorf("default_profile is empty")
	}
	c.defaultProfile = models.NetworkProfile{Name: defaultProfile}
	c.profiles[defaultProfile] = c.defaultProfile

	var errs error
	for name, ps := range profiles {
		profile := models.NetworkProfile{Name: name}
		c.profiles[name] = profile
		for _, network := range ps.Networks {
			id := models.ParseNetworkIdentity(network)
			if id.IsZero() {
				errs = multierr.Append(errs, fmt.Errorf("profile %s: empty network identity", name))
				continue
			}
			if other, ok := c.networks[id.Key()]; ok && other != profile {
				errs = multierr.Append(errs, fmt.Errorf("network %s is listed in profiles %s and %s", id, other, profile))
				continue
			}
			c.networks[id.Key()] = profile
		}
	}
	return errs
}

func (c *Catalog) loadCategories(categories []CategorySettings) error {
	var errs error
	seen := make(map[string]bool)
	defaults := 0
	for _, cs := range categories {
		if cs.Name == "" {
			errs = multierr.Append(errs, fmt.Errorf("category without a name"))
			continue
		}
		if seen[cs.Name] {
			errs = multierr.Append(errs, fmt.Errorf("category %s defined twice", cs.Name))
			continue
		}
		seen[cs.Name] = true

		cat := category{category: models.DomainCategory{Name: cs.Name}}
		for _, d := range cs.Domains {
			p, err := ParseDomainPattern(d)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("category %s: %w", cs.Name, err))
				continue
			}
			cat.patterns = append(cat.patterns, p)
		}
		if cs.List != "" {
			patterns, err := readDomainPatternFile(cs.List)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("category %s: %w", cs.Name, err))
			}
			cat.patterns = append(cat.patterns, patterns...)
		}
		if cs.Default {
			defaults++
			c.defaultCategory = cat.category
		}
		c.categories = append(c.categories, cat)
	}
	if defaults != 1 {
		errs = multierr.Append(errs, fmt.Errorf("exactly one default category is required, found %d", defaults))
	}
	return errs
}

func (c *Catalog) loadRouteGrid(rg RouteGridSettings) error {
	var errs error
	order := rg.ProfilesOrder
	listed := make(map[string]bool)
	for _, p := range order {
		if _, ok := c.profiles[p]; !ok {
			errs = multierr.Append(errs, fmt.Errorf("route_grid: %w %q", ErrUnknownProfile, p))
		}
		listed[p] = true
	}
	for p := range c.profiles {
		if !listed[p] {
			errs = multierr.Append(errs, fmt.Errorf("route_grid: profile %s missing from profiles_order", p))
		}
	}

	for _, cat := range c.categories {
		row, ok := rg.Grid[cat.category.Name]
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf("route_grid: no row for category %s", cat.category))
			continue
		}
		if len(row) != len(order) {
			errs = multierr.Append(errs, fmt.Errorf("route_grid: category %s has %d queues for %d profiles", cat.category, len(row), len(order)))
			continue
		}
		c.grid[cat.category.Name] = make(map[string]string, len(order))
		for i, queue := range row {
			if _, ok := c.queues[queue]; !ok {
				errs = multierr.Append(errs, fmt.Errorf("route_grid: category %s: %w %q", cat.category, ErrUnknownQueue, queue))
			}
			c.grid[cat.category.Name][order[i]] = queue
		}
	}
	for name := range rg.Grid {
		if _, ok := c.grid[name]; !ok && !c.hasCategory(name) {
			errs = multierr.Append(errs, fmt.Errorf("route_grid: %w %q", ErrUnknownCategory, name))
		}
	}
	return errs
}

func (c *Catalog) hasCategory(name string) bool {
	for _, cat := range c.categories {
		if cat.category.Name == name {
			return true
		}
	}
	return false
}

// GetConfiguration resolves a configuration by name.
func (c *Catalog) GetConfiguration(name string) (models.NetClientConfiguration, error) {
	cfg, ok := c.configurations[normalizeName(name)]
	if !ok {
		return models.NetClientConfiguration{}, fmt.Errorf("%w %q", ErrUnknownConfiguration, name)
	}
	return cfg, nil
}

// GetConfigurationQueue resolves a queue by name.
func (c *Catalog) GetConfigurationQueue(name string) (models.ClientConfigurationQueue, error) {
	queue, ok := c.queues[normalizeName(name)]
	if !ok {
		return models.ClientConfigurationQueue{}, fmt.Errorf("%w %q", ErrUnknownQueue, name)
	}
	return queue, nil
}

// GetCategoryForDomain returns the first category, in file order, with a
// pattern matching site, or the default category.
func (c *Catalog) GetCategoryForDomain(site models.Site) models.DomainCategory {
	for _, cat := range c.categories {
		for _, p := range cat.patterns {
			if p.Matches(site) {
				return cat.category
			}
		}
	}
	return c.defaultCategory
}

// GetConfigurationQueueName looks up the route grid.
func (c *Catalog) GetConfigurationQueueName(profile models.NetworkProfile, cat models.DomainCategory) (string, error) {
	row, ok := c.grid[cat.Name]
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownCategory, cat)
	}
	queue, ok := row[profile.Name]
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownProfile, profile)
	}
	return queue, nil
}

// Configurations lists every configuration sorted by name.
func (c *Catalog) Configurations() []models.NetClientConfiguration {
	out := make([]models.NetClientConfiguration, 0, len(c.configurations))
	for _, cfg := range c.configurations {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Inbounds lists the listening endpoints sorted by name.
func (c *Catalog) Inbounds() []Inbound {
	return append([]Inbound(nil), c.inbounds...)
}

// Profile resolves a profile by name.
func (c *Catalog) Profile(name string) (models.NetworkProfile, error) {
	p, ok := c.profiles[normalizeName(name)]
	if !ok {
		return models.NetworkProfile{}, fmt.Errorf("%w %q", ErrUnknownProfile, name)
	}
	return p, nil
}

// DefaultProfile is used on networks no profile lists.
func (c *Catalog) DefaultProfile() models.NetworkProfile {
	return c.defaultProfile
}

// ProfileForIdentity returns the profile listing id among its networks, or
// the default profile.
func (c *Catalog) ProfileForIdentity(id models.NetworkIdentity) models.NetworkProfile {
	if p, ok := c.networks[id.Key()]; ok {
		return p
	}
	return c.defaultProfile
}
