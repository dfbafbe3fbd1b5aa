package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings is the whole configuration file.
type Settings struct {
	Inbounds       map[string]InboundSettings       `mapstructure:"inbounds" yaml:"inbounds"`
	Configurations map[string]ConfigurationSettings `mapstructure:"configurations" yaml:"configurations"`
	Queues         map[string][]string              `mapstructure:"queues" yaml:"queues"`
	Profiles       map[string]ProfileSettings       `mapstructure:"profiles" yaml:"profiles"`
	DefaultProfile string                           `mapstructure:"default_profile" yaml:"default_profile"`
	Categories     []CategorySettings               `mapstructure:"categories" yaml:"categories"`
	RouteGrid      RouteGridSettings                `mapstructure:"route_grid" yaml:"route_grid"`
	Routes         RoutesSettings                   `mapstructure:"routes" yaml:"routes"`
	Database       DatabaseSettings                 `mapstructure:"database" yaml:"database"`
	Proxy          ProxySettings                    `mapstructure:"proxy" yaml:"proxy"`
	Identity       IdentitySettings                 `mapstructure:"identity" yaml:"identity"`
	Metrics        MetricsSettings                  `mapstructure:"metrics" yaml:"metrics"`
}

// InboundSettings is one listening endpoint.
type InboundSettings struct {
	Protocol string `mapstructure:"protocol" yaml:"protocol"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
}

// ConfigurationSettings describes one outbound configuration. At most one of
// Proxy, Transport and Shadowsocks may be set; none means direct.
type ConfigurationSettings struct {
	// Proxy is an upstream proxy URL: http://host:port or socks5://host:port.
	Proxy string `mapstructure:"proxy" yaml:"proxy,omitempty"`
	// Transport is an outline-sdk transport config, e.g. ss://... or ssconfig://...
	Transport   string    `mapstructure:"transport" yaml:"transport,omitempty"`
	Shadowsocks *SSConfig `mapstructure:"shadowsocks" yaml:"shadowsocks,omitempty"`

	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty"`
	HitInterval       time.Duration `mapstructure:"hit_interval" yaml:"hit_interval,omitempty"`
	MinConsistentHits int           `mapstructure:"min_consistent_hits" yaml:"min_consistent_hits,omitempty"`
	MaxHits           int           `mapstructure:"max_hits" yaml:"max_hits,omitempty"`
}

// ProfileSettings lists the network identities that belong to a profile.
type ProfileSettings struct {
	Networks []string `mapstructure:"networks" yaml:"networks"`
}

// CategorySettings is a domain category. Domains are matched on label suffix;
// List names a file with one pattern per line.
type CategorySettings struct {
	Name    string   `mapstructure:"name" yaml:"name"`
	Domains []string `mapstructure:"domains" yaml:"domains,omitempty"`
	List    string   `mapstructure:"list" yaml:"list,omitempty"`
	Default bool     `mapstructure:"default" yaml:"default,omitempty"`
}

// RouteGridSettings maps a category to one queue per profile, in the order
// given by ProfilesOrder.
type RouteGridSettings struct {
	ProfilesOrder []string            `mapstructure:"profiles_order" yaml:"profiles_order"`
	Grid          map[string][]string `mapstructure:"grid" yaml:"grid"`
}

// Stale policies for expired routes.
const (
	StalePolicyStale    = "stale"
	StalePolicyFallback = "fallback"
)

type RoutesSettings struct {
	TTL           time.Duration `mapstructure:"ttl" yaml:"ttl"`
	StalePolicy   string        `mapstructure:"stale_policy" yaml:"stale_policy"`
	PruneSchedule string        `mapstructure:"prune_schedule" yaml:"prune_schedule"`
	Retention     time.Duration `mapstructure:"retention" yaml:"retention"`
}

// DatabaseSettings selects the durable route store. Driver is sqlite,
// postgres or memory.
type DatabaseSettings struct {
	Driver   string `mapstructure:"driver" yaml:"driver"`
	Path     string `mapstructure:"path" yaml:"path,omitempty"`
	Host     string `mapstructure:"host" yaml:"host,omitempty"`
	Port     int    `mapstructure:"port" yaml:"port,omitempty"`
	User     string `mapstructure:"user" yaml:"user,omitempty"`
	Password string `mapstructure:"password" yaml:"-"`
	DBName   string `mapstructure:"dbname" yaml:"dbname,omitempty"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode,omitempty"`
}

type ProxySettings struct {
	ClientTimeout  time.Duration `mapstructure:"client_timeout" yaml:"client_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes" yaml:"max_header_bytes"`
}

type IdentitySettings struct {
	Debounce     time.Duration `mapstructure:"debounce" yaml:"debounce"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	WatchPaths   []string      `mapstructure:"watch_paths" yaml:"watch_paths"`
	// Static replaces interface fingerprinting with a fixed identity.
	Static string `mapstructure:"static" yaml:"static,omitempty"`
}

type MetricsSettings struct {
	Listen string `mapstructure:"listen" yaml:"listen,omitempty"`
}

// SetDefaults registers default values for every optional setting.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("default_profile", "default")
	v.SetDefault("routes.ttl", time.Hour)
	v.SetDefault("routes.stale_policy", StalePolicyStale)
	v.SetDefault("routes.prune_schedule", "0 * * * *")
	v.SetDefault("routes.retention", 30*24*time.Hour)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "routes.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("proxy.client_timeout", 10*time.Second)
	v.SetDefault("proxy.max_header_bytes", 64*1024)
	v.SetDefault("identity.debounce", 3*time.Second)
	v.SetDefault("identity.poll_interval", 30*time.Second)
	v.SetDefault("identity.watch_paths", []string{"/etc/resolv.conf"})
}

// Load decodes the settings held by v, applying defaults first.
func Load(v *viper.Viper) (*Settings, error) {
	SetDefaults(v)

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	s.normalize()
	return &s, nil
}

// normalize lower-cases every name. viper lower-cases map keys, so names
// used as values must follow or they would never match.
func (s *Settings) normalize() {
	lower := func(names []string) []string {
		out := make([]string, len(names))
		for i, n := range names {
			out[i] = normalizeName(n)
		}
		return out
	}

	for name, queue := range s.Queues {
		s.Queues[name] = lower(queue)
	}
	for i := range s.Categories {
		s.Categories[i].Name = normalizeName(s.Categories[i].Name)
	}
	s.DefaultProfile = normalizeName(s.DefaultProfile)
	s.RouteGrid.ProfilesOrder = lower(s.RouteGrid.ProfilesOrder)
	for category, row := range s.RouteGrid.Grid {
		s.RouteGrid.Grid[category] = lower(row)
	}
	s.Routes.StalePolicy = normalizeName(s.Routes.StalePolicy)
	s.Database.Driver = normalizeName(s.Database.Driver)
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
