package config

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// SSConfig is a shadowsocks server in the JSON layout shadowsocks clients
// share, usable inline in a configuration entry.
type SSConfig struct {
	Server     string `json:"server" mapstructure:"server" yaml:"server"`
	ServerPort int    `json:"server_port" mapstructure:"server_port" yaml:"server_port"`
	Method     string `json:"method" mapstructure:"method" yaml:"method"`
	Password   string `json:"password" mapstructure:"password" yaml:"-"`
	Prefix     string `json:"prefix" mapstructure:"prefix" yaml:"prefix,omitempty"`
}

// BuildURL converts the SSConfig into an ss:// upstream URL.
func (c *SSConfig) BuildURL() (*url.URL, error) {
	if c.Server == "" || c.ServerPort <= 0 || c.ServerPort > 65535 {
		return nil, fmt.Errorf("shadowsocks server needs a host and a valid port")
	}
	if c.Method == "" {
		return nil, fmt.Errorf("shadowsocks server %s has no cipher method", c.Server)
	}

	// userinfo is base64("method:password")
	userInfo := base64.URLEncoding.EncodeToString([]byte(fmt.Sprintf("%s:%s", c.Method, c.Password)))

	u := &url.URL{
		Scheme: "ss",
		User:   url.User(userInfo),
		Host:   fmt.Sprintf("%s:%d", c.Server, c.ServerPort),
	}
	if c.Prefix != "" {
		q := url.Values{}
		q.Add("prefix", c.Prefix)
		u.RawQuery = q.Encode()
	}
	return u, nil
}

// ParseSSConfig parses a JSON document into an ss:// URL.
func ParseSSConfig(jsonConfig string) (*url.URL, error) {
	var config SSConfig
	if err := json.Unmarshal([]byte(jsonConfig), &config); err != nil {
		return nil, fmt.Errorf("failed to parse JSON config: %w", err)
	}
	return config.BuildURL()
}

// FetchSSConfig resolves an ssconfig:// URL by fetching it over https. The
// document may hold either an ss:// URL or the JSON layout.
func FetchSSConfig(ctx context.Context, client *http.Client, configURL string) (*url.URL, error) {
	u, err := url.Parse(configURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if u.Scheme != "ssconfig" {
		return nil, fmt.Errorf("invalid URL scheme: must be ssconfig://")
	}
	u.Scheme = "https"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch config: status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	content := strings.TrimSpace(string(body))
	if strings.HasPrefix(content, "ss://") {
		return url.Parse(content)
	}
	return ParseSSConfig(content)
}
