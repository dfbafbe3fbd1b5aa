package httpwire

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"adaptive-proxy/pkg/models"
)

// EndPoint is a host and port pair as it appears in request targets and
// Host headers.
type EndPoint struct {
	Host models.Site
	Port int
}

func (e EndPoint) String() string {
	return net.JoinHostPort(string(e.Host), strconv.Itoa(e.Port))
}

// IsZero reports whether the endpoint is unset.
func (e EndPoint) IsZero() bool {
	return e.Host == "" && e.Port == 0
}

// ParseEndPoint parses "host", "host:port", "[v6]" or "[v6]:port". When the
// port is absent defaultPort is used; a non-positive defaultPort makes the
// port mandatory.
func ParseEndPoint(value string, defaultPort int) (EndPoint, error) {
	host, portStr := value, ""

	switch {
	case strings.HasPrefix(value, "["):
		end := strings.IndexByte(value, ']')
		if end < 0 {
			return EndPoint{}, fmt.Errorf("invalid endpoint %q: unterminated IPv6 literal", value)
		}
		host = value[1:end]
		rest := value[end+1:]
		if rest != "" {
			if !strings.HasPrefix(rest, ":") {
				return EndPoint{}, fmt.Errorf("invalid endpoint %q", value)
			}
			portStr = rest[1:]
		}
	case strings.Count(value, ":") == 1:
		idx := strings.IndexByte(value, ':')
		host, portStr = value[:idx], value[idx+1:]
	}

	if host == "" {
		return EndPoint{}, fmt.Errorf("invalid endpoint %q: empty host", value)
	}

	port := defaultPort
	if portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil || p <= 0 || p > 65535 {
			return EndPoint{}, fmt.Errorf("invalid endpoint %q: bad port", value)
		}
		port = p
	}
	if port <= 0 {
		return EndPoint{}, fmt.Errorf("%w: %q", ErrMissingPort, value)
	}

	return EndPoint{Host: models.NewSite(host), Port: port}, nil
}
