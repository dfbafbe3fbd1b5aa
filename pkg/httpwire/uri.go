package httpwire

import (
	"fmt"
	"strings"
)

// Form is the shape of a request target.
type Form int

const (
	// FormAbsolute is "scheme://host:port/path?query", sent to proxies.
	FormAbsolute Form = iota
	// FormAuthority is "host:port", used by CONNECT.
	FormAuthority
	// FormOrigin is "/path?query"; the endpoint comes from the Host header.
	FormOrigin
)

// URI is a parsed request target.
type URI struct {
	Scheme   string
	EndPoint EndPoint
	// Path includes its leading slash; empty when the target had none.
	Path  string
	Query string
	Form  Form
}

var schemePorts = map[string]int{
	"http":  80,
	"https": 443,
}

// ParseURI parses a request target in absolute, authority or origin form.
// Origin-form targets come back with a zero EndPoint.
func ParseURI(target string) (URI, error) {
	if target == "" {
		return URI{}, fmt.Errorf("%w: empty request target", ErrInvalidStartLine)
	}

	if strings.HasPrefix(target, "/") {
		path, query := splitQuery(target)
		return URI{Path: path, Query: query, Form: FormOrigin}, nil
	}

	uri := URI{Form: FormAuthority}
	defaultPort := -1
	rest := target
	if idx := strings.Index(target, "://"); idx >= 0 {
		uri.Scheme = strings.ToLower(target[:idx])
		port, ok := schemePorts[uri.Scheme]
		if !ok {
			return URI{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, uri.Scheme)
		}
		defaultPort = port
		uri.Form = FormAbsolute
		rest = target[idx+3:]
	}

	authority, pathAndQuery := rest, ""
	if idx := strings.IndexAny(rest, "/?"); idx >= 0 {
		authority, pathAndQuery = rest[:idx], rest[idx:]
	}

	endpoint, err := ParseEndPoint(authority, defaultPort)
	if err != nil {
		return URI{}, err
	}
	uri.EndPoint = endpoint
	uri.Path, uri.Query = splitQuery(pathAndQuery)
	return uri, nil
}

func splitQuery(s string) (string, string) {
	if idx := strings.IndexByte(s, '?'); idx >= 0 {
		return s[:idx], s[idx+1:]
	}
	return s, ""
}

// WithEndPoint returns a copy of the URI addressed to endpoint.
func (u URI) WithEndPoint(endpoint EndPoint) URI {
	u.EndPoint = endpoint
	return u
}

// AsOrigin returns the URI rendered in origin form, as sent to the origin server.
func (u URI) AsOrigin() URI {
	u.Form = FormOrigin
	return u
}

// AsAbsolute returns the URI rendered in absolute form, as sent to an
// upstream HTTP proxy.
func (u URI) AsAbsolute() URI {
	if u.Scheme == "" {
		u.Scheme = "http"
	}
	u.Form = FormAbsolute
	return u
}

func (u URI) pathAndQuery() string {
	var sb strings.Builder
	if u.Path == "" {
		sb.WriteByte('/')
	} else {
		sb.WriteString(u.Path)
	}
	if u.Query != "" {
		sb.WriteByte('?')
		sb.WriteString(u.Query)
	}
	return sb.String()
}

func (u URI) String() string {
	switch u.Form {
	case FormOrigin:
		return u.pathAndQuery()
	case FormAuthority:
		return u.EndPoint.String()
	default:
		return u.Scheme + "://" + u.EndPoint.String() + u.pathAndQuery()
	}
}
