package httpwire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var (
	// ErrInvalidStartLine means the request or status line is missing or malformed.
	ErrInvalidStartLine = errors.New("invalid start line")
	// ErrUnsupportedScheme means an absolute-form target used a scheme other than http or https.
	ErrUnsupportedScheme = errors.New("unsupported URI scheme")
	// ErrMissingPort means a target had neither an explicit port nor a scheme default.
	ErrMissingPort = errors.New("port missing in URI")
	// ErrMissingHost means an origin-form request came without a Host header.
	ErrMissingHost = errors.New("origin-form request without Host header")
	// ErrHeaderTooLarge means the header block exceeded the read limit.
	ErrHeaderTooLarge = errors.New("header block too large")
)

// Terminator ends every HTTP/1.x header block.
const Terminator = "\r\n\r\n"

// Version is an HTTP protocol version.
type Version struct {
	Major, Minor int
}

// HTTP11 is HTTP/1.1.
var HTTP11 = Version{Major: 1, Minor: 1}

func (v Version) String() string {
	return fmt.Sprintf("HTTP/%d.%d", v.Major, v.Minor)
}

func parseVersion(s string) (Version, error) {
	rest, ok := strings.CutPrefix(s, "HTTP/")
	if !ok {
		return Version{}, fmt.Errorf("%w: bad version %q", ErrInvalidStartLine, s)
	}
	major, minor, ok := strings.Cut(rest, ".")
	if !ok {
		return Version{}, fmt.Errorf("%w: bad version %q", ErrInvalidStartLine, s)
	}
	ma, err1 := strconv.Atoi(major)
	mi, err2 := strconv.Atoi(minor)
	if err1 != nil || err2 != nil {
		return Version{}, fmt.Errorf("%w: bad version %q", ErrInvalidStartLine, s)
	}
	return Version{Major: ma, Minor: mi}, nil
}

// ReadRawHeader reads a header block up to and including the blank line that
// terminates it and returns its non-empty lines without line endings. It
// returns io.EOF when the peer closed before sending anything and
// io.ErrUnexpectedEOF when it closed mid-header. limit caps the block size;
// zero means no cap.
func ReadRawHeader(r *bufio.Reader, limit int) ([]string, error) {
	var lines []string
	read := 0
	for {
		line, err := r.ReadString('\n')
		read += len(line)
		if limit > 0 && read > limit {
			return nil, ErrHeaderTooLarge
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if read == 0 {
					return nil, io.EOF
				}
				return lines, io.ErrUnexpectedEOF
			}
			return nil, err
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if len(lines) == 0 {
				continue
			}
			return lines, nil
		}
		lines = append(lines, line)
	}
}

func serialize(startLine string, headers Headers) string {
	var sb strings.Builder
	sb.WriteString(startLine)
	sb.WriteString("\r\n")
	for _, f := range headers.fields {
		sb.WriteString(f.Name)
		sb.WriteString(": ")
		sb.WriteString(f.Value)
		sb.WriteString("\r\n")
	}
	sb.WriteString("\r\n")
	return sb.String()
}

// RequestHeader is a parsed request line plus headers.
type RequestHeader struct {
	Method  string
	URI     URI
	Version Version
	Headers Headers
}

// ParseRequestHeader parses lines returned by ReadRawHeader. Malformed header
// lines are skipped; a missing or malformed request line is an error.
// Origin-form targets take their endpoint from the Host header.
func ParseRequestHeader(lines []string) (RequestHeader, error) {
	if len(lines) == 0 {
		return RequestHeader{}, fmt.Errorf("%w: no request line", ErrInvalidStartLine)
	}

	parts := strings.SplitN(lines[0], " ", 3)
	if len(parts) != 3 || parts[0] == "" {
		return RequestHeader{}, fmt.Errorf("%w: %q", ErrInvalidStartLine, lines[0])
	}

	uri, err := ParseURI(parts[1])
	if err != nil {
		return RequestHeader{}, err
	}
	version, err := parseVersion(parts[2])
	if err != nil {
		return RequestHeader{}, err
	}
	headers := parseHeaders(lines[1:])

	if uri.Form == FormOrigin {
		host, ok := headers.Lookup("Host")
		if !ok {
			return RequestHeader{}, ErrMissingHost
		}
		endpoint, err := ParseEndPoint(host, 80)
		if err != nil {
			return RequestHeader{}, err
		}
		uri = uri.WithEndPoint(endpoint)
	}

	return RequestHeader{
		Method:  strings.ToUpper(parts[0]),
		URI:     uri,
		Version: version,
		Headers: headers,
	}, nil
}

// IsConnect reports whether the request asks for a tunnel.
func (h RequestHeader) IsConnect() bool {
	return h.Method == "CONNECT"
}

// WantsKeepAlive reports whether the client asked for a persistent
// connection through Connection or Proxy-Connection.
func (h RequestHeader) WantsKeepAlive() bool {
	for _, name := range []string{"Proxy-Connection", "Connection"} {
		if value, ok := h.Headers.Lookup(name); ok && hasToken(value, "keep-alive") {
			return true
		}
	}
	return false
}

func hasToken(value, token string) bool {
	for _, part := range strings.Split(value, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}

// Serialize renders the header block including the terminating blank line.
func (h RequestHeader) Serialize() string {
	return serialize(h.Method+" "+h.URI.String()+" "+h.Version.String(), h.Headers)
}

// ResponseHeader is a parsed status line plus headers.
type ResponseHeader struct {
	Code    int
	Reason  string
	Version Version
	Headers Headers
}

// ParseResponseHeader parses lines returned by ReadRawHeader.
func ParseResponseHeader(lines []string) (ResponseHeader, error) {
	if len(lines) == 0 {
		return ResponseHeader{}, fmt.Errorf("%w: no status line", ErrInvalidStartLine)
	}

	parts := strings.SplitN(lines[0], " ", 3)
	if len(parts) < 2 {
		return ResponseHeader{}, fmt.Errorf("%w: %q", ErrInvalidStartLine, lines[0])
	}
	version, err := parseVersion(parts[0])
	if err != nil {
		return ResponseHeader{}, err
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return ResponseHeader{}, fmt.Errorf("%w: bad status code %q", ErrInvalidStartLine, parts[1])
	}
	var reason string
	if len(parts) == 3 {
		reason = parts[2]
	}

	return ResponseHeader{
		Code:    code,
		Reason:  reason,
		Version: version,
		Headers: parseHeaders(lines[1:]),
	}, nil
}

// Serialize renders the header block including the terminating blank line.
func (h ResponseHeader) Serialize() string {
	return serialize(h.Version.String()+" "+strconv.Itoa(h.Code)+" "+h.Reason, h.Headers)
}

// ConnectionEstablished is the reply a proxy sends once a CONNECT tunnel is up.
var ConnectionEstablished = ResponseHeader{
	Code:    200,
	Reason:  "Connection established",
	Version: HTTP11,
}.Serialize()
