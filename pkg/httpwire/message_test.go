package httpwire

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestConnectionEstablished(t *testing.T) {
	want := "HTTP/1.1 200 Connection established\r\n\r\n"
	if ConnectionEstablished != want {
		t.Errorf("ConnectionEstablished = %q, want %q", ConnectionEstablished, want)
	}
}

func TestReadRawHeader(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		limit   int
		want    []string
		wantErr error
	}{
		{
			name:  "complete header",
			input: "GET / HTTP/1.1\r\nHost: example.com\r\n\r\nbody",
			want:  []string{"GET / HTTP/1.1", "Host: example.com"},
		},
		{
			name:  "leading blank lines skipped",
			input: "\r\n\r\nGET / HTTP/1.1\r\n\r\n",
			want:  []string{"GET / HTTP/1.1"},
		},
		{
			name:    "closed before anything",
			input:   "",
			wantErr: io.EOF,
		},
		{
			name:    "closed mid header",
			input:   "GET / HTTP/1.1\r\nHost: exa",
			wantErr: io.ErrUnexpectedEOF,
		},
		{
			name:    "over limit",
			input:   "GET / HTTP/1.1\r\nX-Long: " + strings.Repeat("a", 100) + "\r\n\r\n",
			limit:   64,
			wantErr: ErrHeaderTooLarge,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadRawHeader(bufio.NewReader(strings.NewReader(tt.input)), tt.limit)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ReadRawHeader() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadRawHeader() error = %v", err)
			}
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("ReadRawHeader() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReadRawHeaderLeavesBody(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("POST / HTTP/1.1\r\nHost: a\r\n\r\npayload"))
	if _, err := ReadRawHeader(r, 0); err != nil {
		t.Fatalf("ReadRawHeader() error = %v", err)
	}
	rest, _ := io.ReadAll(r)
	if string(rest) != "payload" {
		t.Errorf("remaining = %q, want %q", rest, "payload")
	}
}

func TestParseRequestHeader(t *testing.T) {
	lines := []string{
		"get /path?x=1 HTTP/1.1",
		"Host: Example.com:8080",
		"bogus line",
		"Proxy-Connection: Keep-Alive",
		"X-Dup: 1",
		"X-Dup: 2",
	}

	req, err := ParseRequestHeader(lines)
	if err != nil {
		t.Fatalf("ParseRequestHeader() error = %v", err)
	}
	if req.Method != "GET" {
		t.Errorf("Method = %q, want GET", req.Method)
	}
	if req.URI.EndPoint.String() != "example.com:8080" {
		t.Errorf("EndPoint = %v", req.URI.EndPoint)
	}
	if req.Headers.Len() != 5 {
		t.Errorf("Headers.Len() = %d, want 5", req.Headers.Len())
	}
	if _, ok := req.Headers.Single("X-Dup"); ok {
		t.Errorf("Single(X-Dup) succeeded on a repeated header")
	}
	if !req.WantsKeepAlive() {
		t.Errorf("WantsKeepAlive() = false, want true")
	}
	if req.IsConnect() {
		t.Errorf("IsConnect() = true for GET")
	}

	want := "GET /path?x=1 HTTP/1.1\r\nHost: Example.com:8080\r\nProxy-Connection: Keep-Alive\r\nX-Dup: 1\r\nX-Dup: 2\r\n\r\n"
	if got := req.Serialize(); got != want {
		t.Errorf("Serialize() = %q, want %q", got, want)
	}
}

func TestParseRequestHeaderErrors(t *testing.T) {
	tests := []struct {
		name    string
		lines   []string
		wantErr error
	}{
		{name: "no lines", lines: nil, wantErr: ErrInvalidStartLine},
		{name: "two part request line", lines: []string{"GET /"}, wantErr: ErrInvalidStartLine},
		{name: "bad version", lines: []string{"GET / HTTX/1.1", "Host: a"}, wantErr: ErrInvalidStartLine},
		{name: "origin without host", lines: []string{"GET / HTTP/1.1"}, wantErr: ErrMissingHost},
		{name: "unsupported scheme", lines: []string{"GET gopher://a/ HTTP/1.1"}, wantErr: ErrUnsupportedScheme},
	}

	for _, tt := range tests {
		if _, err := ParseRequestHeader(tt.lines); !errors.Is(err, tt.wantErr) {
			t.Errorf("%s: error = %v, want %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestParseResponseHeader(t *testing.T) {
	resp, err := ParseResponseHeader([]string{"HTTP/1.0 407 Proxy Authentication Required", "Proxy-Authenticate: Basic"})
	if err != nil {
		t.Fatalf("ParseResponseHeader() error = %v", err)
	}
	if resp.Code != 407 || resp.Reason != "Proxy Authentication Required" {
		t.Errorf("got %d %q", resp.Code, resp.Reason)
	}
	if resp.Version != (Version{Major: 1, Minor: 0}) {
		t.Errorf("Version = %v", resp.Version)
	}

	resp, err = ParseResponseHeader([]string{"HTTP/1.1 200"})
	if err != nil {
		t.Fatalf("ParseResponseHeader() without reason error = %v", err)
	}
	if resp.Code != 200 || resp.Reason != "" {
		t.Errorf("got %d %q", resp.Code, resp.Reason)
	}

	if _, err := ParseResponseHeader([]string{"HTTP/1.1 abc OK"}); !errors.Is(err, ErrInvalidStartLine) {
		t.Errorf("bad code error = %v", err)
	}
}

func TestHeadersWithout(t *testing.T) {
	h := NewHeaders(
		Field{Name: "Host", Value: "a"},
		Field{Name: "proxy-connection", Value: "keep-alive"},
		Field{Name: "Connection", Value: "keep-alive"},
	)
	got := h.Without("Proxy-Connection", "connection").With("Connection", "close")

	fields := got.Fields()
	if len(fields) != 2 || fields[0].Name != "Host" || fields[1] != (Field{Name: "Connection", Value: "close"}) {
		t.Errorf("Fields() = %v", fields)
	}
	if h.Len() != 3 {
		t.Errorf("original modified: Len() = %d", h.Len())
	}
}
