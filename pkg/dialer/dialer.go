package dialer

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/Jigsaw-Code/outline-sdk/transport"
	"github.com/Jigsaw-Code/outline-sdk/x/configurl"
	"golang.org/x/net/proxy"

	"adaptive-proxy/pkg/httpwire"
	"adaptive-proxy/pkg/models"
)

const maxHandshakeHeaderBytes = 16 * 1024

// Dialer opens outbound streams according to a NetClientConfiguration: direct,
// through an HTTP proxy with CONNECT, through SOCKS5, or through any transport
// configurl understands (ss://, tls:, split: ...). Safe for concurrent use.
type Dialer struct {
	base   transport.StreamDialer
	logger *slog.Logger

	mu         sync.Mutex
	transports map[string]transport.StreamDialer
}

func New(logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{
		base:       &transport.TCPDialer{Dialer: net.Dialer{KeepAlive: 30 * time.Second}},
		logger:     logger.With("component", "dialer"),
		transports: make(map[string]transport.StreamDialer),
	}
}

// DialTunnel returns a stream to target ("host:port") through cfg. The
// configuration's timeout bounds both the connect and any proxy handshake.
func (d *Dialer) DialTunnel(ctx context.Context, cfg models.NetClientConfiguration, target string) (transport.StreamConn, error) {
	ctx, cancel := withTimeout(ctx, cfg.Timeout)
	defer cancel()

	if cfg.IsDirect() {
		return d.base.DialStream(ctx, target)
	}

	switch cfg.Upstream.Scheme {
	case "http":
		conn, err := d.base.DialStream(ctx, cfg.Upstream.Host)
		if err != nil {
			return nil, fmt.Errorf("failed to reach proxy %s: %w", cfg.Upstream.Host, err)
		}
		tunnel, err := connectHandshake(ctx, conn, cfg.Upstream, target)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return tunnel, nil
	case "socks5":
		return d.dialSOCKS5(ctx, cfg.Upstream, target)
	default:
		sd, err := d.transport(cfg.Upstream)
		if err != nil {
			return nil, err
		}
		return sd.DialStream(ctx, target)
	}
}

// DialProxy connects to cfg's HTTP proxy itself, for forwarding plain HTTP
// requests in absolute form.
func (d *Dialer) DialProxy(ctx context.Context, cfg models.NetClientConfiguration) (transport.StreamConn, error) {
	if cfg.IsDirect() || cfg.Upstream.Scheme != "http" {
		return nil, fmt.Errorf("configuration %s has no HTTP proxy", cfg.Name)
	}
	ctx, cancel := withTimeout(ctx, cfg.Timeout)
	defer cancel()
	return d.base.DialStream(ctx, cfg.Upstream.Host)
}

// DialContext adapts DialTunnel to http.Transport.
func (d *Dialer) DialContext(cfg models.NetClientConfiguration) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if network != "tcp" && network != "tcp4" && network != "tcp6" {
			return nil, fmt.Errorf("protocol not supported: %v", network)
		}
		return d.DialTunnel(ctx, cfg, addr)
	}
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// ProxyAuthorization returns the Basic credentials carried by an HTTP proxy
// URL, if any.
func ProxyAuthorization(upstream *url.URL) (string, bool) {
	if upstream == nil || upstream.User == nil {
		return "", false
	}
	password, _ := upstream.User.Password()
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(upstream.User.Username()+":"+password)), true
}

func connectHandshake(ctx context.Context, conn transport.StreamConn, upstream *url.URL, target string) (transport.StreamConn, error) {
	endpoint, err := httpwire.ParseEndPoint(target, -1)
	if err != nil {
		return nil, err
	}

	headers := httpwire.NewHeaders(httpwire.Field{Name: "Host", Value: endpoint.String()})
	if auth, ok := ProxyAuthorization(upstream); ok {
		headers = headers.With("Proxy-Authorization", auth)
	}
	req := httpwire.RequestHeader{
		Method:  "CONNECT",
		URI:     httpwire.URI{EndPoint: endpoint, Form: httpwire.FormAuthority},
		Version: httpwire.HTTP11,
		Headers: headers,
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	if _, err := conn.Write([]byte(req.Serialize())); err != nil {
		return nil, fmt.Errorf("failed to send CONNECT to %s: %w", upstream.Host, err)
	}

	br := bufio.NewReader(conn)
	lines, err := httpwire.ReadRawHeader(br, maxHandshakeHeaderBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to read CONNECT reply from %s: %w", upstream.Host, err)
	}
	resp, err := httpwire.ParseResponseHeader(lines)
	if err != nil {
		return nil, &HandshakeError{Proxy: upstream.Host, Reason: err.Error()}
	}
	if resp.Code != 200 {
		return nil, &HandshakeError{Proxy: upstream.Host, Code: resp.Code, Reason: resp.Reason}
	}

	if br.Buffered() > 0 {
		return transport.WrapConn(conn, br, conn), nil
	}
	return conn, nil
}

func (d *Dialer) dialSOCKS5(ctx context.Context, upstream *url.URL, target string) (transport.StreamConn, error) {
	var auth *proxy.Auth
	if upstream.User != nil {
		password, _ := upstream.User.Password()
		auth = &proxy.Auth{User: upstream.User.Username(), Password: password}
	}

	socks, err := proxy.SOCKS5("tcp", upstream.Host, auth, forwardDialer{d.base})
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}
	conn, err := socks.(proxy.ContextDialer).DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, fmt.Errorf("SOCKS5 proxy %s: %w", upstream.Host, err)
	}
	if sc, ok := conn.(transport.StreamConn); ok {
		return sc, nil
	}
	return streamConn{conn}, nil
}

func (d *Dialer) transport(upstream *url.URL) (transport.StreamDialer, error) {
	config := upstream.String()

	d.mu.Lock()
	defer d.mu.Unlock()
	if sd, ok := d.transports[config]; ok {
		return sd, nil
	}

	configToDialer := configurl.NewDefaultConfigToDialer()
	configToDialer.BaseStreamDialer = d.base
	sd, err := configToDialer.NewStreamDialer(config)
	if err != nil {
		return nil, fmt.Errorf("could not create dialer for %s: %w", upstream.Redacted(), err)
	}
	d.transports[config] = sd
	return sd, nil
}

// forwardDialer lets the SOCKS5 client reach its server through the base dialer.
type forwardDialer struct {
	sd transport.StreamDialer
}

func (f forwardDialer) Dial(network, addr string) (net.Conn, error) {
	return f.DialContext(context.Background(), network, addr)
}

func (f forwardDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return f.sd.DialStream(ctx, addr)
}

// streamConn gives a plain net.Conn the half-close methods of a StreamConn.
type streamConn struct {
	net.Conn
}

func (c streamConn) CloseRead() error {
	return nil
}

func (c streamConn) CloseWrite() error {
	return c.Close()
}
